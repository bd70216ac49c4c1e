// Package app assembles a pipeline from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ollama/ollama/api"

	"segrag/internal/chunker"
	"segrag/internal/config"
	"segrag/internal/domain"
	"segrag/internal/embedding"
	"segrag/internal/embedding/hashing"
	ollamaembed "segrag/internal/embedding/ollama"
	openaiembed "segrag/internal/embedding/openai"
	"segrag/internal/idpool"
	ollamachat "segrag/internal/llm/ollama"
	openaichat "segrag/internal/llm/openai"
	"segrag/internal/pipeline"
	"segrag/internal/segmenter"
	"segrag/internal/tokenizer"
	"segrag/internal/vectorstore"
	"segrag/internal/vectorstore/bolt"
	"segrag/internal/vectorstore/memory"
	"segrag/internal/vectorstore/postgres"
	"segrag/internal/vectorstore/qdrant"
	"segrag/internal/vectorstore/qdrantgrpc"
)

// App owns the assembled service and the store it must close.
type App struct {
	Service *pipeline.Service
	Store   vectorstore.Storage
}

func (a *App) Close() error {
	return a.Store.Close()
}

// Build wires every component named by cfg. The store connection is the
// only resource that needs closing.
func Build(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	enc, err := tokenizer.NewTiktoken(cfg.Chunker.Encoding)
	if err != nil {
		return nil, err
	}
	ch := chunker.NewTokenChunker(enc, cfg.Chunker.MaxTokens)

	var ollamaClient *api.Client
	if cfg.LLM.Ollama != nil {
		ollamaClient, err = ollamachat.NewAPIClient(ollamachat.Config{
			Host:    cfg.LLM.Ollama.Host,
			Timeout: time.Duration(cfg.LLM.Ollama.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, err
		}
	}

	seg, err := NewSegmenter(cfg, ollamaClient, logger)
	if err != nil {
		return nil, err
	}
	emb, err := NewEmbedder(cfg, ollamaClient)
	if err != nil {
		return nil, err
	}
	store, err := NewStore(ctx, cfg.VectorStore)
	if err != nil {
		return nil, err
	}

	distance, _ := domain.ParseDistance(cfg.VectorStore.Distance)
	strategy, err := idpool.ParseStrategy(cfg.IDPool.Strategy)
	if err != nil {
		store.Close()
		return nil, err
	}
	svc := pipeline.New(ch, seg, emb, store, pipeline.Options{
		Collection:          cfg.VectorStore.Collection,
		Distance:            distance,
		IDStrategy:          strategy,
		IDOptions:           idpool.Options{Start: cfg.IDPool.Start, Seed: cfg.IDPool.Seed},
		PoolSize:            cfg.IDPool.Size,
		MaxSegmentsPerChunk: cfg.Segmenter.MaxSegmentsPerChunk,
		EmbedBatchSize:      cfg.Embedder.BatchSize,
		CallTimeout:         time.Duration(cfg.Pipeline.CallTimeoutSecs) * time.Second,
		MaxRetries:          cfg.Pipeline.MaxRetries,
	}, logger)
	return &App{Service: svc, Store: store}, nil
}

func NewSegmenter(cfg *config.AppConfig, ollamaClient *api.Client, logger *slog.Logger) (segmenter.Segmenter, error) {
	sc := cfg.Segmenter
	switch sc.Type {
	case "sentence":
		return segmenter.NewSentence(sc.SentencesPerSegment), nil
	case "llm":
	default:
		return nil, fmt.Errorf("unknown segmenter: %s", sc.Type)
	}
	policy, err := segmenter.ParseEmptyPolicy(sc.EmptySegments)
	if err != nil {
		return nil, err
	}
	segCfg := segmenter.Config{
		Model:           sc.Model,
		MaxOutputTokens: sc.MaxOutputTokens,
		Delimiter:       sc.Delimiter,
		EmptyPolicy:     policy,
		Context:         sc.Context,
	}
	switch sc.Provider {
	case "openai":
		if cfg.LLM.OpenAI == nil {
			return nil, fmt.Errorf("openai llm config missing")
		}
		client, err := openaichat.NewClient(openaichat.Config{
			BaseURL:   cfg.LLM.OpenAI.BaseURL,
			APIKeyEnv: cfg.LLM.OpenAI.APIKeyEnv,
			Timeout:   time.Duration(cfg.LLM.OpenAI.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("openai chat init failed: %w", err)
		}
		return segmenter.NewLLM(client, segCfg, logger), nil
	case "ollama":
		if ollamaClient == nil {
			return nil, fmt.Errorf("ollama llm config missing")
		}
		return segmenter.NewLLM(ollamachat.NewClient(ollamaClient), segCfg, logger), nil
	}
	return nil, fmt.Errorf("unknown segmenter provider: %s", sc.Provider)
}

func NewEmbedder(cfg *config.AppConfig, ollamaClient *api.Client) (embedding.Embedder, error) {
	ec := cfg.Embedder
	switch ec.Type {
	case "hashing":
		return hashing.NewEmbedder(ec.Dimension), nil
	case "openai":
		if cfg.LLM.OpenAI == nil {
			return nil, fmt.Errorf("openai llm config missing")
		}
		client, err := openaiembed.NewClient(openaiembed.Config{
			BaseURL:    cfg.LLM.OpenAI.BaseURL,
			APIKeyEnv:  cfg.LLM.OpenAI.APIKeyEnv,
			Model:      ec.Model,
			Timeout:    time.Duration(cfg.LLM.OpenAI.TimeoutSecs) * time.Second,
			Dimension:  ec.Dimension,
			MaxRetries: ec.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	case "ollama":
		if ollamaClient == nil {
			return nil, fmt.Errorf("ollama llm config missing")
		}
		return ollamaembed.NewEmbedder(ollamaClient, ec.Model, ec.Dimension), nil
	}
	return nil, fmt.Errorf("unknown embedder: %s", ec.Type)
}

func NewStore(ctx context.Context, vc config.VectorStoreConfig) (vectorstore.Storage, error) {
	switch vc.Type {
	case "memory":
		return memory.NewStorage(), nil
	case "qdrant":
		if vc.Qdrant == nil {
			return nil, fmt.Errorf("qdrant config missing")
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:     vc.Qdrant.URL,
			APIKey:  os.Getenv(vc.Qdrant.APIKeyEnv),
			Timeout: time.Duration(vc.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	case "qdrant_grpc":
		if vc.QdrantGRPC == nil {
			return nil, fmt.Errorf("qdrant_grpc config missing")
		}
		return qdrantgrpc.NewStorage(qdrantgrpc.Config{
			Host:   vc.QdrantGRPC.Host,
			Port:   vc.QdrantGRPC.Port,
			APIKey: os.Getenv(vc.QdrantGRPC.APIKeyEnv),
		})
	case "bolt":
		if vc.Bolt == nil {
			return nil, fmt.Errorf("bolt config missing")
		}
		return bolt.NewStorage(vc.Bolt.Path)
	case "postgres":
		if vc.Postgres == nil {
			return nil, fmt.Errorf("postgres config missing")
		}
		dsn := os.Getenv(vc.Postgres.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("missing database url in env %s", vc.Postgres.DSNEnv)
		}
		return postgres.NewStorage(ctx, dsn)
	}
	return nil, fmt.Errorf("unknown vector store: %s", vc.Type)
}
