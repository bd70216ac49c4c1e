package qdrantgrpc

import (
	"context"
	"errors"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"segrag/internal/domain"
)

type Config struct {
	Host   string
	Port   int
	APIKey string
}

// Storage talks to Qdrant over its gRPC API.
type Storage struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

func NewStorage(cfg Config) (*Storage, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}
	conn, err := grpc.NewClient(fmt.Sprintf("%s:%d", host, port), opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}
	return &Storage{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (s *Storage) CreateCollection(ctx context.Context, name string, dimension int, distance domain.Distance) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: toDistance(distance),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

func (s *Storage) DeleteCollection(ctx context.Context, name string) error {
	resp, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil {
		return wrap(name, err)
	}
	if !resp.GetResult() {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	return nil
}

func (s *Storage) CollectionInfo(ctx context.Context, name string) (domain.CollectionInfo, error) {
	resp, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		return domain.CollectionInfo{}, wrap(name, err)
	}
	result := resp.GetResult()
	params := result.GetConfig().GetParams().GetVectorsConfig().GetParams()
	return domain.CollectionInfo{
		Name:        name,
		PointsCount: result.GetPointsCount(),
		Dimension:   int(params.GetSize()),
		Distance:    fromDistance(params.GetDistance()),
	}, nil
}

func (s *Storage) Upsert(ctx context.Context, collection string, points []domain.Point) error {
	wire := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		payload, err := toPayload(p.Payload)
		if err != nil {
			return fmt.Errorf("point %d: %w", p.ID, err)
		}
		wire[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: p.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}},
			},
			Payload: payload,
		}
	}
	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         wire,
	})
	if err != nil {
		return wrap(collection, err)
	}
	return nil
}

// Search never returns stored vectors; WithVector is ignored.
func (s *Storage) Search(ctx context.Context, collection string, req domain.SearchRequest) ([]domain.ScoredPoint, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         req.Vector,
		Limit:          uint64(req.Limit),
		Filter:         toFilter(req.Filter),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, wrap(collection, err)
	}
	hits := make([]domain.ScoredPoint, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		hits = append(hits, domain.ScoredPoint{
			ID:      r.GetId().GetNum(),
			Score:   r.GetScore(),
			Payload: fromPayload(r.GetPayload()),
		})
	}
	return hits, nil
}

func (s *Storage) Close() error {
	return s.conn.Close()
}

func wrap(name string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s: %v", domain.ErrCollectionNotFound, name, err)
	}
	return err
}

func toDistance(d domain.Distance) pb.Distance {
	switch d {
	case domain.DistanceDot:
		return pb.Distance_Dot
	case domain.DistanceEuclid:
		return pb.Distance_Euclid
	default:
		return pb.Distance_Cosine
	}
}

func fromDistance(d pb.Distance) domain.Distance {
	switch d {
	case pb.Distance_Dot:
		return domain.DistanceDot
	case pb.Distance_Euclid:
		return domain.DistanceEuclid
	default:
		return domain.DistanceCosine
	}
}

func toPayload(payload map[string]any) (map[string]*pb.Value, error) {
	out := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		switch x := v.(type) {
		case string:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: x}}
		case int:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(x)}}
		case int64:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: x}}
		case float64:
			out[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: x}}
		case bool:
			out[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: x}}
		default:
			return nil, fmt.Errorf("unsupported payload type %T for key %q", v, k)
		}
	}
	return out, nil
}

func fromPayload(payload map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch x := v.GetKind().(type) {
		case *pb.Value_StringValue:
			out[k] = x.StringValue
		case *pb.Value_IntegerValue:
			out[k] = x.IntegerValue
		case *pb.Value_DoubleValue:
			out[k] = x.DoubleValue
		case *pb.Value_BoolValue:
			out[k] = x.BoolValue
		}
	}
	return out
}

func toFilter(f domain.Filter) *pb.Filter {
	if len(f) == 0 {
		return nil
	}
	must := make([]*pb.Condition, 0, len(f))
	for k, v := range f {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   k,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v}},
				},
			},
		})
	}
	return &pb.Filter{Must: must}
}
