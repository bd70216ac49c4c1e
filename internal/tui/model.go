package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"segrag/internal/domain"
)

// Querier is the TUI-facing subset of the pipeline.
type Querier interface {
	Query(ctx context.Context, question string, k int) ([]domain.ScoredPoint, error)
}

type resultsMsg struct {
	question string
	hits     []domain.ScoredPoint
	err      error
	took     time.Duration
}

// Model is the Bubble Tea model for the query screen.
type Model struct {
	service   Querier
	k         int
	input     textinput.Model
	viewport  viewport.Model
	results   []domain.ScoredPoint
	subtitle  string
	status    string
	cursor    int
	ready     bool
	searching bool
	lastQuery string
}

// New creates a query screen returning k hits per question. The subtitle is
// shown under the header, e.g. the collection name and size.
func New(service Querier, k int, subtitle string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	if k <= 0 {
		k = 5
	}
	return Model{service: service, k: k, input: ti, viewport: vp, subtitle: subtitle, status: "Ready. Type to search."}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) query(q string) tea.Cmd {
	return func() tea.Msg {
		started := time.Now()
		hits, err := m.service.Query(context.Background(), q, m.k)
		return resultsMsg{question: q, hits: hits, err: err, took: time.Since(started)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header, subtitle, status, spacer
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case resultsMsg:
		m.searching = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.results = nil
		} else {
			m.status = fmt.Sprintf("%d results for %q in %s", len(msg.hits), msg.question, msg.took.Round(time.Millisecond))
			m.results = msg.hits
			m.cursor = 0
			m.lastQuery = msg.question
		}
		m.viewport.SetContent(m.renderCurrentResult())
		m.viewport.GotoTop()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.searching {
				m.searching = true
				m.status = "Searching..."
				return m, m.query(q)
			}
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "pgdown", "pgup":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("segrag")
	subtitle := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.subtitle)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + subtitle + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Result %d/%d  id=%d  score=%.3f", m.cursor+1, len(m.results), r.ID, r.Score)
	if src, ok := r.Payload[domain.PayloadSource].(string); ok && src != "" {
		title += "  " + metaStyle.Render(src)
	}
	body := wrap(highlightBestSentence(r.Text(), m.lastQuery), m.viewport.Width)
	return title + "\n\n" + body
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	metaStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func wrap(s string, width int) string {
	if width <= 4 {
		return s
	}
	return lipgloss.NewStyle().Width(width - 4).Render(s)
}
