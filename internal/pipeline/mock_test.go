package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/relgraph/internal/config"
	"github.com/sells-group/relgraph/internal/cost"
	"github.com/sells-group/relgraph/internal/mailstore"
	"github.com/sells-group/relgraph/internal/model"
	"github.com/sells-group/relgraph/internal/prioritize"
	"github.com/sells-group/relgraph/internal/resilience"
	"github.com/sells-group/relgraph/internal/store"
	"github.com/sells-group/relgraph/pkg/anthropic"
)

// --- Anthropic mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// --- In-memory mail index ---

type memMail struct {
	msgs []model.Message
}

var _ mailstore.Store = (*memMail)(nil)

func (m *memMail) MessagesFor(_ context.Context, addr string, limit int) ([]model.MessageSummary, error) {
	var out []model.MessageSummary
	for _, msg := range m.msgs {
		hit := msg.FromAddress == addr
		for _, r := range msg.Recipients() {
			hit = hit || r == addr
		}
		if hit {
			out = append(out, model.MessageSummary{ID: msg.ID, Subject: msg.Subject, Date: msg.Date, FromAddress: msg.FromAddress})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memMail) Each(ctx context.Context, fn func(model.Message) error) error {
	for _, msg := range m.msgs {
		if err := fn(msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *memMail) FetchBody(_ context.Context, id string) (*model.MessageBody, error) {
	return &model.MessageBody{Plain: "body of " + id}, nil
}

func (m *memMail) Close() error { return nil }

// exchange adds one outbound and one inbound message with addr.
func (m *memMail) exchange(addr string, day int) {
	d := time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC)
	m.msgs = append(m.msgs,
		model.Message{ID: addr + "-out", FromAddress: "me@example.com", To: []string{addr}, Subject: "hello", Date: d},
		model.Message{ID: addr + "-in", FromAddress: addr, To: []string{"me@example.com"}, Subject: "re: hello", Date: d.Add(time.Hour)},
	)
}

// --- Body resolver stub ---

type stubBodies struct{}

func (stubBodies) Resolve(_ context.Context, id string) string { return "text " + id }

// --- Scripted extractor ---

type scriptedExtractor struct {
	mu    sync.Mutex
	costs map[string]float64
	errs  map[string]error
	// hang blocks the call until its context is done.
	hang map[string]bool
	// flaky fails the first call for a contact with a transient error.
	flaky  map[string]bool
	calls  []string
	times  []time.Time
	onCall func(email string)
}

func (s *scriptedExtractor) Extract(ctx context.Context, c Contact, msgs []model.MessageExcerpt) (*Extraction, error) {
	s.mu.Lock()
	s.calls = append(s.calls, c.Email)
	s.times = append(s.times, time.Now())
	first := s.flaky[c.Email]
	delete(s.flaky, c.Email)
	s.mu.Unlock()
	if s.onCall != nil {
		s.onCall(c.Email)
	}
	if s.hang[c.Email] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if first {
		return nil, resilience.NewTransientError(errors.New("overloaded"), 529)
	}
	if err := s.errs[c.Email]; err != nil {
		if err == ErrUnparsable {
			return &Extraction{Model: "test-model", Usage: model.Usage{InputTokens: 100, OutputTokens: 10, CostUSD: s.costs[c.Email]}}, err
		}
		return nil, err
	}
	company := "Co of " + c.Email
	cost := 1.0
	if v, ok := s.costs[c.Email]; ok {
		cost = v
	}
	return &Extraction{
		Model:  "test-model",
		Result: model.ExtractionResult{Company: &company, Topics: []string{"deals"}, Confidence: 0.9},
		Usage:  model.Usage{InputTokens: 1000, OutputTokens: 50, CostUSD: cost},
	}, nil
}

// --- Harness ---

type harness struct {
	mail   *memMail
	cache  *store.SQLiteStore
	ext    *scriptedExtractor
	runner *Runner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith lets a test adjust the extract config before the runner is
// built.
func newHarnessWith(t *testing.T, adjust func(*config.ExtractConfig)) *harness {
	t.Helper()
	cache, err := store.NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() }) //nolint:errcheck
	require.NoError(t, cache.Migrate(context.Background()))

	h := &harness{
		mail:  &memMail{},
		cache: cache,
		ext: &scriptedExtractor{
			costs: map[string]float64{},
			errs:  map[string]error{},
			hang:  map[string]bool{},
			flaky: map[string]bool{},
		},
	}
	cfg := config.ExtractConfig{
		MessagesPerContact:    3,
		BodyChars:             2000,
		CallTimeoutSecs:       5,
		MaxAttempts:           1,
		EstimatedInputTokens:  1800,
		EstimatedOutputTokens: 120,
	}
	if adjust != nil {
		adjust(&cfg)
	}
	h.runner = NewRunner(Deps{
		Mail:        h.mail,
		Bodies:      stubBodies{},
		Cache:       cache,
		Extractor:   h.ext,
		Prioritizer: prioritize.New(nil),
		Identity:    model.NewIdentity([]string{"me@example.com"}, nil),
		Calc:        cost.NewCalculator(cost.DefaultRates()),
		Model:       "claude-haiku-4-5-20251001",
	}, cfg)
	return h
}
