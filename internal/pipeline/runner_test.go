package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/relgraph/internal/config"
	"github.com/sells-group/relgraph/internal/model"
)

func TestRun_StopsBeforeCrossingBudget(t *testing.T) {
	h := newHarness(t)
	for i, e := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		h.mail.exchange(e, i+1)
		h.ext.costs[e] = 10
	}

	run, err := h.runner.Run(context.Background(), RunOptions{BudgetUSD: 15})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, model.StopBudget, run.StopReason)
	assert.Equal(t, 1, run.Processed)
	assert.InDelta(t, 10, run.TotalCost, 1e-9)
	assert.Len(t, h.ext.calls, 1)
}

func TestRun_Exhausted(t *testing.T) {
	h := newHarness(t)
	h.mail.exchange("a@x.com", 1)
	h.mail.exchange("b@x.com", 2)

	run, err := h.runner.Run(context.Background(), RunOptions{BudgetUSD: 100})
	require.NoError(t, err)
	assert.Equal(t, model.StopExhausted, run.StopReason)
	assert.Equal(t, 2, run.Processed)
	assert.Equal(t, 2*1050, run.TotalTokens)

	rec, err := h.cache.GetExtraction(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, run.ID, rec.RunID)
	assert.Equal(t, []string{"a@x.com-in", "a@x.com-out"}, rec.SourceMessageIDs)
	assert.Equal(t, []string{"deals"}, rec.Topics)
}

func TestRun_ResumeSkipsExtracted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mail.exchange("a@x.com", 1)
	h.mail.exchange("b@x.com", 2)
	require.NoError(t, h.cache.SaveExtraction(ctx, &model.ExtractionRecord{Email: "a@x.com"}))

	run, err := h.runner.Run(ctx, RunOptions{BudgetUSD: 100, Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Processed)
	assert.Equal(t, []string{"b@x.com"}, h.ext.calls)

	// Without resume every candidate is processed again.
	h.ext.calls = nil
	_, err = h.runner.Run(ctx, RunOptions{BudgetUSD: 100})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, h.ext.calls)
}

func TestRun_FailureSavesEmptyAtZeroCost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mail.exchange("a@x.com", 1)
	h.ext.errs["a@x.com"] = errors.New("api down")

	run, err := h.runner.Run(ctx, RunOptions{BudgetUSD: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Processed)
	assert.Zero(t, run.TotalCost)

	rec, err := h.cache.GetExtraction(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Nil(t, rec.Company)
	assert.Empty(t, rec.Topics)
}

func TestRun_UnparsableCountsCost(t *testing.T) {
	h := newHarness(t)
	h.mail.exchange("a@x.com", 1)
	h.ext.errs["a@x.com"] = ErrUnparsable
	h.ext.costs["a@x.com"] = 0.25

	run, err := h.runner.Run(context.Background(), RunOptions{BudgetUSD: 5})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, run.TotalCost, 1e-9)
	assert.Equal(t, 110, run.TotalTokens)
}

func TestRun_Interrupted(t *testing.T) {
	h := newHarness(t)
	for i, e := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		h.mail.exchange(e, 10-i)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.ext.onCall = func(string) {
		if len(h.ext.calls) == 2 {
			cancel()
		}
	}

	run, err := h.runner.Run(ctx, RunOptions{BudgetUSD: 100})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, model.StopInterrupted, run.StopReason)
	assert.Equal(t, 1, run.Processed, "in-flight contact is discarded")
}

func TestRun_ResumeAfterInterruptContinuesFromNextContact(t *testing.T) {
	h := newHarness(t)
	for i, e := range []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"} {
		h.mail.exchange(e, i+1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.ext.onCall = func(string) {
		if len(h.ext.calls) == 3 {
			cancel()
		}
	}

	first, err := h.runner.Run(ctx, RunOptions{BudgetUSD: 100})
	require.NoError(t, err)
	assert.Equal(t, model.StopInterrupted, first.StopReason)
	assert.Equal(t, 2, first.Processed)
	require.Len(t, h.ext.calls, 3)
	committed, inFlight := h.ext.calls[:2], h.ext.calls[2]

	extracted, err := h.cache.ExtractedEmails(context.Background())
	require.NoError(t, err)
	assert.Len(t, extracted, 2)
	for _, e := range committed {
		assert.True(t, extracted[e], "%s committed before the interrupt", e)
	}
	assert.False(t, extracted[inFlight], "in-flight contact is not committed")

	h.ext.onCall = nil
	h.ext.calls = nil
	second, err := h.runner.Run(context.Background(), RunOptions{BudgetUSD: 100, Resume: true})
	require.NoError(t, err)
	assert.Equal(t, model.StopExhausted, second.StopReason)
	assert.Equal(t, 2, second.Processed)
	require.Len(t, h.ext.calls, 2)
	assert.Equal(t, inFlight, h.ext.calls[0], "resume starts with the discarded contact")
	for _, e := range committed {
		assert.NotContains(t, h.ext.calls, e)
	}
}

func TestRun_TimedOutCallSavesEmptyAndContinues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i, e := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		h.mail.exchange(e, i+1)
	}
	h.ext.hang["b@x.com"] = true
	h.runner.callTimeout = 50 * time.Millisecond

	run, err := h.runner.Run(ctx, RunOptions{BudgetUSD: 100})
	require.NoError(t, err)
	assert.Equal(t, model.StopExhausted, run.StopReason)
	assert.Equal(t, 3, run.Processed)
	assert.InDelta(t, 2, run.TotalCost, 1e-9)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com", "c@x.com"}, h.ext.calls)

	rec, err := h.cache.GetExtraction(ctx, "b@x.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Nil(t, rec.Company)
	assert.Empty(t, rec.Topics)
	assert.Zero(t, rec.CostUSD)
	assert.Zero(t, rec.InputTokens)
}

func TestRun_CallsAreSpacedByInterval(t *testing.T) {
	const interval = 100 * time.Millisecond
	h := newHarnessWith(t, func(c *config.ExtractConfig) { c.CallIntervalMs = int(interval / time.Millisecond) })
	for i, e := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		h.mail.exchange(e, i+1)
	}

	_, err := h.runner.Run(context.Background(), RunOptions{BudgetUSD: 100})
	require.NoError(t, err)
	require.Len(t, h.ext.times, 3)
	for i := 1; i < len(h.ext.times); i++ {
		gap := h.ext.times[i].Sub(h.ext.times[i-1])
		assert.GreaterOrEqual(t, gap, interval-10*time.Millisecond, "gap %d was %s", i, gap)
	}
}

func TestRun_RetriesWaitOnInterval(t *testing.T) {
	const interval = 100 * time.Millisecond
	h := newHarnessWith(t, func(c *config.ExtractConfig) {
		c.CallIntervalMs = int(interval / time.Millisecond)
		c.MaxAttempts = 2
	})
	h.runner.retry.InitialBackoff = time.Millisecond
	h.runner.retry.MaxBackoff = time.Millisecond
	h.runner.retry.Jitter = 0
	h.mail.exchange("a@x.com", 1)
	h.ext.flaky["a@x.com"] = true

	run, err := h.runner.Run(context.Background(), RunOptions{BudgetUSD: 100})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Processed)
	assert.InDelta(t, 1, run.TotalCost, 1e-9, "second attempt succeeded")

	require.Len(t, h.ext.times, 2)
	gap := h.ext.times[1].Sub(h.ext.times[0])
	assert.GreaterOrEqual(t, gap, interval-10*time.Millisecond, "retry came after %s", gap)
}

func TestRun_NoMessagesIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.mail.exchange("a@x.com", 1)
	h.runner.deps.Mail = &emptyLookup{h.mail}

	run, err := h.runner.Run(context.Background(), RunOptions{BudgetUSD: 5})
	require.NoError(t, err)
	assert.Equal(t, 0, run.Processed)
	assert.Equal(t, 1, run.Skipped)
	assert.Empty(t, h.ext.calls)
}

type emptyLookup struct{ *memMail }

func (emptyLookup) MessagesFor(context.Context, string, int) ([]model.MessageSummary, error) {
	return nil, nil
}

func TestRun_RejectsNonPositiveBudget(t *testing.T) {
	h := newHarness(t)
	_, err := h.runner.Run(context.Background(), RunOptions{BudgetUSD: 0})
	assert.Error(t, err)
}

func TestOverBudget(t *testing.T) {
	r := &Runner{}
	assert.False(t, r.overBudget(&model.BudgetRun{BudgetUSD: 15}))
	assert.True(t, r.overBudget(&model.BudgetRun{BudgetUSD: 15, TotalCost: 15, Processed: 2}))
	assert.True(t, r.overBudget(&model.BudgetRun{BudgetUSD: 15, TotalCost: 10, Processed: 1}))
	assert.False(t, r.overBudget(&model.BudgetRun{BudgetUSD: 15, TotalCost: 4, Processed: 2}))
	// Zero-cost failures pull the projection down.
	assert.False(t, r.overBudget(&model.BudgetRun{BudgetUSD: 15, TotalCost: 10, Processed: 3}))
}

func TestExtractOne(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mail.exchange("a@x.com", 1)

	rec, err := h.runner.ExtractOne(ctx, "A@x.com", false)
	require.NoError(t, err)
	require.NotNil(t, rec.Company)
	assert.Equal(t, "Co of a@x.com", *rec.Company)

	got, err := h.cache.GetExtraction(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, got, "not saved without save flag")

	_, err = h.runner.ExtractOne(ctx, "a@x.com", true)
	require.NoError(t, err)
	got, err = h.cache.GetExtraction(ctx, "a@x.com")
	require.NoError(t, err)
	assert.NotNil(t, got)

	_, err = h.runner.ExtractOne(ctx, "nobody@x.com", false)
	assert.Error(t, err)
}

func TestExtractOne_CancelledReportsContextError(t *testing.T) {
	h := newHarness(t)
	h.mail.exchange("a@x.com", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := h.runner.ExtractOne(ctx, "a@x.com", true)
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, err.Error(), "no messages found")

	got, err := h.cache.GetExtraction(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEstimate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	est, err := h.runner.Estimate(ctx, 10)
	require.NoError(t, err)
	assert.False(t, est.Historical)
	// 1800 in at $1/MTok + 120 out at $5/MTok.
	assert.InDelta(t, 0.0024, est.PerContactUSD, 1e-9)
	assert.InDelta(t, 0.024, est.TotalUSD, 1e-9)

	require.NoError(t, h.cache.SaveExtraction(ctx, &model.ExtractionRecord{Email: "a@x.com", CostUSD: 0.01}))
	est, err = h.runner.Estimate(ctx, 4)
	require.NoError(t, err)
	assert.True(t, est.Historical)
	assert.InDelta(t, 0.04, est.TotalUSD, 1e-9)
}

func TestEstimate_NilCacheUsesConfiguredTokens(t *testing.T) {
	h := newHarness(t)
	h.runner.deps.Cache = nil

	est, err := h.runner.Estimate(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, est.Historical)
	assert.InDelta(t, 0.024, est.TotalUSD, 1e-9)
}

func TestPlan(t *testing.T) {
	h := newHarness(t)
	h.mail.exchange("agent@compass.com", 1)
	h.mail.exchange("friend@gmail.com", 2)
	h.mail.msgs = append(h.mail.msgs, model.Message{ID: "n", FromAddress: "noreply@shop.com", To: []string{"me@example.com"}})

	cands, err := h.runner.Plan(context.Background(), false, 0)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "agent@compass.com", cands[0].Email)
}
