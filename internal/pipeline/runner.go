// Package pipeline runs budget-constrained contact extraction: pick the
// next contact in priority order, read a few recent messages, ask the model
// for company, role and topics, and commit the result together with the
// run's budget counters.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/relgraph/internal/config"
	"github.com/sells-group/relgraph/internal/cost"
	"github.com/sells-group/relgraph/internal/mailstore"
	"github.com/sells-group/relgraph/internal/model"
	"github.com/sells-group/relgraph/internal/normalize"
	"github.com/sells-group/relgraph/internal/prioritize"
	"github.com/sells-group/relgraph/internal/resilience"
	"github.com/sells-group/relgraph/internal/store"
	"github.com/sells-group/relgraph/pkg/anthropic"
)

// BodyResolver returns message text; failures yield "".
type BodyResolver interface {
	Resolve(ctx context.Context, messageID string) string
}

// Deps are the collaborators a Runner needs.
type Deps struct {
	Mail        mailstore.Store
	Bodies      BodyResolver
	Cache       store.Store
	Extractor   Extractor
	Prioritizer *prioritize.Prioritizer
	Identity    model.Identity
	Calc        *cost.Calculator
	Model       string
}

// RunOptions configure one budgeted run.
type RunOptions struct {
	BudgetUSD float64
	Resume    bool
	Limit     int
}

// Runner executes extraction runs. Contacts are processed one at a time.
type Runner struct {
	deps        Deps
	cfg         config.ExtractConfig
	limiter     *rate.Limiter
	retry       resilience.RetryConfig
	callTimeout time.Duration
	now         func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(deps Deps, cfg config.ExtractConfig) *Runner {
	limit := rate.Inf
	if cfg.CallIntervalMs > 0 {
		limit = rate.Every(time.Duration(cfg.CallIntervalMs) * time.Millisecond)
	}
	retry := resilience.ExtractionRetry(cfg)
	retry.ShouldRetry = func(err error) bool {
		return resilience.IsTransient(err) || resilience.IsTransientHTTPStatus(anthropic.StatusCode(err))
	}
	timeout := time.Duration(cfg.CallTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Runner{
		deps:        deps,
		cfg:         cfg,
		limiter:     rate.NewLimiter(limit, 1),
		retry:       retry,
		callTimeout: timeout,
		now:         time.Now,
	}
}

// Plan returns the contacts a run would process, in order.
func (r *Runner) Plan(ctx context.Context, resume bool, limit int) ([]prioritize.Candidate, error) {
	act, err := mailstore.BuildActivity(ctx, r.deps.Mail, r.deps.Identity)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: plan")
	}
	extracted := map[string]bool{}
	if resume {
		if extracted, err = r.deps.Cache.ExtractedEmails(ctx); err != nil {
			return nil, eris.Wrap(err, "pipeline: load extracted set")
		}
	}
	return r.deps.Prioritizer.Rank(act.List(), prioritize.Options{
		Identity:  r.deps.Identity,
		Extracted: extracted,
		Limit:     limit,
	}), nil
}

// Run processes candidates until the budget or the candidate list is
// exhausted, or ctx is cancelled. Cancellation is not an error: the run is
// finalized with stop reason interrupted.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*model.BudgetRun, error) {
	if opts.BudgetUSD <= 0 {
		return nil, eris.Errorf("pipeline: budget must be positive, got %.2f", opts.BudgetUSD)
	}

	candidates, err := r.Plan(ctx, opts.Resume, opts.Limit)
	if err != nil {
		return nil, err
	}

	run, err := r.deps.Cache.CreateBudgetRun(ctx, opts.BudgetUSD, opts.Resume)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create budget run")
	}
	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("pipeline: run started",
		zap.Float64("budget_usd", opts.BudgetUSD),
		zap.Bool("resume", opts.Resume),
		zap.Int("candidates", len(candidates)),
	)

	reason, runErr := r.process(ctx, run, candidates, log)

	// Finalize even when ctx is cancelled.
	final, err := r.deps.Cache.FinishBudgetRun(context.WithoutCancel(ctx), run.ID, reason)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: finish budget run")
	}
	log.Info("pipeline: run finished",
		zap.String("stop_reason", string(final.StopReason)),
		zap.Int("processed", final.Processed),
		zap.Int("skipped", final.Skipped),
		zap.Int("total_tokens", final.TotalTokens),
		zap.Float64("total_cost_usd", final.TotalCost),
	)
	if runErr != nil {
		return final, runErr
	}
	return final, nil
}

func (r *Runner) process(ctx context.Context, run *model.BudgetRun, candidates []prioritize.Candidate, log *zap.Logger) (model.StopReason, error) {
	for _, c := range candidates {
		if ctx.Err() != nil {
			return model.StopInterrupted, nil
		}
		if r.overBudget(run) {
			log.Info("pipeline: budget reached",
				zap.Float64("spent_usd", run.TotalCost),
				zap.Float64("budget_usd", run.BudgetUSD),
			)
			return model.StopBudget, nil
		}

		rec, err := r.extractContact(ctx, Contact{Email: c.Email, Name: c.Name}, run.ID)
		switch {
		case ctx.Err() != nil:
			// Discard the in-flight contact; it is retried on resume.
			return model.StopInterrupted, nil
		case err != nil:
			return model.StopInterrupted, err
		case rec == nil:
			if err := r.deps.Cache.RecordSkip(context.WithoutCancel(ctx), run.ID); err != nil {
				return model.StopInterrupted, eris.Wrap(err, "pipeline: record skip")
			}
			run.Skipped++
			continue
		}

		if err := r.deps.Cache.CommitExtraction(context.WithoutCancel(ctx), run.ID, rec); err != nil {
			return model.StopInterrupted, eris.Wrapf(err, "pipeline: commit %s", rec.Email)
		}
		run.Processed++
		run.TotalTokens += rec.InputTokens + rec.OutputTokens
		run.TotalCost += rec.CostUSD

		log.Debug("pipeline: contact extracted",
			zap.String("email", rec.Email),
			zap.Int("tier", c.Tier),
			zap.Float64("cost_usd", rec.CostUSD),
			zap.Float64("spent_usd", run.TotalCost),
		)
	}
	return model.StopExhausted, nil
}

// overBudget stops when the ceiling is reached or when the next contact,
// priced at the run's mean cost so far, would cross it.
func (r *Runner) overBudget(run *model.BudgetRun) bool {
	if run.TotalCost >= run.BudgetUSD {
		return true
	}
	if run.Processed == 0 {
		return false
	}
	projected := run.TotalCost / float64(run.Processed)
	return run.TotalCost+projected > run.BudgetUSD
}

// extractContact returns nil, nil when the contact has no messages. Model
// failures produce an empty record rather than an error; only cancellation
// and storage failures are returned.
func (r *Runner) extractContact(ctx context.Context, c Contact, runID string) (*model.ExtractionRecord, error) {
	log := zap.L().With(zap.String("email", c.Email))

	msgs, err := r.deps.Mail.MessagesFor(ctx, c.Email, r.cfg.MessagesPerContact)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn("pipeline: message lookup failed", zap.Error(err))
		return nil, nil
	}
	if len(msgs) == 0 {
		log.Debug("pipeline: no messages, skipping")
		return nil, nil
	}

	excerpts := make([]model.MessageExcerpt, len(msgs))
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		excerpts[i] = model.MessageExcerpt{
			Subject: m.Subject,
			Date:    m.Date,
			Body:    r.deps.Bodies.Resolve(ctx, m.ID),
		}
	}

	ext := r.callExtractor(ctx, c, excerpts, log)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &model.ExtractionRecord{
		Email:            normalize.Email(c.Email),
		Company:          ext.Result.Company,
		Role:             ext.Result.Role,
		Topics:           ext.Result.Topics,
		Confidence:       ext.Result.Confidence,
		SourceMessageIDs: ids,
		Model:            ext.Model,
		InputTokens:      ext.Usage.InputTokens,
		OutputTokens:     ext.Usage.OutputTokens,
		CostUSD:          ext.Usage.CostUSD,
		RunID:            runID,
		ExtractedAt:      r.now().UTC(),
	}, nil
}

// callExtractor never fails: timeouts and API errors yield an empty result
// at zero cost, unparsable answers an empty result at the call's cost. Every
// attempt, retries included, waits on the call limiter.
func (r *Runner) callExtractor(ctx context.Context, c Contact, msgs []model.MessageExcerpt, log *zap.Logger) *Extraction {
	var last *Extraction
	err := resilience.Do(ctx, r.retry, func(ctx context.Context) error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
		ext, err := r.deps.Extractor.Extract(callCtx, c, msgs)
		last = ext
		return err
	})
	if err == nil && last != nil {
		return last
	}

	empty := &Extraction{Model: r.deps.Model}
	if err != nil && eris.Is(err, ErrUnparsable) && last != nil {
		log.Warn("pipeline: unparsable response, saving empty result", zap.Error(err))
		empty.Usage = last.Usage
		if last.Model != "" {
			empty.Model = last.Model
		}
		return empty
	}
	log.Warn("pipeline: extraction failed, saving empty result", zap.Error(err))
	return empty
}

// ExtractOne runs a single contact outside any budget run. When save is set
// the record is written to the cache.
func (r *Runner) ExtractOne(ctx context.Context, email string, save bool) (*model.ExtractionRecord, error) {
	email = normalize.Email(email)
	if email == "" {
		return nil, eris.New("pipeline: email is required")
	}

	c := Contact{Email: email}
	if act, err := mailstore.BuildActivity(ctx, r.deps.Mail, r.deps.Identity); err == nil {
		if a := act.Get(email); a != nil {
			c.Name = a.Name
		}
	}

	rec, err := r.extractContact(ctx, c, "")
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: extract %s", email)
	}
	if rec == nil {
		return nil, eris.Errorf("pipeline: no messages found for %s", email)
	}
	if save {
		if err := r.deps.Cache.SaveExtraction(ctx, rec); err != nil {
			return nil, eris.Wrapf(err, "pipeline: save %s", email)
		}
	}
	return rec, nil
}

// Estimate is the projected cost of extracting the remaining candidates.
type Estimate struct {
	Remaining     int     `json:"remaining"`
	PerContactUSD float64 `json:"per_contact_usd"`
	TotalUSD      float64 `json:"total_usd"`
	Historical    bool    `json:"historical"`
}

// Estimate prices remaining contacts at the historical mean cost per
// extracted contact, or at the configured token estimate when there is no
// history yet. A nil cache counts as no history.
func (r *Runner) Estimate(ctx context.Context, remaining int) (Estimate, error) {
	var (
		avg float64
		n   int
	)
	if r.deps.Cache != nil {
		var err error
		if avg, n, err = r.deps.Cache.AverageCostPerContact(ctx); err != nil {
			return Estimate{}, eris.Wrap(err, "pipeline: estimate")
		}
	}
	est := Estimate{Remaining: remaining, PerContactUSD: avg, Historical: n > 0}
	if n == 0 && r.deps.Calc != nil {
		est.PerContactUSD = r.deps.Calc.Claude(r.deps.Model, r.cfg.EstimatedInputTokens, r.cfg.EstimatedOutputTokens, 0, 0)
	}
	est.TotalUSD = est.PerContactUSD * float64(remaining)
	return est, nil
}
