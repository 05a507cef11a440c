package main

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/relgraph/internal/cost"
	"github.com/sells-group/relgraph/internal/graph"
	"github.com/sells-group/relgraph/internal/mailstore"
	"github.com/sells-group/relgraph/internal/model"
	"github.com/sells-group/relgraph/internal/pipeline"
	"github.com/sells-group/relgraph/internal/prioritize"
	"github.com/sells-group/relgraph/internal/resilience"
	"github.com/sells-group/relgraph/internal/scorer"
	"github.com/sells-group/relgraph/internal/store"
	anthropicpkg "github.com/sells-group/relgraph/pkg/anthropic"
	"github.com/sells-group/relgraph/pkg/gmail"
)

func identity() model.Identity {
	return model.NewIdentity(cfg.Identity.MyEmails, cfg.Identity.InternalDomains)
}

// initCache opens and migrates the extraction cache.
func initCache(ctx context.Context) (store.Store, error) {
	st, err := store.NewSQLite(cfg.Cache.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open cache")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate cache")
	}
	return st, nil
}

// initGraph opens and migrates the graph store.
func initGraph(ctx context.Context) (graph.Store, error) {
	g, err := graph.Open(ctx, cfg.Graph)
	if err != nil {
		return nil, err
	}
	if err := g.Migrate(ctx); err != nil {
		_ = g.Close()
		return nil, eris.Wrap(err, "migrate graph")
	}
	return g, nil
}

func initPrioritizer() (*prioritize.Prioritizer, error) {
	if cfg.Prioritize.IndustriesFile == "" {
		return prioritize.New(nil), nil
	}
	ind, err := prioritize.LoadIndustries(cfg.Prioritize.IndustriesFile)
	if err != nil {
		return nil, err
	}
	return prioritize.New(ind), nil
}

func initScorer() (*scorer.Scorer, error) {
	if err := scorer.ValidateConfig(cfg.Scoring); err != nil {
		return nil, err
	}
	return scorer.New(cfg.Scoring), nil
}

// pipelineEnv holds everything the run and contact commands need.
type pipelineEnv struct {
	Mail   mailstore.Store
	Cache  store.Store
	Runner *pipeline.Runner
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Mail != nil {
		_ = pe.Mail.Close()
	}
	if pe.Cache != nil {
		_ = pe.Cache.Close()
	}
}

// initPipeline validates config for mode and wires the runner. Callers
// should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &pipelineEnv{}
	var err error
	if env.Mail, err = mailstore.Open(ctx, cfg.Mail); err != nil {
		return nil, err
	}
	if env.Cache, err = initCache(ctx); err != nil {
		env.Close()
		return nil, err
	}
	prio, err := initPrioritizer()
	if err != nil {
		env.Close()
		return nil, err
	}

	calc := cost.NewCalculator(cost.RatesFromConfig(cfg.Pricing))
	if !calc.Known(cfg.Anthropic.Model) {
		zap.L().Warn("no pricing for model, costs will be recorded as zero",
			zap.String("model", cfg.Anthropic.Model))
	}

	var fetcher mailstore.BodyFetcher = env.Mail
	if strings.EqualFold(cfg.Mail.BodySource, "gmail") {
		fetcher = gmail.NewClient(cfg.Gmail.Token,
			gmail.WithBaseURL(cfg.Gmail.BaseURL),
			gmail.WithRateLimit(cfg.Gmail.RequestsPerSecond),
		)
	}
	bodies := mailstore.NewBodyResolver(env.Cache, fetcher, resilience.BodyBreaker(cfg.Extract))

	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	env.Runner = pipeline.NewRunner(pipeline.Deps{
		Mail:        env.Mail,
		Bodies:      bodies,
		Cache:       env.Cache,
		Extractor:   pipeline.NewClaudeExtractor(client, calc, cfg.Anthropic, cfg.Extract),
		Prioritizer: prio,
		Identity:    identity(),
		Calc:        calc,
		Model:       cfg.Anthropic.Model,
	}, cfg.Extract)
	return env, nil
}
