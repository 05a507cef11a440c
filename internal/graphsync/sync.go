// Package graphsync projects the extraction cache, the mail index and
// connection exports onto the relationship graph. Every sync is an
// idempotent sequence of upserts and can be re-run at any time.
package graphsync

import (
	"context"
	"runtime"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/relgraph/internal/graph"
	"github.com/sells-group/relgraph/internal/mailstore"
	"github.com/sells-group/relgraph/internal/model"
	"github.com/sells-group/relgraph/internal/normalize"
	"github.com/sells-group/relgraph/internal/scorer"
)

// ExtractionSource lists cached extraction records.
type ExtractionSource interface {
	ListExtractions(ctx context.Context) ([]model.ExtractionRecord, error)
}

// Syncer writes to the graph. It is the graph's only writer.
type Syncer struct {
	graph       graph.Store
	extractions ExtractionSource
	scorer      *scorer.Scorer
	id          model.Identity
	workers     int
	now         func() time.Time
}

// New creates a Syncer. extractions and sc may be nil for commands that do
// not need them.
func New(g graph.Store, extractions ExtractionSource, sc *scorer.Scorer, id model.Identity) *Syncer {
	return &Syncer{
		graph:       g,
		extractions: extractions,
		scorer:      sc,
		id:          id,
		workers:     runtime.GOMAXPROCS(0),
		now:         time.Now,
	}
}

// ExtractionStats summarizes one SyncExtractions pass.
type ExtractionStats struct {
	Records   int `json:"records"`
	Companies int `json:"companies"`
	Topics    int `json:"topics"`
	WorksAt   int `json:"works_at"`
	Discussed int `json:"discussed"`
}

// SyncExtractions upserts a Person per cached record, plus its Company and
// WORKS_AT edge when a company was found and a Topic and DISCUSSED edge per
// topic.
func (s *Syncer) SyncExtractions(ctx context.Context) (ExtractionStats, error) {
	var stats ExtractionStats
	if s.extractions == nil {
		return stats, eris.New("graphsync: no extraction source")
	}
	recs, err := s.extractions.ListExtractions(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "graphsync: list extractions")
	}

	companies := make(map[string]bool)
	topics := make(map[string]bool)
	for i := range recs {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "graphsync: sync extractions")
		}
		rec := &recs[i]
		if err := s.syncRecord(ctx, rec, companies, topics, &stats); err != nil {
			return stats, err
		}
		stats.Records++
	}
	stats.Companies = len(companies)
	stats.Topics = len(topics)

	zap.L().Info("graphsync: extractions synced",
		zap.Int("records", stats.Records),
		zap.Int("companies", stats.Companies),
		zap.Int("topics", stats.Topics),
		zap.Int("works_at", stats.WorksAt),
		zap.Int("discussed", stats.Discussed),
	)
	return stats, nil
}

func (s *Syncer) syncRecord(ctx context.Context, rec *model.ExtractionRecord, companies, topics map[string]bool, stats *ExtractionStats) error {
	p := model.Person{Email: rec.Email}
	if rec.Company != nil {
		p.Company = *rec.Company
	}
	if rec.Role != nil {
		p.Role = *rec.Role
	}
	if err := s.graph.UpsertPerson(ctx, p); err != nil {
		return eris.Wrapf(err, "graphsync: person %s", rec.Email)
	}

	if key := normalize.Company(p.Company); key != "" {
		if err := s.graph.UpsertCompany(ctx, model.Company{Key: key, Name: p.Company}); err != nil {
			return eris.Wrapf(err, "graphsync: company %s", key)
		}
		if err := s.graph.UpsertWorksAt(ctx, model.WorksAt{
			Email:      p.Email,
			CompanyKey: key,
			Role:       p.Role,
			Confidence: rec.Confidence,
		}); err != nil {
			return eris.Wrapf(err, "graphsync: works_at %s", rec.Email)
		}
		companies[key] = true
		stats.WorksAt++
	}

	for _, label := range rec.Topics {
		key := normalize.Topic(label)
		if key == "" {
			continue
		}
		if err := s.graph.UpsertTopic(ctx, model.Topic{Key: key, Label: label}); err != nil {
			return eris.Wrapf(err, "graphsync: topic %s", key)
		}
		if err := s.graph.UpsertDiscussed(ctx, model.Discussed{
			Email:     p.Email,
			TopicKey:  key,
			CreatedAt: rec.ExtractedAt,
		}); err != nil {
			return eris.Wrapf(err, "graphsync: discussed %s", rec.Email)
		}
		topics[key] = true
		stats.Discussed++
	}
	return nil
}

// RelationshipStats summarizes one SyncRelationships pass.
type RelationshipStats struct {
	Contacts int                 `json:"contacts"`
	Knows    int                 `json:"knows"`
	CCPairs  int                 `json:"cc_pairs"`
	Bands    map[scorer.Band]int `json:"bands"`
}

type scoredContact struct {
	activity  *model.ContactActivity
	breakdown scorer.Breakdown
}

// SyncRelationships scores the user's relationship with every contact in
// act, upserts the KNOWS edges from the primary address and overwrites the
// CC_TOGETHER counts.
func (s *Syncer) SyncRelationships(ctx context.Context, act *mailstore.Activity) (RelationshipStats, error) {
	stats := RelationshipStats{Bands: make(map[scorer.Band]int)}
	if s.scorer == nil {
		return stats, eris.New("graphsync: no scorer")
	}
	me := s.id.Primary()
	if me == "" {
		return stats, eris.New("graphsync: identity has no primary address")
	}

	contacts := act.List()
	scored, err := s.score(ctx, contacts)
	if err != nil {
		return stats, err
	}

	if err := s.graph.UpsertPerson(ctx, model.Person{Email: me}); err != nil {
		return stats, eris.Wrap(err, "graphsync: person self")
	}
	known := make(map[string]bool, len(scored)+1)
	known[me] = true

	for _, sc := range scored {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "graphsync: sync relationships")
		}
		a := sc.activity
		if err := s.graph.UpsertPerson(ctx, model.Person{Email: a.Email, Name: a.Name}); err != nil {
			return stats, eris.Wrapf(err, "graphsync: person %s", a.Email)
		}
		known[a.Email] = true
		stats.Contacts++

		if err := s.graph.UpsertKnows(ctx, model.Knows{
			From:            me,
			To:              a.Email,
			StrengthScore:   sc.breakdown.Score,
			EmailCount:      a.Total(),
			LastContact:     a.LastContact,
			IsBidirectional: a.Sent > 0 && a.Received > 0,
		}); err != nil {
			return stats, eris.Wrapf(err, "graphsync: knows %s", a.Email)
		}
		stats.Knows++
		stats.Bands[sc.breakdown.Band]++
	}

	for _, pair := range act.CCPairs() {
		for _, e := range []string{pair.A, pair.B} {
			if known[e] {
				continue
			}
			if err := s.graph.UpsertPerson(ctx, model.Person{Email: e}); err != nil {
				return stats, eris.Wrapf(err, "graphsync: person %s", e)
			}
			known[e] = true
		}
		if err := s.graph.SetCCTogether(ctx, pair); err != nil {
			return stats, eris.Wrapf(err, "graphsync: cc_together %s, %s", pair.A, pair.B)
		}
		stats.CCPairs++
	}

	zap.L().Info("graphsync: relationships synced",
		zap.Int("contacts", stats.Contacts),
		zap.Int("knows", stats.Knows),
		zap.Int("cc_pairs", stats.CCPairs),
	)
	return stats, nil
}

// score fans the pure scoring work out over a bounded worker group. The
// result keeps the order of contacts.
func (s *Syncer) score(ctx context.Context, contacts []*model.ContactActivity) ([]scoredContact, error) {
	now := s.now()
	out := make([]scoredContact, len(contacts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.workers, 1))
	for i, a := range contacts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = scoredContact{
				activity:  a,
				breakdown: s.scorer.Score(PairStats(a), now),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "graphsync: score contacts")
	}
	return out, nil
}

// PairStats converts a contact aggregate into scorer input.
func PairStats(a *model.ContactActivity) scorer.PairStats {
	return scorer.PairStats{
		Sent:            a.Sent,
		Received:        a.Received,
		Replied:         a.Replied,
		LastContact:     a.LastContact,
		Dates:           a.Dates,
		RecipientCounts: a.RecipientCounts,
	}
}
