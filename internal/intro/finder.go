// Package intro answers "who can introduce me to X" over the relationship
// graph.
package intro

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/relgraph/internal/graph"
	"github.com/sells-group/relgraph/internal/model"
	"github.com/sells-group/relgraph/internal/normalize"
)

// DefaultTopK is used when the caller asks for zero connectors.
const DefaultTopK = 5

// maxIndirectHops bounds the indirect traversal.
const maxIndirectHops = 2

// ErrTargetRequired is returned for a blank lookup.
var ErrTargetRequired = eris.New("intro: target is required")

var (
	directRels   = []model.RelType{model.RelKnows}
	indirectRels = []model.RelType{model.RelKnows, model.RelLinkedInConnected}
)

// Target is a parsed lookup. An address matches exactly; anything else is
// tried both as a name fragment and as a company name.
type Target struct {
	Raw        string `json:"raw"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	CompanyKey string `json:"company_key,omitempty"`
}

// ParseTarget classifies raw.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, ErrTargetRequired
	}
	t := Target{Raw: raw}
	if strings.Contains(raw, "@") {
		t.Email = normalize.Email(raw)
		return t, nil
	}
	t.Name = normalize.Name(raw)
	t.CompanyKey = normalize.Company(raw)
	return t, nil
}

func (t Target) query(from []string, rels []model.RelType, minHops, maxHops int) graph.PathQuery {
	return graph.PathQuery{
		From:          from,
		Rels:          rels,
		MinHops:       minHops,
		MaxHops:       maxHops,
		TargetEmail:   t.Email,
		TargetName:    t.Name,
		TargetCompany: t.CompanyKey,
	}
}

// Intro is one ranked introduction path.
type Intro struct {
	Connector string     `json:"connector"`
	Direct    bool       `json:"direct"`
	Hops      int        `json:"hops"`
	Strength  float64    `json:"strength"`
	Path      model.Path `json:"path"`
}

// Result is the answer to one lookup.
type Result struct {
	Target Target  `json:"target"`
	Direct bool    `json:"direct"`
	Intros []Intro `json:"intros"`
}

// Finder runs lookups against a graph store. It never writes.
type Finder struct {
	graph graph.Store
	id    model.Identity
}

// NewFinder creates a Finder for the user identified by id.
func NewFinder(g graph.Store, id model.Identity) *Finder {
	return &Finder{graph: g, id: id}
}

// Find returns up to k introduction paths to target, one per connector. A
// direct KNOWS relationship short-circuits the indirect traversal.
func (f *Finder) Find(ctx context.Context, raw string, k int) (*Result, error) {
	t, err := ParseTarget(raw)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = DefaultTopK
	}
	from := f.id.Emails()
	if len(from) == 0 {
		return nil, eris.New("intro: no user addresses configured")
	}
	log := zap.L().With(zap.String("target", t.Raw))

	direct, err := f.graph.Paths(ctx, t.query(from, directRels, 1, 1))
	if err != nil {
		return nil, eris.Wrap(err, "intro: direct lookup")
	}
	if len(direct) > 0 {
		log.Debug("intro: direct relationship found", zap.Int("paths", len(direct)))
		return &Result{Target: t, Direct: true, Intros: TopK(direct, k)}, nil
	}

	paths, err := f.graph.Paths(ctx, t.query(from, indirectRels, 1, maxIndirectHops))
	if err != nil {
		return nil, eris.Wrap(err, "intro: indirect lookup")
	}
	log.Debug("intro: indirect paths found", zap.Int("paths", len(paths)))
	return &Result{Target: t, Intros: TopK(paths, k)}, nil
}

// isDirect reports whether p is a single KNOWS edge.
func isDirect(p model.Path) bool {
	return p.Len() == 1 && p.Hops[0].Type == model.RelKnows
}

// Less orders paths: direct first, then fewer hops, higher total strength,
// more recent first edge, and finally by address for determinism.
func Less(a, b model.Path) bool {
	if da, db := isDirect(a), isDirect(b); da != db {
		return da
	}
	if a.Len() != b.Len() {
		return a.Len() < b.Len()
	}
	if sa, sb := a.Strength(), b.Strength(); sa != sb {
		return sa > sb
	}
	if la, lb := firstContact(a), firstContact(b); !la.Equal(lb) {
		return la.After(lb)
	}
	if a.Connector() != b.Connector() {
		return a.Connector() < b.Connector()
	}
	return a.Target.Email < b.Target.Email
}

func firstContact(p model.Path) time.Time {
	if len(p.Hops) == 0 {
		return time.Time{}
	}
	return p.Hops[0].LastContact
}

// TopK ranks paths and keeps the best path per connector, at most k.
func TopK(paths []model.Path, k int) []Intro {
	sorted := make([]model.Path, len(paths))
	copy(sorted, paths)
	sort.SliceStable(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	seen := make(map[string]bool, len(sorted))
	out := make([]Intro, 0, min(k, len(sorted)))
	for _, p := range sorted {
		c := p.Connector()
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, Intro{
			Connector: c,
			Direct:    isDirect(p),
			Hops:      p.Len(),
			Strength:  p.Strength(),
			Path:      p,
		})
		if len(out) == k {
			break
		}
	}
	return out
}
