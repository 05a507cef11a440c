// Package graph persists the relationship graph: Person, Company and Topic
// nodes joined by KNOWS, WORKS_AT, DISCUSSED, CC_TOGETHER and
// LINKEDIN_CONNECTED edges. Every write is an idempotent upsert.
package graph

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/relgraph/internal/config"
	"github.com/sells-group/relgraph/internal/model"
)

// Store is the graph client used by sync and query commands.
type Store interface {
	// UpsertPerson creates the person or updates it. A stored name is never
	// replaced; company, role and profile URL are replaced when non-empty.
	UpsertPerson(ctx context.Context, p model.Person) error
	// UpsertCompany creates the company if absent. The first name wins.
	UpsertCompany(ctx context.Context, c model.Company) error
	UpsertTopic(ctx context.Context, t model.Topic) error

	UpsertKnows(ctx context.Context, k model.Knows) error
	// UpsertWorksAt makes the company the person's only employer.
	UpsertWorksAt(ctx context.Context, w model.WorksAt) error
	UpsertDiscussed(ctx context.Context, d model.Discussed) error
	// SetCCTogether overwrites the pair's co-occurrence count.
	SetCCTogether(ctx context.Context, c model.CCTogether) error
	UpsertLinkedInConnection(ctx context.Context, l model.LinkedInConnection) error

	// Paths returns every simple path matching q, unordered.
	Paths(ctx context.Context, q PathQuery) ([]model.Path, error)
	Counts(ctx context.Context) (model.GraphCounts, error)

	Migrate(ctx context.Context) error
	Close() error
}

// PathQuery describes a bounded traversal from a set of start addresses to
// people matching any of the target criteria.
type PathQuery struct {
	From    []string
	Rels    []model.RelType
	MinHops int
	MaxHops int

	TargetEmail   string // exact canonical address
	TargetName    string // case-insensitive fragment of the display name
	TargetCompany string // normalized company key the person works at
}

// Validate checks the query is answerable.
func (q PathQuery) Validate() error {
	switch {
	case len(q.From) == 0:
		return eris.New("graph: path query needs at least one start address")
	case len(q.Rels) == 0:
		return eris.New("graph: path query needs at least one relationship type")
	case q.MinHops < 1 || q.MaxHops < q.MinHops:
		return eris.Errorf("graph: invalid hop range %d..%d", q.MinHops, q.MaxHops)
	case q.TargetEmail == "" && q.TargetName == "" && q.TargetCompany == "":
		return eris.New("graph: path query needs a target")
	}
	return nil
}

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.GraphConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return NewSQLite(cfg.Path)
	case "neo4j":
		return NewNeo4j(ctx, cfg.Neo4j)
	default:
		return nil, eris.Errorf("graph: unknown driver %q", cfg.Driver)
	}
}

const (
	personPrefix  = "person:"
	companyPrefix = "company:"
	topicPrefix   = "topic:"
)

// PersonID returns the stable node id of a person.
func PersonID(email string) string { return personPrefix + email }

// CompanyID returns the stable node id of a company.
func CompanyID(key string) string { return companyPrefix + key }

// TopicID returns the stable node id of a topic.
func TopicID(key string) string { return topicPrefix + key }

func emailOf(id string) string { return strings.TrimPrefix(id, personPrefix) }
