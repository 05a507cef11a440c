package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/relgraph/internal/config"
	"github.com/sells-group/relgraph/internal/model"
	"github.com/sells-group/relgraph/internal/normalize"
)

// Neo4jStore is the graph backed by a Neo4j server. Every call opens its own
// session; the driver pools connections.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	dbName string
	now    func() time.Time
}

var _ Store = (*Neo4jStore)(nil)

// NewNeo4j connects to the server and verifies it is reachable.
func NewNeo4j(ctx context.Context, cfg config.Neo4jConfig) (*Neo4jStore, error) {
	if cfg.URI == "" {
		return nil, eris.New("graph: neo4j uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, eris.Wrap(err, "graph: neo4j driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, eris.Wrapf(err, "graph: neo4j connect %s", cfg.URI)
	}
	return NewNeo4jWithDriver(driver, cfg.Database), nil
}

// NewNeo4jWithDriver wraps an existing driver.
func NewNeo4jWithDriver(driver neo4j.DriverWithContext, dbName string) *Neo4jStore {
	return &Neo4jStore{driver: driver, dbName: dbName, now: time.Now}
}

var neo4jConstraints = []string{
	`CREATE CONSTRAINT person_email_unique IF NOT EXISTS FOR (p:Person) REQUIRE p.email IS UNIQUE`,
	`CREATE CONSTRAINT company_key_unique IF NOT EXISTS FOR (c:Company) REQUIRE c.key IS UNIQUE`,
	`CREATE CONSTRAINT topic_key_unique IF NOT EXISTS FOR (t:Topic) REQUIRE t.key IS UNIQUE`,
	`CREATE INDEX person_name_idx IF NOT EXISTS FOR (p:Person) ON (p.name)`,
}

// Migrate creates uniqueness constraints for every node key.
func (s *Neo4jStore) Migrate(ctx context.Context) error {
	for _, q := range neo4jConstraints {
		if err := s.write(ctx, q, nil); err != nil {
			return eris.Wrap(err, "graph: neo4j migrate")
		}
	}
	return nil
}

// Close closes the driver.
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.dbName, AccessMode: mode})
}

func (s *Neo4jStore) write(ctx context.Context, query string, params map[string]any) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	res, err := session.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func (s *Neo4jStore) read(ctx context.Context, query string, params map[string]any, fn func(*neo4j.Record) error) error {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	res, err := session.Run(ctx, query, params)
	if err != nil {
		return err
	}
	for res.Next(ctx) {
		if err := fn(res.Record()); err != nil {
			return err
		}
	}
	return res.Err()
}

const cypherUpsertPerson = `MERGE (p:Person {email: $email})
ON CREATE SET p.created_at = $now
SET p.name = CASE WHEN coalesce(p.name, '') = '' THEN $name ELSE p.name END,
    p.company = CASE WHEN $company <> '' THEN $company ELSE p.company END,
    p.role = CASE WHEN $role <> '' THEN $role ELSE p.role END,
    p.linkedin_url = CASE WHEN $linkedin_url <> '' THEN $linkedin_url ELSE p.linkedin_url END,
    p.updated_at = $now`

// UpsertPerson implements Store.
func (s *Neo4jStore) UpsertPerson(ctx context.Context, p model.Person) error {
	email := normalize.Email(p.Email)
	if email == "" {
		return eris.New("graph: person email is required")
	}
	err := s.write(ctx, cypherUpsertPerson, map[string]any{
		"email":        email,
		"name":         strings.TrimSpace(p.Name),
		"company":      p.Company,
		"role":         p.Role,
		"linkedin_url": p.LinkedInURL,
		"now":          s.now().Unix(),
	})
	return eris.Wrapf(err, "graph: upsert person %s", email)
}

// UpsertCompany implements Store.
func (s *Neo4jStore) UpsertCompany(ctx context.Context, c model.Company) error {
	if c.Key == "" {
		return eris.New("graph: company key is required")
	}
	err := s.write(ctx, `MERGE (c:Company {key: $key}) ON CREATE SET c.name = $name`,
		map[string]any{"key": c.Key, "name": c.Name})
	return eris.Wrapf(err, "graph: upsert company %s", c.Key)
}

// UpsertTopic implements Store.
func (s *Neo4jStore) UpsertTopic(ctx context.Context, t model.Topic) error {
	if t.Key == "" {
		return eris.New("graph: topic key is required")
	}
	err := s.write(ctx, `MERGE (t:Topic {key: $key}) ON CREATE SET t.label = $label`,
		map[string]any{"key": t.Key, "label": t.Label})
	return eris.Wrapf(err, "graph: upsert topic %s", t.Key)
}

const cypherUpsertKnows = `MERGE (a:Person {email: $from})
MERGE (b:Person {email: $to})
MERGE (a)-[r:KNOWS]->(b)
ON CREATE SET r.created_at = $now
SET r.strength_score = $strength,
    r.email_count = $email_count,
    r.last_contact = $last_contact,
    r.is_bidirectional = $bidirectional,
    r.updated_at = $now`

// UpsertKnows implements Store.
func (s *Neo4jStore) UpsertKnows(ctx context.Context, k model.Knows) error {
	err := s.write(ctx, cypherUpsertKnows, map[string]any{
		"from":          k.From,
		"to":            k.To,
		"strength":      k.StrengthScore,
		"email_count":   int64(k.EmailCount),
		"last_contact":  unixOrZero(k.LastContact),
		"bidirectional": k.IsBidirectional,
		"now":           s.now().Unix(),
	})
	return eris.Wrapf(err, "graph: upsert knows %s -> %s", k.From, k.To)
}

// Old employers are detached before the current one is merged.
const cypherUpsertWorksAt = `MATCH (p:Person {email: $email})
MATCH (c:Company {key: $key})
OPTIONAL MATCH (p)-[old:WORKS_AT]->(other:Company)
WHERE other.key <> $key
DELETE old
WITH DISTINCT p, c
MERGE (p)-[r:WORKS_AT]->(c)
SET r.role = $role, r.confidence = $confidence, r.updated_at = $now`

// UpsertWorksAt implements Store. Both nodes must already exist.
func (s *Neo4jStore) UpsertWorksAt(ctx context.Context, w model.WorksAt) error {
	err := s.write(ctx, cypherUpsertWorksAt, map[string]any{
		"email":      w.Email,
		"key":        w.CompanyKey,
		"role":       w.Role,
		"confidence": w.Confidence,
		"now":        s.now().Unix(),
	})
	return eris.Wrapf(err, "graph: upsert works_at %s -> %s", w.Email, w.CompanyKey)
}

const cypherUpsertDiscussed = `MATCH (p:Person {email: $email})
MATCH (t:Topic {key: $key})
MERGE (p)-[r:DISCUSSED]->(t)
ON CREATE SET r.created_at = $created_at`

// UpsertDiscussed implements Store.
func (s *Neo4jStore) UpsertDiscussed(ctx context.Context, d model.Discussed) error {
	created := d.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	err := s.write(ctx, cypherUpsertDiscussed, map[string]any{
		"email":      d.Email,
		"key":        d.TopicKey,
		"created_at": created.Unix(),
	})
	return eris.Wrapf(err, "graph: upsert discussed %s -> %s", d.Email, d.TopicKey)
}

const cypherSetCCTogether = `MERGE (a:Person {email: $a})
MERGE (b:Person {email: $b})
MERGE (a)-[r:CC_TOGETHER]->(b)
SET r.count = $count`

// SetCCTogether implements Store. The edge is stored from the smaller
// address to the larger one and read without direction.
func (s *Neo4jStore) SetCCTogether(ctx context.Context, c model.CCTogether) error {
	c = model.NewCCTogether(c.A, c.B, c.Count)
	err := s.write(ctx, cypherSetCCTogether, map[string]any{
		"a":     c.A,
		"b":     c.B,
		"count": int64(c.Count),
	})
	return eris.Wrapf(err, "graph: set cc_together %s, %s", c.A, c.B)
}

const cypherUpsertLinkedIn = `MERGE (a:Person {email: $from})
MERGE (b:Person {email: $to})
MERGE (a)-[r:LINKEDIN_CONNECTED]->(b)
SET r.degree = $degree,
    r.connected_on = CASE WHEN $connected_on <> 0 THEN $connected_on ELSE coalesce(r.connected_on, 0) END`

// UpsertLinkedInConnection implements Store.
func (s *Neo4jStore) UpsertLinkedInConnection(ctx context.Context, l model.LinkedInConnection) error {
	err := s.write(ctx, cypherUpsertLinkedIn, map[string]any{
		"from":         l.From,
		"to":           l.To,
		"degree":       int64(l.Degree),
		"connected_on": unixOrZero(l.ConnectedOn),
	})
	return eris.Wrapf(err, "graph: upsert linkedin %s -> %s", l.From, l.To)
}

// Counts implements Store.
func (s *Neo4jStore) Counts(ctx context.Context) (model.GraphCounts, error) {
	out := model.GraphCounts{Edges: make(map[model.RelType]int)}
	for _, n := range []struct {
		label string
		dest  *int
	}{
		{"Person", &out.Persons},
		{"Company", &out.Companies},
		{"Topic", &out.Topics},
	} {
		err := s.read(ctx, fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS n", n.label), nil, func(r *neo4j.Record) error {
			*n.dest = getIntValue(r, "n")
			return nil
		})
		if err != nil {
			return out, eris.Wrapf(err, "graph: count %s", n.label)
		}
	}

	err := s.read(ctx, "MATCH ()-[r]->() RETURN type(r) AS type, count(r) AS n", nil, func(r *neo4j.Record) error {
		out.Edges[model.RelType(getStringValue(r, "type"))] = getIntValue(r, "n")
		return nil
	})
	return out, eris.Wrap(err, "graph: count edges")
}

// Paths implements Store with one variable-length pattern.
func (s *Neo4jStore) Paths(ctx context.Context, q PathQuery) ([]model.Path, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	query, params := buildCypherPathQuery(q)

	var out []model.Path
	err := s.read(ctx, query, params, func(r *neo4j.Record) error {
		p, err := pathFromRecord(r)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "graph: neo4j paths")
	}
	zap.L().Debug("graph: neo4j paths", zap.Int("paths", len(out)))
	return out, nil
}

// buildCypherPathQuery matches simple directed paths of the requested types
// and length. Intermediate and target nodes may not be start addresses.
func buildCypherPathQuery(q PathQuery) (string, map[string]any) {
	rels := make([]string, len(q.Rels))
	for i, r := range q.Rels {
		rels[i] = string(r)
	}
	from := make([]string, len(q.From))
	for i, f := range q.From {
		from[i] = normalize.Email(f)
	}
	params := map[string]any{"from": from}

	var target []string
	if q.TargetEmail != "" {
		target = append(target, "t.email = $target_email")
		params["target_email"] = normalize.Email(q.TargetEmail)
	}
	if q.TargetName != "" {
		target = append(target, "toLower(coalesce(t.name, '')) CONTAINS $target_name")
		params["target_name"] = strings.ToLower(strings.TrimSpace(q.TargetName))
	}
	if q.TargetCompany != "" {
		target = append(target, "EXISTS { MATCH (t)-[:WORKS_AT]->(:Company {key: $target_company}) }")
		params["target_company"] = q.TargetCompany
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "MATCH p = (me:Person)-[:%s*%d..%d]->(t:Person)\n", strings.Join(rels, "|"), q.MinHops, q.MaxHops)
	sb.WriteString("WHERE me.email IN $from\n")
	sb.WriteString("  AND ALL(n IN tail(nodes(p)) WHERE NOT n.email IN $from)\n")
	sb.WriteString("  AND ALL(i IN range(0, size(nodes(p)) - 2) WHERE NOT nodes(p)[i] IN nodes(p)[i+1..])\n")
	fmt.Fprintf(&sb, "  AND (%s)\n", strings.Join(target, " OR "))
	sb.WriteString(`RETURN [n IN nodes(p) | n.email] AS emails,
       [r IN relationships(p) | {type: type(r), strength: coalesce(r.strength_score, 0.0), last_contact: coalesce(r.last_contact, 0)}] AS rels,
       t.email AS email, coalesce(t.name, '') AS name, coalesce(t.company, '') AS company,
       coalesce(t.role, '') AS role, coalesce(t.linkedin_url, '') AS linkedin_url`)
	return sb.String(), params
}

func pathFromRecord(r *neo4j.Record) (model.Path, error) {
	p := model.Path{Target: model.Person{
		Email:       getStringValue(r, "email"),
		Name:        getStringValue(r, "name"),
		Company:     getStringValue(r, "company"),
		Role:        getStringValue(r, "role"),
		LinkedInURL: getStringValue(r, "linkedin_url"),
	}}

	emails := getStringArrayValue(r, "emails")
	rawRels, _ := r.Get("rels")
	rels, _ := rawRels.([]any)
	if len(emails) != len(rels)+1 {
		return p, eris.Errorf("graph: malformed path with %d nodes and %d edges", len(emails), len(rels))
	}
	for i, raw := range rels {
		m, _ := raw.(map[string]any)
		h := model.Hop{From: emails[i], To: emails[i+1]}
		if t, ok := m["type"].(string); ok {
			h.Type = model.RelType(t)
		}
		h.StrengthScore = toFloat(m["strength"])
		h.LastContact = timeOrZero(toInt64(m["last_contact"]))
		p.Hops = append(p.Hops, h)
	}
	return p, nil
}

func getStringValue(record *neo4j.Record, key string) string {
	if val, ok := record.Get(key); ok && val != nil {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

func getIntValue(record *neo4j.Record, key string) int {
	if val, ok := record.Get(key); ok {
		return int(toInt64(val))
	}
	return 0
}

func getStringArrayValue(record *neo4j.Record, key string) []string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	arr, ok := val.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		s, _ := v.(string)
		out = append(out, s)
	}
	return out
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
