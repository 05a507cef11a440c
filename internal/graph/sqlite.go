package graph

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/relgraph/internal/model"
	"github.com/sells-group/relgraph/internal/normalize"
)

// sqliteMaxHops is the deepest traversal the join-based query supports.
const sqliteMaxHops = 2

// SQLiteStore is the embedded graph: node tables plus one adjacency table
// keyed by (src, dst, type).
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens the graph database at path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "graph: open sqlite")
	}
	// One writer; the pragmas below are per-connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "graph: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteGraphSchema = `
CREATE TABLE IF NOT EXISTS persons (
	id           TEXT PRIMARY KEY,
	email        TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL DEFAULT '',
	company      TEXT NOT NULL DEFAULT '',
	role         TEXT NOT NULL DEFAULT '',
	linkedin_url TEXT NOT NULL DEFAULT '',
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS companies (
	id   TEXT PRIMARY KEY,
	key  TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS topics (
	id    TEXT PRIMARY KEY,
	key   TEXT NOT NULL UNIQUE,
	label TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS edges (
	src           TEXT NOT NULL,
	dst           TEXT NOT NULL,
	type          TEXT NOT NULL,
	strength      REAL NOT NULL DEFAULT 0,
	email_count   INTEGER NOT NULL DEFAULT 0,
	last_contact  INTEGER NOT NULL DEFAULT 0,
	bidirectional INTEGER NOT NULL DEFAULT 0,
	role          TEXT NOT NULL DEFAULT '',
	confidence    REAL NOT NULL DEFAULT 0,
	count         INTEGER NOT NULL DEFAULT 0,
	degree        INTEGER NOT NULL DEFAULT 0,
	connected_on  INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (src, dst, type)
);

CREATE INDEX IF NOT EXISTS idx_edges_dst_type ON edges(dst, type);
CREATE INDEX IF NOT EXISTS idx_edges_type ON edges(type);
`

// Migrate creates the graph tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteGraphSchema)
	return eris.Wrap(err, "graph: sqlite migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) stamp() int64 { return s.now().Unix() }

// UpsertPerson implements Store.
func (s *SQLiteStore) UpsertPerson(ctx context.Context, p model.Person) error {
	email := normalize.Email(p.Email)
	if email == "" {
		return eris.New("graph: person email is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO persons (id, email, name, company, role, linkedin_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN persons.name = '' THEN excluded.name ELSE persons.name END,
			company = CASE WHEN excluded.company != '' THEN excluded.company ELSE persons.company END,
			role = CASE WHEN excluded.role != '' THEN excluded.role ELSE persons.role END,
			linkedin_url = CASE WHEN excluded.linkedin_url != '' THEN excluded.linkedin_url ELSE persons.linkedin_url END,
			updated_at = excluded.updated_at`,
		PersonID(email), email, strings.TrimSpace(p.Name), p.Company, p.Role, p.LinkedInURL, s.stamp(),
	)
	return eris.Wrapf(err, "graph: upsert person %s", email)
}

// UpsertCompany implements Store.
func (s *SQLiteStore) UpsertCompany(ctx context.Context, c model.Company) error {
	if c.Key == "" {
		return eris.New("graph: company key is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (id, key, name) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		CompanyID(c.Key), c.Key, c.Name,
	)
	return eris.Wrapf(err, "graph: upsert company %s", c.Key)
}

// UpsertTopic implements Store.
func (s *SQLiteStore) UpsertTopic(ctx context.Context, t model.Topic) error {
	if t.Key == "" {
		return eris.New("graph: topic key is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO topics (id, key, label) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		TopicID(t.Key), t.Key, t.Label,
	)
	return eris.Wrapf(err, "graph: upsert topic %s", t.Key)
}

// UpsertKnows implements Store. Score fields are recomputed by the caller
// and always overwritten.
func (s *SQLiteStore) UpsertKnows(ctx context.Context, k model.Knows) error {
	now := s.stamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (src, dst, type, strength, email_count, last_contact, bidirectional, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(src, dst, type) DO UPDATE SET
			strength = excluded.strength,
			email_count = excluded.email_count,
			last_contact = excluded.last_contact,
			bidirectional = excluded.bidirectional,
			updated_at = excluded.updated_at`,
		PersonID(k.From), PersonID(k.To), string(model.RelKnows),
		k.StrengthScore, k.EmailCount, unixOrZero(k.LastContact), boolInt(k.IsBidirectional), now, now,
	)
	return eris.Wrapf(err, "graph: upsert knows %s -> %s", k.From, k.To)
}

// UpsertWorksAt implements Store.
func (s *SQLiteStore) UpsertWorksAt(ctx context.Context, w model.WorksAt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "graph: begin works_at")
	}
	defer tx.Rollback() //nolint:errcheck

	src, dst := PersonID(w.Email), CompanyID(w.CompanyKey)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM edges WHERE src = ? AND type = ? AND dst != ?`,
		src, string(model.RelWorksAt), dst,
	); err != nil {
		return eris.Wrapf(err, "graph: clear employers of %s", w.Email)
	}
	now := s.stamp()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO edges (src, dst, type, role, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(src, dst, type) DO UPDATE SET
			role = excluded.role,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at`,
		src, dst, string(model.RelWorksAt), w.Role, w.Confidence, now, now,
	); err != nil {
		return eris.Wrapf(err, "graph: upsert works_at %s -> %s", w.Email, w.CompanyKey)
	}
	return eris.Wrap(tx.Commit(), "graph: commit works_at")
}

// UpsertDiscussed implements Store. created_at is kept from the first write.
func (s *SQLiteStore) UpsertDiscussed(ctx context.Context, d model.Discussed) error {
	created := d.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (src, dst, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(src, dst, type) DO UPDATE SET updated_at = excluded.updated_at`,
		PersonID(d.Email), TopicID(d.TopicKey), string(model.RelDiscussed), created.Unix(), s.stamp(),
	)
	return eris.Wrapf(err, "graph: upsert discussed %s -> %s", d.Email, d.TopicKey)
}

// SetCCTogether implements Store.
func (s *SQLiteStore) SetCCTogether(ctx context.Context, c model.CCTogether) error {
	c = model.NewCCTogether(c.A, c.B, c.Count)
	now := s.stamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (src, dst, type, count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(src, dst, type) DO UPDATE SET
			count = excluded.count,
			updated_at = excluded.updated_at`,
		PersonID(c.A), PersonID(c.B), string(model.RelCCTogether), c.Count, now, now,
	)
	return eris.Wrapf(err, "graph: set cc_together %s, %s", c.A, c.B)
}

// UpsertLinkedInConnection implements Store.
func (s *SQLiteStore) UpsertLinkedInConnection(ctx context.Context, l model.LinkedInConnection) error {
	now := s.stamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (src, dst, type, degree, connected_on, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(src, dst, type) DO UPDATE SET
			degree = excluded.degree,
			connected_on = CASE WHEN excluded.connected_on != 0 THEN excluded.connected_on ELSE edges.connected_on END,
			updated_at = excluded.updated_at`,
		PersonID(l.From), PersonID(l.To), string(model.RelLinkedInConnected),
		l.Degree, unixOrZero(l.ConnectedOn), now, now,
	)
	return eris.Wrapf(err, "graph: upsert linkedin %s -> %s", l.From, l.To)
}

// Counts implements Store.
func (s *SQLiteStore) Counts(ctx context.Context) (model.GraphCounts, error) {
	out := model.GraphCounts{Edges: make(map[model.RelType]int)}
	for _, q := range []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM persons", &out.Persons},
		{"SELECT COUNT(*) FROM companies", &out.Companies},
		{"SELECT COUNT(*) FROM topics", &out.Topics},
	} {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return out, eris.Wrap(err, "graph: count nodes")
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM edges GROUP BY type")
	if err != nil {
		return out, eris.Wrap(err, "graph: count edges")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return out, eris.Wrap(err, "graph: scan edge count")
		}
		out.Edges[model.RelType(t)] = n
	}
	return out, eris.Wrap(rows.Err(), "graph: iterate edge counts")
}

// Paths implements Store with one join per hop count. Paths never pass
// through a start address and never revisit a node.
func (s *SQLiteStore) Paths(ctx context.Context, q PathQuery) ([]model.Path, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.MaxHops > sqliteMaxHops {
		return nil, eris.Errorf("graph: sqlite traversal supports at most %d hops, got %d", sqliteMaxHops, q.MaxHops)
	}

	var out []model.Path
	for hops := q.MinHops; hops <= q.MaxHops; hops++ {
		query, args := buildSQLitePathQuery(q, hops)
		paths, err := s.scanPaths(ctx, query, args, hops)
		if err != nil {
			return nil, eris.Wrapf(err, "graph: %d-hop paths", hops)
		}
		out = append(out, paths...)
	}
	return out, nil
}

// buildSQLitePathQuery joins hops copies of the edge table. Each edge row
// contributes (src, dst, type, strength, last_contact); the target person's
// columns follow.
func buildSQLitePathQuery(q PathQuery, hops int) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)

	sb.WriteString("SELECT ")
	for i := 1; i <= hops; i++ {
		fmt.Fprintf(&sb, "e%[1]d.src, e%[1]d.dst, e%[1]d.type, e%[1]d.strength, e%[1]d.last_contact, ", i)
	}
	sb.WriteString("t.email, t.name, t.company, t.role, t.linkedin_url\nFROM edges e1\n")
	for i := 2; i <= hops; i++ {
		fmt.Fprintf(&sb, "JOIN edges e%d ON e%d.src = e%d.dst\n", i, i, i-1)
	}
	fmt.Fprintf(&sb, "JOIN persons t ON t.id = e%d.dst\nWHERE ", hops)

	fromIDs := make([]any, len(q.From))
	for i, f := range q.From {
		fromIDs[i] = PersonID(normalize.Email(f))
	}
	rels := make([]any, len(q.Rels))
	for i, r := range q.Rels {
		rels[i] = string(r)
	}

	conds := []string{"e1.src IN (" + placeholders(len(fromIDs)) + ")"}
	args = append(args, fromIDs...)
	for i := 1; i <= hops; i++ {
		conds = append(conds, fmt.Sprintf("e%d.type IN (%s)", i, placeholders(len(rels))))
		args = append(args, rels...)
		conds = append(conds, fmt.Sprintf("e%d.dst NOT IN (%s)", i, placeholders(len(fromIDs))))
		args = append(args, fromIDs...)
	}
	if hops == 2 {
		conds = append(conds, "e2.dst != e1.dst")
	}

	var target []string
	if q.TargetEmail != "" {
		target = append(target, "t.email = ?")
		args = append(args, normalize.Email(q.TargetEmail))
	}
	if q.TargetName != "" {
		target = append(target, "lower(t.name) LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(strings.ToLower(strings.TrimSpace(q.TargetName)))+"%")
	}
	if q.TargetCompany != "" {
		target = append(target, "EXISTS (SELECT 1 FROM edges w WHERE w.src = t.id AND w.type = ? AND w.dst = ?)")
		args = append(args, string(model.RelWorksAt), CompanyID(q.TargetCompany))
	}
	conds = append(conds, "("+strings.Join(target, " OR ")+")")

	sb.WriteString(strings.Join(conds, "\n  AND "))
	return sb.String(), args
}

func (s *SQLiteStore) scanPaths(ctx context.Context, query string, args []any, hops int) ([]model.Path, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Path
	for rows.Next() {
		type rawHop struct {
			src, dst, typ string
			strength      float64
			last          int64
		}
		raw := make([]rawHop, hops)
		var p model.Path
		dest := make([]any, 0, hops*5+5)
		for i := range raw {
			dest = append(dest, &raw[i].src, &raw[i].dst, &raw[i].typ, &raw[i].strength, &raw[i].last)
		}
		dest = append(dest, &p.Target.Email, &p.Target.Name, &p.Target.Company, &p.Target.Role, &p.Target.LinkedInURL)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		p.Hops = make([]model.Hop, hops)
		for i, h := range raw {
			p.Hops[i] = model.Hop{
				From:          emailOf(h.src),
				To:            emailOf(h.dst),
				Type:          model.RelType(h.typ),
				StrengthScore: h.strength,
				LastContact:   timeOrZero(h.last),
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
