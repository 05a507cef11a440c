package mailstore

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/relgraph/internal/model"
)

const testIndexSchema = `
CREATE TABLE messages (
	message_id   TEXT PRIMARY KEY,
	thread_id    TEXT,
	from_address TEXT NOT NULL,
	from_name    TEXT,
	to_addresses TEXT NOT NULL DEFAULT '[]',
	cc_addresses TEXT NOT NULL DEFAULT '[]',
	subject      TEXT,
	date         DATETIME NOT NULL,
	in_reply_to  TEXT,
	body_plain   TEXT,
	body_html    TEXT
);`

type indexRow struct {
	model.Message
	Plain, HTML string
}

func day(d int) time.Time { return time.Date(2025, 1, d, 9, 0, 0, 0, time.UTC) }

// fixtureMessages is a small mailbox for me@example.com.
func fixtureMessages() []indexRow {
	return []indexRow{
		{Message: model.Message{ID: "m1", ThreadID: "t1", FromAddress: "me@example.com", To: []string{"alice@acme.com"}, CC: []string{"bob@beta.io"}, Subject: "Kickoff", Date: day(1)}, Plain: "Hi both"},
		{Message: model.Message{ID: "m2", ThreadID: "t1", FromAddress: "alice@acme.com", FromName: "Alice A", To: []string{"me@example.com"}, Subject: "Re: Kickoff", Date: day(2), InReplyTo: "m1"}, Plain: "Sounds good"},
		{Message: model.Message{ID: "m3", ThreadID: "t2", FromAddress: "carol@gamma.org", To: []string{"me@example.com"}, CC: []string{"alice@acme.com", "bob@beta.io", "me@personal.net"}, Subject: "Intro", Date: day(3)}},
		{Message: model.Message{ID: "m4", ThreadID: "t1", FromAddress: "bob@beta.io", To: []string{"me@example.com"}, Subject: "Re: Kickoff", Date: day(4)}},
		{Message: model.Message{ID: "m5", ThreadID: "t3", FromAddress: "news@letters.com", To: []string{"me@example.com"}, Subject: "Weekly", Date: day(5)}, HTML: "<html><head><title>x</title><style>p{}</style></head><body><p>Big   news</p><script>evil()</script><div>today</div></body></html>"},
	}
}

// newTestIndex writes rows into a fresh index file and opens it read-only.
func newTestIndex(t *testing.T, rows []indexRow) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mail.db")

	w, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = w.Exec(testIndexSchema)
	require.NoError(t, err)
	for _, r := range rows {
		to, _ := json.Marshal(r.To)
		cc, _ := json.Marshal(r.CC)
		if r.CC == nil {
			cc = []byte("[]")
		}
		_, err := w.Exec(`INSERT INTO messages VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.ThreadID, r.FromAddress, r.FromName, string(to), string(cc),
			r.Subject, r.Date, r.InReplyTo, nullIfEmpty(r.Plain), nullIfEmpty(r.HTML))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	st, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
