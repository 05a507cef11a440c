package mailstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/relgraph/internal/model"
	"github.com/sells-group/relgraph/internal/normalize"
)

// SQLiteStore reads a local message index. Recipient columns hold JSON
// arrays of addresses.
//
//	messages(message_id, thread_id, from_address, from_name, to_addresses,
//	         cc_addresses, subject, date, in_reply_to, body_plain, body_html)
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens the index at path read-only.
func NewSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, eris.New("mailstore: sqlite path is empty")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if !strings.Contains(dsn, "mode=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "mode=ro"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "mailstore: open sqlite")
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "mailstore: configure sqlite")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMessagesFor = `
SELECT message_id, COALESCE(subject, ''), date, from_address
FROM messages m
WHERE lower(m.from_address) = ?
   OR EXISTS (SELECT 1 FROM json_each(m.to_addresses) WHERE lower(value) = ?)
   OR EXISTS (SELECT 1 FROM json_each(m.cc_addresses) WHERE lower(value) = ?)
ORDER BY m.date DESC, m.message_id
LIMIT ?`

// MessagesFor implements Store.
func (s *SQLiteStore) MessagesFor(ctx context.Context, addr string, limit int) ([]model.MessageSummary, error) {
	addr = normalize.Email(addr)
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, sqliteMessagesFor, addr, addr, addr, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "mailstore: messages for %s", addr)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MessageSummary
	for rows.Next() {
		var m model.MessageSummary
		if err := rows.Scan(&m.ID, &m.Subject, &m.Date, &m.FromAddress); err != nil {
			return nil, eris.Wrap(err, "mailstore: scan message summary")
		}
		m.FromAddress = normalize.Email(m.FromAddress)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "mailstore: iterate message summaries")
}

const sqliteEach = `
SELECT message_id, COALESCE(thread_id, ''), from_address, COALESCE(from_name, ''),
       COALESCE(to_addresses, '[]'), COALESCE(cc_addresses, '[]'),
       COALESCE(subject, ''), date, COALESCE(in_reply_to, '')
FROM messages
ORDER BY date, message_id`

// Each implements Store.
func (s *SQLiteStore) Each(ctx context.Context, fn func(model.Message) error) error {
	rows, err := s.db.QueryContext(ctx, sqliteEach)
	if err != nil {
		return eris.Wrap(err, "mailstore: scan messages")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var (
			m      model.Message
			to, cc string
			date   time.Time
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.FromAddress, &m.FromName, &to, &cc, &m.Subject, &date, &m.InReplyTo); err != nil {
			return eris.Wrap(err, "mailstore: scan message")
		}
		m.Date = date
		if m.To, err = decodeAddresses(to); err != nil {
			return eris.Wrapf(err, "mailstore: message %s to_addresses", m.ID)
		}
		if m.CC, err = decodeAddresses(cc); err != nil {
			return eris.Wrapf(err, "mailstore: message %s cc_addresses", m.ID)
		}
		m.FromAddress = normalize.Email(m.FromAddress)
		if err := fn(m); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "mailstore: iterate messages")
}

// FetchBody implements BodyFetcher from the index's own body columns.
func (s *SQLiteStore) FetchBody(ctx context.Context, messageID string) (*model.MessageBody, error) {
	var plain, html sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT body_plain, body_html FROM messages WHERE message_id = ?", messageID,
	).Scan(&plain, &html)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "mailstore: body %s", messageID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "mailstore: body %s", messageID)
	}
	return &model.MessageBody{Plain: plain.String, HTML: html.String}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeAddresses(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var addrs []string
	if err := json.Unmarshal([]byte(raw), &addrs); err != nil {
		return nil, err
	}
	return normalizeAll(addrs), nil
}

func normalizeAll(addrs []string) []string {
	out := addrs[:0]
	for _, a := range addrs {
		if a = normalize.Email(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
