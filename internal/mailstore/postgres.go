package mailstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/relgraph/internal/db"
	"github.com/sells-group/relgraph/internal/model"
	"github.com/sells-group/relgraph/internal/normalize"
)

// PostgresStore reads a message index kept in Postgres. Recipients are
// text[] columns holding lower-cased addresses.
type PostgresStore struct {
	pool db.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres wraps an open pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const pgMessagesFor = `SELECT message_id, COALESCE(subject, ''), date, from_address
FROM messages
WHERE lower(from_address) = $1 OR $1 = ANY(to_addresses) OR $1 = ANY(cc_addresses)
ORDER BY date DESC, message_id
LIMIT $2`

// MessagesFor implements Store.
func (s *PostgresStore) MessagesFor(ctx context.Context, addr string, limit int) ([]model.MessageSummary, error) {
	addr = normalize.Email(addr)
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, pgMessagesFor, addr, lim)
	if err != nil {
		return nil, eris.Wrapf(err, "mailstore: messages for %s", addr)
	}
	defer rows.Close()

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

const pgEach = `SELECT message_id, COALESCE(thread_id, ''), from_address, COALESCE(from_name, ''),
	COALESCE(to_addresses, '{}'), COALESCE(cc_addresses, '{}'),
	COALESCE(subject, ''), date, COALESCE(in_reply_to, '')
FROM messages
ORDER BY date, message_id`

// Each implements Store.
func (s *PostgresStore) Each(ctx context.Context, fn func(model.Message) error) error {
	rows, err := s.pool.Query(ctx, pgEach)
	if err != nil {
		return eris.Wrap(err, "mailstore: scan messages")
	}
	defer rows.Close()

	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.FromAddress, &m.FromName, &m.To, &m.CC, &m.Subject, &m.Date, &m.InReplyTo); err != nil {
			return eris.Wrap(err, "mailstore: scan message")
		}
		m.FromAddress = normalize.Email(m.FromAddress)
		m.To = normalizeAll(m.To)
		m.CC = normalizeAll(m.CC)
		if err := fn(m); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "mailstore: iterate messages")
}

// FetchBody implements BodyFetcher.
func (s *PostgresStore) FetchBody(ctx context.Context, messageID string) (*model.MessageBody, error) {
	var plain, html *string
	err := s.pool.QueryRow(ctx,
		"SELECT body_plain, body_html FROM messages WHERE message_id = $1", messageID,
	).Scan(&plain, &html)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "mailstore: body %s", messageID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "mailstore: body %s", messageID)
	}
	body := &model.MessageBody{}
	if plain != nil {
		body.Plain = *plain
	}
	if html != nil {
		body.HTML = *html
	}
	return body, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
