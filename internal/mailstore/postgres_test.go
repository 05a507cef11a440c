package mailstore

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/relgraph/internal/model"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgres(mock), mock
}

func TestPostgres_MessagesFor(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	when := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT message_id, .* FROM messages\s+WHERE lower\(from_address\) = \$1 OR \$1 = ANY\(to_addresses\)`).
		WithArgs("alice@acme.com", 2).
		WillReturnRows(pgxmock.NewRows([]string{"message_id", "subject", "date", "from_address"}).
			AddRow("m2", "Re: hi", when, "Alice@Acme.com").
			AddRow("m1", "hi", when.Add(-time.Hour), "me@example.com"))

	got, err := s.MessagesFor(context.Background(), "Alice@acme.com", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "alice@acme.com", got[0].FromAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MessagesFor_NoLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM messages`).
		WithArgs("alice@acme.com", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"message_id", "subject", "date", "from_address"}))

	got, err := s.MessagesFor(context.Background(), "alice@acme.com", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Each(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	when := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`ORDER BY date, message_id`).
		WillReturnRows(pgxmock.NewRows([]string{
			"message_id", "thread_id", "from_address", "from_name", "to_addresses",
			"cc_addresses", "subject", "date", "in_reply_to",
		}).AddRow("m1", "t1", "Me@Example.com", "Me", []string{"Alice@acme.com"}, []string{}, "hi", when, ""))

	var got []model.Message
	require.NoError(t, s.Each(context.Background(), func(m model.Message) error {
		got = append(got, m)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, "me@example.com", got[0].FromAddress)
	assert.Equal(t, []string{"alice@acme.com"}, got[0].To)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FetchBody(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	plain := "hello"

	mock.ExpectQuery(`SELECT body_plain, body_html FROM messages WHERE message_id = \$1`).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"body_plain", "body_html"}).AddRow(&plain, (*string)(nil)))

	b, err := s.FetchBody(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello", b.Plain)
	assert.Empty(t, b.HTML)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FetchBody_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT body_plain`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.FetchBody(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
