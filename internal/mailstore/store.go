// Package mailstore reads the user's message index. Backends never mutate
// the index; bodies are cached separately by the extraction cache.
package mailstore

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/relgraph/internal/config"
	"github.com/sells-group/relgraph/internal/db"
	"github.com/sells-group/relgraph/internal/model"
)

// ErrNotFound is returned by FetchBody for unknown message ids.
var ErrNotFound = eris.New("mailstore: message not found")

// Store is the read-only view of the communication index.
type Store interface {
	// MessagesFor returns messages where addr is the sender or any
	// recipient, newest first. limit <= 0 returns all.
	MessagesFor(ctx context.Context, addr string, limit int) ([]model.MessageSummary, error)
	// Each calls fn for every message in date order and stops at the
	// first error fn returns.
	Each(ctx context.Context, fn func(model.Message) error) error
	BodyFetcher
	Close() error
}

// BodyFetcher returns the raw body of one message.
type BodyFetcher interface {
	FetchBody(ctx context.Context, messageID string) (*model.MessageBody, error)
}

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.MailConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres":
		pool, err := db.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, eris.Wrap(err, "mailstore: open postgres")
		}
		return NewPostgres(pool), nil
	default:
		return nil, eris.Errorf("mailstore: unknown driver %q", cfg.Driver)
	}
}
