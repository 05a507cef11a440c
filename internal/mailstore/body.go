package mailstore

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/sells-group/relgraph/internal/resilience"
)

// BodyCache is the slice of the extraction cache the resolver needs.
type BodyCache interface {
	GetBody(ctx context.Context, messageID string) (string, bool, error)
	PutBody(ctx context.Context, messageID, body string) error
}

// BodyResolver returns message text, cache first. Fetch failures yield ""
// and are not cached, so a later run tries again.
type BodyResolver struct {
	cache   BodyCache
	fetcher BodyFetcher
	breaker *resilience.Breaker
}

// NewBodyResolver creates a resolver. breaker may be nil.
func NewBodyResolver(cache BodyCache, fetcher BodyFetcher, breaker *resilience.Breaker) *BodyResolver {
	return &BodyResolver{cache: cache, fetcher: fetcher, breaker: breaker}
}

// Resolve returns the text of one message.
func (r *BodyResolver) Resolve(ctx context.Context, messageID string) string {
	log := zap.L().With(zap.String("message_id", messageID))

	if body, ok, err := r.cache.GetBody(ctx, messageID); err != nil {
		log.Warn("mailstore: body cache read failed", zap.Error(err))
	} else if ok {
		return body
	}

	fetch := func(ctx context.Context) (string, error) {
		b, err := r.fetcher.FetchBody(ctx, messageID)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(b.Plain) != "" {
			return collapseSpace(b.Plain), nil
		}
		return HTMLToText(b.HTML), nil
	}

	var (
		text string
		err  error
	)
	if r.breaker != nil {
		text, err = resilience.ExecuteVal(ctx, r.breaker, fetch)
	} else {
		text, err = fetch(ctx)
	}
	if err != nil {
		log.Warn("mailstore: body fetch failed", zap.Error(err))
		return ""
	}

	if err := r.cache.PutBody(ctx, messageID, text); err != nil {
		log.Warn("mailstore: body cache write failed", zap.Error(err))
	}
	return text
}

var skipElements = map[string]bool{
	"script": true, "style": true, "head": true, "noscript": true, "template": true,
}

// HTMLToText strips markup and collapses whitespace. Unparsable input is
// returned with whitespace collapsed.
func HTMLToText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return collapseSpace(s)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return collapseSpace(sb.String())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
