package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func TestFetchBody_Multipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmail/v1/users/me/messages/abc123", r.URL.Path)
		assert.Equal(t, "full", r.URL.Query().Get("format"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "abc123",
			"payload": {
				"mimeType": "multipart/alternative",
				"parts": [
					{"mimeType": "text/plain", "body": {"data": "` + b64("Hello Jane?") + `"}},
					{"mimeType": "text/html", "body": {"data": "` + b64("<p>Hello Jane?</p>") + `"}}
				]
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL), WithRateLimit(0))
	body, err := c.FetchBody(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Hello Jane?", body.Plain)
	assert.Equal(t, "<p>Hello Jane?</p>", body.HTML)
}

func TestFetchBody_SinglePartUnpadded(t *testing.T) {
	data := base64.RawURLEncoding.EncodeToString([]byte("just text"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","payload":{"mimeType":"text/plain","body":{"data":"` + data + `"}}}`))
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
	body, err := c.FetchBody(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "just text", body.Plain)
	assert.Empty(t, body.HTML)
}

func TestFetchBody_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate"}`))
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL), WithRateLimit(0))
	_, err := c.FetchBody(context.Background(), "x")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.True(t, se.Temporary())
	assert.False(t, (&StatusError{StatusCode: 404}).Temporary())
}

func TestFetchBody_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewClient("tok", WithBaseURL(srv.URL)).FetchBody(context.Background(), "x")
	assert.Error(t, err)
}

func TestFetchBody_CancelledWhileLimited(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient("tok", WithBaseURL("http://127.0.0.1:1"), WithRateLimit(1)).FetchBody(ctx, "x")
	assert.Error(t, err)
}

func TestDecodePart(t *testing.T) {
	s, err := decodePart(b64("héllo"))
	require.NoError(t, err)
	assert.Equal(t, "héllo", s)

	_, err = decodePart("!!!")
	assert.Error(t, err)
}
