package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"hookchat/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestClient(t *testing.T, url string, mutate ...func(*ClientConfig)) *Client {
	t.Helper()
	cfg := ClientConfig{
		URL:     url,
		Timeout: 2 * time.Second,
		Logger:  testLogger(),
		Now:     func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "ftp://host/x", "/relative/path"} {
		_, err := NewClient(ClientConfig{URL: u})
		assert.Error(t, err, "url %q", u)
	}
}

func TestSend_PostsJSON(t *testing.T) {
	var gotBody map[string]any
	var gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotCT = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"message":"hi there"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Send(context.Background(), domain.FormData{
		TaskDescription: "hello",
		Extra:           map[string]any{"source": "test"},
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, "hello", gotBody["taskDescription"])
	assert.Equal(t, "test", gotBody["source"])
	assert.Equal(t, "hi there", resp.Message)
	assert.Equal(t, domain.StatusProcessed, resp.Status)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "hello", resp.ReceivedData.TaskDescription)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), resp.ProcessedAt)
}

func TestSend_UsesReplyMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"n8n-1","status":"Pending","processedAt":"2024-06-01T12:00:00Z","message":"queued"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Send(context.Background(), domain.FormData{TaskDescription: "x"})
	require.NoError(t, err)
	assert.Equal(t, "n8n-1", resp.ID)
	assert.Equal(t, domain.StatusPending, resp.Status)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), resp.ProcessedAt.UTC())
}

func TestSend_UnknownStatusDefaultsToProcessed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"done","message":"ok"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Send(context.Background(), domain.FormData{TaskDescription: "x"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, resp.Status)
}

func TestSend_EmptyBodyGivesPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Send(context.Background(), domain.FormData{TaskDescription: "x"})
	require.NoError(t, err)
	assert.Equal(t, Placeholder, resp.Message)
}

func TestSend_ErrorStatusWithMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":404,"message":"The requested webhook is not registered."}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Send(context.Background(), domain.FormData{TaskDescription: "x"})
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, FailureHTTP, f.Kind)
	assert.Equal(t, http.StatusNotFound, f.StatusCode)
	assert.Equal(t, "The requested webhook is not registered.", UserMessage(err))
}

func TestSend_ErrorStatusWithErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"missing field"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Send(context.Background(), domain.FormData{TaskDescription: "x"})
	assert.Equal(t, "missing field", UserMessage(err))
}

func TestSend_ErrorStatusGeneric(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Send(context.Background(), domain.FormData{TaskDescription: "x"})
	assert.Equal(t, "webhook request failed with status 500", UserMessage(err))
}

func TestSend_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).Send(context.Background(), domain.FormData{TaskDescription: "x"})
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, FailureTransport, f.Kind)
	assert.Equal(t, ConnectionFailedMessage, UserMessage(err))
	assert.NotNil(t, errors.Unwrap(err))
}

func TestSend_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestClient(t, srv.URL).Send(ctx, domain.FormData{TaskDescription: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSend_SignsBodyAndSetsHeaders(t *testing.T) {
	const secret = "s3cret"
	var sig, custom string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(SignatureHeader)
		custom = r.Header.Get("X-Api-Key")
		body, _ = io.ReadAll(r.Body)
		w.Write([]byte(`"ok"`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(cfg *ClientConfig) {
		cfg.Secret = secret
		cfg.Headers = map[string]string{"X-Api-Key": "k1"}
	})
	resp, err := c.Send(context.Background(), domain.FormData{TaskDescription: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message)
	assert.Equal(t, "k1", custom)
	assert.True(t, Verify(body, secret, sig), "signature should verify")
}

func TestVerify_RejectsBadSignatures(t *testing.T) {
	body := []byte(`{"taskDescription":"x"}`)
	assert.False(t, Verify(body, "secret", ""))
	assert.False(t, Verify(body, "secret", "sha256=invalid"))
	assert.False(t, Verify(body, "other", Sign(body, "secret")))
}

func TestUserMessage_NonFailure(t *testing.T) {
	assert.Equal(t, ConnectionFailedMessage, UserMessage(errors.New("x")))
}

func TestSend_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"ok"`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(cfg *ClientConfig) {
		cfg.RatePerMinute = 1
		cfg.Burst = 1
	})
	_, err := c.Send(context.Background(), domain.FormData{TaskDescription: "first"})
	require.NoError(t, err)

	// The bucket is empty and refills once a minute.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Send(ctx, domain.FormData{TaskDescription: "second"})
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, FailureTransport, f.Kind)
}

func TestSend_ResponseTooLarge(t *testing.T) {
	reply := `{"message":"` + strings.Repeat("a", 100) + `"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(reply))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(cfg *ClientConfig) { cfg.MaxResponseBytes = 50 })
	resp, err := c.Send(context.Background(), domain.FormData{TaskDescription: "hi"})
	assert.Nil(t, resp)
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, FailureTooLarge, f.Kind)
	assert.Equal(t, TooLargeMessage, UserMessage(err))

	// A reply of exactly the limit still goes through.
	c = newTestClient(t, srv.URL, func(cfg *ClientConfig) { cfg.MaxResponseBytes = int64(len(reply)) })
	resp, err = c.Send(context.Background(), domain.FormData{TaskDescription: "hi"})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 100), resp.Message)
}
