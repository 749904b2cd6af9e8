package conversation

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"hookchat/internal/domain"
	"hookchat/internal/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// pngHeader is enough for http.DetectContentType to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeSender struct {
	mu      sync.Mutex
	calls   []domain.FormData
	reply   string
	err     error
	gate    chan struct{} // when set, Send blocks until it is closed
	started chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, form domain.FormData) (*domain.WebhookResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, form)
	gate, started := f.gate, f.started
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.WebhookResponse{ID: "r1", ReceivedData: form, Status: domain.StatusProcessed, Message: f.reply}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestSubmit_Success(t *testing.T) {
	sender := &fakeSender{reply: "hi there"}
	var got []domain.WebhookResponse
	c := New(Config{Sender: sender, OnExchange: func(r domain.WebhookResponse) { got = append(got, r) }})
	c.SetDraft("hello")

	res, err := c.Submit(context.Background(), "  hello ", nil)
	require.NoError(t, err)
	require.NotNil(t, res.Response)

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.Entry{Type: domain.EntryUser, Content: "hello"}, entries[0])
	assert.Equal(t, domain.Entry{Type: domain.EntryBot, Content: "hi there"}, entries[1])
	assert.Equal(t, entries, res.Entries)
	assert.Equal(t, "hello", sender.calls[0].TaskDescription)
	assert.Empty(t, c.Draft())
	assert.False(t, c.Busy())
	assert.Equal(t, StateHasEntries, c.State())
	assert.Len(t, got, 1)
}

func TestSubmit_EmptyIsNoop(t *testing.T) {
	sender := &fakeSender{}
	c := New(Config{Sender: sender})
	c.SetDraft("   ")

	_, err := c.Submit(context.Background(), " \n\t", nil)
	assert.ErrorIs(t, err, ErrEmptySubmission)
	assert.Empty(t, c.Entries())
	assert.Equal(t, StateEmpty, c.State())
	assert.Equal(t, "   ", c.Draft(), "draft untouched")
	assert.Zero(t, sender.count())
}

func TestSubmit_WebhookFailure(t *testing.T) {
	sender := &fakeSender{err: &webhook.Failure{Kind: webhook.FailureHTTP, StatusCode: 500, Message: "boom"}}
	exchanges := 0
	c := New(Config{Sender: sender, OnExchange: func(domain.WebhookResponse) { exchanges++ }})

	res, err := c.Submit(context.Background(), "hello", nil)
	var f *webhook.Failure
	require.ErrorAs(t, err, &f)
	require.Len(t, res.Entries, 2)
	assert.Nil(t, res.Response)
	assert.Equal(t, "Error - boom", c.Entries()[1].Content)
	assert.Equal(t, domain.EntryBot, c.Entries()[1].Type)
	assert.False(t, c.Busy())
	assert.Zero(t, exchanges)
}

func TestSubmit_TransportFailureText(t *testing.T) {
	c := New(Config{Sender: &fakeSender{err: errors.New("dial tcp: refused")}})
	_, err := c.Submit(context.Background(), "hello", nil)
	require.Error(t, err)
	assert.Equal(t, "Error - "+webhook.ConnectionFailedMessage, c.Entries()[1].Content)
}

func TestSubmit_RejectsWhileBusy(t *testing.T) {
	sender := &fakeSender{reply: "done", gate: make(chan struct{}), started: make(chan struct{}, 1)}
	c := New(Config{Sender: sender})

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), "first", nil)
		done <- err
	}()
	<-sender.started
	require.True(t, c.Busy())

	_, err := c.Submit(context.Background(), "second", nil)
	assert.ErrorIs(t, err, ErrBusy)
	require.Len(t, c.Entries(), 1, "rejected submission adds nothing")

	close(sender.gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, sender.count())
	assert.Len(t, c.Entries(), 2)
	assert.False(t, c.Busy())
}

func TestNewChat_DropsPendingReply(t *testing.T) {
	sender := &fakeSender{reply: "late", gate: make(chan struct{}), started: make(chan struct{}, 1)}
	exchanges := 0
	c := New(Config{Sender: sender, OnExchange: func(domain.WebhookResponse) { exchanges++ }})

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), "first", nil)
		done <- err
	}()
	<-sender.started

	c.NewChat()
	assert.Empty(t, c.Entries())
	assert.False(t, c.Busy())

	close(sender.gate)
	assert.ErrorIs(t, <-done, ErrReset)
	assert.Empty(t, c.Entries(), "late reply must not land in the new chat")
	assert.Zero(t, exchanges)
}

func TestNewChat_ClearsEverything(t *testing.T) {
	c := New(Config{Sender: &fakeSender{reply: "x"}})
	_, err := c.Submit(context.Background(), "one", nil)
	require.NoError(t, err)
	c.SetDraft("typing")

	c.NewChat()
	assert.Empty(t, c.Entries())
	assert.Empty(t, c.Draft())
	assert.Equal(t, StateEmpty, c.State())
}

func TestSubmit_ImageAttachment(t *testing.T) {
	sender := &fakeSender{reply: "nice picture"}
	c := New(Config{Sender: sender})

	res, err := c.Submit(context.Background(), "", &Attachment{Name: "cat.png", MimeType: "image/png", Data: pngHeader})
	require.NoError(t, err)

	form := sender.calls[0]
	assert.True(t, strings.HasPrefix(form.FileDataURI, "data:image/png;base64,"))
	assert.Equal(t, "cat.png", form.FileName)
	assert.Equal(t, "image/png", form.FileMimeType)
	assert.Equal(t, form.FileDataURI, res.Entries[0].Image)
	assert.Equal(t, "cat.png", res.Entries[0].Content)
}

func TestSubmit_AttachmentRejected(t *testing.T) {
	cases := []struct {
		name string
		att  Attachment
		max  int64
		want string
	}{
		{"not an image", Attachment{Name: "notes.txt", MimeType: "text/plain", Data: []byte("hello")}, 0, "only images"},
		{"too large", Attachment{Name: "big.png", Data: pngHeader}, 4, "larger than 4 bytes"},
		{"empty", Attachment{Name: "zero.png"}, 0, "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender := &fakeSender{}
			c := New(Config{Sender: sender, MaxAttachmentBytes: tc.max})
			res, err := c.Submit(context.Background(), "look", &tc.att)

			var ae *AttachmentError
			require.ErrorAs(t, err, &ae)
			assert.Contains(t, ae.Error(), tc.want)
			assert.Zero(t, sender.count(), "no webhook call")
			require.Len(t, res.Entries, 2)
			assert.Equal(t, domain.EntryUser, res.Entries[0].Type)
			assert.Empty(t, res.Entries[0].Image)
			assert.Equal(t, domain.EntrySystem, res.Entries[1].Type)
			assert.False(t, c.Busy())
		})
	}
}

func TestSubmit_DeclaredSVGAccepted(t *testing.T) {
	sender := &fakeSender{reply: "ok"}
	c := New(Config{Sender: sender})
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`)
	_, err := c.Submit(context.Background(), "logo", &Attachment{Name: "logo.svg", MimeType: "image/svg+xml", Data: svg})
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", sender.calls[0].FileMimeType)
}

func TestSubmit_ContextCancelledWhileWaiting(t *testing.T) {
	sender := &fakeSender{gate: make(chan struct{})}
	defer close(sender.gate)
	c := New(Config{Sender: sender})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Submit(ctx, "hello", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, c.Busy())
	assert.True(t, strings.HasPrefix(c.Entries()[1].Content, "Error - "))
}

func TestDecodeDataURI(t *testing.T) {
	png := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)
	att, err := DecodeDataURI("cat.png", png, 1<<10)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, att.Data)
	assert.Equal(t, "image/png", att.MimeType)

	cases := map[string]struct {
		uri  string
		want string
	}{
		"not a data uri": {"https://example.com/cat.png", "not a data URI"},
		"non image":      {"data:application/x-msdownload;base64,TVqQAAMAAAAEAAAA", "only images"},
		"not base64":     {"data:image/png,rawbytes", "base64"},
		"bad payload":    {"data:image/png;base64,***", "invalid base64"},
		"too large":      {png, "larger than 4 bytes"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			limit := int64(1 << 10)
			if name == "too large" {
				limit = 4
			}
			_, err := DecodeDataURI("f", tc.uri, limit)
			var ae *AttachmentError
			require.ErrorAs(t, err, &ae)
			assert.Contains(t, ae.Error(), tc.want)
		})
	}
}
