package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/khnews/crosspost/internal/publish"
	"github.com/khnews/crosspost/internal/retry"
)

type sentCall struct {
	method string
	silent bool
	text   string
}

type fakeAPI struct {
	mu       sync.Mutex
	calls    []sentCall
	failures int // initial requests answered with the failure body
	failBody string
	failCode int
}

func (f *fakeAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]

		var silent bool
		var text string
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var payload map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("bad json payload: %v", err)
			}
			silent, _ = payload["disable_notification"].(bool)
			text, _ = payload["text"].(string)
		} else {
			if err := r.ParseMultipartForm(32 << 20); err != nil {
				t.Errorf("bad multipart payload: %v", err)
			}
			silent = r.FormValue("disable_notification") == "true"
		}

		f.mu.Lock()
		f.calls = append(f.calls, sentCall{method: method, silent: silent, text: text})
		mustFail := f.failures > 0
		if mustFail {
			f.failures--
		}
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if mustFail {
			w.WriteHeader(f.failCode)
			_, _ = w.Write([]byte(f.failBody))
			return
		}

		switch method {
		case "sendMediaGroup":
			_, _ = w.Write([]byte(`{"ok":true,"result":[{"message_id":1},{"message_id":2}]}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":3}}`))
		}
	}
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 1.0}
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return New("token", "@channel", 4096, 10, 5*time.Second,
		WithAPIBase(srv.URL), WithRetryPolicy(fastPolicy()))
}

func tempMedia(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for _, name := range names {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func TestPublishNotifiesOnlyOnFinalSend(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	media := tempMedia(t, "a.jpg", "b.jpg", "clip.mp4")
	out := c.Publish(context.Background(), publish.Payload{
		ArticleID: 101,
		Title:     "Headline",
		Body:      "Body text.",
		Images:    media[:2],
		Videos:    media[2:],
	}, publish.Options{NotifyOnFinal: true})

	if !out.OK {
		t.Fatalf("publish failed: %v", out.Err)
	}

	// album, video, one text chunk
	if len(api.calls) != 3 {
		t.Fatalf("expected 3 sends, got %d: %+v", len(api.calls), api.calls)
	}
	for i, call := range api.calls[:len(api.calls)-1] {
		if !call.silent {
			t.Errorf("send %d (%s) should be silent", i, call.method)
		}
	}
	last := api.calls[len(api.calls)-1]
	if last.silent {
		t.Error("final send must carry the notification")
	}
	if last.method != "sendMessage" {
		t.Errorf("text chunk should be last, got %s", last.method)
	}
}

func TestPublishAllSilentWhenNotFinalArticle(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	out := c.Publish(context.Background(), publish.Payload{
		ArticleID: 101,
		Title:     "Headline",
		Body:      "Body text.",
	}, publish.Options{})

	if !out.OK {
		t.Fatalf("publish failed: %v", out.Err)
	}
	for i, call := range api.calls {
		if !call.silent {
			t.Errorf("send %d should be silent mid-batch", i)
		}
	}
}

func TestPublishEmptyTitleOmitsBoldMarkers(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	out := c.Publish(context.Background(), publish.Payload{
		ArticleID: 101,
		Body:      "Body text.",
	}, publish.Options{})

	if !out.OK {
		t.Fatalf("publish failed: %v", out.Err)
	}
	if len(api.calls) != 1 {
		t.Fatalf("expected 1 send, got %d", len(api.calls))
	}
	text := api.calls[0].text
	if strings.Contains(text, "*") {
		t.Errorf("title-less message carries bold markers: %q", text)
	}
	if !strings.Contains(text, "Body text") {
		t.Errorf("body missing from message: %q", text)
	}
}

func TestPublishRetriesRateLimit(t *testing.T) {
	api := &fakeAPI{
		failures: 1,
		failCode: http.StatusTooManyRequests,
		failBody: `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":0}}`,
	}
	c := newTestClient(t, api)

	out := c.Publish(context.Background(), publish.Payload{
		ArticleID: 101,
		Title:     "Headline",
		Body:      "Body text.",
	}, publish.Options{})

	if !out.OK {
		t.Fatalf("expected success after rate-limit retry: %v", out.Err)
	}
	if len(api.calls) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(api.calls))
	}
}

func TestPublishDoesNotRetryBadRequest(t *testing.T) {
	api := &fakeAPI{
		failures: 10,
		failCode: http.StatusBadRequest,
		failBody: `{"ok":false,"error_code":400,"description":"Bad Request: message text is empty"}`,
	}
	c := newTestClient(t, api)

	out := c.Publish(context.Background(), publish.Payload{
		ArticleID: 101,
		Title:     "Headline",
		Body:      "Body text.",
	}, publish.Options{})

	if out.OK {
		t.Fatal("expected failure")
	}
	if len(api.calls) != 1 {
		t.Errorf("permanent error retried: %d attempts", len(api.calls))
	}
}

func TestPublishDisabledWithoutCredentials(t *testing.T) {
	c := New("", "", 4096, 10, time.Second)
	if c.Enabled() {
		t.Error("client without credentials reports enabled")
	}
	out := c.Publish(context.Background(), publish.Payload{ArticleID: 1, Title: "t", Body: "b"}, publish.Options{})
	if out.OK || out.Err == nil {
		t.Error("publish on disabled client should fail")
	}
}
