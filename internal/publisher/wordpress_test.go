package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pressbot/internal/credentials"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeWordPress records every request it receives and replies with the
// configured status and body.
type fakeWordPress struct {
	*httptest.Server
	status int
	body   string

	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	calls    atomic.Int32
}

func newFakeWordPress(t *testing.T, status int, body string) *fakeWordPress {
	t.Helper()
	f := &fakeWordPress{status: status, body: body}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, r)
		f.bodies = append(f.bodies, data)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		io.WriteString(w, f.body)
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestClient(sites map[string]credentials.Site) *Client {
	return NewClient(ClientConfig{
		Sites:   credentials.NewStore(sites),
		Timeout: 5 * time.Second,
		Logger:  testLogger(),
	})
}

func basicSite(url string) credentials.Site {
	return credentials.Site{BaseURL: url, AuthMethod: "basic", Username: "u", Password: "p"}
}

func TestPublish_TextPost_BasicAuth(t *testing.T) {
	wp := newFakeWordPress(t, http.StatusCreated, `{"id": 123, "status": "publish"}`)
	c := newTestClient(map[string]credentials.Site{"site1": basicSite(wp.URL)})

	res, err := c.Publish(context.Background(), NewTextSubmission("site1", "Hello World", "Body text"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.PostID != "123" || res.Mode != ModeText || res.Site != "site1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if n := wp.calls.Load(); n != 1 {
		t.Fatalf("expected exactly 1 request, got %d", n)
	}
	req := wp.requests[0]
	if req.Method != http.MethodPost || req.URL.Path != "/wp-json/wp/v2/posts" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
	}
	user, pass, ok := req.BasicAuth()
	if !ok || user != "u" || pass != "p" {
		t.Fatalf("expected basic auth u/p, got %q/%q (%v)", user, pass, ok)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var got map[string]string
	if err := json.Unmarshal(wp.bodies[0], &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	want := map[string]string{"title": "Hello World", "content": "Body text", "status": "publish"}
	if len(got) != len(want) {
		t.Fatalf("body = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("body[%s] = %q, want %q", k, got[k], v)
		}
	}
}

func TestPublish_TextPost_BearerAuth(t *testing.T) {
	wp := newFakeWordPress(t, http.StatusCreated, `{"id": 9}`)
	c := newTestClient(map[string]credentials.Site{
		"blog": {BaseURL: wp.URL + "/", AuthMethod: "jwt", Token: "tok"},
	})

	if _, err := c.Publish(context.Background(), NewTextSubmission("blog", "T", "C")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	req := wp.requests[0]
	if got := req.Header.Get("Authorization"); got != "Bearer tok" {
		t.Fatalf("authorization = %q", got)
	}
	if req.URL.Path != "/wp-json/wp/v2/posts" {
		t.Fatalf("trailing slash not trimmed: %s", req.URL.Path)
	}
}

func TestPublish_UnknownSite(t *testing.T) {
	wp := newFakeWordPress(t, http.StatusCreated, `{}`)
	c := newTestClient(map[string]credentials.Site{"site1": basicSite(wp.URL)})

	_, err := c.Publish(context.Background(), NewTextSubmission("nosuch", "T", "C"))
	var pubErr *Error
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !strings.Contains(pubErr.Message, "nosuch") {
		t.Errorf("message should name the site: %q", pubErr.Message)
	}
	if wp.calls.Load() != 0 {
		t.Fatal("no request should be made for an unknown site")
	}
}

func TestPublish_UnsupportedAuthMethod(t *testing.T) {
	wp := newFakeWordPress(t, http.StatusCreated, `{}`)
	c := newTestClient(map[string]credentials.Site{
		"s": {BaseURL: wp.URL, AuthMethod: "oauth"},
	})

	_, err := c.Publish(context.Background(), NewTextSubmission("s", "T", "C"))
	var pubErr *Error
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if pubErr.Message != "Unsupported auth method 'oauth' for site 's'." {
		t.Errorf("unexpected message: %q", pubErr.Message)
	}
	if wp.calls.Load() != 0 {
		t.Fatal("no request should be made for an unsupported auth method")
	}
}

func TestPublish_NoPayload(t *testing.T) {
	wp := newFakeWordPress(t, http.StatusCreated, `{}`)
	c := newTestClient(map[string]credentials.Site{"s": basicSite(wp.URL)})

	_, err := c.Publish(context.Background(), Submission{Site: "s", Title: "T"})
	var pubErr *Error
	if !errors.As(err, &pubErr) || pubErr.Message != "No Markdown file or content provided." {
		t.Fatalf("unexpected error: %v", err)
	}
	if wp.calls.Load() != 0 {
		t.Fatal("no request expected")
	}
}

func TestPublish_BothPayloadsRejected(t *testing.T) {
	wp := newFakeWordPress(t, http.StatusCreated, `{}`)
	c := newTestClient(map[string]credentials.Site{"s": basicSite(wp.URL)})

	_, err := c.Publish(context.Background(), Submission{Site: "s", Title: "T", Content: "C", MarkdownFile: "x.md"})
	var pubErr *Error
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if wp.calls.Load() != 0 {
		t.Fatal("no request expected")
	}
}

func TestPublish_TextPost_Non201(t *testing.T) {
	wp := newFakeWordPress(t, http.StatusUnauthorized, `{"code":"rest_cannot_create","message":"Sorry"}`)
	c := newTestClient(map[string]credentials.Site{"s": basicSite(wp.URL)})

	_, err := c.Publish(context.Background(), NewTextSubmission("s", "T", "C"))
	var pubErr *Error
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	want := `Failed to create post: {"code":"rest_cannot_create","message":"Sorry"}`
	if pubErr.Message != want {
		t.Errorf("message = %q, want %q", pubErr.Message, want)
	}
}

func TestPublish_TextPost_200IsAnError(t *testing.T) {
	wp := newFakeWordPress(t, http.StatusOK, `{"id": 1}`)
	c := newTestClient(map[string]credentials.Site{"s": basicSite(wp.URL)})

	_, err := c.Publish(context.Background(), NewTextSubmission("s", "T", "C"))
	var pubErr *Error
	if !errors.As(err, &pubErr) {
		t.Fatalf("only 201 counts as success, got %v", err)
	}
}

func TestPublish_TextPost_BadSuccessBody(t *testing.T) {
	wp := newFakeWordPress(t, http.StatusCreated, `<html>`)
	c := newTestClient(map[string]credentials.Site{"s": basicSite(wp.URL)})

	_, err := c.Publish(context.Background(), NewTextSubmission("s", "T", "C"))
	if err == nil {
		t.Fatal("expected decode error")
	}
	var pubErr *Error
	if errors.As(err, &pubErr) {
		t.Fatalf("decode failure should be unexpected, not *Error: %v", err)
	}
}

func writeMarkdown(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPublish_Upload(t *testing.T) {
	var gotTitle, gotFilename, gotContent string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wp-json/markdown-post-creator/v1/upload-markdown" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		gotTitle = r.FormValue("title")
		f, hdr, err := r.FormFile("markdown_file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		gotFilename = hdr.Filename
		gotContent = string(data)
		io.WriteString(w, `{"post_id": 77}`)
	}))
	defer srv.Close()

	c := newTestClient(map[string]credentials.Site{
		"blog": {BaseURL: srv.URL, AuthMethod: "jwt", Token: "tok"},
	})
	path := writeMarkdown(t, "BQACAgIAAxk.md", []byte("# Heading\n\nBody"))

	res, err := c.Publish(context.Background(), NewFileSubmission("blog", "A | B title", path))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.PostID != "77" || res.Mode != ModeFile {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotTitle != "A | B title" {
		t.Errorf("title = %q", gotTitle)
	}
	if gotFilename != "BQACAgIAAxk.md" {
		t.Errorf("filename = %q", gotFilename)
	}
	if gotContent != "# Heading\n\nBody" {
		t.Errorf("content = %q", gotContent)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("authorization = %q", gotAuth)
	}
}

func TestPublish_Upload_ErrorPassthrough(t *testing.T) {
	wp := newFakeWordPress(t, http.StatusBadRequest, `{"error": "Invalid markdown file."}`)
	c := newTestClient(map[string]credentials.Site{"s": basicSite(wp.URL)})
	path := writeMarkdown(t, "f.md", []byte("x"))

	_, err := c.Publish(context.Background(), NewFileSubmission("s", "T", path))
	var pubErr *Error
	if !errors.As(err, &pubErr) || pubErr.Message != "Invalid markdown file." {
		t.Fatalf("expected passthrough error, got %v", err)
	}
}

func TestPublish_Upload_NonJSONResponse(t *testing.T) {
	wp := newFakeWordPress(t, http.StatusInternalServerError, `Internal Server Error`)
	c := newTestClient(map[string]credentials.Site{"s": basicSite(wp.URL)})
	path := writeMarkdown(t, "f.md", []byte("x"))

	_, err := c.Publish(context.Background(), NewFileSubmission("s", "T", path))
	var pubErr *Error
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !strings.Contains(pubErr.Message, "Internal Server Error") || !strings.Contains(pubErr.Message, "500") {
		t.Errorf("message should carry status and raw body: %q", pubErr.Message)
	}
}

func TestPublish_Upload_InvalidUTF8(t *testing.T) {
	wp := newFakeWordPress(t, http.StatusOK, `{"post_id": 1}`)
	c := newTestClient(map[string]credentials.Site{"s": basicSite(wp.URL)})
	path := writeMarkdown(t, "f.md", []byte{0xff, 0xfe, 0xfd})

	_, err := c.Publish(context.Background(), NewFileSubmission("s", "T", path))
	var pubErr *Error
	if !errors.As(err, &pubErr) || !strings.HasPrefix(pubErr.Message, "Failed to read Markdown file") {
		t.Fatalf("expected read error, got %v", err)
	}
	if wp.calls.Load() != 0 {
		t.Fatal("no request expected for unreadable file")
	}
}

func TestPublish_Upload_MissingFile(t *testing.T) {
	wp := newFakeWordPress(t, http.StatusOK, `{"post_id": 1}`)
	c := newTestClient(map[string]credentials.Site{"s": basicSite(wp.URL)})

	_, err := c.Publish(context.Background(), NewFileSubmission("s", "T", filepath.Join(t.TempDir(), "gone.md")))
	var pubErr *Error
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if wp.calls.Load() != 0 {
		t.Fatal("no request expected")
	}
}

func TestPublish_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(ClientConfig{
		Sites:   credentials.NewStore(map[string]credentials.Site{"s": basicSite(srv.URL)}),
		Timeout: 50 * time.Millisecond,
		Logger:  testLogger(),
	})

	_, err := c.Publish(context.Background(), NewTextSubmission("s", "T", "C"))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var pubErr *Error
	if errors.As(err, &pubErr) {
		t.Fatalf("timeout should be unexpected, not *Error: %v", err)
	}
}

func TestSubmission_Mode(t *testing.T) {
	if m, err := NewTextSubmission("s", "t", "c").Mode(); err != nil || m != ModeText {
		t.Errorf("text: %v %v", m, err)
	}
	if m, err := NewFileSubmission("s", "t", "f.md").Mode(); err != nil || m != ModeFile {
		t.Errorf("file: %v %v", m, err)
	}
	if _, err := (Submission{Site: "s"}).Mode(); err == nil {
		t.Error("empty submission should fail")
	}
}
