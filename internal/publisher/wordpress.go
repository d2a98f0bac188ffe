package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"pressbot/internal/credentials"
)

const (
	postsPath  = "/wp-json/wp/v2/posts"
	uploadPath = "/wp-json/markdown-post-creator/v1/upload-markdown"

	postStatusPublish = "publish"
	maxResponseBytes  = 4 << 20
)

// ClientConfig configures the WordPress client.
type ClientConfig struct {
	Sites      *credentials.Store
	HTTPClient *http.Client  // default: NewHTTPClient(Timeout)
	Timeout    time.Duration // per Publish call
	Logger     *slog.Logger
}

// Client publishes submissions to WordPress sites. Each Publish makes at
// most one HTTP request and never retries.
type Client struct {
	sites   *credentials.Store
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(cfg.Timeout)
	}
	return &Client{
		sites:   cfg.Sites,
		client:  cfg.HTTPClient,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

type createPostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

type createPostResponse struct {
	ID json.Number `json:"id"`
}

// Publish sends the submission to its site. Errors of type *Error carry a
// message for the user; anything else is a transport or decoding failure.
func (c *Client) Publish(ctx context.Context, sub Submission) (*Result, error) {
	site, ok := c.sites.Lookup(sub.Site)
	if !ok {
		return nil, errorf("Site '%s' not found in credentials.", sub.Site)
	}

	auth, err := site.ResolveAuth()
	if err != nil {
		var unsupported *credentials.UnsupportedMethodError
		if errors.As(err, &unsupported) {
			return nil, errorf("Unsupported auth method '%s' for site '%s'.", unsupported.Method, sub.Site)
		}
		return nil, err
	}

	mode, err := sub.Mode()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	switch mode {
	case ModeFile:
		return c.uploadMarkdown(ctx, site, auth, sub)
	default:
		return c.createPost(ctx, site, auth, sub)
	}
}

func (c *Client) createPost(ctx context.Context, site credentials.Site, auth credentials.Auth, sub Submission) (*Result, error) {
	body, err := json.Marshal(createPostRequest{
		Title:   sub.Title,
		Content: sub.Content,
		Status:  postStatusPublish,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, site.Endpoint(postsPath), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	auth.Apply(req)

	status, respBody, err := c.do(req, sub.Site, ModeText)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, errorf("Failed to create post: %s", respBody)
	}

	var created createPostResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, fmt.Errorf("decode created post: %w", err)
	}
	return &Result{Site: sub.Site, Mode: ModeText, PostID: created.ID.String()}, nil
}

func (c *Client) uploadMarkdown(ctx context.Context, site credentials.Site, auth credentials.Auth, sub Submission) (*Result, error) {
	content, err := os.ReadFile(sub.MarkdownFile)
	if err != nil {
		return nil, errorf("Failed to read Markdown file: %v", err)
	}
	if !utf8.Valid(content) {
		return nil, errorf("Failed to read Markdown file: %s is not valid UTF-8", filepath.Base(sub.MarkdownFile))
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("title", sub.Title); err != nil {
		return nil, fmt.Errorf("write title field: %w", err)
	}
	part, err := mw.CreateFormFile("markdown_file", filepath.Base(sub.MarkdownFile))
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, site.Endpoint(uploadPath), &buf)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	auth.Apply(req)

	status, respBody, err := c.do(req, sub.Site, ModeFile)
	if err != nil {
		return nil, err
	}

	// The plugin's response is passed through: {"post_id": ...} or {"error": ...}.
	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, errorf("Failed to parse upload response (HTTP %d): %s", status, strings.TrimSpace(string(respBody)))
	}
	if msg, ok := payload["error"]; ok {
		return nil, &Error{Message: stringify(msg)}
	}
	return &Result{Site: sub.Site, Mode: ModeFile, PostID: stringify(payload["post_id"])}, nil
}

func (c *Client) do(req *http.Request, site string, mode Mode) (int, []byte, error) {
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("wordpress request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read wordpress response: %w", err)
	}

	c.logger.Info("wordpress response",
		"site", site,
		"mode", mode,
		"status", resp.StatusCode,
		"body_len", len(body),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	c.logger.Debug("wordpress response body", "site", site, "body", string(body))
	return resp.StatusCode, body, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
