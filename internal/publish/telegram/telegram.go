// Package telegram implements the Telegram publisher: grouped photo
// albums, separate video follow-ups and MarkdownV2 text chunks.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/khnews/crosspost/internal/logger"
	"github.com/khnews/crosspost/internal/publish"
	"github.com/khnews/crosspost/internal/retry"
)

const defaultAPIBase = "https://api.telegram.org"

// Client talks to the Telegram Bot API over plain HTTP.
type Client struct {
	token     string
	chatID    string
	apiBase   string
	client    *http.Client
	chunkSize int
	batchSize int
	policy    retry.Policy
}

type Option func(*Client)

// WithAPIBase overrides the API endpoint (tests).
func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = base }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func New(token, chatID string, chunkSize, batchSize int, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		token:     token,
		chatID:    chatID,
		apiBase:   defaultAPIBase,
		client:    &http.Client{Timeout: timeout},
		chunkSize: chunkSize,
		batchSize: batchSize,
		policy:    retry.DefaultPolicy(),
	}
	if c.chunkSize <= 0 {
		c.chunkSize = 4096
	}
	if c.batchSize <= 0 {
		c.batchSize = 10
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return "telegram" }

func (c *Client) Enabled() bool { return c.token != "" && c.chatID != "" }

// Publish sends the article as: photo albums, then videos (each with a
// duplicate of the caption), then the text chunks in paragraph order.
// Every send is silent except, when opts.NotifyOnFinal is set, the very
// last one.
func (c *Client) Publish(ctx context.Context, p publish.Payload, opts publish.Options) publish.Outcome {
	out := publish.Outcome{Platform: c.Name()}
	if !c.Enabled() {
		out.Err = fmt.Errorf("telegram adapter disabled: missing credentials")
		return out
	}

	// an empty title must not leave bare "**" in the message, Telegram
	// rejects empty MarkdownV2 entities
	title := ""
	if p.Title != "" {
		title = "*" + publish.EscapeMarkdown(p.Title) + "*"
	}
	text := title
	if p.Body != "" {
		if text != "" {
			text += "\n\n"
		}
		text += publish.EscapeMarkdown(p.Body)
	}
	chunks := publish.ChunkText(text, c.chunkSize)

	photoBatches := publish.BatchPaths(p.Images, c.batchSize)

	// total sends, so the final one can carry the notification
	totalSends := len(photoBatches) + len(p.Videos) + len(chunks)
	if totalSends == 0 {
		out.Err = fmt.Errorf("article %d resolved to nothing to send", p.ArticleID)
		return out
	}
	sent := 0
	silent := func() bool {
		sent++
		return !(opts.NotifyOnFinal && sent == totalSends)
	}

	for _, batch := range photoBatches {
		ids, err := c.sendMediaGroup(ctx, batch, silent())
		if err != nil {
			out.Err = fmt.Errorf("send media group: %w", err)
			return out
		}
		out.PostIDs = append(out.PostIDs, ids...)
		sleepCtx(ctx, time.Second)
	}

	for _, video := range p.Videos {
		id, err := c.sendVideo(ctx, video, title, silent())
		if err != nil {
			out.Err = fmt.Errorf("send video: %w", err)
			return out
		}
		out.PostIDs = append(out.PostIDs, id)
		sleepCtx(ctx, time.Second)
	}

	for i, chunk := range chunks {
		id, err := c.sendMessage(ctx, chunk, silent())
		if err != nil {
			out.Err = fmt.Errorf("send text chunk %d/%d: %w", i+1, len(chunks), err)
			return out
		}
		out.PostIDs = append(out.PostIDs, id)
		if i < len(chunks)-1 {
			sleepCtx(ctx, time.Second)
		}
	}

	out.OK = true
	return out
}

func (c *Client) sendMessage(ctx context.Context, text string, silent bool) (string, error) {
	payload := map[string]interface{}{
		"chat_id":                  c.chatID,
		"text":                     text,
		"parse_mode":               "MarkdownV2",
		"disable_web_page_preview": true,
		"disable_notification":     silent,
	}

	var msgID string
	err := retry.Do(ctx, c.policy, func() error {
		resp, err := c.postJSON(ctx, "sendMessage", payload)
		if err != nil {
			return err
		}
		var msg struct {
			MessageID int64 `json:"message_id"`
		}
		if err := json.Unmarshal(resp.Result, &msg); err == nil && msg.MessageID != 0 {
			msgID = strconv.FormatInt(msg.MessageID, 10)
		}
		return nil
	})
	return msgID, err
}

func (c *Client) sendMediaGroup(ctx context.Context, paths []string, silent bool) ([]string, error) {
	var ids []string
	err := retry.Do(ctx, c.policy, func() error {
		media := make([]map[string]string, 0, len(paths))
		files := make(map[string]string, len(paths))
		for i, p := range paths {
			name := fmt.Sprintf("photo_%d", i)
			files[name] = p
			media = append(media, map[string]string{
				"type":  "photo",
				"media": "attach://" + name,
			})
		}
		mediaJSON, err := json.Marshal(media)
		if err != nil {
			return retry.Permanent(err)
		}

		fields := map[string]string{
			"chat_id":              c.chatID,
			"media":                string(mediaJSON),
			"disable_notification": strconv.FormatBool(silent),
		}
		resp, err := c.postMultipart(ctx, "sendMediaGroup", fields, files, "photo")
		if err != nil {
			return err
		}

		var msgs []struct {
			MessageID int64 `json:"message_id"`
		}
		ids = ids[:0]
		if err := json.Unmarshal(resp.Result, &msgs); err == nil {
			for _, m := range msgs {
				ids = append(ids, strconv.FormatInt(m.MessageID, 10))
			}
		}
		return nil
	})
	return ids, err
}

func (c *Client) sendVideo(ctx context.Context, path, caption string, silent bool) (string, error) {
	var msgID string
	err := retry.Do(ctx, c.policy, func() error {
		fields := map[string]string{
			"chat_id":              c.chatID,
			"caption":              caption,
			"parse_mode":           "MarkdownV2",
			"disable_notification": strconv.FormatBool(silent),
		}
		files := map[string]string{"video": path}
		resp, err := c.postMultipart(ctx, "sendVideo", fields, files, "video")
		if err != nil {
			return err
		}
		var msg struct {
			MessageID int64 `json:"message_id"`
		}
		if err := json.Unmarshal(resp.Result, &msg); err == nil && msg.MessageID != 0 {
			msgID = strconv.FormatInt(msg.MessageID, 10)
		}
		return nil
	})
	return msgID, err
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Parameters  *responseParams `json:"parameters"`
	Result      json.RawMessage `json:"result"`
}

type responseParams struct {
	RetryAfter int `json:"retry_after"`
}

func (c *Client) postJSON(ctx context.Context, method string, payload interface{}) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshal %s payload: %v", method, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, method)
}

// postMultipart uploads local files under their field names and sends
// the remaining fields as form values.
func (c *Client) postMultipart(ctx context.Context, method string, fields, files map[string]string, kind string) (*apiResponse, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, retry.Permanent(err)
		}
	}
	for name, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("open %s file %s: %v", kind, path, err))
		}
		part, err := w.CreateFormFile(name, filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("attach %s: %v", path, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), &buf)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req, method)
}

// do executes the request and classifies the response for the retry
// layer: 429 becomes a rate-limit error with the server cooldown, other
// 4xx are permanent, everything else is transient.
func (c *Client) do(req *http.Request, method string) (*apiResponse, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %v", method, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s read response: %v", method, err)
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return nil, fmt.Errorf("%s: unparseable response (status %d)", method, resp.StatusCode)
	}
	if api.OK {
		return &api, nil
	}

	apiErr := fmt.Errorf("telegram %s error %d: %s", method, api.ErrorCode, api.Description)
	switch {
	case api.ErrorCode == http.StatusTooManyRequests:
		cooldown := time.Duration(0)
		if api.Parameters != nil {
			cooldown = time.Duration(api.Parameters.RetryAfter) * time.Second
		}
		return nil, &retry.RateLimited{Err: apiErr, RetryAfter: cooldown}
	case api.ErrorCode >= 400 && api.ErrorCode < 500:
		return nil, retry.Permanent(apiErr)
	default:
		return nil, apiErr
	}
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
