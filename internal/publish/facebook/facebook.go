// Package facebook implements the Facebook page publisher on top of
// the Graph API: unpublished photo uploads attached to a feed post,
// plus separate video posts.
package facebook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/khnews/crosspost/internal/logger"
	"github.com/khnews/crosspost/internal/publish"
	"github.com/khnews/crosspost/internal/retry"
)

const (
	defaultAPIBase = "https://graph.facebook.com/v19.0"

	// feed posts accept long messages; chunking is a formality here
	maxMessageRunes = 63000

	// attached_media slots per feed post
	maxAttachedMedia = 10
)

type Client struct {
	pageID  string
	token   string
	apiBase string
	client  *http.Client
	policy  retry.Policy
}

type Option func(*Client)

func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = base }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func New(pageID, token string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		pageID:  pageID,
		token:   token,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: timeout},
		policy:  retry.DefaultPolicy(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return "facebook" }

func (c *Client) Enabled() bool { return c.pageID != "" && c.token != "" }

// Publish uploads photos unpublished, then creates a feed post carrying
// the text with the photos attached, then posts each video separately
// with a duplicate of the caption. Facebook has no notification
// semantics, so Options is accepted for contract uniformity only.
func (c *Client) Publish(ctx context.Context, p publish.Payload, _ publish.Options) publish.Outcome {
	out := publish.Outcome{Platform: c.Name()}
	if !c.Enabled() {
		out.Err = fmt.Errorf("facebook adapter disabled: missing credentials")
		return out
	}

	message := p.Title
	if p.Body != "" {
		if message != "" {
			message += "\n\n"
		}
		message += p.Body
	}
	chunks := publish.ChunkText(message, maxMessageRunes)

	var mediaIDs []string
	for _, photo := range p.Images {
		id, err := c.uploadPhoto(ctx, photo)
		if err != nil {
			// a single broken image should not sink the whole post
			logger.Warn("facebook photo upload failed", "path", photo, "error", err)
			continue
		}
		mediaIDs = append(mediaIDs, id)
	}
	batches := publish.BatchPaths(mediaIDs, maxAttachedMedia)

	// chunk i carries photo batch i; leftover batches become
	// media-only follow-up posts, leftover chunks text-only ones
	for i, chunk := range chunks {
		var attach []string
		if i < len(batches) {
			attach = batches[i]
		}
		id, err := c.createFeedPost(ctx, chunk, attach)
		if err != nil {
			out.Err = fmt.Errorf("create feed post: %w", err)
			return out
		}
		out.PostIDs = append(out.PostIDs, id)
	}
	for i := len(chunks); i < len(batches); i++ {
		id, err := c.createFeedPost(ctx, "", batches[i])
		if err != nil {
			out.Err = fmt.Errorf("create follow-up feed post: %w", err)
			return out
		}
		out.PostIDs = append(out.PostIDs, id)
	}

	caption := ""
	if len(chunks) > 0 {
		caption = chunks[0]
	}
	for _, video := range p.Videos {
		id, err := c.uploadVideo(ctx, video, caption)
		if err != nil {
			out.Err = fmt.Errorf("upload video: %w", err)
			return out
		}
		out.PostIDs = append(out.PostIDs, id)
	}

	if len(out.PostIDs) == 0 {
		out.Err = fmt.Errorf("article %d resolved to nothing to send", p.ArticleID)
		return out
	}

	out.OK = true
	return out
}

// uploadPhoto pushes a local image as an unpublished page photo and
// returns its media id for attached_media.
func (c *Client) uploadPhoto(ctx context.Context, path string) (string, error) {
	var photoID string
	err := retry.Do(ctx, c.policy, func() error {
		fields := map[string]string{
			"published":    "false",
			"access_token": c.token,
		}
		id, err := c.postMultipart(ctx, c.pageID+"/photos", fields, "source", path)
		if err != nil {
			return err
		}
		photoID = id
		return nil
	})
	return photoID, err
}

func (c *Client) createFeedPost(ctx context.Context, message string, mediaIDs []string) (string, error) {
	var postID string
	err := retry.Do(ctx, c.policy, func() error {
		form := url.Values{}
		form.Set("message", message)
		form.Set("access_token", c.token)
		for i, id := range mediaIDs {
			form.Set(fmt.Sprintf("attached_media[%d]", i), fmt.Sprintf(`{"media_fbid":"%s"}`, id))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.apiBase+"/"+c.pageID+"/feed", strings.NewReader(form.Encode()))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		id, err := c.do(req)
		if err != nil {
			return err
		}
		postID = id
		return nil
	})
	return postID, err
}

func (c *Client) uploadVideo(ctx context.Context, path, caption string) (string, error) {
	var videoID string
	err := retry.Do(ctx, c.policy, func() error {
		fields := map[string]string{
			"description":  caption,
			"access_token": c.token,
		}
		id, err := c.postMultipart(ctx, c.pageID+"/videos", fields, "source", path)
		if err != nil {
			return err
		}
		videoID = id
		return nil
	})
	return videoID, err
}

func (c *Client) postMultipart(ctx context.Context, endpoint string, fields map[string]string, fileField, path string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", retry.Permanent(err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("open media %s: %v", path, err))
	}
	part, err := w.CreateFormFile(fileField, filepath.Base(path))
	if err == nil {
		_, err = io.Copy(part, f)
	}
	f.Close()
	if err != nil {
		return "", fmt.Errorf("attach %s: %v", path, err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+endpoint, &buf)
	if err != nil {
		return "", retry.Permanent(err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req)
}

type graphError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// do executes a Graph API call, classifies errors for the retry layer
// and returns the created object id.
func (c *Client) do(req *http.Request) (string, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("graph request: %v", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read graph response: %v", err)
	}

	var parsed struct {
		ID    string      `json:"id"`
		Error *graphError `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("unparseable graph response (status %d)", resp.StatusCode)
	}

	if parsed.Error != nil {
		apiErr := fmt.Errorf("graph error %d (%s): %s", parsed.Error.Code, parsed.Error.Type, parsed.Error.Message)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || isRateLimitCode(parsed.Error.Code):
			return "", &retry.RateLimited{Err: apiErr}
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return "", retry.Permanent(apiErr)
		default:
			return "", apiErr
		}
	}

	if parsed.ID == "" {
		return "", fmt.Errorf("graph response missing object id (status %d)", resp.StatusCode)
	}
	return parsed.ID, nil
}

// isRateLimitCode covers the Graph API throttling codes (4: app level,
// 17: user level, 32: page level, 613: custom rate limit).
func isRateLimitCode(code int) bool {
	switch code {
	case 4, 17, 32, 613:
		return true
	}
	return false
}
