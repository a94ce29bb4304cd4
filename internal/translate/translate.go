// Package translate is the plain translation fallback used when the AI
// rewrite chain is unavailable: free Google Translate first, OpenAI
// second, original text when both fail.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/khnews/crosspost/internal/logger"
)

const googleEndpoint = "https://translate.googleapis.com/translate_a/single"

type Translator struct {
	client       *http.Client
	openaiClient *openai.Client
}

func New(timeout time.Duration, openaiKey string) *Translator {
	t := &Translator{client: &http.Client{Timeout: timeout}}
	if openaiKey != "" {
		t.openaiClient = openai.NewClient(openaiKey)
	}
	return t
}

// Translate returns text in the target language. It never fails hard:
// when every service is down the original text comes back with a nil
// error, so the pipeline keeps moving.
func (t *Translator) Translate(ctx context.Context, text, from, to string) (string, error) {
	if text == "" || from == to {
		return text, nil
	}

	original := text
	if len(text) > 4000 {
		text = text[:4000] + "..."
	}

	result, err := t.translateGoogle(ctx, text, from, to)
	if err == nil && result != "" && result != text {
		logger.Debug("google translate ok", "from", from, "to", to)
		return result, nil
	}
	logger.Warn("google translate failed", "from", from, "to", to, "error", err)

	if t.openaiClient != nil {
		result, err := t.translateOpenAI(ctx, text, from, to)
		if err == nil && result != "" {
			logger.Debug("openai translate ok", "from", from, "to", to)
			return result, nil
		}
		logger.Warn("openai translate failed", "from", from, "to", to, "error", err)
	}

	logger.Warn("all translate services failed, keeping original", "from", from, "to", to)
	return original, nil
}

// translateGoogle calls the public Google Translate endpoint.
func (t *Translator) translateGoogle(ctx context.Context, text, from, to string) (string, error) {
	params := url.Values{}
	params.Set("client", "gtx")
	params.Set("sl", from)
	params.Set("tl", to)
	params.Set("dt", "t")
	params.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http error: %v", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %v", err)
	}
	return parseGoogleResponse(body)
}

// parseGoogleResponse unpacks the nested-array reply: the first element
// holds [translated, source, ...] segments.
func parseGoogleResponse(body []byte) (string, error) {
	var response []interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", err
	}
	if len(response) == 0 {
		return "", errors.New("empty translate response")
	}

	segments, ok := response[0].([]interface{})
	if !ok {
		return "", errors.New("unexpected translate response format")
	}

	var result strings.Builder
	for _, seg := range segments {
		if parts, ok := seg.([]interface{}); ok && len(parts) > 0 {
			if translated, ok := parts[0].(string); ok {
				result.WriteString(translated)
			}
		}
	}
	return result.String(), nil
}

func (t *Translator) translateOpenAI(ctx context.Context, text, from, to string) (string, error) {
	prompt := fmt.Sprintf(`Translate the following text from %s to %s.
Keep the meaning, tone and journalistic style of the original.
Translate only the text itself, without additional comments.

Text to translate:
%s`, languageName(from), languageName(to), text)

	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	resp, err := t.openaiClient.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openai.GPT4oMini,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from openai")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func languageName(code string) string {
	switch strings.ToLower(code) {
	case "ru":
		return "Russian"
	case "uk":
		return "Ukrainian"
	case "en":
		return "English"
	case "de":
		return "German"
	case "da":
		return "Danish"
	case "kh", "km":
		return "Khmer"
	default:
		return code
	}
}
