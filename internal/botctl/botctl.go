// Package botctl runs the operator control bot: a long-polling
// Telegram bot that lets the channel admin inspect the pipeline,
// cancel pending articles and adjust runtime settings without
// touching the server.
package botctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/khnews/crosspost/internal/catalog"
	"github.com/khnews/crosspost/internal/config"
	"github.com/khnews/crosspost/internal/ledger"
	"github.com/khnews/crosspost/internal/logger"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	pollTimeout    = 30 // seconds, getUpdates long-poll window
)

type Bot struct {
	token        string
	apiBase      string
	client       *http.Client
	adminID      int64
	store        *catalog.Store
	ledger       ledger.Ledger
	settingsPath string
	offset       int64
}

type Option func(*Bot)

func WithAPIBase(base string) Option {
	return func(b *Bot) { b.apiBase = base }
}

func New(token string, adminID int64, store *catalog.Store, led ledger.Ledger, settingsPath string, opts ...Option) *Bot {
	b := &Bot{
		token:        token,
		apiBase:      defaultAPIBase,
		client:       &http.Client{Timeout: (pollTimeout + 10) * time.Second},
		adminID:      adminID,
		store:        store,
		ledger:       led,
		settingsPath: settingsPath,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run long-polls getUpdates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	logger.Info("control bot started", "admin", b.adminID)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		updates, err := b.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("getUpdates failed", "error", err)
			sleepCtx(ctx, 5*time.Second)
			continue
		}
		for _, u := range updates {
			b.offset = u.UpdateID + 1
			b.handleUpdate(ctx, u)
		}
	}
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Data string `json:"data"`
	} `json:"callback_query"`
}

func (b *Bot) handleUpdate(ctx context.Context, u update) {
	switch {
	case u.CallbackQuery != nil:
		if u.CallbackQuery.From.ID != b.adminID {
			return
		}
		b.handleCallback(ctx, u.CallbackQuery.ID, u.CallbackQuery.Data)
	case u.Message != nil:
		if u.Message.Chat.ID != b.adminID {
			logger.Warn("ignoring message from unknown chat", "chat", u.Message.Chat.ID)
			return
		}
		b.handleCommand(ctx, strings.TrimSpace(u.Message.Text))
	}
}

func (b *Bot) handleCommand(ctx context.Context, text string) {
	cmd, arg := text, ""
	if idx := strings.IndexByte(text, ' '); idx > 0 {
		cmd, arg = text[:idx], strings.TrimSpace(text[idx+1:])
	}

	switch cmd {
	case "/help", "/start":
		b.reply(ctx, helpText)
	case "/stats":
		b.cmdStats(ctx)
	case "/cancelmenu":
		b.cmdCancelMenu(ctx)
	case "/reset_published":
		b.cmdResetPublished(ctx)
	case "/set_limit":
		b.cmdSetInt(ctx, arg, "limit", func(s *config.Settings, v int) { s.BatchLimit = v })
	case "/set_delay":
		b.cmdSetInt(ctx, arg, "delay", func(s *config.Settings, v int) { s.DelaySeconds = v })
	case "/set_channel":
		b.cmdSetChannel(ctx, arg)
	default:
		b.reply(ctx, "Unknown command. Send /help for the list.")
	}
}

const helpText = `Commands:
/stats - catalog and ledger counters
/cancelmenu - pick a pending article to cancel
/reset_published - clear the published ledger
/set_limit N - articles per run (0 = unlimited)
/set_delay N - seconds between articles
/set_channel @name - publication channel
/help - this message`

func (b *Bot) cmdStats(ctx context.Context) {
	total, posted, pending, err := b.store.Stats()
	if err != nil {
		b.reply(ctx, "Failed to read the catalog: "+err.Error())
		return
	}
	b.reply(ctx, fmt.Sprintf(
		"Articles: %d total, %d posted, %d pending\nLedger: %d ids",
		total, posted, pending, b.ledger.Size()))
}

// cmdCancelMenu lists pending articles as inline buttons; pressing one
// flags the article cancelled so the next run never picks it up.
func (b *Bot) cmdCancelMenu(ctx context.Context) {
	articles, err := b.store.Load()
	if err != nil {
		b.reply(ctx, "Failed to read the catalog: "+err.Error())
		return
	}

	var rows [][]inlineButton
	for _, a := range articles {
		if a.Posted || b.ledger.Contains(a.ID) {
			continue
		}
		title := a.Title
		if len([]rune(title)) > 40 {
			title = string([]rune(title)[:40]) + "…"
		}
		rows = append(rows, []inlineButton{{
			Text:         title,
			CallbackData: "cancel:" + strconv.FormatInt(a.ID, 10),
		}})
		if len(rows) >= 20 {
			break
		}
	}
	if len(rows) == 0 {
		b.reply(ctx, "No pending articles.")
		return
	}
	if err := b.sendKeyboard(ctx, "Pick an article to cancel:", rows); err != nil {
		logger.Warn("failed to send cancel menu", "error", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, callbackID, data string) {
	defer b.answerCallback(ctx, callbackID)

	idStr, ok := strings.CutPrefix(data, "cancel:")
	if !ok {
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return
	}

	if err := b.store.MarkCancelled(id); err != nil {
		b.reply(ctx, fmt.Sprintf("Could not cancel %d: %v", id, err))
		return
	}
	logger.Info("article cancelled by operator", "article", id)
	b.reply(ctx, fmt.Sprintf("Article %d cancelled.", id))
}

func (b *Bot) cmdResetPublished(ctx context.Context) {
	if err := b.ledger.Reset(); err != nil {
		b.reply(ctx, "Reset failed: "+err.Error())
		return
	}
	logger.Info("ledger reset by operator")
	b.reply(ctx, "Published ledger cleared.")
}

func (b *Bot) cmdSetInt(ctx context.Context, arg, name string, apply func(*config.Settings, int)) {
	v, err := strconv.Atoi(arg)
	if err != nil || v < 0 {
		b.reply(ctx, fmt.Sprintf("Usage: /set_%s N", name))
		return
	}
	if err := b.updateSettings(func(s *config.Settings) { apply(s, v) }); err != nil {
		b.reply(ctx, "Failed to save settings: "+err.Error())
		return
	}
	b.reply(ctx, fmt.Sprintf("Saved: %s = %d", name, v))
}

func (b *Bot) cmdSetChannel(ctx context.Context, arg string) {
	if arg == "" || (!strings.HasPrefix(arg, "@") && !strings.HasPrefix(arg, "-")) {
		b.reply(ctx, "Usage: /set_channel @name or /set_channel -100123456789")
		return
	}
	if err := b.updateSettings(func(s *config.Settings) { s.Channel = arg }); err != nil {
		b.reply(ctx, "Failed to save settings: "+err.Error())
		return
	}
	b.reply(ctx, "Saved: channel = "+arg)
}

// updateSettings read-modify-writes the operator settings file.
func (b *Bot) updateSettings(mutate func(*config.Settings)) error {
	var s config.Settings
	if data, err := os.ReadFile(b.settingsPath); err == nil {
		if err := json.Unmarshal(data, &s); err != nil {
			logger.Warn("settings file corrupt, rewriting", "path", b.settingsPath, "error", err)
			s = config.Settings{}
		}
	}
	mutate(&s)

	data, err := json.MarshalIndent(&s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.settingsPath, data, 0644)
}

// --- Bot API plumbing ---

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

func (b *Bot) getUpdates(ctx context.Context) ([]update, error) {
	payload := map[string]interface{}{
		"offset":          b.offset,
		"timeout":         pollTimeout,
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []update
	if err := b.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (b *Bot) reply(ctx context.Context, text string) {
	payload := map[string]interface{}{
		"chat_id": b.adminID,
		"text":    text,
	}
	if err := b.call(ctx, "sendMessage", payload, nil); err != nil {
		logger.Warn("failed to send reply", "error", err)
	}
}

func (b *Bot) sendKeyboard(ctx context.Context, text string, rows [][]inlineButton) error {
	payload := map[string]interface{}{
		"chat_id": b.adminID,
		"text":    text,
		"reply_markup": map[string]interface{}{
			"inline_keyboard": rows,
		},
	}
	return b.call(ctx, "sendMessage", payload, nil)
}

func (b *Bot) answerCallback(ctx context.Context, callbackID string) {
	payload := map[string]interface{}{"callback_query_id": callbackID}
	if err := b.call(ctx, "answerCallbackQuery", payload, nil); err != nil {
		logger.Warn("failed to answer callback", "error", err)
	}
}

func (b *Bot) call(ctx context.Context, method string, payload interface{}, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/%s", b.apiBase, b.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %v", method, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close response body", "error", err)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s read response: %v", method, err)
	}

	var api struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &api); err != nil {
		return fmt.Errorf("%s: unparseable response (status %d)", method, resp.StatusCode)
	}
	if !api.OK {
		return fmt.Errorf("%s failed: %s", method, api.Description)
	}
	if result != nil {
		return json.Unmarshal(api.Result, result)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
