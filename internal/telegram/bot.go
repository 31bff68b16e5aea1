package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"growth-assessor/internal/assessment"
	"growth-assessor/internal/config"
	"growth-assessor/internal/llm"
	"growth-assessor/internal/logger"
	"growth-assessor/internal/metrics"
	"growth-assessor/internal/nutrition"
	"growth-assessor/internal/workflow"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxPhotoBytes = 10 << 20
	replyTimeout  = 2 * time.Minute
)

// API is the part of tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	HandleUpdate(r *http.Request) (*tgbotapi.Update, error)
	GetFileDirectURL(fileID string) (string, error)
}

// UsageReader reads daily AI usage for /metrics.
type UsageReader interface {
	GetDailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error)
}

// Bot runs the growth check flow over Telegram.
type Bot struct {
	api      API
	workflow *workflow.Workflow
	usage    UsageReader
	cfg      *config.Config
	log      *logger.Logger
	http     *http.Client
}

// NewBot initializes the Telegram API and sets the webhook.
func NewBot(cfg *config.Config, wf *workflow.Workflow, usage UsageReader, log *logger.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	log.Info("Authorized on Telegram", "account", api.Self.UserName)

	wh, err := tgbotapi.NewWebhook(cfg.TelegramWebhookURL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url %s: %w", cfg.TelegramWebhookURL, err)
	}
	resp, err := api.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.TelegramWebhookURL, err)
	}
	log.Info("Webhook set", "description", resp.Description)

	return newBot(api, cfg, wf, usage, log), nil
}

func newBot(api API, cfg *config.Config, wf *workflow.Workflow, usage UsageReader, log *logger.Logger) *Bot {
	if log == nil {
		log = logger.NewNop()
	}
	return &Bot{
		api:      api,
		workflow: wf,
		usage:    usage,
		cfg:      cfg,
		log:      log,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// RegisterHandlers adds the webhook and health endpoints to mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		b.log.Warn("Error parsing update", "error", err)
		return
	}
	if update.Message == nil || update.Message.From == nil {
		return
	}
	if !b.allowed(update.Message.From.ID) {
		b.log.Warn("Unauthorized access attempt", "user_id", update.Message.From.ID, "username", update.Message.From.UserName)
		return
	}

	go func(msg *tgbotapi.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		defer cancel()
		b.processMessage(ctx, msg)
	}(update.Message)
}

func (b *Bot) allowed(userID int64) bool {
	return slices.Contains(b.cfg.TelegramAllowedUserIDs, userID)
}

func (b *Bot) session(chatID int64) *workflow.Session {
	return b.workflow.Session(fmt.Sprintf("tg-%d", chatID))
}

func (b *Bot) processMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "help":
			b.reply(chatID, usageText)
		case "status":
			b.handleStatus(ctx, chatID)
		case "assess":
			b.handleAssess(ctx, chatID)
		case "nutrition":
			b.handleNutrition(ctx, chatID)
		case "metrics":
			b.handleMetricsRequest(ctx, msg)
		default:
			b.reply(chatID, usageText)
		}
		return
	}
	b.handleIntake(ctx, msg)
}

func (b *Bot) handleIntake(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := msg.Text
	if msg.Caption != "" {
		text = msg.Caption
	}

	in, err := ParseIntake(text)
	if err != nil {
		b.reply(chatID, "❌ *Could not read that:* "+err.Error()+"\n\n"+usageText)
		return
	}

	if len(msg.Photo) > 0 {
		largest := msg.Photo[len(msg.Photo)-1]
		photo, err := b.downloadPhoto(ctx, largest.FileID)
		if err != nil {
			b.log.Warn("Failed to download photo", "chat_id", chatID, "error", err)
		} else {
			in.Photo = photo
		}
	}

	rec, defaulted, err := b.session(chatID).Submit(ctx, in)
	if err != nil {
		b.log.Error("Failed to submit child data", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ *Could not save the measurements.* Please try again.")
		return
	}
	if !rec.HasMeasurements() {
		b.reply(chatID, fmt.Sprintf("⚠️ *Missing measurements:* %s.\nHeight and weight are needed for an assessment.", strings.Join(defaulted, ", ")))
		return
	}

	b.handleAssess(ctx, chatID)
}

func (b *Bot) handleAssess(ctx context.Context, chatID int64) {
	sent, err := b.send(chatID, "📏 *Assessing growth...*")
	if err != nil {
		b.log.Warn("Failed to send initial reply", "chat_id", chatID, "error", err)
		return
	}

	rec, out, err := b.session(chatID).Assess(ctx)
	switch {
	case errors.Is(err, workflow.ErrNoData):
		b.edit(chatID, sent.MessageID, "ℹ️ Send the measurements first.\n\n"+usageText)
		return
	case errors.Is(err, assessment.ErrUnusableRecord):
		b.edit(chatID, sent.MessageID, "⚠️ Height and weight are needed for an assessment. Send the measurements again.")
		return
	case err != nil:
		b.log.Error("Assessment failed", "chat_id", chatID, "error", err)
		b.edit(chatID, sent.MessageID, "❌ *Assessment failed.* Please try again.")
		return
	}

	if out.AIError != nil {
		b.sendAdminAlert(fmt.Sprintf("⚠️ *Fallback used*\nAgent: %s\nError: %s", assessment.AgentName, escape(out.AIError.Error())))
	}
	b.edit(chatID, sent.MessageID, formatAssessment(rec, out))
}

func (b *Bot) handleNutrition(ctx context.Context, chatID int64) {
	sent, err := b.send(chatID, "🥗 *Building a nutrition plan...*")
	if err != nil {
		b.log.Warn("Failed to send initial reply", "chat_id", chatID, "error", err)
		return
	}

	rec, out, err := b.session(chatID).Nutrition(ctx)
	if errors.Is(err, workflow.ErrNoData) {
		b.edit(chatID, sent.MessageID, "ℹ️ Send the measurements first.\n\n"+usageText)
		return
	}
	if err != nil {
		b.log.Error("Nutrition plan failed", "chat_id", chatID, "error", err)
		b.edit(chatID, sent.MessageID, "❌ *Nutrition plan failed.* Please try again.")
		return
	}

	if out.AIError != nil {
		b.sendAdminAlert(fmt.Sprintf("⚠️ *Fallback used*\nAgent: %s\nError: %s", nutrition.AgentName, escape(out.AIError.Error())))
	}
	b.edit(chatID, sent.MessageID, formatPlan(rec, out))
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	s := b.session(chatID)
	state, err := s.State(ctx)
	if err != nil {
		b.log.Error("Failed to read state", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ Error reading your progress.")
		return
	}

	switch state {
	case workflow.NoData:
		b.reply(chatID, "ℹ️ No measurements yet.\n\n"+usageText)
	default:
		rec, err := s.Record(ctx)
		if err != nil {
			b.reply(chatID, "❌ Error reading your progress.")
			return
		}
		next := "Send /assess for the assessment."
		if state == workflow.HasRecordAndResult {
			next = "Assessment done. Send /nutrition for a nutrition plan."
		}
		b.reply(chatID, formatProfile(rec)+"\n"+next)
	}
}

func (b *Bot) handleMetricsRequest(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || b.cfg.AdminTelegramID == 0 || msg.From.ID != b.cfg.AdminTelegramID {
		b.reply(msg.Chat.ID, "⛔ *Access Denied*: Admin only.")
		return
	}

	usage, err := b.usage.GetDailyUsage(ctx, 7)
	if err != nil {
		b.log.Error("Failed to read metrics", "error", err)
		b.reply(msg.Chat.ID, "❌ Error fetching metrics.")
		return
	}
	health := metrics.GetSysHealth(b.cfg.DataDir())
	b.reply(msg.Chat.ID, "📊 *Usage & Health Report*\n```\n"+metrics.Summary(usage, health)+"```")
}

func (b *Bot) downloadPhoto(ctx context.Context, fileID string) (string, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > maxPhotoBytes {
		return "", fmt.Errorf("photo larger than %d bytes", maxPhotoBytes)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("unsupported file type %s", mime)
	}
	return llm.Image{MIMEType: mime, Data: data}.DataURI(), nil
}

func (b *Bot) send(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	return b.api.Send(msg)
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.send(chatID, text); err != nil {
		b.log.Warn("Failed to send reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) edit(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(edit); err != nil {
		b.log.Warn("Failed to edit reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) sendAdminAlert(text string) {
	if b.cfg.AdminTelegramID == 0 {
		return
	}
	b.reply(b.cfg.AdminTelegramID, text)
}
