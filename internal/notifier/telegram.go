package notifier

import (
	"context"
	"errors"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	tele "gopkg.in/telebot.v4"
)

const telegramTextLimit = 4096

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int // forum topic; 0 for none
	Timeout  time.Duration
}

// telegramSender is the subset of *tele.Bot used here.
type telegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram posts alerts to one chat (optionally a forum topic).
type Telegram struct {
	cfg TelegramConfig
	bot telegramSender
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	// Offline skips getMe; this bot only sends.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{cfg: cfg, bot: b}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return backoff.Permanent(err)
	}
	opt := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              t.cfg.ThreadID,
	}
	_, err := t.bot.Send(&tele.Chat{ID: t.cfg.ChatID}, telegramHTML(a), opt)
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) && flood.RetryAfter > 0 {
		return backoff.RetryAfter(flood.RetryAfter)
	}
	var terr *tele.Error
	if errors.As(err, &terr) && terr.Code >= 400 && terr.Code < 500 && terr.Code != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

func telegramHTML(a Alert) string {
	var b strings.Builder
	b.WriteString(severityPrefix(a.Severity))
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(a.Summary))
	b.WriteString("</b>")
	for _, d := range a.Details {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(d))
	}
	s := b.String()
	if rs := []rune(s); len(rs) > telegramTextLimit {
		// Details are escaped text, so cutting cannot split a tag except </b>.
		s = string(rs[:telegramTextLimit-1]) + "…"
	}
	return s
}
