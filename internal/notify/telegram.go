package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"pullover/internal/api"
	logx "pullover/pkg/logx"
)

type TelegramConfig struct {
	Token      string
	ChatID     int64
	RatePerSec int
}

// TelegramSink mirrors delivered messages into a Telegram chat. Sends are
// rate-limited so a redelivered backlog cannot trip Telegram's flood
// control.
type TelegramSink struct {
	bot     *tele.Bot
	chat    *tele.Chat
	limiter *rate.Limiter
	log     logx.Logger
}

func NewTelegramSink(cfg TelegramConfig, log logx.Logger) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram sink: token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram sink: chat_id is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram sink: %w", err)
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &TelegramSink{
		bot:     b,
		chat:    &tele.Chat{ID: cfg.ChatID},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, m api.Message) error {
	wctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := s.limiter.Wait(wctx); err != nil {
		return fmt.Errorf("telegram sink: rate wait: %w", err)
	}

	_, err := s.bot.Send(s.chat, formatTelegram(m), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram sink: %w", err)
	}
	return nil
}

func formatTelegram(m api.Message) string {
	var b strings.Builder
	if t := m.DisplayTitle(); t != "" {
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(t))
		b.WriteString("</b>\n")
	}
	b.WriteString(html.EscapeString(m.Text))
	if m.URL != "" {
		label := m.URL
		if m.URLTitle != "" {
			label = m.URLTitle
		}
		b.WriteString(fmt.Sprintf("\n<a href=%q>%s</a>", m.URL, html.EscapeString(label)))
	}
	return b.String()
}
