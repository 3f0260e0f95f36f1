// Package notify delivers operator alerts over Telegram and e-mail.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/rental-ops/pkg/logging"
)

// Channels used by the webhook pipeline.
const (
	ChannelBookings   = "bookings"
	ChannelSalesOrder = "sales-orders"
	ChannelErrors     = "errors"
)

const sendTimeout = 10 * time.Second

// Sender is the fire-and-forget operator notification channel.
type Sender interface {
	Send(ctx context.Context, channel, message string)
}

type chatSender interface {
	Send(ctx context.Context, text string) error
}

// Notifier fans a message out to every configured transport. Failures are
// logged and never returned.
type Notifier struct {
	chat    chatSender
	email   EmailSender
	opsTo   string
	timeout time.Duration
	logger  *logging.Logger
}

type NotifierConfig struct {
	Telegram *TelegramSender
	Email    EmailSender
	OpsEmail string
	Logger   *logging.Logger
}

func NewNotifier(cfg NotifierConfig) *Notifier {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	n := &Notifier{
		email:   cfg.Email,
		opsTo:   strings.TrimSpace(cfg.OpsEmail),
		timeout: sendTimeout,
		logger:  logger,
	}
	// a nil *TelegramSender must not become a non-nil interface
	if cfg.Telegram != nil {
		n.chat = cfg.Telegram
	}
	return n
}

// Send never blocks the caller longer than the send timeout and survives the
// caller's context being cancelled.
func (n *Notifier) Send(ctx context.Context, channel, message string) {
	if n == nil {
		return
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	delivered := false
	if n.chat != nil {
		if err := n.chat.Send(ctx, fmt.Sprintf("[%s] %s", channel, message)); err != nil {
			n.logger.Warn("telegram notification failed", "channel", channel, "error", err)
		} else {
			delivered = true
		}
	}
	if n.email != nil && n.opsTo != "" {
		err := n.email.Send(ctx, EmailAlert{
			To:      n.opsTo,
			Channel: channel,
			Subject: fmt.Sprintf("[Rental Ops] %s", channel),
			Text:    message,
		})
		if err != nil {
			n.logger.Warn("email notification failed", "channel", channel, "error", err)
		} else {
			delivered = true
		}
	}
	if !delivered {
		n.logger.Info("operator notification", "channel", channel, "message", message)
	}
}

var _ Sender = (*Notifier)(nil)
