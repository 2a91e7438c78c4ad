// Package notify delivers booking and payment notifications to users.
package notify

import (
	"context"
	"fmt"
	"time"
)

// Message is a user-facing notification. ChatID is the user's Telegram chat.
type Message struct {
	ChatID int64
	Text   string
}

// Dispatcher sends notifications. Implementations must be safe for
// concurrent use.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// PaymentConfirmed builds the message sent after a provider callback marks a
// payment completed.
func PaymentConfirmed(chatID, amountTiyin int64, provider string) Message {
	return Message{
		ChatID: chatID,
		Text:   fmt.Sprintf("Payment of %s received via %s. You can now pick a consultation time.", formatTiyin(amountTiyin), provider),
	}
}

func Scheduled(chatID int64, slot time.Time) Message {
	return Message{
		ChatID: chatID,
		Text:   fmt.Sprintf("Your consultation is scheduled for %s.", slot.Format("Mon, 02 Jan 2006 15:04")),
	}
}

func Rescheduled(chatID int64, slot time.Time, remaining int) Message {
	return Message{
		ChatID: chatID,
		Text:   fmt.Sprintf("Your consultation was moved to %s. Reschedules remaining: %d.", slot.Format("Mon, 02 Jan 2006 15:04"), remaining),
	}
}

func Cancelled(chatID int64) Message {
	return Message{
		ChatID: chatID,
		Text:   "Your consultation has been cancelled.",
	}
}

func Refunded(chatID, amountTiyin int64) Message {
	return Message{
		ChatID: chatID,
		Text:   fmt.Sprintf("Your refund of %s has been issued. It may take a few business days to arrive.", formatTiyin(amountTiyin)),
	}
}

func Reminder(chatID int64, slot time.Time) Message {
	return Message{
		ChatID: chatID,
		Text:   fmt.Sprintf("Reminder: your consultation is tomorrow at %s.", slot.Format("15:04")),
	}
}

// formatTiyin renders a tiyin amount as whole UZS with a thousands separator.
func formatTiyin(amount int64) string {
	soum := amount / 100
	s := fmt.Sprintf("%d", soum)
	if len(s) <= 3 {
		return s + " UZS"
	}
	var out []byte
	for i, ch := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ' ')
		}
		out = append(out, ch)
	}
	return string(out) + " UZS"
}
