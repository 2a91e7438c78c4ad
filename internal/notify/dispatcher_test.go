package notify

import (
	"strings"
	"testing"
	"time"
)

func TestFormatTiyin(t *testing.T) {
	cases := map[int64]string{
		100_000:       "1 000 UZS",
		5_000_000:     "50 000 UZS",
		1_000_000_000: "10 000 000 UZS",
		12_300:        "123 UZS",
	}
	for amount, want := range cases {
		if got := formatTiyin(amount); got != want {
			t.Errorf("formatTiyin(%d) = %q, want %q", amount, got, want)
		}
	}
}

func TestMessageBuilders(t *testing.T) {
	slot := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	msg := PaymentConfirmed(42, 5_000_000, "click")
	if msg.ChatID != 42 {
		t.Fatalf("chat id = %d", msg.ChatID)
	}
	if !strings.Contains(msg.Text, "50 000 UZS") || !strings.Contains(msg.Text, "click") {
		t.Errorf("unexpected payment text: %q", msg.Text)
	}

	msg = Rescheduled(42, slot, 1)
	if !strings.Contains(msg.Text, "Reschedules remaining: 1") {
		t.Errorf("unexpected reschedule text: %q", msg.Text)
	}

	msg = Reminder(42, slot)
	if !strings.Contains(msg.Text, "14:00") {
		t.Errorf("unexpected reminder text: %q", msg.Text)
	}
}
