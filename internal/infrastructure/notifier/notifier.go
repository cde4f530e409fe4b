// Package notifier forwards SLA alerts to chat channels outside the
// operator console.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"livechat-api/internal/domain/sla"
)

// Channel is a named sla.Notifier.
type Channel interface {
	sla.Notifier
	Name() string
}

// FormatAlert renders alert as Telegram HTML.
func FormatAlert(alert sla.Alert) string {
	var b strings.Builder
	icon := "⚠️"
	if alert.Severity == sla.SeverityCritical {
		icon = "🚨"
	}
	fmt.Fprintf(&b, "%s <b>%s</b>\n", icon, html.EscapeString(alert.Message))
	fmt.Fprintf(&b, "Severity: %s\n", alert.Severity)
	fmt.Fprintf(&b, "User: <code>%s</code>\n", html.EscapeString(alert.UserID))
	fmt.Fprintf(&b, "Session: %d", alert.SessionID)
	return b.String()
}

// PlainAlert renders alert as plain text.
func PlainAlert(alert sla.Alert) string {
	return fmt.Sprintf("[%s] %s\nUser: %s\nSession: %d",
		strings.ToUpper(string(alert.Severity)), alert.Message, alert.UserID, alert.SessionID)
}

// Guarded wraps a channel in a circuit breaker so a dead chat API fails
// fast instead of stalling lifecycle actions.
type Guarded struct {
	channel Channel
	cb      *gobreaker.CircuitBreaker
}

// NewGuarded opens the breaker after 3 consecutive failures and retries after cooldown.
func NewGuarded(channel Channel, cooldown time.Duration, log zerolog.Logger) *Guarded {
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	log = log.With().Str("component", "notifier").Str("channel", channel.Name()).Logger()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notifier-" + channel.Name(),
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("notifier circuit breaker state changed")
		},
	})
	return &Guarded{channel: channel, cb: cb}
}

// Name implements Channel.
func (g *Guarded) Name() string { return g.channel.Name() }

// State reports the breaker state.
func (g *Guarded) State() gobreaker.State { return g.cb.State() }

// Notify implements sla.Notifier.
func (g *Guarded) Notify(ctx context.Context, alert sla.Alert) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.channel.Notify(ctx, alert)
	})
	return err
}

// Multi fans an alert out to every channel and joins their errors.
type Multi struct {
	channels []Channel
}

// NewMulti skips nil channels.
func NewMulti(channels ...Channel) *Multi {
	m := &Multi{}
	for _, c := range channels {
		if c != nil {
			m.channels = append(m.channels, c)
		}
	}
	return m
}

// Len returns the number of channels.
func (m *Multi) Len() int { return len(m.channels) }

// Notify implements sla.Notifier.
func (m *Multi) Notify(ctx context.Context, alert sla.Alert) error {
	var errs []error
	for _, c := range m.channels {
		if err := c.Notify(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}
