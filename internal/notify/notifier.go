// Package notify forwards market events to human-facing channels (Telegram,
// Discord) and to a message broker. Operators choose which event kinds reach
// the chat channels; the broker publisher receives everything.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// Sender is implemented by each chat channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans market events out to Senders. It implements domain.EventSink.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events whose kind appears in kinds are
// forwarded; an empty list forwards every kind.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.EventKind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Name implements domain.EventSink.
func (n *Notifier) Name() string { return "notify" }

// Wants reports whether events of kind k pass the filter.
func (n *Notifier) Wants(k domain.EventKind) bool {
	return len(n.kinds) == 0 || n.kinds[k]
}

// Emit implements domain.EventSink.
func (n *Notifier) Emit(ctx context.Context, evt domain.Event) error {
	if !n.Wants(evt.Kind) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("kind", string(evt.Kind)))
		return nil
	}
	title, msg := FormatEvent(evt)
	return n.dispatch(ctx, title, msg)
}

// NotifyAll sends a free-form notification regardless of the kind filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failing sender does not stop the
// rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// FormatEvent renders evt as a title and a plain-text body.
func FormatEvent(evt domain.Event) (title, message string) {
	var b strings.Builder
	fmt.Fprintf(&b, "market: %s", evt.MarketID)
	if evt.Address != nil {
		fmt.Fprintf(&b, "\nparticipant: %s", evt.Address.Hex())
	}

	switch evt.Kind {
	case domain.EventCommit:
		title = "New commitment"
		if evt.Amount != nil {
			fmt.Fprintf(&b, "\nwager: %s", evt.Amount.Dec())
		}
	case domain.EventReveal:
		title = "Prediction revealed"
		fmt.Fprintf(&b, "\nchoice: %s", evt.Choice)
	case domain.EventHasOccurred:
		title = "Market resolved"
		if o := evt.Outcome; o != nil {
			fmt.Fprintf(&b, "\noccurred: %t\nprice: %d", o.Occurred, o.Price)
		}
	case domain.EventPayout:
		title = "Payout sent"
		if evt.Amount != nil {
			fmt.Fprintf(&b, "\namount: %s", evt.Amount.Dec())
		}
	case domain.EventWinningsClaimed:
		title = "Winnings claimed"
		fmt.Fprintf(&b, "\nside: %s", evt.Choice)
	default:
		title = string(evt.Kind)
	}
	fmt.Fprintf(&b, "\nat: %s", evt.At.UTC().Format("2006-01-02 15:04:05 MST"))
	return title, b.String()
}

var _ domain.EventSink = (*Notifier)(nil)
