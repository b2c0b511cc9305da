// Package notify delivers one-way user notifications after ledger state
// changes. Delivery is fire-and-forget: the Emitter logs and counts failures
// and never reports them to the caller, so a notification problem cannot
// roll back or retry the state change that triggered it.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/atmx/ledger-engine/internal/metrics"
	"github.com/atmx/ledger-engine/internal/model"
)

// Notifier delivers a notification to its transport.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n model.Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n model.Notification) error {
	return f(ctx, n)
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, target := range f {
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(_ context.Context, n model.Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		"user", n.UserID,
		"category", n.Category,
		"title", n.Title,
		"message", n.Message,
	)
	return nil
}

// Emitter is the fire-and-forget front for a Notifier.
type Emitter struct {
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewEmitter wraps notifier. A nil notifier makes Emit a no-op.
func NewEmitter(notifier Notifier, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{notifier: notifier, logger: logger, now: time.Now}
}

// Emit sends a notification and swallows any delivery error.
func (e *Emitter) Emit(ctx context.Context, userID, category, title, message, link string) {
	if e == nil || e.notifier == nil {
		return
	}
	n := model.Notification{
		UserID:   userID,
		Category: category,
		Title:    title,
		Message:  message,
		Link:     link,
		SentAt:   e.now().UTC(),
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		metrics.NotificationFailures.WithLabelValues(category).Inc()
		e.logger.Warn("notification failed",
			"user", userID,
			"category", category,
			"err", err,
		)
	}
}
