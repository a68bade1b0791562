// Package email sends listing notifications through pluggable providers.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"boligping/pkg/bolig"
)

// Provider delivers one message to one recipient. body is the text produced
// by Compose.
type Provider interface {
	Send(ctx context.Context, to, subject, body string) error
	Name() string
}

// Result reports delivery per recipient.
type Result struct {
	Delivered []string
	Failed    map[string]error
}

// Err joins the failures, or returns nil when every recipient got the mail.
func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	recipients := make([]string, 0, len(r.Failed))
	for to := range r.Failed {
		recipients = append(recipients, to)
	}
	sort.Strings(recipients)
	errs := make([]error, 0, len(recipients))
	for _, to := range recipients {
		errs = append(errs, fmt.Errorf("send to %s: %w", to, r.Failed[to]))
	}
	return errors.Join(errs...)
}

// Sender composes notifications and hands them to a provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
}

// New creates a sender using provider.
func New(provider Provider, logger *slog.Logger) *Sender {
	return &Sender{provider: provider, logger: logger}
}

// Provider returns the configured provider's name.
func (s *Sender) Provider() string {
	return s.provider.Name()
}

// Notify sends one message per recipient. A failure for one recipient does
// not stop delivery to the others. The error is only non-nil when composing
// fails.
func (s *Sender) Notify(ctx context.Context, recipients []string, listings []*bolig.Listing) (*Result, error) {
	subject, body, err := Compose(listings)
	if err != nil {
		return nil, err
	}

	res := &Result{Failed: make(map[string]error)}
	for _, to := range recipients {
		to = strings.TrimSpace(to)
		if err := ctx.Err(); err != nil {
			res.Failed[to] = err
			continue
		}
		s.logger.Info("Sending notification",
			"provider", s.provider.Name(),
			"to", to,
			"subject", subject,
			"listing_count", len(listings))
		if err := s.provider.Send(ctx, to, subject, body); err != nil {
			s.logger.Error("Failed to send notification", "provider", s.provider.Name(), "to", to, "error", err)
			res.Failed[to] = err
			continue
		}
		res.Delivered = append(res.Delivered, to)
	}
	return res, nil
}
