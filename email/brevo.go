package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// BrevoEndpoint is Brevo's transactional email API.
const BrevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// brevoTag groups BoligPing mails in the Brevo statistics.
const brevoTag = "boligping"

// BrevoProvider delivers notifications through Brevo's transactional API.
type BrevoProvider struct {
	apiKey string
	sender brevoContact

	endpoint string
	delay    time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// NewBrevoProvider creates a Brevo provider sending as fromName <fromAddr>.
func NewBrevoProvider(apiKey, fromAddr, fromName string, logger *slog.Logger) *BrevoProvider {
	return &BrevoProvider{
		apiKey:   apiKey,
		sender:   brevoContact{Email: fromAddr, Name: fromName},
		endpoint: BrevoEndpoint,
		delay:    time.Second,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

func (b *BrevoProvider) Name() string {
	return "brevo"
}

type brevoMessage struct {
	Sender  brevoContact   `json:"sender"`
	To      []brevoContact `json:"to"`
	Subject string         `json:"subject"`
	HTML    string         `json:"htmlContent"`
	Text    string         `json:"textContent"`
	Tags    []string       `json:"tags,omitempty"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// brevoAccepted is the 201 answer.
type brevoAccepted struct {
	MessageID string `json:"messageId"`
}

// brevoStatusError is a non-2xx answer, with Brevo's error code and message
// when the body carried them.
type brevoStatusError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *brevoStatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("brevo: HTTP %d: %s (%s)", e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("brevo: HTTP %d", e.StatusCode)
}

// retryable reports whether Brevo may accept the same message later.
func (e *brevoStatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Send delivers one notification. Rejections other than rate limiting are
// not retried.
func (b *BrevoProvider) Send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(brevoMessage{
		Sender:  b.sender,
		To:      []brevoContact{{Email: to}},
		Subject: sanitizeEmailHeader(subject),
		HTML:    toHTML(body),
		Text:    body,
		Tags:    []string{brevoTag},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(
		func() error {
			start := time.Now()
			id, err := b.post(ctx, payload)
			duration := time.Since(start)

			var statusErr *brevoStatusError
			switch {
			case err == nil:
				b.logger.Info("Brevo accepted notification",
					"to", to,
					"message_id", id,
					"duration_ms", duration.Milliseconds())
				return nil
			case errors.As(err, &statusErr) && !statusErr.retryable():
				b.logger.Error("Brevo rejected notification",
					"to", to,
					"status_code", statusErr.StatusCode,
					"code", statusErr.Code,
					"error", statusErr.Message)
				return retry.Unrecoverable(err)
			default:
				b.logger.Warn("Brevo request failed, will retry",
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
		},
		retry.Attempts(3),
		retry.Delay(b.delay),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(b.delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Info("Retrying Brevo send", "attempt", n, "error", err)
		}),
	)
}

// post makes one API call and returns the message id Brevo assigned.
func (b *BrevoProvider) post(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			b.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &brevoStatusError{}
		if jsonErr := json.Unmarshal(data, statusErr); jsonErr != nil {
			b.logger.Debug("Brevo error body is not JSON", "status_code", resp.StatusCode)
		}
		statusErr.StatusCode = resp.StatusCode
		return "", statusErr
	}

	var accepted brevoAccepted
	if len(data) > 0 {
		if err := json.Unmarshal(data, &accepted); err != nil {
			b.logger.Debug("Brevo answer is not JSON", "error", err)
		}
	}
	return accepted.MessageID, nil
}
