package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ValidateTwilioSignature implements the provider's webhook signing scheme:
// HMAC-SHA1 over the full request URL concatenated with the form parameters
// sorted by key, base64-encoded, compared in constant time.
func ValidateTwilioSignature(authToken, requestURL string, form url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(requestURL)
	for _, k := range keys {
		// The scheme uses the first value of each parameter.
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// twilioSender delivers chat replies through the provider's REST API.
type twilioSender struct {
	accountSID string
	authToken  string
	fromNumber string
	client     *http.Client
	logger     *slog.Logger
}

func NewTwilioSender(accountSID, authToken, fromNumber string, logger *slog.Logger) *twilioSender {
	return &twilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// Send posts one message. The body is truncated to the channel's maximum;
// replies are best-effort and failures are surfaced, not retried.
func (s *twilioSender) Send(ctx context.Context, to, body string) error {
	if to == "" || body == "" {
		return fmt.Errorf("missing recipient or body")
	}
	if runes := []rune(body); len(runes) > maxReplyLen {
		body = string(runes[:maxReplyLen])
	}

	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", s.accountSID)
	form := url.Values{
		"From": {s.fromNumber},
		"To":   {to},
		"Body": {body},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send chat message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("chat provider returned %d", resp.StatusCode)
	}

	s.logger.Debug("chat message sent", slog.String("to", to))
	return nil
}

var _ ChatSender = (*twilioSender)(nil)
