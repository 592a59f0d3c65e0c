// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// ErrTokenRejected is returned when the auth API answered but did not
// accept the token. Transport and decoding failures return other
// errors; callers generally treat both the same way (reject the
// request) but log them at different severities.
var ErrTokenRejected = errors.New("auth: token rejected")

// maxResponseSize bounds auth API response body reads. Legitimate
// responses are a few hundred bytes; the limit only guards against a
// misbehaving server exhausting memory.
const maxResponseSize = 1 << 20

// Validator checks execution tokens against an external auth API. The
// API contract, inherited from the original deployment: POST
// {"token": ...} as JSON; status 200 with a non-empty "sub" field
// means the token is valid and sub names the authenticated user.
type Validator struct {
	apiURL string
	client *http.Client
	logger *slog.Logger
}

// NewValidator creates a Validator for the given auth API endpoint.
// timeout bounds each validation round trip.
func NewValidator(apiURL string, timeout time.Duration, logger *slog.Logger) *Validator {
	return &Validator{
		apiURL: apiURL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Validate checks one token and returns the authenticated subject.
// Returns ErrTokenRejected when the API refused the token, or another
// error when the API could not be reached or answered garbage.
func (v *Validator) Validate(ctx context.Context, token string) (string, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return "", fmt.Errorf("encoding auth request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, v.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building auth request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := v.client.Do(request)
	if err != nil {
		v.logger.Error("auth request failed", "token", Fingerprint(token), "error", err)
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		v.logger.Warn("auth rejected token",
			"token", Fingerprint(token),
			"status", response.StatusCode,
		)
		return "", fmt.Errorf("%w (status %d)", ErrTokenRejected, response.StatusCode)
	}

	var decoded struct {
		Sub string `json:"sub"`
	}
	data, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("reading auth response: %w", err)
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", fmt.Errorf("parsing auth response: %w", err)
	}

	subject := strings.TrimSpace(decoded.Sub)
	if subject == "" {
		v.logger.Warn("auth response missing subject", "token", Fingerprint(token))
		return "", fmt.Errorf("%w (no subject)", ErrTokenRejected)
	}
	return subject, nil
}

// Fingerprint returns a short BLAKE3 digest of a token for logging.
// Tokens are credentials: they never appear in logs verbatim, only as
// fingerprints.
func Fingerprint(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}
