package anthropic

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/HerbHall/litdigest/pkg/llm"
	"github.com/anthropics/anthropic-sdk-go"
)

// mapError translates SDK and network errors into typed llm.ProviderError values.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llm.NewProviderError(llm.ErrCodeTimeout, "request timed out or cancelled", err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Error())
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return llm.NewProviderError(llm.ErrCodeAuthentication, "anthropic rejected credentials", err)
		case apiErr.StatusCode == 429:
			return llm.NewProviderError(llm.ErrCodeRateLimit, "anthropic rate limit", err)
		case apiErr.StatusCode == 404 || strings.Contains(msg, "not_found_error"):
			return llm.NewProviderError(llm.ErrCodeModelNotFound, "anthropic model not found", err)
		case apiErr.StatusCode == 400 &&
			(strings.Contains(msg, "prompt is too long") || strings.Contains(msg, "context")):
			return llm.NewProviderError(llm.ErrCodeContextLength, "anthropic context length exceeded", err)
		case apiErr.StatusCode >= 500:
			return llm.NewProviderError(llm.ErrCodeServerError, "anthropic server error", err)
		case apiErr.StatusCode >= 400:
			return llm.NewProviderError(llm.ErrCodeInvalidRequest, "anthropic rejected request", err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return llm.NewProviderError(llm.ErrCodeTimeout, "request timed out", err)
	}

	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dial tcp") {
		return llm.NewProviderError(llm.ErrCodeConnection, "anthropic server unreachable", err)
	}

	return llm.NewProviderError(llm.ErrCodeServerError, "anthropic error", err)
}
