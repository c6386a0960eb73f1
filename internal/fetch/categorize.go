package fetch

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/kjstillabower/weather-history-collector/internal/parse"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

const (
	ErrorCategoryTimeout      ErrorCategory = "timeout"
	ErrorCategoryCanceled     ErrorCategory = "canceled"
	ErrorCategoryNetwork      ErrorCategory = "network"
	ErrorCategoryNotFound     ErrorCategory = "not_found"
	ErrorCategoryLinkNotFound ErrorCategory = "link_not_found"
	ErrorCategoryRateLimited  ErrorCategory = "rate_limited"
	ErrorCategoryUpstream     ErrorCategory = "upstream"
	ErrorCategoryCircuitOpen  ErrorCategory = "circuit_open"
	ErrorCategoryAlignment    ErrorCategory = "alignment"
	ErrorCategoryParsing      ErrorCategory = "parsing"
	ErrorCategoryUnknown      ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ErrorCategoryCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrCircuitOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrLinkNotFound):
		return ErrorCategoryLinkNotFound
	case errors.Is(err, ErrNotFound):
		return ErrorCategoryNotFound
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream
	case errors.Is(err, ErrAlignmentExhausted):
		return ErrorCategoryAlignment
	case errors.Is(err, parse.ErrParse):
		return ErrorCategoryParsing
	}

	var netErr net.Error
	if errors.As(err, &netErr) || strings.Contains(err.Error(), "connection") {
		return ErrorCategoryNetwork
	}

	return ErrorCategoryUnknown
}
