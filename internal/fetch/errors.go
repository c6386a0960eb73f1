package fetch

import (
	"errors"
	"fmt"
)

// ErrFetch marks every failure to obtain a page: network, navigation, timeout,
// upstream status, or exhausted retries. Finer causes are wrapped alongside it.
var ErrFetch = errors.New("fetch failed")

var (
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrNotFound        = errors.New("page not found")
	ErrLinkNotFound    = errors.New("day link not found")
	ErrCircuitOpen     = errors.New("circuit breaker open")
	ErrTimeout         = errors.New("request timeout")
)

// ErrAlignmentExhausted is returned when no load of a day page showed the
// requested day. It is a fetch failure: errors.Is(err, ErrFetch) holds.
var ErrAlignmentExhausted = fmt.Errorf("%w: day alignment exhausted", ErrFetch)
