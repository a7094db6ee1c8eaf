// Package quote is the resilient quote and liquidity layer: rate-limited,
// cooldown-aware swap quotes over several endpoints and cached liquidity
// lookups with provider fallback.
package quote

import "errors"

// Quote failures. Callers branch on them with errors.Is.
var (
	// ErrRateLimited is returned before any network call when the per-key
	// spacing or the global call cap would be exceeded.
	ErrRateLimited = errors.New("quote: rate limited")

	// ErrCoolingDown is returned while a key is cooling down after a provider
	// rate-limit or bad-request response.
	ErrCoolingDown = errors.New("quote: cooling down")

	// ErrNoRoute means the provider found no swap route for the pair.
	ErrNoRoute = errors.New("quote: no route")

	// ErrBadRequest is a 400 response other than no-route.
	ErrBadRequest = errors.New("quote: bad request")

	// ErrInvalidQuote is a response that parsed but cannot be used.
	ErrInvalidQuote = errors.New("quote: invalid quote")

	// ErrUnavailable means every endpoint failed transiently in every round.
	ErrUnavailable = errors.New("quote: unavailable")
)

// Transient reports whether err may succeed if asked again later.
func Transient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCoolingDown) || errors.Is(err, ErrUnavailable)
}
