package room

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrStaleTrack        = errors.New("vote is for a track that is no longer current")
	ErrPremiumRequired   = errors.New("provider account requires a premium subscription")
	ErrNoActiveDevice    = errors.New("provider has no active listening device")
	ErrProvider          = errors.New("provider error")
	ErrResourceExhausted = errors.New("could not allocate a unique room code")
	ErrInvalidToken      = errors.New("invalid anti-forgery token")
	ErrInvalidConfig     = errors.New("invalid room configuration")
)

// ProviderError is an opaque upstream failure. Transient failures (network,
// timeouts, 5xx) are worth retrying; the rest are not.
type ProviderError struct {
	Message   string
	Status    int
	Transient bool
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.Status, e.Message)
	}
	return "provider error: " + e.Message
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// Reason maps an error onto the stable reason code exposed to clients.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrStaleTrack):
		return "STALE_TRACK"
	case errors.Is(err, ErrPremiumRequired):
		return "PREMIUM_REQUIRED"
	case errors.Is(err, ErrNoActiveDevice):
		return "NO_ACTIVE_DEVICE"
	case errors.Is(err, ErrResourceExhausted):
		return "RESOURCE_EXHAUSTED"
	case errors.Is(err, ErrInvalidToken):
		return "INVALID_TOKEN"
	case errors.Is(err, ErrInvalidConfig):
		return "INVALID_CONFIG"
	case errors.Is(err, ErrProvider):
		return "PROVIDER_ERROR"
	default:
		return "INTERNAL"
	}
}

// Retryable reports whether the caller should ask the user to simply try again.
// Permission, premium and configuration failures stay failed until something changes.
func Retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return true
	}
	return errors.Is(err, ErrProvider) || errors.Is(err, ErrResourceExhausted)
}

// IsTransient reports whether a provider failure is network-level and may be
// retried internally.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}
