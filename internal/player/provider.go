package player

import (
	"context"
	"fmt"

	"jukebox/pkg/models"
)

// Provider is the external music service that actually controls playback on
// the host's account. Implementations may return *Failure to describe an
// upstream rejection; any other error is treated as a network-level failure.
type Provider interface {
	Play(ctx context.Context, hostID string) error
	Pause(ctx context.Context, hostID string) error
	Skip(ctx context.Context, hostID string) error
	// CurrentPlayback returns nil state when nothing is playing.
	CurrentPlayback(ctx context.Context, hostID string) (*models.PlaybackState, error)
}

// Failure is a raw upstream rejection as the provider described it. The
// controller turns it into the room error taxonomy.
type Failure struct {
	Status  int
	Reason  string
	Message string
}

func (f *Failure) Error() string {
	if f.Reason != "" {
		return fmt.Sprintf("provider returned %d (%s): %s", f.Status, f.Reason, f.Message)
	}
	return fmt.Sprintf("provider returned %d: %s", f.Status, f.Message)
}

// Upstream reason codes recognised by the controller.
const (
	ReasonPremiumRequired  = "PREMIUM_REQUIRED"
	ReasonNoActiveDevice   = "NO_ACTIVE_DEVICE"
	ReasonNotAuthenticated = "NOT_AUTHENTICATED"
)
