package room

import "jukebox/pkg/models"

// Decision is the outcome of a permission check.
type Decision bool

const (
	Allow Decision = true
	Deny  Decision = false
)

// CanIssue decides whether a participant with role may issue cmd in r.
// It has no side effects and must be re-evaluated on every command since the
// host may have changed the room settings since the participant last synced.
func CanIssue(r *models.Room, role models.Role, cmd models.Command) Decision {
	if r == nil {
		return Deny
	}
	switch cmd {
	case models.CommandPlay, models.CommandPause:
		return Decision(role == models.RoleHost || r.GuestCanPause)
	case models.CommandSkip:
		return Decision(role == models.RoleHost)
	case models.CommandVote:
		return Allow
	default:
		return Deny
	}
}
