// Package authz evaluates a chat participant's role and mute status against a required role.
package authz

import (
	"social-backend/internal/apperr"
	"social-backend/internal/storage"
)

// Reason explains a negative Decision
type Reason string

const (
	NotParticipant   Reason = "not a participant"
	Muted            Reason = "muted"
	InsufficientRole Reason = "insufficient role"
)

// Decision is the outcome of Evaluate
type Decision struct {
	Authorized bool
	Reason     Reason
}

// Err returns nil for an authorized decision and an apperr Unauthorized error otherwise
func (d Decision) Err() error {
	if d.Authorized {
		return nil
	}
	return apperr.Unauthorized("not authorized: %s", d.Reason)
}

// Rank orders roles; an unset role ranks as guest
func Rank(r storage.Role) int {
	switch r {
	case storage.RoleAdmin:
		return 2
	case storage.RoleModerator:
		return 1
	default:
		return 0
	}
}

// Evaluate checks user against already loaded participants
func Evaluate(user int64, participants []storage.Participant, unauthorizedIfMuted bool, required storage.Role) Decision {
	for _, p := range participants {
		if p.User != user {
			continue
		}
		if p.Muted && unauthorizedIfMuted {
			return Decision{Reason: Muted}
		}
		if Rank(p.Role) < Rank(required) {
			return Decision{Reason: InsufficientRole}
		}
		return Decision{Authorized: true}
	}
	return Decision{Reason: NotParticipant}
}
