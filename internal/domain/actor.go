package domain

import "time"

type Role string

const (
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID int32 `json:"user_id"`
	Role   Role  `json:"role"`
}

func SystemActor() Actor {
	return Actor{Role: RoleSystem}
}

func (a Actor) IsAdmin() bool  { return a.Role == RoleAdmin }
func (a Actor) IsSystem() bool { return a.Role == RoleSystem }

// ActorRole is the part an actor plays on a particular rental.
type ActorRole string

const (
	ActorRoleRenter ActorRole = "Renter"
	ActorRoleOwner  ActorRole = "Owner"
	ActorRoleAdmin  ActorRole = "Admin"
	ActorRoleSystem ActorRole = "System"
)

// RoleOn resolves the actor's role on a rental with the given parties.
// ok is false when the actor is not a party and has no elevated role.
func (a Actor) RoleOn(renterID, ownerID int32) (ActorRole, bool) {
	switch {
	case a.IsSystem():
		return ActorRoleSystem, true
	case a.UserID == ownerID:
		return ActorRoleOwner, true
	case a.UserID == renterID:
		return ActorRoleRenter, true
	case a.IsAdmin():
		return ActorRoleAdmin, true
	}
	return "", false
}

// RentalLog is an append-only audit entry. Entries with ID 0 have not been
// persisted yet.
type RentalLog struct {
	ID        int32             `json:"id"`
	Event     string            `json:"event"`
	ActorRole ActorRole         `json:"actor_role"`
	ActorID   int32             `json:"actor_id"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// StatusChange is an append-only status history entry.
type StatusChange struct {
	ID        int32     `json:"id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	ActorID   int32     `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
}
