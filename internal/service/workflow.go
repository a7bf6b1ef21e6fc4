package service

import (
	"errors"

	"cark-backend/internal/domain"
	"cark-backend/internal/logger"
)

// participantRole resolves the actor's role on a rental, rejecting outsiders.
func participantRole(actor domain.Actor, renterID, ownerID int32) (domain.ActorRole, error) {
	role, ok := actor.RoleOn(renterID, ownerID)
	if !ok {
		return "", domain.NewForbidden("NOT_PARTICIPANT", "you are not a party to this rental")
	}
	return role, nil
}

// ownerRole admits the car owner, admins and the system.
func ownerRole(actor domain.Actor, renterID, ownerID int32) (domain.ActorRole, error) {
	role, ok := actor.RoleOn(renterID, ownerID)
	if !ok || role == domain.ActorRoleRenter {
		return "", domain.NewForbidden("NOT_OWNER", "only the car owner can perform this action")
	}
	return role, nil
}

// renterRole admits the renter, admins and the system.
func renterRole(actor domain.Actor, renterID, ownerID int32) (domain.ActorRole, error) {
	role, ok := actor.RoleOn(renterID, ownerID)
	if !ok || role == domain.ActorRoleOwner {
		return "", domain.NewForbidden("NOT_RENTER", "only the renter can perform this action")
	}
	return role, nil
}

// committedError carries an error that reaches the caller only after the unit
// of work has committed the bookkeeping explaining it, such as a Failed
// payment leg or an expiry cancellation.
type committedError struct {
	err error
}

func (e *committedError) Error() string { return e.err.Error() }
func (e *committedError) Unwrap() error { return e.err }

func commitThenReport(err error) error {
	return &committedError{err: err}
}

// splitCommitted separates a committed error from one that must roll back.
func splitCommitted(err error) (rollback, reported error) {
	var ce *committedError
	if errors.As(err, &ce) {
		return nil, ce.err
	}
	return err, nil
}

func reject(method string, err error, args ...any) {
	if domain.KindOf(err) == "" {
		logger.ExitMethodWithError(method, err, args...)
		return
	}
	logger.Rejected(method, err, args...)
}
