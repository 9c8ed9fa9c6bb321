// Package repository defines the persistence layer of the auth service and
// the sentinel errors it reports.  Handlers and services distinguish
// "not found" style outcomes through these values; every other error
// returned by a repository is a storage fault.
package repository

import (
	"errors"

	"github.com/iliyamo/service-order-auth/internal/model"
)

// ErrPrincipalNotFound is returned when no active principal matches.
var ErrPrincipalNotFound = errors.New("principal not found")

// ErrIdentifierTaken is returned when a username or email is already used.
var ErrIdentifierTaken = errors.New("identifier already taken")

// ErrRefreshNotFound is returned when a refresh token id is unknown.
var ErrRefreshNotFound = errors.New("refresh token not found")

// ErrRefreshReused matches ReusedError through errors.Is.
var ErrRefreshReused = errors.New("refresh token already rotated")

// ReusedError is returned by Rotate when the presented id belongs to a
// token that was already rotated away.  Owner identifies the session
// family that must be revoked.
type ReusedError struct {
	Owner model.OwnerRef
}

func (e *ReusedError) Error() string { return "refresh token already rotated: owner " + e.Owner.String() }

func (e *ReusedError) Is(target error) bool { return target == ErrRefreshReused }

// RotateAction selects what Rotate does with the locked row.
type RotateAction int

const (
	// ActionReplace inserts Next, deletes the current row and records the
	// current id as consumed.
	ActionReplace RotateAction = iota + 1
	// ActionDelete deletes the current row only (expired token, dead owner).
	ActionDelete
	// ActionRevokeOwner deletes every row of the current row's owner.
	ActionRevokeOwner
)

// RotateDecision is returned by a DecideFunc.
type RotateDecision struct {
	Action RotateAction
	Next   model.RefreshToken
}

// DecideFunc inspects the locked row and chooses the action to apply.  It
// may be called more than once when a store retries an optimistic swap.
// Returning an error aborts without changes.
type DecideFunc func(current model.RefreshToken) (RotateDecision, error)
