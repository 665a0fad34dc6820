package delegatekit

import (
	"errors"
	"fmt"
)

// Sentinel errors for delegatekit operations.
var (
	// ErrCannotAssignRole is returned when a delegator is not authorized to
	// assign a role.
	ErrCannotAssignRole = errors.New("delegatekit: cannot assign role")

	// ErrCannotGrantPermission is returned when a delegator is not
	// authorized to grant a permission.
	ErrCannotGrantPermission = errors.New("delegatekit: cannot grant permission")

	// ErrCannotRevokeRole is returned when a delegator is not authorized to
	// revoke a role.
	ErrCannotRevokeRole = errors.New("delegatekit: cannot revoke role")

	// ErrCannotRevokePermission is returned when a delegator is not
	// authorized to revoke a permission.
	ErrCannotRevokePermission = errors.New("delegatekit: cannot revoke permission")

	// ErrCannotManageUser is returned when a delegator is not authorized to
	// manage a target user.
	ErrCannotManageUser = errors.New("delegatekit: cannot manage user")

	// ErrCannotCreateUser is returned when a delegator is not authorized to
	// create users at all.
	ErrCannotCreateUser = errors.New("delegatekit: cannot create user")

	// ErrQuotaExceeded is returned from the quota-locked creation path when
	// the delegator has reached its user-creation limit.
	ErrQuotaExceeded = errors.New("delegatekit: user creation quota exceeded")

	// ErrInvalidScope is returned when a Scope is constructed with a
	// negative limit or an id that is neither integer nor string.
	ErrInvalidScope = errors.New("delegatekit: invalid scope")

	// ErrNoActorID is returned when a mutating call carries no actor id in
	// its context.
	ErrNoActorID = errors.New("delegatekit: no actor ID in context")

	// ErrUnknownRole is returned when a referenced role does not exist.
	ErrUnknownRole = errors.New("delegatekit: unknown role")

	// ErrUnknownPermission is returned when a referenced permission does
	// not exist.
	ErrUnknownPermission = errors.New("delegatekit: unknown permission")

	// ErrUnknownUser is returned when a referenced user does not exist.
	ErrUnknownUser = errors.New("delegatekit: unknown user")

	// ErrDatabaseError is returned when a storage operation fails.
	ErrDatabaseError = errors.New("delegatekit: database error")
)

// Error wraps a sentinel error with the context of the denied or failed
// operation.
type Error struct {
	Err        error  // Underlying sentinel error
	Message    string // Additional context (typically the denial reason)
	Action     Action // Attempted action
	ActorID    string // Delegator who attempted the action
	TargetID   string // Target user (if any)
	Role       string // Role name or id involved (if applicable)
	Permission string // Permission name or id involved (if applicable)
	Limit      *int   // Configured quota limit (quota denials only)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches a target error.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with context.
func NewError(err error, message string) *Error {
	return &Error{
		Err:     err,
		Message: message,
	}
}

// WithAction records the attempted action.
func (e *Error) WithAction(action Action) *Error {
	e.Action = action
	return e
}

// WithActor records the delegator who attempted the action.
func (e *Error) WithActor(actorID string) *Error {
	e.ActorID = actorID
	return e
}

// WithTarget records the target user.
func (e *Error) WithTarget(targetID string) *Error {
	e.TargetID = targetID
	return e
}

// WithRole records the role involved.
func (e *Error) WithRole(role string) *Error {
	e.Role = role
	return e
}

// WithPermission records the permission involved.
func (e *Error) WithPermission(permission string) *Error {
	e.Permission = permission
	return e
}

// WithLimit records the configured quota limit.
func (e *Error) WithLimit(limit int) *Error {
	e.Limit = &limit
	return e
}

// IsAuthorizationDenied checks if an error is any denied-authorization
// variant, including quota exhaustion.
func IsAuthorizationDenied(err error) bool {
	for _, sentinel := range []error{
		ErrCannotAssignRole,
		ErrCannotGrantPermission,
		ErrCannotRevokeRole,
		ErrCannotRevokePermission,
		ErrCannotManageUser,
		ErrCannotCreateUser,
		ErrQuotaExceeded,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// IsQuotaExceeded checks if an error is a quota exhaustion error.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// IsInvalidScope checks if an error is a scope construction error.
func IsInvalidScope(err error) bool {
	return errors.Is(err, ErrInvalidScope)
}

// QuotaLimit extracts the configured limit from a quota error. The second
// result is false when the error carries no limit.
func QuotaLimit(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) && e.Limit != nil {
		return *e.Limit, true
	}
	return 0, false
}
