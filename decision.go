package delegatekit

// Action tags the operation an authorization question is about.
type Action string

const (
	ActionAssignRole       Action = "assign_role"
	ActionGrantPermission  Action = "grant_permission"
	ActionRevokeRole       Action = "revoke_role"
	ActionRevokePermission Action = "revoke_permission"
	ActionDelegate         Action = "delegate"
	ActionManageUser       Action = "manage_user"
	ActionCreateUser       Action = "create_user"
	ActionSetScope         Action = "set_scope"
)

// Denial reasons produced by the decision pipeline. They are stable
// strings: callers and tests may match on them to distinguish denials.
const (
	ReasonCannotManageUsers    = "user cannot manage other users"
	ReasonSelfManagement       = "cannot manage yourself"
	ReasonNoCreator            = "target user has no creator"
	ReasonNotCreator           = "can only manage users you created"
	ReasonRoleNotInScope       = "role not in assignable scope"
	ReasonPermissionNotInScope = "permission not in assignable scope"
	ReasonNoAuthorization      = "no authorization granted"
	ReasonLimitReached         = "maximum manageable users limit reached"
)

// Decision is the outcome of an authorization question. Reason is empty on
// a grant and carries the denial explanation otherwise.
type Decision struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// Grant is the positive decision.
var Grant = Decision{Granted: true}

// Deny builds a negative decision with a reason.
func Deny(reason string) Decision {
	return Decision{Granted: false, Reason: reason}
}

// AuthorizationContext is the working state of a single decision: the
// delegator's snapshot, the optional target and capability, the action tag,
// and the tri-state result. One is built per decision call and discarded
// afterwards.
type AuthorizationContext struct {
	Action      Action
	DelegatorID string
	IsRootAdmin bool
	Scope       Scope

	// Target, when the question concerns a specific user.
	TargetID      string
	TargetCreator string // empty when the target has no recorded creator
	HasTarget     bool

	// Capability, when the question concerns a role or permission. At most
	// one of the two is set.
	RoleID       *ID
	PermissionID *ID

	decision *Decision // nil while unresolved
}

// Resolved reports whether a verdict has been reached.
func (c *AuthorizationContext) Resolved() bool {
	return c.decision != nil
}

// Decision returns the verdict. It must only be called once Resolved
// reports true; an unresolved context denies with the generic reason.
func (c *AuthorizationContext) Decision() Decision {
	if c.decision == nil {
		return Deny(ReasonNoAuthorization)
	}
	return *c.decision
}

// resolve records the verdict; the first resolution wins.
func (c *AuthorizationContext) resolve(d Decision) {
	if c.decision == nil {
		c.decision = &d
	}
}
