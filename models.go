package delegatekit

import (
	"time"

	"github.com/uptrace/bun"
)

// Role is an opaque capability token owned by the host system. delegatekit
// only compares ids and reports names.
type Role struct {
	ID        ID
	Name      string
	Namespace string
}

// Permission is an opaque capability token owned by the host system.
type Permission struct {
	ID        ID
	Name      string
	Namespace string
}

// DelegationResult is the outcome of a persisted bulk delegation. It never
// represents an authorization decision on its own: Errors carries one
// message per failed field for pre-flight style reporting.
type DelegationResult struct {
	Success     bool              `json:"success"`
	Message     string            `json:"message"`
	ActorID     string            `json:"actor_id"`
	TargetID    string            `json:"target_id"`
	Roles       []string          `json:"roles,omitempty"`
	Permissions []string          `json:"permissions,omitempty"`
	Errors      map[string]string `json:"errors,omitempty"`
}

// DelegationRequest is the input of a bulk delegation: every listed role
// and permission is granted to the target user in one transaction.
type DelegationRequest struct {
	TargetUserID  string
	RoleIDs       []ID
	PermissionIDs []ID
}

// ============================================================================
// STORAGE MODELS (database-backed store)
// ============================================================================

// UserDelegation holds a user's delegation flags: whether it may manage
// users, its optional creation limit, and who created it.
type UserDelegation struct {
	bun.BaseModel `bun:"table:user_delegations,alias:ud"`

	UserID             string    `bun:"user_id,pk"`
	CanManageUsers     bool      `bun:"can_manage_users,notnull"`
	MaxManageableUsers *int      `bun:"max_manageable_users"`
	CreatedBy          string    `bun:"created_by"` // empty = no recorded creator
	CreatedAt          time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt          time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// DelegableRole is one entry of a user's assignable role set. RoleKey is
// the ID.Key encoding, so integer and string ids stay distinct.
type DelegableRole struct {
	bun.BaseModel `bun:"table:delegable_roles,alias:dr"`

	UserID    string    `bun:"user_id,pk"`
	RoleKey   string    `bun:"role_key,pk"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// DelegablePermission is one entry of a user's assignable permission set.
type DelegablePermission struct {
	bun.BaseModel `bun:"table:delegable_permissions,alias:dp"`

	UserID        string    `bun:"user_id,pk"`
	PermissionKey string    `bun:"permission_key,pk"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// RoleRecord is the database form of a Role.
type RoleRecord struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	Key       string    `bun:"id_key,pk"`
	Name      string    `bun:"name,notnull"`
	Namespace string    `bun:"namespace,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// PermissionRecord is the database form of a Permission.
type PermissionRecord struct {
	bun.BaseModel `bun:"table:permissions,alias:p"`

	Key       string    `bun:"id_key,pk"`
	Name      string    `bun:"name,notnull"`
	Namespace string    `bun:"namespace,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// UserRole links a user to a role it holds.
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:ur"`

	UserID    string    `bun:"user_id,pk"`
	RoleKey   string    `bun:"role_key,pk"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// UserPermission links a user to a permission granted directly.
type UserPermission struct {
	bun.BaseModel `bun:"table:user_permissions,alias:up"`

	UserID        string    `bun:"user_id,pk"`
	PermissionKey string    `bun:"permission_key,pk"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// DelegationAuditLog records every delegation change and denied attempt for
// compliance and debugging.
type DelegationAuditLog struct {
	bun.BaseModel `bun:"table:delegation_audit_log,alias:dal"`

	ID        string    `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Timestamp time.Time `bun:"timestamp,notnull,default:current_timestamp"`

	// Who performed (or attempted) the action
	ActorID string `bun:"actor_id,notnull"`

	// What happened
	Kind string `bun:"kind,notnull"`

	// Target of the action, when there is one
	TargetUserID string `bun:"target_user_id"`

	// Request metadata for forensics
	IPAddress string `bun:"ip_address"`
	UserAgent string `bun:"user_agent"`
	RequestID string `bun:"request_id"`

	// Additional context (JSON): capability ids/names, old/new scope
	// snapshots, denial reasons
	Metadata map[string]any `bun:"metadata,type:jsonb"`
}

func (r *RoleRecord) toRole() (Role, error) {
	id, err := ParseKey(r.Key)
	if err != nil {
		return Role{}, err
	}
	return Role{ID: id, Name: r.Name, Namespace: r.Namespace}, nil
}

func (p *PermissionRecord) toPermission() (Permission, error) {
	id, err := ParseKey(p.Key)
	if err != nil {
		return Permission{}, err
	}
	return Permission{ID: id, Name: p.Name, Namespace: p.Namespace}, nil
}
