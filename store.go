package delegatekit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/fernandezvara/dbkit"
)

// Store is the database-backed implementation of every storage interface,
// over Postgres through dbkit. Hosts with their own user/role tables can
// implement the interfaces directly and skip the Store entirely.
type Store struct {
	db dbkit.IDB
}

// NewStore creates a Store over a dbkit database.
//
// Example:
//
//	db, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	store := delegatekit.NewStore(db)
//	store.Migrate(ctx)
func NewStore(db dbkit.IDB) *Store {
	return &Store{db: db}
}

// Backend bundles the store into the service's dependency set.
func (s *Store) Backend() Backend {
	return Backend{
		Users:       s,
		Roles:       (*storeRoles)(s),
		Permissions: (*storePermissions)(s),
		Delegations: (*storeDelegations)(s),
		Tx:          s,
	}
}

// txContextKey carries the running transaction so repository calls made
// with a RunInTransaction context join it.
type txContextKey struct{}

// conn returns the transaction from the context when inside one, the base
// connection otherwise.
func (s *Store) conn(ctx context.Context) dbkit.IDB {
	if tx, ok := ctx.Value(txContextKey{}).(*dbkit.Tx); ok {
		return tx
	}
	return s.db
}

// ============================================================================
// TRANSACTION MANAGER
// ============================================================================

// RunInTransaction executes fn within a database transaction with
// automatic commit/rollback. Nested calls use savepoints.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	run := func(tx *dbkit.Tx) error {
		return fn(context.WithValue(ctx, txContextKey{}, tx))
	}

	// A context already carrying a transaction means we are nested: run a
	// savepoint on that transaction rather than opening a new one off the
	// base connection.
	if tx, ok := ctx.Value(txContextKey{}).(*dbkit.Tx); ok {
		return tx.Transaction(ctx, run)
	}
	if tx, ok := s.db.(*dbkit.Tx); ok {
		return tx.Transaction(ctx, run)
	}
	if db, ok := s.db.(*dbkit.DBKit); ok {
		return db.Transaction(ctx, run)
	}
	return fmt.Errorf("transaction support requires a dbkit.DBKit or dbkit.Tx instance")
}

// LockUser takes a row-level exclusive lock on the user's delegation
// record, creating the record first if the user has none yet. Must run
// inside RunInTransaction; the lock is released on commit or rollback.
// Lock-wait timeouts are whatever the connection is configured with.
func (s *Store) LockUser(ctx context.Context, userID string) error {
	conn := s.conn(ctx)
	if _, ok := ctx.Value(txContextKey{}).(*dbkit.Tx); !ok {
		return fmt.Errorf("delegatekit: LockUser called outside a transaction")
	}

	record := &UserDelegation{UserID: userID}
	_, err := conn.NewInsert().
		Model(record).
		On("CONFLICT (user_id) DO NOTHING").
		Exec(ctx)
	if err := dbkit.WithErr1(err, "EnsureDelegationRecord").Err(); err != nil {
		return err
	}

	var locked string
	err = conn.NewRaw("SELECT user_id FROM user_delegations WHERE user_id = ? FOR UPDATE", userID).Scan(ctx, &locked)
	return dbkit.WithErr1(err, "LockDelegationRecord").Err()
}

// ============================================================================
// USER DIRECTORY
// ============================================================================

// StoredUser is the reference users table. Hosts usually implement
// UserDirectory over their own user storage instead.
type StoredUser struct {
	bun.BaseModel `bun:"table:delegation_users,alias:du"`

	ID        string    `bun:"id,pk"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Exists reports whether the user id is known.
func (s *Store) Exists(ctx context.Context, userID string) (bool, error) {
	return dbkit.Exists[StoredUser](ctx, s.conn(ctx), func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("id = ?", userID)
	})
}

// AllIDs enumerates every known user id.
func (s *Store) AllIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := dbkit.WithErr1(s.conn(ctx).NewRaw("SELECT id FROM delegation_users ORDER BY id").Scan(ctx, &ids), "AllUserIDs").Err()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ids, nil
}

// Count returns the number of known users.
func (s *Store) Count(ctx context.Context) (int, error) {
	return dbkit.Count[StoredUser](ctx, s.conn(ctx), func(q *bun.SelectQuery) *bun.SelectQuery {
		return q
	})
}

// AddUser registers a user id in the reference users table.
func (s *Store) AddUser(ctx context.Context, userID string) error {
	_, err := s.conn(ctx).NewInsert().
		Model(&StoredUser{ID: userID}).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	return dbkit.WithErr1(err, "AddUser").Err()
}

// ============================================================================
// ROLE REPOSITORY
// ============================================================================

// storeRoles is the Store's RoleRepository facet.
type storeRoles Store

func (s *storeRoles) store() *Store { return (*Store)(s) }

// SaveRole registers a role so it can be delegated. Saving an existing id
// updates name and namespace.
func (s *Store) SaveRole(ctx context.Context, role Role) error {
	record := &RoleRecord{Key: role.ID.Key(), Name: role.Name, Namespace: role.Namespace}
	_, err := s.conn(ctx).NewInsert().
		Model(record).
		On("CONFLICT (id_key) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("namespace = EXCLUDED.namespace").
		Exec(ctx)
	return dbkit.WithErr1(err, "SaveRole").Err()
}

func (s *storeRoles) FindByID(ctx context.Context, id ID) (*Role, error) {
	var record RoleRecord
	err := s.store().conn(ctx).NewSelect().Model(&record).Where("id_key = ?", id.Key()).Limit(1).Scan(ctx)
	if err := dbkit.WithErr1(err, "FindRoleByID").Err(); err != nil {
		if dbkit.IsNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	role, err := record.toRole()
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *storeRoles) FindByIDs(ctx context.Context, ids []ID) ([]Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []RoleRecord
	err := s.store().conn(ctx).NewSelect().Model(&records).Where("id_key IN (?)", bun.In(idKeys(ids))).Scan(ctx)
	if err := dbkit.WithErr1(err, "FindRolesByIDs").Err(); err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(records))
	for i := range records {
		role, err := records[i].toRole()
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (s *storeRoles) FindByName(ctx context.Context, name, namespace string) (*Role, error) {
	var record RoleRecord
	err := s.store().conn(ctx).NewSelect().Model(&record).Where("name = ? AND namespace = ?", name, namespace).Limit(1).Scan(ctx)
	if err := dbkit.WithErr1(err, "FindRoleByName").Err(); err != nil {
		if dbkit.IsNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	role, err := record.toRole()
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *storeRoles) List(ctx context.Context, namespace string) ([]Role, error) {
	var records []RoleRecord
	q := s.store().conn(ctx).NewSelect().Model(&records).Order("name")
	if namespace != "" {
		q = q.Where("namespace = ?", namespace)
	}
	if err := dbkit.WithErr1(q.Scan(ctx), "ListRoles").Err(); err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(records))
	for i := range records {
		role, err := records[i].toRole()
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (s *storeRoles) AssignToUser(ctx context.Context, userID string, id ID) error {
	_, err := s.store().conn(ctx).NewInsert().
		Model(&UserRole{UserID: userID, RoleKey: id.Key()}).
		On("CONFLICT (user_id, role_key) DO NOTHING").
		Exec(ctx)
	return dbkit.WithErr1(err, "AssignRoleToUser").Err()
}

func (s *storeRoles) RemoveFromUser(ctx context.Context, userID string, id ID) error {
	_, err := s.store().conn(ctx).NewDelete().
		Table("user_roles").
		Where("user_id = ? AND role_key = ?", userID, id.Key()).
		Exec(ctx)
	return dbkit.WithErr1(err, "RemoveRoleFromUser").Err()
}

func (s *storeRoles) UserHasRole(ctx context.Context, userID string, id ID) (bool, error) {
	return dbkit.Exists[UserRole](ctx, s.store().conn(ctx), func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("user_id = ? AND role_key = ?", userID, id.Key())
	})
}

func (s *storeRoles) UserHasRoleNamed(ctx context.Context, userID string, name, namespace string) (bool, error) {
	var count int
	err := s.store().conn(ctx).NewRaw(
		"SELECT count(*) FROM user_roles ur JOIN roles r ON r.id_key = ur.role_key WHERE ur.user_id = ? AND r.name = ? AND r.namespace = ?",
		userID, name, namespace,
	).Scan(ctx, &count)
	if err := dbkit.WithErr1(err, "UserHasRoleNamed").Err(); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *storeRoles) SyncUser(ctx context.Context, userID string, ids []ID) error {
	return s.store().RunInTransaction(ctx, func(txCtx context.Context) error {
		conn := s.store().conn(txCtx)
		_, err := conn.NewDelete().Table("user_roles").Where("user_id = ?", userID).Exec(txCtx)
		if err := dbkit.WithErr1(err, "SyncUserRolesDelete").Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.AssignToUser(txCtx, userID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// ============================================================================
// PERMISSION REPOSITORY
// ============================================================================

// storePermissions is the Store's PermissionRepository facet.
type storePermissions Store

func (s *storePermissions) store() *Store { return (*Store)(s) }

// SavePermission registers a permission so it can be delegated.
func (s *Store) SavePermission(ctx context.Context, permission Permission) error {
	record := &PermissionRecord{Key: permission.ID.Key(), Name: permission.Name, Namespace: permission.Namespace}
	_, err := s.conn(ctx).NewInsert().
		Model(record).
		On("CONFLICT (id_key) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("namespace = EXCLUDED.namespace").
		Exec(ctx)
	return dbkit.WithErr1(err, "SavePermission").Err()
}

func (s *storePermissions) FindByID(ctx context.Context, id ID) (*Permission, error) {
	var record PermissionRecord
	err := s.store().conn(ctx).NewSelect().Model(&record).Where("id_key = ?", id.Key()).Limit(1).Scan(ctx)
	if err := dbkit.WithErr1(err, "FindPermissionByID").Err(); err != nil {
		if dbkit.IsNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	permission, err := record.toPermission()
	if err != nil {
		return nil, err
	}
	return &permission, nil
}

func (s *storePermissions) FindByIDs(ctx context.Context, ids []ID) ([]Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []PermissionRecord
	err := s.store().conn(ctx).NewSelect().Model(&records).Where("id_key IN (?)", bun.In(idKeys(ids))).Scan(ctx)
	if err := dbkit.WithErr1(err, "FindPermissionsByIDs").Err(); err != nil {
		return nil, err
	}
	permissions := make([]Permission, 0, len(records))
	for i := range records {
		permission, err := records[i].toPermission()
		if err != nil {
			return nil, err
		}
		permissions = append(permissions, permission)
	}
	return permissions, nil
}

func (s *storePermissions) FindByName(ctx context.Context, name, namespace string) (*Permission, error) {
	var record PermissionRecord
	err := s.store().conn(ctx).NewSelect().Model(&record).Where("name = ? AND namespace = ?", name, namespace).Limit(1).Scan(ctx)
	if err := dbkit.WithErr1(err, "FindPermissionByName").Err(); err != nil {
		if dbkit.IsNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	permission, err := record.toPermission()
	if err != nil {
		return nil, err
	}
	return &permission, nil
}

func (s *storePermissions) List(ctx context.Context, namespace string) ([]Permission, error) {
	var records []PermissionRecord
	q := s.store().conn(ctx).NewSelect().Model(&records).Order("name")
	if namespace != "" {
		q = q.Where("namespace = ?", namespace)
	}
	if err := dbkit.WithErr1(q.Scan(ctx), "ListPermissions").Err(); err != nil {
		return nil, err
	}
	permissions := make([]Permission, 0, len(records))
	for i := range records {
		permission, err := records[i].toPermission()
		if err != nil {
			return nil, err
		}
		permissions = append(permissions, permission)
	}
	return permissions, nil
}

func (s *storePermissions) GrantToUser(ctx context.Context, userID string, id ID) error {
	_, err := s.store().conn(ctx).NewInsert().
		Model(&UserPermission{UserID: userID, PermissionKey: id.Key()}).
		On("CONFLICT (user_id, permission_key) DO NOTHING").
		Exec(ctx)
	return dbkit.WithErr1(err, "GrantPermissionToUser").Err()
}

func (s *storePermissions) RevokeFromUser(ctx context.Context, userID string, id ID) error {
	_, err := s.store().conn(ctx).NewDelete().
		Table("user_permissions").
		Where("user_id = ? AND permission_key = ?", userID, id.Key()).
		Exec(ctx)
	return dbkit.WithErr1(err, "RevokePermissionFromUser").Err()
}

func (s *storePermissions) UserHasPermission(ctx context.Context, userID string, id ID) (bool, error) {
	return dbkit.Exists[UserPermission](ctx, s.store().conn(ctx), func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("user_id = ? AND permission_key = ?", userID, id.Key())
	})
}

func (s *storePermissions) SyncUser(ctx context.Context, userID string, ids []ID) error {
	return s.store().RunInTransaction(ctx, func(txCtx context.Context) error {
		conn := s.store().conn(txCtx)
		_, err := conn.NewDelete().Table("user_permissions").Where("user_id = ?", userID).Exec(txCtx)
		if err := dbkit.WithErr1(err, "SyncUserPermissionsDelete").Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.GrantToUser(txCtx, userID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// ============================================================================
// DELEGATION REPOSITORY
// ============================================================================

// storeDelegations is the Store's DelegationRepository facet.
type storeDelegations Store

func (s *storeDelegations) store() *Store { return (*Store)(s) }

func (s *storeDelegations) GetScope(ctx context.Context, userID string) (Scope, error) {
	conn := s.store().conn(ctx)

	var record UserDelegation
	err := conn.NewSelect().Model(&record).Where("user_id = ?", userID).Limit(1).Scan(ctx)
	if err := dbkit.WithErr1(err, "GetDelegationRecord").Err(); err != nil {
		if dbkit.IsNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return Scope{}, nil
		}
		return Scope{}, err
	}

	roleIDs, err := s.AssignableRoleIDs(ctx, userID)
	if err != nil {
		return Scope{}, err
	}
	permissionIDs, err := s.AssignablePermissionIDs(ctx, userID)
	if err != nil {
		return Scope{}, err
	}

	return ScopeFromIDs(record.CanManageUsers, record.MaxManageableUsers, roleIDs, permissionIDs)
}

func (s *storeDelegations) SaveScope(ctx context.Context, userID string, scope Scope) error {
	return s.store().RunInTransaction(ctx, func(txCtx context.Context) error {
		conn := s.store().conn(txCtx)

		record := &UserDelegation{
			UserID:         userID,
			CanManageUsers: scope.CanManageUsers(),
			UpdatedAt:      time.Now(),
		}
		if limit, ok := scope.MaxManageableUsers(); ok {
			record.MaxManageableUsers = &limit
		}
		_, err := conn.NewInsert().
			Model(record).
			On("CONFLICT (user_id) DO UPDATE").
			Set("can_manage_users = EXCLUDED.can_manage_users").
			Set("max_manageable_users = EXCLUDED.max_manageable_users").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(txCtx)
		if err := dbkit.WithErr1(err, "SaveDelegationRecord").Err(); err != nil {
			return err
		}

		// The assignable sets are rebuilt wholesale; there is no partial
		// patching of a scope.
		_, err = conn.NewDelete().Table("delegable_roles").Where("user_id = ?", userID).Exec(txCtx)
		if err := dbkit.WithErr1(err, "ClearDelegableRoles").Err(); err != nil {
			return err
		}
		for _, id := range scope.AssignableRoleIDs() {
			_, err := conn.NewInsert().Model(&DelegableRole{UserID: userID, RoleKey: id.Key()}).Exec(txCtx)
			if err := dbkit.WithErr1(err, "InsertDelegableRole").Err(); err != nil {
				return err
			}
		}

		_, err = conn.NewDelete().Table("delegable_permissions").Where("user_id = ?", userID).Exec(txCtx)
		if err := dbkit.WithErr1(err, "ClearDelegablePermissions").Err(); err != nil {
			return err
		}
		for _, id := range scope.AssignablePermissionIDs() {
			_, err := conn.NewInsert().Model(&DelegablePermission{UserID: userID, PermissionKey: id.Key()}).Exec(txCtx)
			if err := dbkit.WithErr1(err, "InsertDelegablePermission").Err(); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *storeDelegations) CreatorOf(ctx context.Context, userID string) (string, error) {
	var record UserDelegation
	err := s.store().conn(ctx).NewSelect().Model(&record).Column("created_by").Where("user_id = ?", userID).Limit(1).Scan(ctx)
	if err := dbkit.WithErr1(err, "CreatorOf").Err(); err != nil {
		if dbkit.IsNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return record.CreatedBy, nil
}

func (s *storeDelegations) RecordCreation(ctx context.Context, creatorID, userID string) error {
	record := &UserDelegation{UserID: userID, CreatedBy: creatorID}
	// The creator link is written once; an existing non-empty link is
	// never re-parented.
	_, err := s.store().conn(ctx).NewInsert().
		Model(record).
		On("CONFLICT (user_id) DO UPDATE").
		Set("created_by = EXCLUDED.created_by").
		Where("ud.created_by = ''").
		Exec(ctx)
	return dbkit.WithErr1(err, "RecordCreation").Err()
}

func (s *storeDelegations) CountCreatedUsers(ctx context.Context, creatorID string) (int, error) {
	return dbkit.Count[UserDelegation](ctx, s.store().conn(ctx), func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("created_by = ?", creatorID)
	})
}

func (s *storeDelegations) AssignableRoleIDs(ctx context.Context, userID string) ([]ID, error) {
	var keys []string
	err := s.store().conn(ctx).NewRaw("SELECT role_key FROM delegable_roles WHERE user_id = ? ORDER BY created_at", userID).Scan(ctx, &keys)
	if err := dbkit.WithErr1(err, "AssignableRoleIDs").Err(); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return parseKeys(keys)
}

func (s *storeDelegations) AssignablePermissionIDs(ctx context.Context, userID string) ([]ID, error) {
	var keys []string
	err := s.store().conn(ctx).NewRaw("SELECT permission_key FROM delegable_permissions WHERE user_id = ? ORDER BY created_at", userID).Scan(ctx, &keys)
	if err := dbkit.WithErr1(err, "AssignablePermissionIDs").Err(); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return parseKeys(keys)
}

func parseKeys(keys []string) ([]ID, error) {
	ids := make([]ID, 0, len(keys))
	for _, key := range keys {
		id, err := ParseKey(key)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
