package delegatekit

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryBackend is an in-memory implementation of every storage interface.
// It is intended for tests and single-process embedding: quota locking is
// done with per-user mutexes, so it does not serialize creations across
// multiple processes the way the database-backed Store does. Mutations are
// applied immediately; RunInTransaction provides locking scope, not
// rollback.
type MemoryBackend struct {
	mu sync.RWMutex

	users           map[string]struct{}
	roles           map[string]Role
	permissions     map[string]Permission
	userRoles       map[string]map[string]struct{}
	userPermissions map[string]map[string]struct{}
	scopes          map[string]Scope
	creators        map[string]string

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		users:           make(map[string]struct{}),
		roles:           make(map[string]Role),
		permissions:     make(map[string]Permission),
		userRoles:       make(map[string]map[string]struct{}),
		userPermissions: make(map[string]map[string]struct{}),
		scopes:          make(map[string]Scope),
		creators:        make(map[string]string),
		locks:           make(map[string]*sync.Mutex),
	}
}

// Backend bundles the in-memory backend into the service's dependency set.
func (m *MemoryBackend) Backend() Backend {
	return Backend{
		Users:       m,
		Roles:       (*memoryRoles)(m),
		Permissions: (*memoryPermissions)(m),
		Delegations: (*memoryDelegations)(m),
		Tx:          m,
	}
}

// AddUser registers a user id. When id is empty a random one is generated;
// the effective id is returned either way.
func (m *MemoryBackend) AddUser(id string) string {
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	m.users[id] = struct{}{}
	m.mu.Unlock()
	return id
}

// AddRole registers a role so it can be found and delegated.
func (m *MemoryBackend) AddRole(role Role) {
	m.mu.Lock()
	m.roles[role.ID.Key()] = role
	m.mu.Unlock()
}

// AddPermission registers a permission so it can be found and delegated.
func (m *MemoryBackend) AddPermission(permission Permission) {
	m.mu.Lock()
	m.permissions[permission.ID.Key()] = permission
	m.mu.Unlock()
}

// ============================================================================
// USER DIRECTORY
// ============================================================================

func (m *MemoryBackend) Exists(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[userID]
	return ok, nil
}

func (m *MemoryBackend) AllIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryBackend) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// ============================================================================
// TRANSACTION MANAGER
// ============================================================================

// memoryTx tracks the per-user locks taken during a RunInTransaction call
// so they are released when it returns.
type memoryTx struct {
	mu    sync.Mutex
	locks []*sync.Mutex
}

type memoryTxKey struct{}

func (m *MemoryBackend) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memoryTxKey{}).(*memoryTx); ok {
		// Already inside a transaction scope; join it.
		return fn(ctx)
	}

	tx := &memoryTx{}
	defer func() {
		tx.mu.Lock()
		held := tx.locks
		tx.locks = nil
		tx.mu.Unlock()
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}()

	return fn(context.WithValue(ctx, memoryTxKey{}, tx))
}

func (m *MemoryBackend) LockUser(ctx context.Context, userID string) error {
	tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx)
	if !ok {
		return NewError(ErrDatabaseError, "LockUser called outside a transaction")
	}

	m.lockMu.Lock()
	lock := m.locks[userID]
	if lock == nil {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	m.lockMu.Unlock()

	lock.Lock()
	tx.mu.Lock()
	tx.locks = append(tx.locks, lock)
	tx.mu.Unlock()
	return nil
}

// ============================================================================
// ROLE REPOSITORY
// ============================================================================

type memoryRoles MemoryBackend

func (m *memoryRoles) FindByID(_ context.Context, id ID) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if role, ok := m.roles[id.Key()]; ok {
		return &role, nil
	}
	return nil, nil
}

func (m *memoryRoles) FindByIDs(_ context.Context, ids []ID) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roles := make([]Role, 0, len(ids))
	for _, id := range ids {
		if role, ok := m.roles[id.Key()]; ok {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func (m *memoryRoles) FindByName(_ context.Context, name, namespace string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, role := range m.roles {
		if role.Name == name && role.Namespace == namespace {
			found := role
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memoryRoles) List(_ context.Context, namespace string) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var roles []Role
	for _, role := range m.roles {
		if namespace == "" || role.Namespace == namespace {
			roles = append(roles, role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (m *memoryRoles) AssignToUser(_ context.Context, userID string, id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userRoles[userID] == nil {
		m.userRoles[userID] = make(map[string]struct{})
	}
	m.userRoles[userID][id.Key()] = struct{}{}
	return nil
}

func (m *memoryRoles) RemoveFromUser(_ context.Context, userID string, id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userRoles[userID], id.Key())
	return nil
}

func (m *memoryRoles) UserHasRole(_ context.Context, userID string, id ID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.userRoles[userID][id.Key()]
	return ok, nil
}

func (m *memoryRoles) UserHasRoleNamed(_ context.Context, userID string, name, namespace string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key := range m.userRoles[userID] {
		role, ok := m.roles[key]
		if ok && role.Name == name && role.Namespace == namespace {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRoles) SyncUser(_ context.Context, userID string, ids []ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id.Key()] = struct{}{}
	}
	m.userRoles[userID] = set
	return nil
}

// ============================================================================
// PERMISSION REPOSITORY
// ============================================================================

type memoryPermissions MemoryBackend

func (m *memoryPermissions) FindByID(_ context.Context, id ID) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if permission, ok := m.permissions[id.Key()]; ok {
		return &permission, nil
	}
	return nil, nil
}

func (m *memoryPermissions) FindByIDs(_ context.Context, ids []ID) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	permissions := make([]Permission, 0, len(ids))
	for _, id := range ids {
		if permission, ok := m.permissions[id.Key()]; ok {
			permissions = append(permissions, permission)
		}
	}
	return permissions, nil
}

func (m *memoryPermissions) FindByName(_ context.Context, name, namespace string) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, permission := range m.permissions {
		if permission.Name == name && permission.Namespace == namespace {
			found := permission
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memoryPermissions) List(_ context.Context, namespace string) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var permissions []Permission
	for _, permission := range m.permissions {
		if namespace == "" || permission.Namespace == namespace {
			permissions = append(permissions, permission)
		}
	}
	sort.Slice(permissions, func(i, j int) bool { return permissions[i].Name < permissions[j].Name })
	return permissions, nil
}

func (m *memoryPermissions) GrantToUser(_ context.Context, userID string, id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userPermissions[userID] == nil {
		m.userPermissions[userID] = make(map[string]struct{})
	}
	m.userPermissions[userID][id.Key()] = struct{}{}
	return nil
}

func (m *memoryPermissions) RevokeFromUser(_ context.Context, userID string, id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userPermissions[userID], id.Key())
	return nil
}

func (m *memoryPermissions) UserHasPermission(_ context.Context, userID string, id ID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.userPermissions[userID][id.Key()]
	return ok, nil
}

func (m *memoryPermissions) SyncUser(_ context.Context, userID string, ids []ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id.Key()] = struct{}{}
	}
	m.userPermissions[userID] = set
	return nil
}

// ============================================================================
// DELEGATION REPOSITORY
// ============================================================================

type memoryDelegations MemoryBackend

func (m *memoryDelegations) GetScope(_ context.Context, userID string) (Scope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scopes[userID], nil
}

func (m *memoryDelegations) SaveScope(_ context.Context, userID string, scope Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes[userID] = scope
	return nil
}

func (m *memoryDelegations) CreatorOf(_ context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creators[userID], nil
}

func (m *memoryDelegations) RecordCreation(_ context.Context, creatorID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creators[userID] == "" {
		m.creators[userID] = creatorID
	}
	return nil
}

func (m *memoryDelegations) CountCreatedUsers(_ context.Context, creatorID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, creator := range m.creators {
		if creator == creatorID {
			count++
		}
	}
	return count, nil
}

func (m *memoryDelegations) AssignableRoleIDs(_ context.Context, userID string) ([]ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scopes[userID].AssignableRoleIDs(), nil
}

func (m *memoryDelegations) AssignablePermissionIDs(_ context.Context, userID string) ([]ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scopes[userID].AssignablePermissionIDs(), nil
}
