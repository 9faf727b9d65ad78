// Package access maintains the administrator, editor and viewer groups of
// protected entities and answers role queries against them.
package access

import (
	"context"
	defError "errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"mavedb/internal/domain"
	"mavedb/redis"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const instancesTTL = 24 * time.Hour

type Manager struct {
	repository GroupRepository
	cache      *redis.Cache
	log        *zap.Logger
	// users whose cache version is bumped on Commit; nil outside WithTx
	pending *[]uint64
}

func NewManager(repository GroupRepository, cache *redis.Cache, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{repository: repository, cache: cache, log: log}
}

// WithTx returns a manager whose writes join tx. Cache invalidations are held
// back until Commit, which the caller runs once tx has committed.
func (m *Manager) WithTx(tx *gorm.DB) *Manager {
	return &Manager{
		repository: m.repository.WithTx(tx),
		cache:      m.cache,
		log:        m.log,
		pending:    &[]uint64{},
	}
}

// Commit applies the invalidations collected by a manager from WithTx. It is
// a no-op on other managers and when called twice.
func (m *Manager) Commit(ctx context.Context) {
	if m.pending == nil {
		return
	}
	ids := *m.pending
	*m.pending = nil
	m.bump(ctx, ids...)
}

func validEntity(e domain.Protected) bool {
	if e == nil {
		return false
	}
	if v := reflect.ValueOf(e); v.Kind() == reflect.Pointer && v.IsNil() {
		return false
	}
	return e.Kind().Valid() && e.PrimaryKey() != 0
}

// checkUser returns false for the anonymous (nil) user.
func checkUser(user *domain.User) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.ID == 0 {
		return false, ErrInvalidUser
	}
	return true, nil
}

func versionKey(userID uint64) string {
	return fmt.Sprintf("user:%d:groups:version", userID)
}

func (m *Manager) invalidate(ctx context.Context, userIDs ...uint64) {
	if m.pending != nil {
		*m.pending = append(*m.pending, userIDs...)
		return
	}
	m.bump(ctx, userIDs...)
}

func (m *Manager) bump(ctx context.Context, userIDs ...uint64) {
	for _, id := range userIDs {
		m.cache.IncrementVersion(ctx, versionKey(id))
	}
}

// CreateAllGroups creates whichever of the entity's three groups are missing
// and returns all three in role order.
func (m *Manager) CreateAllGroups(ctx context.Context, e domain.Protected) ([]domain.PermissionGroup, error) {
	if !validEntity(e) {
		return nil, nil
	}
	groups := make([]domain.PermissionGroup, 0, len(Roles))
	err := m.repository.Transaction(ctx, func(repo GroupRepository) error {
		for _, role := range Roles {
			g, err := repo.EnsureGroup(ctx, GroupName(e.Kind(), e.PrimaryKey(), role), role.Capabilities())
			if err != nil {
				return err
			}
			groups = append(groups, *g)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// DeleteAllGroups removes the entity's groups. The result holds the deleted
// names in role order, "" where a group did not exist. Call it before deleting
// the entity itself.
func (m *Manager) DeleteAllGroups(ctx context.Context, e domain.Protected) ([]string, error) {
	if !validEntity(e) {
		return nil, nil
	}
	deleted := make([]string, len(Roles))
	var affected []uint64
	err := m.repository.Transaction(ctx, func(repo GroupRepository) error {
		for i, name := range groupNames(e) {
			g, err := repo.FindGroup(ctx, name)
			if defError.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			members, err := repo.MemberIDs(ctx, []uint64{g.ID})
			if err != nil {
				return err
			}
			if err := repo.DeleteGroup(ctx, g.ID); err != nil {
				return err
			}
			affected = append(affected, members...)
			deleted[i] = name
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.invalidate(ctx, affected...)
	return deleted, nil
}

// AssignUser gives user the role on e, dropping any other role they held. It
// returns false for the anonymous user.
func (m *Manager) AssignUser(ctx context.Context, user *domain.User, e domain.Protected, role Role) (bool, error) {
	ok, err := checkUser(user)
	if !ok {
		return false, err
	}
	if !role.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if !validEntity(e) {
		return false, nil
	}

	err = m.repository.Transaction(ctx, func(repo GroupRepository) error {
		return assign(ctx, repo, user.ID, e, role)
	})
	if err != nil {
		return false, err
	}
	m.invalidate(ctx, user.ID)
	m.log.Debug("assigned role",
		zap.Uint64("user_id", user.ID),
		zap.String("kind", string(e.Kind())),
		zap.Uint64("entity_id", e.PrimaryKey()),
		zap.String("role", string(role)),
	)
	return true, nil
}

func assign(ctx context.Context, repo GroupRepository, userID uint64, e domain.Protected, role Role) error {
	var others []string
	for _, r := range Roles {
		if r != role {
			others = append(others, GroupName(e.Kind(), e.PrimaryKey(), r))
		}
	}
	existing, err := repo.FindGroups(ctx, others)
	if err != nil {
		return err
	}
	ids := make([]uint64, 0, len(existing))
	for _, g := range existing {
		ids = append(ids, g.ID)
	}
	if err := repo.RemoveMember(ctx, ids, userID); err != nil {
		return err
	}

	target, err := repo.EnsureGroup(ctx, GroupName(e.Kind(), e.PrimaryKey(), role), role.Capabilities())
	if err != nil {
		return err
	}
	return repo.AddMember(ctx, target.ID, userID)
}

func (m *Manager) AssignAdmin(ctx context.Context, user *domain.User, e domain.Protected) (bool, error) {
	return m.AssignUser(ctx, user, e, RoleAdministrator)
}

func (m *Manager) AssignEditor(ctx context.Context, user *domain.User, e domain.Protected) (bool, error) {
	return m.AssignUser(ctx, user, e, RoleEditor)
}

func (m *Manager) AssignViewer(ctx context.Context, user *domain.User, e domain.Protected) (bool, error) {
	return m.AssignUser(ctx, user, e, RoleViewer)
}

// RemoveUser takes the role away from user. It returns false when the role's
// group does not exist.
func (m *Manager) RemoveUser(ctx context.Context, user *domain.User, e domain.Protected, role Role) (bool, error) {
	ok, err := checkUser(user)
	if !ok {
		return false, err
	}
	if !role.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if !validEntity(e) {
		return false, nil
	}

	g, err := m.repository.FindGroup(ctx, GroupName(e.Kind(), e.PrimaryKey(), role))
	if defError.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := m.repository.RemoveMember(ctx, []uint64{g.ID}, user.ID); err != nil {
		return false, err
	}
	m.invalidate(ctx, user.ID)
	return true, nil
}

func (m *Manager) RemoveAdmin(ctx context.Context, user *domain.User, e domain.Protected) (bool, error) {
	return m.RemoveUser(ctx, user, e, RoleAdministrator)
}

func (m *Manager) RemoveEditor(ctx context.Context, user *domain.User, e domain.Protected) (bool, error) {
	return m.RemoveUser(ctx, user, e, RoleEditor)
}

func (m *Manager) RemoveViewer(ctx context.Context, user *domain.User, e domain.Protected) (bool, error) {
	return m.RemoveUser(ctx, user, e, RoleViewer)
}

// UpdateRoleList makes users the exact membership of the role on e. Users
// added here lose any other role they held. The change is applied in one
// transaction.
func (m *Manager) UpdateRoleList(ctx context.Context, users []*domain.User, e domain.Protected, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	target := make(map[uint64]bool, len(users))
	for _, u := range users {
		if u == nil {
			continue
		}
		if u.ID == 0 {
			return ErrInvalidUser
		}
		target[u.ID] = true
	}
	if !validEntity(e) {
		return nil
	}

	var changed []uint64
	err := m.repository.Transaction(ctx, func(repo GroupRepository) error {
		g, err := repo.EnsureGroup(ctx, GroupName(e.Kind(), e.PrimaryKey(), role), role.Capabilities())
		if err != nil {
			return err
		}
		current, err := repo.MemberIDs(ctx, []uint64{g.ID})
		if err != nil {
			return err
		}

		present := make(map[uint64]bool, len(current))
		for _, id := range current {
			present[id] = true
			if target[id] {
				continue
			}
			if err := repo.RemoveMember(ctx, []uint64{g.ID}, id); err != nil {
				return err
			}
			changed = append(changed, id)
		}

		add := make([]uint64, 0, len(target))
		for id := range target {
			if !present[id] {
				add = append(add, id)
			}
		}
		sort.Slice(add, func(i, j int) bool { return add[i] < add[j] })
		for _, id := range add {
			if err := assign(ctx, repo, id, e, role); err != nil {
				return err
			}
			changed = append(changed, id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.invalidate(ctx, changed...)
	return nil
}

func (m *Manager) UpdateAdminList(ctx context.Context, users []*domain.User, e domain.Protected) error {
	return m.UpdateRoleList(ctx, users, e, RoleAdministrator)
}

func (m *Manager) UpdateEditorList(ctx context.Context, users []*domain.User, e domain.Protected) error {
	return m.UpdateRoleList(ctx, users, e, RoleEditor)
}

func (m *Manager) UpdateViewerList(ctx context.Context, users []*domain.User, e domain.Protected) error {
	return m.UpdateRoleList(ctx, users, e, RoleViewer)
}

// InstancesForUser returns the ids of entities of kind on which user holds
// role, or any role for RoleAny, in ascending order.
func (m *Manager) InstancesForUser(ctx context.Context, user *domain.User, kind domain.EntityKind, role Role) ([]uint64, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if role != RoleAny && !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	ok, err := checkUser(user)
	if !ok {
		return []uint64{}, err
	}

	v := m.cache.GetVersion(ctx, versionKey(user.ID))
	cacheKey := fmt.Sprintf("groups:u:%d:v:%d:%s:%s", user.ID, v, kind, role)
	var ids []uint64
	if found, _ := m.cache.Get(ctx, cacheKey, &ids); found {
		return ids, nil
	}

	names, err := m.repository.UserGroupNamesLike(ctx, user.ID, string(kind)+":")
	if err != nil {
		return nil, err
	}
	seen := make(map[uint64]bool, len(names))
	ids = []uint64{}
	for _, name := range names {
		k, pk, r, ok := parseGroupName(name)
		if !ok || k != kind || (role != RoleAny && r != role) || seen[pk] {
			continue
		}
		seen[pk] = true
		ids = append(ids, pk)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if err := m.cache.Set(ctx, cacheKey, ids, instancesTTL); err != nil {
		m.log.Warn("failed to cache instances", zap.Uint64("user_id", user.ID), zap.Error(err))
	}
	return ids, nil
}

// Contributors returns every user holding a role on e, ordered by id.
func (m *Manager) Contributors(ctx context.Context, e domain.Protected) ([]domain.User, error) {
	if !validEntity(e) {
		return []domain.User{}, nil
	}
	return m.members(ctx, groupNames(e))
}

func (m *Manager) Members(ctx context.Context, e domain.Protected, role Role) ([]domain.User, error) {
	if role == RoleAny {
		return m.Contributors(ctx, e)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if !validEntity(e) {
		return []domain.User{}, nil
	}
	return m.members(ctx, []string{GroupName(e.Kind(), e.PrimaryKey(), role)})
}

func (m *Manager) members(ctx context.Context, names []string) ([]domain.User, error) {
	groups, err := m.repository.FindGroups(ctx, names)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	userIDs, err := m.repository.MemberIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return m.repository.UsersByIDs(ctx, userIDs)
}

// UserRole returns the role user holds on e, or "" for none.
func (m *Manager) UserRole(ctx context.Context, user *domain.User, e domain.Protected) (Role, error) {
	ok, err := checkUser(user)
	if !ok || !validEntity(e) {
		return "", err
	}
	names, err := m.repository.UserGroupNames(ctx, user.ID, groupNames(e))
	if err != nil {
		return "", err
	}
	// strongest first
	for _, r := range Roles {
		for _, name := range names {
			if name == GroupName(e.Kind(), e.PrimaryKey(), r) {
				return r, nil
			}
		}
	}
	return "", nil
}

func (m *Manager) userIs(ctx context.Context, user *domain.User, e domain.Protected, role Role) (bool, error) {
	r, err := m.UserRole(ctx, user, e)
	return err == nil && r == role, err
}

func (m *Manager) UserIsAdmin(ctx context.Context, user *domain.User, e domain.Protected) (bool, error) {
	return m.userIs(ctx, user, e, RoleAdministrator)
}

func (m *Manager) UserIsEditor(ctx context.Context, user *domain.User, e domain.Protected) (bool, error) {
	return m.userIs(ctx, user, e, RoleEditor)
}

func (m *Manager) UserIsViewer(ctx context.Context, user *domain.User, e domain.Protected) (bool, error) {
	return m.userIs(ctx, user, e, RoleViewer)
}

// HasCapability checks the grants of the groups user belongs to on e.
// Superusers hold every capability.
func (m *Manager) HasCapability(ctx context.Context, user *domain.User, e domain.Protected, capability Capability) (bool, error) {
	ok, err := checkUser(user)
	if !ok || !validEntity(e) {
		return false, err
	}
	if user.IsSuperuser {
		return true, nil
	}
	return m.repository.HasCapability(ctx, user.ID, groupNames(e), capability)
}
