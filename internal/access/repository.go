package access

import (
	"context"

	"mavedb/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GroupRepository interface {
	WithTx(tx *gorm.DB) GroupRepository
	Transaction(ctx context.Context, fn func(repo GroupRepository) error) error
	FindGroup(ctx context.Context, name string) (*domain.PermissionGroup, error)
	FindGroups(ctx context.Context, names []string) ([]domain.PermissionGroup, error)
	EnsureGroup(ctx context.Context, name string, capabilities []Capability) (*domain.PermissionGroup, error)
	DeleteGroup(ctx context.Context, groupID uint64) error
	AddMember(ctx context.Context, groupID, userID uint64) error
	RemoveMember(ctx context.Context, groupIDs []uint64, userID uint64) error
	MemberIDs(ctx context.Context, groupIDs []uint64) ([]uint64, error)
	UserGroupNames(ctx context.Context, userID uint64, names []string) ([]string, error)
	UserGroupNamesLike(ctx context.Context, userID uint64, prefix string) ([]string, error)
	HasCapability(ctx context.Context, userID uint64, names []string, capability Capability) (bool, error)
	UsersByIDs(ctx context.Context, ids []uint64) ([]domain.User, error)
}

type GroupRepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) GroupRepository {
	return &GroupRepositoryImpl{db: db}
}

func (r *GroupRepositoryImpl) WithTx(tx *gorm.DB) GroupRepository {
	return &GroupRepositoryImpl{db: tx}
}

// Transaction runs fn against a repository bound to one transaction. Called on
// a repository that is already inside a transaction it joins that one.
func (r *GroupRepositoryImpl) Transaction(ctx context.Context, fn func(repo GroupRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}

func (r *GroupRepositoryImpl) FindGroup(ctx context.Context, name string) (*domain.PermissionGroup, error) {
	var g domain.PermissionGroup
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *GroupRepositoryImpl) FindGroups(ctx context.Context, names []string) ([]domain.PermissionGroup, error) {
	var groups []domain.PermissionGroup
	err := r.db.WithContext(ctx).Where("name IN ?", names).Find(&groups).Error
	return groups, err
}

// EnsureGroup returns the named group, creating it and its grants when missing.
func (r *GroupRepositoryImpl) EnsureGroup(ctx context.Context, name string, capabilities []Capability) (*domain.PermissionGroup, error) {
	var g domain.PermissionGroup
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(domain.PermissionGroup{Name: name}).FirstOrCreate(&g).Error; err != nil {
			return err
		}
		if len(capabilities) == 0 {
			return nil
		}
		grants := make([]domain.PermissionGroupCapability, 0, len(capabilities))
		for _, c := range capabilities {
			grants = append(grants, domain.PermissionGroupCapability{GroupID: g.ID, Capability: string(c)})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&grants).Error
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *GroupRepositoryImpl) DeleteGroup(ctx context.Context, groupID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", groupID).Delete(&domain.PermissionGroupMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&domain.PermissionGroupCapability{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.PermissionGroup{}, groupID).Error
	})
}

func (r *GroupRepositoryImpl) AddMember(ctx context.Context, groupID, userID uint64) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.PermissionGroupMember{GroupID: groupID, UserID: userID}).Error
}

func (r *GroupRepositoryImpl) RemoveMember(ctx context.Context, groupIDs []uint64, userID uint64) error {
	if len(groupIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("group_id IN ? AND user_id = ?", groupIDs, userID).
		Delete(&domain.PermissionGroupMember{}).Error
}

func (r *GroupRepositoryImpl) MemberIDs(ctx context.Context, groupIDs []uint64) ([]uint64, error) {
	ids := []uint64{}
	if len(groupIDs) == 0 {
		return ids, nil
	}
	err := r.db.WithContext(ctx).
		Model(&domain.PermissionGroupMember{}).
		Where("group_id IN ?", groupIDs).
		Distinct("user_id").
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

func (r *GroupRepositoryImpl) memberGroups(ctx context.Context, userID uint64) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("permission_groups").
		Joins("JOIN permission_group_members ON permission_group_members.group_id = permission_groups.id").
		Where("permission_group_members.user_id = ?", userID)
}

// UserGroupNames returns which of names the user is a member of.
func (r *GroupRepositoryImpl) UserGroupNames(ctx context.Context, userID uint64, names []string) ([]string, error) {
	var out []string
	err := r.memberGroups(ctx, userID).
		Where("permission_groups.name IN ?", names).
		Order("permission_groups.name").
		Pluck("permission_groups.name", &out).Error
	return out, err
}

func (r *GroupRepositoryImpl) UserGroupNamesLike(ctx context.Context, userID uint64, prefix string) ([]string, error) {
	var out []string
	err := r.memberGroups(ctx, userID).
		Where("permission_groups.name LIKE ?", prefix+"%").
		Order("permission_groups.name").
		Pluck("permission_groups.name", &out).Error
	return out, err
}

func (r *GroupRepositoryImpl) HasCapability(ctx context.Context, userID uint64, names []string, capability Capability) (bool, error) {
	var count int64
	err := r.memberGroups(ctx, userID).
		Joins("JOIN permission_group_capabilities ON permission_group_capabilities.group_id = permission_groups.id").
		Where("permission_groups.name IN ? AND permission_group_capabilities.capability = ?", names, string(capability)).
		Count(&count).Error
	return count > 0, err
}

func (r *GroupRepositoryImpl) UsersByIDs(ctx context.Context, ids []uint64) ([]domain.User, error) {
	users := []domain.User{}
	if len(ids) == 0 {
		return users, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&users).Error
	return users, err
}
