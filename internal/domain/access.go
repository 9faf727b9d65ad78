package domain

import "time"

// PermissionGroup is a named set of users holding one role on one entity.
type PermissionGroup struct {
	ID        uint64 `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;size:255;not null"`
	CreatedAt time.Time
}

func (PermissionGroup) TableName() string { return "permission_groups" }

type PermissionGroupMember struct {
	ID        uint64 `gorm:"primaryKey"`
	GroupID   uint64 `gorm:"uniqueIndex:idx_group_member;not null"`
	UserID    uint64 `gorm:"uniqueIndex:idx_group_member;index;not null"`
	CreatedAt time.Time
}

func (PermissionGroupMember) TableName() string { return "permission_group_members" }

// PermissionGroupCapability grants one capability to every member of a group.
type PermissionGroupCapability struct {
	ID         uint64 `gorm:"primaryKey"`
	GroupID    uint64 `gorm:"uniqueIndex:idx_group_capability;not null"`
	Capability string `gorm:"uniqueIndex:idx_group_capability;size:32;not null"`
}

func (PermissionGroupCapability) TableName() string { return "permission_group_capabilities" }
