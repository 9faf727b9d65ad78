package access

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"mavedb/internal/domain"
)

var (
	ErrInvalidRole = errors.New("invalid role")
	ErrInvalidKind = errors.New("invalid entity kind")
	ErrInvalidUser = errors.New("user has not been saved")
)

// Role is one of the three mutually exclusive access levels on an entity.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleEditor        Role = "editor"
	RoleViewer        Role = "viewer"

	// RoleAny matches membership in any of the three groups. Query only.
	RoleAny Role = "any"
)

// Roles lists the assignable roles from most to least privileged.
var Roles = []Role{RoleAdministrator, RoleEditor, RoleViewer}

func (r Role) Valid() bool {
	switch r {
	case RoleAdministrator, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// ParseRole accepts the three roles and "any".
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r == RoleAny || r.Valid() {
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

type Capability string

const (
	CanView   Capability = "can_view"
	CanEdit   Capability = "can_edit"
	CanManage Capability = "can_manage"
)

// Capabilities returns the grants attached to the role's group.
func (r Role) Capabilities() []Capability {
	switch r {
	case RoleAdministrator:
		return []Capability{CanView, CanEdit, CanManage}
	case RoleEditor:
		return []Capability{CanView, CanEdit}
	case RoleViewer:
		return []Capability{CanView}
	}
	return nil
}

// GroupName renders "{kind}:{pk}-{role}". Other systems scan for these names.
func GroupName(kind domain.EntityKind, pk uint64, role Role) string {
	return fmt.Sprintf("%s:%d-%s", kind, pk, role)
}

// parseGroupName is the inverse of GroupName.
func parseGroupName(name string) (domain.EntityKind, uint64, Role, bool) {
	kind, rest, ok := strings.Cut(name, ":")
	if !ok {
		return "", 0, "", false
	}
	pk, role, ok := strings.Cut(rest, "-")
	if !ok {
		return "", 0, "", false
	}
	id, err := strconv.ParseUint(pk, 10, 64)
	if err != nil || !domain.EntityKind(kind).Valid() || !Role(role).Valid() {
		return "", 0, "", false
	}
	return domain.EntityKind(kind), id, Role(role), true
}

func groupNames(e domain.Protected) []string {
	names := make([]string, len(Roles))
	for i, r := range Roles {
		names[i] = GroupName(e.Kind(), e.PrimaryKey(), r)
	}
	return names
}
