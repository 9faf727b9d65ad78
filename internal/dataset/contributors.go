package dataset

import (
	"context"
	"fmt"

	"mavedb/internal/access"
	"mavedb/internal/domain"
	"mavedb/internal/errors"
	"mavedb/internal/notify"

	"go.uber.org/zap"
)

var errLastAdministrator = errors.UnprocessableEntity("An entity must keep at least one administrator", nil)

func checkAssignableRole(role access.Role) error {
	if !role.Valid() {
		return errors.BadRequest(fmt.Sprintf("Invalid role %q", role), access.ErrInvalidRole)
	}
	return nil
}

func contributorDTOs(users []domain.User, role access.Role) []ContributorDTO {
	dtos := make([]ContributorDTO, 0, len(users))
	for i := range users {
		dtos = append(dtos, ContributorDTO{User: users[i].ToSafeUser(), Role: string(role)})
	}
	return dtos
}

// ListContributors returns members grouped by role, administrators first.
func (s *DefaultService) ListContributors(ctx context.Context, user *domain.User, kind domain.EntityKind, id uint64) ([]ContributorDTO, error) {
	e, err := s.find(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if err := s.visible(ctx, user, e); err != nil {
		return nil, err
	}

	result := []ContributorDTO{}
	for _, role := range access.Roles {
		members, err := s.access.Members(ctx, e, role)
		if err != nil {
			return nil, err
		}
		result = append(result, contributorDTOs(members, role)...)
	}
	return result, nil
}

func (s *DefaultService) managed(ctx context.Context, user *domain.User, kind domain.EntityKind, id uint64) (domain.Entity, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	e, err := s.find(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, user, e, access.CanManage); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *DefaultService) targetUser(ctx context.Context, id uint64) (*domain.User, error) {
	target, err := s.userProvider.GetUserByID(ctx, id)
	if err != nil {
		return nil, errors.UnprocessableEntity("Can't find user!", err)
	}
	return target, nil
}

// keepsAdministrator reports whether e still has an administrator once the
// users in leaving lose the role.
func keepsAdministrator(ctx context.Context, mgr *access.Manager, e domain.Protected, leaving map[uint64]bool) (bool, error) {
	admins, err := mgr.Members(ctx, e, access.RoleAdministrator)
	if err != nil {
		return false, err
	}
	for _, a := range admins {
		if !leaving[a.ID] {
			return true, nil
		}
	}
	return false, nil
}

func (s *DefaultService) SetContributor(ctx context.Context, user *domain.User, kind domain.EntityKind, id, targetID uint64, role access.Role) (*ContributorDTO, error) {
	if err := checkAssignableRole(role); err != nil {
		return nil, err
	}
	e, err := s.managed(ctx, user, kind, id)
	if err != nil {
		return nil, err
	}
	target, err := s.targetUser(ctx, targetID)
	if err != nil {
		return nil, err
	}

	changed := false
	err = s.inTx(ctx, func(_ Repository, mgr *access.Manager) error {
		current, err := mgr.UserRole(ctx, target, e)
		if err != nil {
			return err
		}
		if current == role {
			return nil
		}
		if current == access.RoleAdministrator {
			ok, err := keepsAdministrator(ctx, mgr, e, map[uint64]bool{target.ID: true})
			if err != nil {
				return err
			}
			if !ok {
				return errLastAdministrator
			}
		}
		changed = true
		_, err = mgr.AssignUser(ctx, target, e, role)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.log.Info("contributor role changed",
			zap.String("urn", e.Dataset().URN),
			zap.Uint64("user_id", target.ID),
			zap.String("role", string(role)),
		)
		s.notifyRole(target.ID, e, role)
	}
	return &ContributorDTO{User: target.ToSafeUser(), Role: string(role)}, nil
}

// RemoveContributor takes role away from the target. The target must hold
// exactly that role.
func (s *DefaultService) RemoveContributor(ctx context.Context, user *domain.User, kind domain.EntityKind, id, targetID uint64, role access.Role) error {
	if err := checkAssignableRole(role); err != nil {
		return err
	}
	e, err := s.managed(ctx, user, kind, id)
	if err != nil {
		return err
	}
	target, err := s.targetUser(ctx, targetID)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, func(_ Repository, mgr *access.Manager) error {
		current, err := mgr.UserRole(ctx, target, e)
		if err != nil {
			return err
		}
		if current != role {
			return errors.NotFound(fmt.Sprintf("User is not a %s of this entity", role), nil)
		}
		if role == access.RoleAdministrator {
			ok, err := keepsAdministrator(ctx, mgr, e, map[uint64]bool{target.ID: true})
			if err != nil {
				return err
			}
			if !ok {
				return errLastAdministrator
			}
		}
		_, err = mgr.RemoveUser(ctx, target, e, role)
		return err
	})
	if err != nil {
		return err
	}

	s.notifyRole(target.ID, e, "")
	return nil
}

// UpdateRoleList makes userIDs the exact membership of role on the entity.
func (s *DefaultService) UpdateRoleList(ctx context.Context, user *domain.User, kind domain.EntityKind, id uint64, role access.Role, userIDs []uint64) ([]ContributorDTO, error) {
	if err := checkAssignableRole(role); err != nil {
		return nil, err
	}
	e, err := s.managed(ctx, user, kind, id)
	if err != nil {
		return nil, err
	}

	listed := make(map[uint64]bool, len(userIDs))
	for _, uid := range userIDs {
		listed[uid] = true
	}
	users, err := s.userProvider.GetUsersByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	if len(users) != len(listed) {
		return nil, errors.UnprocessableEntity("Some users could not be found", nil)
	}
	ptrs := make([]*domain.User, 0, len(users))
	for i := range users {
		ptrs = append(ptrs, &users[i])
	}

	err = s.inTx(ctx, func(_ Repository, mgr *access.Manager) error {
		if role == access.RoleAdministrator {
			if len(ptrs) == 0 {
				return errLastAdministrator
			}
		} else {
			// listed users move out of the administrator group
			ok, err := keepsAdministrator(ctx, mgr, e, listed)
			if err != nil {
				return err
			}
			if !ok {
				return errLastAdministrator
			}
		}
		return mgr.UpdateRoleList(ctx, ptrs, e, role)
	})
	if err != nil {
		return nil, err
	}

	members, err := s.access.Members(ctx, e, role)
	if err != nil {
		return nil, err
	}
	for _, u := range ptrs {
		s.notifyRole(u.ID, e, role)
	}
	return contributorDTOs(members, role), nil
}

func (s *DefaultService) notifyRole(userID uint64, e domain.Entity, role access.Role) {
	msg := fmt.Sprintf("You no longer have a role on %s", e.Dataset().URN)
	if role != "" {
		msg = fmt.Sprintf("You are now %s of %s", role, e.Dataset().URN)
	}
	s.notify(notify.Notification{
		UserID:  userID,
		Kind:    notify.KindRoleChanged,
		URN:     e.Dataset().URN,
		Subject: "Your role changed",
		Message: msg,
	})
}
