// Package dataset manages experiment sets, experiments and score sets: their
// creation, visibility, contributors, variant uploads and publication.
package dataset

import (
	"context"
	defError "errors"
	"fmt"
	"io"
	"time"

	"mavedb/internal/access"
	"mavedb/internal/blob"
	"mavedb/internal/domain"
	"mavedb/internal/errors"
	"mavedb/internal/notify"
	"mavedb/internal/urn"
	"mavedb/internal/worker"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service interface {
	CreateExperimentSet(ctx context.Context, user *domain.User, req CreateExperimentSetRequest) (*EntityDTO, error)
	CreateExperiment(ctx context.Context, user *domain.User, req CreateExperimentRequest) (*EntityDTO, error)
	CreateScoreSet(ctx context.Context, user *domain.User, req CreateScoreSetRequest) (*EntityDTO, error)
	GetEntity(ctx context.Context, user *domain.User, kind domain.EntityKind, id uint64) (*EntityDTO, error)
	UpdateEntity(ctx context.Context, user *domain.User, kind domain.EntityKind, id uint64, req UpdateRequest) (*EntityDTO, error)
	DeleteEntity(ctx context.Context, user *domain.User, kind domain.EntityKind, id uint64) error
	ListPublished(ctx context.Context, kind domain.EntityKind, page, pageSize int) (*PaginatedEntities, error)
	ListForUser(ctx context.Context, user *domain.User, kind domain.EntityKind, role access.Role) ([]EntityDTO, error)
	Publish(ctx context.Context, user *domain.User, scoreSetID uint64) (*EntityDTO, error)
	SubmitVariants(ctx context.Context, user *domain.User, scoreSetID uint64, scores, counts io.Reader) (*EntityDTO, error)
	ListVariants(ctx context.Context, user *domain.User, scoreSetID uint64, page, pageSize int) (*PaginatedVariants, error)
	ListContributors(ctx context.Context, user *domain.User, kind domain.EntityKind, id uint64) ([]ContributorDTO, error)
	SetContributor(ctx context.Context, user *domain.User, kind domain.EntityKind, id, targetID uint64, role access.Role) (*ContributorDTO, error)
	RemoveContributor(ctx context.Context, user *domain.User, kind domain.EntityKind, id, targetID uint64, role access.Role) error
	UpdateRoleList(ctx context.Context, user *domain.User, kind domain.EntityKind, id uint64, role access.Role, userIDs []uint64) ([]ContributorDTO, error)
}

type UserProvider interface {
	GetUserByID(ctx context.Context, id uint64) (*domain.User, error)
	GetUsersByIDs(ctx context.Context, ids []uint64) ([]domain.User, error)
}

// Dispatcher queues background jobs. *worker.WorkerPool satisfies it.
type Dispatcher interface {
	Submit(name string, t worker.Task) bool
}

type DefaultService struct {
	repository   Repository
	access       *access.Manager
	userProvider UserProvider
	blobs        blob.Store
	dispatcher   Dispatcher
	notifier     notify.Notifier
	log          *zap.Logger
}

func NewService(
	repository Repository,
	accessManager *access.Manager,
	userProvider UserProvider,
	blobs blob.Store,
	dispatcher Dispatcher,
	notifier notify.Notifier,
	log *zap.Logger,
) *DefaultService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DefaultService{
		repository:   repository,
		access:       accessManager,
		userProvider: userProvider,
		blobs:        blobs,
		dispatcher:   dispatcher,
		notifier:     notifier,
		log:          log.Named("dataset"),
	}
}

// ref identifies an entity that does not need to be loaded.
type ref struct {
	kind domain.EntityKind
	id   uint64
}

func (r ref) Kind() domain.EntityKind { return r.kind }
func (r ref) PrimaryKey() uint64      { return r.id }

func label(kind domain.EntityKind) string {
	switch kind {
	case domain.KindExperimentSet:
		return "Experiment set"
	case domain.KindExperiment:
		return "Experiment"
	case domain.KindScoreSet:
		return "Score set"
	}
	return "Dataset"
}

func childKind(kind domain.EntityKind) (domain.EntityKind, bool) {
	switch kind {
	case domain.KindExperimentSet:
		return domain.KindExperiment, true
	case domain.KindExperiment:
		return domain.KindScoreSet, true
	}
	return "", false
}

func requireUser(user *domain.User) error {
	if user == nil {
		return errors.Unauthorized("Authentication required", nil)
	}
	return nil
}

func (s *DefaultService) find(ctx context.Context, kind domain.EntityKind, id uint64) (domain.Entity, error) {
	e, err := s.repository.Find(ctx, kind, id)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound(label(kind)+" not found", err)
		}
		return nil, err
	}
	return e, nil
}

func (s *DefaultService) findScoreSet(ctx context.Context, id uint64) (*domain.ScoreSet, error) {
	e, err := s.find(ctx, domain.KindScoreSet, id)
	if err != nil {
		return nil, err
	}
	return e.(*domain.ScoreSet), nil
}

func (s *DefaultService) authorize(ctx context.Context, user *domain.User, e domain.Entity, capability access.Capability) error {
	ok, err := s.access.HasCapability(ctx, user, e, capability)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if user == nil {
		return errors.Unauthorized("Authentication required", nil)
	}
	return errors.Forbidden(fmt.Sprintf("Insufficient permissions on %s", e.Dataset().URN), nil)
}

// visible hides private entities from users who cannot view them.
func (s *DefaultService) visible(ctx context.Context, user *domain.User, e domain.Entity) error {
	if !e.Dataset().Private {
		return nil
	}
	ok, err := s.access.HasCapability(ctx, user, e, access.CanView)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound(label(e.Kind())+" not found", nil)
	}
	return nil
}

// inTx runs fn with the repository and access manager bound to one
// transaction. Access cache invalidations are applied after the commit.
func (s *DefaultService) inTx(ctx context.Context, fn func(repo Repository, mgr *access.Manager) error) error {
	var mgr *access.Manager
	err := s.repository.Transaction(ctx, func(tx *gorm.DB) error {
		mgr = s.access.WithTx(tx)
		return fn(s.repository.WithTx(tx), mgr)
	})
	if err != nil {
		return err
	}
	mgr.Commit(ctx)
	return nil
}

// create stores a new private entity under a temporary urn and makes user
// its administrator.
func create(ctx context.Context, repo Repository, mgr *access.Manager, user *domain.User, e domain.Entity) error {
	tmp, err := urn.GenerateTemporary(ctx, func(ctx context.Context, candidate string) (bool, error) {
		return repo.URNExists(ctx, e.Kind(), candidate)
	})
	if err != nil {
		return err
	}

	d := e.Dataset()
	d.URN = tmp
	d.Private = true
	d.CreatedByID = user.ID
	d.ModifiedByID = user.ID
	if err := repo.Create(ctx, e); err != nil {
		return err
	}

	if _, err := mgr.CreateAllGroups(ctx, e); err != nil {
		return err
	}
	_, err = mgr.AssignAdmin(ctx, user, e)
	return err
}

func (s *DefaultService) CreateExperimentSet(ctx context.Context, user *domain.User, req CreateExperimentSetRequest) (*EntityDTO, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	set := &domain.ExperimentSet{}
	req.apply(&set.DatasetModel)
	err := s.inTx(ctx, func(repo Repository, mgr *access.Manager) error {
		return create(ctx, repo, mgr, user, set)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("experiment set created", zap.String("urn", set.URN), zap.Uint64("user_id", user.ID))
	dto := toEntityDTO(set)
	dto.Role = string(access.RoleAdministrator)
	return &dto, nil
}

// CreateExperiment adds an experiment to an existing set, or to a new set
// owned by user when no set is given.
func (s *DefaultService) CreateExperiment(ctx context.Context, user *domain.User, req CreateExperimentRequest) (*EntityDTO, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	if req.ExperimentSetID != 0 {
		parent, err := s.find(ctx, domain.KindExperimentSet, req.ExperimentSetID)
		if err != nil {
			return nil, err
		}
		if err := s.authorize(ctx, user, parent, access.CanEdit); err != nil {
			return nil, err
		}
	}

	exp := &domain.Experiment{ExperimentSetID: req.ExperimentSetID}
	req.apply(&exp.DatasetModel)
	err := s.inTx(ctx, func(repo Repository, mgr *access.Manager) error {
		if exp.ExperimentSetID == 0 {
			set := &domain.ExperimentSet{}
			req.apply(&set.DatasetModel)
			if err := create(ctx, repo, mgr, user, set); err != nil {
				return err
			}
			exp.ExperimentSetID = set.ID
		}
		return create(ctx, repo, mgr, user, exp)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("experiment created", zap.String("urn", exp.URN), zap.Uint64("user_id", user.ID))
	dto := toEntityDTO(exp)
	dto.Role = string(access.RoleAdministrator)
	return &dto, nil
}

func (s *DefaultService) CreateScoreSet(ctx context.Context, user *domain.User, req CreateScoreSetRequest) (*EntityDTO, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	parent, err := s.find(ctx, domain.KindExperiment, req.ExperimentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, user, parent, access.CanEdit); err != nil {
		return nil, err
	}

	ss := &domain.ScoreSet{ExperimentID: req.ExperimentID}
	req.apply(&ss.DatasetModel)
	err = s.inTx(ctx, func(repo Repository, mgr *access.Manager) error {
		return create(ctx, repo, mgr, user, ss)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("score set created", zap.String("urn", ss.URN), zap.Uint64("user_id", user.ID))
	dto := toEntityDTO(ss)
	dto.Role = string(access.RoleAdministrator)
	return &dto, nil
}

func (s *DefaultService) GetEntity(ctx context.Context, user *domain.User, kind domain.EntityKind, id uint64) (*EntityDTO, error) {
	e, err := s.find(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if err := s.visible(ctx, user, e); err != nil {
		return nil, err
	}
	return s.withRole(ctx, user, e)
}

func (s *DefaultService) withRole(ctx context.Context, user *domain.User, e domain.Entity) (*EntityDTO, error) {
	role, err := s.access.UserRole(ctx, user, e)
	if err != nil {
		return nil, err
	}
	dto := toEntityDTO(e)
	dto.Role = string(role)
	return &dto, nil
}

func (s *DefaultService) UpdateEntity(ctx context.Context, user *domain.User, kind domain.EntityKind, id uint64, req UpdateRequest) (*EntityDTO, error) {
	e, err := s.find(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, user, e, access.CanEdit); err != nil {
		return nil, err
	}

	columns := req.apply(e.Dataset())
	if len(columns) == 0 {
		return s.withRole(ctx, user, e)
	}
	e.Dataset().ModifiedByID = user.ID
	columns = append(columns, "modified_by_id")
	if err := s.repository.Save(ctx, e, columns...); err != nil {
		return nil, err
	}
	return s.withRole(ctx, user, e)
}

// DeleteEntity removes a private entity and everything beneath it. Groups go
// before rows so no group outlives its entity.
func (s *DefaultService) DeleteEntity(ctx context.Context, user *domain.User, kind domain.EntityKind, id uint64) error {
	e, err := s.find(ctx, kind, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, user, e, access.CanManage); err != nil {
		return err
	}
	if !e.Dataset().Private {
		return errors.Conflict("Published datasets cannot be deleted", nil)
	}

	err = s.inTx(ctx, func(repo Repository, mgr *access.Manager) error {
		return deleteTree(ctx, repo, mgr, kind, id)
	})
	if err != nil {
		return err
	}

	s.log.Info("dataset deleted", zap.String("urn", e.Dataset().URN), zap.Uint64("user_id", user.ID))
	return nil
}

func deleteTree(ctx context.Context, repo Repository, mgr *access.Manager, kind domain.EntityKind, id uint64) error {
	if child, ok := childKind(kind); ok {
		ids, err := repo.ChildIDs(ctx, kind, id)
		if err != nil {
			return err
		}
		for _, childID := range ids {
			if err := deleteTree(ctx, repo, mgr, child, childID); err != nil {
				return err
			}
		}
	}
	if _, err := mgr.DeleteAllGroups(ctx, ref{kind: kind, id: id}); err != nil {
		return err
	}
	return repo.Delete(ctx, kind, id)
}

func (s *DefaultService) ListPublished(ctx context.Context, kind domain.EntityKind, page, pageSize int) (*PaginatedEntities, error) {
	entities, meta, err := s.repository.ListPublished(ctx, kind, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &PaginatedEntities{Data: toEntityDTOs(entities), Meta: meta}, nil
}

func (s *DefaultService) ListForUser(ctx context.Context, user *domain.User, kind domain.EntityKind, role access.Role) ([]EntityDTO, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	ids, err := s.access.InstancesForUser(ctx, user, kind, role)
	if err != nil {
		if defError.Is(err, access.ErrInvalidKind) || defError.Is(err, access.ErrInvalidRole) {
			return nil, errors.BadRequest(err.Error(), err)
		}
		return nil, err
	}
	entities, err := s.repository.FindByIDs(ctx, kind, ids)
	if err != nil {
		return nil, err
	}
	return toEntityDTOs(entities), nil
}

func (s *DefaultService) ListVariants(ctx context.Context, user *domain.User, scoreSetID uint64, page, pageSize int) (*PaginatedVariants, error) {
	ss, err := s.findScoreSet(ctx, scoreSetID)
	if err != nil {
		return nil, err
	}
	if err := s.visible(ctx, user, ss); err != nil {
		return nil, err
	}

	variants, meta, err := s.repository.Variants(ctx, ss.ID, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &PaginatedVariants{Data: toVariantDTOs(variants), Meta: meta}, nil
}

// notify delivers n in the background; failures are only logged.
func (s *DefaultService) notify(n notify.Notification) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.Send(ctx, n); err != nil {
			s.log.Warn("failed to send notification",
				zap.String("kind", n.Kind),
				zap.Uint64("user_id", n.UserID),
				zap.Error(err),
			)
		}
	}()
}
