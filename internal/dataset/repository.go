package dataset

import (
	"context"
	"fmt"

	"mavedb/internal/domain"
	"mavedb/internal/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const variantBatchSize = 500

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	URNExists(ctx context.Context, kind domain.EntityKind, urn string) (bool, error)
	Create(ctx context.Context, e domain.Entity) error
	Find(ctx context.Context, kind domain.EntityKind, id uint64) (domain.Entity, error)
	Lock(ctx context.Context, kind domain.EntityKind, id uint64) (domain.Entity, error)
	FindByURN(ctx context.Context, kind domain.EntityKind, urn string) (domain.Entity, error)
	FindByIDs(ctx context.Context, kind domain.EntityKind, ids []uint64) ([]domain.Entity, error)
	ListPublished(ctx context.Context, kind domain.EntityKind, page, pageSize int) ([]domain.Entity, utils.PaginationMeta, error)
	ChildIDs(ctx context.Context, kind domain.EntityKind, id uint64) ([]uint64, error)
	Delete(ctx context.Context, kind domain.EntityKind, id uint64) error
	NextChildSequence(ctx context.Context, kind domain.EntityKind, id uint64) (int, error)
	Save(ctx context.Context, e domain.Entity, columns ...string) error
	StartProcessing(ctx context.Context, scoreSetID, userID uint64) (bool, error)
	UpdateColumns(ctx context.Context, kind domain.EntityKind, id uint64, values map[string]any) error
	ReplaceVariants(ctx context.Context, scoreSetID uint64, variants []domain.Variant) error
	Variants(ctx context.Context, scoreSetID uint64, page, pageSize int) ([]domain.Variant, utils.PaginationMeta, error)
	VariantIDs(ctx context.Context, scoreSetID uint64) ([]uint64, error)
	SetVariantURN(ctx context.Context, id uint64, urn string) error
	CreateTaskFailure(ctx context.Context, failure *domain.TaskFailure) error
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) WithTx(tx *gorm.DB) Repository {
	return &RepositoryImpl{db: tx}
}

func (r *RepositoryImpl) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// model returns an empty record of the given kind, usable both as a gorm
// model and as a scan destination.
func model(kind domain.EntityKind) (domain.Entity, error) {
	switch kind {
	case domain.KindExperimentSet:
		return &domain.ExperimentSet{}, nil
	case domain.KindExperiment:
		return &domain.Experiment{}, nil
	case domain.KindScoreSet:
		return &domain.ScoreSet{}, nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", kind)
}

func (r *RepositoryImpl) URNExists(ctx context.Context, kind domain.EntityKind, urn string) (bool, error) {
	m, err := model(kind)
	if err != nil {
		return false, err
	}
	var n int64
	err = r.db.WithContext(ctx).Model(m).Where("urn = ?", urn).Count(&n).Error
	return n > 0, err
}

func (r *RepositoryImpl) Create(ctx context.Context, e domain.Entity) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *RepositoryImpl) Find(ctx context.Context, kind domain.EntityKind, id uint64) (domain.Entity, error) {
	e, err := model(kind)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).First(e, id).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// Lock reads a row with SELECT ... FOR UPDATE, holding it until the
// surrounding transaction ends. SQLite drops the clause; its single writer
// serializes transactions anyway.
func (r *RepositoryImpl) Lock(ctx context.Context, kind domain.EntityKind, id uint64) (domain.Entity, error) {
	e, err := model(kind)
	if err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		First(e, id).Error
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *RepositoryImpl) FindByURN(ctx context.Context, kind domain.EntityKind, urn string) (domain.Entity, error) {
	e, err := model(kind)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Where("urn = ?", urn).First(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

func findAll[T any, P interface {
	*T
	domain.Entity
}](q *gorm.DB) ([]domain.Entity, error) {
	var rows []T
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Entity, 0, len(rows))
	for i := range rows {
		out = append(out, P(&rows[i]))
	}
	return out, nil
}

func find(q *gorm.DB, kind domain.EntityKind) ([]domain.Entity, error) {
	switch kind {
	case domain.KindExperimentSet:
		return findAll[domain.ExperimentSet](q)
	case domain.KindExperiment:
		return findAll[domain.Experiment](q)
	case domain.KindScoreSet:
		return findAll[domain.ScoreSet](q)
	}
	return nil, fmt.Errorf("unknown entity kind %q", kind)
}

func (r *RepositoryImpl) FindByIDs(ctx context.Context, kind domain.EntityKind, ids []uint64) ([]domain.Entity, error) {
	if len(ids) == 0 {
		return []domain.Entity{}, nil
	}
	return find(r.db.WithContext(ctx).Where("id IN ?", ids).Order("id"), kind)
}

func (r *RepositoryImpl) ListPublished(ctx context.Context, kind domain.EntityKind, page, pageSize int) ([]domain.Entity, utils.PaginationMeta, error) {
	m, err := model(kind)
	if err != nil {
		return nil, utils.PaginationMeta{}, err
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(m).Where("private = ?", false).Count(&total).Error; err != nil {
		return nil, utils.PaginationMeta{}, err
	}

	rows, err := find(r.db.WithContext(ctx).
		Where("private = ?", false).
		Order("published_at DESC, id DESC").
		Offset(utils.Offset(page, pageSize)).
		Limit(pageSize), kind)
	return rows, utils.NewPaginationMeta(total, page, pageSize), err
}

// ChildIDs lists the direct children of an entity: experiments of a set,
// score sets of an experiment. Score sets have none.
func (r *RepositoryImpl) ChildIDs(ctx context.Context, kind domain.EntityKind, id uint64) ([]uint64, error) {
	var ids []uint64
	var err error
	switch kind {
	case domain.KindExperimentSet:
		err = r.db.WithContext(ctx).Model(&domain.Experiment{}).
			Where("experiment_set_id = ?", id).Order("id").Pluck("id", &ids).Error
	case domain.KindExperiment:
		err = r.db.WithContext(ctx).Model(&domain.ScoreSet{}).
			Where("experiment_id = ?", id).Order("id").Pluck("id", &ids).Error
	case domain.KindScoreSet:
	default:
		err = fmt.Errorf("unknown entity kind %q", kind)
	}
	return ids, err
}

// Delete removes a single row. Deleting a score set removes its variants.
func (r *RepositoryImpl) Delete(ctx context.Context, kind domain.EntityKind, id uint64) error {
	m, err := model(kind)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if kind == domain.KindScoreSet {
			if err := tx.Where("score_set_id = ?", id).Delete(&domain.Variant{}).Error; err != nil {
				return err
			}
		}
		res := tx.Delete(m, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// NextChildSequence bumps the entity's child counter and returns the new
// value. The update holds the row lock until the surrounding transaction ends.
func (r *RepositoryImpl) NextChildSequence(ctx context.Context, kind domain.EntityKind, id uint64) (int, error) {
	m, err := model(kind)
	if err != nil {
		return 0, err
	}
	res := r.db.WithContext(ctx).Model(m).
		Where("id = ?", id).
		UpdateColumn("last_child_value", gorm.Expr("last_child_value + ?", 1))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}

	var seq int
	err = r.db.WithContext(ctx).Model(m).
		Where("id = ?", id).
		Select("last_child_value").
		Scan(&seq).Error
	return seq, err
}

// Save writes the named columns of a loaded entity. Serialized columns
// (keywords, score columns) must go through here rather than UpdateColumns.
func (r *RepositoryImpl) Save(ctx context.Context, e domain.Entity, columns ...string) error {
	if len(columns) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(e).Select(columns).Updates(e).Error
}

// StartProcessing moves a score set into the processing state unless it is
// already there. It reports false when another upload holds the score set.
func (r *RepositoryImpl) StartProcessing(ctx context.Context, scoreSetID, userID uint64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.ScoreSet{}).
		Where("id = ? AND processing_state <> ?", scoreSetID, domain.ProcessingInProgress).
		Updates(map[string]any{
			"processing_state":  domain.ProcessingInProgress,
			"processing_errors": "",
			"modified_by_id":    userID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *RepositoryImpl) UpdateColumns(ctx context.Context, kind domain.EntityKind, id uint64, values map[string]any) error {
	m, err := model(kind)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(m).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *RepositoryImpl) ReplaceVariants(ctx context.Context, scoreSetID uint64, variants []domain.Variant) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("score_set_id = ?", scoreSetID).Delete(&domain.Variant{}).Error; err != nil {
			return err
		}
		if len(variants) == 0 {
			return nil
		}
		for i := range variants {
			variants[i].ScoreSetID = scoreSetID
		}
		return tx.CreateInBatches(variants, variantBatchSize).Error
	})
}

func (r *RepositoryImpl) Variants(ctx context.Context, scoreSetID uint64, page, pageSize int) ([]domain.Variant, utils.PaginationMeta, error) {
	var variants []domain.Variant
	var total int64

	if err := r.db.WithContext(ctx).Model(&domain.Variant{}).
		Where("score_set_id = ?", scoreSetID).
		Count(&total).Error; err != nil {
		return nil, utils.PaginationMeta{}, err
	}

	err := r.db.WithContext(ctx).
		Where("score_set_id = ?", scoreSetID).
		Order("id").
		Offset(utils.Offset(page, pageSize)).
		Limit(pageSize).
		Find(&variants).Error

	return variants, utils.NewPaginationMeta(total, page, pageSize), err
}

func (r *RepositoryImpl) VariantIDs(ctx context.Context, scoreSetID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&domain.Variant{}).
		Where("score_set_id = ?", scoreSetID).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *RepositoryImpl) SetVariantURN(ctx context.Context, id uint64, urn string) error {
	return r.db.WithContext(ctx).Model(&domain.Variant{}).
		Where("id = ?", id).
		UpdateColumn("urn", urn).Error
}

func (r *RepositoryImpl) CreateTaskFailure(ctx context.Context, failure *domain.TaskFailure) error {
	return r.db.WithContext(ctx).Create(failure).Error
}
