package dataset

import (
	"context"
	"time"

	"mavedb/internal/access"
	"mavedb/internal/domain"
	"mavedb/internal/errors"
	"mavedb/internal/metrics"
	"mavedb/internal/notify"
	"mavedb/internal/urn"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Publish makes a score set and its ancestors public, replacing temporary
// urns with permanent ones. Publishing a public score set changes nothing.
func (s *DefaultService) Publish(ctx context.Context, user *domain.User, scoreSetID uint64) (*EntityDTO, error) {
	ss, err := s.findScoreSet(ctx, scoreSetID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, user, ss, access.CanManage); err != nil {
		return nil, err
	}
	if !ss.Private && !urn.IsTemporary(ss.URN) {
		return s.withRole(ctx, user, ss)
	}

	switch ss.ProcessingState {
	case domain.ProcessingInProgress:
		return nil, errors.Conflict("Variants are still being processed", nil)
	case domain.ProcessingSuccess:
	default:
		return nil, errors.UnprocessableEntity("Score set has no variants to publish", nil)
	}

	var assigned map[domain.EntityKind]int
	var variants int
	err = s.repository.Transaction(ctx, func(tx *gorm.DB) error {
		var err error
		assigned, variants, err = publish(ctx, s.repository.WithTx(tx), ss.ID, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, errors.Internal(err)
	}

	for kind, n := range assigned {
		metrics.URNsAssigned.WithLabelValues(string(kind)).Add(float64(n))
	}
	metrics.URNsAssigned.WithLabelValues("variant").Add(float64(variants))

	ss, err = s.findScoreSet(ctx, scoreSetID)
	if err != nil {
		return nil, err
	}
	s.log.Info("score set published",
		zap.String("urn", ss.URN),
		zap.Int("variants", variants),
		zap.Uint64("user_id", user.ID),
	)
	s.notify(notify.Notification{
		UserID:  user.ID,
		Kind:    notify.KindPublished,
		URN:     ss.URN,
		Subject: "Score set published",
		Message: ss.Title + " is now public as " + ss.URN,
	})
	return s.withRole(ctx, user, ss)
}

// publish runs inside one transaction. The set, experiment and score set rows
// are locked top-down before any urn is inspected, so concurrent publishes
// under the same parents serialize and the later one sees the urns the
// earlier one committed.
func publish(ctx context.Context, repo Repository, scoreSetID uint64, now time.Time) (map[domain.EntityKind]int, int, error) {
	assigned := map[domain.EntityKind]int{}

	// parent ids never change, so a plain read is enough to find them
	e, err := repo.Find(ctx, domain.KindScoreSet, scoreSetID)
	if err != nil {
		return nil, 0, err
	}
	expID := e.(*domain.ScoreSet).ExperimentID
	e, err = repo.Find(ctx, domain.KindExperiment, expID)
	if err != nil {
		return nil, 0, err
	}
	setID := e.(*domain.Experiment).ExperimentSetID

	e, err = repo.Lock(ctx, domain.KindExperimentSet, setID)
	if err != nil {
		return nil, 0, err
	}
	set := e.(*domain.ExperimentSet)
	e, err = repo.Lock(ctx, domain.KindExperiment, expID)
	if err != nil {
		return nil, 0, err
	}
	exp := e.(*domain.Experiment)
	e, err = repo.Lock(ctx, domain.KindScoreSet, scoreSetID)
	if err != nil {
		return nil, 0, err
	}
	ss := e.(*domain.ScoreSet)
	if !ss.Private && !urn.IsTemporary(ss.URN) {
		return assigned, 0, nil
	}

	if urn.IsTemporary(set.URN) {
		set.URN = urn.ExperimentSet(set.ID)
		assigned[domain.KindExperimentSet]++
	}
	if err := release(ctx, repo, set, now); err != nil {
		return nil, 0, err
	}

	if urn.IsTemporary(exp.URN) {
		n, err := repo.NextChildSequence(ctx, domain.KindExperimentSet, set.ID)
		if err != nil {
			return nil, 0, err
		}
		if exp.URN, err = urn.Experiment(set.URN, n); err != nil {
			return nil, 0, err
		}
		assigned[domain.KindExperiment]++
	}
	if err := release(ctx, repo, exp, now); err != nil {
		return nil, 0, err
	}

	if urn.IsTemporary(ss.URN) {
		n, err := repo.NextChildSequence(ctx, domain.KindExperiment, exp.ID)
		if err != nil {
			return nil, 0, err
		}
		if ss.URN, err = urn.ScoreSet(exp.URN, n); err != nil {
			return nil, 0, err
		}
		assigned[domain.KindScoreSet]++
	}

	ids, err := repo.VariantIDs(ctx, ss.ID)
	if err != nil {
		return nil, 0, err
	}
	for i, id := range ids {
		v, err := urn.Variant(ss.URN, i+1)
		if err != nil {
			return nil, 0, err
		}
		if err := repo.SetVariantURN(ctx, id, v); err != nil {
			return nil, 0, err
		}
	}
	ss.LastChildValue = len(ids)
	if err := release(ctx, repo, ss, now, "last_child_value"); err != nil {
		return nil, 0, err
	}
	return assigned, len(ids), nil
}

// release writes the urn and clears the private flag, stamping the first
// publication time.
func release(ctx context.Context, repo Repository, e domain.Entity, now time.Time, extra ...string) error {
	d := e.Dataset()
	if d.PublishedAt == nil {
		d.PublishedAt = &now
	}
	d.Private = false
	columns := append([]string{"urn", "private", "published_at"}, extra...)
	return repo.Save(ctx, e, columns...)
}
