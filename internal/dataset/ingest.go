package dataset

import (
	"bytes"
	"context"
	defError "errors"
	"fmt"
	"io"
	"time"

	"mavedb/internal/access"
	"mavedb/internal/domain"
	"mavedb/internal/errors"
	"mavedb/internal/metrics"
	"mavedb/internal/notify"
	"mavedb/internal/urn"
	"mavedb/internal/variant"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ingestTask = "ingest_variants"

	fieldScores = "scores_file"
	fieldCounts = "counts_file"

	// uploads larger than this are rejected before parsing
	maxUploadSize = 64 << 20
)

var errScoresRequired = defError.New("a scores file is required")

type ingestJob struct {
	ID         string
	ScoreSetID uint64
	UserID     uint64
	ScoresKey  string
	CountsKey  string
}

func uploadKey(scoreSetID uint64, jobID, name string) string {
	return fmt.Sprintf("uploads/scoresets/%d/%s/%s", scoreSetID, jobID, name)
}

// SubmitVariants validates the uploaded tables, stores them and queues the
// ingestion job. counts may be nil.
func (s *DefaultService) SubmitVariants(ctx context.Context, user *domain.User, scoreSetID uint64, scores, counts io.Reader) (*EntityDTO, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	ss, err := s.findScoreSet(ctx, scoreSetID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, user, ss, access.CanEdit); err != nil {
		return nil, err
	}
	if !ss.Private {
		return nil, errors.Conflict("Published score sets cannot be modified", nil)
	}
	if ss.ProcessingState == domain.ProcessingInProgress {
		return nil, errors.Conflict("Variants are already being processed", nil)
	}
	if scores == nil {
		return nil, errors.Validation(fieldScores, errScoresRequired)
	}

	scoreData, err := readUpload(scores, fieldScores)
	if err != nil {
		return nil, err
	}
	var countData []byte
	if counts != nil {
		if countData, err = readUpload(counts, fieldCounts); err != nil {
			return nil, err
		}
	}

	if _, err := validateUpload(scoreData, countData); err != nil {
		return nil, err
	}

	job := ingestJob{
		ID:         uuid.NewString(),
		ScoreSetID: ss.ID,
		UserID:     user.ID,
	}
	job.ScoresKey = uploadKey(ss.ID, job.ID, "scores.csv")
	if err := s.blobs.Put(ctx, job.ScoresKey, bytes.NewReader(scoreData), "text/csv"); err != nil {
		return nil, err
	}
	if countData != nil {
		job.CountsKey = uploadKey(ss.ID, job.ID, "counts.csv")
		if err := s.blobs.Put(ctx, job.CountsKey, bytes.NewReader(countData), "text/csv"); err != nil {
			s.removeUploads(job)
			return nil, err
		}
	}

	started, err := s.repository.StartProcessing(ctx, ss.ID, user.ID)
	if err != nil {
		s.removeUploads(job)
		return nil, err
	}
	if !started {
		s.removeUploads(job)
		return nil, errors.Conflict("Variants are already being processed", nil)
	}

	if !s.dispatcher.Submit(ingestTask, func(ctx context.Context) error { return s.ingest(ctx, job) }) {
		s.failIngest(job, defError.New("job queue is full"))
		s.removeUploads(job)
		return nil, errors.ServiceUnavailable("Variant ingestion is unavailable, try again later", nil)
	}
	s.log.Info("variant ingestion queued",
		zap.String("job_id", job.ID),
		zap.String("urn", ss.URN),
		zap.Uint64("user_id", user.ID),
	)

	ss, err = s.findScoreSet(ctx, scoreSetID)
	if err != nil {
		return nil, err
	}
	return s.withRole(ctx, user, ss)
}

func readUpload(r io.Reader, field string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxUploadSize+1))
	if err != nil {
		return nil, errors.BadRequest("Could not read "+field, err)
	}
	if len(data) > maxUploadSize {
		return nil, errors.Validation(field, fmt.Errorf("file exceeds %d bytes", maxUploadSize))
	}
	return data, nil
}

// validateUpload runs the variant validator over both tables and reports
// failures against the form field they came from.
func validateUpload(scoreData, countData []byte) (*variant.Merged, error) {
	merged, err := parseUpload(scoreData, countData)
	if err == nil {
		return merged, nil
	}

	var verr *uploadError
	if defError.As(err, &verr) {
		metrics.ValidationFailures.WithLabelValues(verr.kind.String()).Inc()
		field := fieldScores
		if verr.kind == variant.Counts {
			field = fieldCounts
		}
		return nil, errors.Validation(field, verr.err)
	}
	return nil, err
}

type uploadError struct {
	kind variant.Kind
	err  error
}

func (e *uploadError) Error() string { return e.kind.String() + ": " + e.err.Error() }
func (e *uploadError) Unwrap() error { return e.err }

func parseUpload(scoreData, countData []byte) (*variant.Merged, error) {
	scores, err := variant.ParseScores(bytes.NewReader(scoreData))
	if err != nil {
		return nil, &uploadError{kind: variant.Scores, err: err}
	}
	var counts *variant.Dataset
	if countData != nil {
		if counts, err = variant.ParseCounts(bytes.NewReader(countData)); err != nil {
			return nil, &uploadError{kind: variant.Counts, err: err}
		}
	}
	merged, err := variant.Merge(scores, counts)
	if err != nil {
		return nil, &uploadError{kind: variant.Counts, err: err}
	}

	metrics.RowsValidated.WithLabelValues(variant.Scores.String()).Add(float64(len(scores.Rows)))
	if counts != nil {
		metrics.RowsValidated.WithLabelValues(variant.Counts.String()).Add(float64(len(counts.Rows)))
	}
	return merged, nil
}

func (s *DefaultService) ingest(ctx context.Context, job ingestJob) (err error) {
	log := s.log.With(zap.String("job_id", job.ID), zap.Uint64("score_set_id", job.ScoreSetID))
	defer s.removeUploads(job)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("variant ingestion panicked: %v", r)
			log.Error("variant ingestion panicked", zap.Any("panic", r))
			s.failIngest(job, err)
		}
	}()

	n, err := s.runIngest(ctx, job)
	if err != nil {
		log.Error("variant ingestion failed", zap.Error(err))
		s.failIngest(job, err)
		return err
	}

	log.Info("variant ingestion finished", zap.Int("variants", n))
	s.notify(notify.Notification{
		UserID:  job.UserID,
		Kind:    notify.KindTaskSucceeded,
		Subject: "Variants processed",
		Message: fmt.Sprintf("%d variants were stored for score set %d", n, job.ScoreSetID),
	})
	return nil
}

func (s *DefaultService) readBlob(ctx context.Context, key string) ([]byte, error) {
	r, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %w", key, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// runIngest replaces the score set's variants with the uploaded rows.
func (s *DefaultService) runIngest(ctx context.Context, job ingestJob) (int, error) {
	scoreData, err := s.readBlob(ctx, job.ScoresKey)
	if err != nil {
		return 0, err
	}
	var countData []byte
	if job.CountsKey != "" {
		if countData, err = s.readBlob(ctx, job.CountsKey); err != nil {
			return 0, err
		}
	}

	merged, err := parseUpload(scoreData, countData)
	if err != nil {
		return 0, err
	}

	err = s.repository.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.repository.WithTx(tx)
		e, err := repo.Find(ctx, domain.KindScoreSet, job.ScoreSetID)
		if err != nil {
			return err
		}
		ss := e.(*domain.ScoreSet)

		variants := make([]domain.Variant, 0, len(merged.Records))
		for i, rec := range merged.Records {
			if err := variant.CheckColumns(merged.ScoreColumns, rec.Scores); err != nil {
				return err
			}
			if err := variant.CheckColumns(merged.CountColumns, rec.Counts); err != nil {
				return err
			}
			variants = append(variants, domain.Variant{
				URN:       urn.TemporaryVariant(ss.URN, i+1),
				HGVSNt:    rec.HGVSNt,
				HGVSPro:   rec.HGVSPro,
				ScoreData: rec.Scores,
				CountData: rec.Counts,
			})
		}
		if err := repo.ReplaceVariants(ctx, ss.ID, variants); err != nil {
			return err
		}

		ss.ScoreColumns = merged.ScoreColumns
		ss.CountColumns = merged.CountColumns
		ss.PrimaryHGVS = merged.Primary
		ss.ProcessingState = domain.ProcessingSuccess
		ss.ProcessingErrors = ""
		return repo.Save(ctx, ss,
			"score_columns", "count_columns", "primary_hgvs", "processing_state", "processing_errors")
	})
	if err != nil {
		return 0, err
	}
	return len(merged.Records), nil
}

// removeUploads deletes the job's raw files once they are no longer needed.
func (s *DefaultService) removeUploads(job ingestJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, key := range []string{job.ScoresKey, job.CountsKey} {
		if key == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.log.Warn("failed to delete upload", zap.String("key", key), zap.Error(err))
		}
	}
}

// failIngest records the failure. It uses its own context since the job's may
// already be done.
func (s *DefaultService) failIngest(job ingestJob, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log := s.log.With(zap.String("job_id", job.ID), zap.Uint64("score_set_id", job.ScoreSetID))

	err := s.repository.UpdateColumns(ctx, domain.KindScoreSet, job.ScoreSetID, map[string]any{
		"processing_state":  domain.ProcessingFailed,
		"processing_errors": cause.Error(),
	})
	if err != nil {
		log.Error("failed to mark score set as failed", zap.Error(err))
	}

	failure := &domain.TaskFailure{
		ID:         uuid.NewString(),
		Task:       ingestTask,
		ScoreSetID: job.ScoreSetID,
		UserID:     job.UserID,
		Error:      cause.Error(),
	}
	if err := s.repository.CreateTaskFailure(ctx, failure); err != nil {
		log.Error("failed to record task failure", zap.Error(err))
	}

	s.notify(notify.Notification{
		UserID:  job.UserID,
		Kind:    notify.KindTaskFailed,
		Subject: "Variant processing failed",
		Message: cause.Error(),
	})
}
