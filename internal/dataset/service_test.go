package dataset

import (
	"context"
	defError "errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"mavedb/internal/access"
	"mavedb/internal/blob"
	"mavedb/internal/db"
	"mavedb/internal/domain"
	"mavedb/internal/errors"
	"mavedb/internal/notify"
	"mavedb/internal/urn"
	"mavedb/internal/user"
	"mavedb/internal/worker"
	"mavedb/redis"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	scoresCSV = "hgvs_nt,se,score\nc.1A>G,0.1,0.5\nc.2C>T,NA,-1.2\n"
	countsCSV = "hgvs_nt,count\nc.1A>G,10\nc.2C>T,20\n"
)

// queueDispatcher runs tasks inline unless hold is set, in which case they
// wait in tasks until the test runs them.
type queueDispatcher struct {
	hold   bool
	reject bool
	tasks  []worker.Task
}

func (d *queueDispatcher) Submit(name string, t worker.Task) bool {
	if d.reject {
		return false
	}
	if d.hold {
		d.tasks = append(d.tasks, t)
		return true
	}
	_ = t(context.Background())
	return true
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Send(ctx context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) has(kind string, userID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.sent {
		if n.Kind == kind && n.UserID == userID {
			return true
		}
	}
	return false
}

// flakyStore wraps a blob store, tracks which keys are live and can be made
// to fail or panic on reads.
type flakyStore struct {
	blob.Store
	failGet  bool
	panicGet bool

	mu   sync.Mutex
	live map[string]bool
}

func (f *flakyStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	if err := f.Store.Put(ctx, key, r, contentType); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live == nil {
		f.live = map[string]bool{}
	}
	f.live[key] = true
	return nil
}

func (f *flakyStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if f.panicGet {
		panic("storage backend exploded")
	}
	if f.failGet {
		return nil, blob.ErrNotFound
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	delete(f.live, key)
	f.mu.Unlock()
	return f.Store.Delete(ctx, key)
}

func (f *flakyStore) stored() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// staleRepo answers Find from snapshots taken earlier, the way a caller that
// raced a concurrent writer would see the rows.
type staleRepo struct {
	Repository
	snapshots map[domain.EntityKind]domain.Entity
}

func (r staleRepo) Find(ctx context.Context, kind domain.EntityKind, id uint64) (domain.Entity, error) {
	if e, ok := r.snapshots[kind]; ok && e.PrimaryKey() == id {
		return e, nil
	}
	return r.Repository.Find(ctx, kind, id)
}

type testEnv struct {
	svc        *DefaultService
	gdb        *gorm.DB
	users      user.Service
	dispatcher *queueDispatcher
	notes      *recordingNotifier
	blobs      *flakyStore
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	env := &testEnv{
		gdb:        gdb,
		users:      user.NewService(user.NewRepository(gdb)),
		dispatcher: &queueDispatcher{},
		notes:      &recordingNotifier{},
		blobs:      &flakyStore{Store: blob.NewMemory()},
	}
	mgr := access.NewManager(access.NewRepository(gdb), redis.NewCache(client), zap.NewNop())
	env.svc = NewService(NewRepository(gdb), mgr, env.users, env.blobs, env.dispatcher, env.notes, zap.NewNop())
	return env
}

func (e *testEnv) user(t *testing.T, name string) *domain.User {
	t.Helper()
	u := &domain.User{Username: name, Email: name + "@example.com", Password: "password123"}
	require.NoError(t, e.users.Register(context.Background(), u))
	return u
}

func (e *testEnv) scoreSet(t *testing.T, owner *domain.User) (*EntityDTO, *EntityDTO) {
	t.Helper()
	ctx := context.Background()
	exp, err := e.svc.CreateExperiment(ctx, owner, CreateExperimentRequest{
		CreateExperimentSetRequest: CreateExperimentSetRequest{Title: "BRCA1 RING", ShortDescription: "saturation mutagenesis"},
	})
	require.NoError(t, err)
	ss, err := e.svc.CreateScoreSet(ctx, owner, CreateScoreSetRequest{
		CreateExperimentSetRequest: CreateExperimentSetRequest{Title: "E3 ligase activity", ShortDescription: "scores"},
		ExperimentID:               exp.ID,
	})
	require.NoError(t, err)
	return exp, ss
}

func (e *testEnv) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.gdb.Model(model).Count(&n).Error)
	return n
}

func requireStatus(t *testing.T, err error, status int) *errors.APIError {
	t.Helper()
	var apiErr *errors.APIError
	require.True(t, defError.As(err, &apiErr), "expected an APIError, got %v", err)
	assert.Equal(t, status, apiErr.Status, apiErr.Message)
	return apiErr
}

func TestCreateExperiment_CreatesParentSet(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")

	exp, ss := env.scoreSet(t, alice)

	assert.True(t, urn.IsTemporary(exp.URN))
	assert.True(t, urn.IsTemporary(ss.URN))
	assert.True(t, exp.Private)
	assert.NotZero(t, exp.ExperimentSetID)
	assert.Equal(t, "administrator", exp.Role)

	set, err := env.svc.GetEntity(ctx, alice, domain.KindExperimentSet, exp.ExperimentSetID)
	require.NoError(t, err)
	assert.True(t, urn.IsTemporary(set.URN))
	assert.Equal(t, "BRCA1 RING", set.Title)
	assert.Equal(t, "administrator", set.Role)

	// three groups for each of set, experiment and score set
	assert.EqualValues(t, 9, env.count(t, &domain.PermissionGroup{}))
}

func TestCreate_RequiresUserAndParentAccess(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	exp, _ := env.scoreSet(t, alice)

	_, err := env.svc.CreateExperimentSet(ctx, nil, CreateExperimentSetRequest{Title: "x"})
	requireStatus(t, err, http.StatusUnauthorized)

	_, err = env.svc.CreateScoreSet(ctx, bob, CreateScoreSetRequest{ExperimentID: exp.ID})
	requireStatus(t, err, http.StatusForbidden)

	_, err = env.svc.CreateExperiment(ctx, bob, CreateExperimentRequest{ExperimentSetID: exp.ExperimentSetID})
	requireStatus(t, err, http.StatusForbidden)

	_, err = env.svc.CreateScoreSet(ctx, alice, CreateScoreSetRequest{ExperimentID: 999})
	requireStatus(t, err, http.StatusNotFound)

	// an editor of the experiment may add score sets
	_, err = env.svc.SetContributor(ctx, alice, domain.KindExperiment, exp.ID, bob.ID, access.RoleEditor)
	require.NoError(t, err)
	ss, err := env.svc.CreateScoreSet(ctx, bob, CreateScoreSetRequest{ExperimentID: exp.ID})
	require.NoError(t, err)
	assert.Equal(t, exp.ID, ss.ExperimentID)
}

func TestGetEntity_Visibility(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	_, ss := env.scoreSet(t, alice)

	_, err := env.svc.GetEntity(ctx, bob, domain.KindScoreSet, ss.ID)
	requireStatus(t, err, http.StatusNotFound)
	_, err = env.svc.GetEntity(ctx, nil, domain.KindScoreSet, ss.ID)
	requireStatus(t, err, http.StatusNotFound)

	root := &domain.User{Username: "root", IsActive: true, IsSuperuser: true}
	require.NoError(t, env.gdb.Create(root).Error)
	got, err := env.svc.GetEntity(ctx, root, domain.KindScoreSet, ss.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Role)

	_, err = env.svc.SetContributor(ctx, alice, domain.KindScoreSet, ss.ID, bob.ID, access.RoleViewer)
	require.NoError(t, err)
	got, err = env.svc.GetEntity(ctx, bob, domain.KindScoreSet, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, "viewer", got.Role)

	_, err = env.svc.UpdateEntity(ctx, bob, domain.KindScoreSet, ss.ID, UpdateRequest{})
	requireStatus(t, err, http.StatusForbidden)
}

func TestUpdateEntity(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	_, ss := env.scoreSet(t, alice)

	title := "Renamed"
	got, err := env.svc.UpdateEntity(ctx, alice, domain.KindScoreSet, ss.ID, UpdateRequest{
		Title:    &title,
		Keywords: []string{"BRCA1", "DMS"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	reloaded, err := env.svc.GetEntity(ctx, alice, domain.KindScoreSet, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", reloaded.Title)
	assert.Equal(t, []string{"BRCA1", "DMS"}, reloaded.Keywords)
	assert.Equal(t, "scores", reloaded.ShortDescription)
}

func TestSubmitVariants_RejectsInvalidFile(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	_, ss := env.scoreSet(t, alice)

	bad := "hgvs_nt,score\nc.1A>G,0.5\nc.1A>G,0.7\n"
	_, err := env.svc.SubmitVariants(ctx, alice, ss.ID, strings.NewReader(bad), nil)
	apiErr := requireStatus(t, err, http.StatusUnprocessableEntity)
	assert.Contains(t, apiErr.Fields[fieldScores], "line 3")

	_, err = env.svc.SubmitVariants(ctx, alice, ss.ID, strings.NewReader(scoresCSV), strings.NewReader("hgvs_pro,count\np.Met1Val,3\n"))
	apiErr = requireStatus(t, err, http.StatusUnprocessableEntity)
	assert.Contains(t, apiErr.Fields, fieldCounts)

	_, err = env.svc.SubmitVariants(ctx, alice, ss.ID, nil, nil)
	requireStatus(t, err, http.StatusUnprocessableEntity)

	got, err := env.svc.GetEntity(ctx, alice, domain.KindScoreSet, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingNone, got.ProcessingState)
	assert.Zero(t, env.count(t, &domain.Variant{}))
}

func TestSubmitVariants_Permissions(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	_, ss := env.scoreSet(t, alice)

	_, err := env.svc.SubmitVariants(ctx, nil, ss.ID, strings.NewReader(scoresCSV), nil)
	requireStatus(t, err, http.StatusUnauthorized)
	_, err = env.svc.SubmitVariants(ctx, bob, ss.ID, strings.NewReader(scoresCSV), nil)
	requireStatus(t, err, http.StatusForbidden)

	_, err = env.svc.SetContributor(ctx, alice, domain.KindScoreSet, ss.ID, bob.ID, access.RoleEditor)
	require.NoError(t, err)
	got, err := env.svc.SubmitVariants(ctx, bob, ss.ID, strings.NewReader(scoresCSV), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingSuccess, got.ProcessingState)
}

func TestSubmitVariantsAndPublish(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	exp, ss := env.scoreSet(t, alice)

	_, err := env.svc.Publish(ctx, alice, ss.ID)
	requireStatus(t, err, http.StatusUnprocessableEntity)

	got, err := env.svc.SubmitVariants(ctx, alice, ss.ID, strings.NewReader(scoresCSV), strings.NewReader(countsCSV))
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingSuccess, got.ProcessingState)
	assert.Equal(t, []string{"score", "se"}, got.ScoreColumns)
	assert.Equal(t, []string{"count"}, got.CountColumns)
	assert.Equal(t, "hgvs_nt", got.PrimaryHGVS)
	assert.Eventually(t, func() bool { return env.notes.has(notify.KindTaskSucceeded, alice.ID) }, time.Second, 10*time.Millisecond)
	assert.Zero(t, env.blobs.stored(), "uploads are removed once ingested")

	variants, err := env.svc.ListVariants(ctx, alice, ss.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, variants.Data, 2)
	assert.EqualValues(t, 2, variants.Meta.Total)
	assert.Equal(t, ss.URN+"#1", variants.Data[0].URN)
	assert.Equal(t, "c.1A>G", *variants.Data[0].HGVSNt)
	assert.InDelta(t, 0.5, *variants.Data[0].Scores["score"], 1e-9)
	assert.InDelta(t, 10, *variants.Data[0].Counts["count"], 1e-9)
	assert.Nil(t, variants.Data[1].Scores["se"])

	published, err := env.svc.Publish(ctx, alice, ss.ID)
	require.NoError(t, err)
	setURN := urn.ExperimentSet(exp.ExperimentSetID)
	assert.Equal(t, setURN+"-a-1", published.URN)
	assert.False(t, published.Private)
	assert.NotNil(t, published.PublishedAt)

	// ancestors are public too
	set, err := env.svc.GetEntity(ctx, nil, domain.KindExperimentSet, exp.ExperimentSetID)
	require.NoError(t, err)
	assert.Equal(t, setURN, set.URN)
	pubExp, err := env.svc.GetEntity(ctx, nil, domain.KindExperiment, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, setURN+"-a", pubExp.URN)

	variants, err = env.svc.ListVariants(ctx, nil, ss.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, setURN+"-a-1#1", variants.Data[0].URN)
	assert.Equal(t, setURN+"-a-1#2", variants.Data[1].URN)

	again, err := env.svc.Publish(ctx, alice, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, published.URN, again.URN)

	// published score sets are frozen
	_, err = env.svc.SubmitVariants(ctx, alice, ss.ID, strings.NewReader(scoresCSV), nil)
	requireStatus(t, err, http.StatusConflict)
	err = env.svc.DeleteEntity(ctx, alice, domain.KindScoreSet, ss.ID)
	requireStatus(t, err, http.StatusConflict)

	// a second score set under the same experiment takes the next number
	second, err := env.svc.CreateScoreSet(ctx, alice, CreateScoreSetRequest{ExperimentID: exp.ID})
	require.NoError(t, err)
	_, err = env.svc.SubmitVariants(ctx, alice, second.ID, strings.NewReader(scoresCSV), nil)
	require.NoError(t, err)
	published, err = env.svc.Publish(ctx, alice, second.ID)
	require.NoError(t, err)
	assert.Equal(t, setURN+"-a-2", published.URN)

	// and a second experiment takes the next letter
	exp2, err := env.svc.CreateExperiment(ctx, alice, CreateExperimentRequest{ExperimentSetID: exp.ExperimentSetID})
	require.NoError(t, err)
	third, err := env.svc.CreateScoreSet(ctx, alice, CreateScoreSetRequest{ExperimentID: exp2.ID})
	require.NoError(t, err)
	_, err = env.svc.SubmitVariants(ctx, alice, third.ID, strings.NewReader(scoresCSV), nil)
	require.NoError(t, err)
	published, err = env.svc.Publish(ctx, alice, third.ID)
	require.NoError(t, err)
	assert.Equal(t, setURN+"-b-1", published.URN)

	list, err := env.svc.ListPublished(ctx, domain.KindScoreSet, 1, 10)
	require.NoError(t, err)
	assert.Len(t, list.Data, 3)
	assert.EqualValues(t, 3, list.Meta.Total)
}

func TestSubmitVariants_JobFailure(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	_, ss := env.scoreSet(t, alice)

	env.dispatcher.hold = true
	got, err := env.svc.SubmitVariants(ctx, alice, ss.ID, strings.NewReader(scoresCSV), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingInProgress, got.ProcessingState)
	require.Len(t, env.dispatcher.tasks, 1)
	assert.Equal(t, 1, env.blobs.stored())

	_, err = env.svc.SubmitVariants(ctx, alice, ss.ID, strings.NewReader(scoresCSV), nil)
	requireStatus(t, err, http.StatusConflict)
	_, err = env.svc.Publish(ctx, alice, ss.ID)
	requireStatus(t, err, http.StatusConflict)

	env.blobs.failGet = true
	require.Error(t, env.dispatcher.tasks[0](ctx))
	assert.Zero(t, env.blobs.stored())

	got, err = env.svc.GetEntity(ctx, alice, domain.KindScoreSet, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingFailed, got.ProcessingState)
	assert.NotEmpty(t, got.ProcessingErrors)

	var failure domain.TaskFailure
	require.NoError(t, env.gdb.First(&failure).Error)
	assert.Equal(t, ingestTask, failure.Task)
	assert.Equal(t, ss.ID, failure.ScoreSetID)
	assert.Equal(t, alice.ID, failure.UserID)
	assert.Eventually(t, func() bool { return env.notes.has(notify.KindTaskFailed, alice.ID) }, time.Second, 10*time.Millisecond)

	// a failed upload can be retried
	env.blobs.failGet = false
	env.dispatcher.hold = false
	got, err = env.svc.SubmitVariants(ctx, alice, ss.ID, strings.NewReader(scoresCSV), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingSuccess, got.ProcessingState)
	assert.Empty(t, got.ProcessingErrors)
}

func TestSubmitVariants_PanicMarksFailed(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	_, ss := env.scoreSet(t, alice)

	env.dispatcher.hold = true
	_, err := env.svc.SubmitVariants(ctx, alice, ss.ID, strings.NewReader(scoresCSV), strings.NewReader(countsCSV))
	require.NoError(t, err)
	require.Len(t, env.dispatcher.tasks, 1)
	assert.Equal(t, 2, env.blobs.stored())

	env.blobs.panicGet = true
	err = env.dispatcher.tasks[0](ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	got, err := env.svc.GetEntity(ctx, alice, domain.KindScoreSet, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingFailed, got.ProcessingState)
	assert.Contains(t, got.ProcessingErrors, "storage backend exploded")
	assert.EqualValues(t, 1, env.count(t, &domain.TaskFailure{}))
	assert.Zero(t, env.blobs.stored())
	assert.Eventually(t, func() bool { return env.notes.has(notify.KindTaskFailed, alice.ID) }, time.Second, 10*time.Millisecond)
}

func TestSubmitVariants_ProcessingClaimedOnce(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	_, ss := env.scoreSet(t, alice)

	// a second upload that read the score set before the first one started
	before, err := env.svc.repository.Find(ctx, domain.KindScoreSet, ss.ID)
	require.NoError(t, err)

	env.dispatcher.hold = true
	_, err = env.svc.SubmitVariants(ctx, alice, ss.ID, strings.NewReader(scoresCSV), nil)
	require.NoError(t, err)

	env.svc.repository = staleRepo{
		Repository: env.svc.repository,
		snapshots:  map[domain.EntityKind]domain.Entity{domain.KindScoreSet: before},
	}
	_, err = env.svc.SubmitVariants(ctx, alice, ss.ID, strings.NewReader(scoresCSV), nil)
	requireStatus(t, err, http.StatusConflict)

	assert.Len(t, env.dispatcher.tasks, 1)
	assert.Equal(t, 1, env.blobs.stored(), "the losing upload is removed")

	ok, err := env.svc.repository.StartProcessing(ctx, ss.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubmitVariants_QueueFull(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	_, ss := env.scoreSet(t, alice)

	env.dispatcher.reject = true
	_, err := env.svc.SubmitVariants(ctx, alice, ss.ID, strings.NewReader(scoresCSV), nil)
	requireStatus(t, err, http.StatusServiceUnavailable)

	got, err := env.svc.GetEntity(ctx, alice, domain.KindScoreSet, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingFailed, got.ProcessingState)
	assert.EqualValues(t, 1, env.count(t, &domain.TaskFailure{}))
}

func publishTx(t *testing.T, repo Repository, scoreSetID uint64) map[domain.EntityKind]int {
	t.Helper()
	ctx := context.Background()
	var assigned map[domain.EntityKind]int
	err := repo.Transaction(ctx, func(tx *gorm.DB) error {
		var err error
		r := repo.WithTx(tx)
		if stale, ok := repo.(staleRepo); ok {
			r = staleRepo{Repository: stale.Repository.WithTx(tx), snapshots: stale.snapshots}
		}
		assigned, _, err = publish(ctx, r, scoreSetID, time.Now().UTC())
		return err
	})
	require.NoError(t, err)
	return assigned
}

func TestPublish_SiblingsAfterStaleRead(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	exp, first := env.scoreSet(t, alice)
	second, err := env.svc.CreateScoreSet(ctx, alice, CreateScoreSetRequest{
		CreateExperimentSetRequest: CreateExperimentSetRequest{Title: "second", ShortDescription: "scores"},
		ExperimentID:               exp.ID,
	})
	require.NoError(t, err)

	repo := NewRepository(env.gdb)
	// both publishes read the experiment while it was still temporary
	staleExp, err := repo.Find(ctx, domain.KindExperiment, exp.ID)
	require.NoError(t, err)
	staleSecond, err := repo.Find(ctx, domain.KindScoreSet, second.ID)
	require.NoError(t, err)

	publishTx(t, repo, first.ID)
	assigned := publishTx(t, staleRepo{
		Repository: repo,
		snapshots: map[domain.EntityKind]domain.Entity{
			domain.KindExperiment: staleExp,
			domain.KindScoreSet:   staleSecond,
		},
	}, second.ID)
	assert.Equal(t, map[domain.EntityKind]int{domain.KindScoreSet: 1}, assigned)

	setURN := urn.ExperimentSet(exp.ExperimentSetID)
	e, err := repo.Find(ctx, domain.KindExperiment, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, setURN+"-a", e.Dataset().URN)
	assert.Equal(t, 2, e.Dataset().LastChildValue)

	e, err = repo.Find(ctx, domain.KindExperimentSet, exp.ExperimentSetID)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Dataset().LastChildValue)

	e, err = repo.Find(ctx, domain.KindScoreSet, first.ID)
	require.NoError(t, err)
	assert.Equal(t, setURN+"-a-1", e.Dataset().URN)
	e, err = repo.Find(ctx, domain.KindScoreSet, second.ID)
	require.NoError(t, err)
	assert.Equal(t, setURN+"-a-2", e.Dataset().URN)
}

func TestPublish_SameScoreSetAfterStaleRead(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	exp, ss := env.scoreSet(t, alice)

	repo := NewRepository(env.gdb)
	staleSS, err := repo.Find(ctx, domain.KindScoreSet, ss.ID)
	require.NoError(t, err)

	publishTx(t, repo, ss.ID)
	assigned := publishTx(t, staleRepo{
		Repository: repo,
		snapshots:  map[domain.EntityKind]domain.Entity{domain.KindScoreSet: staleSS},
	}, ss.ID)
	assert.Empty(t, assigned)

	e, err := repo.Find(ctx, domain.KindScoreSet, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, urn.ExperimentSet(exp.ExperimentSetID)+"-a-1", e.Dataset().URN)
	e, err = repo.Find(ctx, domain.KindExperiment, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Dataset().LastChildValue)
}

func TestDeleteEntity(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	exp, ss := env.scoreSet(t, alice)
	_, err := env.svc.SubmitVariants(ctx, alice, ss.ID, strings.NewReader(scoresCSV), nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, env.count(t, &domain.Variant{}))

	err = env.svc.DeleteEntity(ctx, bob, domain.KindExperimentSet, exp.ExperimentSetID)
	requireStatus(t, err, http.StatusForbidden)
	err = env.svc.DeleteEntity(ctx, nil, domain.KindExperimentSet, exp.ExperimentSetID)
	requireStatus(t, err, http.StatusUnauthorized)

	require.NoError(t, env.svc.DeleteEntity(ctx, alice, domain.KindExperimentSet, exp.ExperimentSetID))

	assert.Zero(t, env.count(t, &domain.ExperimentSet{}))
	assert.Zero(t, env.count(t, &domain.Experiment{}))
	assert.Zero(t, env.count(t, &domain.ScoreSet{}))
	assert.Zero(t, env.count(t, &domain.Variant{}))
	assert.Zero(t, env.count(t, &domain.PermissionGroup{}))
	assert.Zero(t, env.count(t, &domain.PermissionGroupMember{}))

	ids, err := env.svc.ListForUser(ctx, alice, domain.KindScoreSet, access.RoleAny)
	require.NoError(t, err)
	assert.Empty(t, ids)

	err = env.svc.DeleteEntity(ctx, alice, domain.KindExperimentSet, exp.ExperimentSetID)
	requireStatus(t, err, http.StatusNotFound)
}

func TestContributors_LastAdministrator(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	_, ss := env.scoreSet(t, alice)

	_, err := env.svc.SetContributor(ctx, alice, domain.KindScoreSet, ss.ID, alice.ID, access.RoleEditor)
	requireStatus(t, err, http.StatusUnprocessableEntity)
	err = env.svc.RemoveContributor(ctx, alice, domain.KindScoreSet, ss.ID, alice.ID, access.RoleAdministrator)
	requireStatus(t, err, http.StatusUnprocessableEntity)

	_, err = env.svc.SetContributor(ctx, bob, domain.KindScoreSet, ss.ID, bob.ID, access.RoleAdministrator)
	requireStatus(t, err, http.StatusForbidden)
	_, err = env.svc.SetContributor(ctx, alice, domain.KindScoreSet, ss.ID, 999, access.RoleViewer)
	requireStatus(t, err, http.StatusUnprocessableEntity)
	_, err = env.svc.SetContributor(ctx, alice, domain.KindScoreSet, ss.ID, bob.ID, access.RoleAny)
	requireStatus(t, err, http.StatusBadRequest)

	dto, err := env.svc.SetContributor(ctx, alice, domain.KindScoreSet, ss.ID, bob.ID, access.RoleAdministrator)
	require.NoError(t, err)
	assert.Equal(t, "bob", dto.User.Username)
	assert.Eventually(t, func() bool { return env.notes.has(notify.KindRoleChanged, bob.ID) }, time.Second, 10*time.Millisecond)

	// with bob as a second administrator alice may step down
	_, err = env.svc.SetContributor(ctx, alice, domain.KindScoreSet, ss.ID, alice.ID, access.RoleViewer)
	require.NoError(t, err)

	contributors, err := env.svc.ListContributors(ctx, alice, domain.KindScoreSet, ss.ID)
	require.NoError(t, err)
	require.Len(t, contributors, 2)
	assert.Equal(t, bob.ID, contributors[0].User.ID)
	assert.Equal(t, "administrator", contributors[0].Role)
	assert.Equal(t, alice.ID, contributors[1].User.ID)
	assert.Equal(t, "viewer", contributors[1].Role)

	// alice no longer manages the score set
	_, err = env.svc.SetContributor(ctx, alice, domain.KindScoreSet, ss.ID, alice.ID, access.RoleAdministrator)
	requireStatus(t, err, http.StatusForbidden)

	err = env.svc.RemoveContributor(ctx, bob, domain.KindScoreSet, ss.ID, alice.ID, access.RoleEditor)
	requireStatus(t, err, http.StatusNotFound)
	require.NoError(t, env.svc.RemoveContributor(ctx, bob, domain.KindScoreSet, ss.ID, alice.ID, access.RoleViewer))

	_, err = env.svc.GetEntity(ctx, alice, domain.KindScoreSet, ss.ID)
	requireStatus(t, err, http.StatusNotFound)
}

func TestUpdateRoleList(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	carol := env.user(t, "carol")
	exp, _ := env.scoreSet(t, alice)

	editors, err := env.svc.UpdateRoleList(ctx, alice, domain.KindExperiment, exp.ID, access.RoleEditor, []uint64{bob.ID, carol.ID})
	require.NoError(t, err)
	require.Len(t, editors, 2)
	assert.Equal(t, "editor", editors[0].Role)

	editors, err = env.svc.UpdateRoleList(ctx, alice, domain.KindExperiment, exp.ID, access.RoleEditor, []uint64{carol.ID})
	require.NoError(t, err)
	require.Len(t, editors, 1)
	assert.Equal(t, carol.ID, editors[0].User.ID)

	_, err = env.svc.UpdateRoleList(ctx, alice, domain.KindExperiment, exp.ID, access.RoleEditor, []uint64{alice.ID})
	requireStatus(t, err, http.StatusUnprocessableEntity)
	_, err = env.svc.UpdateRoleList(ctx, alice, domain.KindExperiment, exp.ID, access.RoleAdministrator, nil)
	requireStatus(t, err, http.StatusUnprocessableEntity)
	_, err = env.svc.UpdateRoleList(ctx, alice, domain.KindExperiment, exp.ID, access.RoleViewer, []uint64{bob.ID, 999})
	requireStatus(t, err, http.StatusUnprocessableEntity)

	admins, err := env.svc.UpdateRoleList(ctx, alice, domain.KindExperiment, exp.ID, access.RoleAdministrator, []uint64{carol.ID})
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, carol.ID, admins[0].User.ID)

	role, err := env.svc.access.UserRole(ctx, alice, &domain.Experiment{DatasetModel: domain.DatasetModel{ID: exp.ID}})
	require.NoError(t, err)
	assert.Empty(t, role)
}

func TestListForUser(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")

	first, err := env.svc.CreateExperimentSet(ctx, alice, CreateExperimentSetRequest{Title: "one"})
	require.NoError(t, err)
	_, err = env.svc.CreateExperimentSet(ctx, alice, CreateExperimentSetRequest{Title: "two"})
	require.NoError(t, err)

	mine, err := env.svc.ListForUser(ctx, alice, domain.KindExperimentSet, access.RoleAdministrator)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	shared, err := env.svc.ListForUser(ctx, bob, domain.KindExperimentSet, access.RoleAny)
	require.NoError(t, err)
	assert.Empty(t, shared)

	_, err = env.svc.SetContributor(ctx, alice, domain.KindExperimentSet, first.ID, bob.ID, access.RoleViewer)
	require.NoError(t, err)

	shared, err = env.svc.ListForUser(ctx, bob, domain.KindExperimentSet, access.RoleAny)
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, "one", shared[0].Title)

	none, err := env.svc.ListForUser(ctx, bob, domain.KindExperimentSet, access.RoleEditor)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = env.svc.ListForUser(ctx, nil, domain.KindExperimentSet, access.RoleAny)
	requireStatus(t, err, http.StatusUnauthorized)
	_, err = env.svc.ListForUser(ctx, bob, domain.EntityKind("variant"), access.RoleAny)
	requireStatus(t, err, http.StatusBadRequest)
}
