package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"studylab/internal/config"
	"studylab/internal/db"
	"studylab/internal/model"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:", LogLevel: "silent"}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	return New(gdb)
}

func seedStudy(t *testing.T, r *Repository) *model.Study {
	t.Helper()
	ctx := context.Background()

	cols, _ := json.Marshal([]string{"id", "text"})
	ds := &model.Dataset{UserID: "u1", Name: "posts.csv", StorageKey: "datasets/u1/posts.csv", RowCount: 3, Columns: datatypes.JSON(cols)}
	require.NoError(t, r.CreateDataset(ctx, ds))

	c1 := &model.Classifier{UserID: "u1", Name: "Sentiment", Prompt: "sentiment?"}
	c2 := &model.Classifier{UserID: "u1", Name: "Topic", Prompt: "topic?"}
	require.NoError(t, r.CreateClassifier(ctx, c1))
	require.NoError(t, r.CreateClassifier(ctx, c2))

	k1 := &model.Constraint{UserID: "u1", Name: "A", Rules: "Rule A."}
	k2 := &model.Constraint{UserID: "u1", Name: "B", Rules: "Rule B."}
	require.NoError(t, r.CreateConstraint(ctx, k1))
	require.NoError(t, r.CreateConstraint(ctx, k2))

	s := &model.Study{UserID: "u1", DatasetID: ds.ID, ModelName: "gpt-4o", SampleSize: 3}
	require.NoError(t, r.CreateStudy(ctx, s, []string{c2.ID, c1.ID}, []string{k2.ID, k1.ID}))
	return s
}

func TestCreateAndGetStudy(t *testing.T) {
	r := newTestRepo(t)
	s := seedStudy(t, r)

	got, err := r.GetStudy(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, model.StudyStatusDraft, got.Status)
	assert.Equal(t, 1, got.RunNumber)
	require.NotNil(t, got.Dataset)
	assert.Equal(t, []string{"id", "text"}, got.Dataset.ColumnNames())

	require.Len(t, got.Classifiers, 2)
	assert.Equal(t, "Topic", got.Classifiers[0].Classifier.Name, "attachment order kept")
	assert.Equal(t, "Sentiment", got.Classifiers[1].Classifier.Name)

	require.Len(t, got.Constraints, 2)
	assert.Equal(t, "Rule B.", got.Constraints[0].Constraint.Rules)
}

func TestGetStudy_NotFound(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.GetStudy(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetStudy_SoftDeletedClassifierStillLoads(t *testing.T) {
	r := newTestRepo(t)
	s := seedStudy(t, r)
	ctx := context.Background()

	require.NoError(t, r.DeleteClassifier(ctx, s.Classifiers[0].ClassifierID))

	got, err := r.GetStudy(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Classifiers, 2)
	assert.NotNil(t, got.Classifiers[0].Classifier)
}

func TestSaveRunState(t *testing.T) {
	r := newTestRepo(t)
	s := seedStudy(t, r)
	ctx := context.Background()

	now := time.Now()
	st := model.RunState{Status: model.StudyStatusRunning, RunNumber: 2, CurrentRow: 5, TotalRows: 7, ProgressPercent: model.Percent(5, 7), StartedAt: &now}
	require.NoError(t, r.SaveRunState(ctx, s.ID, st))

	got, err := r.GetStudy(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StudyStatusRunning, got.Status)
	assert.Equal(t, 2, got.RunNumber)
	assert.Equal(t, 5, got.CurrentRow)
	assert.Equal(t, 7, got.TotalRows)
	assert.Nil(t, got.CompletedAt)

	// 零值同样要写回
	st.CurrentRow, st.TotalRows, st.ProgressPercent = 0, 0, 0
	require.NoError(t, r.SaveRunState(ctx, s.ID, st))
	got, _ = r.GetStudy(ctx, s.ID)
	assert.Zero(t, got.CurrentRow)
	assert.Zero(t, got.TotalRows)
}

func resultFor(studyID string, idx int, rowID string) *model.StudyResult {
	row, _ := json.Marshal(map[string]string{"id": rowID})
	cls, _ := json.Marshal(map[string]any{"c1": map[string]any{"score": 0.5, "reasoning": "x"}})
	return &model.StudyResult{
		StudyID:         studyID,
		RowID:           rowID,
		RowIndex:        idx,
		RunNumber:       1,
		RowData:         datatypes.JSON(row),
		Classifications: datatypes.JSON(cls),
	}
}

func TestUpsertResult_OrderAndOverwrite(t *testing.T) {
	r := newTestRepo(t)
	s := seedStudy(t, r)
	ctx := context.Background()

	// 写入顺序与行序无关
	for _, idx := range []int{2, 0, 1} {
		require.NoError(t, r.UpsertResult(ctx, resultFor(s.ID, idx, fmt.Sprintf("row-%d", idx))))
	}

	list, err := r.ListResults(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, res := range list {
		assert.Equal(t, i, res.RowIndex)
		assert.Equal(t, fmt.Sprintf("row-%d", i), res.RowID)
	}

	again := resultFor(s.ID, 1, "row-1")
	again.RunNumber = 2
	require.NoError(t, r.UpsertResult(ctx, again))

	n, err := r.CountResults(ctx, s.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	list, _ = r.ListResults(ctx, s.ID)
	assert.Equal(t, 2, list[1].RunNumber)
}

func TestUpsertResult_ConcurrentDistinctKeys(t *testing.T) {
	r := newTestRepo(t)
	s := seedStudy(t, r)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- r.UpsertResult(ctx, resultFor(s.ID, i, fmt.Sprintf("row-%d", i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := r.CountResults(ctx, s.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 20, n)
}

func TestDeleteStudy_CascadesResults(t *testing.T) {
	r := newTestRepo(t)
	s := seedStudy(t, r)
	ctx := context.Background()

	require.NoError(t, r.UpsertResult(ctx, resultFor(s.ID, 0, "row-0")))
	require.NoError(t, r.DeleteStudy(ctx, s.ID))

	n, err := r.CountResults(ctx, s.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = r.GetStudy(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, r.DeleteStudy(ctx, s.ID), ErrNotFound)
}

func TestListStaleRunning(t *testing.T) {
	r := newTestRepo(t)
	s := seedStudy(t, r)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, r.SaveRunState(ctx, s.ID, model.RunState{Status: model.StudyStatusRunning, RunNumber: 1, StartedAt: &now}))

	stale, err := r.ListStaleRunning(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, s.ID, stale[0].ID)

	stale, err = r.ListStaleRunning(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestFindClassifiers_ScopedToUser(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	mine := &model.Classifier{UserID: "u1", Name: "mine", Prompt: "p"}
	theirs := &model.Classifier{UserID: "u2", Name: "theirs", Prompt: "p"}
	require.NoError(t, r.CreateClassifier(ctx, mine))
	require.NoError(t, r.CreateClassifier(ctx, theirs))

	got, err := r.FindClassifiers(ctx, "u1", []string{mine.ID, theirs.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)
}
