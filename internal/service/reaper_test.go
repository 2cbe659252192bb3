package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"studylab/internal/model"
)

func markRunning(t *testing.T, h *harness, id string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, h.svc.Repo.SaveRunState(context.Background(), id, model.RunState{
		Status:    model.StudyStatusRunning,
		RunNumber: 1,
		TotalRows: 3,
		StartedAt: &now,
	}))
}

func TestReaper_SweepMarksStaleRunning(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	s := h.seed(csvRows(3))
	study := h.createStudy(s, 0)
	markRunning(t, h, study.ID)
	ctx := context.Background()

	// 未超过阈值的不处理
	n, err := h.svc.Reaper.Sweep(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = h.svc.Reaper.Sweep(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.svc.Studies.Get(ctx, "u1", study.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StudyStatusFailed, got.Status)
	assert.True(t, strings.HasPrefix(got.ErrorMessage, "InterruptedError: "), got.ErrorMessage)
	assert.Nil(t, got.CompletedAt)

	// 已是终态，再次清理无变化
	n, err = h.svc.Reaper.Sweep(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReaper_SkipsActiveRuns(t *testing.T) {
	prov := &fakeProvider{gate: make(chan struct{})}
	h := newHarness(t, prov)
	s := h.seed(csvRows(3))
	study := h.createStudy(s, 0)

	_, err := h.svc.Engine.StartRun(context.Background(), study.ID)
	require.NoError(t, err)

	n, err := h.svc.Reaper.Sweep(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	close(prov.gate)
	h.waitIdle(study.ID)
	got, err := h.svc.Studies.Get(context.Background(), "u1", study.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StudyStatusCompleted, got.Status)
}

func TestReaper_StartSweepsEverythingThenSchedules(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	s := h.seed(csvRows(3))
	study := h.createStudy(s, 0)
	markRunning(t, h, study.ID)

	r := NewReaper(h.svc.Repo, h.svc.Engine, time.Hour, "@every 1m", zap.NewNop())
	// 启动时不看 staleAfter，所有 running 都视为残留
	r.now = func() time.Time { return time.Now().Add(time.Second) }
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	got, err := h.svc.Studies.Get(context.Background(), "u1", study.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StudyStatusFailed, got.Status)
	require.NotNil(t, r.cron)
	assert.Len(t, r.cron.Entries(), 1)
}

func TestReaper_InvalidSchedule(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	r := NewReaper(h.svc.Repo, h.svc.Engine, time.Hour, "not a schedule", zap.NewNop())
	err := r.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "解析清理计划失败")
	r.Stop()
}
