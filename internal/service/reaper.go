package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"studylab/internal/repository"
)

// Reaper 清理残留在 running 的研究（进程崩溃或重启导致），将其记为 InterruptedError
type Reaper struct {
	repo       *repository.Repository
	engine     *Engine
	staleAfter time.Duration
	schedule   string
	log        *zap.Logger
	now        func() time.Time
	cron       *cron.Cron
}

func NewReaper(repo *repository.Repository, engine *Engine, staleAfter time.Duration, schedule string, log *zap.Logger) *Reaper {
	return &Reaper{
		repo:       repo,
		engine:     engine,
		staleAfter: staleAfter,
		schedule:   schedule,
		log:        log.Named("reaper"),
		now:        time.Now,
	}
}

// Sweep 处理 updated_at 早于 before 且本进程未在运行的研究，返回处理数量
func (r *Reaper) Sweep(ctx context.Context, before time.Time) (int, error) {
	stale, err := r.repo.ListStaleRunning(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("查询残留运行失败: %w", err)
	}
	n := 0
	for _, s := range stale {
		ok, err := r.engine.MarkInterrupted(ctx, s.ID)
		if err != nil {
			r.log.Warn("标记中断失败", zap.String("study_id", s.ID), zap.Error(err))
			continue
		}
		if ok {
			n++
			r.log.Info("残留运行已标记为失败", zap.String("study_id", s.ID), zap.Int("run_number", s.RunNumber))
		}
	}
	return n, nil
}

// Start 启动时清理全部残留运行，之后按 schedule 清理超过 staleAfter 未更新的运行
func (r *Reaper) Start(ctx context.Context) error {
	if _, err := r.Sweep(ctx, r.now()); err != nil {
		return err
	}
	if r.schedule == "" {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() {
		if _, err := r.Sweep(context.Background(), r.now().Add(-r.staleAfter)); err != nil {
			r.log.Warn("定时清理失败", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("解析清理计划失败: %w", err)
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop 停止调度并等待正在执行的清理结束
func (r *Reaper) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}
