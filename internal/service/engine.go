package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"studylab/internal/config"
	"studylab/internal/dataset"
	"studylab/internal/events"
	"studylab/internal/llm"
	"studylab/internal/model"
	"studylab/internal/repository"
	"studylab/internal/storage"
)

const defaultConcurrency = 5

// ProviderFactory 按研究的 model_provider 构造模型客户端
type ProviderFactory func(name string) (llm.Provider, error)

// Engine 研究执行引擎。
// 每个研究同一时刻最多一个运行；行按窗口（大小 = 并发上限）处理，窗口内并发、窗口间串行。
// 每行完成后立即落库，每个窗口结束后推进一次进度并广播。
type Engine struct {
	repo      *repository.Repository
	store     storage.ObjectStore
	bus       *events.Bus
	providers ProviderFactory
	cfg       config.EngineConfig
	log       *zap.Logger
	now       func() time.Time

	// 所有运行挂在 ctx 下，Close 时统一取消
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
	closed bool
}

func NewEngine(repo *repository.Repository, store storage.ObjectStore, bus *events.Bus, providers ProviderFactory, cfg config.EngineConfig, log *zap.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		repo:      repo,
		store:     store,
		bus:       bus,
		providers: providers,
		cfg:       cfg,
		log:       log.Named("engine"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		active:    make(map[string]struct{}),
	}
}

func (e *Engine) concurrency() int {
	if e.cfg.Concurrency < 1 {
		return defaultConcurrency
	}
	return e.cfg.Concurrency
}

// acquire 占用研究的运行槽位，并计入 wg
func (e *Engine) acquire(studyID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if _, ok := e.active[studyID]; ok {
		return ErrRunInProgress
	}
	e.active[studyID] = struct{}{}
	e.wg.Add(1)
	return nil
}

func (e *Engine) release(studyID string) {
	e.mu.Lock()
	delete(e.active, studyID)
	e.mu.Unlock()
	e.wg.Done()
}

// IsActive 本进程是否正在运行该研究
func (e *Engine) IsActive(studyID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[studyID]
	return ok
}

// WithIdle 占住研究的运行槽位执行 fn，期间 StartRun 返回 ErrRunInProgress
func (e *Engine) WithIdle(studyID string, fn func() error) error {
	if err := e.acquire(studyID); err != nil {
		return err
	}
	defer e.release(studyID)
	return fn()
}

type runPlan struct {
	study       *model.Study
	adapter     *llm.Adapter
	tasks       []llm.Task
	constraints string
}

// StartRun 将研究置为 running 后立即返回，数据加载与分类在后台进行。
// 配置错误会同步返回，此时研究已记为 failed。
func (e *Engine) StartRun(ctx context.Context, studyID string) (model.RunState, error) {
	if err := e.acquire(studyID); err != nil {
		return model.RunState{}, err
	}
	handedOff := false
	defer func() {
		if !handedOff {
			e.release(studyID)
		}
	}()

	study, err := e.repo.GetStudy(ctx, studyID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.RunState{}, ErrNotFound
	}
	if err != nil {
		return model.RunState{}, fmt.Errorf("读取研究失败: %w", err)
	}

	prev := study.RunState()
	st, err := prev.Start(e.now())
	if errors.Is(err, model.ErrRunAlreadyRunning) {
		return prev, ErrRunInProgress
	}
	if err != nil {
		return prev, err
	}
	if err := e.repo.SaveRunState(ctx, studyID, st); err != nil {
		return prev, err
	}
	study.ApplyRunState(st)

	log := e.log.With(zap.String("study_id", studyID), zap.Int("run_number", st.RunNumber))
	log.Info("研究开始运行", zap.Bool("rerun", prev.IsRerun()))

	plan, rerr := e.plan(study)
	if rerr != nil {
		return e.fail(ctx, studyID, st, rerr), rerr
	}

	if prev.IsRerun() && e.cfg.ClearOnRerun() {
		if err := e.repo.DeleteResults(ctx, studyID); err != nil {
			rerr := runErrorf(CategoryPersistence, "clear prior results: %w", err)
			return e.fail(ctx, studyID, st, rerr), rerr
		}
	}

	handedOff = true
	go e.execute(plan, st, log)
	return st, nil
}

// plan 校验运行前置条件
func (e *Engine) plan(study *model.Study) (*runPlan, *RunError) {
	if study.Dataset == nil || study.Dataset.DeletedAt.Valid {
		return nil, runErrorf(CategoryConfiguration, "study has no dataset")
	}

	tasks := make([]llm.Task, 0, len(study.Classifiers))
	for _, sc := range study.Classifiers {
		if sc.Classifier == nil {
			continue
		}
		tasks = append(tasks, llm.Task{ID: sc.Classifier.ID, Prompt: sc.Classifier.Prompt})
	}
	if len(tasks) == 0 {
		return nil, runErrorf(CategoryConfiguration, "study has no classifiers")
	}

	rules := make([]string, 0, len(study.Constraints))
	for _, sc := range study.Constraints {
		if sc.Constraint != nil {
			rules = append(rules, sc.Constraint.Rules)
		}
	}

	if study.ModelName == "" {
		return nil, runErrorf(CategoryConfiguration, "study has no model name")
	}
	provider, err := e.providers(study.ModelProvider)
	if err != nil {
		return nil, runError(CategoryConfiguration, err)
	}

	return &runPlan{
		study:       study,
		adapter:     llm.NewAdapter(provider, study.ModelName, e.log),
		tasks:       tasks,
		constraints: llm.JoinConstraints(rules),
	}, nil
}

func (e *Engine) execute(plan *runPlan, st model.RunState, log *zap.Logger) {
	studyID := plan.study.ID
	defer e.release(studyID)

	st, err := e.process(e.ctx, plan, st)
	persist := context.WithoutCancel(e.ctx)
	if err != nil {
		e.fail(persist, studyID, st, classify(e.ctx, err))
		return
	}

	done, err := st.Complete(e.now())
	if err != nil {
		log.Error("完成状态迁移失败", zap.Error(err))
		return
	}
	if err := e.repo.SaveRunState(persist, studyID, done); err != nil {
		e.fail(persist, studyID, st, runError(CategoryPersistence, err))
		return
	}
	e.bus.Publish(studyID, events.Complete(studyID, done))
	log.Info("研究运行完成", zap.Int("total_rows", done.TotalRows))
}

func (e *Engine) process(ctx context.Context, plan *runPlan, st model.RunState) (model.RunState, error) {
	study := plan.study
	persist := context.WithoutCancel(ctx)

	data, err := e.store.Get(ctx, study.Dataset.StorageKey)
	if err != nil {
		return st, runError(CategoryStorage, err)
	}
	tbl, err := dataset.ParseCSV(data)
	if err != nil {
		return st, runError(CategoryDataset, err)
	}
	if study.TextColumn != "" && !containsString(tbl.Columns, study.TextColumn) {
		return st, runErrorf(CategoryDataset, "text column %q not found in dataset", study.TextColumn)
	}

	rows := dataset.Sample(tbl.Rows, study.SampleSize)
	ids := dataset.AssignRowIDs(rows)

	if st, err = st.WithTotal(len(rows)); err != nil {
		return st, err
	}
	if err := e.repo.SaveRunState(persist, study.ID, st); err != nil {
		return st, runError(CategoryPersistence, err)
	}

	limit := e.concurrency()
	for start := 0; start < len(rows); start += limit {
		if err := ctx.Err(); err != nil {
			return st, runError(CategoryInterrupted, err)
		}
		end := start + limit
		if end > len(rows) {
			end = len(rows)
		}

		latest, err := e.runWindow(ctx, plan, st.RunNumber, tbl.Columns, rows[start:end], ids[start:end], start)
		if err != nil {
			return st, err
		}

		next, err := st.Advance(end - start)
		if err != nil {
			return st, err
		}
		if err := e.repo.SaveRunState(persist, study.ID, next); err != nil {
			return st, runError(CategoryPersistence, err)
		}
		st = next
		e.bus.Publish(study.ID, events.WindowComplete(study.ID, st, latest))
	}
	return st, nil
}

// runWindow 窗口内并发分类，每行完成即写库。任一行出错则取消同窗口其余请求
func (e *Engine) runWindow(ctx context.Context, plan *runPlan, runNumber int, columns []string, rows []dataset.Row, ids []string, offset int) ([]model.StudyResult, error) {
	study := plan.study
	results := make([]model.StudyResult, len(rows))
	// 已拿到分类结果的行即使兄弟请求失败也要落库
	persist := context.WithoutCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())
	for i := range rows {
		g.Go(func() error {
			idx := offset + i
			text := dataset.TextFor(rows[i], columns, study.TextColumn)

			cls, err := plan.adapter.BatchClassify(gctx, text, plan.tasks, plan.constraints, study.Temperature)
			if err != nil {
				return runErrorf(CategoryProvider, "row %d: %w", idx, err)
			}

			rowData, err := json.Marshal(rows[i])
			if err != nil {
				return runErrorf(CategoryPersistence, "row %d: %w", idx, err)
			}
			clsData, err := json.Marshal(cls)
			if err != nil {
				return runErrorf(CategoryPersistence, "row %d: %w", idx, err)
			}

			res := model.StudyResult{
				StudyID:         study.ID,
				RowID:           ids[i],
				RowIndex:        idx,
				RunNumber:       runNumber,
				RowData:         rowData,
				Classifications: clsData,
			}
			if err := e.repo.UpsertResult(persist, &res); err != nil {
				return runErrorf(CategoryPersistence, "row %d: %w", idx, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fail 记录 failed 并广播，返回写入后的状态
func (e *Engine) fail(ctx context.Context, studyID string, st model.RunState, rerr *RunError) model.RunState {
	failed, err := st.Fail(rerr.Error())
	if err != nil {
		e.log.Error("失败状态迁移失败", zap.String("study_id", studyID), zap.Error(err))
		return st
	}
	if err := e.repo.SaveRunState(context.WithoutCancel(ctx), studyID, failed); err != nil {
		e.log.Error("保存失败状态失败", zap.String("study_id", studyID), zap.Error(err))
	}
	e.bus.Publish(studyID, events.Failed(studyID, failed))
	e.log.Warn("研究运行失败",
		zap.String("study_id", studyID),
		zap.Int("run_number", failed.RunNumber),
		zap.String("category", string(rerr.Category)),
		zap.Int("current_row", failed.CurrentRow),
		zap.Int("total_rows", failed.TotalRows),
		zap.Error(rerr.Err),
	)
	return failed
}

// MarkInterrupted 将残留的 running 研究记为 failed；本进程正在运行的跳过
func (e *Engine) MarkInterrupted(ctx context.Context, studyID string) (bool, error) {
	if err := e.acquire(studyID); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			return false, nil
		}
		return false, err
	}
	defer e.release(studyID)

	study, err := e.repo.GetStudy(ctx, studyID)
	if err != nil {
		return false, err
	}
	if study.Status != model.StudyStatusRunning {
		return false, nil
	}
	e.fail(ctx, studyID, study.RunState(), runErrorf(CategoryInterrupted, "run stopped without reaching a terminal state"))
	return true, nil
}

// Snapshot 拉取式进度：状态与已写入的结果均来自数据库
type Snapshot struct {
	StudyID         string              `json:"studyId"`
	Status          string              `json:"status"`
	RunNumber       int                 `json:"runNumber"`
	CurrentRow      int                 `json:"currentRow"`
	TotalRows       int                 `json:"totalRows"`
	ProgressPercent float64             `json:"progressPercent"`
	ErrorMessage    string              `json:"errorMessage,omitempty"`
	Results         []model.StudyResult `json:"results"`
}

func (e *Engine) Snapshot(ctx context.Context, studyID string) (*Snapshot, error) {
	study, err := e.repo.GetStudy(ctx, studyID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	results, err := e.repo.ListResults(ctx, studyID)
	if err != nil {
		return nil, fmt.Errorf("读取结果失败: %w", err)
	}
	if results == nil {
		results = []model.StudyResult{}
	}
	return &Snapshot{
		StudyID:         study.ID,
		Status:          study.Status,
		RunNumber:       study.RunNumber,
		CurrentRow:      study.CurrentRow,
		TotalRows:       study.TotalRows,
		ProgressPercent: study.ProgressPercent,
		ErrorMessage:    study.ErrorMessage,
		Results:         results,
	}, nil
}

// Subscribe 推送式进度，首个事件为 connected
func (e *Engine) Subscribe(ctx context.Context, studyID string) (<-chan events.Event, func()) {
	return e.bus.Subscribe(ctx, studyID)
}

// Close 取消全部运行并等待其记录终态
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("等待运行结束超时: %w", ctx.Err())
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
