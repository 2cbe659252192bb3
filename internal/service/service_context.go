package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"studylab/internal/config"
	"studylab/internal/events"
	"studylab/internal/llm"
	"studylab/internal/repository"
	"studylab/internal/storage"
)

type ServiceContext struct {
	Config  *config.Config
	Repo    *repository.Repository
	Store   storage.ObjectStore
	Bus     *events.Bus
	Engine  *Engine
	Catalog *CatalogService
	Studies *StudyService
	Reaper  *Reaper
	Log     *zap.Logger
}

func NewServiceContext(ctx context.Context, cfg *config.Config, gdb *gorm.DB, log *zap.Logger) (*ServiceContext, error) {
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("初始化对象存储失败: %w", err)
	}
	return NewServiceContextWith(cfg, gdb, store, func(name string) (llm.Provider, error) {
		return llm.NewProvider(cfg.Provider, name)
	}, log), nil
}

// NewServiceContextWith 注入存储与模型工厂，测试与命令行复用
func NewServiceContextWith(cfg *config.Config, gdb *gorm.DB, store storage.ObjectStore, providers ProviderFactory, log *zap.Logger) *ServiceContext {
	repo := repository.New(gdb)
	bus := events.NewBus(0)
	engine := NewEngine(repo, store, bus, providers, cfg.Engine, log)

	return &ServiceContext{
		Config:  cfg,
		Repo:    repo,
		Store:   store,
		Bus:     bus,
		Engine:  engine,
		Catalog: NewCatalogService(repo, store, log),
		Studies: NewStudyService(repo, engine, log),
		Reaper:  NewReaper(repo, engine, cfg.Engine.StaleAfter, cfg.Engine.ReaperSchedule, log),
		Log:     log,
	}
}

// Close 停止清理任务，取消并等待进行中的运行，最后关闭事件总线
func (s *ServiceContext) Close(ctx context.Context) error {
	s.Reaper.Stop()
	err := s.Engine.Close(ctx)
	s.Bus.Close()
	return err
}
