package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"studylab/internal/dataset"
	"studylab/internal/model"
	"studylab/internal/repository"
	"studylab/internal/storage"
)

// CatalogService 数据集、分类器、约束的增删改查。其他用户的记录一律表现为不存在
type CatalogService struct {
	repo  *repository.Repository
	store storage.ObjectStore
	log   *zap.Logger
}

func NewCatalogService(repo *repository.Repository, store storage.ObjectStore, log *zap.Logger) *CatalogService {
	return &CatalogService{repo: repo, store: store, log: log.Named("catalog")}
}

type ClassifierInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

func (in ClassifierInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	return nil
}

type ConstraintInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Rules       string `json:"rules"`
}

func (in ConstraintInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Rules) == "" {
		return fmt.Errorf("%w: rules are required", ErrInvalidInput)
	}
	return nil
}

func mapNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// ---- classifiers ----

func (s *CatalogService) CreateClassifier(ctx context.Context, userID string, in ClassifierInput) (*model.Classifier, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c := &model.Classifier{UserID: userID, Name: in.Name, Description: in.Description, Prompt: in.Prompt}
	if err := s.repo.CreateClassifier(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CatalogService) ListClassifiers(ctx context.Context, userID string) ([]model.Classifier, error) {
	return s.repo.ListClassifiers(ctx, userID)
}

func (s *CatalogService) GetClassifier(ctx context.Context, userID, id string) (*model.Classifier, error) {
	c, err := s.repo.GetClassifier(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if c.UserID != userID {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *CatalogService) UpdateClassifier(ctx context.Context, userID, id string, in ClassifierInput) (*model.Classifier, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c, err := s.GetClassifier(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	c.Name, c.Description, c.Prompt = in.Name, in.Description, in.Prompt
	if err := s.repo.UpdateClassifier(ctx, c); err != nil {
		return nil, fmt.Errorf("更新分类器失败: %w", err)
	}
	return c, nil
}

func (s *CatalogService) DeleteClassifier(ctx context.Context, userID, id string) error {
	if _, err := s.GetClassifier(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.DeleteClassifier(ctx, id)
}

// ---- constraints ----

func (s *CatalogService) CreateConstraint(ctx context.Context, userID string, in ConstraintInput) (*model.Constraint, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c := &model.Constraint{UserID: userID, Name: in.Name, Description: in.Description, Rules: in.Rules}
	if err := s.repo.CreateConstraint(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CatalogService) ListConstraints(ctx context.Context, userID string) ([]model.Constraint, error) {
	return s.repo.ListConstraints(ctx, userID)
}

func (s *CatalogService) GetConstraint(ctx context.Context, userID, id string) (*model.Constraint, error) {
	c, err := s.repo.GetConstraint(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if c.UserID != userID {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *CatalogService) UpdateConstraint(ctx context.Context, userID, id string, in ConstraintInput) (*model.Constraint, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c, err := s.GetConstraint(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	c.Name, c.Description, c.Rules = in.Name, in.Description, in.Rules
	if err := s.repo.UpdateConstraint(ctx, c); err != nil {
		return nil, fmt.Errorf("更新约束失败: %w", err)
	}
	return c, nil
}

func (s *CatalogService) DeleteConstraint(ctx context.Context, userID, id string) error {
	if _, err := s.GetConstraint(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.DeleteConstraint(ctx, id)
}

// ---- datasets ----

// UploadDataset 解析 CSV 得到行数与列名，原始字节写入对象存储
func (s *CatalogService) UploadDataset(ctx context.Context, userID, name, filename string, data []byte) (*model.Dataset, error) {
	tbl, err := dataset.ParseCSV(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(name) == "" {
		name = filename
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	cols, err := marshalColumns(tbl.Columns)
	if err != nil {
		return nil, err
	}
	d := &model.Dataset{
		ID:       uuid.NewString(),
		UserID:   userID,
		Name:     name,
		Filename: filename,
		RowCount: len(tbl.Rows),
		Columns:  cols,
	}
	d.StorageKey = storage.DatasetKey(userID, d.ID, filename)

	if err := s.store.Put(ctx, d.StorageKey, data, "text/csv"); err != nil {
		return nil, err
	}
	if err := s.repo.CreateDataset(ctx, d); err != nil {
		if derr := s.store.Delete(context.WithoutCancel(ctx), d.StorageKey); derr != nil {
			s.log.Warn("回滚上传对象失败", zap.String("key", d.StorageKey), zap.Error(derr))
		}
		return nil, err
	}
	s.log.Info("数据集已上传",
		zap.String("dataset_id", d.ID),
		zap.Int("rows", d.RowCount),
		zap.Int("columns", len(tbl.Columns)),
	)
	return d, nil
}

func (s *CatalogService) ListDatasets(ctx context.Context, userID string) ([]model.Dataset, error) {
	return s.repo.ListDatasets(ctx, userID)
}

func (s *CatalogService) GetDataset(ctx context.Context, userID, id string) (*model.Dataset, error) {
	d, err := s.repo.GetDataset(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if d.UserID != userID {
		return nil, ErrNotFound
	}
	return d, nil
}

func (s *CatalogService) DownloadDataset(ctx context.Context, userID, id string) (*model.Dataset, []byte, error) {
	d, err := s.GetDataset(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.store.Get(ctx, d.StorageKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return d, data, nil
}

type DatasetPreview struct {
	Columns  []string      `json:"columns"`
	Rows     []dataset.Row `json:"rows"`
	RowCount int           `json:"row_count"`
}

func (s *CatalogService) PreviewDataset(ctx context.Context, userID, id string, limit int) (*DatasetPreview, error) {
	d, data, err := s.DownloadDataset(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	tbl, err := dataset.ParseCSV(data)
	if err != nil {
		return nil, fmt.Errorf("解析数据集失败: %w", err)
	}
	rows := dataset.Sample(tbl.Rows, limit)
	if rows == nil {
		rows = []dataset.Row{}
	}
	return &DatasetPreview{Columns: tbl.Columns, Rows: rows, RowCount: d.RowCount}, nil
}

// DeleteDataset 软删除记录并删除对象；引用它的历史研究仍可读取，但无法再运行
func (s *CatalogService) DeleteDataset(ctx context.Context, userID, id string) error {
	d, err := s.GetDataset(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteDataset(ctx, id); err != nil {
		return fmt.Errorf("删除数据集失败: %w", err)
	}
	if err := s.store.Delete(ctx, d.StorageKey); err != nil {
		s.log.Warn("删除数据集对象失败", zap.String("key", d.StorageKey), zap.Error(err))
	}
	return nil
}
