package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"studylab/internal/dataset"
	"studylab/internal/events"
	"studylab/internal/model"
	"studylab/internal/repository"
)

// StudyService 研究的创建、查询、运行入口与导出，负责归属校验
type StudyService struct {
	repo   *repository.Repository
	engine *Engine
	log    *zap.Logger
	now    func() time.Time
}

func NewStudyService(repo *repository.Repository, engine *Engine, log *zap.Logger) *StudyService {
	return &StudyService{repo: repo, engine: engine, log: log.Named("study"), now: time.Now}
}

type CreateStudyInput struct {
	Name          string   `json:"name"`
	DatasetID     string   `json:"datasetId"`
	ClassifierIDs []string `json:"classifierIds"`
	ConstraintIDs []string `json:"constraintIds"`
	ModelProvider string   `json:"modelProvider"`
	ModelName     string   `json:"modelName"`
	Temperature   float64  `json:"temperature"`
	// 0 表示全部行；超过数据集行数时按行数截断
	SampleSize int    `json:"sampleSize"`
	TextColumn string `json:"textColumn"`
	// 默认 true：创建后立即开始运行
	AutoStart *bool `json:"autoStart"`
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *StudyService) validate(ctx context.Context, userID string, in *CreateStudyInput) (*model.Dataset, error) {
	in.ClassifierIDs = dedupe(in.ClassifierIDs)
	in.ConstraintIDs = dedupe(in.ConstraintIDs)

	if in.DatasetID == "" {
		return nil, fmt.Errorf("%w: datasetId is required", ErrInvalidInput)
	}
	if len(in.ClassifierIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one classifier is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.ModelName) == "" {
		return nil, fmt.Errorf("%w: modelName is required", ErrInvalidInput)
	}
	if in.Temperature < 0 || in.Temperature > 2 {
		return nil, fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidInput)
	}
	if in.SampleSize < 0 {
		return nil, fmt.Errorf("%w: sampleSize must not be negative", ErrInvalidInput)
	}

	ds, err := s.repo.GetDataset(ctx, in.DatasetID)
	if err != nil || ds.UserID != userID {
		return nil, fmt.Errorf("%w: dataset %s not found", ErrInvalidInput, in.DatasetID)
	}
	if in.TextColumn != "" && !containsString(ds.ColumnNames(), in.TextColumn) {
		return nil, fmt.Errorf("%w: text column %q not in dataset", ErrInvalidInput, in.TextColumn)
	}
	if in.SampleSize > ds.RowCount {
		in.SampleSize = ds.RowCount
	}

	classifiers, err := s.repo.FindClassifiers(ctx, userID, in.ClassifierIDs)
	if err != nil {
		return nil, err
	}
	if len(classifiers) != len(in.ClassifierIDs) {
		return nil, fmt.Errorf("%w: unknown classifier id", ErrInvalidInput)
	}
	constraints, err := s.repo.FindConstraints(ctx, userID, in.ConstraintIDs)
	if err != nil {
		return nil, err
	}
	if len(constraints) != len(in.ConstraintIDs) {
		return nil, fmt.Errorf("%w: unknown constraint id", ErrInvalidInput)
	}
	return ds, nil
}

// Create 以 draft 创建研究；AutoStart 时随即启动。
// 启动时的配置错误不作为创建失败返回，研究以 failed 状态可见。
func (s *StudyService) Create(ctx context.Context, userID string, in CreateStudyInput) (*model.Study, error) {
	if _, err := s.validate(ctx, userID, &in); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = "Study " + s.now().Format(time.RFC3339)
	}
	study := &model.Study{
		UserID:        userID,
		Name:          name,
		DatasetID:     in.DatasetID,
		ModelProvider: in.ModelProvider,
		ModelName:     in.ModelName,
		Temperature:   in.Temperature,
		SampleSize:    in.SampleSize,
		TextColumn:    in.TextColumn,
	}
	if err := s.repo.CreateStudy(ctx, study, in.ClassifierIDs, in.ConstraintIDs); err != nil {
		return nil, err
	}

	if in.AutoStart == nil || *in.AutoStart {
		if _, err := s.engine.StartRun(ctx, study.ID); err != nil {
			if !IsConfigurationError(err) {
				return nil, err
			}
			s.log.Warn("研究创建后启动失败", zap.String("study_id", study.ID), zap.Error(err))
		}
	}

	return s.repo.GetStudy(ctx, study.ID)
}

func (s *StudyService) List(ctx context.Context, userID string) ([]model.Study, error) {
	return s.repo.ListStudies(ctx, userID)
}

func (s *StudyService) Get(ctx context.Context, userID, id string) (*model.Study, error) {
	study, err := s.repo.GetStudy(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if study.UserID != userID {
		return nil, ErrNotFound
	}
	return study, nil
}

// Delete 级联删除结果；运行中的研究不可删除
func (s *StudyService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.engine.WithIdle(id, func() error {
		return mapNotFound(s.repo.DeleteStudy(ctx, id))
	})
}

// Start 运行或重跑
func (s *StudyService) Start(ctx context.Context, userID, id string) (model.RunState, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return model.RunState{}, err
	}
	return s.engine.StartRun(ctx, id)
}

func (s *StudyService) Results(ctx context.Context, userID, id string) ([]model.StudyResult, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.repo.ListResults(ctx, id)
}

func (s *StudyService) Progress(ctx context.Context, userID, id string) (*Snapshot, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.engine.Snapshot(ctx, id)
}

func (s *StudyService) Subscribe(ctx context.Context, userID, id string) (<-chan events.Event, func(), error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := s.engine.Subscribe(ctx, id)
	return ch, unsubscribe, nil
}

// Export 导出 CSV，返回建议文件名
func (s *StudyService) Export(ctx context.Context, userID, id string) (string, []byte, error) {
	study, err := s.Get(ctx, userID, id)
	if err != nil {
		return "", nil, err
	}
	results, err := s.repo.ListResults(ctx, id)
	if err != nil {
		return "", nil, fmt.Errorf("读取结果失败: %w", err)
	}

	var columns []string
	if study.Dataset != nil {
		columns = study.Dataset.ColumnNames()
	}
	classifiers := make([]dataset.ExportClassifier, 0, len(study.Classifiers))
	for _, sc := range study.Classifiers {
		if sc.Classifier == nil {
			continue
		}
		classifiers = append(classifiers, dataset.ExportClassifier{ID: sc.Classifier.ID, Name: sc.Classifier.Name})
	}

	rows := make([]dataset.ExportRow, 0, len(results))
	for _, res := range results {
		row, cls, err := decodeResult(res)
		if err != nil {
			return "", nil, err
		}
		rows = append(rows, dataset.ExportRow{Data: row, Classifications: cls})
	}

	var buf bytes.Buffer
	if err := dataset.WriteExport(&buf, columns, classifiers, rows); err != nil {
		return "", nil, err
	}
	filename := fmt.Sprintf("study-%s-run-%d.csv", study.ID, study.RunNumber)
	return filename, buf.Bytes(), nil
}

func (s *StudyService) Summary(ctx context.Context, userID, id string) (*StudySummary, error) {
	study, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	results, err := s.repo.ListResults(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("读取结果失败: %w", err)
	}
	return Summarize(study, results)
}
