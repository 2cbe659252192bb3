package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"studylab/internal/model"
)

// UpsertResult 以 (study_id, row_key) 为键写入；重复写同一行覆盖旧值。
// 同一窗口内的并发写入各自命中不同的键。
func (r *Repository) UpsertResult(ctx context.Context, res *model.StudyResult) error {
	if res.RowKey == "" {
		res.RowKey = model.RowKeyFor(res.RowID)
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "study_id"}, {Name: "row_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"row_id", "row_index", "run_number", "row_data", "classifications", "updated_at",
			}),
		}).
		Create(res).Error
	if err != nil {
		return fmt.Errorf("保存结果失败: %w", err)
	}
	return nil
}

// ListResults 按原始行序返回
func (r *Repository) ListResults(ctx context.Context, studyID string) ([]model.StudyResult, error) {
	var out []model.StudyResult
	err := r.db.WithContext(ctx).
		Where("study_id = ?", studyID).
		Order("row_index ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *Repository) CountResults(ctx context.Context, studyID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.StudyResult{}).Where("study_id = ?", studyID).Count(&n).Error
	return n, err
}

func (r *Repository) DeleteResults(ctx context.Context, studyID string) error {
	return r.db.WithContext(ctx).Where("study_id = ?", studyID).Delete(&model.StudyResult{}).Error
}
