package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"studylab/internal/model"
)

func unscoped(db *gorm.DB) *gorm.DB { return db.Unscoped() }

func byPosition(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }

// 已软删除的数据集/分类器/约束仍需能被历史研究读取
func preloadStudy(q *gorm.DB) *gorm.DB {
	return q.
		Preload("Dataset", unscoped).
		Preload("Classifiers", byPosition).
		Preload("Classifiers.Classifier", unscoped).
		Preload("Constraints", byPosition).
		Preload("Constraints.Constraint", unscoped)
}

// CreateStudy 创建研究并按给定顺序挂载分类器与约束
func (r *Repository) CreateStudy(ctx context.Context, s *model.Study, classifierIDs, constraintIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Classifiers", "Constraints", "Dataset").Create(s).Error; err != nil {
			return fmt.Errorf("创建研究失败: %w", err)
		}
		for i, id := range classifierIDs {
			link := &model.StudyClassifier{StudyID: s.ID, ClassifierID: id, Position: i}
			if err := tx.Create(link).Error; err != nil {
				return fmt.Errorf("关联分类器失败: %w", err)
			}
		}
		for i, id := range constraintIDs {
			link := &model.StudyConstraint{StudyID: s.ID, ConstraintID: id, Position: i}
			if err := tx.Create(link).Error; err != nil {
				return fmt.Errorf("关联约束失败: %w", err)
			}
		}
		return nil
	})
}

func (r *Repository) GetStudy(ctx context.Context, id string) (*model.Study, error) {
	var s model.Study
	if err := preloadStudy(r.db.WithContext(ctx)).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *Repository) ListStudies(ctx context.Context, userID string) ([]model.Study, error) {
	var out []model.Study
	err := preloadStudy(r.db.WithContext(ctx)).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// DeleteStudy 级联删除结果与关联
func (r *Repository) DeleteStudy(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("study_id = ?", id).Delete(&model.StudyResult{}).Error; err != nil {
			return err
		}
		if err := tx.Where("study_id = ?", id).Delete(&model.StudyClassifier{}).Error; err != nil {
			return err
		}
		if err := tx.Where("study_id = ?", id).Delete(&model.StudyConstraint{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Study{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SaveRunState 整体覆盖运行状态字段（含零值）
func (r *Repository) SaveRunState(ctx context.Context, id string, st model.RunState) error {
	err := r.db.WithContext(ctx).
		Model(&model.Study{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           st.Status,
			"run_number":       st.RunNumber,
			"current_row":      st.CurrentRow,
			"total_rows":       st.TotalRows,
			"progress_percent": st.ProgressPercent,
			"error_message":    st.ErrorMessage,
			"started_at":       st.StartedAt,
			"completed_at":     st.CompletedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("更新研究状态失败: %w", err)
	}
	return nil
}

// ListStaleRunning running 状态且 updated_at 早于 before 的研究
func (r *Repository) ListStaleRunning(ctx context.Context, before time.Time) ([]model.Study, error) {
	var out []model.Study
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.StudyStatusRunning, before).
		Find(&out).Error
	return out, err
}
