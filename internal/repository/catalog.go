package repository

import (
	"context"
	"fmt"

	"studylab/internal/model"
)

// ---- datasets ----

func (r *Repository) CreateDataset(ctx context.Context, d *model.Dataset) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("保存数据集失败: %w", err)
	}
	return nil
}

func (r *Repository) ListDatasets(ctx context.Context, userID string) ([]model.Dataset, error) {
	var out []model.Dataset
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *Repository) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	var d model.Dataset
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *Repository) DeleteDataset(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.Dataset{}, "id = ?", id).Error
}

// ---- classifiers ----

func (r *Repository) CreateClassifier(ctx context.Context, c *model.Classifier) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("保存分类器失败: %w", err)
	}
	return nil
}

func (r *Repository) ListClassifiers(ctx context.Context, userID string) ([]model.Classifier, error) {
	var out []model.Classifier
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *Repository) GetClassifier(ctx context.Context, id string) (*model.Classifier, error) {
	var c model.Classifier
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// FindClassifiers 按 id 批量读取，只返回属于 userID 的记录
func (r *Repository) FindClassifiers(ctx context.Context, userID string, ids []string) ([]model.Classifier, error) {
	var out []model.Classifier
	if len(ids) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Find(&out).Error
	return out, err
}

func (r *Repository) UpdateClassifier(ctx context.Context, c *model.Classifier) error {
	return r.db.WithContext(ctx).
		Model(&model.Classifier{}).
		Where("id = ?", c.ID).
		Updates(map[string]interface{}{
			"name":        c.Name,
			"description": c.Description,
			"prompt":      c.Prompt,
		}).Error
}

func (r *Repository) DeleteClassifier(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.Classifier{}, "id = ?", id).Error
}

// ---- constraints ----

func (r *Repository) CreateConstraint(ctx context.Context, c *model.Constraint) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("保存约束失败: %w", err)
	}
	return nil
}

func (r *Repository) ListConstraints(ctx context.Context, userID string) ([]model.Constraint, error) {
	var out []model.Constraint
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *Repository) GetConstraint(ctx context.Context, id string) (*model.Constraint, error) {
	var c model.Constraint
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *Repository) FindConstraints(ctx context.Context, userID string, ids []string) ([]model.Constraint, error) {
	var out []model.Constraint
	if len(ids) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Find(&out).Error
	return out, err
}

func (r *Repository) UpdateConstraint(ctx context.Context, c *model.Constraint) error {
	return r.db.WithContext(ctx).
		Model(&model.Constraint{}).
		Where("id = ?", c.ID).
		Updates(map[string]interface{}{
			"name":        c.Name,
			"description": c.Description,
			"rules":       c.Rules,
		}).Error
}

func (r *Repository) DeleteConstraint(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.Constraint{}, "id = ?", id).Error
}
