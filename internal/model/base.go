package model

import "github.com/google/uuid"

// newID 所有业务实体统一使用 uuid 字符串主键
func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// AllModels AutoMigrate 使用的模型列表
func AllModels() []interface{} {
	return []interface{}{
		&Dataset{},
		&Classifier{},
		&Constraint{},
		&Study{},
		&StudyClassifier{},
		&StudyConstraint{},
		&StudyResult{},
	}
}
