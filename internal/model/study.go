package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StudyStatusDraft     = "draft"
	StudyStatusRunning   = "running"
	StudyStatusCompleted = "completed"
	StudyStatusFailed    = "failed"
)

// Study 一次分类研究：执行配置 + 运行状态
type Study struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID string `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Name   string `gorm:"type:varchar(255)" json:"name"`

	// 执行配置（running 期间不可变）
	DatasetID     string   `gorm:"type:varchar(36);not null;index" json:"dataset_id"`
	Dataset       *Dataset `gorm:"foreignKey:DatasetID" json:"dataset,omitempty"`
	ModelProvider string   `gorm:"type:varchar(50)" json:"model_provider"`
	ModelName     string   `gorm:"type:varchar(100)" json:"model_name"`
	Temperature   float64  `json:"temperature"`
	// 0 表示处理全部行
	SampleSize int `json:"sample_size"`
	// 为空时自动挑选第一列长文本
	TextColumn string `gorm:"type:varchar(255)" json:"text_column"`

	Classifiers []StudyClassifier `gorm:"foreignKey:StudyID" json:"classifiers,omitempty"`
	Constraints []StudyConstraint `gorm:"foreignKey:StudyID" json:"constraints,omitempty"`

	// 运行状态（同一时刻只有当前 run 写）
	Status          string     `gorm:"type:varchar(20);not null;index" json:"status"`
	RunNumber       int        `gorm:"default:1" json:"run_number"`
	CurrentRow      int        `json:"current_row"`
	TotalRows       int        `json:"total_rows"`
	ProgressPercent float64    `json:"progress_percent"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func (s *Study) BeforeCreate(*gorm.DB) error {
	newID(&s.ID)
	if s.Status == "" {
		s.Status = StudyStatusDraft
	}
	if s.RunNumber == 0 {
		s.RunNumber = 1
	}
	return nil
}

// StudyClassifier 研究与分类器的关联，Position 保持挂载顺序
type StudyClassifier struct {
	ID           uint        `gorm:"primarykey" json:"-"`
	StudyID      string      `gorm:"type:varchar(36);not null;index" json:"study_id"`
	ClassifierID string      `gorm:"type:varchar(36);not null;index" json:"classifier_id"`
	Position     int         `json:"position"`
	Classifier   *Classifier `gorm:"foreignKey:ClassifierID" json:"classifier,omitempty"`
}

// StudyConstraint 研究与约束的关联，Position 决定拼接顺序
type StudyConstraint struct {
	ID           uint        `gorm:"primarykey" json:"-"`
	StudyID      string      `gorm:"type:varchar(36);not null;index" json:"study_id"`
	ConstraintID string      `gorm:"type:varchar(36);not null;index" json:"constraint_id"`
	Position     int         `json:"position"`
	Constraint   *Constraint `gorm:"foreignKey:ConstraintID" json:"constraint,omitempty"`
}

// StudyResult 单行分类结果，身份为 (StudyID, RowID)
type StudyResult struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StudyID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_study_row_key;index:idx_study_row_index,priority:1" json:"study_id"`
	// RowKey 为 RowID 的 sha256，RowID 可能是整行 JSON，长度不受控
	RowKey    string `gorm:"type:char(64);not null;uniqueIndex:idx_study_row_key" json:"-"`
	RowID     string `gorm:"type:text;not null" json:"row_id"`
	RowIndex  int    `gorm:"index:idx_study_row_index,priority:2" json:"row_index"`
	RunNumber int    `json:"run_number"`

	RowData         datatypes.JSON `json:"row_data"`
	Classifications datatypes.JSON `json:"classifications"`
}
