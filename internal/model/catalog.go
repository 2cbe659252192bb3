package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Dataset 用户上传的 CSV；原始字节存放在对象存储，这里只保存元数据
type Dataset struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID     string `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Name       string `gorm:"type:varchar(255);not null" json:"name"`
	Filename   string `gorm:"type:varchar(255)" json:"filename"`
	StorageKey string `gorm:"type:varchar(500);not null" json:"storage_key"`
	RowCount   int    `json:"row_count"`
	// 列名，保持 CSV 表头顺序
	Columns datatypes.JSON `json:"columns"`
}

func (d *Dataset) BeforeCreate(*gorm.DB) error {
	newID(&d.ID)
	return nil
}

// ColumnNames 解码列名；解码失败按无列处理
func (d *Dataset) ColumnNames() []string {
	if len(d.Columns) == 0 {
		return nil
	}
	var cols []string
	if err := json.Unmarshal(d.Columns, &cols); err != nil {
		return nil
	}
	return cols
}

// Classifier 分类器：一段交给模型的分类指令
type Classifier struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID      string `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Name        string `gorm:"type:varchar(255);not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	Prompt      string `gorm:"type:text;not null" json:"prompt"`
}

func (c *Classifier) BeforeCreate(*gorm.DB) error {
	newID(&c.ID)
	return nil
}

// Constraint 全局约束规则，拼接进 system 指令
type Constraint struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID      string `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Name        string `gorm:"type:varchar(255);not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	Rules       string `gorm:"type:text;not null" json:"rules"`
}

// TableName constraint 是 MySQL 保留字，表名沿用 model_constraints
func (Constraint) TableName() string { return "model_constraints" }

func (c *Constraint) BeforeCreate(*gorm.DB) error {
	newID(&c.ID)
	return nil
}
