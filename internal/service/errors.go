package service

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrRunInProgress = errors.New("run already in progress")
	ErrEngineClosed  = errors.New("engine is shutting down")
)

// Category 运行失败的分类，作为 errorMessage 的前缀
type Category string

const (
	CategoryConfiguration Category = "ConfigurationError"
	CategoryStorage       Category = "StorageError"
	CategoryDataset       Category = "DatasetError"
	CategoryProvider      Category = "ProviderError"
	CategoryPersistence   Category = "PersistenceError"
	CategoryInterrupted   Category = "InterruptedError"
)

// RunError 终止一次运行的错误，Error() 即持久化的 errorMessage
type RunError struct {
	Category Category
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

func runError(cat Category, err error) *RunError {
	return &RunError{Category: cat, Err: err}
}

func runErrorf(cat Category, format string, args ...interface{}) *RunError {
	return &RunError{Category: cat, Err: fmt.Errorf(format, args...)}
}

// IsConfigurationError 运行前即可发现的配置问题
func IsConfigurationError(err error) bool {
	var re *RunError
	return errors.As(err, &re) && re.Category == CategoryConfiguration
}

// classify 将任意错误归类；runCtx 已取消时一律视为中断
func classify(runCtx context.Context, err error) *RunError {
	if runCtx.Err() != nil {
		var re *RunError
		if errors.As(err, &re) && re.Category == CategoryInterrupted {
			return re
		}
		return runErrorf(CategoryInterrupted, "run was interrupted: %v", err)
	}
	var re *RunError
	if errors.As(err, &re) {
		return re
	}
	return runError(CategoryPersistence, err)
}
