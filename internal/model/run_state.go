package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	ErrRunAlreadyRunning = errors.New("run already in progress")
	ErrRunNotRunning     = errors.New("run is not running")
)

// RunState 研究的可变运行状态。状态迁移：
//
//	draft|completed|failed -> running -> completed|failed
//
// 所有迁移方法返回新值，不修改接收者。
type RunState struct {
	Status          string     `json:"status"`
	RunNumber       int        `json:"run_number"`
	CurrentRow      int        `json:"current_row"`
	TotalRows       int        `json:"total_rows"`
	ProgressPercent float64    `json:"progress_percent"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func (s *Study) RunState() RunState {
	return RunState{
		Status:          s.Status,
		RunNumber:       s.RunNumber,
		CurrentRow:      s.CurrentRow,
		TotalRows:       s.TotalRows,
		ProgressPercent: s.ProgressPercent,
		ErrorMessage:    s.ErrorMessage,
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
	}
}

func (s *Study) ApplyRunState(st RunState) {
	s.Status = st.Status
	s.RunNumber = st.RunNumber
	s.CurrentRow = st.CurrentRow
	s.TotalRows = st.TotalRows
	s.ProgressPercent = st.ProgressPercent
	s.ErrorMessage = st.ErrorMessage
	s.StartedAt = st.StartedAt
	s.CompletedAt = st.CompletedAt
}

// IsRerun 从终态重新进入 running
func (st RunState) IsRerun() bool {
	return st.Status == StudyStatusCompleted || st.Status == StudyStatusFailed
}

// Start 进入 running：计数清零；从终态重跑时 RunNumber+1
func (st RunState) Start(now time.Time) (RunState, error) {
	if st.Status == StudyStatusRunning {
		return st, ErrRunAlreadyRunning
	}
	runNumber := st.RunNumber
	if runNumber < 1 {
		runNumber = 1
	}
	if st.IsRerun() {
		runNumber++
	}
	started := now
	return RunState{
		Status:    StudyStatusRunning,
		RunNumber: runNumber,
		StartedAt: &started,
	}, nil
}

// WithTotal 采样完成后固定本轮总行数
func (st RunState) WithTotal(total int) (RunState, error) {
	if st.Status != StudyStatusRunning {
		return st, ErrRunNotRunning
	}
	if total < 0 {
		total = 0
	}
	st.TotalRows = total
	st.CurrentRow = 0
	st.ProgressPercent = 0
	return st, nil
}

// Advance 一个窗口完成后推进 n 行
func (st RunState) Advance(n int) (RunState, error) {
	if st.Status != StudyStatusRunning {
		return st, ErrRunNotRunning
	}
	if n < 0 || st.CurrentRow+n > st.TotalRows {
		return st, fmt.Errorf("advance %d rows past total: current=%d total=%d", n, st.CurrentRow, st.TotalRows)
	}
	st.CurrentRow += n
	st.ProgressPercent = Percent(st.CurrentRow, st.TotalRows)
	return st, nil
}

func (st RunState) Complete(now time.Time) (RunState, error) {
	if st.Status != StudyStatusRunning {
		return st, ErrRunNotRunning
	}
	completed := now
	st.Status = StudyStatusCompleted
	st.ProgressPercent = 100
	st.ErrorMessage = ""
	st.CompletedAt = &completed
	return st, nil
}

func (st RunState) Fail(message string) (RunState, error) {
	if st.Status != StudyStatusRunning {
		return st, ErrRunNotRunning
	}
	st.Status = StudyStatusFailed
	st.ErrorMessage = message
	st.CompletedAt = nil
	return st, nil
}

// Percent current/total*100，total 为 0 时返回 0
func Percent(current, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(current) / float64(total) * 100
}

// RowKeyFor RowID 的定长摘要，用于唯一索引
func RowKeyFor(rowID string) string {
	sum := sha256.Sum256([]byte(rowID))
	return hex.EncodeToString(sum[:])
}
