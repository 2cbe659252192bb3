// Package events 进程内按 topic 划分的发布/订阅，用于向客户端推送研究进度。
package events

import "studylab/internal/model"

const (
	TypeConnected         = "connected"
	TypeRowWindowComplete = "row_window_complete"
	TypeComplete          = "complete"
	TypeFailed            = "failed"
)

// Event 推送给订阅者的消息，字段按 Type 取用
type Event struct {
	Type            string              `json:"type"`
	StudyID         string              `json:"studyId,omitempty"`
	RunNumber       int                 `json:"runNumber,omitempty"`
	CurrentRow      int                 `json:"currentRow,omitempty"`
	TotalRows       int                 `json:"totalRows,omitempty"`
	ProgressPercent float64             `json:"progressPercent,omitempty"`
	LatestResults   []model.StudyResult `json:"latestResults,omitempty"`
	ErrorMessage    string              `json:"errorMessage,omitempty"`
}

func Connected(studyID string) Event {
	return Event{Type: TypeConnected, StudyID: studyID}
}

func WindowComplete(studyID string, st model.RunState, latest []model.StudyResult) Event {
	return Event{
		Type:            TypeRowWindowComplete,
		StudyID:         studyID,
		RunNumber:       st.RunNumber,
		CurrentRow:      st.CurrentRow,
		TotalRows:       st.TotalRows,
		ProgressPercent: st.ProgressPercent,
		LatestResults:   latest,
	}
}

func Complete(studyID string, st model.RunState) Event {
	return Event{
		Type:            TypeComplete,
		StudyID:         studyID,
		RunNumber:       st.RunNumber,
		CurrentRow:      st.CurrentRow,
		TotalRows:       st.TotalRows,
		ProgressPercent: st.ProgressPercent,
	}
}

func Failed(studyID string, st model.RunState) Event {
	return Event{
		Type:            TypeFailed,
		StudyID:         studyID,
		RunNumber:       st.RunNumber,
		CurrentRow:      st.CurrentRow,
		TotalRows:       st.TotalRows,
		ProgressPercent: st.ProgressPercent,
		ErrorMessage:    st.ErrorMessage,
	}
}

// Terminal complete/failed 之后不会再有事件
func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeFailed
}
