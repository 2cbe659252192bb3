package service

import (
	"math"
	"sort"

	"studylab/internal/llm"
	"studylab/internal/model"
)

// LabelStats 某个标签在该分类器结果中的占比
type LabelStats struct {
	Label    string  `json:"label"`
	Count    int     `json:"count"`
	Share    float64 `json:"share"`
	CI95Low  float64 `json:"ci95_low"`
	CI95High float64 `json:"ci95_high"`
}

type ClassifierSummary struct {
	ClassifierID string `json:"classifier_id"`
	Name         string `json:"name"`
	// 有该分类器结果的行数
	N int `json:"n"`
	// 解析失败或缺失的行数，不参与分数与标签统计
	Unparsed  int          `json:"unparsed"`
	MeanScore float64      `json:"mean_score"`
	MinScore  float64      `json:"min_score"`
	MaxScore  float64      `json:"max_score"`
	Labels    []LabelStats `json:"labels"`
}

type StudySummary struct {
	StudyID         string              `json:"study_id"`
	Name            string              `json:"name"`
	Status          string              `json:"status"`
	RunNumber       int                 `json:"run_number"`
	TotalRows       int                 `json:"total_rows"`
	CurrentRow      int                 `json:"current_row"`
	ProgressPercent float64             `json:"progress_percent"`
	ErrorMessage    string              `json:"error_message,omitempty"`
	ResultCount     int                 `json:"result_count"`
	Classifiers     []ClassifierSummary `json:"classifiers"`
}

func isUnparsed(c llm.Classification) bool {
	return c.Reasoning == llm.ReasoningInvalidJSON || c.Reasoning == llm.ReasoningMissing
}

// Summarize 按分类器汇总分数与标签分布，分类器顺序与研究挂载顺序一致
func Summarize(study *model.Study, results []model.StudyResult) (*StudySummary, error) {
	sum := &StudySummary{
		StudyID:         study.ID,
		Name:            study.Name,
		Status:          study.Status,
		RunNumber:       study.RunNumber,
		TotalRows:       study.TotalRows,
		CurrentRow:      study.CurrentRow,
		ProgressPercent: study.ProgressPercent,
		ErrorMessage:    study.ErrorMessage,
		ResultCount:     len(results),
		Classifiers:     []ClassifierSummary{},
	}

	decoded := make([]map[string]llm.Classification, 0, len(results))
	for _, res := range results {
		_, cls, err := decodeResult(res)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, cls)
	}

	for _, sc := range study.Classifiers {
		if sc.Classifier == nil {
			continue
		}
		sum.Classifiers = append(sum.Classifiers, summarizeClassifier(sc.Classifier, decoded))
	}
	return sum, nil
}

func summarizeClassifier(c *model.Classifier, decoded []map[string]llm.Classification) ClassifierSummary {
	cs := ClassifierSummary{ClassifierID: c.ID, Name: c.Name, Labels: []LabelStats{}}

	counts := map[string]int{}
	total := 0.0
	parsed := 0
	for _, cls := range decoded {
		r, ok := cls[c.ID]
		if !ok {
			continue
		}
		cs.N++
		if isUnparsed(r) {
			cs.Unparsed++
			continue
		}
		if parsed == 0 || r.Score < cs.MinScore {
			cs.MinScore = r.Score
		}
		if parsed == 0 || r.Score > cs.MaxScore {
			cs.MaxScore = r.Score
		}
		total += r.Score
		parsed++
		counts[r.Reasoning]++
	}
	if parsed == 0 {
		return cs
	}
	cs.MeanScore = total / float64(parsed)

	for label, n := range counts {
		low, high := wilsonCI(n, parsed, 1.96)
		cs.Labels = append(cs.Labels, LabelStats{
			Label:    label,
			Count:    n,
			Share:    float64(n) / float64(parsed),
			CI95Low:  low,
			CI95High: high,
		})
	}
	sort.Slice(cs.Labels, func(i, j int) bool {
		if cs.Labels[i].Count != cs.Labels[j].Count {
			return cs.Labels[i].Count > cs.Labels[j].Count
		}
		return cs.Labels[i].Label < cs.Labels[j].Label
	})
	return cs
}

// Wilson score interval for proportion
func wilsonCI(k int, n int, z float64) (float64, float64) {
	if n == 0 {
		return 0, 0
	}
	p := float64(k) / float64(n)
	zz := z * z
	den := 1 + zz/float64(n)
	center := (p + zz/(2*float64(n))) / den
	half := (z / den) * math.Sqrt((p*(1-p)+zz/(4*float64(n)))/float64(n))
	low := math.Max(0, center-half)
	high := math.Min(1, center+half)
	return low, high
}
