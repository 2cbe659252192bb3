package service

import (
	"fmt"
	"strings"
)

const maxReportLabels = 10

// RenderSummaryMarkdown 研究汇总的 Markdown 报告
func RenderSummaryMarkdown(s *StudySummary) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# %s\n\n", s.Name))
	b.WriteString(fmt.Sprintf("- study_id: %s\n", s.StudyID))
	b.WriteString(fmt.Sprintf("- status: %s\n", s.Status))
	b.WriteString(fmt.Sprintf("- run_number: %d\n", s.RunNumber))
	b.WriteString(fmt.Sprintf("- progress: %d/%d (%.1f%%)\n", s.CurrentRow, s.TotalRows, s.ProgressPercent))
	b.WriteString(fmt.Sprintf("- results: %d\n", s.ResultCount))
	if s.ErrorMessage != "" {
		b.WriteString(fmt.Sprintf("- error: %s\n", firstLine(s.ErrorMessage)))
	}
	b.WriteString("\n")

	for _, c := range s.Classifiers {
		b.WriteString(fmt.Sprintf("## %s\n\n", c.Name))
		b.WriteString(fmt.Sprintf("- n: %d (unparsed: %d)\n", c.N, c.Unparsed))
		b.WriteString(fmt.Sprintf("- confidence: mean %.3f, min %.3f, max %.3f\n\n", c.MeanScore, c.MinScore, c.MaxScore))

		if len(c.Labels) == 0 {
			b.WriteString("- 无可用标签\n\n")
			continue
		}
		b.WriteString("| Label | Count | Share | CI95 |\n")
		b.WriteString("| --- | ---: | ---: | --- |\n")
		shown := c.Labels
		if len(shown) > maxReportLabels {
			shown = shown[:maxReportLabels]
		}
		for _, l := range shown {
			b.WriteString(fmt.Sprintf("| %s | %d | %.3f | [%.3f, %.3f] |\n",
				escapeCell(l.Label), l.Count, l.Share, l.CI95Low, l.CI95High))
		}
		if len(c.Labels) > len(shown) {
			b.WriteString(fmt.Sprintf("\n- ...(剩余 %d 个标签省略)\n", len(c.Labels)-len(shown)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
