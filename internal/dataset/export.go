package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"studylab/internal/llm"
)

// ExportClassifier 导出列的来源：结果按 ID 取值，列名用 Name
type ExportClassifier struct {
	ID   string
	Name string
}

// ExportRow 一行导出数据，调用方保证已按原始行序排列
type ExportRow struct {
	Data            Row
	Classifications map[string]llm.Classification
}

// ExportHeader 原始列 + 每个分类器的 _classification / _confidence
func ExportHeader(columns []string, classifiers []ExportClassifier) []string {
	header := make([]string, 0, len(columns)+2*len(classifiers))
	header = append(header, columns...)
	for _, c := range classifiers {
		header = append(header, c.Name+"_classification", c.Name+"_confidence")
	}
	return header
}

// WriteExport 写出 CSV。相同输入得到逐字节相同的输出
func WriteExport(w io.Writer, columns []string, classifiers []ExportClassifier, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader(columns, classifiers)); err != nil {
		return fmt.Errorf("写入表头失败: %w", err)
	}

	record := make([]string, 0, len(columns)+2*len(classifiers))
	for _, row := range rows {
		record = record[:0]
		for _, col := range columns {
			record = append(record, row.Data[col])
		}
		for _, c := range classifiers {
			cls, ok := row.Classifications[c.ID]
			if !ok {
				record = append(record, "", "")
				continue
			}
			record = append(record, cls.Reasoning, strconv.FormatFloat(cls.Score, 'f', -1, 64))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("写入数据行失败: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
