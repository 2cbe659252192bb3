package service

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"studylab/internal/dataset"
	"studylab/internal/llm"
	"studylab/internal/model"
)

func marshalColumns(cols []string) (datatypes.JSON, error) {
	if cols == nil {
		cols = []string{}
	}
	b, err := json.Marshal(cols)
	if err != nil {
		return nil, fmt.Errorf("序列化列名失败: %w", err)
	}
	return datatypes.JSON(b), nil
}

// decodeResult 还原一行结果的原始数据与分类
func decodeResult(res model.StudyResult) (dataset.Row, map[string]llm.Classification, error) {
	row := dataset.Row{}
	if len(res.RowData) > 0 {
		if err := json.Unmarshal(res.RowData, &row); err != nil {
			return nil, nil, fmt.Errorf("解析行数据失败 row=%s: %w", res.RowID, err)
		}
	}
	cls := map[string]llm.Classification{}
	if len(res.Classifications) > 0 {
		if err := json.Unmarshal(res.Classifications, &cls); err != nil {
			return nil, nil, fmt.Errorf("解析分类结果失败 row=%s: %w", res.RowID, err)
		}
	}
	return row, cls, nil
}
