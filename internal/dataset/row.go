package dataset

import (
	"encoding/json"
	"fmt"
)

const (
	idColumn      = "id"
	minTextLength = 10
)

// RowID 行自带的 id 列；没有时用整行 JSON（键有序，结果确定）
func RowID(row Row) string {
	if id := row[idColumn]; id != "" {
		return id
	}
	b, _ := json.Marshal(map[string]string(row))
	return string(b)
}

// AssignRowIDs 与 rows 一一对应。同一样本内重复的 id 追加 #<位置>，保证一行一个结果
func AssignRowIDs(rows []Row) []string {
	ids := make([]string, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for i, row := range rows {
		id := RowID(row)
		if _, dup := seen[id]; dup {
			id = fmt.Sprintf("%s#%d", id, i)
		}
		seen[id] = struct{}{}
		ids[i] = id
	}
	return ids
}

// TextFor 待分类文本：指定列优先；否则按列顺序取第一个长度超过 10 的值
func TextFor(row Row, columns []string, textColumn string) string {
	if textColumn != "" {
		return row[textColumn]
	}
	for _, col := range columns {
		if v := row[col]; len(v) > minTextLength {
			return v
		}
	}
	return ""
}
