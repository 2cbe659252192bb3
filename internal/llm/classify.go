// Package llm 分类模型适配层：把一行文本与若干分类任务打包成一次模型请求，并解析结构化返回。
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	systemRole   = "You are a text classifier for social science research."
	systemFormat = `You must respond with a JSON object where each key is a task ID and each value is an object with "classification" (string label) and "confidence" (number 0.0-1.0) fields.`

	ReasoningInvalidJSON = "Failed to parse classification - Invalid JSON response"
	ReasoningMissing     = "Missing classification in response"
)

// Task 一个分类任务：分类器 id + 指令
type Task struct {
	ID     string
	Prompt string
}

// Classification 单个任务的结果。Reasoning 取自模型返回的 classification 标签
type Classification struct {
	Score       float64 `json:"score"`
	Reasoning   string  `json:"reasoning"`
	RawResponse string  `json:"raw_response,omitempty"`
}

// Request 一次补全请求
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float64
}

// Provider 远端模型。网络/鉴权/限流错误直接返回，不做重试
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Adapter 批量分类：每行一次请求，N 个分类器共用
type Adapter struct {
	provider Provider
	model    string
	log      *zap.Logger
}

func NewAdapter(provider Provider, model string, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{provider: provider, model: model, log: log.Named("llm")}
}

// BatchClassify 解析失败在本地兜底为 0 分；provider 错误原样上抛
func (a *Adapter) BatchClassify(ctx context.Context, text string, tasks []Task, constraints string, temperature float64) (map[string]Classification, error) {
	content, err := a.provider.Complete(ctx, Request{
		Model:       a.model,
		System:      BuildSystemMessage(constraints),
		User:        BuildUserMessage(text, tasks),
		Temperature: temperature,
	})
	if err != nil {
		return nil, err
	}

	results, ok := ParseBatchResponse(content, tasks)
	if !ok {
		a.log.Warn("模型返回无法解析为 JSON",
			zap.String("model", a.model),
			zap.Int("content_len", len(content)),
		)
	}
	return results, nil
}

func BuildSystemMessage(constraints string) string {
	msg := systemRole + "\n\n" + systemFormat
	if constraints != "" {
		msg += "\n\n" + constraints
	}
	return msg
}

func BuildUserMessage(text string, tasks []Task) string {
	var b strings.Builder
	b.WriteString("Text to classify:\n")
	b.WriteString(text)
	b.WriteString("\n\n")
	b.WriteString("Classification tasks:\n\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "[%s] %s\n\n", t.ID, t.Prompt)
	}
	return b.String()
}

// JoinConstraints 按顺序以空行拼接，忽略空规则
func JoinConstraints(rules []string) string {
	parts := make([]string, 0, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r) == "" {
			continue
		}
		parts = append(parts, r)
	}
	return strings.Join(parts, "\n\n")
}

// ParseBatchResponse 每个请求的任务 id 都会有结果。第二个返回值表示顶层 JSON 是否解析成功
func ParseBatchResponse(content string, tasks []Task) (map[string]Classification, bool) {
	results := make(map[string]Classification, len(tasks))

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &top); err != nil || top == nil {
		for _, t := range tasks {
			results[t.ID] = Classification{Score: 0, Reasoning: ReasoningInvalidJSON, RawResponse: content}
		}
		return results, false
	}

	for _, t := range tasks {
		raw, ok := top[t.ID]
		var entry map[string]json.RawMessage
		if !ok || json.Unmarshal(raw, &entry) != nil || entry == nil {
			results[t.ID] = Classification{Score: 0, Reasoning: ReasoningMissing, RawResponse: content}
			continue
		}

		reasoning := labelOf(entry["classification"])
		if reasoning == "" {
			reasoning = ReasoningMissing
		}
		results[t.ID] = Classification{
			Score:       confidenceOf(entry["confidence"]),
			Reasoning:   reasoning,
			RawResponse: compact(raw),
		}
	}
	return results, true
}

func labelOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return ""
	}
	switch x := v.(type) {
	case bool:
		if !x {
			return ""
		}
	case float64:
		if x == 0 {
			return ""
		}
	}
	return string(raw)
}

// confidenceOf 数字，或以数字开头的字符串（取数字前缀，如 "0.9 (high)"），其余按 0
func confidenceOf(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return finite(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	num := leadingNumber.FindString(strings.TrimSpace(s))
	if num == "" {
		return 0
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	return finite(f)
}

var leadingNumber = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?`)

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
