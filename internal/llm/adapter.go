package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload 是适配器生成的后端请求体，结构完全由适配器决定。
type Payload map[string]any

// Extraction 是从后端响应中提取到的答案。
type Extraction struct {
	Answer  string
	Outcome Outcome
}

// Adapter 在统一请求/结果与后端原生结构之间转换。
type Adapter interface {
	Kind() Kind
	BuildPayload(prompt string, temperature float64, maxTokens int) Payload
	ExtractAnswer(raw []byte) (Extraction, error)
}

// decodeObject 把响应体解析为 JSON 对象。
func decodeObject(raw []byte) (map[string]any, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, malformed(fmt.Sprintf("response is not valid JSON: %v", err))
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, malformed(fmt.Sprintf("response is a JSON %s, expected an object", jsonKind(decoded)))
	}
	return obj, nil
}

// textField 读取对象中的字符串字段。
func textField(obj map[string]any, key string) (string, bool) {
	value, ok := obj[key]
	if !ok {
		return "", false
	}
	text, ok := value.(string)
	return text, ok
}

// compactJSON 返回响应体的紧凑字符串形式。
func compactJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(bytes.TrimSpace(raw))
	}
	return buf.String()
}

func jsonKind(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return "object"
	}
}
