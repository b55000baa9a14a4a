package llm

import (
	"encoding/json"
)

// AnthropicVersion 是 Anthropic messages 结构要求的协议版本标记。
const AnthropicVersion = "bedrock-2023-05-31"

// claudeSchema 是 Claude 分支内部的第二级变体。
type claudeSchema int

const (
	schemaAnthropic claudeSchema = iota
	// schemaNova 用于不接受 Anthropic 结构的模型：没有版本标记和 max_tokens，
	// 提示词以扁平的 prompt 字段传递。
	schemaNova
)

type claudeAdapter struct {
	schema claudeSchema
}

func newClaudeAdapter(schema claudeSchema) claudeAdapter {
	return claudeAdapter{schema: schema}
}

func (claudeAdapter) Kind() Kind { return KindClaude }

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content []claudeContent `json:"content"`
}

func (a claudeAdapter) BuildPayload(prompt string, temperature float64, maxTokens int) Payload {
	if a.schema == schemaNova {
		return Payload{
			"prompt":      prompt,
			"temperature": temperature,
		}
	}
	return Payload{
		"anthropic_version": AnthropicVersion,
		"max_tokens":        maxTokens,
		"temperature":       temperature,
		"messages": []claudeMessage{{
			Role:    "user",
			Content: []claudeContent{{Type: "text", Text: prompt}},
		}},
	}
}

// ExtractAnswer 依次尝试 content[0].text、outputText 与 Nova 的
// output.message.content[0].text，都不存在时返回整个响应的字符串形式并标记为
// OutcomeBestEffort。只有响应不是 JSON 时才返回错误。
func (claudeAdapter) ExtractAnswer(raw []byte) (Extraction, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Extraction{}, malformed("response is not valid JSON: " + err.Error())
	}
	if obj, ok := decoded.(map[string]any); ok {
		if text, ok := firstContentText(obj); ok {
			return Extraction{Answer: text, Outcome: OutcomeExact}, nil
		}
		if text, ok := textField(obj, "outputText"); ok {
			return Extraction{Answer: text, Outcome: OutcomeExact}, nil
		}
		if output, ok := obj["output"].(map[string]any); ok {
			if message, ok := output["message"].(map[string]any); ok {
				if text, ok := firstContentText(message); ok {
					return Extraction{Answer: text, Outcome: OutcomeExact}, nil
				}
			}
		}
	}
	return Extraction{Answer: compactJSON(raw), Outcome: OutcomeBestEffort}, nil
}

// firstContentText 读取 obj.content[0].text。
func firstContentText(obj map[string]any) (string, bool) {
	content, ok := obj["content"].([]any)
	if !ok || len(content) == 0 {
		return "", false
	}
	first, ok := content[0].(map[string]any)
	if !ok {
		return "", false
	}
	return textField(first, "text")
}
