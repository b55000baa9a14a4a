package llm

import "fmt"

type mistralAdapter struct{}

func (mistralAdapter) Kind() Kind { return KindMistral }

// BuildPayload 使用 [INST] 指令模板包裹提示词。
func (mistralAdapter) BuildPayload(prompt string, temperature float64, maxTokens int) Payload {
	return Payload{
		"prompt":      fmt.Sprintf("<s>[INST] %s [/INST]", prompt),
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}
}

func (mistralAdapter) ExtractAnswer(raw []byte) (Extraction, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return Extraction{}, err
	}
	value, ok := obj["outputs"]
	if !ok || value == nil {
		return Extraction{}, malformed("response has no outputs field")
	}
	outputs, ok := value.([]any)
	if !ok {
		return Extraction{}, malformed(fmt.Sprintf("outputs is a JSON %s, expected an array", jsonKind(value)))
	}
	if len(outputs) == 0 {
		return Extraction{}, emptyResultSet()
	}
	completions := make([]string, 0, len(outputs))
	for idx, item := range outputs {
		entry, ok := item.(map[string]any)
		if !ok {
			return Extraction{}, malformed(fmt.Sprintf("outputs[%d] is not an object", idx))
		}
		text, ok := textField(entry, "text")
		if !ok {
			return Extraction{}, malformed(fmt.Sprintf("outputs[%d] has no text field", idx))
		}
		completions = append(completions, text)
	}
	return Extraction{Answer: completions[0], Outcome: OutcomeExact}, nil
}
