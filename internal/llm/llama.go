package llm

// LlamaSystemInstruction 固定地放在每个 Llama 提示词之前。
const LlamaSystemInstruction = "[INST]You are a very intelligent bot with exceptional critical thinking, help me answering below question.[/INST]"

// LlamaTopP 是 Llama 请求使用的核采样参数，调用方无法覆盖。
const LlamaTopP = 0.9

type llamaAdapter struct{}

func (llamaAdapter) Kind() Kind { return KindLlama }

func (llamaAdapter) BuildPayload(prompt string, temperature float64, maxTokens int) Payload {
	return Payload{
		"prompt":      LlamaSystemInstruction + "\n" + prompt,
		"max_gen_len": maxTokens,
		"temperature": temperature,
		"top_p":       LlamaTopP,
	}
}

func (llamaAdapter) ExtractAnswer(raw []byte) (Extraction, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return Extraction{}, err
	}
	value, ok := obj["generation"]
	if !ok {
		return Extraction{}, malformed("response has no generation field")
	}
	text, ok := value.(string)
	if !ok {
		return Extraction{}, malformed("generation is a JSON " + jsonKind(value) + ", expected a string")
	}
	return Extraction{Answer: text, Outcome: OutcomeExact}, nil
}
