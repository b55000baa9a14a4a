package llm

import "context"

// Request 描述一次文本生成请求。
type Request struct {
	Prompt      string  `json:"query"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	ModelID     string  `json:"model_id"`
}

// Outcome 标识答案是如何从后端响应中得到的。
type Outcome int

const (
	// OutcomeExact 表示答案取自适配器预期的字段。
	OutcomeExact Outcome = iota
	// OutcomeBestEffort 表示响应结构不符合预期，答案是整个响应的字符串形式。
	OutcomeBestEffort
)

func (o Outcome) String() string {
	if o == OutcomeBestEffort {
		return "best_effort"
	}
	return "exact"
}

// Result 是网关对外返回的统一结果。
type Result struct {
	Answer  string  `json:"answer"`
	ModelID string  `json:"-"`
	Adapter Kind    `json:"-"`
	Outcome Outcome `json:"-"`
}

// Invoker 向模型服务发起一次按模型标识寻址的调用，返回原始响应体。
type Invoker interface {
	InvokeModel(ctx context.Context, modelID string, body []byte) ([]byte, error)
}

// InvokerFunc 允许普通函数充当 Invoker。
type InvokerFunc func(ctx context.Context, modelID string, body []byte) ([]byte, error)

// InvokeModel 实现 Invoker 接口。
func (f InvokerFunc) InvokeModel(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	return f(ctx, modelID, body)
}
