package llm

import "strings"

// Kind 标识处理某个模型标识的后端适配器。
type Kind int

const (
	// KindClaude 是默认分支：Anthropic messages 结构，未识别的模型标识同样落到这里。
	KindClaude Kind = iota
	KindMistral
	KindLlama
)

func (k Kind) String() string {
	switch k {
	case KindMistral:
		return "mistral"
	case KindLlama:
		return "llama"
	default:
		return "claude"
	}
}

const (
	// MistralModelID 是路由到 Mistral 适配器的模型标识。
	MistralModelID = "mistral.mistral-7b-instruct-v0:2"
	// LlamaModelID 是路由到 Llama 适配器的模型标识。
	LlamaModelID = "us.meta.llama3-1-8b-instruct-v1:0"
)

// DefaultAlternateSchemaModels 列出走 Claude 分支但使用扁平 prompt 结构的模型。
var DefaultAlternateSchemaModels = []string{
	"us.amazon.nova-lite-v1:0",
	"us.amazon.nova-pro-v1:0",
}

// claudeFamilyMarkers 用于判断默认分支上的标识是否确实属于 Anthropic 系列。
var claudeFamilyMarkers = []string{"anthropic.claude"}

// Decision 是一次路由的结果。
type Decision struct {
	Kind Kind
	// Defaulted 为 true 表示模型标识未被识别，只是按默认分支交给 Claude 适配器。
	Defaulted bool
}

// Router 把模型标识映射到适配器。构造后只读，可以在并发调用间共享。
type Router struct {
	alternate map[string]struct{}
}

// NewRouter 创建路由器，alternate 为空时使用 DefaultAlternateSchemaModels。
func NewRouter(alternate ...string) *Router {
	if len(alternate) == 0 {
		alternate = DefaultAlternateSchemaModels
	}
	set := make(map[string]struct{}, len(alternate))
	for _, id := range alternate {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return &Router{alternate: set}
}

// Select 根据模型标识选择适配器。路由器从不拒绝标识。
func (r *Router) Select(modelID string) Decision {
	switch modelID {
	case MistralModelID:
		return Decision{Kind: KindMistral}
	case LlamaModelID:
		return Decision{Kind: KindLlama}
	default:
		return Decision{Kind: KindClaude, Defaulted: !r.knownClaudeFamily(modelID)}
	}
}

// Adapter 返回处理该模型标识的适配器实例。
func (r *Router) Adapter(modelID string) (Adapter, Decision) {
	decision := r.Select(modelID)
	switch decision.Kind {
	case KindMistral:
		return mistralAdapter{}, decision
	case KindLlama:
		return llamaAdapter{}, decision
	default:
		return newClaudeAdapter(r.schemaFor(modelID)), decision
	}
}

func (r *Router) schemaFor(modelID string) claudeSchema {
	if _, ok := r.alternate[modelID]; ok {
		return schemaNova
	}
	return schemaAnthropic
}

func (r *Router) knownClaudeFamily(modelID string) bool {
	if _, ok := r.alternate[modelID]; ok {
		return true
	}
	for _, marker := range claudeFamilyMarkers {
		if strings.Contains(modelID, marker) {
			return true
		}
	}
	return false
}
