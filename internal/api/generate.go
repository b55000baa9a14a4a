package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	xerrors "ContractReview/internal/errors"
	"ContractReview/internal/llm"
)

// generateBody 使用指针字段区分"缺失"与"零值"。
type generateBody struct {
	Query       *string  `json:"query"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
	ModelID     *string  `json:"model_id"`
}

func decodeGenerateRequest(r io.Reader) (llm.Request, error) {
	var body generateBody
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return llm.Request{}, fmt.Errorf("request body is not valid JSON: %w", err)
	}
	var missing []string
	if body.Query == nil {
		missing = append(missing, "query")
	}
	if body.Temperature == nil {
		missing = append(missing, "temperature")
	}
	if body.MaxTokens == nil {
		missing = append(missing, "max_tokens")
	}
	if body.ModelID == nil {
		missing = append(missing, "model_id")
	}
	if len(missing) > 0 {
		return llm.Request{}, fmt.Errorf("missing required fields: %v", missing)
	}
	return llm.Request{
		Prompt:      *body.Query,
		Temperature: *body.Temperature,
		MaxTokens:   *body.MaxTokens,
		ModelID:     *body.ModelID,
	}, nil
}

// handleGenerate 同步调用模型。网关失败沿用 200 + {"error"} 的响应约定。
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.generator == nil {
		writeError(w, http.StatusServiceUnavailable, "model gateway is not configured")
		return
	}

	req, err := decodeGenerateRequest(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.generator.Invoke(r.Context(), req)
	if err != nil {
		if xerrors.CodeOf(err) == llm.CodeInvalidRequest {
			writeError(w, http.StatusBadRequest, xerrors.SummaryOf(err))
			return
		}
		s.logger.Warn("生成请求失败",
			slog.String("model_id", req.ModelID),
			slog.String("error_code", string(xerrors.CodeOf(err))),
		)
		writeError(w, http.StatusOK, xerrors.SummaryOf(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": result.Answer})
}
