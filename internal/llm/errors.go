package llm

import (
	xerrors "ContractReview/internal/errors"
)

const (
	CodeInvalidRequest    xerrors.Code = "INVALID_GENERATION_REQUEST"
	CodeBackendInvocation xerrors.Code = "BACKEND_INVOCATION_FAILURE"
	CodeMalformedResponse xerrors.Code = "MALFORMED_BACKEND_RESPONSE"
	CodeEmptyResultSet    xerrors.Code = "EMPTY_RESULT_SET"
)

func init() {
	xerrors.Register(CodeInvalidRequest, xerrors.Attributes{
		Message:  "invalid generation request",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeBackendInvocation, xerrors.Attributes{
		Message:   "model invocation failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeMalformedResponse, xerrors.Attributes{
		Message:  "malformed model response",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeEmptyResultSet, xerrors.Attributes{
		Message:  "model returned no outputs",
		Severity: xerrors.SeverityWarning,
	})
}

func malformed(message string) *xerrors.Error {
	return xerrors.New(CodeMalformedResponse, message)
}

func emptyResultSet() *xerrors.Error {
	return xerrors.New(CodeEmptyResultSet, "response outputs list is empty")
}
