package upload

import xerrors "ContractReview/internal/errors"

const (
	CodeNotConfigured xerrors.Code = "UPLOAD_NOT_CONFIGURED"
	CodeEmptyBody     xerrors.Code = "UPLOAD_EMPTY_BODY"
	CodeFailed        xerrors.Code = "UPLOAD_FAILED"
)

func init() {
	xerrors.Register(CodeNotConfigured, xerrors.Attributes{
		Message:  "S3_BUCKET_NAME environment variable not configured",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeEmptyBody, xerrors.Attributes{
		Message:  "No file data received",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeFailed, xerrors.Attributes{
		Message:   "Upload failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}
