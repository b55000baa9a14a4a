package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	xerrors "ContractReview/internal/errors"
	"ContractReview/internal/upload"
)

type uploadResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Key         string `json:"s3_key,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.uploads == nil {
		writeJSON(w, http.StatusInternalServerError, uploadResponse{
			Error: xerrors.AttributesOf(upload.CodeNotConfigured).Message,
		})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, uploadResponse{Error: "Upload failed: request body too large"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, uploadResponse{Error: "Upload failed: " + err.Error()})
		return
	}

	result, err := s.uploads.Upload(r.Context(), upload.Request{
		Body:     body,
		Filename: upload.FilenameFromDisposition(r.Header.Get("Content-Disposition")),
		Base64:   isBase64Encoded(r.Header),
	})
	if err != nil {
		switch xerrors.CodeOf(err) {
		case upload.CodeEmptyBody:
			writeError(w, http.StatusBadRequest, xerrors.SummaryOf(err))
		default:
			writeJSON(w, http.StatusInternalServerError, uploadResponse{Error: xerrors.SummaryOf(err)})
		}
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success:     true,
		Message:     "File uploaded successfully",
		Filename:    result.Filename,
		Key:         result.Key,
		ContentType: result.ContentType,
	})
}

func isBase64Encoded(h http.Header) bool {
	if strings.EqualFold(strings.TrimSpace(h.Get("X-Is-Base64-Encoded")), "true") {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(h.Get("Content-Transfer-Encoding")), "base64")
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.uploads == nil {
		writeError(w, http.StatusServiceUnavailable, "document registry is not configured")
		return
	}
	records, err := s.uploads.List(r.Context(), parseLimit(r, 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, xerrors.SummaryOf(err))
		return
	}
	writeJSON(w, http.StatusOK, records)
}
