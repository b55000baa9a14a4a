package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ContractReview/internal/errors"
	"ContractReview/internal/storage/blob"
	"ContractReview/internal/storage/mysql"
)

type memoryStore struct {
	objects []blob.Object
	err     error
}

func (m *memoryStore) Put(_ context.Context, obj blob.Object) error {
	if m.err != nil {
		return m.err
	}
	m.objects = append(m.objects, obj)
	return nil
}

func (m *memoryStore) Location() string { return "test-bucket" }

type memoryRegistry struct {
	records []mysql.DocumentRecord
	err     error
}

func (m *memoryRegistry) Save(_ context.Context, rec mysql.DocumentRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryRegistry) ListLatest(_ context.Context, limit int) ([]mysql.DocumentRecord, error) {
	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	return m.records[:limit], nil
}

type countingObserver struct {
	outcomes []string
}

func (c *countingObserver) ObserveUpload(outcome string, _ int) {
	c.outcomes = append(c.outcomes, outcome)
}

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestService(store blob.Store, opts ...Option) *Service {
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithRandom(func() string { return "deadbeef-0000" }),
	}
	return NewService(store, append(base, opts...)...)
}

func TestUploadWithoutFilename(t *testing.T) {
	store := &memoryStore{}
	registry := &memoryRegistry{}
	observer := &countingObserver{}
	svc := newTestService(store, WithRegistry(registry), WithObserver(observer))

	result, err := svc.Upload(context.Background(), Request{Body: []byte("%PDF-1.4")})
	require.NoError(t, err)

	assert.Equal(t, "uploaded_documents/20240102_030405_deadbeef.pdf", result.Key)
	assert.Equal(t, result.Key, result.Filename)
	assert.Equal(t, ContentTypePDF, result.ContentType)

	require.Len(t, store.objects, 1)
	obj := store.objects[0]
	assert.Equal(t, result.Key, obj.Key)
	assert.Equal(t, "%PDF-1.4", string(obj.Body))
	assert.Equal(t, "legal-chatbot", obj.Metadata["uploaded-by"])
	assert.Equal(t, "2024-01-02T03:04:05Z", obj.Metadata["upload-timestamp"])

	require.Len(t, registry.records, 1)
	assert.Equal(t, int64(8), registry.records[0].Size)
	assert.Equal(t, fixedNow.Unix(), registry.records[0].UploadedAt)
	assert.Equal(t, []string{"success"}, observer.outcomes)
}

func TestUploadWithFilenameAndBase64(t *testing.T) {
	store := &memoryStore{}
	svc := newTestService(store)

	encoded := base64.StdEncoding.EncodeToString([]byte("plain text body"))
	result, err := svc.Upload(context.Background(), Request{
		Body:     []byte(encoded),
		Filename: "terms of service.txt",
		Base64:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, "uploaded_documents/20240102_030405_deadbeef_terms_of_service.txt", result.Key)
	assert.Equal(t, ContentTypeText, result.ContentType)
	assert.Equal(t, "plain text body", string(store.objects[0].Body))
}

func TestUploadRejectsBadBase64(t *testing.T) {
	store := &memoryStore{}
	svc := newTestService(store)

	_, err := svc.Upload(context.Background(), Request{Body: []byte("***"), Base64: true})
	require.Error(t, err)
	assert.Equal(t, CodeFailed, xerrors.CodeOf(err))
	assert.True(t, strings.HasPrefix(xerrors.SummaryOf(err), "Upload failed: "))
	assert.Empty(t, store.objects)
}

func TestUploadNotConfigured(t *testing.T) {
	observer := &countingObserver{}
	svc := NewService(nil, WithObserver(observer))

	_, err := svc.Upload(context.Background(), Request{Body: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, CodeNotConfigured, xerrors.CodeOf(err))
	assert.Equal(t, "S3_BUCKET_NAME environment variable not configured", xerrors.SummaryOf(err))
	assert.Equal(t, []string{"upload_not_configured"}, observer.outcomes)
}

func TestUploadEmptyBody(t *testing.T) {
	svc := newTestService(&memoryStore{})

	_, err := svc.Upload(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, CodeEmptyBody, xerrors.CodeOf(err))
	assert.Equal(t, "No file data received", xerrors.SummaryOf(err))
}

func TestUploadStoreFailure(t *testing.T) {
	registry := &memoryRegistry{}
	svc := newTestService(&memoryStore{err: errors.New("AccessDenied")}, WithRegistry(registry))

	_, err := svc.Upload(context.Background(), Request{Body: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, CodeFailed, xerrors.CodeOf(err))
	assert.Equal(t, "Upload failed: AccessDenied", xerrors.SummaryOf(err))
	assert.Empty(t, registry.records, "failed uploads must not be registered")
}

func TestUploadRegistryFailureStillSucceeds(t *testing.T) {
	store := &memoryStore{}
	svc := newTestService(store, WithRegistry(&memoryRegistry{err: errors.New("disk full")}))

	result, err := svc.Upload(context.Background(), Request{Body: []byte("x")})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Key)
	assert.Len(t, store.objects, 1)
}

func TestListWithoutRegistry(t *testing.T) {
	records, err := newTestService(&memoryStore{}).List(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}
