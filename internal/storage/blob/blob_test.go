package blob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	if params.Body != nil {
		f.body, _ = io.ReadAll(params.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3StorePut(t *testing.T) {
	fake := &fakePutter{}
	store := &S3Store{bucket: "contracts", api: fake}

	err := store.Put(context.Background(), Object{
		Key:         "uploaded_documents/x.pdf",
		Body:        []byte("%PDF"),
		ContentType: "application/pdf",
		Metadata:    map[string]string{"uploaded-by": "legal-chatbot"},
	})
	require.NoError(t, err)

	require.NotNil(t, fake.input)
	assert.Equal(t, "contracts", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "uploaded_documents/x.pdf", aws.ToString(fake.input.Key))
	assert.Equal(t, "application/pdf", aws.ToString(fake.input.ContentType))
	assert.Equal(t, "legal-chatbot", fake.input.Metadata["uploaded-by"])
	assert.Equal(t, "%PDF", string(fake.body))
	assert.Equal(t, "contracts", store.Location())
}

func TestS3StorePutError(t *testing.T) {
	store := &S3Store{bucket: "b", api: &fakePutter{err: errors.New("AccessDenied")}}
	err := store.Put(context.Background(), Object{Key: "k", Body: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{Bucket: "  "})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFileStorePut(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	require.NoError(t, err)

	err = store.Put(context.Background(), Object{
		Key:         "uploaded_documents/20240101_000000_abcd1234.pdf",
		Body:        []byte("data"),
		ContentType: "application/pdf",
		Metadata:    map[string]string{"uploaded-by": "legal-chatbot"},
	})
	require.NoError(t, err)

	path := filepath.Join(root, "uploaded_documents", "20240101_000000_abcd1234.pdf")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	metaRaw, err := os.ReadFile(path + ".meta.json")
	require.NoError(t, err)
	var meta struct {
		ContentType string            `json:"content_type"`
		Metadata    map[string]string `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(metaRaw, &meta))
	assert.Equal(t, "application/pdf", meta.ContentType)
	assert.Equal(t, "legal-chatbot", meta.Metadata["uploaded-by"])
}

func TestFileStoreConfinesKeysToRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), Object{Key: "../../escape.txt", Body: []byte("x")}))
	_, err = os.Stat(filepath.Join(root, "escape.txt"))
	assert.NoError(t, err)

	assert.Error(t, store.Put(context.Background(), Object{Key: "/", Body: []byte("x")}))
}
