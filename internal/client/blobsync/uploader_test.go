package blobsync

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivolkov/shelfsync/internal/client/models"
	"github.com/ivolkov/shelfsync/internal/client/repositories/blobs"
	"github.com/ivolkov/shelfsync/internal/client/store"
	"github.com/ivolkov/shelfsync/internal/logging"
)

// presignStub only implements the presign call; the uploader never touches
// the entity endpoints.
type presignStub struct {
	url string
}

func (s *presignStub) List(ctx context.Context, t models.EntityType, since time.Time) ([]models.Entity, error) {
	panic("not used")
}
func (s *presignStub) Create(ctx context.Context, e models.Entity) (string, error) {
	panic("not used")
}
func (s *presignStub) Update(ctx context.Context, e models.Entity) error { panic("not used") }
func (s *presignStub) SoftDelete(ctx context.Context, t models.EntityType, id string) error {
	panic("not used")
}
func (s *presignStub) PresignBlobPut(ctx context.Context, blobID, mime string) (string, string, error) {
	return "blobs/" + blobID, s.url, nil
}

func TestUploadPending(t *testing.T) {
	ctx := context.Background()
	db, err := store.InitDatabase(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var received []byte
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		contentType = r.Header.Get("Content-Type")
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	repo := blobs.NewSQLiteRepository(db)
	blob := &models.ImageBlob{
		ID:        "blob-1",
		EntityID:  "srv-1",
		MIME:      "image/jpeg",
		Data:      []byte("jpeg bytes"),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Insert(ctx, blob))

	uploader := NewUploader(db, &presignStub{url: srv.URL}, logging.NewDiscardLogger())
	n, err := uploader.UploadPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte("jpeg bytes"), received)
	assert.Equal(t, "image/jpeg", contentType)

	stored, err := repo.Get(ctx, "blob-1")
	require.NoError(t, err)
	assert.True(t, stored.Uploaded)
	assert.Equal(t, "blobs/blob-1", stored.RemoteKey)
	assert.Empty(t, stored.Data)

	// Nothing left to do.
	n, err = uploader.UploadPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
