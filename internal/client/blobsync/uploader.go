// Package blobsync uploads photo blobs captured offline. Blobs ride outside
// the event queue: the entity row only carries the blob id, the bytes go to
// object storage through a presigned URL.
package blobsync

import (
	"context"
	"database/sql"

	"github.com/ivolkov/shelfsync/internal/client/remote"
	"github.com/ivolkov/shelfsync/internal/client/repositories/blobs"
	"github.com/ivolkov/shelfsync/internal/logging"
	"github.com/ivolkov/shelfsync/internal/netx"
)

// Uploader drains the pending blob table.
type Uploader struct {
	db     *sql.DB
	remote remote.Store
	logger logging.Logger
}

// NewUploader returns an Uploader over the given database and remote.
func NewUploader(db *sql.DB, rs remote.Store, logger logging.Logger) *Uploader {
	return &Uploader{db: db, remote: rs, logger: logger}
}

// UploadPending pushes every not-yet-uploaded blob, oldest first. One failed
// blob does not stop the rest; the first error is reported after the pass.
func (u *Uploader) UploadPending(ctx context.Context) (int, error) {
	repo := blobs.NewSQLiteRepository(u.db)
	pending, err := repo.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	var uploaded int
	var firstErr error
	for _, b := range pending {
		key, url, err := u.remote.PresignBlobPut(ctx, b.ID, b.MIME)
		if err == nil {
			err = netx.UploadToPresignedURL(ctx, url, b.Data, b.MIME)
		}
		if err == nil {
			err = repo.MarkUploaded(ctx, b.ID, key)
		}
		if err != nil {
			u.logger.Error(ctx, "blob upload failed", "blobId", b.ID, "error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		uploaded++
		u.logger.Info(ctx, "blob uploaded", "blobId", b.ID, "key", key, "bytes", len(b.Data))
	}
	return uploaded, firstErr
}
