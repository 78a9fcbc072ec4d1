package blobstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sc "github.com/ivolkov/shelfsync/internal/server/config"
)

func testConfig() *sc.Config {
	cfg := &sc.Config{}
	cfg.LoadDefaults()
	return cfg
}

func TestStorageKeyIsScopedToBlob(t *testing.T) {
	key := StorageKey("blob-1")
	assert.True(t, strings.HasPrefix(key, "photos/"))
	assert.True(t, strings.HasSuffix(key, "/blob-1"))
}

func TestPresignPut(t *testing.T) {
	origPut := presignPutObject
	defer func() { presignPutObject = origPut }()

	var gotInput *s3.PutObjectInput
	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		gotInput = in
		return &v4.PresignedHTTPRequest{URL: "http://minio.local/put"}, nil
	}

	svc := NewService(testConfig())
	key, url, err := svc.PresignPut(context.Background(), "blob-1", "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "http://minio.local/put", url)
	assert.True(t, strings.HasSuffix(key, "/blob-1"))

	require.NotNil(t, gotInput)
	assert.Equal(t, "photos", *gotInput.Bucket)
	assert.Equal(t, key, *gotInput.Key)
	assert.Equal(t, "image/jpeg", *gotInput.ContentType)
}

func TestPresignPutError(t *testing.T) {
	origPut := presignPutObject
	defer func() { presignPutObject = origPut }()

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return nil, errors.New("presign failed")
	}

	svc := NewService(testConfig())
	_, _, err := svc.PresignPut(context.Background(), "blob-1", "image/jpeg")
	assert.Error(t, err)
}

func TestPresignGet(t *testing.T) {
	origGet := presignGetObject
	defer func() { presignGetObject = origGet }()

	var gotKey string
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		gotKey = *in.Key
		return &v4.PresignedHTTPRequest{URL: "http://minio.local/get"}, nil
	}

	svc := NewService(testConfig())
	url, err := svc.PresignGet(context.Background(), "photos/2026/3/blob-1")
	require.NoError(t, err)
	assert.Equal(t, "http://minio.local/get", url)
	assert.Equal(t, "photos/2026/3/blob-1", gotKey)
}
