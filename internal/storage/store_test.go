package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreSaveSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "static/snapshots/")
	require.NoError(t, err)

	rel, err := s.SaveSnapshot(context.Background(), "cam1_20240101_120000_000.jpg", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "static/snapshots/cam1_20240101_120000_000.jpg", rel)

	data, err := os.ReadFile(filepath.Join(dir, "cam1_20240101_120000_000.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)
}

func TestLocalStoreKeepsKeysInsideDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "")
	require.NoError(t, err)

	rel, err := s.SaveSnapshot(context.Background(), "../../escape.jpg", []byte("x"), "")
	require.NoError(t, err)
	assert.Equal(t, "escape.jpg", rel)
	assert.FileExists(t, filepath.Join(dir, "escape.jpg"))
}

func TestLocalStoreCancelledContext(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "static")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.SaveSnapshot(ctx, "a.jpg", []byte("x"), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMinioObjectURL(t *testing.T) {
	s, err := newMinioStore(MinioConfig{
		Endpoint:  "minio.local:9000",
		AccessKey: "ak",
		SecretKey: "sk",
		Bucket:    "ppe-snapshots",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://minio.local:9000/ppe-snapshots/cam1_x.jpg", s.objectURL("cam1_x.jpg"))

	s, err = newMinioStore(MinioConfig{
		Endpoint:      "minio.local:9000",
		AccessKey:     "ak",
		SecretKey:     "sk",
		Bucket:        "ppe-snapshots",
		PublicBaseURL: "https://cdn.example.com/snaps/",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/snaps/cam1_x.jpg", s.objectURL("cam1_x.jpg"))
}

func TestMinioRequiresCredentials(t *testing.T) {
	_, err := newMinioStore(MinioConfig{Endpoint: "minio.local:9000", Bucket: "b"})
	assert.Error(t, err)
}
