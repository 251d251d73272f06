package export

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUploader struct {
	keys []string
	fail string
}

func (u *recordingUploader) Upload(_ context.Context, key, _ string) error {
	if key == u.fail {
		return errors.New("boom")
	}
	u.keys = append(u.keys, key)
	return nil
}

func TestUploadTreeUsesRelativeKeys(t *testing.T) {
	root := filepath.Join("out")
	u := &recordingUploader{}
	paths := []string{
		filepath.Join(root, "accelerometer", "P_left.csv"),
		filepath.Join(root, "accelerometer", "P_left_agreement.csv"),
	}
	require.NoError(t, UploadTree(context.Background(), u, root, paths))
	assert.Equal(t, []string{
		filepath.Join("accelerometer", "P_left.csv"),
		filepath.Join("accelerometer", "P_left_agreement.csv"),
	}, u.keys)
}

func TestUploadTreeStopsOnError(t *testing.T) {
	u := &recordingUploader{fail: "b.csv"}
	err := UploadTree(context.Background(), u, ".", []string{"a.csv", "b.csv", "c.csv"})
	require.Error(t, err)
	assert.Equal(t, []string{"a.csv"}, u.keys)
}

func TestBlobObjectKey(t *testing.T) {
	b := &BlobStore{Prefix: "runs/2021"}
	assert.Equal(t, "runs/2021/accelerometer/P_left.csv", b.objectKey("accelerometer/P_left.csv"))
	assert.Equal(t, "x.csv", (&BlobStore{}).objectKey("/x.csv"))
	assert.Equal(t, "text/csv", contentType("a.CSV"))
	assert.Equal(t, "application/octet-stream", contentType("a.bin"))
}

func TestUploadWithoutClient(t *testing.T) {
	var b *BlobStore
	assert.Error(t, b.Upload(context.Background(), "k", "p"))
}
