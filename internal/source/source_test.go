package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string]string
	calls   []string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	k := *in.Bucket + "/" + *in.Key
	f.calls = append(f.calls, k)
	body, ok := f.objects[k]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestParseS3URI(t *testing.T) {
	bucket, key, ok, err := ParseS3URI("s3://who-data/gho/BEFA58B_ALL_LATEST.csv")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "who-data", bucket)
	assert.Equal(t, "gho/BEFA58B_ALL_LATEST.csv", key)

	_, _, ok, err = ParseS3URI("data/world.geojson")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, ok, err = ParseS3URI("s3://bucket-only")
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestOpenLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"FeatureCollection","features":[]}`), 0o644))

	o := NewOpener(S3Options{})
	for _, uri := range []string{path, "file://" + path} {
		rc, err := o.Open(context.Background(), uri)
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Contains(t, string(b), "FeatureCollection")
	}

	_, err := o.Open(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOpenS3Object(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{"who/data.csv": "GEO_NAME_SHORT\n"}}
	o := &Opener{client: fake}

	rc, err := o.Open(context.Background(), "s3://who/data.csv")
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "GEO_NAME_SHORT\n", string(b))

	_, err = o.Open(context.Background(), "s3://who/other.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://who/other.csv")
	assert.Equal(t, []string{"who/data.csv", "who/other.csv"}, fake.calls)
}
