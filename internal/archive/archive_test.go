package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfoia/case-engine/internal/config"
)

type fakeS3 struct {
	puts []*s3.PutObjectInput
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestArchivePlain(t *testing.T) {
	fake := &fakeS3{}
	a := &S3Archiver{client: fake, bucket: "records", prefix: "webhooks"}

	payload := []byte(`{"from":"records@springfield.gov"}`)
	require.NoError(t, a.Archive(context.Background(), "inbound/42/11.json", payload))

	require.Len(t, fake.puts, 1)
	put := fake.puts[0]
	assert.Equal(t, "records", *put.Bucket)
	assert.Equal(t, "webhooks/inbound/42/11.json", *put.Key)
	assert.Nil(t, put.ContentEncoding)

	body, err := io.ReadAll(put.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, body)
}

func TestArchiveCompressed(t *testing.T) {
	fake := &fakeS3{}
	a := &S3Archiver{client: fake, bucket: "records", compress: true}

	payload := bytes.Repeat([]byte(`{"subject":"BWC footage"}`), 50)
	require.NoError(t, a.Archive(context.Background(), "inbound/42/11.json", payload))

	require.Len(t, fake.puts, 1)
	put := fake.puts[0]
	assert.Equal(t, "inbound/42/11.json", *put.Key)
	require.NotNil(t, put.ContentEncoding)
	assert.Equal(t, "gzip", *put.ContentEncoding)

	gz, err := gzip.NewReader(put.Body)
	require.NoError(t, err)
	decoded, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestNewS3ArchiverDisabled(t *testing.T) {
	a, err := NewS3Archiver(context.Background(), config.ArchiveConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, a)
}
