package report

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/ignite/batch-mailer/internal/repository/memory"
	"github.com/ignite/batch-mailer/internal/service/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	puts    []*s3.PutObjectInput
	bodies  [][]byte
	putErr  error
	headErr error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, in)
	f.bodies = append(f.bodies, data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func seeded(t *testing.T) *batch.Service {
	t.Helper()
	repo := memory.NewBatchRepo()
	svc := batch.NewService(repo)
	_, err := svc.Create(context.Background(), batch.CreateInput{
		BatchID:     "b1",
		SenderName:  "Sahil",
		SenderEmail: "sahil@gmail.com",
		Recipients: []batch.RecipientInput{
			{Name: "Alex", Email: "alex@gmail.com", Designation: "PM", Company: "TechCorp"},
		},
	})
	require.NoError(t, err)
	return svc
}

func TestArchiveUploadsGzipJSON(t *testing.T) {
	fs := &fakeS3{}
	a := NewArchiver(fs, Config{Bucket: "reports-bucket", Prefix: "reports/"}, seeded(t))
	a.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	key, err := a.Archive(context.Background(), "b1", domain.Progress{Total: 1, Sent: 1})
	require.NoError(t, err)
	assert.Equal(t, "reports/b1/20260304T050607Z.json.gz", key)

	require.Len(t, fs.puts, 1)
	in := fs.puts[0]
	assert.Equal(t, "reports-bucket", aws.ToString(in.Bucket))
	assert.Equal(t, "gzip", aws.ToString(in.ContentEncoding))

	zr, err := gzip.NewReader(bytes.NewReader(fs.bodies[0]))
	require.NoError(t, err)
	var r Report
	require.NoError(t, json.NewDecoder(zr).Decode(&r))
	assert.Equal(t, "b1", r.Summary.BatchID)
	assert.Equal(t, 1, r.Summary.Total)
	assert.Equal(t, 1, r.Run.Sent)
	require.Len(t, r.Recipients, 1)
	assert.Equal(t, "alex@gmail.com", r.Recipients[0].Email)
}

func TestArchiveUnknownBatch(t *testing.T) {
	a := NewArchiver(&fakeS3{}, Config{Bucket: "b"}, seeded(t))
	_, err := a.Archive(context.Background(), "nope", domain.Progress{})
	assert.ErrorIs(t, err, batch.ErrNotFound)
}

func TestHookSwallowsErrors(t *testing.T) {
	fs := &fakeS3{putErr: errors.New("AccessDenied")}
	a := NewArchiver(fs, Config{Bucket: "b"}, seeded(t))
	a.Hook()(context.Background(), "b1", domain.Progress{Total: 1, Sent: 1})
	assert.Empty(t, fs.puts)
}

func TestPing(t *testing.T) {
	fs := &fakeS3{}
	a := NewArchiver(fs, Config{Bucket: "b"}, seeded(t))
	assert.NoError(t, a.Ping(context.Background()))
	fs.headErr = errors.New("NotFound")
	assert.Error(t, a.Ping(context.Background()))
}
