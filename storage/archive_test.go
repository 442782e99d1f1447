package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finpulse/types"
)

type fakeObjects struct {
	objects map[string][]byte
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeObjects) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestArchivePutLoad(t *testing.T) {
	ctx := context.Background()
	objs := &fakeObjects{objects: map[string][]byte{}}
	arc := newArchive(objs, "bucket", "news")

	a := &types.Article{
		ID:          "abc",
		Title:       "Fed holds",
		CollectedAt: time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
		Embedding:   []float32{1, 2},
	}
	require.NoError(t, arc.Put(ctx, a))

	key := arc.Key(a)
	assert.Equal(t, "news/articles/2025/03/04/abc.json", key)
	assert.NotContains(t, string(objs.objects[key]), "embedding")

	ok, err := arc.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := arc.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Fed holds", got.Title)

	ok, err = arc.Exists(ctx, "news/articles/missing.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExistsFromErrPropagates(t *testing.T) {
	boom := errors.New("boom")
	ok, err := existsFromErr(boom)
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}
