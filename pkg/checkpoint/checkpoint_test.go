package checkpoint_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/absmach/flcoord/pkg/checkpoint"
	"github.com/absmach/flcoord/pkg/fl"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func model(value float64) fl.ParameterSet {
	return fl.ParameterSet{Tensors: []fl.Tensor{
		{Name: "weights", Shape: []int{2, 2}, Values: []float64{value, value, value, value}},
		{Name: "bias", Shape: []int{}, Values: []float64{value}},
	}}
}

type backend struct {
	name string
	open func(t *testing.T) checkpoint.Store
}

func backends() []backend {
	return []backend{
		{
			name: "fs",
			open: func(t *testing.T) checkpoint.Store {
				s, err := checkpoint.NewFSStore(t.TempDir())
				require.NoError(t, err)

				return s
			},
		},
		{
			name: "badger",
			open: func(t *testing.T) checkpoint.Store {
				path := filepath.Join(os.TempDir(), fmt.Sprintf("flcoord-ckpt-%s", uuid.NewString()))
				s, err := checkpoint.NewBadgerStore(path)
				require.NoError(t, err)
				t.Cleanup(func() { os.RemoveAll(path) })

				return s
			},
		},
		{
			name: "s3",
			open: func(t *testing.T) checkpoint.Store {
				return checkpoint.NewS3StoreWithClient(newFakeS3(), "models", "hospital/")
			},
		},
	}
}

func TestStore(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			defer s.Close()

			_, err := s.LoadActive(ctx)
			assert.ErrorIs(t, err, checkpoint.ErrNoActiveModel)

			_, err = s.Load(ctx, 1)
			assert.ErrorIs(t, err, checkpoint.ErrNotFound)

			for r := uint64(1); r <= 3; r++ {
				require.NoError(t, s.Save(ctx, r, model(float64(r))))
			}

			active, err := s.LoadActive(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(3), active.Round)
			assert.True(t, model(3).Equal(active.Parameters))
			assert.False(t, active.CreatedAt.IsZero())

			first, err := s.Load(ctx, 1)
			require.NoError(t, err)
			assert.True(t, model(1).Equal(first.Parameters))

			infos, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, infos, 3)
			for i, info := range infos {
				assert.Equal(t, uint64(i+1), info.Round)
				assert.Equal(t, i == 2, info.Active)
				assert.Positive(t, info.Size)
			}

			assert.ErrorIs(t, s.Prune(ctx, 0), checkpoint.ErrInvalidKeep)
			require.NoError(t, s.Prune(ctx, 1))
			infos, err = s.List(ctx)
			require.NoError(t, err)
			require.Len(t, infos, 1)
			assert.Equal(t, uint64(3), infos[0].Round)

			active, err = s.LoadActive(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(3), active.Round)
		})
	}
}

func TestPruneKeepsActive(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			defer s.Close()

			// Saving an older round after a newer one moves the active
			// pointer back to it.
			require.NoError(t, s.Save(ctx, 5, model(5)))
			require.NoError(t, s.Save(ctx, 6, model(6)))
			require.NoError(t, s.Save(ctx, 1, model(1)))

			require.NoError(t, s.Prune(ctx, 1))
			infos, err := s.List(ctx)
			require.NoError(t, err)
			rounds := make([]uint64, len(infos))
			for i, info := range infos {
				rounds[i] = info.Round
			}
			assert.Equal(t, []uint64{1}, rounds)
		})
	}
}

func TestRevert(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			defer s.Close()

			require.NoError(t, s.Save(ctx, 1, model(1)))
			require.NoError(t, s.Save(ctx, 2, model(2)))

			require.NoError(t, s.Revert(ctx, 2))
			active, err := s.LoadActive(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), active.Round)
			assert.True(t, model(1).Equal(active.Parameters))
			_, err = s.Load(ctx, 2)
			assert.ErrorIs(t, err, checkpoint.ErrNotFound)

			require.NoError(t, s.Revert(ctx, 1))
			_, err = s.LoadActive(ctx)
			assert.ErrorIs(t, err, checkpoint.ErrNoActiveModel)
			infos, err := s.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, infos)
		})
	}
}

func TestFSStoreFailedSaveKeepsActive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := checkpoint.NewFSStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, 1, model(1)))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, s.Save(cctx, 2, model(2)))

	active, err := s.LoadActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), active.Round)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "temporary file left behind: %s", e.Name())
	}
}

func TestS3StoreFailedRoundWriteKeepsActive(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := checkpoint.NewS3StoreWithClient(fake, "models", "")
	require.NoError(t, s.Save(ctx, 1, model(1)))

	fake.failPut = func(key string) bool { return strings.Contains(key, "rounds/") }
	assert.Error(t, s.Save(ctx, 2, model(2)))

	active, err := s.LoadActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), active.Round)
}

func TestUnmarshalCorrupt(t *testing.T) {
	_, err := checkpoint.Unmarshal([]byte("not a checkpoint"))
	assert.ErrorIs(t, err, checkpoint.ErrCorrupt)
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut func(key string) bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(in.Key)
	if f.failPut != nil && f.failPut(key) {
		return nil, fmt.Errorf("put %s: service unavailable", key)
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = data

	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}

	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.objects, aws.ToString(in.Key))

	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	now := time.Now()
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(f.objects[k]))),
			LastModified: &now,
		})
	}

	return out, nil
}
