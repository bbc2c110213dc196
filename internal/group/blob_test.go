package group

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
)

func blobGroups(t *testing.T, bucket *blob.Bucket, runID string, size int) []Group {
	t.Helper()

	out := make([]Group, size)
	for rank := range out {
		g, err := NewBlob(bucket, runID, rank, size, BlobOptions{PollInterval: 5 * time.Millisecond})
		require.NoError(t, err)
		out[rank] = g
	}
	return out
}

func TestBlobAllreduceSum(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	members := blobGroups(t, bucket, "run-a", 3)
	results, errs := runMembers(t, members, func(g Group) ([]int64, error) {
		first, err := g.AllreduceSum(context.Background(), []int64{5, 0, 4, 1})
		if err != nil {
			return nil, err
		}
		if first[0] != 15 {
			return first, fmt.Errorf("first reduction: got %v", first)
		}
		return g.AllreduceSum(context.Background(), []int64{int64(g.Rank())})
	})

	for rank := range members {
		require.NoError(t, errs[rank])
		assert.Equal(t, []int64{3}, results[rank], "rank %d", rank)
	}
}

func TestBlobOnSharedDirectory(t *testing.T) {
	dir := t.TempDir()

	members := make([]Group, 2)
	for rank := range members {
		bucket, err := fileblob.OpenBucket(filepath.Clean(dir), nil)
		require.NoError(t, err)
		g, err := NewBlob(bucket, "run-dir", rank, 2, BlobOptions{PollInterval: 5 * time.Millisecond})
		require.NoError(t, err)
		t.Cleanup(func() { bucket.Close() })
		members[rank] = g
	}

	results, errs := runMembers(t, members, func(g Group) ([]int64, error) {
		return g.AllreduceSum(context.Background(), []int64{1, 2})
	})
	for rank := range members {
		require.NoError(t, errs[rank])
		assert.Equal(t, []int64{2, 4}, results[rank])
	}
}

func TestBlobAbort(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	members := blobGroups(t, bucket, "run-b", 3)
	_, errs := runMembers(t, members, func(g Group) ([]int64, error) {
		if g.Rank() == 0 {
			return nil, g.Abort(context.Background(), errors.New("more processes than tasks"))
		}
		return g.AllreduceSum(context.Background(), []int64{1})
	})

	require.NoError(t, errs[0])
	for _, rank := range []int{1, 2} {
		assert.ErrorIs(t, errs[rank], ErrAborted, "rank %d", rank)
		var abortErr *AbortError
		require.ErrorAs(t, errs[rank], &abortErr)
		assert.Equal(t, 0, abortErr.Rank)
		assert.Contains(t, abortErr.Reason, "more processes")
	}
}

func TestBlobRunsAreIsolated(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	aborted := blobGroups(t, bucket, "run-old", 1)
	require.NoError(t, aborted[0].Abort(context.Background(), errors.New("stale")))

	fresh := blobGroups(t, bucket, "run-new", 1)
	got, err := fresh[0].AllreduceSum(context.Background(), []int64{7})
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, got)
}

func TestBlobContextCancel(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	members := blobGroups(t, bucket, "run-c", 2)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := members[0].AllreduceSum(ctx, []int64{1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewBlobValidation(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	_, err := NewBlob(bucket, "", 0, 1, BlobOptions{})
	assert.Error(t, err)
	_, err = NewBlob(bucket, "r", 2, 2, BlobOptions{})
	assert.Error(t, err)
	_, err = NewBlob(bucket, "r", 0, 0, BlobOptions{})
	assert.Error(t, err)
}

func TestOpenBlobMemURL(t *testing.T) {
	g, err := OpenBlob(context.Background(), "mem://", "run-url", 0, 1, BlobOptions{})
	require.NoError(t, err)
	defer g.Close()

	got, err := g.AllreduceSum(context.Background(), []int64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1}, got)
}

func TestBlobRelaunchStartsNewEpoch(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	// First attempt: rank 1 aborts while rank 0 waits in a reduction.
	first := blobGroups(t, bucket, "run-r", 2)
	_, errs := runMembers(t, first, func(g Group) ([]int64, error) {
		if g.Rank() == 1 {
			return nil, g.Abort(context.Background(), errors.New("interrupted"))
		}
		return g.AllreduceSum(context.Background(), []int64{1})
	})
	require.NoError(t, errs[1])
	require.ErrorIs(t, errs[0], ErrAborted)

	// Second attempt with the same run id ignores the old abort marker.
	second := blobGroups(t, bucket, "run-r", 2)
	results, errs := runMembers(t, second, func(g Group) ([]int64, error) {
		return g.AllreduceSum(context.Background(), []int64{2})
	})
	for rank, g := range second {
		require.NoError(t, errs[rank], "rank %d", rank)
		assert.Equal(t, []int64{4}, results[rank])
		assert.Equal(t, 2, g.(*Blob).Epoch())
	}

	// Third attempt after a completed one must not reuse its contributions.
	third := blobGroups(t, bucket, "run-r", 2)
	results, errs = runMembers(t, third, func(g Group) ([]int64, error) {
		return g.AllreduceSum(context.Background(), []int64{10})
	})
	for rank, g := range third {
		require.NoError(t, errs[rank], "rank %d", rank)
		assert.Equal(t, []int64{20}, results[rank])
		assert.Equal(t, 3, g.(*Blob).Epoch())
	}
}
