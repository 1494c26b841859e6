package router_test

import (
	"fmt"
	"sort"
	"testing"

	"github.com/beansdb/beansdb/pkg/bhash"
	"github.com/beansdb/beansdb/pkg/replica"
	"github.com/beansdb/beansdb/pkg/router"
	"github.com/stretchr/testify/require"
)

func fakeFactory(created map[string]*replica.Fake) router.ClientFactory {
	return func(endpoint string) (replica.Client, error) {
		f := replica.NewFake(endpoint)
		created[endpoint] = f

		return f, nil
	}
}

func TestNew_BucketForIsAlwaysInRange(t *testing.T) {
	t.Parallel()

	created := map[string]*replica.Fake{}
	servers := router.ServerMap{
		"a:1": {0, 1, 2, 3},
		"b:2": {4, 5, 6, 7},
		"c:3": {8, 9, 10, 11, 12, 13, 14, 15},
	}

	r, err := router.New(servers, router.Options{}, fakeFactory(created))
	require.NoError(t, err)

	for i := 0; i < 10000; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		bucket := r.BucketFor(key)
		require.GreaterOrEqual(t, bucket, 0)
		require.Less(t, bucket, r.BucketsCount())
	}
}

func TestNew_BucketReplicaListsAreSortedByEndpointHash(t *testing.T) {
	t.Parallel()

	created := map[string]*replica.Fake{}
	servers := router.ServerMap{
		"replica-a": {0},
		"replica-b": {0},
		"replica-c": {0},
	}

	r, err := router.New(servers, router.Options{BucketsCount: 1}, fakeFactory(created))
	require.NoError(t, err)

	reps, err := r.ReplicasForBucket(0)
	require.NoError(t, err)
	require.Len(t, reps, 3)

	hashes := make([]uint32, len(reps))
	for i, rep := range reps {
		hashes[i] = bhash.FNV1a32([]byte(rep.Endpoint()))
	}

	require.True(t, sort.SliceIsSorted(hashes, func(i, j int) bool { return hashes[i] < hashes[j] }))
}

func TestNew_DefaultSortsAllBucketsIncludingLast(t *testing.T) {
	t.Parallel()

	created := map[string]*replica.Fake{}
	servers := router.ServerMap{
		"z-replica": {0},
		"a-replica": {0},
	}

	r, err := router.New(servers, router.Options{BucketsCount: 1}, fakeFactory(created))
	require.NoError(t, err)

	reps, err := r.ReplicasForBucket(0)
	require.NoError(t, err)
	require.Len(t, reps, 2)

	h0 := bhash.FNV1a32([]byte(reps[0].Endpoint()))
	h1 := bhash.FNV1a32([]byte(reps[1].Endpoint()))
	require.LessOrEqual(t, h0, h1, "last bucket must be sorted by default (off-by-one fixed)")
}

func TestNew_BugCompatibleMode_LeavesLastBucketUnsorted(t *testing.T) {
	t.Parallel()

	// Router registers endpoints in sorted-string order; find a set whose
	// alphabetical order differs from their hash order, so an unsorted
	// bucket is observably different from a sorted one.
	endpoints := []string{"end-1", "end-2", "end-3", "end-4", "end-5"}

	alphabetical := append([]string(nil), endpoints...)
	sort.Strings(alphabetical)

	byHash := append([]string(nil), endpoints...)
	sort.Slice(byHash, func(i, j int) bool {
		return bhash.FNV1a32([]byte(byHash[i])) < bhash.FNV1a32([]byte(byHash[j]))
	})

	require.NotEqual(t, alphabetical, byHash, "need a fixture where string order != hash order")

	servers := router.ServerMap{}
	for _, e := range endpoints {
		servers[e] = []int{0}
	}

	created := map[string]*replica.Fake{}

	// With BucketsCount=1, bucket 0 is also the last bucket, so it is
	// skipped by the bug-compatible sort and keeps registration order
	// (alphabetical by endpoint, since New() iterates sorted map keys).
	r, err := router.New(servers, router.Options{BucketsCount: 1, BugCompatibleBucketSort: true}, fakeFactory(created))
	require.NoError(t, err)

	reps, err := r.ReplicasForBucket(0)
	require.NoError(t, err)

	gotOrder := make([]string, len(reps))
	for i, rep := range reps {
		gotOrder[i] = rep.Endpoint()
	}

	require.Equal(t, alphabetical, gotOrder)

	// The default (non-bug-compatible) mode sorts by hash instead.
	r2, err := router.New(servers, router.Options{BucketsCount: 1}, fakeFactory(map[string]*replica.Fake{}))
	require.NoError(t, err)

	reps2, err := r2.ReplicasForBucket(0)
	require.NoError(t, err)

	gotOrder2 := make([]string, len(reps2))
	for i, rep := range reps2 {
		gotOrder2[i] = rep.Endpoint()
	}

	require.Equal(t, byHash, gotOrder2)
}

func TestNew_RejectsBucketsCountNotDividingHashSpace(t *testing.T) {
	t.Parallel()

	created := map[string]*replica.Fake{}

	_, err := router.New(router.ServerMap{"a:1": {0}}, router.Options{BucketsCount: 3}, fakeFactory(created))
	require.Error(t, err)
}

func TestClose_ClosesEveryReplica(t *testing.T) {
	t.Parallel()

	closed := map[string]bool{}
	factory := func(endpoint string) (replica.Client, error) {
		return &closeTrackingFake{Fake: replica.NewFake(endpoint), closed: closed}, nil
	}

	r, err := router.New(router.ServerMap{"a:1": {0}, "b:2": {1}}, router.Options{BucketsCount: 16}, factory)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.True(t, closed["a:1"])
	require.True(t, closed["b:2"])
}

type closeTrackingFake struct {
	*replica.Fake
	closed map[string]bool
}

func (f *closeTrackingFake) Close() error {
	f.closed[f.Endpoint()] = true

	return nil
}
