// Package router implements the consistent-hash sharding layer: mapping a
// key to a bucket, and a bucket to its ordered list of replicas.
package router

import (
	"fmt"
	"sort"

	"github.com/beansdb/beansdb/pkg/bhash"
	"github.com/beansdb/beansdb/pkg/replica"
)

// DefaultBucketsCount is the default number of buckets partitioning the
// 32-bit hash space.
const DefaultBucketsCount = 16

// hashSpace is 2^32, the full range of the FNV-1a hash.
const hashSpace = uint64(1) << 32

// ClientFactory dials a replica endpoint, returning a live client. Dial
// failures are non-fatal to router construction: the
// descriptor is registered anyway and later calls simply fail.
type ClientFactory func(endpoint string) (replica.Client, error)

// ServerMap assigns each endpoint the bucket ids it owns.
type ServerMap map[string][]int

// Options configures [New].
type Options struct {
	// BucketsCount is the number of buckets partitioning the hash space.
	// Must evenly divide 2^32. Default: DefaultBucketsCount.
	BucketsCount int

	// BugCompatibleBucketSort reproduces the original implementation's
	// off-by-one: bucket BucketsCount-1 is left unsorted. Default: false
	// (all buckets sorted uniformly).
	BugCompatibleBucketSort bool
}

// Router maps keys to ordered replica lists. It is stateless after
// construction: lookups ([Router.BucketFor], [Router.Replicas]) perform no
// I/O and hold no locks.
//
// Router exclusively owns every [replica.Client] it constructs; bucket
// slices hold back-references into that ownership, never their own copy.
type Router struct {
	bucketsCount int
	bucketSize   uint64
	buckets      [][]replica.Client
	replicas     map[string]replica.Client // endpoint -> owned client
}

// New builds a Router from servers (endpoint -> bucket ids owned) using
// factory to dial each endpoint exactly once. Every bucket's replica list
// is sorted by FNV-1a of the endpoint string ascending,
// except the last bucket when opts.BugCompatibleBucketSort is set.
func New(servers ServerMap, opts Options, factory ClientFactory) (*Router, error) {
	bucketsCount := opts.BucketsCount
	if bucketsCount == 0 {
		bucketsCount = DefaultBucketsCount
	}

	if bucketsCount <= 0 || hashSpace%uint64(bucketsCount) != 0 {
		return nil, fmt.Errorf("router: buckets_count %d must evenly divide 2^32", bucketsCount)
	}

	r := &Router{
		bucketsCount: bucketsCount,
		bucketSize:   hashSpace / uint64(bucketsCount),
		buckets:      make([][]replica.Client, bucketsCount),
		replicas:     make(map[string]replica.Client, len(servers)),
	}

	// Stable iteration order so registration (and therefore insertion-order
	// tie-breaking before the sort) is deterministic across runs.
	endpoints := make([]string, 0, len(servers))
	for ep := range servers {
		endpoints = append(endpoints, ep)
	}

	sort.Strings(endpoints)

	for _, endpoint := range endpoints {
		client, err := factory(endpoint)
		if client == nil {
			return nil, fmt.Errorf("router: factory returned nil client for %q: %w", endpoint, err)
		}
		// A dial error is not fatal and the router does not report it (the
		// factory logs it if it wants it seen): the descriptor is still
		// registered and simply fails RPCs later.
		r.replicas[endpoint] = client

		for _, bucketID := range servers[endpoint] {
			if bucketID < 0 || bucketID >= bucketsCount {
				return nil, fmt.Errorf("router: endpoint %q lists out-of-range bucket %d", endpoint, bucketID)
			}

			r.buckets[bucketID] = append(r.buckets[bucketID], client)
		}
	}

	sortLimit := bucketsCount
	if opts.BugCompatibleBucketSort && bucketsCount > 0 {
		sortLimit = bucketsCount - 1
	}

	for i := 0; i < sortLimit; i++ {
		sortBucketByEndpointHash(r.buckets[i])
	}

	return r, nil
}

func sortBucketByEndpointHash(bucket []replica.Client) {
	sort.SliceStable(bucket, func(i, j int) bool {
		return bhash.FNV1a32([]byte(bucket[i].Endpoint())) < bhash.FNV1a32([]byte(bucket[j].Endpoint()))
	})
}

// BucketsCount returns the number of buckets.
func (r *Router) BucketsCount() int { return r.bucketsCount }

// BucketFor returns the bucket id a key maps to: floor(fnv1a(key) /
// bucket_size), always in [0, BucketsCount()).
func (r *Router) BucketFor(key []byte) int {
	h := uint64(bhash.FNV1a32(key))

	return int(h / r.bucketSize)
}

// Replicas returns the ordered replica list for key's bucket. The returned
// slice is owned by the router and must not be mutated.
func (r *Router) Replicas(key []byte) []replica.Client {
	return r.buckets[r.BucketFor(key)]
}

// ReplicasForBucket returns the ordered replica list for an explicit
// bucket id, used by CLI/debug tooling.
func (r *Router) ReplicasForBucket(bucketID int) ([]replica.Client, error) {
	if bucketID < 0 || bucketID >= r.bucketsCount {
		return nil, fmt.Errorf("router: bucket %d out of range [0, %d)", bucketID, r.bucketsCount)
	}

	return r.buckets[bucketID], nil
}

// Close closes every replica client the router owns and returns the first
// error encountered, if any. Safe to call once at teardown.
func (r *Router) Close() error {
	var firstErr error

	for _, c := range r.replicas {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
