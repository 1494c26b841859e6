// Package quorum implements the client's get/set quorum logic: issuing
// reads/writes across a bucket's replicas, applying W/R thresholds, and
// performing opportunistic read-repair.
package quorum

import (
	"bytes"

	"github.com/beansdb/beansdb/pkg/replica"
)

// Options configures an [Engine].
type Options struct {
	// W is the write quorum: the minimum number of successful per-replica
	// sets before Set reports success outright. Default: 1.
	W int

	// R is the read quorum. Advisory by default: a Get
	// still returns the first defined value it finds regardless of R.
	// Set HonorReadQuorum to require R replicas to confirm absence before
	// Get concludes a key is absent.
	R int

	// HonorReadQuorum gates "absent" results on R confirmations instead of
	// treating R as purely advisory.
	HonorReadQuorum bool
}

func (o Options) withDefaults() Options {
	if o.W <= 0 {
		o.W = 1
	}

	if o.R <= 0 {
		o.R = 1
	}

	return o
}

// Engine runs get/set across an explicit, ordered replica list (normally
// obtained from [github.com/beansdb/beansdb/pkg/router.Router.Replicas]).
// It holds no state of its own and no locks: concurrent callers may use
// the same Engine as long as the underlying replica clients are safe for
// concurrent use.
type Engine struct {
	opts Options
}

// New returns an Engine configured with opts.
func New(opts Options) *Engine {
	return &Engine{opts: opts.withDefaults()}
}

// Get issues a get across replicas in order. The first replica to return
// a defined value wins; every earlier replica in the list that returned
// absent is opportunistically repaired with a Set of the winning value
// (read-repair failures are ignored). R is advisory by default: Get tries
// every replica before concluding absence. With HonorReadQuorum set, Get
// instead gives up and reports absence as soon as R replicas have
// confirmed it, without trying the rest of the list.
//
// Returns (value, true, nil) on a hit, (nil, false, nil) on a miss.
// Individual replica RPC failures are never surfaced: they are treated as
// absent for this replica.
func (e *Engine) Get(replicas []replica.Client, key []byte) ([]byte, bool, error) {
	absentConfirmations := 0

	for i, r := range replicas {
		value, err := r.Get(key)
		if err != nil {
			// Network/protocol error or ErrNotFound: both are "absent" for
			// this replica.
			absentConfirmations++

			if e.opts.HonorReadQuorum && absentConfirmations >= e.opts.R {
				return nil, false, nil
			}

			continue
		}

		e.readRepair(replicas[:i], key, value)

		return value, true, nil
	}

	return nil, false, nil
}

// readRepair issues a best-effort Set of value to every replica in
// earlier. Failures are ignored: self-heal is opportunistic, never
// required for Get to succeed.
func (e *Engine) readRepair(earlier []replica.Client, key, value []byte) {
	for _, r := range earlier {
		_ = r.Set(key, value)
	}
}

// Set issues a set to every replica in the bucket, counting successes. If
// successes >= W, it returns success immediately. Otherwise it issues a Get
// through this same Engine (which may itself trigger further read-repair)
// and compares the result to value: if they match, Set still reports
// success (a read-your-write compensation for partial write failure);
// otherwise it reports failure.
func (e *Engine) Set(replicas []replica.Client, key, value []byte) (bool, error) {
	successes := 0

	for _, r := range replicas {
		if err := r.Set(key, value); err == nil {
			successes++
		}
	}

	if successes >= e.opts.W {
		return true, nil
	}

	got, ok, err := e.Get(replicas, key)
	if err != nil {
		return false, err
	}

	if ok && bytes.Equal(got, value) {
		return true, nil
	}

	return false, nil
}
