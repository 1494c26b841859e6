package replica

import "sync"

// Fake is an in-memory [Client] used by router/quorum tests to simulate
// dead replicas, partial write failure, and read-repair without a real
// memcached daemon.
type Fake struct {
	endpoint string

	mu      sync.Mutex
	data    map[string][]byte
	down    bool
	setFail bool

	gets int
	sets int
}

// NewFake returns a Fake replica registered under endpoint.
func NewFake(endpoint string) *Fake {
	return &Fake{endpoint: endpoint, data: make(map[string][]byte)}
}

func (f *Fake) Endpoint() string { return f.endpoint }

func (f *Fake) Get(key []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.gets++

	if f.down {
		return nil, errDown(f.endpoint)
	}

	v, ok := f.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}

	return v, nil
}

func (f *Fake) Set(key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sets++

	if f.down || f.setFail {
		return errDown(f.endpoint)
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	f.data[string(key)] = cp

	return nil
}

func (f *Fake) Close() error { return nil }

// SetDown makes every subsequent Get/Set fail, simulating a dead replica.
func (f *Fake) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.down = down
}

// SetWriteFailure makes every subsequent Set fail while Get keeps working,
// simulating a replica that accepts reads but rejects writes.
func (f *Fake) SetWriteFailure(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.setFail = fail
}

// Preload seeds a value directly, bypassing Set (used to set up a replica
// that already holds a newer value than its peers).
func (f *Fake) Preload(key string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.data[key] = value
}

// Peek reads a value directly, bypassing Get's failure injection, for test
// assertions about what actually ended up on a replica.
func (f *Fake) Peek(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.data[key]

	return v, ok
}

// Counts returns the number of Get/Set calls observed so far.
func (f *Fake) Counts() (gets, sets int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.gets, f.sets
}

type errDown string

func (e errDown) Error() string { return "replica: " + string(e) + " is down" }
