// Package pending implements the correlation tables for request/reply IPC.
//
// Every awaiting call (request, targeted request, broadcast aggregation,
// store round trip, tracked event broadcast) parks exactly one waiter here,
// keyed by nonce. The dispatch path resolves a waiter at most once; late or
// duplicate replies for a removed nonce are discarded by construction.
package pending

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/LucasCzechia/discord-cluster/types"
)

// NonceSource generates unique correlation tokens.
//
// Tokens combine a random per-source prefix with an atomic counter, so two
// calls can never produce the same nonce within a controller or unit
// lifetime, and nonces from different processes cannot collide in practice.
type NonceSource struct {
	prefix string
	ctr    atomic.Uint64
}

// NewNonceSource creates a nonce source with a random prefix.
func NewNonceSource() *NonceSource {
	var buf [4]byte
	// rand.Read on the system source never fails on supported platforms.
	_, _ = rand.Read(buf[:])

	return &NonceSource{prefix: hex.EncodeToString(buf[:])}
}

// Next returns a fresh, never-before-issued nonce.
func (s *NonceSource) Next() string {
	return fmt.Sprintf("%s-%d", s.prefix, s.ctr.Add(1))
}

// Outcome is the single resolution delivered to a request waiter.
type Outcome struct {
	Data any
	Err  error
}

// Requests tracks single-reply correlations (request, targeted request,
// store round trips, tracked event broadcasts).
type Requests struct {
	waiters *xsync.Map[string, chan Outcome]
}

// NewRequests creates an empty request table.
func NewRequests() *Requests {
	return &Requests{waiters: xsync.NewMap[string, chan Outcome]()}
}

// Add registers a waiter for the nonce and returns its outcome channel.
//
// The channel is buffered; the resolving side never blocks on it.
func (r *Requests) Add(nonce string) <-chan Outcome {
	ch := make(chan Outcome, 1)
	r.waiters.Store(nonce, ch)

	return ch
}

// Resolve delivers a successful outcome for the nonce.
//
// Returns false if the nonce was already resolved, rejected, or abandoned;
// the late outcome is discarded silently.
func (r *Requests) Resolve(nonce string, data any) bool {
	ch, ok := r.waiters.LoadAndDelete(nonce)
	if !ok {
		return false
	}
	ch <- Outcome{Data: data}

	return true
}

// Reject delivers a failure outcome for the nonce.
//
// Returns false if the nonce was already resolved, rejected, or abandoned.
func (r *Requests) Reject(nonce string, err error) bool {
	ch, ok := r.waiters.LoadAndDelete(nonce)
	if !ok {
		return false
	}
	ch <- Outcome{Err: err}

	return true
}

// Abandon removes the waiter for a nonce without delivering an outcome.
//
// Called by the awaiting side on timeout or cancellation, so a reply
// arriving afterwards finds no entry and is dropped.
func (r *Requests) Abandon(nonce string) {
	r.waiters.LoadAndDelete(nonce)
}

// Len returns the number of outstanding request waiters.
func (r *Requests) Len() int {
	return r.waiters.Size()
}

// broadcast accumulates per-unit results for one fan-out nonce.
type broadcast struct {
	mu       sync.Mutex
	results  map[int]types.Result
	expected int
	done     chan struct{}
	complete bool
}

func (b *broadcast) deliver(res types.Result) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.complete {
		return false
	}
	if _, dup := b.results[res.UnitID]; dup {
		return false
	}

	b.results[res.UnitID] = res
	if len(b.results) >= b.expected {
		b.complete = true
		close(b.done)
	}

	return true
}

func (b *broadcast) snapshot() []types.Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.Result, 0, len(b.results))
	for _, res := range b.results {
		out = append(out, res)
	}

	return out
}

// Broadcasts tracks fan-out correlations that aggregate one result per unit.
type Broadcasts struct {
	entries *xsync.Map[string, *broadcast]
}

// NewBroadcasts creates an empty broadcast table.
func NewBroadcasts() *Broadcasts {
	return &Broadcasts{entries: xsync.NewMap[string, *broadcast]()}
}

// Ticket is the awaiting side of one broadcast aggregation.
type Ticket struct {
	nonce  string
	parent *Broadcasts
	entry  *broadcast
}

// Add registers a broadcast expecting one result from each of expected units.
//
// An expected count of zero completes immediately on Done.
func (b *Broadcasts) Add(nonce string, expected int) *Ticket {
	entry := &broadcast{
		results:  make(map[int]types.Result, expected),
		expected: expected,
		done:     make(chan struct{}),
	}
	if expected <= 0 {
		entry.complete = true
		close(entry.done)
	}
	b.entries.Store(nonce, entry)

	return &Ticket{nonce: nonce, parent: b, entry: entry}
}

// Deliver records one unit's result for the nonce.
//
// Duplicate results per unit and results for unknown or already-collected
// nonces are discarded. Returns true if the result was recorded.
func (b *Broadcasts) Deliver(nonce string, res types.Result) bool {
	entry, ok := b.entries.Load(nonce)
	if !ok {
		return false
	}

	return entry.deliver(res)
}

// Contains reports whether the nonce belongs to an outstanding broadcast.
func (b *Broadcasts) Contains(nonce string) bool {
	_, ok := b.entries.Load(nonce)

	return ok
}

// Len returns the number of outstanding broadcasts.
func (b *Broadcasts) Len() int {
	return b.entries.Size()
}

// Done returns a channel closed once every expected result arrived.
func (t *Ticket) Done() <-chan struct{} {
	return t.entry.done
}

// Collect removes the broadcast entry and returns whatever results arrived.
//
// Units that never replied are simply absent from the collection. Results
// delivered after Collect find no entry and are dropped.
func (t *Ticket) Collect() types.ResultCollection {
	t.parent.entries.LoadAndDelete(t.nonce)

	return types.NewResultCollection(t.entry.snapshot())
}
