package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/liveflow/pipeline/pkg/digest"
	"github.com/rs/zerolog/log"
)

// Digestible is anything that can produce a canonical representation
// stable enough to use as (part of) a cache key or value for logging
// and persistence. Cache does not require it: it fingerprints Key and
// Value with pkg/digest's canonical-JSON hashing directly.
type Digestible interface {
	Digest() string
}

// Operation is the contract a side-effecting publisher plugs into a
// Cache: Key must be comparable so the cache can key its entries, and
// Key/Value should be JSON-encodable, since the cache compares values
// by their pkg/digest fingerprint to detect "setting the same value
// again".
type Operation[K comparable, V any, O any] struct {
	// ID names this operation; it namespaces cache keys so two
	// operations may reuse the same Key type without collision.
	ID string
	// AutoCancel: if true, a Set that arrives while a run is in
	// flight cancels that run and starts immediately with the new
	// value; if false, the in-flight run is left to finish and the
	// new value starts only once it has.
	AutoCancel bool
	// Publish executes the operation for (job, key, value).
	Publish func(ctx context.Context, job JobID, key K, value V) (O, error)
	// PP renders (key, value) for logs.
	PP func(key K, value V) string
}

// Outcome is the result of one completed run.
type Outcome[O any] struct {
	Value O
	Err   Msg
}

func (o Outcome[O]) IsOk() bool { return o.Err == "" }

// entryPhase is a cache entry's coarse lifecycle phase.
type entryPhase int

const (
	phaseNone entryPhase = iota
	phaseRunning
	phaseFinished
)

// WriteThrough is invoked on every cache entry state transition; an
// optional durable-store adapter (e.g. store.WriteThrough) can persist
// the row. It must not block the cache for long; it runs synchronously
// on the transition.
type WriteThrough[K comparable, V any, O any] func(entry EntrySnapshot[K, V, O])

// EntrySnapshot is the read-only view of one cache entry handed to a
// WriteThrough hook or to Cache.Snapshot.
type EntrySnapshot[K comparable, V any, O any] struct {
	Key              K
	Value            V
	Build            int
	Phase            entryPhase
	Outcome          Outcome[O]
	JobID            JobID
	RebuildRequested bool
	ReadyAt          time.Time
	RunningAt        time.Time
	FinishedAt       time.Time
	ValidFor         time.Duration
	// KeyDigest/ValueDigest are canonical-JSON+xxh3 fingerprints
	// (pkg/digest) of Key/Value, used by WriteThrough rows and by log
	// lines so an operator never needs to print the raw value.
	KeyDigest   string
	ValueDigest string
}

// Finished reports whether the last run for this entry has completed.
func (e EntrySnapshot[K, V, O]) Finished() bool { return e.Phase == phaseFinished }

// Expired reports whether a finished entry's validity window has
// lapsed, making it due for a rebuild on next access.
func (e EntrySnapshot[K, V, O]) Expired(now time.Time) bool {
	if e.Phase != phaseFinished || e.ValidFor <= 0 {
		return false
	}
	return now.After(e.FinishedAt.Add(e.ValidFor))
}

type cacheEntry[K comparable, V any, O any] struct {
	key   K
	value V
	build int
	phase entryPhase

	outcome  Outcome[O]
	job      JobID
	readyAt  time.Time
	runAt    time.Time
	finAt    time.Time
	validFor time.Duration

	rebuildRequested bool

	// running holds the cancel func for an in-flight run, and wg is
	// released when it completes — the single-flight dedup pattern:
	// concurrent callers for the same key join the one run in flight
	// instead of starting their own.
	cancel context.CancelFunc
	wg     *sync.WaitGroup

	// pendingValue/hasPending hold a value that arrived while a
	// non-auto-cancel run was in flight, to be started once it ends.
	pendingValue V
	hasPending   bool
}

// Cache is the deduplicating, at-most-one-in-flight-per-key memo for
// an Operation. Every exported method is safe for concurrent use.
type Cache[K comparable, V any, O any] struct {
	op Operation[K, V, O]
	wt WriteThrough[K, V, O]

	mu      sync.Mutex
	entries map[K]*cacheEntry[K, V, O]
}

// NewCache builds a Cache for op. wt may be nil.
func NewCache[K comparable, V any, O any](op Operation[K, V, O], wt WriteThrough[K, V, O]) *Cache[K, V, O] {
	return &Cache[K, V, O]{
		op:      op,
		wt:      wt,
		entries: make(map[K]*cacheEntry[K, V, O]),
	}
}

// Set requests the operation run for (key, value). validFor, if > 0,
// marks the resulting Finished entry as needing rebuild once it
// expires.
func (c *Cache[K, V, O]) Set(ctx context.Context, key K, value V, validFor time.Duration) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &cacheEntry[K, V, O]{key: key}
		c.entries[key] = entry
	}
	entry.readyAt = time.Now()

	// Setting the value the entry already holds joins the run in flight,
	// or reuses the finished outcome until it expires or a rebuild is
	// requested.
	if ok && !entry.rebuildRequested && !entry.hasPending {
		if d := safeDigest(value); d != "" && d == safeDigest(entry.value) {
			fresh := entry.validFor <= 0 || !entry.readyAt.After(entry.finAt.Add(entry.validFor))
			if entry.phase == phaseRunning || (entry.phase == phaseFinished && fresh) {
				c.mu.Unlock()
				return
			}
		}
	}

	if entry.phase == phaseRunning {
		if c.op.AutoCancel {
			if entry.cancel != nil {
				entry.cancel()
			}
			c.mu.Unlock()
			c.startRun(ctx, entry, value, validFor)
			return
		}
		entry.pendingValue = value
		entry.hasPending = true
		entry.rebuildRequested = true
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.startRun(ctx, entry, value, validFor)
}

// Rebuild forces re-execution of the last known value for key via the
// sticky rebuild_requested flag. It is a no-op if key has no entry
// yet.
func (c *Cache[K, V, O]) Rebuild(ctx context.Context, key K) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	if entry.phase == phaseRunning {
		entry.rebuildRequested = true
		c.mu.Unlock()
		return
	}
	entry.readyAt = time.Now()
	value := entry.value
	validFor := entry.validFor
	c.mu.Unlock()
	c.startRun(ctx, entry, value, validFor)
}

// startRun transitions entry into Running{build+1} and launches
// Publish in a goroutine, honoring the single-flight invariant: only
// one goroutine may hold entry.cancel/wg at a time.
func (c *Cache[K, V, O]) startRun(ctx context.Context, entry *cacheEntry[K, V, O], value V, validFor time.Duration) {
	runCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}
	wg.Add(1)

	job := NewJobID()

	c.mu.Lock()
	entry.value = value
	entry.build++
	entry.phase = phaseRunning
	entry.job = job
	entry.runAt = time.Now()
	entry.validFor = validFor
	entry.rebuildRequested = false
	entry.cancel = cancel
	entry.wg = wg
	build := entry.build
	c.mu.Unlock()

	c.emit(entry)

	go func() {
		defer wg.Done()
		out, err := c.op.Publish(runCtx, job, entry.key, value)

		c.mu.Lock()
		defer c.mu.Unlock()

		if entry.build != build {
			// superseded by a later run: an AutoCancel Set started a
			// new run while this one was still returning.
			return
		}

		entry.phase = phaseFinished
		entry.finAt = time.Now()
		entry.cancel = nil
		entry.wg = nil
		if runCtx.Err() != nil && err != nil {
			entry.outcome = Outcome[O]{Err: Msg("cancelled: " + err.Error())}
		} else if err != nil {
			entry.outcome = Outcome[O]{Err: Msg(err.Error())}
			log.Warn().Str("op", c.op.ID).Str("pp", c.op.PP(entry.key, value)).Err(err).Msg("cache publish failed")
		} else {
			entry.outcome = Outcome[O]{Value: out}
		}

		rerun := entry.hasPending || entry.rebuildRequested
		nextValue := entry.value
		if entry.hasPending {
			nextValue = entry.pendingValue
			entry.hasPending = false
		}
		nextValidFor := entry.validFor
		c.emitLocked(entry)

		if rerun {
			go c.startRun(ctx, entry, nextValue, nextValidFor)
		}
	}()
}

// emit publishes a write-through transition under no lock held.
func (c *Cache[K, V, O]) emit(entry *cacheEntry[K, V, O]) {
	if c.wt == nil {
		return
	}
	c.mu.Lock()
	snap := c.snapshotLocked(entry)
	c.mu.Unlock()
	c.wt(snap)
}

// emitLocked publishes while already holding c.mu; used from within
// the Publish completion callback.
func (c *Cache[K, V, O]) emitLocked(entry *cacheEntry[K, V, O]) {
	if c.wt == nil {
		return
	}
	snap := c.snapshotLocked(entry)
	c.wt(snap)
}

func (c *Cache[K, V, O]) snapshotLocked(entry *cacheEntry[K, V, O]) EntrySnapshot[K, V, O] {
	return EntrySnapshot[K, V, O]{
		Key:              entry.key,
		Value:            entry.value,
		Build:            entry.build,
		Phase:            entry.phase,
		Outcome:          entry.outcome,
		JobID:            entry.job,
		RebuildRequested: entry.rebuildRequested,
		ReadyAt:          entry.readyAt,
		RunningAt:        entry.runAt,
		FinishedAt:       entry.finAt,
		ValidFor:         entry.validFor,
		KeyDigest:        safeDigest(entry.key),
		ValueDigest:      safeDigest(entry.value),
	}
}

// safeDigest never panics: digest.Of assumes a JSON-safe value, which
// holds for every Key/Value this package's own code constructs, but a
// caller's Key/Value might not be, and a diagnostic field must never
// be the thing that crashes the cache.
func safeDigest(v any) (d string) {
	defer func() {
		if recover() != nil {
			d = ""
		}
	}()
	return digest.Of(v)
}

// Get returns the current snapshot for key, and whether an entry
// exists at all.
func (c *Cache[K, V, O]) Get(key K) (EntrySnapshot[K, V, O], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return EntrySnapshot[K, V, O]{}, false
	}
	return c.snapshotLocked(entry), true
}

// Bootstrap seeds the in-memory cache from rows recovered from a
// durable store; it does not start any runs. Passing a Finished row
// with a since-expired ValidFor simply means the next Set/observation
// will trigger rebuild as usual.
func (c *Cache[K, V, O]) Bootstrap(rows []EntrySnapshot[K, V, O]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		c.entries[row.Key] = &cacheEntry[K, V, O]{
			key:      row.Key,
			value:    row.Value,
			build:    row.Build,
			phase:    phaseFinished,
			outcome:  row.Outcome,
			job:      row.JobID,
			readyAt:  row.ReadyAt,
			finAt:    row.FinishedAt,
			validFor: row.ValidFor,
		}
	}
}
