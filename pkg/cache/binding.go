package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrClosed is reported by results created after Binding.Close.
	ErrClosed = errors.New("cache binding closed")

	// ErrTypeMismatch is reported when a key is read as a different type
	// than it was produced with.
	ErrTypeMismatch = errors.New("cached value type mismatch")
)

// DefaultStoreTTL is how long resolved values live in the second-level store.
const DefaultStoreTTL = 5 * time.Minute

// subscriberBuffer is the channel capacity of each subscription.
const subscriberBuffer = 8

// Producer computes the value for a key.
type Producer[T any] func(ctx context.Context) (T, error)

// Config holds binding configuration.
type Config struct {
	// Store is an optional second level for resolved values.
	Store Store

	// StoreTTL is the lifetime of values written to Store.
	StoreTTL time.Duration

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns an in-memory only configuration.
func DefaultConfig() Config {
	return Config{StoreTTL: DefaultStoreTTL}
}

// Binding is a keyed cache of producer results with de-duplication of
// concurrent executions. It is the only owner of its entries; all access
// goes through Run, RunWithDefault, Result and the invalidation methods.
// It is safe for concurrent use.
type Binding struct {
	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group
	store   Store
	ttl     time.Duration
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewBinding creates a new binding.
func NewBinding(cfg Config) *Binding {
	if cfg.StoreTTL <= 0 {
		cfg.StoreTTL = DefaultStoreTTL
	}

	logger := log.With().Str("component", "cache").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Binding{
		entries: make(map[string]*entry),
		store:   cfg.Store,
		ttl:     cfg.StoreTTL,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Run returns the result for key, starting producer only when key has no
// entry. A resolved or errored entry is returned as is; a pending entry is
// joined. The producer runs detached from ctx cancellation so one caller
// leaving does not fail the others; ctx values are preserved.
func Run[T any](ctx context.Context, b *Binding, key string, producer Producer[T]) *Result[T] {
	var zero T
	return RunWithDefault(ctx, b, key, zero, producer)
}

// RunWithDefault is Run with a value reported while no resolved value is
// available.
func RunWithDefault[T any](ctx context.Context, b *Binding, key string, def T, producer Producer[T]) *Result[T] {
	return &Result[T]{
		b:   b,
		e:   b.run(ctx, key, newTask(producer)),
		def: def,
	}
}

// Invalidate forgets key. Observers holding a Result keep their entry.
// The next Run for key gets a new entry; while the invalidated execution
// is still in flight that entry joins it instead of calling its producer
// again. Values of invalidated executions are never written to the store.
func (b *Binding) Invalidate(ctx context.Context, key string) {
	b.mu.Lock()
	if _, ok := b.entries[key]; ok {
		delete(b.entries, key)
		CacheEntries.Dec()
	}
	b.mu.Unlock()

	b.deleteStored(ctx, key)

	b.logger.Debug().Str("key", key).Msg("Invalidated cache key")
}

// Clear forgets every key.
func (b *Binding) Clear(ctx context.Context) {
	b.mu.Lock()
	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		keys = append(keys, key)
	}
	b.entries = make(map[string]*entry)
	CacheEntries.Sub(float64(len(keys)))
	b.mu.Unlock()

	for _, key := range keys {
		b.deleteStored(ctx, key)
	}

	b.logger.Debug().Int("keys", len(keys)).Msg("Cleared cache")
}

// Keys returns the cached keys in sorted order.
func (b *Binding) Keys() []string {
	b.mu.Lock()
	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		keys = append(keys, key)
	}
	b.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Close cancels in-flight producers and waits for them to settle. Results
// requested afterwards are errored with ErrClosed.
func (b *Binding) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}

func (b *Binding) run(ctx context.Context, key string, t task) *entry {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return closedEntry(key)
	}

	if e, ok := b.entries[key]; ok {
		b.mu.Unlock()
		if e.state() == StatePending {
			CacheJoins.Inc()
		} else {
			CacheHits.WithLabelValues("memory").Inc()
		}
		return e
	}

	e := newEntry(key, t)
	b.entries[key] = e
	CacheEntries.Inc()
	CacheMisses.Inc()
	gen := e.begin()
	b.wg.Add(1)
	b.mu.Unlock()

	b.execute(ctx, e, gen, true)
	return e
}

func (b *Binding) refresh(ctx context.Context, e *entry) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	if _, ok := b.entries[e.key]; !ok {
		b.entries[e.key] = e
		CacheEntries.Inc()
	}

	if e.state() == StatePending {
		b.mu.Unlock()
		CacheJoins.Inc()
		return
	}

	// A refresh never joins an execution that started before it.
	b.group.Forget(e.key)
	gen := e.begin()
	b.wg.Add(1)
	b.mu.Unlock()

	b.logger.Debug().Str("key", e.key).Msg("Refreshing cache key")
	b.execute(ctx, e, gen, false)
}

// execute registers generation gen of e with the singleflight group before
// returning, so a later execution for the same key joins it, then settles
// the entry in the background. A store read or producer call happens only
// when no execution for the key is in flight.
func (b *Binding) execute(parent context.Context, e *entry, gen uint64, useStore bool) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(b.ctx, cancel)

	start := time.Now()
	led := false
	ch := b.group.DoChan(e.key, func() (any, error) {
		led = true
		if useStore {
			if v, ok := b.loadStored(ctx, e.key, e.task); ok {
				return v, nil
			}
		}

		v, err := e.task.call(ctx)
		if err != nil {
			return nil, err
		}

		if b.current(e, gen) {
			b.saveStored(ctx, e.key, v)
		}
		return v, nil
	})

	go func() {
		defer b.wg.Done()
		defer cancel()
		defer stop()

		res := <-ch
		if !led {
			CacheJoins.Inc()
		}

		if res.Err != nil {
			CacheProducerErrors.Inc()
			b.logger.Warn().
				Err(res.Err).
				Str("key", e.key).
				Dur("duration", time.Since(start)).
				Msg("Cache producer failed")
		} else {
			b.logger.Debug().
				Str("key", e.key).
				Bool("joined", !led).
				Dur("duration", time.Since(start)).
				Msg("Cache producer resolved")
		}

		e.settle(gen, res.Val, res.Err)
	}()
}

// current reports whether generation gen of e is still the live entry for
// its key.
func (b *Binding) current(e *entry, gen uint64) bool {
	b.mu.Lock()
	live := b.entries[e.key] == e
	b.mu.Unlock()
	return live && e.generation() == gen
}

func (b *Binding) loadStored(ctx context.Context, key string, t task) (any, bool) {
	if b.store == nil {
		return nil, false
	}

	stored, err := b.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			b.logger.Warn().Err(err).Str("key", key).Msg("Cache store get failed")
		}
		return nil, false
	}

	v, err := t.decode(stored.Data)
	if err != nil {
		CacheStoreErrors.WithLabelValues("decode").Inc()
		b.logger.Warn().Err(err).Str("key", key).Msg("Cache store entry undecodable")
		return nil, false
	}

	CacheHits.WithLabelValues("store").Inc()
	return v, true
}

func (b *Binding) saveStored(ctx context.Context, key string, v any) {
	if b.store == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		CacheStoreErrors.WithLabelValues("encode").Inc()
		b.logger.Warn().Err(err).Str("key", key).Msg("Cache value not encodable")
		return
	}

	now := time.Now()
	stored := &StoredEntry{Data: data, Expires: now.Add(b.ttl), CachedAt: now}
	if err := b.store.Set(ctx, key, stored); err != nil {
		b.logger.Warn().Err(err).Str("key", key).Msg("Cache store set failed")
	}
}

func (b *Binding) deleteStored(ctx context.Context, key string) {
	if b.store == nil {
		return
	}
	if err := b.store.Delete(ctx, key); err != nil {
		b.logger.Warn().Err(err).Str("key", key).Msg("Cache store delete failed")
	}
}

// task is a type-erased producer with the decoder for its value type.
type task struct {
	produce func(ctx context.Context) (any, error)
	decode  func(data []byte) (any, error)
}

func newTask[T any](p Producer[T]) task {
	return task{
		produce: func(ctx context.Context) (any, error) {
			return p(ctx)
		},
		decode: func(data []byte) (any, error) {
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// call runs the producer, converting a panic into an error.
func (t task) call(ctx context.Context) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("producer panic: %v", r)
		}
	}()
	return t.produce(ctx)
}

// entry is the shared state behind every Result of a key.
type entry struct {
	key  string
	task task

	mu       sync.Mutex
	st       State
	value    any
	hasValue bool
	err      error
	gen      uint64
	done     chan struct{}
	subs     map[chan State]struct{}
}

func newEntry(key string, t task) *entry {
	return &entry{
		key:  key,
		task: t,
		done: make(chan struct{}),
		subs: make(map[chan State]struct{}),
	}
}

func closedEntry(key string) *entry {
	e := newEntry(key, task{})
	e.st = StateErrored
	e.err = ErrClosed
	close(e.done)
	return e
}

// begin starts a new generation and returns its number.
func (e *entry) begin() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.gen++
	e.st = StatePending
	e.err = nil
	if e.gen > 1 {
		e.done = make(chan struct{})
	}
	e.notify()
	return e.gen
}

// settle records the outcome of generation gen.
func (e *entry) settle(gen uint64, v any, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.gen {
		return
	}

	if err != nil {
		e.st = StateErrored
		e.err = err
		e.value = nil
		e.hasValue = false
	} else {
		e.st = StateResolved
		e.value = v
		e.hasValue = true
	}
	close(e.done)
	e.notify()
}

func (e *entry) generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

func (e *entry) state() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st
}

func (e *entry) snapshot() (State, any, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st, e.value, e.hasValue, e.err
}

func (e *entry) doneChan() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

func (e *entry) subscribe() (<-chan State, func()) {
	ch := make(chan State, subscriberBuffer)

	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, ch)
			e.mu.Unlock()
		})
	}
}

// notify must be called with e.mu held.
func (e *entry) notify() {
	for ch := range e.subs {
		select {
		case ch <- e.st:
		default:
		}
	}
}
