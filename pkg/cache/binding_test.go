package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBinding(t *testing.T, store Store) *Binding {
	t.Helper()

	logger := zerolog.Nop()
	b := NewBinding(Config{Store: store, Logger: &logger})
	t.Cleanup(func() { b.Close() })
	return b
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRun_ResolvesAndCaches(t *testing.T) {
	b := newTestBinding(t, nil)
	ctx := waitCtx(t)

	var calls atomic.Int32
	producer := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "hello", nil
	}

	res := Run(ctx, b, "greeting", producer)
	v, err := res.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	assert.Equal(t, StateResolved, res.State())

	again := Run(ctx, b, "greeting", producer)
	assert.Equal(t, StateResolved, again.State())
	assert.Equal(t, "hello", again.Value())
	assert.Equal(t, int32(1), calls.Load())
}

func TestRun_DeduplicatesConcurrentCalls(t *testing.T) {
	b := newTestBinding(t, nil)
	ctx := waitCtx(t)

	release := make(chan struct{})
	var calls atomic.Int32
	producer := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const callers = 20
	results := make([]*Result[int], callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Run(ctx, b, "answer", producer)
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, StatePending, res.State())
	}

	close(release)

	for _, res := range results {
		v, err := res.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, int32(1), calls.Load(), "producer must run exactly once")
}

func TestRun_ErroredStateRetained(t *testing.T) {
	b := newTestBinding(t, nil)
	ctx := waitCtx(t)

	boom := errors.New("http 500")
	var calls atomic.Int32
	producer := func(ctx context.Context) ([]string, error) {
		calls.Add(1)
		return nil, boom
	}

	res := RunWithDefault(ctx, b, "posts", []string{}, producer)
	v, err := res.Wait(ctx)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{}, v, "errored result reports the default value")
	assert.Equal(t, StateErrored, res.State())
	assert.ErrorIs(t, res.Err(), boom)

	again := RunWithDefault(ctx, b, "posts", []string{}, producer)
	assert.Equal(t, StateErrored, again.State())
	assert.ErrorIs(t, again.Err(), boom)
	assert.Equal(t, int32(1), calls.Load(), "errored entries are not re-run implicitly")
}

func TestRun_PendingReportsDefault(t *testing.T) {
	b := newTestBinding(t, nil)
	ctx := waitCtx(t)

	release := make(chan struct{})
	res := RunWithDefault(ctx, b, "slow", "loading", func(ctx context.Context) (string, error) {
		<-release
		return "done", nil
	})

	assert.Equal(t, StatePending, res.State())
	assert.Equal(t, "loading", res.Value())
	assert.NoError(t, res.Err())

	close(release)
	v, err := res.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestRun_ProducerPanicBecomesError(t *testing.T) {
	b := newTestBinding(t, nil)
	ctx := waitCtx(t)

	res := Run(ctx, b, "panics", func(ctx context.Context) (int, error) {
		panic("unexpected")
	})

	_, err := res.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "producer panic")
	assert.Equal(t, StateErrored, res.State())
}

func TestRun_CallerCancelDoesNotFailJoiners(t *testing.T) {
	b := newTestBinding(t, nil)
	ctx := waitCtx(t)

	release := make(chan struct{})
	producer := func(ctx context.Context) (string, error) {
		select {
		case <-release:
			return "ok", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(ctx)
	first := Run(firstCtx, b, "shared", producer)
	second := Run(ctx, b, "shared", producer)

	cancelFirst()
	_, err := first.Wait(firstCtx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	v, err := second.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, StateResolved, first.State())
}

func TestResult_Refresh(t *testing.T) {
	b := newTestBinding(t, nil)
	ctx := waitCtx(t)

	var calls atomic.Int32
	producer := func(ctx context.Context) (int32, error) {
		n := calls.Add(1)
		if n == 1 {
			return 0, errors.New("transient")
		}
		return n, nil
	}

	res := Run(ctx, b, "counter", producer)
	_, err := res.Wait(ctx)
	require.Error(t, err)

	v, err := res.Refresh(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
	assert.Equal(t, StateResolved, res.State())

	other := Run(ctx, b, "counter", producer)
	assert.Equal(t, int32(2), other.Value(), "all results of a key observe the refreshed value")
}

func TestResult_RefreshKeepsPreviousValueWhilePending(t *testing.T) {
	b := newTestBinding(t, nil)
	ctx := waitCtx(t)

	release := make(chan struct{})
	var calls atomic.Int32
	producer := func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "v1", nil
		}
		<-release
		return "v2", nil
	}

	res := Run(ctx, b, "doc", producer)
	_, err := res.Wait(ctx)
	require.NoError(t, err)

	res.Refresh(ctx)
	assert.Equal(t, StatePending, res.State())
	assert.Equal(t, "v1", res.Value())

	close(release)
	v, err := res.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestResult_Subscribe(t *testing.T) {
	b := newTestBinding(t, nil)
	ctx := waitCtx(t)

	release := make(chan struct{})
	res := Run(ctx, b, "observed", func(ctx context.Context) (string, error) {
		<-release
		return "x", nil
	})

	states, unsubscribe := res.Subscribe()
	defer unsubscribe()

	close(release)

	select {
	case st := <-states:
		assert.Equal(t, StateResolved, st)
	case <-ctx.Done():
		t.Fatal("no state transition received")
	}

	res.Refresh(ctx)
	var seen []State
	for len(seen) < 2 {
		select {
		case st := <-states:
			seen = append(seen, st)
		case <-ctx.Done():
			t.Fatalf("transitions received: %v", seen)
		}
	}
	assert.Equal(t, []State{StatePending, StateResolved}, seen)
}

func TestBinding_Invalidate(t *testing.T) {
	b := newTestBinding(t, nil)
	ctx := waitCtx(t)

	var calls atomic.Int32
	producer := func(ctx context.Context) (int32, error) {
		return calls.Add(1), nil
	}

	first, err := Run(ctx, b, "k", producer).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, b.Keys())

	b.Invalidate(ctx, "k")
	assert.Empty(t, b.Keys())

	second, err := Run(ctx, b, "k", producer).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), first)
	assert.Equal(t, int32(2), second)
}

func TestBinding_ClearAndKeys(t *testing.T) {
	b := newTestBinding(t, nil)
	ctx := waitCtx(t)

	for _, key := range []string{"b", "a", "c"} {
		_, err := Run(ctx, b, key, func(ctx context.Context) (string, error) { return key, nil }).Wait(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, b.Keys())

	b.Clear(ctx)
	assert.Empty(t, b.Keys())
}

func TestBinding_CloseCancelsProducers(t *testing.T) {
	logger := zerolog.Nop()
	b := NewBinding(Config{Logger: &logger})
	ctx := waitCtx(t)

	started := make(chan struct{})
	res := Run(ctx, b, "long", func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})

	<-started
	require.NoError(t, b.Close())

	assert.Equal(t, StateErrored, res.State())
	assert.ErrorIs(t, res.Err(), context.Canceled)

	after := Run(ctx, b, "late", func(ctx context.Context) (string, error) { return "never", nil })
	_, err := after.Wait(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, b.Close(), "Close is idempotent")
}

func TestResult_TypeMismatch(t *testing.T) {
	b := newTestBinding(t, nil)
	ctx := waitCtx(t)

	_, err := Run(ctx, b, "typed", func(ctx context.Context) (int, error) { return 1, nil }).Wait(ctx)
	require.NoError(t, err)

	_, err = Run(ctx, b, "typed", func(ctx context.Context) (string, error) { return "x", nil }).Wait(ctx)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestResult_WaitHonorsContext(t *testing.T) {
	b := newTestBinding(t, nil)

	release := make(chan struct{})
	defer close(release)

	res := Run(context.Background(), b, "stuck", func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := res.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatePending, res.State())
}

// memoryStore is an in-memory Store for tests.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]*StoredEntry
	gets    int
	failGet error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string]*StoredEntry)}
}

func (s *memoryStore) Get(ctx context.Context, key string) (*StoredEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.failGet != nil {
		return nil, s.failGet
	}
	e, ok := s.entries[key]
	if !ok || e.IsExpired() {
		return nil, ErrCacheMiss
	}
	return e, nil
}

func (s *memoryStore) Set(ctx context.Context, key string, entry *StoredEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *memoryStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

type post struct {
	Slug string `json:"slug"`
}

func TestBinding_StoreSharesResolvedValues(t *testing.T) {
	store := newMemoryStore()
	ctx := waitCtx(t)

	var calls atomic.Int32
	producer := func(ctx context.Context) ([]post, error) {
		calls.Add(1)
		return []post{{Slug: "a"}, {Slug: "b"}}, nil
	}

	first := newTestBinding(t, store)
	_, err := Run(ctx, first, "posts", producer).Wait(ctx)
	require.NoError(t, err)
	assert.True(t, store.has("posts"))

	second := newTestBinding(t, store)
	v, err := Run(ctx, second, "posts", producer).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []post{{Slug: "a"}, {Slug: "b"}}, v)
	assert.Equal(t, int32(1), calls.Load(), "second binding reads the stored value")

	second.Invalidate(ctx, "posts")
	assert.False(t, store.has("posts"))
}

func TestBinding_StoreErrorsIgnored(t *testing.T) {
	store := newMemoryStore()
	store.failGet = errors.New("connection refused")
	b := newTestBinding(t, store)
	ctx := waitCtx(t)

	v, err := Run(ctx, b, "k", func(ctx context.Context) (string, error) { return "fresh", nil }).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestBinding_RefreshBypassesStore(t *testing.T) {
	store := newMemoryStore()
	b := newTestBinding(t, store)
	ctx := waitCtx(t)

	var calls atomic.Int32
	res := Run(ctx, b, "k", func(ctx context.Context) (int32, error) { return calls.Add(1), nil })
	_, err := res.Wait(ctx)
	require.NoError(t, err)

	gets := store.gets
	v, err := res.Refresh(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
	assert.Equal(t, gets, store.gets, "refresh must not read the store")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "resolved", StateResolved.String())
	assert.Equal(t, "errored", StateErrored.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestBinding_RunAfterInvalidateJoinsInFlightExecution(t *testing.T) {
	b := newTestBinding(t, nil)
	ctx := waitCtx(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	producer := func(ctx context.Context) (int32, error) {
		n := calls.Add(1)
		if n == 1 {
			close(started)
		}
		<-release
		return n, nil
	}

	first := Run(ctx, b, "walk", producer)
	<-started

	b.Invalidate(ctx, "walk")
	second := Run(ctx, b, "walk", producer)
	assert.Equal(t, StatePending, second.State())

	close(release)

	v1, err := first.Wait(ctx)
	require.NoError(t, err)
	v2, err := second.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(1), v1)
	assert.Equal(t, int32(1), v2)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{"walk"}, b.Keys())
}

func TestBinding_InvalidatedExecutionNotStored(t *testing.T) {
	store := newMemoryStore()
	b := newTestBinding(t, store)
	ctx := waitCtx(t)

	started := make(chan struct{})
	release := make(chan struct{})
	res := Run(ctx, b, "stale", func(ctx context.Context) (string, error) {
		close(started)
		<-release
		return "old", nil
	})
	<-started

	b.Invalidate(ctx, "stale")
	close(release)

	v, err := res.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "old", v)
	assert.False(t, store.has("stale"))

	fresh, err := Run(ctx, b, "stale", func(ctx context.Context) (string, error) {
		return "new", nil
	}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", fresh)
	assert.True(t, store.has("stale"))
}
