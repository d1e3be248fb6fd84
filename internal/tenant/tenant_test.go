package tenant

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/lotus-core/internal/errs"
)

func TestScope_DefaultIsEmpty(t *testing.T) {
	t.Parallel()

	id, ok := Current(context.Background())
	require.False(t, ok)
	require.Empty(t, id)

	_, err := Require(context.Background())
	require.ErrorIs(t, err, errs.ErrTenantRequired)

	ctx, s := Begin(context.Background())
	_, ok = Current(ctx)
	require.False(t, ok)

	s.Set("  ")
	_, ok = s.Current()
	require.False(t, ok, "blank tenant is absent")
}

func TestScope_SetCurrentClear(t *testing.T) {
	t.Parallel()

	ctx, s := Begin(context.Background())
	s.Set("tenant-a")

	id, err := Require(ctx)
	require.NoError(t, err)
	require.Equal(t, "tenant-a", id)

	s.Clear()
	s.Clear()
	_, ok := Current(ctx)
	require.False(t, ok)

	var nilScope *Scope
	nilScope.Clear()
	_, ok = nilScope.Current()
	require.False(t, ok)
}

func TestRun_ClearsOnEveryExit(t *testing.T) {
	t.Parallel()

	var seen *Scope
	err := Run(context.Background(), "a", func(ctx context.Context) error {
		seen = FromContext(ctx)
		return fmt.Errorf("boom")
	})
	require.Error(t, err)
	_, ok := seen.Current()
	require.False(t, ok, "cleared after error")

	require.Panics(t, func() {
		_ = Run(context.Background(), "b", func(ctx context.Context) error {
			seen = FromContext(ctx)
			panic("crash")
		})
	})
	_, ok = seen.Current()
	require.False(t, ok, "cleared after panic")
}

func TestRun_ConcurrentUnitsNeverObserveEachOther(t *testing.T) {
	t.Parallel()

	const rounds = 200
	var wg sync.WaitGroup
	leaks := make(chan string, 2*rounds)

	worker := func(want string) {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_ = Run(context.Background(), want, func(ctx context.Context) error {
				// hop across a goroutine boundary with the same ctx
				done := make(chan string)
				go func() {
					got, _ := Current(ctx)
					done <- got
				}()
				if got := <-done; got != want {
					leaks <- got
				}
				return nil
			})
		}
	}

	wg.Add(2)
	go worker("A")
	go worker("B")
	wg.Wait()
	close(leaks)

	for got := range leaks {
		t.Fatalf("observed foreign tenant %q", got)
	}
}

func TestWithTenant_NestedScopesAreIndependent(t *testing.T) {
	t.Parallel()

	outer := WithTenant(context.Background(), "outer")
	inner := WithTenant(outer, "inner")

	FromContext(inner).Clear()

	id, ok := Current(outer)
	require.True(t, ok)
	require.Equal(t, "outer", id)
}
