package ordernumber

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSequence struct {
	n    int64
	fail bool
}

func (f *fakeSequence) NextOrderSequence(ctx context.Context, day string) (int64, error) {
	if f.fail {
		return 0, errors.New("connection refused")
	}
	return atomic.AddInt64(&f.n, 1), nil
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
}

func TestAllocateSequentialForm(t *testing.T) {
	a := NewAllocator(&fakeSequence{})
	a.now = fixedClock

	first, err := a.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "VF-20260315-0001", first)

	second, err := a.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "VF-20260315-0002", second)
}

func TestAllocateFallbackOnCounterOutage(t *testing.T) {
	a := NewAllocator(&fakeSequence{fail: true})
	a.now = fixedClock

	pattern := regexp.MustCompile(`^VF-20260315-R[0-9A-F]{8}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		n, err := a.Allocate(context.Background())
		require.NoError(t, err, "fallback must not fail the checkout")
		assert.Regexp(t, pattern, n)
		assert.False(t, seen[n], "fallback produced duplicate %s", n)
		seen[n] = true
	}
}

func TestAllocateUniqueUnderConcurrency(t *testing.T) {
	a := NewAllocator(&fakeSequence{})
	a.now = fixedClock

	const workers = 50
	results := make(chan string, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := a.Allocate(context.Background())
			if err != nil {
				results <- fmt.Sprintf("error: %v", err)
				return
			}
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for n := range results {
		assert.NotContains(t, n, "error:")
		assert.False(t, seen[n], "duplicate order number %s", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers)
}
