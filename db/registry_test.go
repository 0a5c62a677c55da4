package db

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestRegistry_StoreResolve(t *testing.T) {
	r := NewRegistry()

	r.Store("users:get_all", "SELECT * FROM users ORDER BY id")

	sql, err := r.Resolve("users:get_all")
	assert.Assert(t, err)
	assert.Check(t, cmp.Equal(sql, "SELECT * FROM users ORDER BY id"))

	// a later store with the same name silently overwrites
	r.Store("users:get_all", "SELECT id FROM users")
	sql, err = r.Resolve("users:get_all")
	assert.Assert(t, err)
	assert.Check(t, cmp.Equal(sql, "SELECT id FROM users"))
}

func TestRegistry_ResolveMissing(t *testing.T) {
	r := NewRegistry()

	_, err := r.Resolve("nope")
	assert.Check(t, errors.Is(err, ErrQueryNotFound))
	assert.Check(t, cmp.ErrorContains(err, "nope"))
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Store("b", "SELECT 2")
	r.Store("a", "SELECT 1")

	assert.Check(t, cmp.DeepEqual(r.Names(), []string{"a", "b"}))
}

func TestRegistry_ConcurrentStoreResolve(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Store(fmt.Sprintf("q%d", i), "SELECT 1")
		}()
		go func() {
			defer wg.Done()
			_, _ = r.Resolve(fmt.Sprintf("q%d", i))
		}()
	}
	wg.Wait()

	assert.Check(t, cmp.Len(r.Names(), 50))
}
