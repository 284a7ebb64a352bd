package keys

import (
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate_InvalidKind(t *testing.T) {
	_, err := Allocate(model.EntityKind("widget"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidKind)
}

func TestAllocate_WithAndWithoutFilter(t *testing.T) {
	cartKey, err := Allocate(model.KindCart, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cartKey, "cart_"))

	itemKey, err := Allocate(model.KindLineItem, cartKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(itemKey, FilterPrefix(model.KindLineItem, cartKey)))

	p, err := Parse(itemKey)
	require.NoError(t, err)
	assert.Equal(t, model.KindLineItem, p.Kind)
	assert.Equal(t, cartKey, p.FilterID)
	assert.Len(t, p.Suffix, 32)

	p, err = Parse(cartKey)
	require.NoError(t, err)
	assert.Equal(t, model.KindCart, p.Kind)
	assert.Empty(t, p.FilterID)
}

func TestAllocate_RejectsIllegalFilter(t *testing.T) {
	_, err := Allocate(model.KindLineItem, "cart 1")
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestAllocate_ConcurrentUniqueness(t *testing.T) {
	const workers, perWorker = 16, 500

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, MustAllocate(model.KindVariant, "product_x"))
			}
			mu.Lock()
			for _, k := range local {
				seen[k] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestAllocate_SortsInCreationOrder(t *testing.T) {
	allocated := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		allocated = append(allocated, MustAllocate(model.KindOrder, ""))
	}

	sorted := append([]string(nil), allocated...)
	sort.Strings(sorted)
	assert.Equal(t, allocated, sorted)
}

func TestParse_Malformed(t *testing.T) {
	tests := []string{
		"",
		"cart",
		"cart_",
		"_abc",
		"cart_not-hex-suffix",
		"widget_0189a1b2c3d4e5f60718293a4b5c6d7e",
	}
	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			_, err := Parse(key)
			assert.Error(t, err)
		})
	}
}
