package mutator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/model"
)

func TestRegistry_RegisterAndApply(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("rename", func(p model.Payload, args model.Args) (model.Payload, error) {
		p["name"] = args["name"]
		return p, nil
	}))

	err := r.Register("rename", func(p model.Payload, _ model.Args) (model.Payload, error) { return p, nil })
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	out, err := r.Apply("rename", model.Payload{"name": "a", "extra": 1}, model.Args{"name": "b"})
	require.NoError(t, err)
	assert.Equal(t, model.Payload{"name": "b", "extra": 1}, out)

	_, err = r.Apply("missing", nil, nil)
	assert.ErrorIs(t, err, errors.ErrUnknownMutator)
}

func TestRegistry_ApplyDoesNotTouchInputs(t *testing.T) {
	r := NewStorefrontRegistry()

	current := model.Payload{"price": int64(10), "nested": map[string]any{"k": "v"}}
	args := model.Args{"price": int64(20)}

	_, err := r.Apply(UpdateVariantPrice, current, args)
	require.NoError(t, err)

	assert.Equal(t, int64(10), current["price"])
	assert.Equal(t, int64(20), args["price"])
}

func TestRegistry_PlainErrorsBecomeMutationErrors(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("fail", func(model.Payload, model.Args) (model.Payload, error) {
		return nil, fmt.Errorf("boom")
	})

	_, err := r.Apply("fail", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMutation)
	assert.Contains(t, err.Error(), "boom")
}

func TestRegistry_Guarded(t *testing.T) {
	r := NewStorefrontRegistry()
	assert.True(t, r.Guarded(UpdateVariantPrice))
	assert.True(t, r.Guarded(UpdateLineItemQuantity))
	assert.False(t, r.Guarded(CreateCart))
	assert.False(t, r.Guarded("missing"))
	assert.Len(t, r.Names(), 14)
}

// Mutators are deterministic: the same inputs always give the same output.
func TestStorefront_Deterministic(t *testing.T) {
	r := NewStorefrontRegistry()
	args := model.Args{"currency": "eur", "store_id": "store_1"}

	a, err := r.Apply(CreateCart, nil, args)
	require.NoError(t, err)
	b, err := r.Apply(CreateCart, nil, args)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "EUR", a["currency"])
}

func TestStorefront_Mutators(t *testing.T) {
	r := NewStorefrontRegistry()

	tests := []struct {
		name    string
		mutator string
		current model.Payload
		args    model.Args
		want    model.Payload
		wantErr bool
	}{
		{
			name:    "create store defaults currency",
			mutator: CreateStore,
			args:    model.Args{"name": "Shop"},
			want:    model.Payload{"name": "Shop", "currency": "USD"},
		},
		{
			name:    "create store requires name",
			mutator: CreateStore,
			args:    model.Args{},
			wantErr: true,
		},
		{
			name:    "create on existing record fails",
			mutator: CreateCart,
			current: model.Payload{"status": "open"},
			wantErr: true,
		},
		{
			name:    "update store keeps unknown fields",
			mutator: UpdateStore,
			current: model.Payload{"name": "a", "currency": "USD", "theme": "dark"},
			args:    model.Args{"name": "b"},
			want:    model.Payload{"name": "b", "currency": "USD", "theme": "dark"},
		},
		{
			name:    "update product rejects bad status",
			mutator: UpdateProduct,
			current: model.Payload{"title": "t"},
			args:    model.Args{"status": "gone"},
			wantErr: true,
		},
		{
			name:    "create variant",
			mutator: CreateVariant,
			args:    model.Args{"store_id": "s", "product_id": "p", "handle": "red-m", "price": float64(1999)},
			want:    model.Payload{"store_id": "s", "product_id": "p", "handle": "red-m", "price": int64(1999), "currency": "USD"},
		},
		{
			name:    "negative price",
			mutator: UpdateVariantPrice,
			current: model.Payload{"price": int64(5)},
			args:    model.Args{"price": -1},
			wantErr: true,
		},
		{
			name:    "fractional price",
			mutator: UpdateVariantPrice,
			current: model.Payload{"price": int64(5)},
			args:    model.Args{"price": 1.5},
			wantErr: true,
		},
		{
			name:    "add line item creates",
			mutator: AddLineItem,
			args:    model.Args{"cart_id": "c", "variant_id": "v", "quantity": 2},
			want:    model.Payload{"cart_id": "c", "variant_id": "v", "quantity": int64(2)},
		},
		{
			name:    "add line item accumulates",
			mutator: AddLineItem,
			current: model.Payload{"cart_id": "c", "variant_id": "v", "quantity": float64(2)},
			args:    model.Args{"quantity": 3},
			want:    model.Payload{"cart_id": "c", "variant_id": "v", "quantity": int64(5)},
		},
		{
			name:    "zero quantity removes",
			mutator: UpdateLineItemQuantity,
			current: model.Payload{"quantity": int64(2)},
			args:    model.Args{"quantity": 0},
			want:    nil,
		},
		{
			name:    "delete missing record fails",
			mutator: DeleteCart,
			wantErr: true,
		},
		{
			name:    "delete returns nil payload",
			mutator: DeleteProduct,
			current: model.Payload{"title": "t"},
			want:    nil,
		},
		{
			name:    "new address needs required fields",
			mutator: SetAddress,
			args:    model.Args{"line1": "1 Main St"},
			wantErr: true,
		},
		{
			name:    "address upsert",
			mutator: SetAddress,
			current: model.Payload{"line1": "1 Main St", "city": "Oslo", "country": "NO"},
			args:    model.Args{"city": "Bergen"},
			want:    model.Payload{"line1": "1 Main St", "city": "Bergen", "country": "NO"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Apply(tt.mutator, tt.current, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrMutation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
