package mutator

import (
	"fmt"
	"strings"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/model"
)

// Storefront mutator names.
const (
	CreateStore            = "createStore"
	UpdateStore            = "updateStore"
	CreateProduct          = "createProduct"
	UpdateProduct          = "updateProduct"
	DeleteProduct          = "deleteProduct"
	CreateVariant          = "createVariant"
	UpdateVariantPrice     = "updateVariantPrice"
	DeleteVariant          = "deleteVariant"
	CreateCart             = "createCart"
	AddLineItem            = "addLineItem"
	UpdateLineItemQuantity = "updateLineItemQuantity"
	RemoveLineItem         = "removeLineItem"
	DeleteCart             = "deleteCart"
	SetAddress             = "setAddress"
)

const defaultCurrency = "USD"

var productStatuses = map[string]struct{}{"draft": {}, "active": {}, "archived": {}}

// NewStorefrontRegistry returns a registry holding the storefront mutators.
func NewStorefrontRegistry() *Registry {
	r := NewRegistry()
	RegisterStorefront(r)
	return r
}

// RegisterStorefront registers the storefront mutators on r.
func RegisterStorefront(r *Registry) {
	r.MustRegister(CreateStore, createStore)
	r.MustRegister(UpdateStore, updateStore)
	r.MustRegister(CreateProduct, createProduct)
	r.MustRegister(UpdateProduct, updateProduct)
	r.MustRegister(DeleteProduct, remove(DeleteProduct))
	r.MustRegister(CreateVariant, createVariant)
	r.MustRegister(UpdateVariantPrice, updateVariantPrice, WithVersionGuard())
	r.MustRegister(DeleteVariant, remove(DeleteVariant))
	r.MustRegister(CreateCart, createCart)
	r.MustRegister(AddLineItem, addLineItem)
	r.MustRegister(UpdateLineItemQuantity, updateLineItemQuantity, WithVersionGuard())
	r.MustRegister(RemoveLineItem, remove(RemoveLineItem))
	r.MustRegister(DeleteCart, remove(DeleteCart))
	r.MustRegister(SetAddress, setAddress)
}

func mustNotExist(mutator string, current model.Payload) error {
	if current != nil {
		return errors.MutationFailed(mutator, "record already exists")
	}
	return nil
}

func mustExist(mutator string, current model.Payload) error {
	if current == nil {
		return errors.MutationFailed(mutator, "record does not exist")
	}
	return nil
}

func currency(mutator string, args model.Args) (string, error) {
	c, ok := args["currency"]
	if !ok {
		return defaultCurrency, nil
	}
	s, ok := c.(string)
	if !ok || len(s) != 3 {
		return "", argError(mutator, "currency", "must be a 3-letter ISO code")
	}
	return strings.ToUpper(s), nil
}

// copyStrings copies the string arguments named in fields onto p.
func copyStrings(mutator string, p model.Payload, args model.Args, fields ...string) error {
	for _, f := range fields {
		v, present := args[f]
		if !present {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return argError(mutator, f, "must be a string")
		}
		p[f] = s
	}
	return nil
}

func remove(mutator string) Func {
	return func(current model.Payload, _ model.Args) (model.Payload, error) {
		if err := mustExist(mutator, current); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func createStore(current model.Payload, args model.Args) (model.Payload, error) {
	if err := mustNotExist(CreateStore, current); err != nil {
		return nil, err
	}
	name, err := RequireString(CreateStore, args, "name")
	if err != nil {
		return nil, err
	}
	cur, err := currency(CreateStore, args)
	if err != nil {
		return nil, err
	}
	return model.Payload{"name": name, "currency": cur}, nil
}

func updateStore(current model.Payload, args model.Args) (model.Payload, error) {
	if err := mustExist(UpdateStore, current); err != nil {
		return nil, err
	}
	if _, ok := args["currency"]; ok {
		cur, err := currency(UpdateStore, args)
		if err != nil {
			return nil, err
		}
		current["currency"] = cur
	}
	if err := copyStrings(UpdateStore, current, args, "name"); err != nil {
		return nil, err
	}
	return current, nil
}

func createProduct(current model.Payload, args model.Args) (model.Payload, error) {
	if err := mustNotExist(CreateProduct, current); err != nil {
		return nil, err
	}
	storeID, err := RequireString(CreateProduct, args, "store_id")
	if err != nil {
		return nil, err
	}
	title, err := RequireString(CreateProduct, args, "title")
	if err != nil {
		return nil, err
	}
	p := model.Payload{"store_id": storeID, "title": title, "status": "draft"}
	if err := copyStrings(CreateProduct, p, args, "handle", "description"); err != nil {
		return nil, err
	}
	return p, nil
}

func updateProduct(current model.Payload, args model.Args) (model.Payload, error) {
	if err := mustExist(UpdateProduct, current); err != nil {
		return nil, err
	}
	if status, ok := args["status"]; ok {
		s, _ := status.(string)
		if _, valid := productStatuses[s]; !valid {
			return nil, argError(UpdateProduct, "status", "must be one of draft, active, archived")
		}
	}
	if err := copyStrings(UpdateProduct, current, args, "title", "description", "handle", "status"); err != nil {
		return nil, err
	}
	return current, nil
}

func createVariant(current model.Payload, args model.Args) (model.Payload, error) {
	if err := mustNotExist(CreateVariant, current); err != nil {
		return nil, err
	}
	p := model.Payload{}
	for _, f := range []string{"store_id", "product_id", "handle"} {
		v, err := RequireString(CreateVariant, args, f)
		if err != nil {
			return nil, err
		}
		p[f] = v
	}
	price, err := RequireInt64(CreateVariant, args, "price", 0)
	if err != nil {
		return nil, err
	}
	cur, err := currency(CreateVariant, args)
	if err != nil {
		return nil, err
	}
	p["price"] = price
	p["currency"] = cur

	if inv, ok, err := OptionalInt64(CreateVariant, args, "inventory", 0); err != nil {
		return nil, err
	} else if ok {
		p["inventory"] = inv
	}
	if err := copyStrings(CreateVariant, p, args, "sku", "title"); err != nil {
		return nil, err
	}
	return p, nil
}

func updateVariantPrice(current model.Payload, args model.Args) (model.Payload, error) {
	if err := mustExist(UpdateVariantPrice, current); err != nil {
		return nil, err
	}
	price, err := RequireInt64(UpdateVariantPrice, args, "price", 0)
	if err != nil {
		return nil, err
	}
	current["price"] = price
	return current, nil
}

func createCart(current model.Payload, args model.Args) (model.Payload, error) {
	if err := mustNotExist(CreateCart, current); err != nil {
		return nil, err
	}
	cur, err := currency(CreateCart, args)
	if err != nil {
		return nil, err
	}
	p := model.Payload{"currency": cur, "status": "open"}
	if err := copyStrings(CreateCart, p, args, "store_id", "customer_id", "email"); err != nil {
		return nil, err
	}
	return p, nil
}

// addLineItem creates a line item, or adds to its quantity when it exists.
func addLineItem(current model.Payload, args model.Args) (model.Payload, error) {
	qty, err := RequireInt64(AddLineItem, args, "quantity", 1)
	if err != nil {
		return nil, err
	}
	if current != nil {
		current["quantity"] = payloadInt64(current, "quantity") + qty
		return current, nil
	}

	cartID, err := RequireString(AddLineItem, args, "cart_id")
	if err != nil {
		return nil, err
	}
	variantID, err := RequireString(AddLineItem, args, "variant_id")
	if err != nil {
		return nil, err
	}
	p := model.Payload{"cart_id": cartID, "variant_id": variantID, "quantity": qty}
	if unit, ok, err := OptionalInt64(AddLineItem, args, "unit_price", 0); err != nil {
		return nil, err
	} else if ok {
		p["unit_price"] = unit
	}
	return p, nil
}

// updateLineItemQuantity sets the quantity; zero removes the line item.
func updateLineItemQuantity(current model.Payload, args model.Args) (model.Payload, error) {
	if err := mustExist(UpdateLineItemQuantity, current); err != nil {
		return nil, err
	}
	qty, err := RequireInt64(UpdateLineItemQuantity, args, "quantity", 0)
	if err != nil {
		return nil, err
	}
	if qty == 0 {
		return nil, nil
	}
	current["quantity"] = qty
	return current, nil
}

// setAddress creates or overwrites the address fields it is given.
func setAddress(current model.Payload, args model.Args) (model.Payload, error) {
	p := current
	if p == nil {
		p = model.Payload{}
		for _, f := range []string{"line1", "city", "country"} {
			if _, err := RequireString(SetAddress, args, f); err != nil {
				return nil, err
			}
		}
	}
	if err := copyStrings(SetAddress, p, args,
		"first_name", "last_name", "line1", "line2", "city", "province", "postal_code", "country", "phone"); err != nil {
		return nil, err
	}
	if c, ok := p["country"].(string); ok {
		if len(c) != 2 {
			return nil, errors.MutationFailed(SetAddress, fmt.Sprintf("country %q must be a 2-letter ISO code", c))
		}
		p["country"] = strings.ToUpper(c)
	}
	return p, nil
}
