package cart

import (
	"context"
	"fmt"

	"github.com/Olympe-Studio/ferndev/internal/action"
)

// InitializeCart loads the cart and the shop configuration. It is the only
// operation that writes the configuration store; both stores are written
// together or not at all.
func (s *Session) InitializeCart(ctx context.Context) (action.Result, error) {
	return s.run(ctx, "initialize cart", ActionInitialState, map[string]any{}, s.commitInitial)
}

// GetCart refreshes the cart from the server.
func (s *Session) GetCart(ctx context.Context) (action.Result, error) {
	return s.run(ctx, "fetch cart", ActionContents, map[string]any{}, s.commitCart)
}

// AddToCart adds one product line.
func (s *Session) AddToCart(ctx context.Context, item AddItem) (action.Result, error) {
	op := fmt.Sprintf("add product %d to cart", item.ProductID)
	return s.run(ctx, op, ActionAdd, item.args(), s.commitCart)
}

// BatchAddToCart adds several lines in one call. Per-item outcomes reported by
// the server stay in the result data.
func (s *Session) BatchAddToCart(ctx context.Context, items []AddItem) (action.Result, error) {
	lines := make([]map[string]any, 0, len(items))
	for _, item := range items {
		lines = append(lines, item.batchArgs())
	}
	op := fmt.Sprintf("add %d items to cart", len(items))
	return s.run(ctx, op, ActionBatchAdd, map[string]any{"items": lines}, s.commitCart)
}

// UpdateCartItem changes quantity and/or variation of a line. A quantity-only
// update is sent as UpdateQuantity. Variation changes require the line to be
// present in the local cart.
func (s *Session) UpdateCartItem(ctx context.Context, key string, update ItemUpdate) (action.Result, error) {
	op := fmt.Sprintf("update cart item %s", key)
	if update.VariationID == nil && update.Variation == nil {
		if update.Quantity == nil {
			return action.Result{}, precondition(op, errNoChanges)
		}
		return s.UpdateQuantity(ctx, key, *update.Quantity)
	}

	current, ok := s.cart.Get().Find(key)
	if !ok {
		return action.Result{}, precondition(op, errItemNotFound)
	}

	quantity := current.Quantity
	if update.Quantity != nil {
		quantity = *update.Quantity
	}
	if quantity < 0 {
		return action.Result{}, precondition(op, errNegativeQuantity)
	}

	variationID := current.VariationID
	if update.VariationID != nil {
		variationID = *update.VariationID
	}
	var variation any = map[string]any{}
	switch {
	case update.Variation != nil:
		variation = update.Variation
	case current.Variation != nil:
		variation = current.Variation
	}

	args := map[string]any{
		"key":          key,
		"quantity":     quantity,
		"variation_id": variationID,
		"variation":    variation,
	}
	return s.run(ctx, op, ActionUpdateItem, args, s.commitCart)
}

// UpdateQuantity sets the quantity of a line. Zero removes the line and
// negative quantities are rejected before any call is made.
func (s *Session) UpdateQuantity(ctx context.Context, key string, quantity int) (action.Result, error) {
	op := fmt.Sprintf("update quantity for cart item %s", key)
	switch {
	case quantity < 0:
		return action.Result{}, precondition(op, errNegativeQuantity)
	case quantity == 0:
		return s.RemoveFromCart(ctx, key)
	}
	args := map[string]any{"key": key, "quantity": quantity}
	return s.run(ctx, op, ActionUpdateQuantity, args, s.commitCart)
}

// RemoveFromCart drops a line.
func (s *Session) RemoveFromCart(ctx context.Context, key string) (action.Result, error) {
	op := fmt.Sprintf("remove cart item %s", key)
	return s.run(ctx, op, ActionRemove, map[string]any{"key": key}, s.commitCart)
}

// ClearCart empties the cart.
func (s *Session) ClearCart(ctx context.Context) (action.Result, error) {
	return s.run(ctx, "clear cart", ActionClear, map[string]any{}, s.commitCart)
}

// ApplyCoupon applies a discount code.
func (s *Session) ApplyCoupon(ctx context.Context, code string) (action.Result, error) {
	op := fmt.Sprintf("apply coupon %q", code)
	return s.run(ctx, op, ActionApplyCoupon, map[string]any{"code": code}, s.commitCart)
}

// RemoveCoupon removes a discount code.
func (s *Session) RemoveCoupon(ctx context.Context, code string) (action.Result, error) {
	op := fmt.Sprintf("remove coupon %q", code)
	return s.run(ctx, op, ActionRemoveCoupon, map[string]any{"code": code}, s.commitCart)
}

func (i AddItem) quantity() int {
	if i.Quantity == 0 {
		return 1
	}
	return i.Quantity
}

func (i AddItem) args() map[string]any {
	args := map[string]any{
		"product_id": i.ProductID,
		"quantity":   i.quantity(),
	}
	if i.VariationID != 0 {
		args["variation_id"] = i.VariationID
	}
	if len(i.Variation) > 0 {
		args["variation"] = i.Variation
	}
	if len(i.Meta) > 0 {
		args["meta"] = i.Meta
	}
	return args
}

func (i AddItem) batchArgs() map[string]any {
	variation := i.Variation
	if variation == nil {
		variation = map[string]string{}
	}
	line := map[string]any{
		"product_id":   i.ProductID,
		"quantity":     i.quantity(),
		"variation_id": i.VariationID,
		"variation":    variation,
	}
	if len(i.Meta) > 0 {
		line["meta"] = i.Meta
	}
	return line
}
