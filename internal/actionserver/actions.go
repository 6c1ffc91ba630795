package actionserver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Olympe-Studio/ferndev/internal/cart"
)

func (s *Server) actionTable() map[string]actionHandler {
	return map[string]actionHandler{
		cart.ActionInitialState:   {fn: s.initialState},
		cart.ActionContents:       {fn: s.contents},
		cart.ActionAdd:            {mutating: true, fn: s.addToCart},
		cart.ActionBatchAdd:       {mutating: true, fn: s.batchAddToCart},
		cart.ActionUpdateItem:     {mutating: true, fn: s.updateCartItem},
		cart.ActionUpdateQuantity: {mutating: true, fn: s.updateQuantity},
		cart.ActionRemove:         {mutating: true, fn: s.removeFromCart},
		cart.ActionClear:          {mutating: true, fn: s.clearCart},
		cart.ActionApplyCoupon:    {mutating: true, fn: s.applyCoupon},
		cart.ActionRemoveCoupon:   {mutating: true, fn: s.removeCoupon},
	}
}

func (s *Server) withCart(sess *session, extra map[string]any) map[string]any {
	out := map[string]any{"cart": sess.cart.view(s.catalog, s.shop)}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (s *Server) initialState(sess *session, _ map[string]any) (map[string]any, error) {
	return s.withCart(sess, map[string]any{"config": s.shop.config("/")}), nil
}

func (s *Server) contents(sess *session, _ map[string]any) (map[string]any, error) {
	return s.withCart(sess, nil), nil
}

func (s *Server) addToCart(sess *session, args map[string]any) (map[string]any, error) {
	in, err := lineFromArgs(args, 1)
	if err != nil {
		return nil, err
	}
	key, err := sess.cart.add(s.catalog, in)
	if err != nil {
		return nil, err
	}
	return s.withCart(sess, map[string]any{"item_key": key}), nil
}

type batchResult struct {
	ProductID int64  `json:"product_id"`
	Success   bool   `json:"success"`
	Key       string `json:"key,omitempty"`
	Message   string `json:"message,omitempty"`
}

// batchAddToCart adds what it can and reports each line.
func (s *Server) batchAddToCart(sess *session, args map[string]any) (map[string]any, error) {
	items, err := argList(args, "items")
	if err != nil {
		return nil, err
	}
	results := make([]batchResult, 0, len(items))
	for i, raw := range items {
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("items[%d] must be an object", i)
		}
		in, err := lineFromArgs(obj, 1)
		if err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, err)
		}
		res := batchResult{ProductID: in.productID}
		key, err := sess.cart.add(s.catalog, in)
		if n, soft := isNotice(err); soft {
			res.Message = n.msg
		} else if err != nil {
			return nil, err
		} else {
			res.Success = true
			res.Key = key
		}
		results = append(results, res)
	}
	return s.withCart(sess, map[string]any{"results": results}), nil
}

func (s *Server) updateCartItem(sess *session, args map[string]any) (map[string]any, error) {
	key, err := requiredString(args, "key")
	if err != nil {
		return nil, err
	}
	quantity, ok, err := argInt(args, "quantity")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("quantity is required")
	}
	in := lineInput{quantity: int(quantity)}
	if in.variationID, _, err = argInt(args, "variation_id"); err != nil {
		return nil, err
	}
	if in.variation, err = argStringMap(args, "variation"); err != nil {
		return nil, err
	}
	if err := sess.cart.update(s.catalog, key, in); err != nil {
		return nil, err
	}
	return s.withCart(sess, nil), nil
}

func (s *Server) updateQuantity(sess *session, args map[string]any) (map[string]any, error) {
	key, err := requiredString(args, "key")
	if err != nil {
		return nil, err
	}
	quantity, ok, err := argInt(args, "quantity")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("quantity is required")
	}
	if err := sess.cart.setQuantity(s.catalog, key, int(quantity)); err != nil {
		return nil, err
	}
	return s.withCart(sess, nil), nil
}

func (s *Server) removeFromCart(sess *session, args map[string]any) (map[string]any, error) {
	key, err := requiredString(args, "key")
	if err != nil {
		return nil, err
	}
	if err := sess.cart.remove(key); err != nil {
		return nil, err
	}
	return s.withCart(sess, nil), nil
}

func (s *Server) clearCart(sess *session, _ map[string]any) (map[string]any, error) {
	sess.cart.clear()
	return s.withCart(sess, nil), nil
}

func (s *Server) applyCoupon(sess *session, args map[string]any) (map[string]any, error) {
	code, err := requiredString(args, "code")
	if err != nil {
		return nil, err
	}
	if err := sess.cart.applyCoupon(s.shop, strings.ToUpper(code)); err != nil {
		return nil, err
	}
	return s.withCart(sess, nil), nil
}

func (s *Server) removeCoupon(sess *session, args map[string]any) (map[string]any, error) {
	code, err := requiredString(args, "code")
	if err != nil {
		return nil, err
	}
	if err := sess.cart.removeCoupon(strings.ToUpper(code)); err != nil {
		return nil, err
	}
	return s.withCart(sess, nil), nil
}

func requiredString(args map[string]any, key string) (string, error) {
	v := argString(args, key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}
