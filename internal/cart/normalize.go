package cart

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindBool
	kindAmount
	kindObject
	kindPrice
	kindItems
	kindCoupons
)

var (
	cartFields = map[string]fieldKind{
		"items":          kindItems,
		"item_count":     kindInt,
		"subtotal":       kindAmount,
		"discount_total": kindAmount,
		"tax_total":      kindAmount,
		"shipping_total": kindAmount,
		"total":          kindAmount,
		"currency":       kindString,
		"needs_shipping": kindBool,
		"coupons":        kindCoupons,
	}
	itemFields = map[string]fieldKind{
		"key":          kindString,
		"product_id":   kindInt,
		"variation_id": kindInt,
		"quantity":     kindInt,
		"name":         kindString,
		"price":        kindPrice,
		"subtotal":     kindAmount,
		"total":        kindAmount,
		"variation":    kindObject,
		"meta":         kindObject,
	}
	priceFields = map[string]fieldKind{
		"regular_price": kindAmount,
		"sale_price":    kindAmount,
		"price":         kindAmount,
		"on_sale":       kindBool,
		"currency":      kindString,
	}
	couponFields = map[string]fieldKind{
		"code":     kindString,
		"discount": kindAmount,
	}
)

// cartDefaults is DefaultCart in wire form.
func cartDefaults() map[string]any {
	return map[string]any{
		"items":          []any{},
		"item_count":     0,
		"subtotal":       "0",
		"discount_total": "0",
		"tax_total":      "0",
		"shipping_total": "0",
		"total":          "0",
		"needs_shipping": false,
	}
}

// normalizer coerces loosely typed server values (integral floats, 0/1
// booleans, numeric strings) into the types Cart decodes into. In strict mode
// the first value that cannot be coerced is an error; otherwise the field
// falls back to its default and its path is recorded in replaced.
type normalizer struct {
	strict   bool
	replaced []string
}

func (n *normalizer) object(path string, obj map[string]any, fields map[string]fieldKind, defaults map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	for key, kind := range fields {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		at := path + "." + key
		coerced, err := n.value(at, kind, v)
		if err == nil {
			out[key] = coerced
			continue
		}
		if n.strict {
			return nil, err
		}
		n.replaced = append(n.replaced, at)
		if d, ok := defaults[key]; ok {
			out[key] = d
		} else {
			delete(out, key)
		}
	}
	return out, nil
}

func (n *normalizer) value(path string, kind fieldKind, v any) (any, error) {
	switch kind {
	case kindString:
		if s, ok := stringValue(v); ok {
			return s, nil
		}
	case kindInt:
		if i, ok := intValue(v); ok {
			return i, nil
		}
	case kindBool:
		if b, ok := boolValue(v); ok {
			return b, nil
		}
	case kindAmount:
		if _, ok := v.(string); ok || isNumber(v) {
			return v, nil
		}
	case kindObject:
		switch t := v.(type) {
		case map[string]any:
			return t, nil
		case []any:
			// PHP encodes an empty associative array as [].
			if len(t) == 0 {
				return map[string]any{}, nil
			}
		}
	case kindPrice:
		if obj, ok := v.(map[string]any); ok {
			return n.object(path, obj, priceFields, nil)
		}
	case kindItems:
		return n.list(path, v, itemFields)
	case kindCoupons:
		return n.list(path, v, couponFields)
	}
	return nil, fmt.Errorf("%s: unexpected %T value", path, v)
}

func (n *normalizer) list(path string, v any, fields map[string]fieldKind) (any, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: %T is not an array", path, v)
	}
	out := make([]any, 0, len(raw))
	for i, e := range raw {
		at := fmt.Sprintf("%s[%d]", path, i)
		obj, ok := e.(map[string]any)
		if !ok {
			if n.strict {
				return nil, fmt.Errorf("%s: %T is not an object", at, e)
			}
			n.replaced = append(n.replaced, at)
			continue
		}
		norm, err := n.object(at, obj, fields, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, norm)
	}
	return out, nil
}

func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	}
	return "", false
}

func intValue(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return integral(f)
	case float64:
		return integral(t)
	case float32:
		return integral(float64(t))
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return integral(f)
		}
	}
	return 0, false
}

func integral(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

func boolValue(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true, true
		case "", "0", "false", "no", "off":
			return false, true
		}
		return false, false
	}
	if i, ok := intValue(v); ok && (i == 0 || i == 1) {
		return i == 1, true
	}
	return false, false
}
