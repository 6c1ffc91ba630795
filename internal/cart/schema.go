package cart

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ValidationMode decides what happens to a cart payload that fails the shape check.
type ValidationMode int

const (
	// Lenient merges a malformed cart over DefaultCart and commits the result.
	Lenient ValidationMode = iota
	// Strict discards malformed carts.
	Strict
)

// ParseValidationMode maps "lenient" and "strict"; anything else is an error.
func ParseValidationMode(s string) (ValidationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lenient":
		return Lenient, nil
	case "strict":
		return Strict, nil
	default:
		return Lenient, fmt.Errorf("cart: unknown validation mode %q", s)
	}
}

func (m ValidationMode) String() string {
	if m == Strict {
		return "strict"
	}
	return "lenient"
}

// Validity is the outcome of a shape check.
type Validity struct {
	Valid  bool
	Reason string
}

func valid() Validity { return Validity{Valid: true} }

func invalid(format string, args ...any) Validity {
	return Validity{Reason: fmt.Sprintf(format, args...)}
}

var noticePolicy = bluemonday.StrictPolicy()

// CheckPayload requires data to be an object without an embedded error marker.
func CheckPayload(data any) (map[string]any, Validity) {
	payload, ok := data.(map[string]any)
	if !ok || payload == nil {
		return nil, invalid("payload is %T, not an object", data)
	}
	if status, _ := payload["status"].(string); status == "error" {
		return payload, invalid("server reported an error: %s", SoftErrorMessage(payload))
	}
	return payload, valid()
}

// CheckCart requires an items array and a numeric item_count.
func CheckCart(v any) Validity {
	obj, ok := v.(map[string]any)
	if !ok || obj == nil {
		return invalid("cart is %T, not an object", v)
	}
	if _, ok := obj["items"].([]any); !ok {
		return invalid("cart.items is %T, not an array", obj["items"])
	}
	if !isNumber(obj["item_count"]) {
		return invalid("cart.item_count is %T, not a number", obj["item_count"])
	}
	return valid()
}

// CheckInitial requires both cart and config to be present.
func CheckInitial(payload map[string]any) Validity {
	var missing []string
	if payload["cart"] == nil {
		missing = append(missing, "cart")
	}
	if payload["config"] == nil {
		missing = append(missing, "config")
	}
	if len(missing) > 0 {
		return invalid("initial state missing %s", strings.Join(missing, " and "))
	}
	return valid()
}

// SoftErrorMessage extracts the plain-text message of an embedded server
// error. Servers often send HTML notices here.
func SoftErrorMessage(payload map[string]any) string {
	candidates := []any{payload["message"], payload["error"]}
	if errObj, ok := payload["error"].(map[string]any); ok {
		candidates = append(candidates, errObj["message"])
	}
	if data, ok := payload["data"].(map[string]any); ok {
		candidates = append(candidates, data["message"])
	}
	for _, c := range candidates {
		if s, ok := c.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(html.UnescapeString(noticePolicy.Sanitize(s)))
		}
	}
	return "unknown error"
}

func isNumber(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Float64()
		return err == nil
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return true
	default:
		return false
	}
}

// mergeOverDefault overlays the usable keys of a malformed cart on DefaultCart.
// Required keys of the wrong type keep their default.
func mergeOverDefault(obj map[string]any) map[string]any {
	merged := cartDefaults()
	for k, v := range obj {
		switch k {
		case "items":
			if _, ok := v.([]any); !ok {
				continue
			}
		case "item_count":
			if !isNumber(v) {
				continue
			}
		}
		merged[k] = v
	}
	return merged
}

func decodeCart(v any) (Cart, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Cart{}, err
	}
	var c Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cart{}, err
	}
	if c.Items == nil {
		c.Items = []Item{}
	}
	return c, nil
}

func decodeConfig(v any) (*ShopConfig, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var cfg ShopConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
