package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Olympe-Studio/ferndev/internal/action"
	"github.com/Olympe-Studio/ferndev/internal/fault"
)

type recordedCall struct {
	name  string
	args  map[string]any
	nonce string
}

type stubCaller struct {
	mu       sync.Mutex
	calls    []recordedCall
	callFunc func(name string, args map[string]any) action.Result
}

func (s *stubCaller) Call(ctx context.Context, name string, args any, nonce string, opts ...action.CallOption) action.Result {
	m, _ := args.(map[string]any)
	s.mu.Lock()
	s.calls = append(s.calls, recordedCall{name: name, args: m, nonce: nonce})
	s.mu.Unlock()
	if s.callFunc == nil {
		return action.Result{Status: action.StatusOK, Data: decodeJSON(`{"cart":{"items":[],"item_count":0}}`)}
	}
	return s.callFunc(name, m)
}

func (s *stubCaller) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.name)
	}
	return out
}

func (s *stubCaller) last() recordedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

// decodeJSON decodes the way the transport does.
func decodeJSON(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		panic(err)
	}
	return out
}

func ok(raw string) action.Result {
	return action.Result{Status: action.StatusOK, Data: decodeJSON(raw)}
}

const sampleCart = `{
	"items": [
		{"key": "k1", "product_id": 12, "quantity": 2, "name": "Seal",
		 "price": {"regular_price": "10.00", "sale_price": "", "price": "10.00", "on_sale": false, "currency": "USD"},
		 "subtotal": "20.00", "total": "20.00", "variation": {"size": "M"}, "meta": {"engraving": "AB"}}
	],
	"item_count": 2, "subtotal": "20.00", "tax_total": "2.00", "shipping_total": "5.00", "total": "27.00",
	"needs_shipping": true
}`

const sampleConfig = `{
	"price_decimals": 2, "decimal_separator": ".", "thousand_separator": ",",
	"currency_symbol": "$", "currency_position": "left", "currency_code": "USD",
	"store_name": "Hanko", "tax_display_cart": "excl", "weight_unit": "kg"
}`

func newObservedSession(caller action.Caller, opts ...Option) (*Session, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	opts = append([]Option{WithLogger(zap.New(core)), WithNonce("n-1")}, opts...)
	return NewSession(caller, opts...), logs
}

func TestInitializeCartWritesBothStores(t *testing.T) {
	caller := &stubCaller{callFunc: func(name string, args map[string]any) action.Result {
		return ok(fmt.Sprintf(`{"cart": %s, "config": %s}`, sampleCart, sampleConfig))
	}}
	s, _ := newObservedSession(caller)
	defer s.Close()

	res, err := s.InitializeCart(context.Background())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, []string{ActionInitialState}, caller.names())
	assert.Equal(t, "n-1", caller.last().nonce)

	c := s.Cart().Get()
	require.Len(t, c.Items, 1)
	assert.Equal(t, 2, c.ItemCount)
	assert.Equal(t, Amount("27.00"), c.Total)
	assert.Equal(t, "AB", c.Items[0].Meta["engraving"])
	assert.Equal(t, 2, s.ItemCount().Get())

	cfg := s.Config().Get()
	require.NotNil(t, cfg)
	assert.Equal(t, "Hanko", cfg.StoreName)
	assert.Equal(t, "kg", cfg.Extra["weight_unit"])

	price, err := s.FormatPrice(1234.56)
	require.NoError(t, err)
	assert.Equal(t, "$1,234.56", price)
	price, err = s.FormatPrice(-10)
	require.NoError(t, err)
	assert.Equal(t, "-$10.00", price)
	price, err = s.FormatAmount(c.Total)
	require.NoError(t, err)
	assert.Equal(t, "$27.00", price)
}

func TestInitializeCartMissingConfigLeavesStoresUntouched(t *testing.T) {
	caller := &stubCaller{callFunc: func(string, map[string]any) action.Result {
		return ok(fmt.Sprintf(`{"cart": %s}`, sampleCart))
	}}
	s, logs := newObservedSession(caller)

	res, err := s.InitializeCart(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Nil(t, s.Config().Get())
	assert.Equal(t, DefaultCart(), s.Cart().Get())
	assert.Equal(t, 1, logs.FilterMessage("invalid initial state").Len())
}

func TestFormatPriceRequiresConfig(t *testing.T) {
	s := NewSession(&stubCaller{})
	_, err := s.FormatPrice(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrPrecondition)
	assert.Contains(t, err.Error(), "not initialized")

	partial := &stubCaller{callFunc: func(string, map[string]any) action.Result {
		return ok(`{"cart": {"items": [], "item_count": 0}, "config": {"price_decimals": 2, "currency_symbol": "$"}}`)
	}}
	s = NewSession(partial)
	_, err = s.InitializeCart(context.Background())
	require.NoError(t, err)
	_, err = s.FormatPrice(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decimal_separator")
	assert.Contains(t, err.Error(), "currency_position")
}

func TestAddToCartShapesArgsAndCommits(t *testing.T) {
	var busyDuringCall bool
	var pendingDuringCall int
	var s *Session
	caller := &stubCaller{callFunc: func(name string, args map[string]any) action.Result {
		busyDuringCall = s.Loading().Get()
		pendingDuringCall = s.Pending()
		return ok(fmt.Sprintf(`{"cart": %s}`, sampleCart))
	}}
	s, _ = newObservedSession(caller)

	res, err := s.AddToCart(context.Background(), AddItem{ProductID: 12, VariationID: 30, Variation: map[string]string{"size": "M"}})
	require.NoError(t, err)
	require.True(t, res.OK())

	call := caller.last()
	assert.Equal(t, ActionAdd, call.name)
	assert.Equal(t, int64(12), call.args["product_id"])
	assert.Equal(t, 1, call.args["quantity"])
	assert.Equal(t, int64(30), call.args["variation_id"])
	assert.NotContains(t, call.args, "meta")

	assert.True(t, busyDuringCall)
	assert.Equal(t, 1, pendingDuringCall)
	assert.False(t, s.Loading().Get())
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, 2, s.Cart().Get().ItemCount)
}

func TestBatchAddToCartDefaults(t *testing.T) {
	caller := &stubCaller{callFunc: func(string, map[string]any) action.Result {
		return ok(fmt.Sprintf(`{"cart": %s, "results": [{"product_id": 12, "success": true}, {"product_id": 99, "success": false}]}`, sampleCart))
	}}
	s, _ := newObservedSession(caller)

	res, err := s.BatchAddToCart(context.Background(), []AddItem{
		{ProductID: 12},
		{ProductID: 13, Quantity: 3, Meta: map[string]any{"gift": true}},
	})
	require.NoError(t, err)

	lines := caller.last().args["items"].([]map[string]any)
	require.Len(t, lines, 2)
	assert.Equal(t, 1, lines[0]["quantity"])
	assert.Equal(t, map[string]string{}, lines[0]["variation"])
	assert.Equal(t, int64(0), lines[0]["variation_id"])
	assert.Equal(t, 3, lines[1]["quantity"])
	assert.Equal(t, map[string]any{"gift": true}, lines[1]["meta"])

	data := res.Data.(map[string]any)
	assert.Len(t, data["results"], 2)
	assert.Equal(t, 2, s.Cart().Get().ItemCount)
}

func TestUpdateQuantityRouting(t *testing.T) {
	caller := &stubCaller{}
	s, _ := newObservedSession(caller)
	ctx := context.Background()

	_, err := s.UpdateQuantity(ctx, "k1", 0)
	require.NoError(t, err)
	_, err = s.RemoveFromCart(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []string{ActionRemove, ActionRemove}, caller.names())
	assert.Equal(t, map[string]any{"key": "k1"}, caller.last().args)

	_, err = s.UpdateQuantity(ctx, "k1", 4)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdateQuantity, caller.last().name)
	assert.Equal(t, map[string]any{"key": "k1", "quantity": 4}, caller.last().args)
}

func TestUpdateQuantityNegativeFailsWithoutCall(t *testing.T) {
	caller := &stubCaller{}
	s, _ := newObservedSession(caller)

	_, err := s.UpdateQuantity(context.Background(), "k1", -1)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrPrecondition)
	assert.ErrorIs(t, err, errNegativeQuantity)
	assert.Contains(t, err.Error(), "Failed to update quantity for cart item k1")
	assert.Empty(t, caller.names())
	assert.Equal(t, 0, s.Pending())
}

func TestUpdateQuantityIsIdempotent(t *testing.T) {
	var mu sync.Mutex
	quantity := 2
	caller := &stubCaller{callFunc: func(name string, args map[string]any) action.Result {
		mu.Lock()
		defer mu.Unlock()
		if q, ok := args["quantity"].(int); ok {
			quantity = q
		}
		return ok(fmt.Sprintf(`{"cart": {"items": [{"key": "k1", "product_id": 12, "quantity": %d, "subtotal": "%d.00", "total": "%d.00"}], "item_count": %d, "total": "%d.00"}}`,
			quantity, quantity*10, quantity*10, quantity, quantity*10))
	}}
	s, _ := newObservedSession(caller)
	ctx := context.Background()

	_, err := s.UpdateQuantity(ctx, "k1", 5)
	require.NoError(t, err)
	once := s.Cart().Get()
	_, err = s.UpdateQuantity(ctx, "k1", 5)
	require.NoError(t, err)
	assert.Equal(t, once, s.Cart().Get())
	assert.Equal(t, 5, once.ItemCount)
}

func TestUpdateCartItem(t *testing.T) {
	caller := &stubCaller{callFunc: func(string, map[string]any) action.Result {
		return ok(fmt.Sprintf(`{"cart": %s}`, sampleCart))
	}}
	s, _ := newObservedSession(caller)
	ctx := context.Background()

	variationID := int64(31)
	_, err := s.UpdateCartItem(ctx, "k1", ItemUpdate{VariationID: &variationID})
	require.Error(t, err, "k1 is not in the local cart yet")
	assert.ErrorIs(t, err, errItemNotFound)
	assert.Empty(t, caller.names())

	qty := 3
	_, err = s.UpdateCartItem(ctx, "k1", ItemUpdate{Quantity: &qty})
	require.NoError(t, err)
	assert.Equal(t, ActionUpdateQuantity, caller.last().name)
	assert.Equal(t, map[string]any{"key": "k1", "quantity": 3}, caller.last().args)

	_, err = s.UpdateCartItem(ctx, "k1", ItemUpdate{VariationID: &variationID, Variation: map[string]string{"size": "L"}})
	require.NoError(t, err)
	call := caller.last()
	assert.Equal(t, ActionUpdateItem, call.name)
	assert.Equal(t, "k1", call.args["key"])
	assert.Equal(t, 2, call.args["quantity"])
	assert.Equal(t, int64(31), call.args["variation_id"])
	assert.Equal(t, map[string]string{"size": "L"}, call.args["variation"])

	_, err = s.UpdateCartItem(ctx, "k1", ItemUpdate{})
	assert.ErrorIs(t, err, fault.ErrPrecondition)
}

func TestLoadingCounterSettlesAfterConcurrentCalls(t *testing.T) {
	caller := &stubCaller{callFunc: func(name string, args map[string]any) action.Result {
		switch args["quantity"] {
		case 3:
			return action.Result{Status: action.StatusError, Error: &action.ResultError{Message: "HTTP error 500", Status: 500}}
		case 4:
			panic(errors.New("transport exploded"))
		}
		return ok(`{"cart": {"items": [], "item_count": 0}}`)
	}}
	s, _ := newObservedSession(caller)

	var transitions []bool
	var tmu sync.Mutex
	stop := s.Loading().Subscribe(func(v bool) {
		tmu.Lock()
		transitions = append(transitions, v)
		tmu.Unlock()
	})
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.UpdateQuantity(context.Background(), "k", i%6-1)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, s.Pending())
	assert.False(t, s.Loading().Get())
	tmu.Lock()
	defer tmu.Unlock()
	assert.False(t, transitions[0])
	assert.False(t, transitions[len(transitions)-1])
}

func TestPanickingCallerIsWrapped(t *testing.T) {
	cause := errors.New("socket gone")
	caller := &stubCaller{callFunc: func(string, map[string]any) action.Result { panic(cause) }}
	s, _ := newObservedSession(caller)

	_, err := s.ClearCart(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Failed to clear cart: socket gone", err.Error())
	assert.False(t, s.Loading().Get())

	s = NewSession(nil)
	_, err = s.GetCart(context.Background())
	assert.ErrorIs(t, err, fault.ErrNetwork)
	assert.Equal(t, 0, s.Pending())
}

func TestMalformedCartMergedOverDefaults(t *testing.T) {
	caller := &stubCaller{callFunc: func(string, map[string]any) action.Result {
		return ok(`{"cart": {"item_count": 2, "total": "5.00", "items": "broken"}}`)
	}}
	s, logs := newObservedSession(caller)

	res, err := s.GetCart(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK())

	c := s.Cart().Get()
	assert.Equal(t, []Item{}, c.Items)
	assert.Equal(t, 2, c.ItemCount)
	assert.Equal(t, Amount("5.00"), c.Total)
	assert.Equal(t, Amount("0"), c.Subtotal)
	assert.Equal(t, 1, logs.FilterMessage("malformed cart merged over defaults").Len())
}

func TestStrictModeDiscardsMalformedCart(t *testing.T) {
	caller := &stubCaller{callFunc: func(string, map[string]any) action.Result {
		return ok(`{"cart": {"item_count": 2}}`)
	}}
	s, logs := newObservedSession(caller, WithValidationMode(Strict))

	_, err := s.GetCart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultCart(), s.Cart().Get())
	assert.Equal(t, 1, logs.FilterMessage("cart response rejected").Len())
}

func TestResponsesThatSkipTheStore(t *testing.T) {
	cases := map[string]action.Result{
		"transport error": {Status: action.StatusError, Error: &action.ResultError{Message: "Request timeout after 10ms", Status: 408, Kind: fault.KindTimeout}},
		"text payload":    {Status: action.StatusOK, Data: "<html>login</html>"},
		"soft failure":    ok(`{"status": "error", "message": "<p>Out of <strong>stock</strong> &amp; gone</p>"}`),
		"missing cart":    ok(`{"notice": "hi"}`),
		"null cart":       ok(`{"cart": null}`),
		"nil data":        {Status: action.StatusOK},
	}
	for name, result := range cases {
		t.Run(name, func(t *testing.T) {
			caller := &stubCaller{callFunc: func(string, map[string]any) action.Result { return result }}
			s, _ := newObservedSession(caller)

			res, err := s.ApplyCoupon(context.Background(), "WELCOME10")
			require.NoError(t, err)
			assert.Equal(t, result.Status, res.Status)
			assert.Equal(t, DefaultCart(), s.Cart().Get())
			assert.Equal(t, map[string]any{"code": "WELCOME10"}, caller.last().args)
		})
	}
}

func TestSoftErrorMessageIsPlainText(t *testing.T) {
	payload := decodeJSON(`{"status": "error", "message": "<p>Out of <strong>stock</strong> &amp; gone</p>"}`).(map[string]any)
	_, v := CheckPayload(payload)
	assert.False(t, v.Valid)
	assert.Equal(t, "server reported an error: Out of stock & gone", v.Reason)
}

func TestCartSnapshotsAreIsolated(t *testing.T) {
	caller := &stubCaller{callFunc: func(string, map[string]any) action.Result {
		return ok(fmt.Sprintf(`{"cart": %s}`, sampleCart))
	}}
	s, _ := newObservedSession(caller)
	_, err := s.RemoveCoupon(context.Background(), "OLD")
	require.NoError(t, err)

	snapshot := s.Cart().Get()
	snapshot.Items[0].Quantity = 99
	snapshot.Items[0].Meta["engraving"] = "ZZ"

	fresh := s.Cart().Get()
	assert.Equal(t, 2, fresh.Items[0].Quantity)
	assert.Equal(t, "AB", fresh.Items[0].Meta["engraving"])
}

func TestSessionsAreIndependent(t *testing.T) {
	a := NewSession(&stubCaller{callFunc: func(string, map[string]any) action.Result {
		return ok(fmt.Sprintf(`{"cart": %s}`, sampleCart))
	}})
	b := NewSession(&stubCaller{})

	_, err := a.GetCart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, a.Cart().Get().ItemCount)
	assert.Equal(t, 0, b.Cart().Get().ItemCount)
}

func TestLooselyTypedCartsAreCommitted(t *testing.T) {
	cases := []struct {
		name     string
		mode     ValidationMode
		cart     string
		check    func(t *testing.T, c Cart)
		replaced []any
	}{
		{
			name: "integral float counts",
			mode: Strict,
			cart: `{"items": [{"key": "k1", "product_id": 12.0, "quantity": 2.0}], "item_count": 2.0, "total": "20.00"}`,
			check: func(t *testing.T, c Cart) {
				assert.Equal(t, 2, c.ItemCount)
				require.Len(t, c.Items, 1)
				assert.Equal(t, 2, c.Items[0].Quantity)
				assert.Equal(t, int64(12), c.Items[0].ProductID)
			},
		},
		{
			name: "numeric booleans",
			mode: Strict,
			cart: `{"items": [{"key": "k1", "quantity": 1, "price": {"price": 9.5, "on_sale": 0}}], "item_count": 1, "needs_shipping": 1}`,
			check: func(t *testing.T, c Cart) {
				assert.True(t, c.NeedsShipping)
				require.Len(t, c.Items, 1)
				assert.False(t, c.Items[0].Price.OnSale)
				assert.Equal(t, Amount("9.5"), c.Items[0].Price.Price)
			},
		},
		{
			name: "numeric strings and empty variation list",
			mode: Strict,
			cart: `{"items": [{"key": 7, "quantity": "3", "variation": []}], "item_count": 3, "needs_shipping": "yes"}`,
			check: func(t *testing.T, c Cart) {
				require.Len(t, c.Items, 1)
				assert.Equal(t, "7", c.Items[0].Key)
				assert.Equal(t, 3, c.Items[0].Quantity)
				assert.Empty(t, c.Items[0].Variation)
				assert.True(t, c.NeedsShipping)
			},
		},
		{
			name: "malformed cart keeps its usable fields",
			mode: Lenient,
			cart: `{"item_count": 2, "total": "5.00", "needs_shipping": "yes"}`,
			check: func(t *testing.T, c Cart) {
				assert.Equal(t, []Item{}, c.Items)
				assert.Equal(t, 2, c.ItemCount)
				assert.Equal(t, Amount("5.00"), c.Total)
				assert.True(t, c.NeedsShipping)
			},
		},
		{
			name: "wrongly typed fields fall back to defaults",
			mode: Lenient,
			cart: `{"items": [{"key": "k1", "quantity": "lots", "name": ["x"]}, "junk"], "item_count": 1, "total": true}`,
			check: func(t *testing.T, c Cart) {
				assert.Equal(t, Amount("0"), c.Total)
				assert.Equal(t, 1, c.ItemCount)
				require.Len(t, c.Items, 1)
				assert.Equal(t, "k1", c.Items[0].Key)
				assert.Equal(t, 0, c.Items[0].Quantity)
				assert.Empty(t, c.Items[0].Name)
			},
			replaced: []any{"cart.total", "cart.items[0].quantity", "cart.items[0].name", "cart.items[1]"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			caller := &stubCaller{callFunc: func(string, map[string]any) action.Result {
				return ok(`{"cart": ` + tc.cart + `}`)
			}}
			s, logs := newObservedSession(caller, WithValidationMode(tc.mode))

			_, err := s.GetCart(context.Background())
			require.NoError(t, err)
			assert.Zero(t, logs.FilterMessage("cart response rejected").Len())
			c := s.Cart().Get()
			tc.check(t, c)
			assert.Equal(t, c.ItemCount, s.ItemCount().Get())

			replaced := logs.FilterMessage("cart fields replaced by defaults").All()
			if tc.replaced == nil {
				assert.Empty(t, replaced)
				return
			}
			require.Len(t, replaced, 1)
			assert.ElementsMatch(t, tc.replaced, replaced[0].ContextMap()["fields"])
		})
	}
}

func TestStrictModeRejectsUncoercibleFields(t *testing.T) {
	caller := &stubCaller{callFunc: func(string, map[string]any) action.Result {
		return ok(`{"cart": {"items": [], "item_count": 1, "total": true}}`)
	}}
	s, logs := newObservedSession(caller, WithValidationMode(Strict))

	_, err := s.GetCart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultCart(), s.Cart().Get())
	assert.Equal(t, 1, logs.FilterMessage("cart response rejected").Len())
}

func TestItemCountAgreesWithCartAfterOverlappingCommits(t *testing.T) {
	caller := &stubCaller{callFunc: func(_ string, args map[string]any) action.Result {
		n := args["quantity"].(int)
		return ok(fmt.Sprintf(`{"cart": {"items": [], "item_count": %d}}`, n))
	}}
	s, _ := newObservedSession(caller)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 1; i <= 30; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = s.UpdateQuantity(context.Background(), "k1", n)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, s.Cart().Get().ItemCount, s.ItemCount().Get())
}
