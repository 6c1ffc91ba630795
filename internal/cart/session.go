// Package cart mirrors the server cart and shop configuration and exposes the
// cart operations a storefront needs.
package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Olympe-Studio/ferndev/internal/action"
	"github.com/Olympe-Studio/ferndev/internal/fault"
	"github.com/Olympe-Studio/ferndev/internal/format"
	"github.com/Olympe-Studio/ferndev/internal/store"
)

// Action names of the server contract.
const (
	ActionInitialState   = "getInitialState"
	ActionAdd            = "addToCart"
	ActionBatchAdd       = "batchAddToCart"
	ActionUpdateItem     = "updateCartItem"
	ActionUpdateQuantity = "updateCartItemQuantity"
	ActionRemove         = "removeFromCart"
	ActionContents       = "getCartContents"
	ActionClear          = "clearCart"
	ActionApplyCoupon    = "applyCoupon"
	ActionRemoveCoupon   = "removeCoupon"
)

var (
	errNotInitialized   = fault.New(fault.KindPrecondition, http.StatusBadRequest, "shop configuration not initialized")
	errNegativeQuantity = errors.New("quantity must be positive; use RemoveFromCart to drop an item")
	errItemNotFound     = errors.New("item not found in cart")
	errNoChanges        = errors.New("no changes supplied")
)

// Option configures a Session.
type Option func(*Session)

// WithNonce sets the nonce echoed on every call.
func WithNonce(nonce string) Option {
	return func(s *Session) {
		s.nonce = nonce
	}
}

// WithLogger sets the logger used for response validation messages.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithValidationMode picks how malformed cart payloads are handled.
func WithValidationMode(mode ValidationMode) Option {
	return func(s *Session) {
		s.mode = mode
	}
}

// WithTimeout sets the per-call timeout passed to the transport.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.timeout = d
	}
}

// Session is one cart context: a transport, its stores and its loading count.
// Sessions are independent of each other.
//
// Concurrent operations are allowed. Their results are committed in the order
// responses arrive, so a later call may be overwritten by an earlier one that
// resolves after it.
type Session struct {
	caller  action.Caller
	nonce   string
	timeout time.Duration
	mode    ValidationMode
	logger  *zap.Logger

	cart      *store.Store[Cart]
	config    *store.Store[*ShopConfig]
	loading   *loadingCounter
	itemCount *store.Derived[int]
}

// NewSession wires a fresh cart store, config store and loading counter.
func NewSession(caller action.Caller, opts ...Option) *Session {
	s := &Session{
		caller:  caller,
		mode:    Lenient,
		logger:  zap.NewNop(),
		cart:    store.New(DefaultCart(), store.WithClone(Cart.Clone)),
		config:  store.New[*ShopConfig](nil, store.WithClone((*ShopConfig).Clone)),
		loading: newLoadingCounter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.itemCount = store.Derive[Cart, int](s.cart, func(c Cart) int { return c.ItemCount })
	return s
}

// Cart returns the cart store.
func (s *Session) Cart() store.Readable[Cart] { return store.ReadOnly[Cart](s.cart) }

// Config returns the shop configuration store. It holds nil until
// InitializeCart succeeds.
func (s *Session) Config() store.Readable[*ShopConfig] {
	return store.ReadOnly[*ShopConfig](s.config)
}

// Loading reports whether any operation is in flight. Listeners run while the
// counter is locked and must not start cart operations synchronously.
func (s *Session) Loading() store.Readable[bool] { return store.ReadOnly[bool](s.loading.busy) }

// ItemCount follows the cart's item_count.
func (s *Session) ItemCount() store.Readable[int] { return s.itemCount }

// Pending returns the number of operations in flight.
func (s *Session) Pending() int { return s.loading.count() }

// Close detaches derived stores.
func (s *Session) Close() {
	s.itemCount.Close()
}

// FormatPrice renders amount with the shop's currency rules.
func (s *Session) FormatPrice(amount float64) (string, error) {
	f, err := s.priceFormat()
	if err != nil {
		return "", err
	}
	return format.PriceFloat(amount, f), nil
}

// FormatAmount renders a server amount string with the shop's currency rules.
func (s *Session) FormatAmount(amount Amount) (string, error) {
	f, err := s.priceFormat()
	if err != nil {
		return "", err
	}
	d, err := amount.Decimal()
	if err != nil {
		return "", fault.Wrap(fault.KindValidation, fmt.Sprintf("format amount %q", amount), err)
	}
	return format.Price(d, f), nil
}

func (s *Session) priceFormat() (format.PriceFormat, error) {
	f, err := s.config.Get().PriceFormat()
	if err != nil {
		return format.PriceFormat{}, fault.Wrap(fault.KindPrecondition, "format price", err)
	}
	return f, nil
}

// run is the shared operation template: mark busy, call, commit, unmark.
// The raw result is returned whatever commit decided.
func (s *Session) run(ctx context.Context, op, name string, args map[string]any, commit func(op string, res action.Result)) (res action.Result, err error) {
	s.loading.inc()
	defer s.loading.dec()
	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = fmt.Errorf("%v", r)
			}
			s.logger.Error("cart operation aborted", zap.String("op", op), zap.Error(cause))
			res = action.Result{}
			err = fault.Wrap(fault.KindNetwork, op, cause)
		}
	}()

	var opts []action.CallOption
	if s.timeout > 0 {
		opts = append(opts, action.Timeout(s.timeout))
	}
	res = s.caller.Call(ctx, name, args, s.nonce, opts...)
	commit(op, res)
	return res, nil
}

// commitCart writes the cart carried by res, if it passes validation.
func (s *Session) commitCart(op string, res action.Result) {
	payload, ok := s.payload(op, res)
	if !ok {
		return
	}
	c, ok := s.cartFrom(op, payload["cart"])
	if !ok {
		return
	}
	s.cart.Set(c)
}

func (s *Session) commitInitial(op string, res action.Result) {
	payload, ok := s.payload(op, res)
	if !ok {
		return
	}
	if v := CheckInitial(payload); !v.Valid {
		s.logger.Warn("invalid initial state", zap.String("op", op), zap.String("reason", v.Reason))
		return
	}
	c, ok := s.cartFrom(op, payload["cart"])
	if !ok {
		return
	}
	cfg, err := decodeConfig(payload["config"])
	if err != nil {
		s.logger.Warn("invalid shop configuration", zap.String("op", op), zap.Error(err))
		return
	}
	s.config.Set(cfg)
	s.cart.Set(c)
}

func (s *Session) payload(op string, res action.Result) (map[string]any, bool) {
	if !res.OK() {
		fields := []zap.Field{zap.String("op", op)}
		if res.Error != nil {
			fields = append(fields,
				zap.String("error", res.Error.Message),
				zap.Int("status", res.Error.Status),
				zap.String("kind", string(res.Error.Kind)),
			)
		}
		s.logger.Info("cart action failed", fields...)
		return nil, false
	}
	payload, v := CheckPayload(res.Data)
	if !v.Valid {
		s.logger.Warn("cart response rejected", zap.String("op", op), zap.String("reason", v.Reason))
		return nil, false
	}
	return payload, true
}

func (s *Session) cartFrom(op string, raw any) (Cart, bool) {
	if raw == nil {
		s.logger.Warn("cart response rejected", zap.String("op", op), zap.String("reason", "no cart in payload"))
		return Cart{}, false
	}
	obj, isObject := raw.(map[string]any)
	if v := CheckCart(raw); !v.Valid {
		if s.mode == Strict || !isObject {
			s.logger.Warn("cart response rejected", zap.String("op", op), zap.String("reason", v.Reason), zap.Stringer("mode", s.mode))
			return Cart{}, false
		}
		s.logger.Warn("malformed cart merged over defaults", zap.String("op", op), zap.String("reason", v.Reason))
		obj = mergeOverDefault(obj)
	}
	n := normalizer{strict: s.mode == Strict}
	normalized, err := n.object("cart", obj, cartFields, cartDefaults())
	if err != nil {
		s.logger.Warn("cart response rejected", zap.String("op", op), zap.Error(err), zap.Stringer("mode", s.mode))
		return Cart{}, false
	}
	if len(n.replaced) > 0 {
		s.logger.Warn("cart fields replaced by defaults", zap.String("op", op), zap.Strings("fields", n.replaced))
	}
	c, err := decodeCart(normalized)
	if err != nil {
		s.logger.Warn("cart response rejected", zap.String("op", op), zap.Error(err))
		return Cart{}, false
	}
	return c, true
}

func precondition(op string, cause error) error {
	return &fault.Error{
		Kind:    fault.KindPrecondition,
		Op:      op,
		Status:  http.StatusBadRequest,
		Message: cause.Error(),
		Err:     cause,
	}
}
