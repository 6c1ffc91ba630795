package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/Olympe-Studio/ferndev/internal/action"
	"github.com/Olympe-Studio/ferndev/internal/cart"
)

var errUsage = errors.New("bad arguments")

type app struct {
	session *cart.Session
	out     io.Writer
	asJSON  bool
}

type command struct {
	minArgs int
	run     func(ctx context.Context, a *app, args []string) (action.Result, error)
}

var commands = map[string]command{
	"init": {run: func(ctx context.Context, a *app, _ []string) (action.Result, error) {
		return a.session.InitializeCart(ctx)
	}},
	"show": {run: func(ctx context.Context, a *app, _ []string) (action.Result, error) {
		return a.session.GetCart(ctx)
	}},
	"add": {minArgs: 1, run: func(ctx context.Context, a *app, args []string) (action.Result, error) {
		item, err := parseItem(strings.Join(args, ":"))
		if err != nil {
			return action.Result{}, err
		}
		return a.session.AddToCart(ctx, item)
	}},
	"batch": {minArgs: 1, run: func(ctx context.Context, a *app, args []string) (action.Result, error) {
		items := make([]cart.AddItem, 0, len(args))
		for _, arg := range args {
			item, err := parseItem(arg)
			if err != nil {
				return action.Result{}, err
			}
			items = append(items, item)
		}
		return a.session.BatchAddToCart(ctx, items)
	}},
	"qty": {minArgs: 2, run: func(ctx context.Context, a *app, args []string) (action.Result, error) {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return action.Result{}, fmt.Errorf("%w: quantity %q", errUsage, args[1])
		}
		return a.session.UpdateQuantity(ctx, args[0], n)
	}},
	"update": {minArgs: 2, run: func(ctx context.Context, a *app, args []string) (action.Result, error) {
		update, err := parseUpdate(args[1:])
		if err != nil {
			return action.Result{}, err
		}
		return a.session.UpdateCartItem(ctx, args[0], update)
	}},
	"rm": {minArgs: 1, run: func(ctx context.Context, a *app, args []string) (action.Result, error) {
		return a.session.RemoveFromCart(ctx, args[0])
	}},
	"clear": {run: func(ctx context.Context, a *app, _ []string) (action.Result, error) {
		return a.session.ClearCart(ctx)
	}},
	"coupon": {minArgs: 1, run: func(ctx context.Context, a *app, args []string) (action.Result, error) {
		return a.session.ApplyCoupon(ctx, args[0])
	}},
	"uncoupon": {minArgs: 1, run: func(ctx context.Context, a *app, args []string) (action.Result, error) {
		return a.session.RemoveCoupon(ctx, args[0])
	}},
}

// run executes one command line and prints its outcome.
func (a *app) run(ctx context.Context, args []string) error {
	name, rest := args[0], args[1:]
	if name == "price" {
		return a.price(rest)
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
	if len(rest) < cmd.minArgs {
		return fmt.Errorf("%w: %s needs %d argument(s)", errUsage, name, cmd.minArgs)
	}

	res, err := cmd.run(ctx, a, rest)
	if err != nil {
		return err
	}
	if !res.OK() {
		return res.Err()
	}
	if payload, v := cart.CheckPayload(res.Data); !v.Valid && payload != nil {
		fmt.Fprintf(a.out, "notice: %s\n", cart.SoftErrorMessage(payload))
		return nil
	}
	if results, ok := batchResults(res.Data); ok {
		for _, r := range results {
			fmt.Fprintf(a.out, "product %v: %s\n", r["product_id"], batchOutcome(r))
		}
	}
	return a.printCart()
}

func (a *app) price(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: price needs one amount", errUsage)
	}
	out, err := a.session.FormatAmount(cart.Amount(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, out)
	return nil
}

func (a *app) printCart() error {
	c := a.session.Cart().Get()
	if a.asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	}

	money := func(v cart.Amount) string {
		s, err := a.session.FormatAmount(v)
		if err != nil {
			return string(v)
		}
		return s
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tPRODUCT\tQTY\tPRICE\tTOTAL")
	for _, item := range c.Items {
		name := item.Name
		if name == "" {
			name = strconv.FormatInt(item.ProductID, 10)
		}
		if len(item.Variation) > 0 {
			name += " " + describeVariation(item.Variation)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", item.Key, name, item.Quantity, money(item.Price.Price), money(item.Total))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, coupon := range c.Coupons {
		fmt.Fprintf(a.out, "coupon %s: -%s\n", coupon.Code, money(coupon.Discount))
	}
	fmt.Fprintf(a.out, "items: %d  subtotal: %s  discount: %s  shipping: %s  tax: %s  total: %s\n",
		c.ItemCount, money(c.Subtotal), money(c.DiscountTotal), money(c.ShippingTotal), money(c.TaxTotal), money(c.Total))
	return nil
}

// parseItem reads product[:quantity[:variation]].
func parseItem(spec string) (cart.AddItem, error) {
	parts := strings.Split(spec, ":")
	if len(parts) > 3 {
		return cart.AddItem{}, fmt.Errorf("%w: item %q", errUsage, spec)
	}
	var item cart.AddItem
	var err error
	if item.ProductID, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
		return cart.AddItem{}, fmt.Errorf("%w: product %q", errUsage, parts[0])
	}
	if len(parts) > 1 {
		if item.Quantity, err = strconv.Atoi(parts[1]); err != nil || item.Quantity < 0 {
			return cart.AddItem{}, fmt.Errorf("%w: quantity %q", errUsage, parts[1])
		}
	}
	if len(parts) > 2 {
		if item.VariationID, err = strconv.ParseInt(parts[2], 10, 64); err != nil {
			return cart.AddItem{}, fmt.Errorf("%w: variation %q", errUsage, parts[2])
		}
	}
	return item, nil
}

func parseUpdate(args []string) (cart.ItemUpdate, error) {
	var update cart.ItemUpdate
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return cart.ItemUpdate{}, fmt.Errorf("%w: expected NAME=VALUE, got %q", errUsage, arg)
		}
		switch {
		case key == "qty":
			n, err := strconv.Atoi(value)
			if err != nil {
				return cart.ItemUpdate{}, fmt.Errorf("%w: quantity %q", errUsage, value)
			}
			update.Quantity = &n
		case key == "variation":
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return cart.ItemUpdate{}, fmt.Errorf("%w: variation %q", errUsage, value)
			}
			update.VariationID = &id
		case strings.HasPrefix(key, "attr."):
			if update.Variation == nil {
				update.Variation = map[string]string{}
			}
			update.Variation[strings.TrimPrefix(key, "attr.")] = value
		default:
			return cart.ItemUpdate{}, fmt.Errorf("%w: unknown field %q", errUsage, key)
		}
	}
	return update, nil
}

func batchResults(data any) ([]map[string]any, bool) {
	payload, ok := data.(map[string]any)
	if !ok {
		return nil, false
	}
	raw, ok := payload["results"].([]any)
	if !ok {
		return nil, false
	}
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, true
}

func batchOutcome(r map[string]any) string {
	if ok, _ := r["success"].(bool); ok {
		return "added"
	}
	if msg, _ := r["message"].(string); msg != "" {
		return "skipped: " + cart.SoftErrorMessage(map[string]any{"message": msg})
	}
	return "skipped"
}

func describeVariation(v map[string]any) string {
	parts := make([]string, 0, len(v))
	for k, val := range v {
		parts = append(parts, fmt.Sprintf("%s=%v", k, val))
	}
	sort.Strings(parts)
	return "(" + strings.Join(parts, ", ") + ")"
}
