package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/Olympe-Studio/ferndev/internal/action"
	"github.com/Olympe-Studio/ferndev/internal/cart"
	"github.com/Olympe-Studio/ferndev/internal/platform/config"
	"github.com/Olympe-Studio/ferndev/internal/platform/observability"
)

const usage = `usage: fern-cart [flags] [command [args...]]

Without a command, commands are read from stdin one per line and share one
cart session.

commands:
  init                                 load cart and shop configuration
  show                                 refresh and print the cart
  add <product> [qty] [variation]      add a product
  batch <product[:qty[:variation]]>... add several products
  qty <key> <n>                        set a line quantity (0 removes)
  update <key> [qty=N] [variation=N] [attr.NAME=VALUE]...
  rm <key>                             remove a line
  clear                                empty the cart
  coupon <code>                        apply a coupon
  uncoupon <code>                      remove a coupon
  price <amount>                       format an amount with shop rules
`

func main() {
	var (
		pageURL string
		envFile string
		cfgFile string
		asJSON  bool
	)
	flag.StringVar(&pageURL, "page", "", "page URL whose actions are called (overrides FERN_PAGE_URL)")
	flag.StringVar(&envFile, "env", ".env", "dotenv file to read")
	flag.StringVar(&cfgFile, "config", "", "YAML configuration file (overrides FERN_CONFIG_FILE)")
	flag.BoolVar(&asJSON, "json", false, "print carts as JSON")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []config.Option{config.WithEnvFile(envFile)}
	if cfgFile != "" {
		opts = append(opts, config.WithConfigFile(cfgFile))
	}
	if pageURL != "" {
		opts = append(opts, config.WithEnvMap(map[string]string{"FERN_PAGE_URL": pageURL}))
	}
	cfg, err := config.Load(ctx, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	logger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx = observability.WithLogger(ctx, logger.Named("cart"))
	app, err := newApp(ctx, cfg, os.Stdout, asJSON)
	if err != nil {
		logger.Error("failed to start cart session", zap.Error(err))
		os.Exit(1)
	}
	defer app.session.Close()

	if args := flag.Args(); len(args) > 0 {
		if err := app.run(ctx, args); err != nil {
			fmt.Fprintf(os.Stderr, "fern-cart: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := app.repl(ctx, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "fern-cart: %v\n", err)
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg config.Config, out io.Writer, asJSON bool) (*app, error) {
	logger := observability.FromContext(ctx)
	if cfg.Client.PageURL == "" {
		return nil, errors.New("a page URL is required (-page or FERN_PAGE_URL)")
	}
	mode, err := cart.ParseValidationMode(cfg.Cart.Validation)
	if err != nil {
		return nil, err
	}
	client, err := action.NewClient(cfg.Client.PageURL,
		action.WithLogger(logger.Named("action")),
		action.WithTimeout(cfg.Client.Timeout),
	)
	if err != nil {
		return nil, err
	}

	nonce := cfg.Client.Nonce
	if nonce == "" {
		nonce, err = client.FetchNonce(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch nonce: %w", err)
		}
		logger.Debug("nonce fetched from page")
	}

	sess := cart.NewSession(client,
		cart.WithNonce(nonce),
		cart.WithLogger(logger),
		cart.WithValidationMode(mode),
		cart.WithTimeout(cfg.Client.Timeout),
	)
	return &app{session: sess, out: out, asJSON: asJSON}, nil
}

func (a *app) repl(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		if err := a.run(ctx, strings.Fields(line)); err != nil {
			fmt.Fprintf(a.out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}
