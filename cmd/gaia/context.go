// Command gaia is the scriptable CLI front end over the datastore client
// packages (config, transport, gateway, session, datastore, file),
// built in the shape of the teacher's app/host command tree: a
// Before-hook-composed *cli.Command forest sharing one per-invocation
// context value.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gaia-protocol/gaia-go/config"
	"github.com/gaia-protocol/gaia-go/datastore"
	"github.com/gaia-protocol/gaia-go/file"
	"github.com/gaia-protocol/gaia-go/gateway"
	"github.com/gaia-protocol/gaia-go/logging"
	"github.com/gaia-protocol/gaia-go/session"
	"github.com/gaia-protocol/gaia-go/transport"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

type gaiaCtxKey struct{}

// GaiaContext is threaded through every command's Action via context.Context,
// built by a Before hook (withClients or withLoggerOnly) and torn down by
// closeGaia.
type GaiaContext struct {
	Log       *slog.Logger
	Cfg       config.Config
	Store     *session.Store
	Transport *transport.Client
	Gateway   *gateway.Client
	Datastore *datastore.Client
	File      *file.Client
}

const (
	envCachePassphrase = "GAIA_CACHE_PASSPHRASE"
)

// withBefore returns a copy of cmd with before installed as its Before
// hook, chaining after any Before the command already declares.
func withBefore(cmd *cli.Command, before cli.BeforeFunc) *cli.Command {
	if cmd.Before == nil {
		cmd.Before = before
		return cmd
	}
	prev := cmd.Before
	cmd.Before = func(ctx context.Context, c *cli.Command) (context.Context, error) {
		ctx, err := prev(ctx, c)
		if err != nil {
			return ctx, err
		}
		return before(ctx, c)
	}
	return cmd
}

// withLoggerOnly builds a GaiaContext with just a logger, config, and the
// local session store -- no network clients -- for commands that only
// inspect local cache state.
func withLoggerOnly() cli.BeforeFunc {
	return func(ctx context.Context, c *cli.Command) (context.Context, error) {
		log := newLogger()
		cfg, err := config.Load()
		if err != nil {
			return ctx, fmt.Errorf("load config: %w", err)
		}
		store, err := openStore(cfg)
		if err != nil {
			return ctx, err
		}
		gc := &GaiaContext{Log: log, Cfg: cfg, Store: store}
		return context.WithValue(ctx, gaiaCtxKey{}, gc), nil
	}
}

// withClients builds the full wired client stack: config, transport,
// gateway, the local session store, and the datastore/file clients
// layered on top.
func withClients() cli.BeforeFunc {
	return func(ctx context.Context, c *cli.Command) (context.Context, error) {
		log := newLogger()
		cfg, err := config.Load()
		if err != nil {
			return ctx, fmt.Errorf("load config: %w", err)
		}
		store, err := openStore(cfg)
		if err != nil {
			return ctx, err
		}
		t, err := transport.New(cfg.BaseURL(), transport.WithLogger(log))
		if err != nil {
			return ctx, fmt.Errorf("build transport: %w", err)
		}
		gw, err := gateway.New(t)
		if err != nil {
			return ctx, fmt.Errorf("build gateway client: %w", err)
		}
		ds := datastore.New(gw, store, log)
		f := file.New(gw, ds, log)

		gc := &GaiaContext{
			Log: log, Cfg: cfg, Store: store,
			Transport: t, Gateway: gw, Datastore: ds, File: f,
		}
		return context.WithValue(ctx, gaiaCtxKey{}, gc), nil
	}
}

func openStore(cfg config.Config) (*session.Store, error) {
	pass := []byte(os.Getenv(envCachePassphrase))
	if len(pass) == 0 {
		var err error
		pass, err = obtainPassphrase("Cache passphrase")
		if err != nil {
			return nil, fmt.Errorf("obtain cache passphrase: %w", err)
		}
	}
	saltPath := cfg.CacheFile + ".salt"
	salt, err := os.ReadFile(saltPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read session cache salt %s: %w", saltPath, err)
	}
	store, err := session.Open(cfg.CacheFile, pass, salt)
	if err != nil {
		return nil, fmt.Errorf("open session cache %s: %w", cfg.CacheFile, err)
	}
	if len(salt) == 0 {
		if err := os.MkdirAll(filepath.Dir(saltPath), 0o700); err != nil {
			return nil, fmt.Errorf("create session cache dir: %w", err)
		}
		if err := os.WriteFile(saltPath, store.Salt(), 0o600); err != nil {
			return nil, fmt.Errorf("write session cache salt %s: %w", saltPath, err)
		}
	}
	return store, nil
}

// closeGaia is the app-level After hook; it flushes the rotating log
// file opened by newLogger, if any.
func closeGaia(ctx context.Context, c *cli.Command) error {
	logCloserMu.Lock()
	closer := logCloser
	logCloserMu.Unlock()
	if closer != nil {
		return closer.Close()
	}
	return nil
}

func mustGaia(ctx context.Context) *GaiaContext {
	gc, ok := ctx.Value(gaiaCtxKey{}).(*GaiaContext)
	if !ok {
		panic("gaia: command run without a GaiaContext Before hook")
	}
	return gc
}

var (
	logCloserMu sync.Mutex
	logCloser   io.Closer
)

// newLogger builds the process logger from GAIA_LOG_* env vars
// (logging.NewConfigFromEnv), stashing the rotating-file closer (if
// any) for closeGaia to flush on exit.
func newLogger() *slog.Logger {
	l, closer := logging.New(logging.NewConfigFromEnv())
	logCloserMu.Lock()
	logCloser = closer
	logCloserMu.Unlock()
	return l
}

func isTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// obtainPassphrase reads a passphrase from the controlling terminal
// without echoing it, or returns an error if stdin isn't a terminal
// (e.g. running under a script with no GAIA_CACHE_PASSPHRASE set).
func obtainPassphrase(prompt string) ([]byte, error) {
	if !isTTY(os.Stdin) {
		return nil, errors.New("no passphrase available: stdin is not a terminal and " + envCachePassphrase + " is unset")
	}
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return pass, nil
}
