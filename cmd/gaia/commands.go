package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gaia-protocol/gaia-go/apierr"
	"github.com/gaia-protocol/gaia-go/datastore"
	"github.com/gaia-protocol/gaia-go/file"
	"github.com/gaia-protocol/gaia-go/gaiacrypto"
	"github.com/gaia-protocol/gaia-go/keystore"
	"github.com/gaia-protocol/gaia-go/replication"
	"github.com/gaia-protocol/gaia-go/session"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

func identityFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "datastore-id", Usage: "single-reader datastore id to mount", Sources: cli.EnvVars("GAIA_DATASTORE_ID")},
		&cli.StringFlag{Name: "device-id", Usage: "this device's id", Sources: cli.EnvVars("GAIA_DEVICE_ID"), Required: true},
		&cli.StringFlag{Name: "blockchain-id", Usage: "owner id for multi-reader mount/mount-or-create", Sources: cli.EnvVars("GAIA_BLOCKCHAIN_ID")},
		&cli.StringFlag{Name: "app-name", Usage: "application name for multi-reader mount/mount-or-create", Sources: cli.EnvVars("GAIA_APP_NAME")},
		&cli.StringFlag{Name: "key-hex", Usage: "hex-encoded secp256k1 signing key for this device (else a local keystore key is loaded/created)", Sources: cli.EnvVars("GAIA_PRIVATE_KEY_HEX")},
		&cli.StringFlag{Name: "auth-jwt", Usage: "hub auth JWT to exchange for a session bearer token", Sources: cli.EnvVars("GAIA_AUTH_JWT")},
	}
}

func createFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "root-uuid", Usage: "root page uuid to use when creating (random if omitted)"},
		&cli.StringFlag{Name: "datastore-type", Value: "datastore", Usage: "datastore type recorded in the descriptor"},
		&cli.StringSliceFlag{Name: "all-device-ids", Usage: "every device id that should read/write this datastore"},
		&cli.StringSliceFlag{Name: "drivers", Usage: "preferred storage drivers, in order (skips replication selection)"},
		&cli.StringSliceFlag{Name: "strategy", Usage: "replication concern=count pairs, e.g. public=1,local=1"},
		&cli.StringFlag{Name: "api-password", Usage: "gateway API password for the create auxiliary auth path", Sources: cli.EnvVars("GAIA_API_PASSWORD")},
	}
}

// loadPrivateKey returns the device signing key from --key-hex if given,
// else loads (or, on first run, creates) it from the local keystore
// under the config cache directory. The keystore passphrase is taken
// from GAIA_CACHE_PASSPHRASE, the same variable the session store
// reads; when that is unset it is prompted for separately.
func loadPrivateKey(gc *GaiaContext, c *cli.Command) (*gaiacrypto.PrivateKey, error) {
	if hexKey := c.String("key-hex"); hexKey != "" {
		return gaiacrypto.DecodePrivateKeyHex(hexKey)
	}

	pass := []byte(os.Getenv(envCachePassphrase))
	if len(pass) == 0 {
		var err error
		pass, err = obtainPassphrase("Keystore passphrase")
		if err != nil {
			return nil, err
		}
	}
	ks := keystore.New(filepath.Join(filepath.Dir(gc.Cfg.CacheFile), "keystore"))
	return ks.LoadOrCreate(pass)
}

// resolveBearer exchanges auth-jwt for a session bearer token on first
// use and caches it in the local session store, else reuses whatever
// bearer token is already cached.
func resolveBearer(ctx context.Context, gc *GaiaContext, c *cli.Command) (string, error) {
	state, err := gc.Store.Load()
	if err != nil {
		return "", err
	}
	if jwt := c.String("auth-jwt"); jwt != "" {
		tok, err := gc.Gateway.Auth(ctx, jwt)
		if err != nil {
			return "", fmt.Errorf("auth: %w", err)
		}
		state.SetCoreSessionToken(tok)
		if err := gc.Store.Save(state); err != nil {
			return "", err
		}
		return tok, nil
	}
	return state.CoreSessionToken(), nil
}

func parseStrategy(pairs []string) replication.Strategy {
	s := replication.Strategy{}
	for _, p := range pairs {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			continue
		}
		s[replication.Concern(strings.TrimSpace(kv[0]))] = n
	}
	return s
}

func mountOrCreate(ctx context.Context, gc *GaiaContext, c *cli.Command, bearer string, priv *gaiacrypto.PrivateKey) (*session.Context, error) {
	rootUUID := c.String("root-uuid")
	if rootUUID == "" {
		rootUUID = uuid.NewString()
	}
	allDevices := c.StringSlice("all-device-ids")
	if len(allDevices) == 0 {
		allDevices = []string{c.String("device-id")}
	}
	opts := datastore.MountOrCreateOptions{
		Mount: datastore.MountOptions{
			DatastoreID:  c.String("datastore-id"),
			DeviceID:     c.String("device-id"),
			DataPubkeys:  []string{priv.UncompressedPublicKeyHex()},
			BlockchainID: c.String("blockchain-id"),
			AppName:      c.String("app-name"),
		},
		Priv:             priv,
		DeviceID:         c.String("device-id"),
		AllDeviceIDs:     allDevices,
		RootUUID:         rootUUID,
		DatastoreType:    c.String("datastore-type"),
		Strategy:         parseStrategy(c.StringSlice("strategy")),
		Classification:   nil,
		PreferredDrivers: c.StringSlice("drivers"),
		APIPassword:      c.String("api-password"),
	}
	return gc.Datastore.MountOrCreate(ctx, bearer, opts)
}

func mountOnly(ctx context.Context, gc *GaiaContext, c *cli.Command) (*session.Context, error) {
	opts := datastore.MountOptions{
		DatastoreID:  c.String("datastore-id"),
		DeviceID:     c.String("device-id"),
		BlockchainID: c.String("blockchain-id"),
		AppName:      c.String("app-name"),
	}
	return gc.Datastore.Mount(ctx, "", opts)
}

func printResult(c *cli.Command, v any, human func()) error {
	if !isTTY(os.Stdout) {
		return json.NewEncoder(os.Stdout).Encode(v)
	}
	human()
	return nil
}

func cmdMount() *cli.Command {
	flags := append(identityFlags(), createFlags()...)
	return &cli.Command{
		Name:  "mount",
		Usage: "mount a datastore, creating it if it does not yet exist",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			gc := mustGaia(ctx)
			priv, err := loadPrivateKey(gc, c)
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}
			bearer, err := resolveBearer(ctx, gc, c)
			if err != nil {
				return err
			}
			ctxInfo, err := mountOrCreate(ctx, gc, c, bearer, priv)
			if err != nil {
				return err
			}
			return printResult(c, ctxInfo, func() {
				fmt.Printf("mounted datastore_id=%s created=%v peers=%d\n", ctxInfo.DatastoreID, ctxInfo.Created, len(ctxInfo.Peers))
			})
		},
	}
}

func cmdPut() *cli.Command {
	flags := append(identityFlags(), createFlags()...)
	flags = append(flags,
		&cli.StringFlag{Name: "file", Usage: "path to read the payload from; omit or \"-\" to read stdin"},
	)
	return &cli.Command{
		Name:      "put",
		Usage:     "write a file into the mounted datastore",
		ArgsUsage: "<path>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("put: expected exactly one path argument")
			}
			name := c.Args().First()

			gc := mustGaia(ctx)
			priv, err := loadPrivateKey(gc, c)
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}
			bearer, err := resolveBearer(ctx, gc, c)
			if err != nil {
				return err
			}
			ctxInfo, err := mountOrCreate(ctx, gc, c, bearer, priv)
			if err != nil {
				return err
			}
			if ctxInfo == nil {
				return apierr.New(apierr.NotFound, "put: datastore not mounted")
			}

			payload, err := readPayload(c.String("file"))
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			opts := file.Options{Bearer: bearer, Ctx: *ctxInfo, Priv: priv, RootUUID: c.String("root-uuid")}
			if err := gc.File.PutFile(ctx, opts, name, payload); err != nil {
				return err
			}
			return printResult(c, map[string]any{"status": "ok", "path": name, "bytes": len(payload)}, func() {
				fmt.Printf("put %s (%d bytes)\n", name, len(payload))
			})
		},
	}
}

func cmdGet() *cli.Command {
	flags := append(identityFlags(), &cli.StringFlag{Name: "if-none-match", Usage: "best-effort conditional GET etag"})
	return &cli.Command{
		Name:      "get",
		Usage:     "read a file from the mounted datastore",
		ArgsUsage: "<path>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("get: expected exactly one path argument")
			}
			name := c.Args().First()

			gc := mustGaia(ctx)
			priv, err := loadPrivateKey(gc, c)
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}
			bearer, err := resolveBearer(ctx, gc, c)
			if err != nil {
				return err
			}
			ctxInfo, err := mountOnly(ctx, gc, c)
			if err != nil {
				return err
			}
			if ctxInfo == nil {
				return apierr.New(apierr.NotFound, "get: datastore not mounted")
			}

			opts := file.Options{Bearer: bearer, Ctx: *ctxInfo, Priv: priv}
			data, unchanged, err := gc.File.GetFile(ctx, opts, name, c.String("if-none-match"))
			if err != nil {
				return err
			}
			if unchanged {
				fmt.Fprintln(os.Stderr, "unchanged")
				return nil
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}

func cmdDelete() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete a file from the mounted datastore",
		ArgsUsage: "<path>",
		Flags:     identityFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("delete: expected exactly one path argument")
			}
			name := c.Args().First()

			gc := mustGaia(ctx)
			priv, err := loadPrivateKey(gc, c)
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}
			bearer, err := resolveBearer(ctx, gc, c)
			if err != nil {
				return err
			}
			ctxInfo, err := mountOnly(ctx, gc, c)
			if err != nil {
				return err
			}
			if ctxInfo == nil {
				return apierr.New(apierr.NotFound, "delete: datastore not mounted")
			}

			opts := file.Options{Bearer: bearer, Ctx: *ctxInfo, Priv: priv}
			if err := gc.File.DeleteFile(ctx, opts, name); err != nil {
				return err
			}
			return printResult(c, map[string]any{"status": "ok", "path": name}, func() {
				fmt.Printf("deleted %s\n", name)
			})
		},
	}
}

func cmdList() *cli.Command {
	flags := append(identityFlags(), &cli.StringFlag{Name: "page", Usage: "resume a previous listing from this page token"})
	return &cli.Command{
		Name:  "list",
		Usage: "list files in the mounted datastore",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			gc := mustGaia(ctx)
			priv, err := loadPrivateKey(gc, c)
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}
			bearer, err := resolveBearer(ctx, gc, c)
			if err != nil {
				return err
			}
			ctxInfo, err := mountOnly(ctx, gc, c)
			if err != nil {
				return err
			}
			if ctxInfo == nil {
				return apierr.New(apierr.NotFound, "list: datastore not mounted")
			}

			opts := file.Options{Bearer: bearer, Ctx: *ctxInfo, Priv: priv}
			result, err := gc.File.ListFiles(ctx, opts, c.String("page"))
			if err != nil {
				return err
			}

			names := lo.Keys(result.Root.Files)
			return printResult(c, result, func() {
				if len(names) == 0 {
					fmt.Println("No files.")
					return
				}
				w, _, _ := term.GetSize(int(os.Stdout.Fd()))
				if w <= 0 {
					w = 80
				}
				fmt.Println(renderChips(names, chipOkStyle, w))
				if result.NextPage != "" {
					fmt.Printf("\nnext page: %s\n", result.NextPage)
				}
			})
		},
	}
}

func cmdURLs() *cli.Command {
	return &cli.Command{
		Name:      "urls",
		Usage:     "print the storage URLs for a file",
		ArgsUsage: "<path>",
		Flags:     identityFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("urls: expected exactly one path argument")
			}
			name := c.Args().First()

			gc := mustGaia(ctx)
			priv, err := loadPrivateKey(gc, c)
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}
			bearer, err := resolveBearer(ctx, gc, c)
			if err != nil {
				return err
			}
			ctxInfo, err := mountOnly(ctx, gc, c)
			if err != nil {
				return err
			}
			if ctxInfo == nil {
				return apierr.New(apierr.NotFound, "urls: datastore not mounted")
			}

			opts := file.Options{Bearer: bearer, Ctx: *ctxInfo, Priv: priv}
			urls, err := gc.File.GetFileURLs(ctx, opts, name)
			if err != nil {
				return err
			}
			return printResult(c, urls, func() {
				for _, u := range urls {
					fmt.Println(u)
				}
			})
		},
	}
}

func cmdStatus() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show cached mount contexts from the local session store",
		Action: func(ctx context.Context, c *cli.Command) error {
			gc := mustGaia(ctx)
			state, err := gc.Store.Load()
			if err != nil {
				return err
			}
			contexts := state.Contexts()

			if !isTTY(os.Stdout) {
				return json.NewEncoder(os.Stdout).Encode(contexts)
			}
			if len(contexts) == 0 {
				fmt.Println("No cached mounts.")
				return nil
			}

			labels := make([]string, 0, len(contexts))
			for key, dctx := range contexts {
				labels = append(labels, fmt.Sprintf("%s@%s", key, dctx.DatastoreID))
			}
			w, _, _ := term.GetSize(int(os.Stdout.Fd()))
			if w <= 0 {
				w = 80
			}
			fmt.Println(renderChips(labels, chipOkStyle, w))
			return nil
		},
	}
}

func readPayload(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
