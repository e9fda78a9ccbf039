// Command diskhashctl inspects and drives a diskhash Map from the shell:
// point it at a base path and it will open (or create) the directory and
// data files there and run one operation against them.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/mnvl/diskhash"
)

var gitCommitSHA = ""

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			fmt.Println()
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}

		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "diskhashctl",
		Version:     gitCommitSHA,
		Description: "CLI to inspect and drive an on-disk extendible-hash key/value store.",
		Flags: append(NewKlogFlagSet(), &cli.StringFlag{
			Name:  "config",
			Usage: "JSON or YAML file providing defaults (base_path, metrics_listen)",
		}),
		Before: func(c *cli.Context) error {
			if path := c.String("config"); path != "" {
				cfg, err := LoadConfig(path)
				if err != nil {
					return err
				}
				c.App.Metadata["config"] = cfg
			}
			return nil
		},
		Commands: []*cli.Command{
			newCmdGet(),
			newCmdFind(),
			newCmdRemove(),
			newCmdIterate(),
			newCmdStats(),
			newCmdCompact(),
			newCmdVerify(),
		},
	}

	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Fatal(err)
	}
}

var basePathFlag = &cli.StringFlag{
	Name:  "base-path",
	Usage: "base path for the directory (+\"cat\") and data (+\"dat\") files (falls back to --config's base_path)",
}

// resolveBasePath returns --base-path, falling back to the base_path loaded
// from --config (if any), and erroring only if neither is set.
func resolveBasePath(c *cli.Context) (string, error) {
	if p := c.String("base-path"); p != "" {
		return p, nil
	}
	if cfg, ok := c.App.Metadata["config"].(*Config); ok && cfg.BasePath != "" {
		return cfg.BasePath, nil
	}
	return "", fmt.Errorf("--base-path is required (or set base_path in --config)")
}

var hashFlag = &cli.StringFlag{
	Name:     "hash",
	Usage:    "32-bit hex hash of the key, e.g. deadbeef (see diskhash.HashFNV1a)",
	Required: true,
}

var keyFlag = &cli.StringFlag{
	Name:     "key",
	Usage:    "hex-encoded key bytes",
	Required: true,
}

func parseHash(c *cli.Context) (uint32, error) {
	var h uint32
	_, err := fmt.Sscanf(c.String("hash"), "%08x", &h)
	if err != nil {
		return 0, fmt.Errorf("invalid --hash: %w", err)
	}
	return h, nil
}

func parseKey(c *cli.Context) ([]byte, error) {
	k, err := hex.DecodeString(c.String("key"))
	if err != nil {
		return nil, fmt.Errorf("invalid --key: %w", err)
	}
	return k, nil
}

func newCmdFind() *cli.Command {
	return &cli.Command{
		Name:  "find",
		Usage: "look up a key without inserting",
		Flags: []cli.Flag{basePathFlag, hashFlag, keyFlag},
		Action: func(c *cli.Context) error {
			basePath, err := resolveBasePath(c)
			if err != nil {
				return err
			}

			m, err := diskhash.Open(basePath, true)
			if err != nil {
				return err
			}
			defer m.Close()

			hash, err := parseHash(c)
			if err != nil {
				return err
			}
			key, err := parseKey(c)
			if err != nil {
				return err
			}

			value, ok := m.Find(hash, key)
			if !ok {
				klog.Info("not found")
				return cli.Exit("", 1)
			}
			fmt.Println(hex.EncodeToString(value))
			return nil
		},
	}
}

func newCmdGet() *cli.Command {
	defaultFlag := &cli.StringFlag{Name: "default", Usage: "hex-encoded value to insert if the key is absent", Value: ""}
	return &cli.Command{
		Name:  "get",
		Usage: "look up a key, inserting a default value if absent",
		Flags: []cli.Flag{basePathFlag, hashFlag, keyFlag, defaultFlag},
		Action: func(c *cli.Context) error {
			basePath, err := resolveBasePath(c)
			if err != nil {
				return err
			}

			m, err := diskhash.Open(basePath, false)
			if err != nil {
				return err
			}
			defer m.Close()

			hash, err := parseHash(c)
			if err != nil {
				return err
			}
			key, err := parseKey(c)
			if err != nil {
				return err
			}
			def, err := hex.DecodeString(c.String("default"))
			if err != nil {
				return fmt.Errorf("invalid --default: %w", err)
			}

			value, err := m.Get(hash, key, def)
			if err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(value))
			return nil
		},
	}
}

func newCmdRemove() *cli.Command {
	return &cli.Command{
		Name:  "remove",
		Usage: "delete a key if present",
		Flags: []cli.Flag{basePathFlag, hashFlag, keyFlag},
		Action: func(c *cli.Context) error {
			basePath, err := resolveBasePath(c)
			if err != nil {
				return err
			}

			m, err := diskhash.Open(basePath, false)
			if err != nil {
				return err
			}
			defer m.Close()

			hash, err := parseHash(c)
			if err != nil {
				return err
			}
			key, err := parseKey(c)
			if err != nil {
				return err
			}

			removed, err := m.Remove(hash, key)
			if err != nil {
				return err
			}
			if !removed {
				klog.Info("key was not present")
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func newCmdIterate() *cli.Command {
	return &cli.Command{
		Name:  "iterate",
		Usage: "print every (key, value) pair as hex, one per line",
		Flags: []cli.Flag{basePathFlag},
		Action: func(c *cli.Context) error {
			basePath, err := resolveBasePath(c)
			if err != nil {
				return err
			}

			m, err := diskhash.Open(basePath, true)
			if err != nil {
				return err
			}
			defer m.Close()

			it := m.Iterator()
			for it.Next() {
				fmt.Printf("%s %s\n", hex.EncodeToString(it.Key()), hex.EncodeToString(it.Value()))
			}
			return nil
		},
	}
}

func newCmdStats() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print size and split/doubling counters",
		Flags: []cli.Flag{basePathFlag},
		Action: func(c *cli.Context) error {
			basePath, err := resolveBasePath(c)
			if err != nil {
				return err
			}

			m, err := diskhash.Open(basePath, true)
			if err != nil {
				return err
			}
			defer m.Close()

			fmt.Printf("bytes_allocated=%s (%d) splits=%d doublings=%d\n",
				humanize.Bytes(m.BytesAllocated()), m.BytesAllocated(), m.Splits(), m.Doublings())
			return nil
		},
	}
}

func newCmdCompact() *cli.Command {
	return &cli.Command{
		Name:  "compact",
		Usage: "report overflow buckets emptied by Remove but not yet reclaimed by a split",
		Flags: []cli.Flag{basePathFlag},
		Action: func(c *cli.Context) error {
			basePath, err := resolveBasePath(c)
			if err != nil {
				return err
			}

			m, err := diskhash.Open(basePath, true)
			if err != nil {
				return err
			}
			defer m.Close()

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			logger.Info("walking directory chains")

			report := m.Compact()
			fmt.Printf("chains=%d overflow_buckets=%d empty_overflow_buckets=%d\n",
				report.ChainsWalked, report.OverflowBuckets, report.EmptyOverflowBuckets)
			return nil
		},
	}
}

func newCmdVerify() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "open the map read-only, failing if the files are corrupt or unopenable",
		Flags: []cli.Flag{basePathFlag},
		Action: func(c *cli.Context) error {
			basePath, err := resolveBasePath(c)
			if err != nil {
				return err
			}

			m, err := diskhash.Open(basePath, true)
			if err != nil {
				return err
			}
			defer m.Close()
			klog.Infof("ok: bytes_allocated=%d", m.BytesAllocated())
			return nil
		},
	}
}
