package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-backend/backend"
	"github.com/saiset-co/sai-backend/config"
	"github.com/saiset-co/sai-backend/types"
)

const defaultWait = time.Minute

func newApp() *cli.App {
	return &cli.App{
		Name:  "sai-backend",
		Usage: "Talk to the subscription backend from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yml",
				Usage:   "path to the YAML configuration",
				EnvVars: []string{"SAI_BACKEND_CONFIG"},
			},
			&cli.DurationFlag{
				Name:  "wait",
				Value: defaultWait,
				Usage: "how long to wait for the backend",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "customer-info",
				Usage:     "Fetch customer info for an app user id",
				ArgsUsage: "<app_user_id>",
				Action: func(c *cli.Context) error {
					return call(c, func(b *backend.Backend, done backend.Completion) {
						b.GetCustomerInfo(c.Args().First(), backend.DelayNone, done)
					})
				},
			},
			{
				Name:      "offerings",
				Usage:     "Fetch offerings for an app user id",
				ArgsUsage: "<app_user_id>",
				Action: func(c *cli.Context) error {
					return call(c, func(b *backend.Backend, done backend.Completion) {
						b.GetOfferings(c.Args().First(), backend.DelayNone, done)
					})
				},
			},
			{
				Name:  "entitlement-mapping",
				Usage: "Fetch the product entitlement mapping",
				Action: func(c *cli.Context) error {
					return call(c, func(b *backend.Backend, done backend.Completion) {
						b.GetProductEntitlementMapping(backend.DelayNone, done)
					})
				},
			},
			{
				Name:  "health",
				Usage: "Check backend health",
				Action: func(c *cli.Context) error {
					return call(c, func(b *backend.Backend, done backend.Completion) {
						b.HealthCheck(done)
					})
				},
			},
			{
				Name:  "clear-cache",
				Usage: "Drop every cached response",
				Action: func(c *cli.Context) error {
					return withBackend(c, func(ctx context.Context, b *backend.Backend) error {
						if err := b.ClearCaches(ctx); err != nil {
							return err
						}
						_, err := fmt.Fprintln(c.App.Writer, "cache cleared")
						return err
					})
				},
			},
			{
				Name:  "prune-cache",
				Usage: "Drop cached responses older than the configured max age",
				Action: func(c *cli.Context) error {
					return withBackend(c, func(ctx context.Context, b *backend.Backend) error {
						removed, err := b.PruneCache(ctx)
						if err != nil {
							return err
						}
						_, err = fmt.Fprintf(c.App.Writer, "removed %d entries\n", removed)
						return err
					})
				},
			},
			{
				Name:  "serve",
				Usage: "Keep the backend and its status server running until interrupted",
				Action: func(c *cli.Context) error {
					return withBackend(c, func(ctx context.Context, b *backend.Backend) error {
						addr := b.StatusAddr()
						if addr == "" {
							return cli.Exit("status server is disabled", 1)
						}

						if _, err := fmt.Fprintf(c.App.Writer, "status server listening on %s\n", addr); err != nil {
							return err
						}

						<-ctx.Done()
						return nil
					})
				},
			},
			{
				Name:  "config",
				Usage: "Inspect the configuration",
				Subcommands: []*cli.Command{
					{
						Name:      "get",
						Usage:     "Print a value by dotted path",
						ArgsUsage: "<path>",
						Action:    configGet,
					},
				},
			},
		},
	}
}

func configGet(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("path is required", 1)
	}

	manager, err := config.NewConfigurationManager(c.Context, c.String("config"))
	if err != nil {
		return err
	}

	value := manager.GetValue(path, nil)
	if value == nil {
		return cli.Exit(fmt.Sprintf("%s is not set", path), 1)
	}

	out, err := yaml.Marshal(value)
	if err != nil {
		return err
	}

	_, err = c.App.Writer.Write(out)
	return err
}

func withBackend(c *cli.Context, fn func(ctx context.Context, b *backend.Backend) error) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, err := config.NewConfigurationManager(ctx, c.String("config"))
	if err != nil {
		return err
	}

	b, err := backend.New(ctx, manager.GetConfig())
	if err != nil {
		return err
	}

	if err := b.Start(); err != nil {
		return err
	}
	defer func() { _ = b.Stop() }()

	return fn(ctx, b)
}

func call(c *cli.Context, issue func(b *backend.Backend, done backend.Completion)) error {
	return withBackend(c, func(ctx context.Context, b *backend.Backend) error {
		type outcome struct {
			resp *types.Response
			err  error
		}

		results := make(chan outcome, 1)
		issue(b, func(resp *types.Response, err error) {
			results <- outcome{resp: resp, err: err}
		})

		ctx, cancel := context.WithTimeout(ctx, c.Duration("wait"))
		defer cancel()

		select {
		case r := <-results:
			if r.err != nil {
				return r.err
			}
			return printResponse(c, r.resp)
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func printResponse(c *cli.Context, resp *types.Response) error {
	source := resp.Origin.String()
	if resp.FromCache {
		source += ", cached"
	}

	_, err := fmt.Fprintf(c.App.Writer, "status: %d (%s, verification %s)\n%s\n",
		resp.StatusCode, source, resp.VerificationResult, resp.Body)
	return err
}
