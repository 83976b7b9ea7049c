package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"mileage/internal/api"
	"mileage/internal/buildinfo"
	"mileage/internal/config"
	"mileage/internal/fixture"
)

func setupLogging(cfg config.Config) {
	if !cfg.JSONLogs() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	if cfg.DebugEnabled() {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}
}

// newApp builds the CLI. Each command loads only the configuration it needs.
func newApp() *cli.App {
	return &cli.App{
		Name:        "mileage",
		Description: "Personal mileage tracker - records GPS trips and manual odometer entries",

		Before: func(c *cli.Context) error {
			// logging falls back to defaults when the environment cannot be read
			if cfg, err := config.Read(); err == nil {
				setupLogging(cfg)
			}
			return nil
		},

		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the tracking API server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Usage: "listen target for the web server (default :$PORT)",
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}
					addr := c.String("listen")
					if addr == "" {
						addr = ":" + cfg.Port
					}
					return serve(c.Context, cfg, addr)
				},
			},
			{
				Name:      "replay",
				Usage:     "replay a recorded drive through the tracker and print the outcome",
				ArgsUsage: "<drive.yaml>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("replay needs exactly one drive file", 2)
					}
					cfg, err := config.Read()
					if err != nil {
						return err
					}
					if err := cfg.ValidateFilter(); err != nil {
						return err
					}
					d, err := fixture.Load(c.Args().First())
					if err != nil {
						return err
					}
					res, err := fixture.Replay(c.Context, d, cfg.Filter())
					if err != nil {
						return err
					}
					enc := json.NewEncoder(c.App.Writer)
					enc.SetIndent("", "  ")
					return enc.Encode(res)
				},
			},
			{
				Name:  "version",
				Usage: "print build information",
				Action: func(c *cli.Context) error {
					_, err := fmt.Fprintln(c.App.Writer, buildinfo.String())
					return err
				},
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func serve(parent context.Context, cfg config.Config, addr string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := api.NewServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	defer s.Close()

	trackerDone := make(chan error, 1)
	go func() { trackerDone <- s.Run(ctx) }()

	worker := s.NewLedgerWorker()
	worker.Start()
	defer close(worker.Stop)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("version", buildinfo.Version).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	stop()
	return <-trackerDone
}
