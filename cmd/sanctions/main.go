/*
main.go - Application entry point

PURPOSE:
  Runs the sanction engine as an HTTP server or as one-shot admin commands.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve                           HTTP API plus evaluation scheduler
  evaluate      --event ID        Evaluate one event
  evaluate-date --date YYYY-MM-DD Evaluate every event on a date (default: today)
  reverse       --event ID        Delete every sanction of an event
  unpaid        --member ID       Print a member's unpaid total
  mark-paid     --sanction ID     Mark a sanction paid
  seed          --scenario ID     Reset the database and load a demo scenario

GLOBAL FLAGS:
  --config PATH   TOML config file (optional; see config package for keys)

STARTUP SEQUENCE (serve):
  1. Load configuration (defaults, TOML, .env, environment)
  2. Build zap logger
  3. Open SQLite store
  4. Choose per-event locker (in-process or Redis)
  5. Build engine, handler, router, scheduler
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for an in-flight run)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and Redis connections

EXAMPLES:
  ./sanctions serve --config sanctions.toml
  SANCTIONS_DB=":memory:" ./sanctions seed --scenario general-assembly
  ./sanctions evaluate --event ev-assembly

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys and env overrides
  - sanction/engine.go: Engine operations
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/redis/rueidis"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/warp/sanction-engine/api"
	"github.com/warp/sanction-engine/config"
	"github.com/warp/sanction-engine/lock"
	"github.com/warp/sanction-engine/logging"
	"github.com/warp/sanction-engine/sanction"
	"github.com/warp/sanction-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	return newCLI().Run(context.Background(), os.Args)
}

func newCLI() *cli.Command {
	return &cli.Command{
		Name:  "sanctions",
		Usage: "Attendance sanction engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML config file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and evaluation scheduler",
				Action: serve,
			},
			{
				Name:  "evaluate",
				Usage: "Evaluate one event",
				Flags: []cli.Flag{eventFlag()},
				Action: withApp(func(ctx context.Context, a *application, c *cli.Command) error {
					res, err := a.engine.Evaluate(ctx, sanction.EventID(c.String("event")), sanction.TriggerCLI)
					if err != nil {
						return err
					}
					printEvaluation(res)
					return nil
				}),
			},
			{
				Name:  "evaluate-date",
				Usage: "Evaluate every event on a date",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "date",
						Aliases: []string{"d"},
						Usage:   "Date as YYYY-MM-DD (default: today)",
					},
				},
				Action: withApp(func(ctx context.Context, a *application, c *cli.Command) error {
					date := sanction.DayOf(a.engine.Now().In(a.loc))
					if raw := c.String("date"); raw != "" {
						d, err := time.ParseInLocation(time.DateOnly, raw, a.loc)
						if err != nil {
							return fmt.Errorf("invalid --date: %w", err)
						}
						date = d
					}

					results, err := a.engine.EvaluateForDate(ctx, date, sanction.TriggerCLI)
					if err != nil {
						return err
					}
					if len(results) == 0 {
						fmt.Printf("No events on %s.\n", date.Format(time.DateOnly))
					}
					for _, res := range results {
						printEvaluation(res)
					}
					return nil
				}),
			},
			{
				Name:  "reverse",
				Usage: "Delete every sanction of an event",
				Flags: []cli.Flag{eventFlag()},
				Action: withApp(func(ctx context.Context, a *application, c *cli.Command) error {
					res, err := a.engine.Reverse(ctx, sanction.EventID(c.String("event")))
					if err != nil {
						return err
					}
					fmt.Printf("%s: %s\n", res.EventID, res.Message)
					return nil
				}),
			},
			{
				Name:  "unpaid",
				Usage: "Print a member's unpaid total",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "member", Aliases: []string{"m"}, Usage: "Member ID", Required: true},
				},
				Action: withApp(func(ctx context.Context, a *application, c *cli.Command) error {
					id := sanction.MemberID(c.String("member"))
					if _, err := a.store.GetMember(ctx, id); err != nil {
						return err
					}
					total, err := a.engine.TotalUnpaid(ctx, id)
					if err != nil {
						return err
					}
					fmt.Printf("%s owes %s\n", id, total)
					return nil
				}),
			},
			{
				Name:  "mark-paid",
				Usage: "Mark a sanction paid",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sanction", Aliases: []string{"s"}, Usage: "Sanction ID", Required: true},
				},
				Action: withApp(func(ctx context.Context, a *application, c *cli.Command) error {
					s, err := a.engine.MarkPaid(ctx, sanction.SanctionID(c.String("sanction")))
					if err != nil {
						return err
					}
					fmt.Printf("%s paid at %s (%s, %s)\n", s.ID, s.PaidAt.Format(time.RFC3339), s.Reason, s.Amount)
					return nil
				}),
			},
			{
				Name:  "seed",
				Usage: "Reset the database and load a demo scenario",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "scenario", Usage: "Scenario ID", Value: "general-assembly"},
				},
				Action: withApp(func(ctx context.Context, a *application, c *cli.Command) error {
					h := api.NewHandler(a.store, a.engine, a.loc, a.logger)
					if err := h.Seed(ctx, c.String("scenario")); err != nil {
						return err
					}
					fmt.Printf("Loaded scenario %s into %s\n", c.String("scenario"), a.cfg.Database.Path)
					return nil
				}),
			},
		},
	}
}

func eventFlag() cli.Flag {
	return &cli.StringFlag{Name: "event", Aliases: []string{"e"}, Usage: "Event ID", Required: true}
}

func printEvaluation(res sanction.EvaluationResult) {
	fmt.Printf("%s: %s\n", res.EventID, res.Message)
	for _, id := range res.SanctionIDs {
		fmt.Printf("  + %s\n", id)
	}
	for _, f := range res.Failures {
		fmt.Printf("  ! %s: %v\n", f.MemberID, f.Err)
	}
	if res.Err != nil {
		fmt.Printf("  ! %v\n", res.Err)
	}
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

type application struct {
	cfg    *config.Config
	loc    *time.Location
	logger *zap.Logger
	store  *sqlite.Store
	engine *sanction.Engine
	redis  rueidis.Client
}

func newApplication(configPath string) (*application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	loc := cfg.Location()
	store, err := sqlite.New(cfg.Database.Path, sqlite.WithLocation(loc), sqlite.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &application{cfg: cfg, loc: loc, logger: logger, store: store}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Lock.Backend == config.LockRedis {
		client, err := rueidis.NewClient(rueidis.ClientOption{
			InitAddress:  []string{cfg.Lock.RedisAddr},
			DisableCache: true,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = client
		locker = lock.NewRedisLocker(client, cfg.Lock.TTL, logger)
	}

	a.engine = sanction.NewEngine(store,
		sanction.WithLocker(locker),
		sanction.WithLogger(logger),
		sanction.WithRunLog(store),
		sanction.WithParallelism(cfg.Engine.Parallelism),
		sanction.WithRetry(uint64(cfg.Engine.Retries), cfg.Engine.RetryDelay),
	)

	logger.Debug("Application initialized",
		zap.String("db", cfg.Database.Path),
		zap.String("lock_backend", cfg.Lock.Backend),
		zap.String("timezone", loc.String()))

	return a, nil
}

func (a *application) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func withApp(fn func(context.Context, *application, *cli.Command) error) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		a, err := newApplication(c.String("config"))
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		defer a.Close()
		return fn(ctx, a, c)
	}
}

// =============================================================================
// SERVE
// =============================================================================

func serve(_ context.Context, c *cli.Command) error {
	a, err := newApplication(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer a.Close()

	handler := api.NewHandler(a.store, a.engine, a.loc, a.logger)
	router := api.NewRouter(handler, a.cfg.Server.AllowedOrigins)

	scheduler := api.NewEvaluationScheduler(a.engine, a.loc, a.logger)
	scheduler.Enabled = a.cfg.Scheduler.Enabled
	scheduler.Interval = a.cfg.Scheduler.Interval
	scheduler.Start()

	server := &http.Server{
		Addr:         a.cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	a.logger.Info("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.logger.Info("Server stopped")
	return nil
}
