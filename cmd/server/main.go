/*
main.go - Application entry point

PURPOSE:
  Runs the DESCO balance monitor. Loads the YAML configuration, wires the
  ledger store, balance client, notifiers and scheduler, and dispatches
  to one of the commands below.

COMMANDS:
  serve         HTTP control surface + optional scheduler (default)
  run           One check now, print the result, exit
  schedule      One check now, then check daily in the foreground
  set-password  Store the SMTP password in the OS keyring

GLOBAL FLAGS:
  --config, -c  Config file (default: config.yaml, env DESCO_MONITOR_CONFIG)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (an in-flight check completes)
  2. Stop accepting new connections, drain active requests
  3. Close the databases
  4. Exit

EXAMPLES:
  # Web control surface on :8080, scheduler started from the UI
  ./server serve

  # Cron-style single run
  ./server -c /etc/desco/config.yaml run

ENVIRONMENT:
  ENV selects the logger (local, dev, prod) when the config has no env.
  ${VAR} and ${VAR:-default} are expanded inside the config file.

SEE ALSO:
  - wire.go: Component construction
  - api/server.go: Router configuration
  - config/config.go: Configuration schema
*/
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/mhrishan/desco-monitor/api"
	"github.com/mhrishan/desco-monitor/config"
	"github.com/mhrishan/desco-monitor/ledger"
	"github.com/mhrishan/desco-monitor/monitor"
	"github.com/mhrishan/desco-monitor/notify"
)

var version = "dev"

var (
	configPath  string
	listenAddr  string
	autoStart   bool
	skipInitial bool

	globalFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "config, c",
			Value:       config.DefaultPath,
			Usage:       "path to the YAML config file",
			EnvVar:      "DESCO_MONITOR_CONFIG",
			Destination: &configPath,
		},
	}

	serveFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "addr, a",
			Usage:       "listen address (default: http.addr from the config)",
			Destination: &listenAddr,
		},
		cli.BoolFlag{
			Name:        "start, s",
			Usage:       "start the scheduler immediately (default: schedule.auto_start)",
			Destination: &autoStart,
		},
	}

	scheduleFlags = []cli.Flag{
		cli.BoolFlag{
			Name:        "skip-initial",
			Usage:       "do not run a check before waiting for the daily trigger",
			Destination: &skipInitial,
		},
	}
)

func main() {
	app := cli.App{
		Name:     "desco-monitor",
		HelpName: "server",
		Usage:    "track a DESCO prepaid meter balance and daily consumption",
		Version:  version,
		Flags:    globalFlags,
		Action:   serve,
		Commands: []cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"s"},
				Usage:   "run the HTTP control surface",
				Action:  serve,
				Flags:   serveFlags,
			},
			{
				Name:    "run",
				Aliases: []string{"r"},
				Usage:   "perform one check now and exit",
				Action:  runOnce,
			},
			{
				Name:   "schedule",
				Usage:  "check now, then every day at the configured time",
				Action: schedule,
				Flags:  scheduleFlags,
			},
			{
				Name:      "set-password",
				Usage:     "store the SMTP password in the OS keyring",
				ArgsUsage: "[username]",
				Action:    setPassword,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func serve(_ *cli.Context) error {
	cfg, err := loadConfig(configPath, true)
	if err != nil {
		return err
	}
	osFs := afero.NewOsFs()
	c, err := build(context.Background(), cfg, osFs)
	if err != nil {
		return err
	}
	defer c.Close()

	handler := api.NewHandler(c.engine, c.scheduler, cfg, configPath)
	handler.Runs = c.runs
	handler.Meter = c.client
	handler.Logger = c.log
	handler.Notifiers = func(next config.Config) (monitor.Notifier, error) {
		return buildNotifier(next, osFs, c.log)
	}

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Metrics:     c.metrics,
		Gatherer:    c.registry,
	})

	addr := cfg.HTTP.Addr
	if listenAddr != "" {
		addr = listenAddr
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  seconds(cfg.HTTP.ReadTimeoutSec),
		WriteTimeout: seconds(cfg.HTTP.WriteTimeoutSec),
		IdleTimeout:  60 * time.Second,
	}

	if autoStart || cfg.Schedule.AutoStart {
		if err := startScheduler(c, cfg); err != nil {
			c.log.Warn("scheduler not started", zap.Error(err))
		}
	}

	errCh := make(chan error, 1)
	go func() {
		c.log.Info("server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	c.log.Info("shutting down")
	if err := c.scheduler.Stop(); err != nil && !errors.Is(err, monitor.ErrSchedulerStopped) {
		c.log.Warn("scheduler stop", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), seconds(cfg.HTTP.ShutdownSec))
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	c.log.Info("server stopped")
	return nil
}

func runOnce(_ *cli.Context) error {
	cfg, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}
	c, err := build(context.Background(), cfg, afero.NewOsFs())
	if err != nil {
		return err
	}
	defer c.Close()

	cc := cfg.CheckConfig()
	cc.Trigger = ledger.TriggerCLI
	status := c.engine.PerformDailyCheck(context.Background(), cc)
	printStatus(status)
	if status.State != monitor.StateSuccess {
		return cli.NewExitError(fmt.Sprintf("check finished with state %q", status.State), 1)
	}
	return nil
}

func schedule(_ *cli.Context) error {
	cfg, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}
	c, err := build(context.Background(), cfg, afero.NewOsFs())
	if err != nil {
		return err
	}
	defer c.Close()

	if !skipInitial {
		cc := cfg.CheckConfig()
		cc.Trigger = ledger.TriggerCLI
		printStatus(c.scheduler.RunNow(context.Background(), cc))
	}
	if err := startScheduler(c, cfg); err != nil {
		return err
	}
	fmt.Printf("Next check at %s\n", c.scheduler.NextRun().Format(time.RFC1123))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return c.scheduler.Stop()
}

func setPassword(ctx *cli.Context) error {
	cfg, err := loadConfig(configPath, true)
	if err != nil {
		return err
	}
	user := ctx.Args().First()
	if user == "" {
		user = cfg.Email.Username
	}
	if user == "" {
		return errors.New("no username given and email.username is empty")
	}

	fmt.Printf("SMTP password for %s: ", user)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}
	if err := notify.StorePassword(user, password); err != nil {
		return err
	}
	fmt.Println("Stored. Set email.password_from_keyring: true to use it.")
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func startScheduler(c *components, cfg config.Config) error {
	sc, err := cfg.ScheduleConfig()
	if err != nil {
		return err
	}
	return c.scheduler.Start(sc, cfg.CheckConfig())
}

func printStatus(s monitor.RunStatus) {
	fmt.Printf("State:       %s\n", s.State)
	fmt.Printf("Target date: %s\n", s.TargetDate)
	if s.LastBalance.Valid {
		fmt.Printf("Balance:     %s BDT\n", s.LastBalance.Decimal.StringFixed(2))
	}
	if s.LastConsumption.Valid {
		fmt.Printf("Consumption: %s BDT\n", s.LastConsumption.Decimal.StringFixed(2))
	}
	if s.Skipped {
		fmt.Println("Already recorded, nothing written.")
	}
	for _, e := range s.Errors {
		fmt.Printf("Error:       %s\n", e)
	}
}
