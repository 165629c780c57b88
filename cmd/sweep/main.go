// Command sweep runs one expiry sweep and exits. Dry run is the default.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/qs3c/vpn_access_server/config"
	"github.com/qs3c/vpn_access_server/internal/bootstrap"
	"github.com/qs3c/vpn_access_server/internal/database"
	"github.com/qs3c/vpn_access_server/internal/model"
	"github.com/qs3c/vpn_access_server/internal/pkg/logger"
	"github.com/qs3c/vpn_access_server/internal/service"
)

var (
	dryRun     = flag.Bool("dry-run", true, "Dry run mode, only list subscribers that would be blocked")
	configPath = flag.String("config", "", "Path to config file (default $CONFIG_PATH or config.yaml)")
	at         = flag.String("at", "", "Evaluate expiry at this RFC3339 time instead of now")
	timeout    = flag.Duration("timeout", 10*time.Minute, "Overall timeout")
)

// sweeper is the part of SweepService this command uses.
type sweeper interface {
	Preview(ctx context.Context, now time.Time) ([]*model.Subscriber, error)
	Sweep(ctx context.Context, now time.Time) (*service.SweepReport, error)
}

func main() {
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	now := time.Now().UTC()
	if *at != "" {
		now, err = time.Parse(time.RFC3339, *at)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid -at")
		}
	}

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	_, rec := bootstrap.NewMetrics(config.MetricsConfig{})
	engine := bootstrap.NewEngine(cfg, db, rdb, rec, log)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, engine.Sweep, now, *dryRun, os.Stdout); err != nil {
		log.Error().Err(err).Msg("sweep failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, s sweeper, now time.Time, dryRun bool, out io.Writer) error {
	line := strings.Repeat("=", 60)
	fmt.Fprintln(out, line)
	fmt.Fprintf(out, "Expiry sweep at %s (dry-run=%v)\n", now.Format(time.RFC3339), dryRun)
	fmt.Fprintln(out, line)

	if dryRun {
		expired, err := s.Preview(ctx, now)
		if err != nil {
			return err
		}
		for _, sub := range expired {
			fmt.Fprintf(out, "  - %s expired %s (%s ago)\n",
				sub.ExternalKey,
				sub.ExpiresAt.UTC().Format(time.DateOnly),
				now.Sub(sub.ExpiresAt).Round(time.Hour))
		}
		fmt.Fprintf(out, "Would block %d subscribers\n", len(expired))
		fmt.Fprintln(out, "DRY RUN MODE - nothing was blocked, run with -dry-run=false to apply")
		return nil
	}

	report, err := s.Sweep(ctx, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Run:      %s\n", report.RunID)
	fmt.Fprintf(out, "Scanned:  %d\n", report.Scanned)
	fmt.Fprintf(out, "Expired:  %d\n", report.Expired)
	fmt.Fprintf(out, "Blocked:  %d\n", report.Blocked)
	fmt.Fprintf(out, "Skipped:  %d\n", report.Skipped)
	fmt.Fprintf(out, "Notified: %d\n", report.Notified)
	for _, f := range report.Failures {
		fmt.Fprintf(out, "  ! %s failed at %s: %v\n", f.ExternalKey, f.Step, f.Err)
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%d subscribers not fully processed", len(report.Failures))
	}
	return nil
}
