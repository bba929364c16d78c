package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	_ "github.com/lib/pq"

	"github.com/crmdesk-io/mailroom/internal/config"
	"github.com/crmdesk-io/mailroom/internal/database"
	"github.com/crmdesk-io/mailroom/internal/email/inbound/connector"
	"github.com/crmdesk-io/mailroom/internal/email/inbound/postmaster"
	"github.com/crmdesk-io/mailroom/internal/lock"
	"github.com/crmdesk-io/mailroom/internal/metrics"
	"github.com/crmdesk-io/mailroom/internal/repository"
	"github.com/crmdesk-io/mailroom/internal/runner"
	"github.com/crmdesk-io/mailroom/internal/runner/tasks"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "mailroom",
	Short: "Mailroom - inbound email to ticket ingestion service",
	Long: `Mailroom polls tenant mailboxes over IMAP and POP3 and turns
new messages into support tickets: parsing MIME bodies, repairing
malformed subjects, sanitizing content, and deduplicating along the way.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduled mailbox sweep daemon",
	RunE:  runServe,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single mailbox sweep and exit",
	Long: `Sweep runs one pass over the polling-enabled mailboxes and exits.
With --tenant it sweeps only that tenant's mailbox.`,
	RunE: runSweep,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Mailroom %s\n", rootCmd.Version)
	},
}

var (
	configPathFlag string
	tenantFlag     int64
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", "", "Path to config file (default: ./mailroom.yaml, env MAILROOM_*)")
	sweepCmd.Flags().Int64Var(&tenantFlag, "tenant", 0, "Sweep only this tenant's mailbox")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPathFlag)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sweeper, cleanup, err := buildSweeper(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr)
	}

	registry := runner.NewTaskRegistry()
	registry.Register(tasks.NewMailSweepTask(sweeper, cfg.Sweep))

	return runner.NewRunner(registry).Start(cmd.Context())
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPathFlag)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sweeper, cleanup, err := buildSweeper(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Sweep.Timeout)
	defer cancel()

	var tenantID *int64
	if tenantFlag > 0 {
		tenantID = &tenantFlag
	}

	result, err := sweeper.Sweep(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	fmt.Printf("Sweep %s: %d tenants, %d tickets created, %d tenant failures in %v\n",
		result.RunID, len(result.Tenants), result.Created(), result.Failed(), result.Duration)
	return nil
}

// buildSweeper wires the database, repositories, optional redis lock, and
// metrics into a ready Sweeper. The returned cleanup closes what was opened.
func buildSweeper(ctx context.Context, cfg *config.Config) (*postmaster.Sweeper, func(), error) {
	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup := func() { db.Close() }

	mailboxes := repository.NewMailboxRepository(db)
	ticketRepo := repository.NewTicketRepository(db)
	processed := repository.NewProcessedMessageRepository(db)

	opts := []postmaster.SweeperOption{
		postmaster.WithTicketFinder(ticketRepo),
		postmaster.WithProcessedStore(processed),
		postmaster.WithConnectorFactory(connector.DefaultFactory(
			connector.WithIMAPDialTimeout(cfg.Sweep.DialTimeout),
			connector.WithIMAPDeleteAfterFetch(cfg.Sweep.DeleteAfterFetch),
		)),
		postmaster.WithMetrics(metrics.New(prometheus.DefaultRegisterer)),
		postmaster.WithTenantWorkers(cfg.Sweep.TenantWorkers),
		postmaster.WithTicketDefaults(cfg.Sweep.DefaultStatusID, cfg.Sweep.DefaultPriorityID, cfg.Sweep.DefaultCategoryID),
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Printf("[MAILROOM] Redis unavailable, sweeping without tenant locks: %v", err)
			client.Close()
		} else {
			opts = append(opts, postmaster.WithTenantLock(lock.NewSweepLock(client, cfg.Sweep.LockTTL)))
			prev := cleanup
			cleanup = func() { client.Close(); prev() }
		}
	}

	return postmaster.NewSweeper(mailboxes, ticketRepo, opts...), cleanup, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	log.Printf("[MAILROOM] Metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[MAILROOM] Metrics server stopped: %v", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
