// Package main implements rangemasterd, the master daemon: the process
// that hosts the Operation Processor, the connection and balance-plan
// managers, and the gRPC surface range servers and rangemasterctl talk to.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperrange/rangemaster/pkg/api"
	"github.com/hyperrange/rangemaster/pkg/balancer"
	"github.com/hyperrange/rangemaster/pkg/config"
	"github.com/hyperrange/rangemaster/pkg/connection"
	"github.com/hyperrange/rangemaster/pkg/log"
	"github.com/hyperrange/rangemaster/pkg/maintenance"
	"github.com/hyperrange/rangemaster/pkg/master"
	"github.com/hyperrange/rangemaster/pkg/metalog"
	"github.com/hyperrange/rangemaster/pkg/nameservice"
	"github.com/hyperrange/rangemaster/pkg/operation"
	"github.com/hyperrange/rangemaster/pkg/responsemanager"
	"github.com/hyperrange/rangemaster/pkg/security"
	"github.com/hyperrange/rangemaster/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rangemasterd",
	Short: "rangemasterd is the range-table master daemon",
	Long: `rangemasterd coordinates range ownership across a range-server
cluster: table DDL bookkeeping, range-server registration, balance-plan
scheduling, and range-server failure recovery, served over a two-phase
submit/fetch gRPC protocol.`,
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"rangemasterd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("config", "", "Path to a Hypertable.* YAML config file (defaults built in if omitted)")
	rootCmd.Flags().String("data-dir", "./data", "Directory for the metalog and certificate store")
	rootCmd.Flags().String("node-id", "master-0", "Node identifier this daemon issues its certificate under")
	rootCmd.Flags().String("grpc-addr", ":38050", "Listen address for the mTLS Master gRPC service")
	rootCmd.Flags().String("health-addr", ":38051", "Listen address for the /health, /ready and /metrics HTTP endpoints")
	rootCmd.Flags().String("local-socket", "", "Unix socket path for a read-only local listener (disabled if empty)")
	rootCmd.Flags().Int("workers", 8, "Operation Processor worker pool size")
	rootCmd.Flags().Int("maintenance-workers", 4, "Maintenance task queue worker pool size")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	nodeID, _ := cmd.Flags().GetString("node-id")
	grpcAddr, _ := cmd.Flags().GetString("grpc-addr")
	healthAddr, _ := cmd.Flags().GetString("health-addr")
	localSocket, _ := cmd.Flags().GetString("local-socket")
	workers, _ := cmd.Flags().GetInt("workers")
	maintWorkers, _ := cmd.Flags().GetInt("maintenance-workers")

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	mlog, err := metalog.Open(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open metalog: %w", err)
	}
	defer mlog.Close()

	certDir, err := security.GetCertDir("master", nodeID)
	if err != nil {
		return fmt.Errorf("failed to resolve certificate directory: %w", err)
	}
	if err := ensureCertificate(mlog, certDir, nodeID); err != nil {
		return fmt.Errorf("failed to provision certificate: %w", err)
	}

	conns := connection.New(cfg.Hypertable.Master.DiskThreshold.Percentage, mlog)
	authority := balancer.NewAuthority()
	ns := nameservice.NewFake()

	handlers := master.NewHandlers(conns, authority, ns, cfg)
	proc := operation.NewProcessor(workers, mlog, handlers.Register())
	defer proc.Shutdown()

	responses := responsemanager.New(5*time.Minute, 30*time.Second)
	defer responses.Shutdown()

	server, err := api.NewServer(certDir, proc, responses, conns, authority, handlers)
	if err != nil {
		return fmt.Errorf("failed to build gRPC server: %w", err)
	}

	maintQueueStop := make(chan struct{})
	maintScheduler := startMaintenance(cfg, maintWorkers, maintQueueStop)
	defer maintScheduler.Stop()
	defer close(maintQueueStop)

	healthServer := api.NewHealthServer(conns)

	errCh := make(chan error, 3)
	go func() {
		log.Logger.Info().Str("addr", grpcAddr).Msg("starting master gRPC service")
		errCh <- server.Start(grpcAddr)
	}()
	go func() {
		log.Logger.Info().Str("addr", healthAddr).Msg("starting health/metrics service")
		errCh <- healthServer.Start(healthAddr)
	}()
	if localSocket != "" {
		go func() {
			log.Logger.Info().Str("socket", localSocket).Msg("starting local read-only gRPC service")
			errCh <- server.StartLocal(localSocket)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
		server.Stop()
	case err := <-errCh:
		return err
	}
	return nil
}

// ensureCertificate issues this node's certificate and CA on first boot,
// persisting the root CA into the metalog so later restarts load the same
// authority instead of minting a new one (which would orphan every
// previously issued range-server certificate).
func ensureCertificate(mlog *metalog.Writer, certDir, nodeID string) error {
	if security.CertExists(certDir) {
		return nil
	}

	store := security.NewMetalogCAStore(mlog)
	ca := security.NewCertAuthority(store)
	if err := ca.LoadFromStore(); err != nil {
		if err := ca.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize CA: %w", err)
		}
		if err := ca.SaveToStore(); err != nil {
			return fmt.Errorf("failed to persist CA: %w", err)
		}
	}

	hostname, _ := os.Hostname()
	cert, err := ca.IssueNodeCertificate(nodeID, "master", []string{hostname, "localhost"}, nil)
	if err != nil {
		return fmt.Errorf("failed to issue node certificate: %w", err)
	}
	if err := security.SaveCertToFile(cert, certDir); err != nil {
		return err
	}
	return security.SaveCACertToFile(ca.GetRootCACert(), certDir)
}

// emptyRangeSource is the maintenance scheduler's RangeSource until a
// metadata-table scan is wired in; it keeps the scheduler's ticker loop
// and worker pool running (and exercised) without inventing a range-server
// subsystem this coordination core does not implement.
type emptyRangeSource struct{}

func (emptyRangeSource) Ranges() []types.RangeData             { return nil }
func (emptyRangeSource) MemoryState() *maintenance.MemoryState { return &maintenance.MemoryState{} }
func (emptyRangeSource) CurrentRevision() int64                { return 0 }

// startMaintenance builds the prioritizer, task queue and scheduler and
// starts both the queue's worker pool and the scheduler's cycle ticker.
// stopCh shuts down the worker pool; the returned Scheduler's Stop halts
// the cycle ticker.
func startMaintenance(cfg *config.Config, workerCount int, stopCh <-chan struct{}) *maintenance.Scheduler {
	mc := cfg.Hypertable.RangeServer.Maintenance
	prioritizer := maintenance.New(maintenance.Config{
		PruneThresholdMin: cfg.Hypertable.RangeServer.CommitLog.PruneThreshold.Min,
		PruneThresholdMax: cfg.Hypertable.RangeServer.CommitLog.PruneThreshold.Max,
		MergesPerInterval: mc.MergesPerInterval,
		MergingDelay:      cfg.MergingCompactionDelay(),
	})
	queue := maintenance.NewQueue()
	queue.RunWorkers(workerCount, 5*time.Second, stopCh)

	scheduler := maintenance.NewScheduler(emptyRangeSource{}, prioritizer, queue, cfg.MaintenanceInterval())
	scheduler.Start()
	return scheduler
}
