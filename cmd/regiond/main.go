package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/shardkeep/regiond/pkg/catalog"
	"github.com/shardkeep/regiond/pkg/compactor"
	"github.com/shardkeep/regiond/pkg/config"
	"github.com/shardkeep/regiond/pkg/filestore"
	"github.com/shardkeep/regiond/pkg/flusher"
	"github.com/shardkeep/regiond/pkg/frontend"
	"github.com/shardkeep/regiond/pkg/fswatch"
	"github.com/shardkeep/regiond/pkg/log"
	"github.com/shardkeep/regiond/pkg/mainloop"
	"github.com/shardkeep/regiond/pkg/masterclient"
	"github.com/shardkeep/regiond/pkg/metrics"
	"github.com/shardkeep/regiond/pkg/outbox"
	"github.com/shardkeep/regiond/pkg/region"
	"github.com/shardkeep/regiond/pkg/registry"
	"github.com/shardkeep/regiond/pkg/regionstore"
	"github.com/shardkeep/regiond/pkg/rpcwire"
	"github.com/shardkeep/regiond/pkg/rserrors"
	"github.com/shardkeep/regiond/pkg/scanner"
	"github.com/shardkeep/regiond/pkg/security"
	"github.com/shardkeep/regiond/pkg/serverctx"
	"github.com/shardkeep/regiond/pkg/types"
	"github.com/shardkeep/regiond/pkg/wal"
	"github.com/shardkeep/regiond/pkg/worker"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(-1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "regiond",
	Short:   "regiond serves a contiguous range of rows for a distributed ordered key-value store",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	cobra.OnInitialize(initLogging)

	startCmd.Flags().String("bind", "", "Override hbase.regionserver.address")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start this region server and report for duty",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runStart(configPath, cmd.Flags())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Print usage for stopping a running region server",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("regiond has no local stop control plane: request REGIONSERVER_STOP from the master, or send SIGTERM to this process.")
		return nil
	},
}

func runStart(configPath string, flags *flag.FlagSet) error {
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return fmt.Errorf("creating root directory: %w", err)
	}

	identity := &types.ServerIdentity{
		Address:   cfg.Address,
		StartCode: time.Now().UnixNano(),
		InfoPort:  cfg.InfoPort,
	}

	walDir := filepath.Join(cfg.RootDir, "wal", identity.String())
	if wal.DirExists(walDir) {
		return fmt.Errorf("starting region server: %w", rserrors.ErrRegionServerRunning)
	}

	w, err := wal.Open(walDir, 64<<20)
	if err != nil {
		return fmt.Errorf("opening write-ahead log: %w", err)
	}
	defer w.Close()
	metrics.RegisterComponent("wal", true, "")

	store, err := filestore.Open(cfg.RootDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	cat, err := catalog.Open(cfg.RootDir)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer cat.Close()
	metrics.RegisterComponent("catalog", true, "")

	ownership, err := regionstore.Open(cfg.RootDir)
	if err != nil {
		return fmt.Errorf("opening region ownership store: %w", err)
	}
	defer ownership.Close()

	certDir, err := security.GetCertDir("regiond", identity.String())
	if err != nil {
		log.Logger.Warn().Err(err).Msg("resolving certificate directory, continuing without mTLS")
		certDir = ""
	}

	master, err := masterclient.Dial(cfg.MasterAddr, certDir)
	if err != nil {
		return fmt.Errorf("dialing master: %w", err)
	}
	defer master.Close()
	metrics.RegisterComponent("master", true, "")
	metrics.SetVersion(Version)

	reg := registry.New()
	ob := outbox.New()
	scanners := scanner.New(cfg.ScannerLeasePeriod())

	sc := serverctx.New(context.Background(), cfg, identity, func(reason error) {
		log.Logger.Error().Err(reason).Msg("aborting")
	})

	prober := fswatch.FileProber{Root: cfg.RootDir}
	watchdog := fswatch.New(prober, 5*time.Second, func(reason error) {
		metrics.UpdateComponent("wal", false, reason.Error())
		sc.Abort(reason)
	})

	cp := compactor.New(reg, cat, ob, watchdog)

	listFlushable := func() []flusher.Flushable {
		online := reg.Online()
		out := make([]flusher.Flushable, 0, len(online))
		for _, r := range online {
			if f, ok := r.(flusher.Flushable); ok {
				out = append(out, f)
			}
		}
		return out
	}
	listCompactable := func() []compactor.Compactable {
		online := reg.Online()
		out := make([]compactor.Compactable, 0, len(online))
		for _, r := range online {
			if c, ok := r.(compactor.Compactable); ok {
				out = append(out, c)
			}
		}
		return out
	}

	fl := flusher.New(flusher.Config{
		WakeFrequency:       cfg.ThreadWakeFrequency(),
		OptionalFlushPeriod: cfg.OptionalFlushPeriod(),
		GlobalLimit:         cfg.GlobalMemcacheLimit,
		GlobalLowMark:       cfg.GlobalMemcacheLimitLowMark,
	}, listFlushable, func(r flusher.Flushable) {
		if cr, ok := r.(compactor.Compactable); ok {
			cp.Request(cr)
		}
	}, watchdog, sc.Abort)

	var wk *worker.Worker
	opener := func(info *types.RegionInfo, progress func()) (*region.Region, error) {
		return region.Open(info, wk.WAL(), store, progress)
	}
	wk = worker.New(256, reg, w, ob, ownership, opener, func(r *region.Region) {
		cp.Request(r)
	}, watchdog)

	owned, err := ownership.Owned()
	if err != nil {
		return fmt.Errorf("reading previously owned regions: %w", err)
	}
	for _, info := range owned {
		log.Logger.Info().Str("region", info.Name()).Msg("re-opening region owned before restart")
		wk.Enqueue(types.Instruction{Kind: types.InstrRegionOpen, Region: info})
	}

	reopenWAL := func() (*wal.WAL, error) {
		dir := filepath.Join(cfg.RootDir, "wal", identity.String())
		return wal.Open(dir, 64<<20)
	}
	loop := mainloop.New(sc, reg, w, ob, wk, fl, cp, listCompactable, watchdog, master, reopenWAL)

	fe := frontend.New(sc, reg, scanners, fl, watchdog)
	grpcServer := grpc.NewServer(grpc.ForceServerCodec(rpcwire.Codec{}))
	grpcServer.RegisterService(&rpcwire.RegionServiceDesc, fe)

	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Address, err)
	}
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			log.Logger.Error().Err(err).Msg("client rpc server exited")
		}
	}()
	defer grpcServer.GracefulStop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if watchdog.Healthy() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	infoAddr := fmt.Sprintf(":%d", cfg.InfoPort)
	go func() {
		if err := http.ListenAndServe(infoAddr, mux); err != nil {
			log.Logger.Error().Err(err).Msg("info server exited")
		}
	}()
	fmt.Printf("region server %s listening for client connections on %s\n", identity.String(), cfg.Address)
	fmt.Printf("info endpoint: http://localhost%s/metrics http://localhost%s/healthz\n", infoAddr, infoAddr)

	sigCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-sigCtx.Done()
		log.Logger.Info().Msg("signal received, requesting graceful shutdown")
		sc.RequestStop()
	}()

	return loop.Run(sc.Ctx)
}
