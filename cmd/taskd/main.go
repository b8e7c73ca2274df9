// Command taskd is the node-agent daemon (§4, §6): it answers the
// controller's per-node RPCs, gates and runs the site prolog/epilog, and
// serves every step and batch job assigned to this node from one
// in-process pkg/stepagent.Agent. It does not spawn a stepd process per
// step; it uses the stepd binary only as each task's __task-init shim.
package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/taskd/pkg/capability"
	"github.com/cuemby/taskd/pkg/config"
	"github.com/cuemby/taskd/pkg/controllerclient"
	"github.com/cuemby/taskd/pkg/credential"
	"github.com/cuemby/taskd/pkg/dispatcher"
	"github.com/cuemby/taskd/pkg/log"
	"github.com/cuemby/taskd/pkg/metrics"
	"github.com/cuemby/taskd/pkg/runtime"
	"github.com/cuemby/taskd/pkg/security"
	"github.com/cuemby/taskd/pkg/stepagent"
	"github.com/cuemby/taskd/pkg/supervisor"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "taskd: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "taskd",
	Short:   "Compute-node job execution daemon",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("taskd version %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().String("config", "/etc/taskd/taskd.yaml", "Path to the node-agent YAML config")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format regardless of config")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(caCmd)
	caCmd.AddCommand(caInitCmd)
	caCmd.AddCommand(caShowCmd)
}

var loadedConfig *config.NodeConfig

func initLogging() {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		cfg = config.Default()
	}
	loadedConfig = cfg

	level := log.Level(cfg.LogLevel)
	if override, _ := rootCmd.PersistentFlags().GetString("log-level"); override != "" {
		level = log.Level(override)
	}
	jsonOut := cfg.LogJSON
	if forced, _ := rootCmd.PersistentFlags().GetBool("log-json"); forced {
		jsonOut = true
	}
	log.Init(log.Config{Level: level, JSONOutput: jsonOut})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node-agent daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(loadedConfig)
	},
}

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Manage this node's certificate authority state",
}

var caInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize (or load) the node's certificate authority",
	RunE: func(cmd *cobra.Command, args []string) error {
		ca := security.NewCertAuthority(loadedConfig.CADir)
		if err := ca.LoadOrInitialize(); err != nil {
			return fmt.Errorf("initialize CA: %w", err)
		}
		fmt.Printf("certificate authority ready at %s\n", loadedConfig.CADir)
		return nil
	},
}

var caShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print whether the node's CA is initialized",
	RunE: func(cmd *cobra.Command, args []string) error {
		ca := security.NewCertAuthority(loadedConfig.CADir)
		_ = ca.Load()
		fmt.Printf("initialized: %v\n", ca.IsInitialized())
		return nil
	},
}

func loadCredentialPublicKey(path string) (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credential public key %s: %w", path, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("credential public key %s: want %d bytes, got %d", path, ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

func runDaemon(cfg *config.NodeConfig) error {
	log.WithComponent("taskd").Info().Str("node_id", cfg.NodeID).Msg("starting node-agent")

	ca := security.NewCertAuthority(cfg.CADir)
	if err := ca.LoadOrInitialize(); err != nil {
		return fmt.Errorf("certificate authority: %w", err)
	}

	pubKey, err := loadCredentialPublicKey(cfg.CredentialPublicKeyPath)
	if err != nil {
		return err
	}

	revoked, err := credential.OpenRevocationTable(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("revocation table: %w", err)
	}
	defer revoked.Close()

	validator := credential.NewValidator(pubKey, revoked)

	containerdRuntime, err := runtime.NewContainerdRuntime("")
	if err != nil {
		return fmt.Errorf("containerd runtime: %w", err)
	}
	defer containerdRuntime.Close()

	allocator := capability.NewAllocator(nil)

	supervisorRunner, err := supervisor.NewRunner(containerdRuntime, allocator, cfg.StepdPath)
	if err != nil {
		return fmt.Errorf("supervisor runner: %w", err)
	}

	agentCfg := stepagent.AgentConfig{
		NodeID:          cfg.NodeID,
		NodeIndex:       0,
		NodeCount:       1,
		Fanout:          cfg.Fanout,
		RunDir:          cfg.RunDir,
		PrologPath:      cfg.PrologPath,
		EpilogPath:      cfg.EpilogPath,
		TaskEpilogPath:  cfg.TaskEpilogPath,
		SuperUID:        cfg.SuperUID,
		ServiceUID:      cfg.ServiceUID,
		KillWaitSeconds: cfg.KillWaitSeconds,
	}

	agent := stepagent.NewAgent(agentCfg, validator, revoked, supervisorRunner, nil, nil, nil)

	if cfg.ControllerAddr != "" {
		controller, err := controllerclient.Dial(cfg.ControllerAddr, cfg.NodeID, ca)
		if err != nil {
			return fmt.Errorf("controller client: %w", err)
		}
		defer controller.Close()
		agent.SetNotifier(controller)
	}

	reloader := config.WatchSIGHUP(configPathFlag(), cfg, agent.ApplyHotReload)
	defer reloader.Stop()

	collector := metrics.NewCollector(agent)
	collector.Start()
	defer collector.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	httpSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithComponent("taskd").Error().Err(err).Msg("metrics listener failed")
		}
	}()

	server, err := dispatcher.NewServer(agent, dispatcher.Config{
		NodeID:     cfg.NodeID,
		SuperUID:   cfg.SuperUID,
		ServiceUID: cfg.ServiceUID,
		CA:         ca,
	})
	if err != nil {
		return fmt.Errorf("dispatcher server: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(cfg.ListenAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("controller RPC listener: %w", err)
	case <-sigCh:
	}

	log.WithComponent("taskd").Info().Msg("shutting down")
	server.Stop()
	_ = httpSrv.Shutdown(context.Background())
	return nil
}

func configPathFlag() string {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	return path
}
