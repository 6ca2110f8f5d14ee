package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rekcod/rekcod/internal/agent"
	"github.com/rekcod/rekcod/internal/app"
	"github.com/rekcod/rekcod/internal/auth"
	"github.com/rekcod/rekcod/internal/config"
	"github.com/rekcod/rekcod/internal/db"
	"github.com/rekcod/rekcod/internal/envstore"
	"github.com/rekcod/rekcod/internal/node"
	"github.com/rekcod/rekcod/internal/server"
)

var serverFlags = struct {
	port          int
	dbURL         string
	dataPath      string
	dashboard     bool
	dashboardPath string
	nodeName      string
}{}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the control plane (and a local agent) on this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	f := serverCmd.Flags()
	f.IntVar(&serverFlags.port, "port", 6734, "listen port")
	f.StringVar(&serverFlags.dbURL, "db-url", "", "sqlite url (default: sqlite://<data-path>/db.sqlite?mode=rwc)")
	f.StringVar(&serverFlags.dataPath, "data-path", "", "data directory")
	f.BoolVar(&serverFlags.dashboard, "dashboard", true, "serve the dashboard assets")
	f.StringVar(&serverFlags.dashboardPath, "dashboard-path", "", "dashboard asset directory")
	f.StringVar(&serverFlags.nodeName, "name", "", "name this master registers under (default: 127.0.0.1)")
}

func newLogger() *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	return logger
}

func runServer() error {
	log := newLogger()

	cfg := config.DefaultServer()
	cfg.APIPort = serverFlags.port
	cfg.ConfigPath = configPath
	if serverFlags.dataPath != "" {
		cfg.DataPath = serverFlags.dataPath
	}
	if serverFlags.dbURL != "" {
		cfg.DBURL = serverFlags.dbURL
	} else {
		cfg.DBURL = fmt.Sprintf("sqlite://%s/db.sqlite?mode=rwc", cfg.DataPath)
	}
	cfg.Dashboard = serverFlags.dashboard
	cfg.DashboardPath = serverFlags.dashboardPath

	if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
		return fmt.Errorf("data path: %w", err)
	}

	// Token bootstrap: generated on first run, stable afterwards.
	identity, err := auth.LoadOrCreate(cfg.ConfigPath, fmt.Sprintf("127.0.0.1:%d", cfg.APIPort))
	if err != nil {
		return err
	}
	auth.SetToken(identity.Token)
	log.Info("identity loaded", "config", cfg.ConfigPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, cfg.DBURL, log)
	if err != nil {
		return err
	}
	defer store.Close()

	nodes := node.NewManager(store, log)
	env := envstore.New(store.Kvs)
	apps := app.NewManager(cfg.AppPath(), log)
	if err := apps.Scan(); err != nil {
		return err
	}
	renderer := app.NewRenderer(env, nodes)
	deployer := app.NewDeployer(apps, renderer, nodes, store.Kvs, log)

	// The master doubles as a node: its agent surface rides the same
	// listener and registers against the loopback address.
	agentCfg := config.AgentForServer(cfg)
	if serverFlags.nodeName != "" {
		agentCfg.NodeName = serverFlags.nodeName
	}
	agentCfg.Normalize()
	local, err := agent.New(agentCfg, identity.Token, log)
	if err != nil {
		return err
	}

	srv := server.New(cfg, store, nodes, apps, renderer, deployer, env, identity.Token, log).
		WithLocalAgent(local.Handler())

	go node.NewMonitor(nodes).Run(ctx)
	go func() {
		if err := apps.Watch(ctx); err != nil {
			log.Error("app watcher stopped", "err", err)
		}
	}()
	go local.RunJobs(ctx)

	return srv.Start(ctx, fmt.Sprintf(":%d", cfg.APIPort))
}
