package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rekcod/rekcod/internal/agent"
	"github.com/rekcod/rekcod/internal/auth"
	"github.com/rekcod/rekcod/internal/config"
)

var agentFlags = struct {
	master   string
	token    string
	port     int
	name     string
	ip       string
	dataPath string
}{}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a node agent and register it with the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if agentFlags.master == "" {
			return fmt.Errorf("--master-host is required")
		}
		if agentFlags.token == "" {
			return fmt.Errorf("--token is required (printed to rekcod.json on the server)")
		}
		return runAgent()
	},
}

func init() {
	f := agentCmd.Flags()
	f.StringVar(&agentFlags.master, "master-host", "", "server host:port")
	f.StringVar(&agentFlags.token, "token", "", "fleet token issued by the server")
	f.IntVar(&agentFlags.port, "port", 6734, "listen port")
	f.StringVar(&agentFlags.name, "name", "", "node name (default: the advertised ip)")
	f.StringVar(&agentFlags.ip, "ip", "", "advertised ip (default: detected from the master route)")
	f.StringVar(&agentFlags.dataPath, "data-path", "", "data directory")
}

func runAgent() error {
	log := newLogger()
	auth.SetToken(agentFlags.token)

	cfg := config.DefaultAgent()
	cfg.MasterHost = agentFlags.master
	cfg.APIPort = agentFlags.port
	cfg.NodeName = agentFlags.name
	cfg.AdvertiseIP = agentFlags.ip
	cfg.ConfigPath = configPath
	if agentFlags.dataPath != "" {
		cfg.DataPath = agentFlags.dataPath
	}
	cfg.Normalize()

	a, err := agent.New(cfg, agentFlags.token, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx, fmt.Sprintf(":%d", cfg.APIPort))
}
