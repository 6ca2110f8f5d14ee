// Package config holds the runtime configuration for the server and agent
// processes.
package config

import (
	"fmt"
	"net"

	"github.com/rekcod/rekcod/api"
)

// Type distinguishes a self-hosting master (server + agent in one process)
// from a plain agent.
type Type int

const (
	// Master runs the server control plane plus a local agent surface.
	Master Type = iota
	// Agent runs only the per-node agent surface.
	Agent
)

// Server configures the control plane.
type Server struct {
	// DBURL is the SQLite URL, e.g. "sqlite://db.sqlite?mode=rwc".
	DBURL      string
	DataPath   string
	ConfigPath string
	APIPort    int
	// Dashboard enables the static dashboard mount when the asset
	// directory exists.
	Dashboard bool
	// DashboardPath points at the built dashboard assets.
	DashboardPath string
}

// DefaultServer returns the server defaults.
func DefaultServer() *Server {
	return &Server{
		DBURL:      "sqlite://db.sqlite?mode=rwc",
		DataPath:   api.DefaultDataPath,
		ConfigPath: api.DefaultConfigPath,
		APIPort:    6734,
		Dashboard:  true,
	}
}

// AppPath returns the application bundle root under the data path.
func (s *Server) AppPath() string {
	return s.DataPath + "/app"
}

// AgentConfig configures the per-node agent.
type AgentConfig struct {
	DataPath   string
	ConfigPath string
	// MasterHost is "host:port" of the server. A master process registers
	// against itself on the loopback address.
	MasterHost string
	APIPort    int
	Typ        Type
	// NodeName overrides the default (the local IP) as the registered name.
	NodeName string
	// AdvertiseIP is the address other fleet members reach this agent on.
	// Empty means detect it from the route towards the master.
	AdvertiseIP string
}

// Normalize fills the derived fields: the advertise address and the node
// name default.
func (c *AgentConfig) Normalize() {
	if c.AdvertiseIP == "" {
		c.AdvertiseIP = DetectIP(c.MasterHost)
	}
	if c.NodeName == "" {
		c.NodeName = c.AdvertiseIP
	}
}

// DetectIP returns the local address used to reach masterHost. No packet
// is sent; the kernel just picks the route.
func DetectIP(masterHost string) string {
	conn, err := net.Dial("udp", masterHost)
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

// DefaultAgent returns the agent defaults.
func DefaultAgent() *AgentConfig {
	return &AgentConfig{
		DataPath:   api.DefaultDataPath,
		ConfigPath: api.DefaultConfigPath,
		APIPort:    6734,
		Typ:        Agent,
	}
}

// AgentForServer derives the self-hosting agent configuration for a master
// process: the agent loop registers against the local server.
func AgentForServer(s *Server) *AgentConfig {
	return &AgentConfig{
		DataPath:    s.DataPath,
		ConfigPath:  s.ConfigPath,
		MasterHost:  fmt.Sprintf("127.0.0.1:%d", s.APIPort),
		APIPort:     s.APIPort,
		Typ:         Master,
		AdvertiseIP: "127.0.0.1",
	}
}
