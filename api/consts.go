package api

// Wire-level constants shared by the server, the agents and the CLI.
const (
	// DockerProxyPath prefixes every engine-API request an agent forwards
	// to its local Docker socket.
	DockerProxyPath = "/proxy.docker"
	// AgentPrefixPath is the root of the agent HTTP surface.
	AgentPrefixPath = "/rekcod.agent"
	// ServerPrefixPath is the root of the inbound agent control channel.
	ServerPrefixPath = "/rekcod.server"

	// TokenHeader carries the shared bearer secret.
	TokenHeader = "X-REKCOD-TOKEN"
	// NodeNameHeader selects the proxy target node.
	NodeNameHeader = "X-NODE-NAME"
)

// Default filesystem locations.
const (
	DefaultDataPath   = "/home/rekcod/data"
	DefaultConfigPath = "/etc/rekcod"
	ConfigFileName    = "rekcod.json"
)
