// Package api defines the wire types shared between the CLI, the server
// and the agents.
package api

// Response is the standard JSON envelope. Code 0 means success; any other
// code carries a human-readable message in Msg.
type Response[T any] struct {
	Msg  string `json:"msg"`
	Code int    `json:"code"`
	Data *T     `json:"data,omitempty"`
}

// Success wraps a payload in a code-0 envelope.
func Success[T any](data T) Response[T] {
	return Response[T]{Data: &data}
}

// EmptySuccess returns a code-0 envelope with no payload.
func EmptySuccess[T any]() Response[T] {
	return Response[T]{}
}

// Error returns an envelope carrying a non-zero code and message.
func Error[T any](code int, msg string) Response[T] {
	return Response[T]{Msg: msg, Code: code}
}

// Empty is the payload type for envelopes that carry no data.
type Empty struct{}

// RegisterNodeRequest is sent by every agent to
// POST /rekcod.server/node/register every ten seconds. Registration doubles
// as the heartbeat: there is no separate liveness endpoint.
type RegisterNodeRequest struct {
	// Name uniquely identifies the node in the fleet.
	Name     string `json:"name"`
	HostName string `json:"host_name"`
	IP       string `json:"ip"`
	// Port is the agent's listen port.
	Port          int    `json:"port"`
	Token         string `json:"token"`
	Version       string `json:"version"`
	Arch          string `json:"arch"`
	OS            string `json:"os"`
	OSVersion     string `json:"os_version"`
	OSLongVersion string `json:"os_long_version"`
	OSKernel      string `json:"os_kernel"`
	Status        bool   `json:"status"`
}

// NodeListRequest filters POST /api/node/list. All=false returns only
// online nodes.
type NodeListRequest struct {
	All bool `json:"all"`
}

// NodeInfoRequest is sent to POST /api/node/info.
type NodeInfoRequest struct {
	Name string `json:"name"`
}

// NodeItemResponse describes one node. The token is never included.
type NodeItemResponse struct {
	Name      string `json:"name"`
	HostName  string `json:"host_name"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	Version   string `json:"version"`
	Arch      string `json:"arch"`
	OS        string `json:"os"`
	OSVersion string `json:"os_version"`
	OSKernel  string `json:"os_kernel"`
	Status    bool   `json:"status"`
}

// ApplicationResponse describes an application template bundle.
type ApplicationResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	Tmpls       []string `json:"tmpls"`
	QA          []QAItem `json:"qa,omitempty"`
}

// QAItem is one operator question from an application manifest. The
// dashboard renders these as a form and assembles the answers into the
// values document.
type QAItem struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Label        string `json:"label" yaml:"label"`
	Type         string `json:"type" yaml:"type"`
	DefaultValue string `json:"default_value" yaml:"default_value"`
}

// RenderTmplRequest previews an ad-hoc template against a values document.
type RenderTmplRequest struct {
	TmplContext string `json:"tmpl_context"`
	TmplValues  string `json:"tmpl_values"`
}

// RenderTmplResponse carries the rendered text.
type RenderTmplResponse struct {
	Content string `json:"content"`
}

// DeployAppRequest is sent to POST /api/app/deploy.
type DeployAppRequest struct {
	// Name is the deployment name; redeploying an existing name updates it.
	Name     string `json:"name"`
	AppName  string `json:"app_name"`
	NodeName string `json:"node_name"`
	// Project optionally overrides the compose working directory.
	Project string `json:"project,omitempty"`
	// Values is a YAML document fed to the template context.
	Values string `json:"values,omitempty"`
	Build  bool   `json:"build,omitempty"`
}

// DeleteAppRequest removes a deployment record. Containers already running
// on the target node are left to the operator.
type DeleteAppRequest struct {
	Name string `json:"name"`
}

// EnvRequest replaces the global environment document
// (KEY=VALUE lines, # comments allowed).
type EnvRequest struct {
	Values string `json:"values"`
}

// EnvResponse returns the global environment document.
type EnvResponse struct {
	Values string `json:"values"`
}

// ShellRequest runs a command on an agent (POST /rekcod.agent/shell).
type ShellRequest struct {
	Env  map[string]string `json:"env,omitempty"`
	Run  string            `json:"run"`
	Bash bool              `json:"bash,omitempty"`
}

// DownloadRequest streams a file from an agent (POST /rekcod.agent/download).
type DownloadRequest struct {
	Path string `json:"path"`
}

// SystemInfoResponse is returned by GET /rekcod.agent/sys.
type SystemInfoResponse struct {
	CPUUsage      float64             `json:"cpu_usage"`
	CPUCount      int                 `json:"cpu_count"`
	MemAvailable  uint64              `json:"mem_available"`
	MemTotal      uint64              `json:"mem_total"`
	MemUsage      float64             `json:"mem_usage"`
	MemFree       uint64              `json:"mem_free"`
	MemUsed       uint64              `json:"mem_used"`
	SystemName    string              `json:"system_name"`
	KernelVersion string              `json:"kernel_version"`
	OSVersion     string              `json:"os_version"`
	LongOSVersion string              `json:"long_os_version"`
	HostName      string              `json:"host_name"`
	CPUArch       string              `json:"cpu_arch"`
	Disks         []SystemDiskInfo    `json:"disks"`
	Networks      []SystemNetworkInfo `json:"networks"`
}

// SystemDiskInfo describes one mounted filesystem.
type SystemDiskInfo struct {
	Name      string `json:"name"`
	Total     uint64 `json:"total"`
	Free      uint64 `json:"free"`
	Mount     string `json:"mount"`
	Removable bool   `json:"removable"`
}

// SystemNetworkInfo describes one network interface.
type SystemNetworkInfo struct {
	Name     string   `json:"name"`
	IPs      []string `json:"ips"`
	MAC      string   `json:"mac"`
	TotalOut uint64   `json:"total_out"`
	TotalIn  uint64   `json:"total_in"`
}

// TermEvent is one message on the exec-terminal websocket, both directions.
// Client to server: "data" (string payload), "resize" (Resize payload).
// Server to client: "connected", "out", "err", "disconnected".
type TermEvent struct {
	Event string `json:"event"`
	Data  string `json:"data,omitempty"`
	// Resize is set only for resize events.
	Resize *TermResize `json:"resize,omitempty"`
}

// TermResize carries the new terminal geometry.
type TermResize struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}
