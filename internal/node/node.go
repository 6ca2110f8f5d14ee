// Package node keeps the fleet registry: one kvs row per node, mirrored by
// an in-memory cache that also tracks heartbeats for the liveness monitor.
package node

import (
	"encoding/json"
	"fmt"

	"github.com/rekcod/rekcod/api"
	"github.com/rekcod/rekcod/internal/db"
)

// Module is the kvs module name for node rows.
const Module = "node"

// The row's sub_key mirrors Status so liveness queries can filter without
// decoding values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Node is the persisted record, stored as JSON in the row value. The row
// key repeats Name and the sub_key repeats Status.
type Node struct {
	Name          string `json:"name"`
	HostName      string `json:"host_name"`
	IP            string `json:"ip"`
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

// FromRegisterRequest copies the agent-reported fields into a record.
func FromRegisterRequest(req *api.RegisterNodeRequest) *Node {
	return &Node{
		Name:          req.Name,
		HostName:      req.HostName,
		IP:            req.IP,
		Port:          req.Port,
		Token:         req.Token,
		Version:       req.Version,
		Arch:          req.Arch,
		OS:            req.OS,
		OSVersion:     req.OSVersion,
		OSLongVersion: req.OSLongVersion,
		OSKernel:      req.OSKernel,
		Status:        req.Status,
	}
}

func decode(row *db.Kvs) (*Node, error) {
	var n Node
	if err := json.Unmarshal([]byte(row.Value), &n); err != nil {
		return nil, fmt.Errorf("node %s: %w", row.Key, err)
	}
	// The key and sub_key are authoritative over the value copy.
	n.Name = row.Key
	n.Status = row.SubKey == StatusOnline
	return &n, nil
}

func (n *Node) encode() (string, error) {
	buf, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", n.Name, err)
	}
	return string(buf), nil
}

func (n *Node) statusSubKey() string {
	if n.Status {
		return StatusOnline
	}
	return StatusOffline
}

// Addr returns the agent's "ip:port".
func (n *Node) Addr() string { return fmt.Sprintf("%s:%d", n.IP, n.Port) }

// BaseURL returns the agent's HTTP base URL.
func (n *Node) BaseURL() string { return "http://" + n.Addr() }

// ToItemResponse strips the token for the wire.
func (n *Node) ToItemResponse() *api.NodeItemResponse {
	return &api.NodeItemResponse{
		Name:      n.Name,
		HostName:  n.HostName,
		IP:        n.IP,
		Port:      n.Port,
		Version:   n.Version,
		Arch:      n.Arch,
		OS:        n.OS,
		OSVersion: n.OSVersion,
		OSKernel:  n.OSKernel,
		Status:    n.Status,
	}
}

// equal reports whether two records carry identical registration fields.
func (n *Node) equal(o *Node) bool {
	return *n == *o
}
