package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rekcod/rekcod/api"
	"github.com/rekcod/rekcod/internal/version"
)

// registerInterval is how often the agent re-registers. Registration is
// the heartbeat: the server flips a node offline after fifteen silent
// seconds, so ten keeps one lost request survivable.
const registerInterval = 10 * time.Second

// registerLoop registers immediately and then on every tick until the
// context ends. Failures are logged and retried on the next tick.
func (a *Agent) registerLoop(ctx context.Context) {
	client := &http.Client{Timeout: registerInterval}

	a.registerOnce(ctx, client)
	ticker := time.NewTicker(registerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.registerOnce(ctx, client)
		}
	}
}

func (a *Agent) registerOnce(ctx context.Context, client *http.Client) {
	req, err := a.buildRegisterRequest()
	if err != nil {
		a.log.Error("register build", "err", err)
		return
	}
	if err := postRegister(ctx, client, a.cfg.MasterHost, a.token, req); err != nil {
		a.log.Warn("register", "master", a.cfg.MasterHost, "err", err)
	}
}

// buildRegisterRequest assembles the node's identity from the system
// collector and the agent config.
func (a *Agent) buildRegisterRequest() (*api.RegisterNodeRequest, error) {
	id, err := a.sys.identity()
	if err != nil {
		return nil, err
	}
	return &api.RegisterNodeRequest{
		Name:          a.cfg.NodeName,
		HostName:      id.hostName,
		IP:            a.cfg.AdvertiseIP,
		Port:          a.cfg.APIPort,
		Token:         a.token,
		Version:       version.Version,
		Arch:          id.arch,
		OS:            id.os,
		OSVersion:     id.osVersion,
		OSLongVersion: id.osLongVersion,
		OSKernel:      id.kernel,
		Status:        true,
	}, nil
}

func postRegister(ctx context.Context, client *http.Client, masterHost, token string, reg *api.RegisterNodeRequest) error {
	buf, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	url := "http://" + masterHost + api.ServerPrefixPath + "/node/register"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.TokenHeader, token)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("register: %s", resp.Status)
	}
	return nil
}
