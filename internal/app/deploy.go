package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rekcod/rekcod/api"
	"github.com/rekcod/rekcod/internal/db"
	"github.com/rekcod/rekcod/internal/node"
)

// DeployModule is the kvs module for deployment records, keyed by the
// deployment name.
const DeployModule = "app"

// Deployer renders a bundle and drives docker compose against a target
// node's proxied engine. The compose CLI runs on the server; the
// DOCKER_HOST override points it at the node.
type Deployer struct {
	apps     *Manager
	renderer *Renderer
	nodes    *node.Manager
	kvs      *db.KvsSet
	log      *slog.Logger

	composeOnce sync.Once
	composeBin  string
	composeSub  []string
}

func NewDeployer(apps *Manager, renderer *Renderer, nodes *node.Manager, kvs *db.KvsSet, log *slog.Logger) *Deployer {
	return &Deployer{
		apps:     apps,
		renderer: renderer,
		nodes:    nodes,
		kvs:      kvs,
		log:      log.With("component", "deploy"),
	}
}

// compose resolves the compose CLI once: `docker compose` when the plugin
// answers, else the standalone `docker-compose`.
func (d *Deployer) compose() (string, []string, error) {
	d.composeOnce.Do(func() {
		if exec.Command("docker", "compose", "version").Run() == nil {
			d.composeBin, d.composeSub = "docker", []string{"compose"}
			return
		}
		if _, err := exec.LookPath("docker-compose"); err == nil {
			d.composeBin, d.composeSub = "docker-compose", nil
		}
	})
	if d.composeBin == "" {
		return "", nil, fmt.Errorf("neither `docker compose` nor `docker-compose` is available")
	}
	return d.composeBin, d.composeSub, nil
}

// emit sends a deploy log line when a channel is attached. A nil channel
// keeps the deploy silent.
func emit(out chan<- string, format string, args ...any) {
	if out != nil {
		out <- fmt.Sprintf(format, args...)
	}
}

// Deploy renders req.AppName's bundle against req.Values and brings the
// stack up on req.NodeName. Redeploying an existing name that moved nodes
// first removes the old node's container. Progress lines, compose output
// included, go to out until Deploy returns; out may be nil.
func (d *Deployer) Deploy(ctx context.Context, req *api.DeployAppRequest, out chan<- string) error {
	if req.Name == "" || req.AppName == "" || req.NodeName == "" {
		return fmt.Errorf("deploy: name, app_name and node_name are required")
	}

	bundle := d.apps.Get(req.AppName)
	if bundle == nil {
		return fmt.Errorf("deploy: unknown application %q", req.AppName)
	}

	// A deployment that moved nodes leaves its old container behind; remove
	// it by name before bringing the stack up elsewhere.
	if prev, err := d.Get(ctx, req.Name); err != nil {
		return err
	} else if prev != nil && prev.NodeName != req.NodeName {
		d.log.Info(fmt.Sprintf("stop app %s on node %s", req.Name, prev.NodeName))
		emit(out, "stop app %s on node %s", req.Name, prev.NodeName)
		d.removeOldContainer(ctx, prev.NodeName, req.Name)
	}

	rendered, err := d.renderer.RenderBundle(ctx, bundle, req.Values)
	if err != nil {
		return err
	}
	composeDoc, err := composeDocument(bundle, rendered)
	if err != nil {
		return err
	}

	st, err := d.nodes.GetNode(ctx, req.NodeName)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("deploy: unknown node %q", req.NodeName)
	}
	if !st.Node.Status {
		return fmt.Errorf("deploy: node %q is offline", req.NodeName)
	}

	workDir := req.Project
	if workDir == "" {
		workDir = bundle.ProjectDir()
	}

	up := []string{"up", "-d"}
	if req.Build {
		up = append(up, "--build")
	}
	if err := d.runCompose(ctx, st, workDir, composeDoc, out, up...); err != nil {
		return err
	}

	info := DeployInfo{
		Name:      req.Name,
		AppName:   req.AppName,
		NodeName:  req.NodeName,
		Project:   req.Project,
		Values:    req.Values,
		Build:     req.Build,
		UpdatedAt: time.Now().UTC(),
	}
	value, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := d.kvs.InsertOrUpdate(ctx, &db.Kvs{
		Module: DeployModule, Key: req.Name, Value: string(value),
	}); err != nil {
		return err
	}

	d.log.Info("app deployed", "app", req.Name, "bundle", req.AppName, "node", req.NodeName)
	emit(out, "deploy app %s on node %s done", req.Name, req.NodeName)
	return nil
}

// removeOldContainer force-removes the container named after the deployment
// on its previous node. Failures are logged; the deploy proceeds.
func (d *Deployer) removeOldContainer(ctx context.Context, nodeName, containerName string) {
	old, err := d.nodes.GetNode(ctx, nodeName)
	if err != nil || old == nil {
		d.log.Warn("old node lookup failed", "node", nodeName, "err", err)
		return
	}
	if err := old.Engine.RemoveContainer(ctx, containerName, true); err != nil {
		d.log.Warn("old container removal failed",
			"container", containerName, "node", nodeName, "err", err)
	}
}

// composeDocument picks the rendered compose file out of the bundle's
// templates.
func composeDocument(b *Bundle, rendered map[string]string) (string, error) {
	for _, name := range b.Tmpls {
		if strings.HasPrefix(name, "docker-compose.") || strings.HasPrefix(name, "compose.") {
			return rendered[name], nil
		}
	}
	return "", fmt.Errorf("bundle %s has no compose template", b.Manifest.Name)
}

// Delete drops the deployment record. Running containers are left to the
// operator.
func (d *Deployer) Delete(ctx context.Context, name string) error {
	return d.kvs.Delete(ctx, DeployModule, db.Filter{Key: db.Eq(name)})
}

// Get returns one deployment record, nil when absent.
func (d *Deployer) Get(ctx context.Context, name string) (*DeployInfo, error) {
	row, err := d.kvs.SelectOne(ctx, DeployModule, db.Filter{Key: db.Eq(name)})
	if err != nil || row == nil {
		return nil, err
	}
	var info DeployInfo
	if err := json.Unmarshal([]byte(row.Value), &info); err != nil {
		return nil, fmt.Errorf("deployment %s: %w", name, err)
	}
	return &info, nil
}

// List returns every deployment record.
func (d *Deployer) List(ctx context.Context) ([]DeployInfo, error) {
	rows, err := d.kvs.Select(ctx, DeployModule, db.Filter{})
	if err != nil {
		return nil, err
	}
	out := make([]DeployInfo, 0, len(rows))
	for _, row := range rows {
		var info DeployInfo
		if err := json.Unmarshal([]byte(row.Value), &info); err != nil {
			return nil, fmt.Errorf("deployment %s: %w", row.Key, err)
		}
		out = append(out, info)
	}
	return out, nil
}

// runCompose feeds the rendered compose document to the CLI over stdin,
// pointed at the node's proxied engine. A non-empty dir becomes the working
// directory, so relative build contexts and env files resolve there. The
// subprocess's stdout and stderr stream to out as lines.
func (d *Deployer) runCompose(ctx context.Context, st *node.State, dir, rendered string, out chan<- string, extra ...string) error {
	bin, sub, err := d.compose()
	if err != nil {
		return err
	}

	args := append(append([]string{}, sub...), "-f", "-")
	args = append(args, extra...)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = strings.NewReader(rendered)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"DOCKER_HOST=tcp://"+st.Node.Addr()+api.DockerProxyPath,
		"DOCKER_CUSTOM_HEADERS="+api.TokenHeader+"="+st.Node.Token,
		// BuildKit sessions need a direct engine connection the proxy does
		// not carry.
		"DOCKER_BUILDKIT=0",
	)

	lw := &lineWriter{out: out}
	var stderr bytes.Buffer
	cmd.Stdout = lw
	cmd.Stderr = io.MultiWriter(&stderr, lw)
	runErr := cmd.Run()
	lw.flush()
	if runErr != nil {
		return fmt.Errorf("compose %s: %w\n%s", strings.Join(extra, " "), runErr, stderr.String())
	}
	d.log.Debug("compose done", "args", strings.Join(extra, " "), "node", st.Node.Name)
	return nil
}

// lineWriter splits subprocess output into lines for the deploy log
// channel. Stdout and stderr feed it from separate pipe goroutines, and
// buffering up to the newline keeps lines whole.
type lineWriter struct {
	out chan<- string
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w.out == nil {
		return len(p), nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Partial line: keep it for the next write.
			w.buf.WriteString(line)
			return len(p), nil
		}
		w.out <- strings.TrimRight(line, "\r\n")
	}
}

// flush sends any trailing output that never got its newline.
func (w *lineWriter) flush() {
	if w.out == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.out <- w.buf.String()
		w.buf.Reset()
	}
}
