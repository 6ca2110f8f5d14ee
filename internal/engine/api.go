package engine

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/api/types/volume"
)

// Info returns the engine's system information.
func (c *Client) Info(ctx context.Context) (*system.Info, error) {
	var out system.Info
	if err := c.do(ctx, "GET", "/info", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListContainers lists containers; all includes stopped ones.
func (c *Client) ListContainers(ctx context.Context, all bool) ([]container.Summary, error) {
	q := url.Values{}
	if all {
		q.Set("all", "true")
	}
	var out []container.Summary
	if err := c.do(ctx, "GET", "/containers/json", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InspectContainer returns the full record for one container.
func (c *Client) InspectContainer(ctx context.Context, id string) (*container.InspectResponse, error) {
	var out container.InspectResponse
	if err := c.do(ctx, "GET", "/containers/"+id+"/json", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartContainer starts a stopped container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	return c.do(ctx, "POST", "/containers/"+id+"/start", nil, nil, nil)
}

// StopContainer stops a running container with the engine's default grace
// period.
func (c *Client) StopContainer(ctx context.Context, id string) error {
	return c.do(ctx, "POST", "/containers/"+id+"/stop", nil, nil, nil)
}

// RestartContainer restarts a container.
func (c *Client) RestartContainer(ctx context.Context, id string) error {
	return c.do(ctx, "POST", "/containers/"+id+"/restart", nil, nil, nil)
}

// RemoveContainer deletes a container; force removes a running one.
func (c *Client) RemoveContainer(ctx context.Context, id string, force bool) error {
	q := url.Values{}
	if force {
		q.Set("force", "true")
	}
	return c.do(ctx, "DELETE", "/containers/"+id, q, nil, nil)
}

// LogsOptions selects which log streams to read and how much of them.
type LogsOptions struct {
	Follow bool
	Stdout bool
	Stderr bool
	Tail   string // "" or "all" for everything, else a line count
}

// Logs streams container logs. The caller owns the returned reader; when
// the container runs without a TTY the stream carries the engine's
// stdout/stderr multiplexing frames.
func (c *Client) Logs(ctx context.Context, id string, opts LogsOptions) (io.ReadCloser, error) {
	q := url.Values{}
	q.Set("follow", strconv.FormatBool(opts.Follow))
	q.Set("stdout", strconv.FormatBool(opts.Stdout))
	q.Set("stderr", strconv.FormatBool(opts.Stderr))
	if opts.Tail != "" {
		q.Set("tail", opts.Tail)
	}
	return c.doStream(ctx, "GET", "/containers/"+id+"/logs", q, nil, "")
}

// ListImages lists images, optionally filtered by reference.
func (c *Client) ListImages(ctx context.Context, reference string) ([]image.Summary, error) {
	q := url.Values{}
	if reference != "" {
		args := filters.NewArgs(filters.Arg("reference", reference))
		buf, err := filters.ToJSON(args)
		if err != nil {
			return nil, fmt.Errorf("image filters: %w", err)
		}
		q.Set("filters", buf)
	}
	var out []image.Summary
	if err := c.do(ctx, "GET", "/images/json", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateImage pulls fromImage and streams the engine's JSON progress
// messages until the pull completes.
func (c *Client) CreateImage(ctx context.Context, fromImage string) (io.ReadCloser, error) {
	q := url.Values{}
	q.Set("fromImage", fromImage)
	return c.doStream(ctx, "POST", "/images/create", q, nil, "")
}

// ExportImage streams the named image as a tarball.
func (c *Client) ExportImage(ctx context.Context, name string) (io.ReadCloser, error) {
	return c.doStream(ctx, "GET", "/images/"+name+"/get", nil, nil, "")
}

// ImportImageStream loads an image tarball from r into the engine and
// streams back the JSON progress messages.
func (c *Client) ImportImageStream(ctx context.Context, r io.Reader) (io.ReadCloser, error) {
	q := url.Values{}
	q.Set("quiet", "0")
	return c.doStream(ctx, "POST", "/images/load", q, r, "application/x-tar")
}

// ListNetworks lists the engine's networks.
func (c *Client) ListNetworks(ctx context.Context) ([]network.Summary, error) {
	var out []network.Summary
	if err := c.do(ctx, "GET", "/networks", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListVolumes lists the engine's volumes.
func (c *Client) ListVolumes(ctx context.Context) (*volume.ListResponse, error) {
	var out volume.ListResponse
	if err := c.do(ctx, "GET", "/volumes", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events streams engine events in the [since, until) window. A zero until
// leaves the stream open until the context ends; the caller decodes
// events.Message values off the reader.
func (c *Client) Events(ctx context.Context, since, until time.Time) (io.ReadCloser, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", strconv.FormatInt(since.Unix(), 10))
	}
	if !until.IsZero() {
		q.Set("until", strconv.FormatInt(until.Unix(), 10))
	}
	return c.doStream(ctx, "GET", "/events", q, nil, "")
}

// EventMessage is re-exported so callers decode the events stream without
// importing the engine API types themselves.
type EventMessage = events.Message

// ExecCreate creates an exec instance in a running container and returns
// its id.
func (c *Client) ExecCreate(ctx context.Context, containerID string, opts container.ExecOptions) (string, error) {
	var out struct {
		ID string `json:"Id"`
	}
	if err := c.do(ctx, "POST", "/containers/"+containerID+"/exec", nil, opts, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("engine: exec create returned no id")
	}
	return out.ID, nil
}

// ExecResize resizes the TTY of a started exec instance.
func (c *Client) ExecResize(ctx context.Context, execID string, height, width uint) error {
	q := url.Values{}
	q.Set("h", strconv.FormatUint(uint64(height), 10))
	q.Set("w", strconv.FormatUint(uint64(width), 10))
	return c.do(ctx, "POST", "/exec/"+execID+"/resize", q, nil, nil)
}
