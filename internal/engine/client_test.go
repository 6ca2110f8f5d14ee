package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"

	"github.com/rekcod/rekcod/api"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, "tok-1", time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestRequestsCarryPrefixAndToken(t *testing.T) {
	var gotPath, gotToken string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get(api.TokenHeader)
		w.Write([]byte(`{}`))
	}))

	if _, err := c.Info(context.Background()); err != nil {
		t.Fatalf("Info: %v", err)
	}
	if gotPath != api.DockerProxyPath+"/info" {
		t.Errorf("path = %q, want %q", gotPath, api.DockerProxyPath+"/info")
	}
	if gotToken != "tok-1" {
		t.Errorf("token = %q, want tok-1", gotToken)
	}
}

func TestListContainersAll(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("all") != "true" {
			t.Errorf("all = %q, want true", r.URL.Query().Get("all"))
		}
		json.NewEncoder(w).Encode([]container.Summary{
			{ID: "c1", Names: []string{"/web"}, State: "running"},
			{ID: "c2", Names: []string{"/db"}, State: "exited"},
		})
	}))

	got, err := c.ListContainers(context.Background(), true)
	if err != nil {
		t.Fatalf("ListContainers: %v", err)
	}
	if len(got) != 2 || got[1].State != "exited" {
		t.Errorf("got %+v", got)
	}
}

func TestErrorStatusSurfacesBody(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"No such container: nope"}`, http.StatusNotFound)
	}))

	err := c.StartContainer(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "No such container") {
		t.Errorf("err = %v, want status and engine message", err)
	}
}

func TestExecCreateReturnsID(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/containers/c1/exec") {
			t.Errorf("path = %q", r.URL.Path)
		}
		var opts container.ExecOptions
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(opts.Cmd) == 0 || opts.Cmd[0] != "sh" {
			t.Errorf("cmd = %v", opts.Cmd)
		}
		json.NewEncoder(w).Encode(map[string]string{"Id": "exec-9"})
	}))

	id, err := c.ExecCreate(context.Background(), "c1", container.ExecOptions{
		Cmd: []string{"sh"}, Tty: true, AttachStdin: true, AttachStdout: true, AttachStderr: true,
	})
	if err != nil {
		t.Fatalf("ExecCreate: %v", err)
	}
	if id != "exec-9" {
		t.Errorf("id = %q, want exec-9", id)
	}
}

func TestExecStartHijackEchoes(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("server does not support hijacking")
		}
		conn, rw, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack: %v", err)
		}
		defer conn.Close()

		rw.WriteString("HTTP/1.1 101 UPGRADED\r\nConnection: Upgrade\r\nUpgrade: tcp\r\n\r\n")
		rw.Flush()

		// echo one line back
		line, _ := rw.ReadString('\n')
		rw.WriteString("echo:" + line)
		rw.Flush()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := c.ExecStart(ctx, "exec-9", true)
	if err != nil {
		t.Fatalf("ExecStart: %v", err)
	}
	defer stream.Close()

	if _, err := stream.Write([]byte("ls\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(stream).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "echo:ls\n" {
		t.Errorf("line = %q, want echo:ls", line)
	}
}

func TestLogsStream(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("stdout") != "true" || q.Get("tail") != "100" {
			t.Errorf("query = %v", q)
		}
		io.WriteString(w, "line1\nline2\n")
	}))

	rc, err := c.Logs(context.Background(), "c1", LogsOptions{Stdout: true, Tail: "100"})
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	defer rc.Close()
	buf, _ := io.ReadAll(rc)
	if string(buf) != "line1\nline2\n" {
		t.Errorf("logs = %q", buf)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "unix:///var/run/docker.sock", "tcp://"} {
		if _, err := New(u, "t", 0); err == nil {
			t.Errorf("New(%q) should fail", u)
		}
	}
}
