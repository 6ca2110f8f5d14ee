package agent

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/rekcod/rekcod/api"
	"github.com/rekcod/rekcod/internal/config"
	"github.com/rekcod/rekcod/internal/util"
)

func testAgent(t *testing.T) *Agent {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := config.DefaultAgent()
	cfg.NodeName = "test-node"
	a, err := New(cfg, "tok", log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set(api.TokenHeader, "tok")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHandlerRejectsMissingToken(t *testing.T) {
	a := testAgent(t)
	req := httptest.NewRequest("GET", api.AgentPrefixPath+"/sys", nil)
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("code = %d, want 401", w.Code)
	}
}

func TestRootLiveness(t *testing.T) {
	a := testAgent(t)
	w := doJSON(t, a.Handler(), "GET", api.AgentPrefixPath+"/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if w.Body.String() != "rekcod agent" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestSysEndpoint(t *testing.T) {
	a := testAgent(t)
	w := doJSON(t, a.Handler(), "GET", api.AgentPrefixPath+"/sys", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}

	var resp api.Response[api.SystemInfoResponse]
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != 0 || resp.Data == nil {
		t.Fatalf("envelope = %+v", resp)
	}
	if resp.Data.HostName == "" {
		t.Error("host name should be set")
	}
}

func TestShellStreamsOutput(t *testing.T) {
	a := testAgent(t)
	w := doJSON(t, a.Handler(), "POST", api.AgentPrefixPath+"/shell", api.ShellRequest{
		Run: "echo hello $WHO",
		Env: map[string]string{"WHO": "fleet"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if got := w.Body.String(); got != "hello fleet\n" {
		t.Errorf("output = %q", got)
	}
}

func TestShellRequiresRun(t *testing.T) {
	a := testAgent(t)
	w := doJSON(t, a.Handler(), "POST", api.AgentPrefixPath+"/shell", api.ShellRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", w.Code)
	}
}

// ── file transfer ──

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDownloadWholeFile(t *testing.T) {
	a := testAgent(t)
	path := writeTempFile(t, "0123456789")

	w := doJSON(t, a.Handler(), "POST", api.AgentPrefixPath+"/download", api.DownloadRequest{Path: path})
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if w.Header().Get("Content-Length") != "10" {
		t.Errorf("content-length = %q", w.Header().Get("Content-Length"))
	}
	if w.Body.String() != "0123456789" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestDownloadMissingFile(t *testing.T) {
	a := testAgent(t)
	w := doJSON(t, a.Handler(), "POST", api.AgentPrefixPath+"/download", api.DownloadRequest{Path: "/does/not/exist"})
	if w.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", w.Code)
	}
}

func TestDownloadRange(t *testing.T) {
	a := testAgent(t)
	path := writeTempFile(t, "0123456789")

	tests := []struct {
		name      string
		rng       string
		wantCode  int
		wantBody  string
		wantRange string
	}{
		{"no range", "", http.StatusOK, "0123456789", ""},
		{"middle", "bytes=2-5", http.StatusPartialContent, "2345", "bytes 2-5/10"},
		{"open end", "bytes=7-", http.StatusPartialContent, "789", "bytes 7-9/10"},
		{"suffix", "bytes=-3", http.StatusPartialContent, "789", "bytes 7-9/10"},
		{"end clamped", "bytes=8-99", http.StatusPartialContent, "89", "bytes 8-9/10"},
		{"multi range", "bytes=0-1,4-5", http.StatusBadRequest, "", ""},
		{"out of bounds", "bytes=10-", http.StatusRequestedRangeNotSatisfiable, "", ""},
		{"bad unit", "lines=1-2", http.StatusBadRequest, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", api.AgentPrefixPath+"/download_range?path="+path, nil)
			req.Header.Set(api.TokenHeader, "tok")
			if tt.rng != "" {
				req.Header.Set("Range", tt.rng)
			}
			w := httptest.NewRecorder()
			a.Handler().ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}
			if tt.wantRange != "" && w.Header().Get("Content-Range") != tt.wantRange {
				t.Errorf("content-range = %q, want %q", w.Header().Get("Content-Range"), tt.wantRange)
			}
		})
	}
}

func TestUpload(t *testing.T) {
	a := testAgent(t)
	target := t.TempDir()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "ignored")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(part, "payload") //nolint:errcheck
	mw.Close()

	req := httptest.NewRequest("POST", api.AgentPrefixPath+"/upload", &body)
	req.Header.Set(api.TokenHeader, "tok")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(fileNameHeader, util.EncodeBase64("upload.txt"))
	req.Header.Set(fileBaseHeader, util.EncodeBase64(target))
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}
	got, err := os.ReadFile(filepath.Join(target, "upload.txt"))
	if err != nil {
		t.Fatalf("reading uploaded file: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("content = %q", got)
	}
}

func TestUploadMissingHeaders(t *testing.T) {
	a := testAgent(t)
	w := doJSON(t, a.Handler(), "POST", api.AgentPrefixPath+"/upload", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), fileNameHeader) {
		t.Errorf("body = %q", w.Body.String())
	}
}

// ── restart job ──

func TestRestartDebounce(t *testing.T) {
	attempts := map[string]time.Time{}
	now := time.Now()

	// A container never attempted is restarted on the first sweep,
	// regardless of its restart policy.
	if !dueForRestart(attempts, "c1", now) {
		t.Fatal("first sweep must attempt a restart")
	}
	if dueForRestart(attempts, "c1", now.Add(restartDebounce-time.Second)) {
		t.Error("attempt inside the debounce window")
	}
	if !dueForRestart(attempts, "c1", now.Add(restartDebounce+time.Second)) {
		t.Error("no attempt after the window passed")
	}
	// The second attempt restamped the window.
	if got := attempts["c1"]; !got.Equal(now.Add(restartDebounce + time.Second)) {
		t.Errorf("stamp = %v", got)
	}
}
