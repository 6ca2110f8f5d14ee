package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rekcod/rekcod/api"
	"github.com/rekcod/rekcod/internal/util"
)

// Upload metadata travels in headers, base64-coded so arbitrary path
// bytes survive the header encoding.
const (
	fileNameHeader = "file_name"
	fileBaseHeader = "file_base"
)

// handleDownload streams a whole file.
func (a *Agent) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req api.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a.serveFile(w, req.Path, "")
}

// handleDownloadRange streams a file honoring a single byte range. More
// than one range in the header is rejected rather than answered with a
// multipart body.
func (a *Agent) handleDownloadRange(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		jsonErr(w, http.StatusBadRequest, "path is required")
		return
	}
	a.serveFile(w, path, r.Header.Get("Range"))
}

func (a *Agent) serveFile(w http.ResponseWriter, path, rangeHeader string) {
	f, err := os.Open(path)
	if err != nil {
		jsonErr(w, http.StatusNotFound, err.Error())
		return
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		jsonErr(w, http.StatusBadRequest, "not a regular file")
		return
	}
	size := stat.Size()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Accept-Ranges", "bytes")

	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		io.Copy(w, f) //nolint:errcheck
		return
	}

	start, end, err := parseRange(rangeHeader, size)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if start >= size {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		jsonErr(w, http.StatusRequestedRangeNotSatisfiable, "range out of bounds")
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return
	}
	io.CopyN(w, f, end-start+1) //nolint:errcheck
}

// parseRange accepts "bytes=a-b", "bytes=a-" and "bytes=-n". Multiple
// ranges are an error.
func parseRange(header string, size int64) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("unsupported range unit")
	}
	if strings.Contains(spec, ",") {
		return 0, 0, fmt.Errorf("multiple ranges are not supported")
	}
	from, to, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed range")
	}

	if from == "" {
		// suffix form: last n bytes
		n, err := strconv.ParseInt(to, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("malformed range")
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	}

	start, err = strconv.ParseInt(from, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("malformed range")
	}
	if to == "" {
		return start, size - 1, nil
	}
	end, err = strconv.ParseInt(to, 10, 64)
	if err != nil || end < start {
		return 0, 0, fmt.Errorf("malformed range")
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}

// handleUpload saves a multipart file part into the directory named by the
// base header.
func (a *Agent) handleUpload(w http.ResponseWriter, r *http.Request) {
	name, err := util.DecodeBase64(r.Header.Get(fileNameHeader))
	if err != nil || name == "" {
		jsonErr(w, http.StatusBadRequest, fileNameHeader+" header is required")
		return
	}
	base, err := util.DecodeBase64(r.Header.Get(fileBaseHeader))
	if err != nil || base == "" {
		jsonErr(w, http.StatusBadRequest, fileBaseHeader+" header is required")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "multipart file part is required")
		return
	}
	defer file.Close()

	if err := os.MkdirAll(base, 0o755); err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	target := filepath.Join(base, filepath.Base(name))
	out, err := os.Create(target)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.log.Info("file uploaded", "path", target)
	jsonOK(w, api.Empty{})
}
