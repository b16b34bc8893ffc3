//go:build e2e
// +build e2e

package e2e

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"
)

// TestServer_UploadCycle builds the server binary, runs it against a temp
// data dir with a stub renderer on PATH, and drives a full upload -> poll ->
// report fetch cycle over real HTTP.
func TestServer_UploadCycle(t *testing.T) {
	tmpDir := t.TempDir()
	addr := freeAddr(t)
	baseURL := "http://" + addr

	bin := filepath.Join(tmpDir, "reporthub.bin")
	build := exec.Command("go", "build", "-o", bin, "./server")
	build.Dir = repoRoot(t)
	buildOut, err := build.CombinedOutput()
	if err != nil {
		t.Fatalf("go build ./server: %v\n%s", err, string(buildOut))
	}

	rendererBin := writeStubRenderer(t, tmpDir)
	dataDir := filepath.Join(tmpDir, "data")

	var out bytes.Buffer
	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(),
		"REPORTHUB_HTTP_ADDR="+addr,
		"REPORTHUB_DATA_DIR="+dataDir,
		"REPORTHUB_RENDERER_BIN="+rendererBin,
		"REPORTHUB_RENDERER_TIMEOUT=30s",
	)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { stopProcess(t, cmd, &out) })

	waitHTTP200(t, baseURL+"/readyz")

	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v\n%s", err, out.String())
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /healthz status=%d, want 200\n%s", resp.StatusCode, out.String())
	}

	runID := uploadBundle(t, baseURL, "web-checkout")
	waitRunReady(t, baseURL, "web-checkout", runID)

	pageResp, err := http.Get(baseURL + "/ui/web-checkout/runs/" + runID + "/index.html")
	if err != nil {
		t.Fatalf("GET report: %v", err)
	}
	page, _ := io.ReadAll(pageResp.Body)
	_ = pageResp.Body.Close()
	if pageResp.StatusCode != http.StatusOK || !bytes.Contains(page, []byte("stub report")) {
		t.Fatalf("report status=%d body=%q\n%s", pageResp.StatusCode, page, out.String())
	}
}

// writeStubRenderer installs a shell script with the renderer CLI shape:
// <bin> generate <rawDir> -o <reportDir> --clean
func writeStubRenderer(t *testing.T, dir string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub renderer requires a POSIX shell")
	}
	path := filepath.Join(dir, "stub-renderer")
	script := "#!/bin/sh\nmkdir -p \"$4\" && echo '<html>stub report</html>' > \"$4/index.html\"\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub renderer: %v", err)
	}
	return path
}

func uploadBundle(t *testing.T, baseURL, project string) string {
	t.Helper()

	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	w, err := zw.Create("result-1.json")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write([]byte(`{"name":"login works","status":"passed"}`)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("results", "results.zip")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(zipBuf.Bytes()); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.WriteField("meta", `{"branch":"main"}`); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	_ = mw.Close()

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/projects/"+project+"/runs", &body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status=%d body=%s", resp.StatusCode, raw)
	}

	var accepted struct {
		RunID  string `json:"run_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if accepted.RunID == "" {
		t.Fatalf("upload response missing run_id")
	}
	return accepted.RunID
}

func waitRunReady(t *testing.T, baseURL, project, runID string) {
	t.Helper()

	deadline := time.Now().Add(30 * time.Second)
	for {
		resp, err := http.Get(baseURL + "/api/v1/projects/" + project + "/runs/" + runID)
		if err != nil {
			t.Fatalf("poll run: %v", err)
		}
		var run struct {
			Status  string `json:"status"`
			Reason  string `json:"reason"`
			LogTail string `json:"log_tail"`
		}
		err = json.NewDecoder(resp.Body).Decode(&run)
		_ = resp.Body.Close()
		if err != nil {
			t.Fatalf("decode run: %v", err)
		}

		switch run.Status {
		case "ready":
			return
		case "failed":
			t.Fatalf("run failed: reason=%s log=%s", run.Reason, run.LogTail)
		}

		if time.Now().After(deadline) {
			t.Fatalf("run stuck in %q", run.Status)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func repoRoot(t *testing.T) string {
	t.Helper()

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("runtime.Caller failed")
	}
	return filepath.Dir(filepath.Dir(file))
}

func freeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitHTTP200(t *testing.T, url string) {
	t.Helper()

	client := &http.Client{Timeout: 500 * time.Millisecond}
	deadline := time.Now().Add(8 * time.Second)
	for {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}

		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", url)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func stopProcess(t *testing.T, cmd *exec.Cmd, out *bytes.Buffer) {
	t.Helper()

	if cmd.Process == nil {
		return
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	case err := <-done:
		if err != nil {
			body := out.String()
			if len(body) > 8000 {
				body = body[len(body)-8000:]
			}
			t.Fatalf("process exit: %v\n%s", err, body)
		}
	}
}
