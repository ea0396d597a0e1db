package cli

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/fanout/internal/config"
	"github.com/wesleyorama2/fanout/internal/driver"
	"github.com/wesleyorama2/fanout/internal/invoker"
	"github.com/wesleyorama2/fanout/internal/resptest"
)

func startServer(t *testing.T) *resptest.Server {
	t.Helper()
	srv, err := resptest.NewServer(nil)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// execute runs the CLI with args on a fresh command tree.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRun_Parallel(t *testing.T) {
	srv := startServer(t)

	out, err := execute(t, "run", "--addr", srv.Addr, "-n", "150", "--mode", "parallel", "--no-color")
	require.NoError(t, err)

	assert.Contains(t, out, "parallel ×150, 150 workers")
	assert.Contains(t, out, "Command:   PING")
	assert.Contains(t, out, "Completed ✓")
	assert.Contains(t, out, "Succeeded:     150")
	assert.Equal(t, int64(150), srv.Commands())
}

func TestRun_SerialQuiet(t *testing.T) {
	srv := startServer(t)

	out, err := execute(t, "run", "--addr", srv.Addr, "-n", "150", "--mode", "serial", "-q")
	require.NoError(t, err)
	assert.Equal(t, "150/150 succeeded\n", out)
}

func TestRun_CyclingCommandsVerbose(t *testing.T) {
	srv := startServer(t)

	out, err := execute(t, "run", "--addr", srv.Addr, "-n", "4", "--mode", "serial", "-v",
		"--command", "PING", "--command", `ECHO "hello world"`)
	require.NoError(t, err)

	assert.Contains(t, out, "#0")
	assert.Contains(t, out, "#3")
	assert.Contains(t, out, `ECHO "hello world"`)
}

func TestRun_UnreachableTarget(t *testing.T) {
	addr := closedAddr(t)

	out, err := execute(t, "run", "--addr", addr, "-n", "20", "--no-color")
	require.NoError(t, err, "failed invocations alone do not fail the run")
	assert.Contains(t, out, "Completed with 20 failed ✗")
	assert.Contains(t, out, "connection refused")

	_, err = execute(t, "run", "--addr", addr, "-n", "20", "-q", "--fail-on-error")
	assert.ErrorIs(t, err, ErrInvocationsFailed)
}

func TestRun_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"zero count", []string{"-n", "0"}},
		{"unknown mode", []string{"--mode", "burst"}},
		{"bad address", []string{"--addr", "nowhere"}},
		{"unknown client", []string{"--client", "grpc"}},
		{"unterminated quote", []string{"--command", `ECHO "oops`}},
		{"negative concurrency", []string{"-c", "-1"}},
	}

	srv := startServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run", "--addr", srv.Addr, "-q"}, tt.args...)
			_, err := execute(t, args...)
			require.Error(t, err)

			var cfgErr *driver.ConfigurationError
			var valErrs *config.ValidationErrors
			assert.True(t, errors.As(err, &cfgErr) || errors.As(err, &valErrs), "unexpected error type %T: %v", err, err)
		})
	}
	assert.Zero(t, srv.Connections(), "configuration errors must not reach the target")
}

func TestRun_JSONOutput(t *testing.T) {
	srv := startServer(t)

	out, err := execute(t, "run", "--addr", srv.Addr, "-n", "5", "--json", "--command", "ECHO hi")
	require.NoError(t, err)

	require.True(t, gjson.Valid(out), "stdout must hold only the JSON document: %q", out)
	assert.Equal(t, int64(5), gjson.Get(out, "succeeded").Int())
	assert.Equal(t, srv.Addr, gjson.Get(out, "target").String())
	assert.Equal(t, "ECHO hi", gjson.Get(out, "invocations.0.command").String())
}

func TestRun_ReportFiles(t *testing.T) {
	srv := startServer(t)
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "report.json")
	htmlPath := filepath.Join(dir, "report.html")

	_, err := execute(t, "run", "--addr", srv.Addr, "-n", "3", "-q", "--output", jsonPath, "--html", htmlPath)
	require.NoError(t, err)

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, int64(3), gjson.GetBytes(data, "count").Int())

	html, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<!DOCTYPE html>")
}

func TestRun_ConfigFileWithOverrides(t *testing.T) {
	srv := startServer(t)
	path := filepath.Join(t.TempDir(), "batch.yaml")
	content := strings.Join([]string{
		"name: from-file",
		"target:",
		"  address: " + srv.Addr,
		"variables:",
		"  word: hello",
		"batch:",
		"  count: 7",
		"  mode: serial",
		"  commands:",
		"    - ECHO {{word}}",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	out, err := execute(t, "run", "--config", path, "--json")
	require.NoError(t, err)
	assert.Equal(t, "from-file", gjson.Get(out, "name").String())
	assert.Equal(t, int64(7), gjson.Get(out, "count").Int())
	assert.Equal(t, "serial", gjson.Get(out, "mode").String())
	assert.Equal(t, "ECHO hello", gjson.Get(out, "invocations.0.command").String())

	out, err = execute(t, "run", "--config", path, "--json", "-n", "2", "--mode", "parallel")
	require.NoError(t, err)
	assert.Equal(t, int64(2), gjson.Get(out, "count").Int())
	assert.Equal(t, "parallel", gjson.Get(out, "mode").String())
}

func TestRun_ConfigFileErrors(t *testing.T) {
	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "error loading config")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch: {count: 0, commands: [PING]}\n"), 0644))
	_, err = execute(t, "run", "--config", path)

	var valErrs *config.ValidationErrors
	assert.True(t, errors.As(err, &valErrs), "got %v", err)
}

func TestPing(t *testing.T) {
	srv := startServer(t)

	out, err := execute(t, "ping", "--addr", srv.Addr)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "PONG ("), out)

	out, err = execute(t, "ping", "--addr", srv.Addr, "hello")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, `"hello" (`), out)

	_, err = execute(t, "ping", "--addr", closedAddr(t))
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "fanout "+version+"\n", out)
}

func TestNewInvoker(t *testing.T) {
	cfg := &config.BatchFile{Target: config.TargetConfig{Address: "h:1", Client: config.ClientRESP}}
	inv, err := newInvoker(cfg)
	require.NoError(t, err)
	assert.IsType(t, &invoker.RESP{}, inv)

	cfg.Target.Client = config.ClientExec
	cfg.Target.Exec.Binary = "redis-cli"
	inv, err = newInvoker(cfg)
	require.NoError(t, err)
	require.IsType(t, &invoker.Exec{}, inv)
	assert.Equal(t, invoker.DefaultExecArgs, inv.(*invoker.Exec).Args)

	cfg.Target.Client = "carrier-pigeon"
	_, err = newInvoker(cfg)
	assert.Error(t, err)
}

func TestExitPolicy(t *testing.T) {
	tests := []struct {
		name        string
		failed      int
		failOnError bool
		wantErr     bool
	}{
		{"clean run", 0, false, false},
		{"clean run, strict", 0, true, false},
		{"failures tolerated", 3, false, false},
		{"failures, strict", 3, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &driver.BatchResult{Count: 10, Failed: tt.failed, Succeeded: 10 - tt.failed}
			err := exitPolicy(res, tt.failOnError)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvocationsFailed)
				assert.Contains(t, err.Error(), "3 of 10")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEffectiveWorkers(t *testing.T) {
	assert.Equal(t, 10, effectiveWorkers(0, 10))
	assert.Equal(t, driver.DefaultMaxConcurrency, effectiveWorkers(0, 10000))
	assert.Equal(t, 4, effectiveWorkers(4, 10))
}
