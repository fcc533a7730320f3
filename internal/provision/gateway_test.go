package provision

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"matrixvpn/entity"
	"matrixvpn/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func newTestGateway(t *testing.T, createBody, deleteBody string) (*Gateway, string) {
	t.Helper()
	dir := t.TempDir()
	conf := config.ProvisionConfig{
		CreateScript: writeScript(t, dir, "add-client.sh", createBody),
		DeleteScript: writeScript(t, dir, "delete-client.sh", deleteBody),
		ConfigPath:   filepath.Join(dir, "vpn"),
		TimeoutSec:   5,
		Protocols:    []string{"ov", "wg"},
	}
	gw, err := New(conf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return gw, dir
}

func TestNewRejectsUnknownProtocol(t *testing.T) {
	conf := config.ProvisionConfig{Protocols: []string{"ov", "xx"}}
	_, err := New(conf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)

	conf.Protocols = nil
	_, err = New(conf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestClientIdMapping(t *testing.T) {
	gw, _ := newTestGateway(t, "exit 0", "exit 0")
	assert.Equal(t, "n42", gw.ClientId(42))
	assert.Equal(t, filepath.Join(gw.configPath, "n42"), gw.ClientDir(42))
}

func TestProvisionInvokesScriptPerProtocol(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	conf := config.ProvisionConfig{
		CreateScript: writeScript(t, dir, "add-client.sh", `echo "$1 $2 $3" >> "`+logPath+`"`),
		DeleteScript: writeScript(t, dir, "delete-client.sh", "exit 0"),
		ConfigPath:   filepath.Join(dir, "vpn"),
		TimeoutSec:   5,
		Protocols:    []string{"ov", "wg"},
	}
	gw, err := New(conf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	results := gw.Provision(context.Background(), 7, 30)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Ok, r.Protocol)
		assert.Equal(t, entity.ActionCreate, r.Action)
	}

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ov n7 30")
	assert.Contains(t, string(data), "wg n7 30")
}

func TestProvisionReportsFailures(t *testing.T) {
	gw, _ := newTestGateway(t,
		`if [ "$1" = "ov" ]; then echo "easyrsa boom" >&2; exit 3; fi; exit 0`,
		"exit 0")

	results := gw.Provision(context.Background(), 1, 7)
	failed := entity.FailedResults(results)
	require.Len(t, failed, 1)
	assert.Equal(t, "ov", failed[0].Protocol)
	assert.Equal(t, 3, failed[0].ExitCode)
	assert.Contains(t, failed[0].Stderr, "easyrsa boom")
}

func TestRevoke(t *testing.T) {
	gw, _ := newTestGateway(t, "exit 0", "exit 0")
	results := gw.Revoke(context.Background(), 5)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Ok)
		assert.Equal(t, entity.ActionDelete, r.Action)
	}
}

func TestInvokeRejectsBadClientId(t *testing.T) {
	gw, _ := newTestGateway(t, "exit 0", "exit 0")
	r := gw.invoke(context.Background(), gw.createScript, "ov", "n7; rm -rf /", "30")
	assert.False(t, r.Ok)
	assert.Equal(t, -1, r.ExitCode)
	assert.Contains(t, r.Stderr, "client id rejected")
}

func TestInvokeTimeout(t *testing.T) {
	gw, _ := newTestGateway(t, "sleep 30", "exit 0")
	gw.timeout = 100 * time.Millisecond

	r := gw.invoke(context.Background(), gw.createScript, "ov", "n1", "7")
	assert.False(t, r.Ok)
	assert.Equal(t, -1, r.ExitCode)
	assert.Contains(t, r.Stderr, "timeout")
}

func TestInvokeMissingScript(t *testing.T) {
	gw, dir := newTestGateway(t, "exit 0", "exit 0")
	r := gw.invoke(context.Background(), filepath.Join(dir, "nope.sh"), "ov", "n1", "7")
	assert.False(t, r.Ok)
	assert.Equal(t, -1, r.ExitCode)
	assert.NotEmpty(t, r.Stderr)
}
