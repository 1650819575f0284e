package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/zonewatch/config"
)

const natsConfig = `
broker:
  transport: nats
  endpoint: 127.0.0.1
  port: 1
http:
  addr: 127.0.0.1:0
metrics:
  port: 0
log:
  level: warn
  format: text
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func noEnv(string) string { return "" }

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		env     map[string]string
		want    CLIConfig
		wantErr string
	}{
		{
			name: "defaults defer to config",
			want: CLIConfig{},
		},
		{
			name: "short config flag",
			args: []string{"-c", "zw.yaml", "--validate"},
			want: CLIConfig{ConfigPath: "zw.yaml", Validate: true},
		},
		{
			name: "environment fallback",
			env:  map[string]string{"ZONEWATCH_CONFIG": "env.json", "ZONEWATCH_LOG_LEVEL": "debug"},
			want: CLIConfig{ConfigPath: "env.json", LogLevel: "debug"},
		},
		{
			name: "flag beats environment",
			args: []string{"--log-format=text"},
			env:  map[string]string{"ZONEWATCH_LOG_FORMAT": "json"},
			want: CLIConfig{LogFormat: "text"},
		},
		{
			name:    "bad level",
			args:    []string{"--log-level=verbose"},
			wantErr: "invalid log level",
		},
		{
			name:    "bad format",
			args:    []string{"--log-format=xml"},
			wantErr: "invalid log format",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv := func(k string) string { return tt.env[k] }
			got, err := parseFlags(tt.args, getenv, &bytes.Buffer{})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "zone", "lobby")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, appName, rec["service"])
	assert.Equal(t, Version, rec["version"])
	assert.Equal(t, "lobby", rec["zone"])
}

func TestSetupLoggerText(t *testing.T) {
	var buf bytes.Buffer
	setupLogger(&buf, "debug", "text").Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "source=")
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--version"}, noEnv, &out, &bytes.Buffer{}))
	assert.Contains(t, out.String(), "zonewatch version "+Version)
}

func TestRunHelp(t *testing.T) {
	var errOut bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--help"}, noEnv, &bytes.Buffer{}, &errOut))
	assert.Contains(t, errOut.String(), "--log-level")
}

func TestRunValidate(t *testing.T) {
	path := writeConfig(t, natsConfig)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-c", path, "--validate", "--log-level=info"}, noEnv, &out, &bytes.Buffer{}))
	assert.Contains(t, out.String(), "Configuration is valid")
}

func TestRunLogsRedactedConfig(t *testing.T) {
	path := writeConfig(t, `
broker:
  endpoint: broker.example.com
  tls:
    ca_files: [/certs/root.pem]
    mtls:
      cert_file: /certs/device.crt
      key_file: /certs/device.key
`)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-c", path, "--validate", "--log-level=debug"}, noEnv, &out, &bytes.Buffer{}))
	assert.Contains(t, out.String(), "Effective configuration")
	assert.Contains(t, out.String(), "broker.example.com")
	assert.Contains(t, out.String(), "[REDACTED]")
	assert.NotContains(t, out.String(), "device.key")
}

func TestRunInvalidConfig(t *testing.T) {
	// mqtt requires client certificates
	path := writeConfig(t, "broker:\n  endpoint: example.com\n")
	err := run(context.Background(), []string{"-c", path, "--validate"}, noEnv, &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ca_files")
}

func TestNewAppWiring(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, natsConfig))
	require.NoError(t, err)

	a, err := newApp(cfg, setupLogger(&bytes.Buffer{}, "error", "json"))
	require.NoError(t, err)
	assert.Nil(t, a.metrics, "metrics port 0 disables the listener")
	assert.Equal(t, 2, a.monitor.Count())

	status := a.health()
	assert.True(t, status.IsUnhealthy(), "broker starts disconnected")
	require.Len(t, status.SubStatuses, 2)
	assert.Equal(t, "broker", status.SubStatuses[0].Component)
	assert.Equal(t, "pipeline", status.SubStatuses[1].Component)

	snap := a.hub.Snapshot()
	assert.False(t, snap.Connected)
	assert.Equal(t, "disconnected", snap.Stats.ConnectionState)
}

func TestAppRunStopsOnCancel(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, natsConfig))
	require.NoError(t, err)

	a, err := newApp(cfg, setupLogger(&bytes.Buffer{}, "error", "json"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	require.Eventually(t, func() bool { return a.api.Addr() != "127.0.0.1:0" }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Zero(t, a.hub.SubscriberCount())
}
