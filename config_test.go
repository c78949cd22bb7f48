// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"mellium.im/client"
	"mellium.im/client/auth"
	"mellium.im/client/transport"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xmppc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := client.LoadConfig(writeConfig(t, "domain: example.net\n"))
	require.NoError(t, err)

	require.Equal(t, "example.net", cfg.Domain)
	require.Equal(t, []string{"tls", "tcp", "websocket"}, cfg.Transports)
	require.Equal(t, []string{"SCRAM-SHA-1", "PLAIN", "ANONYMOUS"}, cfg.Mechanisms)
	require.Equal(t, 30*time.Second, cfg.IQTimeout)
	require.Equal(t, time.Second, cfg.Backoff.Min)
	require.Equal(t, time.Minute, cfg.Backoff.Max)
	require.Equal(t, 2.0, cfg.Backoff.Factor)
	require.Equal(t, "info", cfg.Logger.Level)
	require.Equal(t, "logfmt", cfg.Logger.Format)

	opts, err := cfg.Options(nil)
	require.NoError(t, err)
	require.Equal(t, []transport.Kind{transport.TLS, transport.TCP, transport.WebSocket}, opts.Transports)
	require.Equal(t, []string{"SCRAM-SHA-1", "PLAIN", "ANONYMOUS"}, auth.Names(opts.Mechanisms))
}

func TestConfigOptionsTrimsNames(t *testing.T) {
	cfg := &client.Config{Domain: "example.net", Mechanisms: []string{" plain", "ANONYMOUS "}}
	opts, err := cfg.Options(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"PLAIN", "ANONYMOUS"}, auth.Names(opts.Mechanisms))
}

func TestLoadConfig(t *testing.T) {
	cfg, err := client.LoadConfig(writeConfig(t, `
service: wss://example.net/xmpp-websocket
username: juliet
password: s3cr3t
resource: balcony
transports: [websocket]
mechanisms: [plain]
iq_timeout: 5s
tls:
  insecure_skip_verify: true
backoff:
  min: 100ms
  max: 10s
  jitter: true
logger:
  level: debug
  format: json
`))
	require.NoError(t, err)

	opts, err := cfg.Options(nil)
	require.NoError(t, err)
	require.Equal(t, "juliet", opts.Username)
	require.Equal(t, "balcony", opts.Resource)
	require.Equal(t, []transport.Kind{transport.WebSocket}, opts.Transports)
	require.Equal(t, []string{"PLAIN"}, auth.Names(opts.Mechanisms))
	require.Equal(t, 5*time.Second, opts.IQTimeout)
	require.True(t, opts.TLSConfig.InsecureSkipVerify)
	require.Equal(t, 100*time.Millisecond, opts.Backoff.Min)
	require.True(t, opts.Backoff.Jitter)
	require.Equal(t, "debug", cfg.Logger.Level)

	c, err := client.New(opts)
	require.NoError(t, err)
	require.Equal(t, "example.net", c.Domain())
	c.IQCaller.Close()
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("XMPPC_PASSWORD", "from-env")
	cfg, err := client.LoadConfig(writeConfig(t, "domain: example.net\npassword: from-file\n"))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Password)
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := client.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigOptionsErrors(t *testing.T) {
	cfg := &client.Config{Domain: "example.net", Mechanisms: []string{"DIGEST-MD5"}}
	_, err := cfg.Options(nil)
	require.Error(t, err)

	cfg = &client.Config{Domain: "example.net", Transports: []string{"carrier-pigeon"}}
	_, err = cfg.Options(nil)
	require.Error(t, err)
}

func TestConfigYAMLRedactsPassword(t *testing.T) {
	cfg := &client.Config{Domain: "example.net", Username: "juliet", Password: "s3cr3t"}
	out, err := cfg.YAML()
	require.NoError(t, err)
	require.NotContains(t, string(out), "s3cr3t")

	var dumped map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &dumped))
	require.Equal(t, "juliet", dumped["username"])
	require.Equal(t, "s3cr3t", cfg.Password)
}
