// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"crypto/tls"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/kkyr/fig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	"mellium.im/sasl"

	"mellium.im/client/auth"
	"mellium.im/client/reconnect"
	"mellium.im/client/transport"
)

// EnvPrefix is the prefix of environment variables that override values of a
// config file, for instance XMPPC_PASSWORD or XMPPC_LOGGER_LEVEL.
const EnvPrefix = "XMPPC"

// Config is the on disk representation of Options.
type Config struct {
	Service  string `fig:"service" yaml:"service,omitempty"`
	Domain   string `fig:"domain" yaml:"domain,omitempty"`
	Resource string `fig:"resource" yaml:"resource,omitempty"`
	Username string `fig:"username" yaml:"username,omitempty"`
	Password string `fig:"password" yaml:"password,omitempty"`
	Lang     string `fig:"lang" yaml:"lang,omitempty"`

	Transports []string `fig:"transports" default:"[tls,tcp,websocket]" yaml:"transports"`
	Mechanisms []string `fig:"mechanisms" default:"[SCRAM-SHA-1,PLAIN,ANONYMOUS]" yaml:"mechanisms"`

	TLS struct {
		ServerName         string `fig:"server_name" yaml:"server_name,omitempty"`
		InsecureSkipVerify bool   `fig:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	} `fig:"tls" yaml:"tls"`

	IQTimeout            time.Duration `fig:"iq_timeout" default:"30s" yaml:"iq_timeout"`
	SkipOptionalFailures bool          `fig:"skip_optional_failures" yaml:"skip_optional_failures"`

	Backoff struct {
		Min    time.Duration `fig:"min" default:"1s" yaml:"min"`
		Max    time.Duration `fig:"max" default:"1m" yaml:"max"`
		Factor float64       `fig:"factor" default:"2" yaml:"factor"`
		Jitter bool          `fig:"jitter" yaml:"jitter"`
	} `fig:"backoff" yaml:"backoff"`

	Logger struct {
		Level  string `fig:"level" default:"info" yaml:"level"`
		Format string `fig:"format" default:"logfmt" yaml:"format"`
	} `fig:"logger" yaml:"logger"`
}

// LoadConfig reads a YAML config file, applies defaults and environment
// overrides.
func LoadConfig(configFile string) (*Config, error) {
	var cfg Config
	file := filepath.Base(configFile)
	dir := filepath.Dir(configFile)

	err := fig.Load(&cfg, fig.File(file), fig.Dirs(dir), fig.UseEnv(EnvPrefix))
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mechanisms maps config names to SASL mechanisms.
var mechanisms = map[string]sasl.Mechanism{
	"SCRAM-SHA-256-PLUS": sasl.ScramSha256Plus,
	"SCRAM-SHA-256":      sasl.ScramSha256,
	"SCRAM-SHA-1-PLUS":   sasl.ScramSha1Plus,
	"SCRAM-SHA-1":        sasl.ScramSha1,
	"PLAIN":              sasl.Plain,
	"ANONYMOUS":          auth.Anonymous,
}

// Options converts the config to client options.
// Mechanism and transport names are matched case insensitively.
func (c *Config) Options(logger log.Logger) (Options, error) {
	opts := Options{
		Service:              c.Service,
		Domain:               c.Domain,
		Resource:             c.Resource,
		Username:             c.Username,
		Password:             c.Password,
		Lang:                 c.Lang,
		IQTimeout:            c.IQTimeout,
		SkipOptionalFailures: c.SkipOptionalFailures,
		Backoff: &reconnect.Backoff{
			Min:    c.Backoff.Min,
			Max:    c.Backoff.Max,
			Factor: c.Backoff.Factor,
			Jitter: c.Backoff.Jitter,
		},
		Logger: logger,
	}
	for _, name := range c.Transports {
		k, err := transport.ParseKind(name)
		if err != nil {
			return Options{}, err
		}
		opts.Transports = append(opts.Transports, k)
	}
	for _, name := range c.Mechanisms {
		m, ok := mechanisms[strings.ToUpper(strings.TrimSpace(name))]
		if !ok {
			return Options{}, errors.Errorf("client: unknown SASL mechanism %q", name)
		}
		opts.Mechanisms = append(opts.Mechanisms, m)
	}
	if c.TLS.ServerName != "" || c.TLS.InsecureSkipVerify {
		/* #nosec */
		opts.TLSConfig = &tls.Config{
			ServerName:         c.TLS.ServerName,
			InsecureSkipVerify: c.TLS.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		}
	}
	return opts, nil
}

// YAML returns the effective config with the password redacted.
func (c *Config) YAML() ([]byte, error) {
	redacted := *c
	if redacted.Password != "" {
		redacted.Password = "********"
	}
	return yaml.Marshal(&redacted)
}
