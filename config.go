// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"mellium.im/sasl"

	"mellium.im/xmppcore/dial"
	"mellium.im/xmppcore/jid"
	"mellium.im/xmppcore/transport"
)

// Config is the on-disk configuration of a client session.
type Config struct {
	// JID is the account address. A resourcepart is requested when binding.
	JID string `yaml:"jid"`

	// Identity is the SASL authorization identity and is normally empty.
	Identity string `yaml:"identity,omitempty"`
	Password string `yaml:"password"`

	// Mechanisms lists SASL mechanisms by name in order of preference.
	Mechanisms []string `yaml:"mechanisms,omitempty"`

	// Host and Port skip SRV lookups.
	Host string `yaml:"host,omitempty"`
	Port uint16 `yaml:"port,omitempty"`

	// DNSServer is the address of a DNS server used instead of the system
	// resolver.
	DNSServer   string `yaml:"dns_server,omitempty"`
	DisableIPv6 bool   `yaml:"disable_ipv6,omitempty"`

	DirectTLS          bool `yaml:"direct_tls,omitempty"`
	DisableStartTLS    bool `yaml:"disable_starttls,omitempty"`
	ForceStartTLS      bool `yaml:"force_starttls,omitempty"`
	AllowInsecurePlain bool `yaml:"allow_insecure_plain,omitempty"`
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`

	Lang           string        `yaml:"lang,omitempty"`
	Keepalive      time.Duration `yaml:"keepalive,omitempty"`
	IQTimeout      time.Duration `yaml:"iq_timeout,omitempty"`
	DisconnectWait time.Duration `yaml:"disconnect_wait,omitempty"`

	Reconnect struct {
		Initial time.Duration `yaml:"initial,omitempty"`
		Max     time.Duration `yaml:"max,omitempty"`
	} `yaml:"reconnect,omitempty"`
}

// LoadConfig decodes a YAML configuration.
// Unknown keys are an error.
func LoadConfig(r io.Reader) (Config, error) {
	var cfg Config
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, fmt.Errorf("xmpp: decoding config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFile is like LoadConfig but reads the named file.
func LoadConfigFile(name string) (Config, error) {
	f, err := os.Open(name)
	if err != nil {
		return Config{}, fmt.Errorf("xmpp: opening config: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}

var mechanismsByName = map[string]sasl.Mechanism{
	sasl.ScramSha256Plus.Name: sasl.ScramSha256Plus,
	sasl.ScramSha1Plus.Name:   sasl.ScramSha1Plus,
	sasl.ScramSha256.Name:     sasl.ScramSha256,
	sasl.ScramSha1.Name:       sasl.ScramSha1,
	sasl.Plain.Name:           sasl.Plain,
	External.Name:             External,
}

// Options converts the configuration into session options and returns the
// account address.
// The logger is passed to the DNS resolver and dialer.
func (c Config) Options(logger *slog.Logger) (jid.JID, []Option, error) {
	addr, err := jid.Parse(c.JID)
	if err != nil {
		return jid.JID{}, nil, fmt.Errorf("xmpp: config jid: %w", err)
	}

	var mechanisms []sasl.Mechanism
	for _, name := range c.Mechanisms {
		m, ok := mechanismsByName[name]
		if !ok {
			return jid.JID{}, nil, fmt.Errorf("xmpp: unknown SASL mechanism %q", name)
		}
		mechanisms = append(mechanisms, m)
	}

	d := &dial.Dialer{
		DirectTLS:   c.DirectTLS,
		DisableIPv6: c.DisableIPv6,
		Logger:      logger,
	}
	if c.DNSServer != "" {
		r := dial.NewDNSResolver(c.DNSServer)
		r.Logger = logger
		d.DNS = r
	}
	tlsConfig := &tls.Config{
		ServerName:         addr.Domainpart(),
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify, // #nosec G402
	}
	d.TLSConfig = tlsConfig

	opts := []Option{
		WithLogger(logger),
		WithDialer(d),
		WithTLSConfig(tlsConfig),
		WithPassword(c.Identity, c.Password),
		WithMechanisms(mechanisms...),
		WithHost(c.Host, c.Port),
		WithLang(c.Lang),
		WithIQTimeout(c.IQTimeout),
		WithBackoff(&transport.Backoff{Initial: c.Reconnect.Initial, Max: c.Reconnect.Max}),
	}
	if c.Keepalive != 0 {
		opts = append(opts, WithKeepalive(c.Keepalive))
	}
	if c.DisconnectWait != 0 {
		opts = append(opts, WithDisconnectWait(c.DisconnectWait))
	}
	if c.DisableStartTLS {
		opts = append(opts, DisableStartTLS())
	}
	if c.ForceStartTLS {
		opts = append(opts, ForceStartTLS())
	}
	if c.AllowInsecurePlain {
		opts = append(opts, AllowInsecurePlain())
	}
	return addr, opts, nil
}

// NewSession returns a session configured from c.
func (c Config) NewSession(logger *slog.Logger, opts ...Option) (*Session, error) {
	addr, base, err := c.Options(logger)
	if err != nil {
		return nil, err
	}
	return New(addr, append(base, opts...)...), nil
}
