package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadOption configures [Load] and [LoadFromReader].
type LoadOption func(*loadOptions)

type loadOptions struct {
	getenv func(string) string
}

// WithEnv replaces os.Getenv as the source of credential fallbacks.
func WithEnv(getenv func(string) string) LoadOption {
	return func(o *loadOptions) { o.getenv = getenv }
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string, opts ...LoadOption) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment fallbacks
// and defaults, and validates the result. An empty document is valid.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Config, error) {
	o := loadOptions{getenv: os.Getenv}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyEnv(o.getenv)
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.Region == "" {
		errs = append(errs, errors.New("region is required (or set AWS_REGION)"))
	}
	if cfg.Language == "" {
		errs = append(errs, errors.New("language is required"))
	}

	// Credentials
	if cfg.Credentials.AccessKeyID == "" {
		errs = append(errs, errors.New("credentials.access_key_id is required (or set AWS_ACCESS_KEY_ID)"))
	}
	if cfg.Credentials.SecretAccessKey == "" {
		errs = append(errs, errors.New("credentials.secret_access_key is required (or set AWS_SECRET_ACCESS_KEY)"))
	}

	// Stream
	if cfg.Stream.Expires < 1 || cfg.Stream.Expires > 604800 {
		errs = append(errs, fmt.Errorf("stream.expires %d is out of range [1, 604800]", cfg.Stream.Expires))
	}
	if cfg.Stream.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("stream.sample_rate %d must not be negative", cfg.Stream.SampleRate))
	}
	if ep := cfg.Stream.Endpoint; ep != "" {
		u, err := url.Parse(ep)
		switch {
		case err != nil || u.Host == "":
			errs = append(errs, fmt.Errorf("stream.endpoint %q is not a valid URL", ep))
		case u.Scheme != "wss" && u.Scheme != "ws":
			errs = append(errs, fmt.Errorf("stream.endpoint scheme %q is invalid; valid values: wss, ws", u.Scheme))
		case u.Scheme == "ws":
			slog.Warn("stream.endpoint uses an unencrypted scheme; credentials-derived signatures travel in clear text", "endpoint", ep)
		}
	}

	// Capture
	if cfg.Capture.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels != 1 && cfg.Capture.Channels != 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is invalid; valid values: 1, 2", cfg.Capture.Channels))
	}
	if cfg.Capture.Chunk < 0 {
		errs = append(errs, fmt.Errorf("capture.chunk %s must not be negative", cfg.Capture.Chunk))
	}

	// Storage
	if strings.Contains(cfg.Storage.Record, "/") {
		errs = append(errs, fmt.Errorf("storage.record %q cannot contain slashes", cfg.Storage.Record))
	}

	// MQTT
	if cfg.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d is invalid; valid values: 0, 1, 2", cfg.MQTT.QoS))
	}
	if cfg.MQTT.Broker != "" {
		if _, err := url.Parse(cfg.MQTT.Broker); err != nil {
			errs = append(errs, fmt.Errorf("mqtt.broker %q is not a valid URL", cfg.MQTT.Broker))
		}
	}

	return errors.Join(errs...)
}
