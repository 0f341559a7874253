// Package config provides the configuration schema, loader, hot-reload
// watcher and storage backend registry for voxscribe.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultRegion         = "us-east-1"
	DefaultLanguage       = "en-US"
	DefaultExpiresSeconds = 15
	DefaultCaptureRate    = 48000
	DefaultChunk          = 100 * time.Millisecond
	DefaultBackend        = "memory"
	DefaultTopicPrefix    = "voxscribe"
	DefaultServiceName    = "voxscribe"
)

// Config is the root configuration structure for voxscribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// Region is the service region, e.g. "us-east-1". Falls back to AWS_REGION.
	Region string `yaml:"region"`

	// Language is the transcription language code. It also selects the
	// streaming sample rate: 44100 Hz for en-US and es-US, 8000 Hz otherwise.
	Language string `yaml:"language"`

	Credentials CredentialsConfig `yaml:"credentials"`
	Stream      StreamConfig      `yaml:"stream"`
	Capture     CaptureConfig     `yaml:"capture"`
	Transcript  TranscriptConfig  `yaml:"transcript"`
	Storage     StorageConfig     `yaml:"storage"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// CredentialsConfig holds the signing credentials. Empty fields fall back to
// AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN.
type CredentialsConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// StreamConfig tunes the streaming connection.
type StreamConfig struct {
	// Expires is the presigned URL validity in seconds. Default: 15.
	Expires int `yaml:"expires"`

	// Endpoint overrides scheme and host, e.g. "ws://127.0.0.1:9000".
	Endpoint string `yaml:"endpoint"`

	// SampleRate overrides the language-derived streaming rate.
	SampleRate int `yaml:"sample_rate"`
}

// CaptureConfig describes the raw PCM audio source.
type CaptureConfig struct {
	// Path of the s16le PCM input; "-" reads stdin. Default: "-".
	Path string `yaml:"path"`

	// SampleRate of the input in Hz. Default: 48000.
	SampleRate int `yaml:"sample_rate"`

	// Channels of the input: 1 or 2. Default: 1.
	Channels int `yaml:"channels"`

	// Chunk is the audio duration per frame. Default: 100ms.
	Chunk time.Duration `yaml:"chunk"`

	// Realtime paces file input at wall-clock speed.
	Realtime bool `yaml:"realtime"`
}

// TranscriptConfig controls transcript assembly and output.
type TranscriptConfig struct {
	// Separator is appended after every final segment.
	Separator string `yaml:"separator"`

	// Output is a file the final transcript is written to. Empty disables it.
	Output string `yaml:"output"`
}

// StorageConfig selects the archive backend.
type StorageConfig struct {
	// Backend names a factory in the [Registry]. Default: memory.
	Backend string `yaml:"backend"`

	// Record is the record transcripts are archived into. Empty disables
	// archiving.
	Record string `yaml:"record"`

	// Options holds backend-specific values decoded with [DecodeOptions].
	Options map[string]any `yaml:"options"`
}

// MQTTConfig configures live transcript publishing. An empty Broker
// disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
	QoS         byte   `yaml:"qos"`
}

// TelemetryConfig configures the metrics and health server. An empty
// ListenAddr disables it.
type TelemetryConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	ServiceName string `yaml:"service_name"`
}

// ApplyEnv fills empty region and credential fields from the environment
// through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = getenv(key)
		}
	}
	fill(&c.Region, "AWS_REGION")
	fill(&c.Credentials.AccessKeyID, "AWS_ACCESS_KEY_ID")
	fill(&c.Credentials.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	fill(&c.Credentials.SessionToken, "AWS_SESSION_TOKEN")
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = LogInfo
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Stream.Expires == 0 {
		c.Stream.Expires = DefaultExpiresSeconds
	}
	if c.Capture.Path == "" {
		c.Capture.Path = "-"
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = DefaultCaptureRate
	}
	if c.Capture.Channels == 0 {
		c.Capture.Channels = 1
	}
	if c.Capture.Chunk == 0 {
		c.Capture.Chunk = DefaultChunk
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultBackend
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}
