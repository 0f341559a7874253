package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied to a running process; every other change is reported by
// section so the caller can tell the operator a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the top-level sections that changed and only
	// take effect for a new process (e.g. "stream", "credentials").
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"region", old.Region, new.Region},
		{"language", old.Language, new.Language},
		{"credentials", old.Credentials, new.Credentials},
		{"stream", old.Stream, new.Stream},
		{"capture", old.Capture, new.Capture},
		{"transcript", old.Transcript, new.Transcript},
		{"storage", old.Storage, new.Storage},
		{"mqtt", old.MQTT, new.MQTT},
		{"telemetry", old.Telemetry, new.Telemetry},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
