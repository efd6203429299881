package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SpeechChanged is set when any failover tuning value changed.
	SpeechChanged bool

	// AudioChanged is set when the output device settings changed. Those
	// only take effect after a restart.
	AudioChanged bool

	// ServerChanged is set when the listen address or TLS settings changed.
	// Those only take effect after a restart.
	ServerChanged bool

	BackendChanges []BackendDiff
}

// BackendDiff describes what changed for a single backend.
type BackendDiff struct {
	Name     string
	Added    bool
	Removed  bool
	Modified bool
}

// NeedsRebuild reports whether the failover client has to be rebuilt to
// apply the diff.
func (d ConfigDiff) NeedsRebuild() bool {
	return d.SpeechChanged || len(d.BackendChanges) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) ||
		old.Server.TraceSampleRatio != new.Server.TraceSampleRatio ||
		!reflect.DeepEqual(old.Server.EventOrigins, new.Server.EventOrigins) {
		d.ServerChanged = true
	}
	d.SpeechChanged = !reflect.DeepEqual(old.Speech, new.Speech)
	d.AudioChanged = old.Audio != new.Audio

	oldBackends := make(map[string]*BackendEntry, len(old.Backends))
	for i := range old.Backends {
		oldBackends[old.Backends[i].Name] = &old.Backends[i]
	}
	newBackends := make(map[string]*BackendEntry, len(new.Backends))
	for i := range new.Backends {
		newBackends[new.Backends[i].Name] = &new.Backends[i]
	}

	// Walk in config order so the result is deterministic.
	for _, b := range old.Backends {
		nb, exists := newBackends[b.Name]
		switch {
		case !exists:
			d.BackendChanges = append(d.BackendChanges, BackendDiff{Name: b.Name, Removed: true})
		case !reflect.DeepEqual(b, *nb):
			d.BackendChanges = append(d.BackendChanges, BackendDiff{Name: b.Name, Modified: true})
		}
	}
	for _, b := range new.Backends {
		if _, exists := oldBackends[b.Name]; !exists {
			d.BackendChanges = append(d.BackendChanges, BackendDiff{Name: b.Name, Added: true})
		}
	}

	return d
}
