package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Export format identifiers. Exactly one export channel is active for
// the process lifetime; there is no dynamic switching.
const (
	FormatFile = "file"
	FormatOTLP = "otlp"
)

// Settings is the fully resolved agent configuration.
type Settings struct {
	Interval   time.Duration     `mapstructure:"interval"`
	Collectors CollectorSettings `mapstructure:"collectors"`
	Export     ExportSettings    `mapstructure:"export"`
	Server     ServerSettings    `mapstructure:"server"`
}

// CollectorSettings controls which collectors run and how.
type CollectorSettings struct {
	Enabled []string       `mapstructure:"enabled"`
	Timeout time.Duration  `mapstructure:"timeout"`
	Memory  MemorySettings `mapstructure:"memory"`
	SMART   SMARTSettings  `mapstructure:"smart"`
}

// MemorySettings holds the memory collector's tunables.
type MemorySettings struct {
	// AssumedLimitBytes is reported as the container memory total when
	// the cgroup limit is unreadable. Samples built from it carry a
	// limit_assumed diagnostic label.
	AssumedLimitBytes uint64 `mapstructure:"assumed_limit_bytes"`
}

// SMARTSettings lists the block devices to query via smartctl.
type SMARTSettings struct {
	Devices []string `mapstructure:"devices"`
}

// ExportSettings selects and parameterizes the single export channel.
type ExportSettings struct {
	Format string       `mapstructure:"format"`
	File   FileSettings `mapstructure:"file"`
	OTLP   OTLPSettings `mapstructure:"otlp"`
}

// FileSettings parameterizes the exposition-file exporter.
type FileSettings struct {
	Path string `mapstructure:"path"`
}

// OTLPSettings parameterizes the streaming push exporter.
type OTLPSettings struct {
	Endpoint     string        `mapstructure:"endpoint"`
	BatchSize    int           `mapstructure:"batch_size"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	Insecure     bool          `mapstructure:"insecure"`
}

// ServerSettings parameterizes the status HTTP server.
type ServerSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DefaultSettings returns the agent defaults, applied before any config
// file values.
func DefaultSettings() *Settings {
	return &Settings{
		Interval: 30 * time.Second,
		Collectors: CollectorSettings{
			Enabled: []string{"memory", "filesystem", "process"},
			Timeout: 5 * time.Second,
			Memory: MemorySettings{
				AssumedLimitBytes: 2 << 30,
			},
		},
		Export: ExportSettings{
			Format: FormatFile,
			File: FileSettings{
				Path: "/var/lib/hostvantage/metrics.prom",
			},
			OTLP: OTLPSettings{
				Endpoint:     "localhost:4317",
				BatchSize:    100,
				FlushTimeout: 5 * time.Second,
				Timeout:      10 * time.Second,
				MaxRetries:   3,
				Insecure:     true,
			},
		},
		Server: ServerSettings{
			Host: "0.0.0.0",
			Port: 9100,
		},
	}
}

// Load reads the configuration file at path (optional; defaults apply
// when empty), resolves it over the defaults, and validates it.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	settings := &Settings{}
	if err := New(v).Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault("interval", d.Interval)
	v.SetDefault("collectors.enabled", d.Collectors.Enabled)
	v.SetDefault("collectors.timeout", d.Collectors.Timeout)
	v.SetDefault("collectors.memory.assumed_limit_bytes", d.Collectors.Memory.AssumedLimitBytes)
	v.SetDefault("export.format", d.Export.Format)
	v.SetDefault("export.file.path", d.Export.File.Path)
	v.SetDefault("export.otlp.endpoint", d.Export.OTLP.Endpoint)
	v.SetDefault("export.otlp.batch_size", d.Export.OTLP.BatchSize)
	v.SetDefault("export.otlp.flush_timeout", d.Export.OTLP.FlushTimeout)
	v.SetDefault("export.otlp.timeout", d.Export.OTLP.Timeout)
	v.SetDefault("export.otlp.max_retries", d.Export.OTLP.MaxRetries)
	v.SetDefault("export.otlp.insecure", d.Export.OTLP.Insecure)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
}

// Validate checks the settings for startup-fatal configuration errors.
// Collector names are validated separately against the builder table by
// the composition root.
func (s *Settings) Validate() error {
	if s.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", s.Interval)
	}
	if s.Collectors.Timeout <= 0 {
		return fmt.Errorf("collectors.timeout must be positive, got %v", s.Collectors.Timeout)
	}
	if len(s.Collectors.Enabled) == 0 {
		return fmt.Errorf("collectors.enabled must name at least one collector")
	}

	switch s.Export.Format {
	case FormatFile:
		if s.Export.File.Path == "" {
			return fmt.Errorf("export.file.path must be set for file export")
		}
	case FormatOTLP:
		if s.Export.OTLP.Endpoint == "" {
			return fmt.Errorf("export.otlp.endpoint must be set for otlp export")
		}
		if s.Export.OTLP.BatchSize < 1 {
			return fmt.Errorf("export.otlp.batch_size must be at least 1, got %d", s.Export.OTLP.BatchSize)
		}
		if s.Export.OTLP.Timeout <= 0 {
			return fmt.Errorf("export.otlp.timeout must be positive, got %v", s.Export.OTLP.Timeout)
		}
		if s.Export.OTLP.FlushTimeout <= 0 {
			return fmt.Errorf("export.otlp.flush_timeout must be positive, got %v", s.Export.OTLP.FlushTimeout)
		}
		if s.Export.OTLP.MaxRetries < 0 {
			return fmt.Errorf("export.otlp.max_retries must not be negative, got %d", s.Export.OTLP.MaxRetries)
		}
	default:
		return fmt.Errorf("export.format must be %q or %q, got %q", FormatFile, FormatOTLP, s.Export.Format)
	}

	if s.Server.Port < 1 || s.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", s.Server.Port)
	}
	return nil
}
