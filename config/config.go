// Package config loads YAML-driven tuning for an Engine and its
// Monitors, falling back to pipeline's own defaults for anything the
// document omits.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/liveflow/pipeline"
	"github.com/liveflow/pipeline/pkg/schema"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk shape of an engine configuration file.
type Document struct {
	Name           string  `yaml:"name"`
	CoalesceMillis int     `yaml:"coalesce_window_ms"`
	ShutdownGrace  int     `yaml:"shutdown_grace_seconds"`
	Debug          bool    `yaml:"debug"`
	Monitor        Monitor `yaml:"monitor"`
}

// Monitor holds Monitor tuning values. RefreshWindow and BackoffMax
// convert them for assignment to a pipeline.Monitor's fields of the
// same names; nothing in this package applies them to a Monitor.
type Monitor struct {
	RefreshWindowSeconds int `yaml:"refresh_window_seconds"`
	BackoffMaxSeconds    int `yaml:"backoff_max_seconds"`
}

// Load reads and validates an engine configuration document from
// path. A missing file is not an error: Load returns the document
// built entirely from defaults, matching the "fall back to defaults"
// ambient-config convention.
func Load(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaultDocument(), nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	doc := defaultDocument()
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := validate(doc); err != nil {
		return Document{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return doc, nil
}

func defaultDocument() Document {
	d := pipeline.DefaultConfig()
	return Document{
		Name:           "pipeline",
		CoalesceMillis: int(d.CoalesceWindow / time.Millisecond),
		ShutdownGrace:  int(d.ShutdownGrace / time.Second),
		Monitor: Monitor{
			RefreshWindowSeconds: 10,
			BackoffMaxSeconds:    60,
		},
	}
}

func validate(doc Document) error {
	if _, err := schema.String().Validate(doc.Name); err != nil {
		return fmt.Errorf("name: %w", err)
	}
	if _, err := (&schema.NumberSchema{Positive: true}).Validate(float64(doc.CoalesceMillis)); err != nil {
		return fmt.Errorf("coalesce_window_ms: %w", err)
	}
	if _, err := (&schema.NumberSchema{Positive: true}).Validate(float64(doc.ShutdownGrace)); err != nil {
		return fmt.Errorf("shutdown_grace_seconds: %w", err)
	}
	if _, err := (&schema.NumberSchema{Positive: true}).Validate(float64(doc.Monitor.RefreshWindowSeconds)); err != nil {
		return fmt.Errorf("monitor.refresh_window_seconds: %w", err)
	}
	if _, err := (&schema.NumberSchema{Positive: true}).Validate(float64(doc.Monitor.BackoffMaxSeconds)); err != nil {
		return fmt.Errorf("monitor.backoff_max_seconds: %w", err)
	}
	return nil
}

// EngineConfig converts the document into a pipeline.Config.
func (d Document) EngineConfig() pipeline.Config {
	return pipeline.Config{
		CoalesceWindow: time.Duration(d.CoalesceMillis) * time.Millisecond,
		ShutdownGrace:  time.Duration(d.ShutdownGrace) * time.Second,
		Debug:          d.Debug,
	}
}

// RefreshWindow returns the configured Monitor refresh coalescing
// window as a time.Duration.
func (m Monitor) RefreshWindow() time.Duration {
	return time.Duration(m.RefreshWindowSeconds) * time.Second
}

// BackoffMax returns the configured Monitor watch-retry backoff cap.
func (m Monitor) BackoffMax() time.Duration {
	return time.Duration(m.BackoffMaxSeconds) * time.Second
}
