// Package config defines the analysis configuration and the geographic
// sample variants.
//
// Values are layered: built-in defaults, then a YAML file, then FIRSTSTAGE_*
// environment variables, then command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FIRSTSTAGE"

// Model identities. They decide which standard error is the headline one.
const (
	ModelOLS     = "ols"
	ModelRobust  = "robust"
	ModelCluster = "cluster"
)

// Config represents the complete analysis configuration.
type Config struct {
	Data     string `yaml:"data" validate:"required"`
	Output   string `yaml:"output" validate:"required"`
	XLSX     string `yaml:"xlsx"`
	Database string `yaml:"database"`

	Endogenous   string   `yaml:"endogenous" validate:"required"`
	Instruments  []string `yaml:"instruments" validate:"required,min=1,dive,required"`
	Focus        string   `yaml:"focus"`
	Controls     []string `yaml:"controls" validate:"dive,required"`
	FixedEffects []string `yaml:"fixed_effects" validate:"dive,required"`
	Cluster      string   `yaml:"cluster"`

	// Robust is the heteroscedasticity-robust estimator reported in the robust columns.
	Robust  string  `yaml:"robust" validate:"oneof=hc0 hc1 hc2 hc3"`
	Alpha   float64 `yaml:"alpha" validate:"gt=0,lt=1"`
	Workers int     `yaml:"workers" validate:"gte=1"`

	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Log       LogConfig       `yaml:"log"`

	Variants []Variant `yaml:"variants" validate:"required,min=1,unique=Name,dive"`
}

// BootstrapConfig controls the pairs cluster bootstrap of the focus coefficient.
type BootstrapConfig struct {
	Replications int   `yaml:"replications" validate:"gte=0"`
	Seed         int64 `yaml:"seed"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// Variant is one sample specification.
type Variant struct {
	Name  string `yaml:"name" validate:"required,excludesall=0x2C"`
	Label string `yaml:"label"`
	// Model selects the headline standard error: ols, robust or cluster.
	Model string `yaml:"model" validate:"omitempty,oneof=ols robust cluster"`
	// Filter is an expression over column names selecting the sample.
	Filter string `yaml:"filter"`
	// Controls are appended to the global controls.
	Controls []string `yaml:"controls" validate:"dive,required"`
	// FixedEffects replace the global fixed effects when non-nil.
	FixedEffects []string `yaml:"fixed_effects" validate:"dive,required"`
	// Cluster replaces the global cluster column when set; "-" disables clustering.
	Cluster string `yaml:"cluster"`
	// Wald lists term selectors for the joint test; defaults to the instruments.
	Wald     []string `yaml:"wald" validate:"dive,required"`
	Disabled bool     `yaml:"disabled"`
}

// envOverrides are the settings that can come from the environment.
type envOverrides struct {
	Data      string `envconfig:"DATA"`
	Output    string `envconfig:"OUTPUT"`
	XLSX      string `envconfig:"XLSX"`
	Database  string `envconfig:"DATABASE"`
	Workers   int    `envconfig:"WORKERS"`
	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogFormat string `envconfig:"LOG_FORMAT"`
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// mergeFile overlays a YAML file. Keys absent from the file keep their
// current value; a variants list in the file replaces the defaults.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	c.resolvePaths(filepath.Dir(path))
	return nil
}

// resolvePaths makes relative file paths relative to the config file.
func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{&c.Data, &c.Output, &c.XLSX, &c.Database} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to load config from env: %w", err)
	}
	if env.Data != "" {
		c.Data = env.Data
	}
	if env.Output != "" {
		c.Output = env.Output
	}
	if env.XLSX != "" {
		c.XLSX = env.XLSX
	}
	if env.Database != "" {
		c.Database = env.Database
	}
	if env.Workers > 0 {
		c.Workers = env.Workers
	}
	if env.LogLevel != "" {
		c.Log.Level = strings.ToLower(env.LogLevel)
	}
	if env.LogFormat != "" {
		c.Log.Format = strings.ToLower(env.LogFormat)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	for _, v := range c.Variants {
		if v.Model == ModelCluster && c.ClusterFor(v) == "" {
			return fmt.Errorf("variant %q: model cluster needs a cluster column", v.Name)
		}
	}
	return nil
}

// FocusTerm returns the coefficient whose estimate is reported.
func (c *Config) FocusTerm() string {
	if c.Focus != "" {
		return c.Focus
	}
	return c.Instruments[0]
}

// ClusterFor returns the cluster column for a variant, "" when unclustered.
func (c *Config) ClusterFor(v Variant) string {
	switch v.Cluster {
	case "-":
		return ""
	case "":
		return c.Cluster
	default:
		return v.Cluster
	}
}

// ControlsFor returns global plus variant-specific controls.
func (c *Config) ControlsFor(v Variant) []string {
	out := append([]string(nil), c.Controls...)
	return append(out, v.Controls...)
}

// FixedEffectsFor returns the fixed effects for a variant.
func (c *Config) FixedEffectsFor(v Variant) []string {
	if v.FixedEffects != nil {
		return v.FixedEffects
	}
	return c.FixedEffects
}

// WaldFor returns the term selectors tested jointly for a variant.
func (c *Config) WaldFor(v Variant) []string {
	if len(v.Wald) > 0 {
		return v.Wald
	}
	sel := make([]string, len(c.Instruments))
	for i, z := range c.Instruments {
		sel[i] = regexp.QuoteMeta(z)
	}
	return sel
}

// Enabled returns the variants that are not disabled, in order.
func (c *Config) Enabled() []Variant {
	var out []Variant
	for _, v := range c.Variants {
		if !v.Disabled {
			out = append(out, v)
		}
	}
	return out
}

// ModelFor returns the model identity of a variant. Without an explicit
// model, clustered variants are cluster models and the rest are robust.
func (c *Config) ModelFor(v Variant) string {
	if v.Model != "" {
		return v.Model
	}
	if c.ClusterFor(v) != "" {
		return ModelCluster
	}
	return ModelRobust
}

// Title returns the label, falling back to the name.
func (v Variant) Title() string {
	if v.Label != "" {
		return v.Label
	}
	return v.Name
}
