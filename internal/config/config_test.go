package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "firststage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Len(t, cfg.Variants, 7)
	assert.Equal(t, "instrument", cfg.FocusTerm())
	for _, v := range cfg.Variants {
		assert.Equal(t, ModelCluster, cfg.ModelFor(v), v.Name)
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "data/first_stage.csv", cfg.Data)
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
data: districts.csv
endogenous: school_share
instruments: [dist_km, dist_km_sq]
focus: dist_km
controls: [log_pop]
fixed_effects: [province]
variants:
  - name: all
  - name: north
    label: North only
    model: ols
    filter: region == "North"
    cluster: "-"
  - name: interact
    controls: [urban]
    fixed_effects: []
    wald: ["dist_.*"]
    disabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(filepath.Dir(path), "districts.csv"), cfg.Data)
	// untouched keys keep their defaults
	assert.Equal(t, "district", cfg.Cluster)
	assert.Equal(t, 0.05, cfg.Alpha)
	assert.Equal(t, int64(12345), cfg.Bootstrap.Seed)
	assert.Equal(t, "dist_km", cfg.FocusTerm())

	require.Len(t, cfg.Variants, 3)
	all, north, interact := cfg.Variants[0], cfg.Variants[1], cfg.Variants[2]

	assert.Equal(t, ModelCluster, cfg.ModelFor(all))
	assert.Equal(t, "district", cfg.ClusterFor(all))
	assert.Equal(t, []string{"province"}, cfg.FixedEffectsFor(all))
	assert.Equal(t, []string{`dist_km`, `dist_km_sq`}, cfg.WaldFor(all))
	assert.Equal(t, "all", all.Title())

	assert.Equal(t, ModelOLS, cfg.ModelFor(north))
	assert.Equal(t, "", cfg.ClusterFor(north))
	assert.Equal(t, "North only", north.Title())

	assert.Equal(t, []string{"log_pop", "urban"}, cfg.ControlsFor(interact))
	assert.Empty(t, cfg.FixedEffectsFor(interact))
	assert.Equal(t, []string{"dist_.*"}, cfg.WaldFor(interact))

	enabled := cfg.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "north", enabled[1].Name)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FIRSTSTAGE_OUTPUT", "/tmp/fs.csv")
	t.Setenv("FIRSTSTAGE_WORKERS", "2")
	t.Setenv("FIRSTSTAGE_LOG_LEVEL", "DEBUG")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/fs.csv", cfg.Output)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("FIRSTSTAGE_WORKERS", "many")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "variants: [\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := map[string]func(c *Config){
		"alpha out of range": func(c *Config) { c.Alpha = 1.5 },
		"unknown robust":     func(c *Config) { c.Robust = "hc9" },
		"no instruments":     func(c *Config) { c.Instruments = nil },
		"duplicate variant": func(c *Config) {
			c.Variants = append(c.Variants, Variant{Name: "all"})
		},
		"unknown model": func(c *Config) { c.Variants[0].Model = "probit" },
		"cluster model without cluster": func(c *Config) {
			c.Cluster = ""
			c.Variants[0].Model = ModelCluster
		},
		"no variants": func(c *Config) { c.Variants = nil },
		"bad log":     func(c *Config) { c.Log.Format = "xml" },
		"zero workers": func(c *Config) { c.Workers = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestModelFor_WithoutCluster(t *testing.T) {
	cfg := Default()
	cfg.Cluster = ""
	assert.Equal(t, ModelRobust, cfg.ModelFor(cfg.Variants[0]))
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "firststage.yaml"))
	require.NoError(t, err)

	require.Len(t, cfg.Enabled(), 7)
	assert.Equal(t, []string{"province"}, cfg.FixedEffectsFor(cfg.Variants[0]))
	assert.Empty(t, cfg.FixedEffectsFor(cfg.Variants[4]))
	assert.Equal(t, ModelRobust, cfg.ModelFor(cfg.Variants[6]))
	assert.Equal(t, filepath.Join("..", "..", "data", "first_stage.csv"), cfg.Data)
}
