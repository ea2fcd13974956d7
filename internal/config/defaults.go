package config

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Data:         "data/first_stage.csv",
		Output:       "out/first_stage.csv",
		Endogenous:   "treatment",
		Instruments:  []string{"instrument"},
		Controls:     []string{},
		FixedEffects: []string{},
		Cluster:      "district",
		Robust:       "hc1",
		Alpha:        0.05,
		Workers:      4,
		Bootstrap: BootstrapConfig{
			Replications: 0,
			Seed:         12345,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Variants: DefaultVariants(),
	}
}

// DefaultVariants returns the seven geographic sample specifications.
func DefaultVariants() []Variant {
	return []Variant{
		{Name: "all", Label: "All districts"},
		{Name: "no_capital", Label: "Excluding the capital", Filter: "capital == 0"},
		{Name: "urban", Label: "Urban districts", Filter: "urban == 1"},
		{Name: "rural", Label: "Rural districts", Filter: "urban == 0"},
		{Name: "north", Label: "Northern region", Filter: `region == "North"`},
		{Name: "south", Label: "Southern region", Filter: `region == "South"`},
		{Name: "border", Label: "Within 100 km of the border", Filter: "border_km <= 100"},
	}
}
