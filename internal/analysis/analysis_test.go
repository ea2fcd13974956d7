package analysis

import (
	"context"
	"errors"
	"math"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firststage/internal/config"
	"firststage/internal/dataset"
	"firststage/internal/regress"
)

// districtFrame builds n synthetic districts where
// treatment = 0.5 + 1.5 instrument + 0.2 log_pop + small noise.
func districtFrame(t *testing.T, n int) *dataset.Frame {
	t.Helper()
	regions := []string{"North", "South", "East"}

	var (
		district, province, urban, capital, border []float64
		instrument, logPop, treatment              []float64
		region                                     []string
	)
	for i := 0; i < n; i++ {
		z := math.Sin(float64(i)*0.7) + float64(i%5)*0.3
		lp := 10 + math.Cos(float64(i)*1.3)
		noise := 0.05 * math.Sin(float64(i*i)*0.11)

		district = append(district, float64(i))
		province = append(province, float64(i%6))
		region = append(region, regions[i%3])
		urban = append(urban, float64(i%2))
		capital = append(capital, boolFloat(i == 0))
		border = append(border, float64((i*37)%250))
		instrument = append(instrument, z)
		logPop = append(logPop, lp)
		treatment = append(treatment, 0.5+1.5*z+0.2*lp+noise)
	}
	// one missing control
	logPop[7] = math.NaN()

	frame, err := dataset.NewFrame(
		&dataset.Column{Name: "district", Kind: dataset.Numeric, Float: district},
		&dataset.Column{Name: "province", Kind: dataset.Numeric, Float: province},
		&dataset.Column{Name: "region", Kind: dataset.String, Str: region},
		&dataset.Column{Name: "urban", Kind: dataset.Numeric, Float: urban},
		&dataset.Column{Name: "capital", Kind: dataset.Numeric, Float: capital},
		&dataset.Column{Name: "border_km", Kind: dataset.Numeric, Float: border},
		&dataset.Column{Name: "instrument", Kind: dataset.Numeric, Float: instrument},
		&dataset.Column{Name: "log_pop", Kind: dataset.Numeric, Float: logPop},
		&dataset.Column{Name: "treatment", Kind: dataset.Numeric, Float: treatment},
	)
	require.NoError(t, err)
	return frame
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Controls = []string{"log_pop"}
	cfg.Cluster = "province"
	cfg.Workers = 3
	return cfg
}

func TestRun_DefaultVariants(t *testing.T) {
	frame := districtFrame(t, 90)
	cfg := testConfig()
	cfg.Variants[4].Model = config.ModelOLS    // north
	cfg.Variants[5].Model = config.ModelRobust // south

	rows, err := New(cfg, nil).Run(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, rows, 7)

	wantOrder := []string{"all", "no_capital", "urban", "rural", "north", "south", "border"}
	for i, row := range rows {
		assert.Equal(t, wantOrder[i], row.Variant)
		require.NoError(t, row.Err, row.Variant)
		assert.InDelta(t, 1.5, row.Estimate, 0.1, row.Variant)
		assert.Equal(t, "treatment ~ instrument + log_pop", row.Formula)
		assert.Equal(t, []string{"instrument"}, row.WaldTerms)
		assert.Equal(t, frame.Rows(), row.Excluded+row.Dropped+row.Obs, row.Variant)
		require.NotNil(t, row.Classical)
		require.NotNil(t, row.Robust)
		require.NotNil(t, row.Clustered)
		assert.Equal(t, regress.HC1, row.Robust.Kind)
		assert.Equal(t, row.Clusters-1, row.Clustered.DoF)
		assert.Equal(t, "***", row.Stars, row.Variant)
		assert.True(t, row.Significant)
		// single restriction: Wald F is the squared t statistic
		assert.InDelta(t, row.Robust.T*row.Robust.T, row.Robust.WaldF, 1e-6*row.Robust.WaldF)
		assert.InDelta(t, row.Classical.T*row.Classical.T, row.Classical.WaldF, 1e-6*row.Classical.WaldF)
	}

	all := rows[0]
	assert.Equal(t, 0, all.Excluded)
	assert.Equal(t, 1, all.Dropped)
	assert.Equal(t, 89, all.Obs)
	assert.Equal(t, 6, all.Clusters)
	assert.Equal(t, config.ModelCluster, all.Model)
	assert.Same(t, all.Clustered, all.Headline)

	assert.Equal(t, 1, rows[1].Excluded)
	assert.Equal(t, 45, rows[2].Obs+rows[2].Dropped)

	north := rows[4]
	assert.Equal(t, 60, north.Excluded)
	assert.Equal(t, config.ModelOLS, north.Model)
	assert.Same(t, north.Classical, north.Headline)
	// i%3 == 0 districts fall in provinces 0 and 3 only
	assert.Equal(t, 2, north.Clusters)

	south := rows[5]
	assert.Same(t, south.Robust, south.Headline)
}

func TestRun_FailedVariantDoesNotStopRun(t *testing.T) {
	frame := districtFrame(t, 40)
	cfg := testConfig()
	cfg.Variants = []config.Variant{
		{Name: "all"},
		{Name: "nowhere", Filter: "border_km > 1000"},
		{Name: "bad_wald", Wald: []string{"elevation"}},
		{Name: "skipped", Disabled: true},
	}

	rows, err := New(cfg, nil).Run(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.NoError(t, rows[0].Err)
	assert.Error(t, rows[1].Err)
	assert.Equal(t, 40, rows[1].Excluded)
	assert.True(t, errors.Is(rows[2].Err, regress.ErrNoTerms))
	assert.Equal(t, "bad_wald", rows[2].Variant)
}

func TestRun_Cancelled(t *testing.T) {
	frame := districtFrame(t, 40)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(testConfig(), nil).Run(ctx, frame)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEstimate_FixedEffectsAndJointWald(t *testing.T) {
	frame := districtFrame(t, 60)
	cfg := testConfig()
	cfg.Cluster = ""
	cfg.FixedEffects = []string{"region"}
	v := config.Variant{Name: "fe", Wald: []string{"instrument", `region\[.*\]`}}

	row, err := New(cfg, nil).Estimate(context.Background(), frame, v)
	require.NoError(t, err)

	assert.Equal(t, "treatment ~ instrument + log_pop + fe(region)", row.Formula)
	assert.Equal(t, []string{"instrument", "region[North]", "region[South]"}, row.WaldTerms)
	assert.Equal(t, config.ModelRobust, row.Model)
	assert.Nil(t, row.Clustered)
	assert.Equal(t, 0, row.Clusters)
	assert.Same(t, row.Robust, row.Headline)
	assert.Equal(t, 59-5, row.Classical.DoF)
}

func TestEstimate_RankDeficientDesign(t *testing.T) {
	frame := districtFrame(t, 90)
	cfg := testConfig()
	// urban is constant inside the urban sample and duplicates the intercept
	v := config.Variant{Name: "urban", Filter: "urban == 1", Controls: []string{"urban"}}

	row, err := New(cfg, nil).Estimate(context.Background(), frame, v)
	require.NoError(t, err)

	assert.Equal(t, "treatment ~ instrument + log_pop + urban", row.Formula)
	assert.InDelta(t, 1.5, row.Estimate, 0.1)
	// three identified coefficients out of four columns
	assert.Equal(t, row.Obs-3, row.Classical.DoF)
	assert.Equal(t, row.Obs-3, row.Robust.DoF)
	assert.InDelta(t, row.Classical.T*row.Classical.T, row.Classical.WaldF, 1e-6*row.Classical.WaldF)
	assert.InDelta(t, row.Robust.T*row.Robust.T, row.Robust.WaldF, 1e-6*row.Robust.WaldF)
	assert.InDelta(t, row.Classical.P, row.Classical.WaldP, 1e-8)
}

func TestEstimate_Bootstrap(t *testing.T) {
	frame := districtFrame(t, 60)
	cfg := testConfig()
	cfg.Bootstrap.Replications = 40

	row, err := New(cfg, nil).Estimate(context.Background(), frame, config.Variant{Name: "all"})
	require.NoError(t, err)
	require.NotNil(t, row.Bootstrap)
	assert.Equal(t, 40, row.Bootstrap.Replications)
	assert.Greater(t, row.Bootstrap.SE, 0.0)
}

func TestBootstrapWorkers(t *testing.T) {
	cfg := testConfig()

	cfg.Workers = 1
	assert.Equal(t, runtime.NumCPU(), New(cfg, nil).bootstrapWorkers())

	cfg.Workers = 2
	assert.Equal(t, max(runtime.NumCPU()/2, 1), New(cfg, nil).bootstrapWorkers())

	cfg.Workers = runtime.NumCPU() * 4
	assert.Equal(t, 1, New(cfg, nil).bootstrapWorkers())
}

func TestCheck(t *testing.T) {
	frame := districtFrame(t, 20)
	cfg := testConfig()
	assert.NoError(t, New(cfg, nil).Check(frame))

	cfg.Controls = []string{"elevation"}
	cfg.Variants = append(cfg.Variants, config.Variant{Name: "typo", Filter: "regoin == 1"})
	err := New(cfg, nil).Check(frame)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dataset.ErrUnknownColumn))
}

func TestStars(t *testing.T) {
	assert.Equal(t, "***", Stars(0.001))
	assert.Equal(t, "**", Stars(0.03))
	assert.Equal(t, "*", Stars(0.07))
	assert.Equal(t, "", Stars(0.5))
	assert.Equal(t, "", Stars(math.NaN()))
}
