package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"firststage/internal/analysis"
	"firststage/internal/regress"
)

func sampleRows() []analysis.Row {
	classical := &analysis.Inference{Kind: regress.Classical, SE: 0.1, T: 15, P: 0.0001, WaldF: 225, WaldP: 0.00001, DoF: 40}
	robust := &analysis.Inference{Kind: regress.HC1, SE: 0.12, T: 12.5, P: 0.0002, WaldF: 156.25, WaldP: 0.00002, DoF: 40}
	clustered := &analysis.Inference{Kind: regress.CR1, SE: 0.3, T: 5, P: 0.004, WaldF: 25, WaldP: 0.004, DoF: 5}
	return []analysis.Row{
		{
			Variant: "all", Label: "All districts", Model: "cluster",
			Formula: "treatment ~ instrument", Cluster: "province",
			Obs: 43, Clusters: 6, Focus: "instrument", Estimate: 1.5,
			Classical: classical, Robust: robust, Clustered: clustered, Headline: clustered,
			Stars: "***", Significant: true, WaldTerms: []string{"instrument"},
			R2: 0.9, AdjR2: 0.89,
			Bootstrap: &regress.BootstrapResult{SE: 0.31, Lower: 0.9, Upper: 2.1},
		},
		{
			Variant: "north", Label: "north", Model: "robust", Filter: `region == "North"`,
			Formula: "treatment ~ instrument", Excluded: 43,
			Estimate: math.NaN(), R2: math.NaN(), AdjR2: math.NaN(),
			Err: errors.New("empty sample"),
		},
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	require.NoError(t, WriteCSV(path, sampleRows()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	header := records[0]
	assert.Equal(t, Header(), header)
	get := func(rec []string, name string) string {
		for i, h := range header {
			if h == name {
				return rec[i]
			}
		}
		t.Fatalf("no column %s", name)
		return ""
	}

	all, north := records[1], records[2]
	assert.Equal(t, "all", get(all, "variant"))
	assert.Equal(t, "1.500000", get(all, "estimate"))
	assert.Equal(t, "0.300000", get(all, "se"))
	assert.Equal(t, "0.100000", get(all, "se_classical"))
	assert.Equal(t, "0.120000", get(all, "se_robust"))
	assert.Equal(t, "0.300000", get(all, "se_cluster"))
	assert.Equal(t, "6", get(all, "clusters"))
	assert.Equal(t, "true", get(all, "significant"))
	assert.Equal(t, "0.310000", get(all, "boot_se"))
	assert.Equal(t, "", get(all, "error"))

	assert.Equal(t, "", get(north, "estimate"))
	assert.Equal(t, "", get(north, "se"))
	assert.Equal(t, "", get(north, "se_cluster"))
	assert.Equal(t, "", get(north, "boot_se"))
	assert.Equal(t, "43", get(north, "excluded"))
	assert.Equal(t, "empty sample", get(north, "error"))
}

func TestWriteCSV_InfiniteStatistic(t *testing.T) {
	rows := sampleRows()[:1]
	perfect := *rows[0].Classical
	perfect.WaldF = math.Inf(1)
	rows[0].Classical = &perfect

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteCSV(path, rows))
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	require.NoError(t, err)

	for i, h := range records[0] {
		switch h {
		case "wald_f_classical":
			assert.Equal(t, "Inf", records[1][i])
		case "boot_lower":
			assert.Equal(t, "0.900000", records[1][i])
		}
	}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, rows))

	xlsx := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, WriteXLSX(xlsx, NewRun("d.csv", ""), rows))
	f, err := excelize.OpenFile(xlsx)
	require.NoError(t, err)
	defer f.Close()
	got, err := f.GetRows(SheetResults)
	require.NoError(t, err)
	for i, h := range got[0] {
		if h == "wald_f_classical" {
			assert.Equal(t, "Inf", got[1][i])
		}
	}
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	run := NewRun("data/districts.csv", "firststage.yaml")
	require.NoError(t, WriteXLSX(path, run, sampleRows()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetResults, SheetMeta}, f.GetSheetList())

	rows, err := f.GetRows(SheetResults)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header(), rows[0])
	assert.Equal(t, "all", rows[1][0])
	assert.Equal(t, "north", rows[2][0])

	meta, err := f.GetRows(SheetMeta)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"run_id", run.ID}, meta[0]); diff != "" {
		t.Errorf("meta run id mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"data", "data/districts.csv"}, meta[2])
	assert.Equal(t, []string{"variants", "2"}, meta[4])
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleRows()))
	out := buf.String()

	assert.Contains(t, out, "All districts")
	assert.Contains(t, out, "1.5000")
	assert.Contains(t, out, "0.3000")
	assert.Contains(t, out, "***")
	assert.Contains(t, out, "boot SE 0.3100")
	assert.Contains(t, out, "empty sample")
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "runs.sqlite")
	s, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	run := NewRun("districts.csv", "")
	require.NoError(t, s.SaveRun(ctx, run, sampleRows()))

	got, err := s.Estimates(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "all", got[0].Variant)
	assert.Equal(t, 43, got[0].Obs)
	assert.True(t, got[0].Estimate.Valid)
	assert.InDelta(t, 0.3, got[0].SE.Float64, 1e-12)
	assert.False(t, got[0].Error.Valid)

	assert.Equal(t, "north", got[1].Variant)
	assert.False(t, got[1].Estimate.Valid)
	assert.False(t, got[1].SE.Valid)
	assert.Equal(t, "empty sample", got[1].Error.String)

	// run ids are unique
	assert.Error(t, s.SaveRun(ctx, run, sampleRows()))

	// reopening keeps the archive
	require.NoError(t, s.Close())
	s, err = Open(path)
	require.NoError(t, err)
	got, err = s.Estimates(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
