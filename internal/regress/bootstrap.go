package regress

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ClusterBootstrap resamples whole clusters with replacement, refits the
// regression on every replicate and summarizes the distribution of the
// focus coefficient: its standard deviation and percentile interval.
//
// Replicates run on a worker pool. Each replicate has its own RNG seeded
// from a master RNG, so results do not depend on scheduling.
func ClusterBootstrap(
	ctx context.Context,
	y *mat.VecDense,
	X *mat.Dense,
	names []string,
	clusters []int,
	focus string,
	opts BootstrapOptions,
) (*BootstrapResult, error) {

	if opts.Replications <= 0 {
		return nil, fmt.Errorf("bootstrap needs a positive replication count, got %d", opts.Replications)
	}
	if opts.Alpha <= 0 || opts.Alpha >= 1 {
		opts.Alpha = 0.05
	}
	n, k := X.Dims()
	if len(clusters) != n {
		return nil, fmt.Errorf("%d cluster ids for %d rows", len(clusters), n)
	}
	j := -1
	for c, name := range names {
		if name == focus {
			j = c
		}
	}
	if j < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTerm, focus)
	}

	// 1. Group row indices by cluster
	byCluster := make(map[int][]int)
	var order []int
	for i, c := range clusters {
		if _, ok := byCluster[c]; !ok {
			order = append(order, c)
		}
		byCluster[c] = append(byCluster[c], i)
	}
	sort.Ints(order)
	groups := make([][]int, len(order))
	for g, c := range order {
		groups[g] = byCluster[c]
	}
	if len(groups) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewClusters, len(groups))
	}

	// 2. Prepare per-replication seeds (so RNG is not shared across goroutines)
	masterSeed := opts.Seed
	if masterSeed == 0 {
		masterSeed = time.Now().UnixNano()
	}
	masterRng := rand.New(rand.NewSource(masterSeed))
	seeds := make([]int64, opts.Replications)
	for b := range seeds {
		seeds[b] = masterRng.Int63()
	}

	// 3. Worker pool
	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > opts.Replications {
		numWorkers = opts.Replications
	}

	type replicate struct {
		index int
		coef  float64
		ok    bool
	}

	jobs := make(chan int)
	resultsCh := make(chan replicate, opts.Replications)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	worker := func() {
		defer wg.Done()
		for b := range jobs {
			rng := rand.New(rand.NewSource(seeds[b]))
			yStar, xStar := resampleClusters(y, X, groups, rng)
			fit, err := OLS(yStar, xStar, names)
			if err != nil || fit.Rank < k {
				resultsCh <- replicate{index: b}
				continue
			}
			resultsCh <- replicate{index: b, coef: fit.Beta.AtVec(j), ok: true}
		}
	}
	for w := 0; w < numWorkers; w++ {
		go worker()
	}

	// Feed jobs until done or cancelled
	go func() {
		defer close(jobs)
		for b := 0; b < opts.Replications; b++ {
			select {
			case jobs <- b:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	// 4. Collect in replication order so summaries are reproducible
	coefs := make([]float64, opts.Replications)
	valid := make([]bool, opts.Replications)
	for rep := range resultsCh {
		coefs[rep.index] = rep.coef
		valid[rep.index] = rep.ok
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	samples := make([]float64, 0, opts.Replications)
	for b, ok := range valid {
		if ok {
			samples = append(samples, coefs[b])
		}
	}

	res := &BootstrapResult{
		Term:         focus,
		Replications: opts.Replications,
		Failed:       opts.Replications - len(samples),
		Alpha:        opts.Alpha,
		SE:           math.NaN(),
		Lower:        math.NaN(),
		Upper:        math.NaN(),
	}
	if len(samples) >= 2 {
		res.SE = stat.StdDev(samples, nil)
		res.Lower = bootstrapQuantile(samples, opts.Alpha/2)
		res.Upper = bootstrapQuantile(samples, 1-opts.Alpha/2)
	}
	return res, nil
}

// resampleClusters draws len(groups) clusters with replacement and stacks
// their rows.
func resampleClusters(y *mat.VecDense, X *mat.Dense, groups [][]int, rng *rand.Rand) (*mat.VecDense, *mat.Dense) {
	_, k := X.Dims()
	var rows []int
	for range groups {
		rows = append(rows, groups[rng.Intn(len(groups))]...)
	}

	yStar := mat.NewVecDense(len(rows), nil)
	xStar := mat.NewDense(len(rows), k, nil)
	for r, i := range rows {
		yStar.SetVec(r, y.AtVec(i))
		xStar.SetRow(r, X.RawRowView(i))
	}
	return yStar, xStar
}

// bootstrapQuantile returns the empirical q-quantile of samples (0 <= q <= 1)
// using linear interpolation between order statistics.
func bootstrapQuantile(samples []float64, q float64) float64 {
	n := len(samples)
	if n == 0 {
		return math.NaN()
	}

	tmp := make([]float64, n)
	copy(tmp, samples)
	sort.Float64s(tmp)

	if q <= 0 {
		return tmp[0]
	}
	if q >= 1 {
		return tmp[n-1]
	}

	pos := q * float64(n-1)
	idxBelow := int(math.Floor(pos))
	idxAbove := int(math.Ceil(pos))

	if idxAbove == idxBelow {
		return tmp[idxBelow]
	}

	weight := pos - float64(idxBelow)
	return tmp[idxBelow]*(1.0-weight) + tmp[idxAbove]*weight
}
