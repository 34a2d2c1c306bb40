// Package forest implements a random forest of CART classification trees
// for binary labels.
package forest

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/fraudshield/fraudshield/internal/domain"
)

// Config controls forest training.
type Config struct {
	Trees           int     `json:"trees"`
	MaxDepth        int     `json:"max_depth"`
	MinSamplesSplit int     `json:"min_samples_split"`
	MaxFeatures     int     `json:"max_features"` // 0 means floor(sqrt(features))
	Balanced        bool    `json:"balanced"`     // weight classes by n/(2*n_c)
	TestFraction    float64 `json:"test_fraction"`
	Seed            uint64  `json:"seed"`
	Workers         int     `json:"-"`
}

// DefaultConfig returns the production training configuration.
func DefaultConfig() Config {
	return Config{
		Trees:           100,
		MaxDepth:        10,
		MinSamplesSplit: 2,
		Balanced:        true,
		TestFraction:    0.2,
		Seed:            42,
	}
}

// Forest is an ensemble of trees whose probabilities are averaged.
type Forest struct {
	Config      Config `json:"config"`
	NumFeatures int    `json:"num_features"`
	Trees       []Tree `json:"trees"`
}

// New returns an untrained forest.
func New(cfg Config) *Forest {
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 2
	}
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		cfg.TestFraction = 0.2
	}
	return &Forest{Config: cfg}
}

// Trained reports whether the forest can score.
func (f *Forest) Trained() bool {
	return f != nil && len(f.Trees) > 0 && f.NumFeatures > 0
}

// Fit splits X and y into stratified train and test partitions, trains on
// the first and returns accuracy on the second.
func (f *Forest) Fit(X [][]float64, y []int) (float64, error) {
	if err := checkInput(X, y); err != nil {
		return 0, err
	}

	trainIdx, testIdx := StratifiedSplit(y, f.Config.TestFraction, f.Config.Seed)
	if len(trainIdx) == 0 || len(testIdx) == 0 {
		return 0, fmt.Errorf("dataset of %d rows is too small to split", len(y))
	}

	trainX, trainY := subset(X, y, trainIdx)
	if err := f.Train(trainX, trainY); err != nil {
		return 0, err
	}

	testX, testY := subset(X, y, testIdx)
	return f.Accuracy(testX, testY)
}

// Train fits the forest on every row of X.
func (f *Forest) Train(X [][]float64, y []int) error {
	if err := checkInput(X, y); err != nil {
		return err
	}

	start := time.Now()
	p := len(X[0])
	maxFeatures := f.Config.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > p {
		maxFeatures = max(1, int(math.Sqrt(float64(p))))
	}
	weights := classWeights(y, f.Config.Balanced)

	workers := f.Config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]Tree, f.Config.Trees)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				// Each tree owns a generator derived from the seed and its
				// index so the result does not depend on scheduling.
				rng := rand.New(rand.NewPCG(f.Config.Seed, uint64(i)+1))
				b := &builder{
					x:           X,
					y:           y,
					weight:      weights,
					maxDepth:    f.Config.MaxDepth,
					minSplit:    f.Config.MinSamplesSplit,
					maxFeatures: maxFeatures,
					rng:         rng,
				}
				trees[i] = b.build(bootstrap(len(y), rng))
			}
		}()
	}
	for i := range trees {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	f.Trees = trees
	f.NumFeatures = p

	slog.Debug("forest trained",
		"trees", len(trees),
		"rows", len(y),
		"max_features", maxFeatures,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// PredictProba returns the mean positive-class probability across trees.
func (f *Forest) PredictProba(x []float64) (float64, error) {
	if !f.Trained() {
		return 0, domain.ErrModelNotTrained
	}
	if len(x) != f.NumFeatures {
		return 0, fmt.Errorf("expected %d features, got %d", f.NumFeatures, len(x))
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].Predict(x)
	}
	return sum / float64(len(f.Trees)), nil
}

// Predict returns 1 when the positive class is more likely.
func (f *Forest) Predict(x []float64) (int, error) {
	p, err := f.PredictProba(x)
	if err != nil {
		return 0, err
	}
	if p > 0.5 {
		return 1, nil
	}
	return 0, nil
}

// Accuracy returns the share of rows predicted correctly.
func (f *Forest) Accuracy(X [][]float64, y []int) (float64, error) {
	if len(X) == 0 {
		return 0, fmt.Errorf("no rows to evaluate")
	}
	correct := 0
	for i, x := range X {
		pred, err := f.Predict(x)
		if err != nil {
			return 0, err
		}
		if pred == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(X)), nil
}

// Validate checks a restored forest for structural consistency.
func (f *Forest) Validate() error {
	if !f.Trained() {
		return domain.ErrModelNotTrained
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", ti)
		}
		for ni, n := range t.Nodes {
			if n.Feature == leaf {
				if n.Value < 0 || n.Value > 1 || math.IsNaN(n.Value) {
					return fmt.Errorf("tree %d node %d: leaf value %v out of range", ti, ni, n.Value)
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= f.NumFeatures {
				return fmt.Errorf("tree %d node %d: feature %d out of range", ti, ni, n.Feature)
			}
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d: invalid children", ti, ni)
			}
		}
	}
	return nil
}

func checkInput(X [][]float64, y []int) error {
	if len(X) == 0 {
		return fmt.Errorf("no training rows")
	}
	if len(X) != len(y) {
		return fmt.Errorf("got %d rows and %d labels", len(X), len(y))
	}
	p := len(X[0])
	if p == 0 {
		return fmt.Errorf("rows have no features")
	}
	var pos int
	for i, row := range X {
		if len(row) != p {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), p)
		}
		switch y[i] {
		case 0:
		case 1:
			pos++
		default:
			return fmt.Errorf("label %d at row %d is not binary", y[i], i)
		}
	}
	if pos == 0 || pos == len(y) {
		return fmt.Errorf("labels contain a single class")
	}
	return nil
}

// classWeights returns per-row weights. Balanced weighting gives each class
// the same total weight.
func classWeights(y []int, balanced bool) []float64 {
	w := make([]float64, len(y))
	classW := [2]float64{1, 1}
	if balanced {
		var counts [2]int
		for _, v := range y {
			counts[v]++
		}
		n := float64(len(y))
		for c := range counts {
			if counts[c] > 0 {
				classW[c] = n / (2 * float64(counts[c]))
			}
		}
	}
	for i, v := range y {
		w[i] = classW[v]
	}
	return w
}

func bootstrap(n int, rng *rand.Rand) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = rng.IntN(n)
	}
	return rows
}

func subset(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	sx := make([][]float64, len(idx))
	sy := make([]int, len(idx))
	for i, j := range idx {
		sx[i] = X[j]
		sy[i] = y[j]
	}
	return sx, sy
}
