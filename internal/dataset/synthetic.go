package dataset

import (
	"math"
	"math/rand/v2"

	"github.com/fraudshield/fraudshield/internal/domain"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultSyntheticSamples is the corpus size used when no real data exists.
const DefaultSyntheticSamples = 10000

// normalShare is the fraction of generated rows drawn from the normal profile.
const normalShare = 0.8

var (
	normalMerchants = []string{"grocery", "gas", "restaurant", "retail", "online"}
	fraudMerchants  = []string{"online", "atm", "unknown", "retail"}

	paymentMethods = []string{"card", "mobile", "online"}
	normalPayments = []float64{0.6, 0.3, 0.1}
	fraudPayments  = []float64{0.3, 0.2, 0.5}

	// Hours 0-5 and 22-23.
	offHours = []int{0, 1, 2, 3, 4, 5, 22, 23}
)

// Generator produces a labeled corpus from two emission profiles: normal
// customers and fraudulent activity.
type Generator struct {
	Samples int
	Seed    uint64
}

// NewGenerator returns a generator for n rows, seeded for reproducibility.
func NewGenerator(n int, seed uint64) *Generator {
	if n <= 0 {
		n = DefaultSyntheticSamples
	}
	return &Generator{Samples: n, Seed: seed}
}

// Split returns how many normal and fraud rows Generate emits.
func (g *Generator) Split() (normal, fraud int) {
	normal = int(float64(g.Samples) * normalShare)
	return normal, g.Samples - normal
}

// Generate returns all normal rows followed by all fraud rows. Two calls on
// generators with equal Samples and Seed return identical datasets.
func (g *Generator) Generate() *Dataset {
	rng := rand.New(rand.NewPCG(g.Seed, g.Seed^0x9e3779b97f4a7c15))
	nNormal, nFraud := g.Split()

	samples := make([]domain.Sample, 0, g.Samples)
	samples = appendNormal(samples, nNormal, rng)
	samples = appendFraud(samples, nFraud, rng)
	return &Dataset{Samples: samples}
}

func appendNormal(samples []domain.Sample, n int, rng *rand.Rand) []domain.Sample {
	amount := distuv.LogNormal{Mu: 3, Sigma: 1, Src: rng}
	age := distuv.Normal{Mu: 40, Sigma: 15, Src: rng}
	freq := distuv.Poisson{Lambda: 5, Src: rng}
	risk := distuv.Beta{Alpha: 2, Beta: 8, Src: rng}
	payment := distuv.NewCategorical(normalPayments, rng)

	for i := 0; i < n; i++ {
		samples = append(samples, domain.Sample{
			Record: domain.TransactionRecord{
				Amount:               amount.Rand(),
				Hour:                 6 + rng.IntN(23-6),
				MerchantCategory:     normalMerchants[rng.IntN(len(normalMerchants))],
				PaymentMethod:        paymentMethods[int(payment.Rand())],
				CustomerAge:          int(math.Round(clip(age.Rand(), 18, 80))),
				TransactionFrequency: int(freq.Rand()) + 1,
				LocationRiskScore:    risk.Rand(),
			},
			IsFraud: false,
		})
	}
	return samples
}

// appendFraud draws a bimodal amount: the first half of the rows are
// micro-fraud, the rest high-value fraud.
func appendFraud(samples []domain.Sample, n int, rng *rand.Rand) []domain.Sample {
	small := distuv.LogNormal{Mu: 2, Sigma: 0.5, Src: rng}
	large := distuv.LogNormal{Mu: 6, Sigma: 1, Src: rng}
	age := distuv.Uniform{Min: 18, Max: 80, Src: rng}
	freq := distuv.Poisson{Lambda: 2, Src: rng}
	risk := distuv.Beta{Alpha: 6, Beta: 2, Src: rng}
	payment := distuv.NewCategorical(fraudPayments, rng)

	nSmall := n / 2
	for i := 0; i < n; i++ {
		var amount float64
		if i < nSmall {
			amount = small.Rand()
		} else {
			amount = large.Rand()
		}
		samples = append(samples, domain.Sample{
			Record: domain.TransactionRecord{
				Amount:               amount,
				Hour:                 offHours[rng.IntN(len(offHours))],
				MerchantCategory:     fraudMerchants[rng.IntN(len(fraudMerchants))],
				PaymentMethod:        paymentMethods[int(payment.Rand())],
				CustomerAge:          int(math.Round(age.Rand())),
				TransactionFrequency: int(freq.Rand()) + 1,
				LocationRiskScore:    risk.Rand(),
			},
			IsFraud: true,
		})
	}
	return samples
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
