package privacy

import (
	crand "crypto/rand"
	"encoding/binary"
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/inferloop/mwem/pkg/errors"
)

// NoiseSource draws independent noise for privacy mechanisms.
type NoiseSource interface {
	// Laplace returns a zero-centred Laplace draw with scale sensitivity/epsilon.
	Laplace(sensitivity, epsilon float64) (float64, error)

	// Gaussian returns a zero-centred Gaussian draw calibrated for
	// (epsilon, delta)-differential privacy.
	Gaussian(sensitivity, epsilon, delta float64) (float64, error)
}

// Forker is implemented by noise sources that can derive an independent child
// stream, e.g. one per request or per worker.
type Forker interface {
	Fork() NoiseSource
}

// SeededNoise is a NoiseSource backed by a single pseudo-random stream. Draws are
// serialised, so one SeededNoise may be shared between goroutines; with a fixed seed
// and a fixed draw order the output sequence is reproducible.
type SeededNoise struct {
	mu  sync.Mutex
	src rand.Source
}

// NewSeededNoise creates a reproducible noise source.
func NewSeededNoise(seed uint64) *SeededNoise {
	return &SeededNoise{src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
}

// NewNoise creates a noise source keyed from the operating system's CSPRNG.
func NewNoise() (*SeededNoise, error) {
	var key [32]byte
	if _, err := crand.Read(key[:]); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "Failed to seed noise source")
	}
	return &SeededNoise{src: rand.NewChaCha8(key)}, nil
}

// Laplace implements NoiseSource.
func (n *SeededNoise) Laplace(sensitivity, epsilon float64) (float64, error) {
	if err := ValidateLaplace(sensitivity, epsilon); err != nil {
		return 0, err
	}
	if sensitivity == 0 {
		return 0, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	return distuv.Laplace{Mu: 0, Scale: sensitivity / epsilon, Src: n.src}.Rand(), nil
}

// Gaussian implements NoiseSource.
func (n *SeededNoise) Gaussian(sensitivity, epsilon, delta float64) (float64, error) {
	sigma, err := GaussianSigma(sensitivity, epsilon, delta)
	if err != nil {
		return 0, err
	}
	if sigma == 0 {
		return 0, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	return distuv.Normal{Mu: 0, Sigma: sigma, Src: n.src}.Rand(), nil
}

// Fork derives a child stream seeded from the next two words of this stream.
func (n *SeededNoise) Fork() NoiseSource {
	n.mu.Lock()
	defer n.mu.Unlock()

	var key [32]byte
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(key[i*8:], n.src.Uint64())
	}
	return &SeededNoise{src: rand.NewChaCha8(key)}
}

// ZeroNoise validates its arguments like a real source but always returns 0.
// It turns every mechanism into its deterministic counterpart and must only be
// used in tests and dry runs.
type ZeroNoise struct{}

// Laplace implements NoiseSource.
func (ZeroNoise) Laplace(sensitivity, epsilon float64) (float64, error) {
	return 0, ValidateLaplace(sensitivity, epsilon)
}

// Gaussian implements NoiseSource.
func (ZeroNoise) Gaussian(sensitivity, epsilon, delta float64) (float64, error) {
	_, err := GaussianSigma(sensitivity, epsilon, delta)
	return 0, err
}

// LaplaceScale returns the Laplace scale b = sensitivity / epsilon.
func LaplaceScale(sensitivity, epsilon float64) (float64, error) {
	if err := ValidateLaplace(sensitivity, epsilon); err != nil {
		return 0, err
	}
	return sensitivity / epsilon, nil
}

// GaussianSigma returns the classic Gaussian mechanism standard deviation
// sensitivity * sqrt(2 ln(1.25/delta)) / epsilon.
func GaussianSigma(sensitivity, epsilon, delta float64) (float64, error) {
	if err := ValidateLaplace(sensitivity, epsilon); err != nil {
		return 0, err
	}
	if math.IsNaN(delta) || delta <= 0 || delta >= 1 {
		return 0, errors.InvalidBudget("delta must be in (0, 1), got %v", delta)
	}
	return sensitivity * math.Sqrt(2*math.Log(1.25/delta)) / epsilon, nil
}

// ValidateLaplace checks the parameters shared by all pure-DP mechanisms.
func ValidateLaplace(sensitivity, epsilon float64) error {
	if math.IsNaN(epsilon) || math.IsInf(epsilon, 0) || epsilon <= 0 {
		return errors.InvalidBudget("epsilon must be positive and finite, got %v", epsilon)
	}
	if math.IsNaN(sensitivity) || math.IsInf(sensitivity, 0) || sensitivity < 0 {
		return errors.InvalidBudget("sensitivity must be non-negative and finite, got %v", sensitivity)
	}
	return nil
}
