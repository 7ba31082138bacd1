// Package validate implements the embedding validator (C6) from spec.md
// §4.6. It is a direct extension of original_source/src/embedding_validation.rs:
// the base shape/finiteness/magnitude/zero-ratio/variance checks are ported
// as-is, and spec.md additionally requires a dimension *range* (min_dim,
// max_dim) rather than a single expected dimension, a check_finite toggle,
// and a non-failing max_duplicate_ratio check that is logged but never
// fails validation.
package validate

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/iskng/embed-star/internal/embederr"
)

// Config holds the validator thresholds named in spec.md §4.6.
type Config struct {
	MinDim           int
	MaxDim           int
	MaxZeroRatio     float64
	MinMagnitude     float64
	MaxMagnitude     float64
	CheckFinite      bool
	MaxDuplicateRatio float64 // 0 disables the (log-only) duplicate check
}

// DefaultConfig mirrors EmbeddingValidator::default() in
// original_source/src/embedding_validation.rs, generalized to a
// zero-width dimension range (min=max=0 means "no dimension check").
func DefaultConfig() Config {
	return Config{
		MinDim:       0,
		MaxDim:       0,
		MaxZeroRatio: 0.5,
		MinMagnitude: 0.1,
		MaxMagnitude: 10.0,
		CheckFinite:  true,
	}
}

// TogetherE5Preset mirrors together_e5_validator() in the original source:
// the Together AI multilingual-e5-large-instruct model emits normalized
// 1024-dim vectors.
func TogetherE5Preset() Config {
	cfg := DefaultConfig()
	cfg.MinDim = 1024
	cfg.MaxDim = 1024
	cfg.MinMagnitude = 0.5
	cfg.MaxMagnitude = 2.0
	return cfg
}

const varianceFloor = 1e-6

// Validator checks embedding vectors against a fixed Config.
type Validator struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs a Validator. logger may be nil.
func New(cfg Config, logger *slog.Logger) *Validator {
	return &Validator{cfg: cfg, logger: logger}
}

// Validate checks v against the configured thresholds, returning a tagged
// *embederr.Error on the first failing check, in the order given in
// spec.md §4.6. context is a label (e.g. the record's full_name) used only
// for error messages and logging.
func (vd *Validator) Validate(v []float32, context string) error {
	if len(v) == 0 {
		return embederr.New(embederr.Validation, "validate", nil, fmt.Sprintf("%s: embedding is empty", context))
	}

	if vd.cfg.MinDim > 0 || vd.cfg.MaxDim > 0 {
		if len(v) < vd.cfg.MinDim || (vd.cfg.MaxDim > 0 && len(v) > vd.cfg.MaxDim) {
			return embederr.New(embederr.InvalidDimension, "validate", nil,
				fmt.Sprintf("%s: dimension %d outside expected range [%d, %d]", context, len(v), vd.cfg.MinDim, vd.cfg.MaxDim))
		}
	}

	if vd.cfg.CheckFinite {
		nonFinite := 0
		firstBad := -1
		for i, x := range v {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				nonFinite++
				if firstBad < 0 {
					firstBad = i
				}
			}
		}
		if nonFinite > 0 {
			return embederr.New(embederr.Validation, "validate", nil,
				fmt.Sprintf("%s: %d non-finite values, first at index %d", context, nonFinite, firstBad))
		}
	}

	zeros := 0
	for _, x := range v {
		if x == 0 {
			zeros++
		}
	}
	zeroRatio := float64(zeros) / float64(len(v))
	if zeroRatio > vd.cfg.MaxZeroRatio {
		return embederr.New(embederr.Validation, "validate", nil,
			fmt.Sprintf("%s: zero ratio %.1f%% exceeds max %.1f%%", context, zeroRatio*100, vd.cfg.MaxZeroRatio*100))
	}

	mag := magnitude(v)
	if mag < vd.cfg.MinMagnitude || mag > vd.cfg.MaxMagnitude {
		return embederr.New(embederr.Validation, "validate", nil,
			fmt.Sprintf("%s: magnitude %.4f outside range [%.4f, %.4f]", context, mag, vd.cfg.MinMagnitude, vd.cfg.MaxMagnitude))
	}

	if variance(v) < varianceFloor {
		return embederr.New(embederr.Validation, "validate", nil,
			fmt.Sprintf("%s: variance too low, all values nearly identical", context))
	}

	if vd.cfg.MaxDuplicateRatio > 0 {
		dr := duplicateRatio(v)
		if dr > vd.cfg.MaxDuplicateRatio && vd.logger != nil {
			vd.logger.Warn("validate: duplicate ratio exceeds threshold (non-failing)",
				"context", context, "duplicate_ratio", dr, "max", vd.cfg.MaxDuplicateRatio)
		}
	}

	return nil
}

// Normalize scales v in place to unit L2 magnitude. Fails if the current
// magnitude is below MinMagnitude (spec.md §4.6 auxiliary operations).
func (vd *Validator) Normalize(v []float32) error {
	mag := magnitude(v)
	if mag < vd.cfg.MinMagnitude {
		return embederr.New(embederr.Validation, "normalize", nil, "magnitude below minimum, refusing to normalize")
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / mag)
	}
	return nil
}

// Cosine computes cosine similarity between a and b. Defined only when
// dimensions agree and both magnitudes are at least MinMagnitude.
func (vd *Validator) Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, embederr.New(embederr.Validation, "cosine", nil, "dimension mismatch")
	}
	ma, mb := magnitude(a), magnitude(b)
	if ma < vd.cfg.MinMagnitude || mb < vd.cfg.MinMagnitude {
		return 0, embederr.New(embederr.Validation, "cosine", nil, "magnitude below minimum")
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (ma * mb), nil
}

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func variance(v []float32) float64 {
	var mean float64
	for _, x := range v {
		mean += float64(x)
	}
	mean /= float64(len(v))
	var sum float64
	for _, x := range v {
		d := float64(x) - mean
		sum += d * d
	}
	return sum / float64(len(v))
}

func duplicateRatio(v []float32) float64 {
	counts := make(map[float32]int, len(v))
	for _, x := range v {
		counts[x]++
	}
	dupes := 0
	for _, c := range counts {
		if c > 1 {
			dupes += c
		}
	}
	return float64(dupes) / float64(len(v))
}
