package calibration

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidCategory  = errors.New("invalid category")
	ErrInvalidOutcome   = errors.New("invalid outcome")
	ErrLengthMismatch   = errors.New("length mismatch")
	ErrInsufficientData = errors.New("insufficient data")
)

// worstThreshold splits the representative estimates into the two halves of
// the worst-case reference curve.
const worstThreshold = 0.75

// Config holds the number of confidence levels a subject chooses from.
type Config struct {
	Levels int
}

// Bins is the per-category aggregate of a set of trials. Entry i describes
// confidence category i+1.
type Bins struct {
	Estimates  []float64 `json:"estimates"`
	Accuracies []float64 `json:"accuracies"`
	Counts     []int     `json:"counts"`
}

// Scorer converts confidence estimates and outcomes into a calibration score.
// A Scorer is immutable and safe for concurrent use.
type Scorer struct {
	levels    int
	midpoints []float64
	baseline  float64
}

// New builds a Scorer for cfg.Levels confidence categories.
func New(cfg Config) (*Scorer, error) {
	if cfg.Levels < 1 {
		return nil, fmt.Errorf("calibration needs at least one level, got %d", cfg.Levels)
	}
	mid := Midpoints(cfg.Levels)
	baseline, err := Statistic(mid, WorstCurve(mid), uniform(cfg.Levels))
	if err != nil {
		return nil, fmt.Errorf("baseline statistic: %w", err)
	}
	return &Scorer{levels: cfg.Levels, midpoints: mid, baseline: baseline}, nil
}

// Levels returns the number of confidence categories.
func (s *Scorer) Levels() int {
	return s.levels
}

// Baseline returns the worst-case statistic scores are normalised against.
func (s *Scorer) Baseline() float64 {
	return s.baseline
}

// Score bins the trials and converts the resulting calibration statistic
// into a score. The result is at most 1 and has no lower bound.
func (s *Scorer) Score(estimates, outcomes []int) (float64, error) {
	bins, err := s.Bin(estimates, outcomes)
	if err != nil {
		return 0, err
	}
	return s.Convert(bins)
}

// Bin groups trials by confidence category. Estimates are 1-based categories
// in 1..Levels; outcomes are 0 or 1. Empty categories get accuracy 0.
func (s *Scorer) Bin(estimates, outcomes []int) (Bins, error) {
	if len(estimates) != len(outcomes) {
		return Bins{}, fmt.Errorf("%w: %d estimates, %d outcomes", ErrLengthMismatch, len(estimates), len(outcomes))
	}

	counts := make([]int, s.levels)
	correct := make([]int, s.levels)
	for i, est := range estimates {
		if est < 1 || est > s.levels {
			return Bins{}, fmt.Errorf("%w: trial %d has category %d, want 1..%d", ErrInvalidCategory, i, est, s.levels)
		}
		out := outcomes[i]
		if out != 0 && out != 1 {
			return Bins{}, fmt.Errorf("%w: trial %d has outcome %d, want 0 or 1", ErrInvalidOutcome, i, out)
		}
		counts[est-1]++
		correct[est-1] += out
	}

	acc := make([]float64, s.levels)
	for i := range acc {
		if counts[i] == 0 {
			continue
		}
		acc[i] = float64(correct[i]) / float64(counts[i])
	}

	est := make([]float64, s.levels)
	copy(est, s.midpoints)
	return Bins{Estimates: est, Accuracies: acc, Counts: counts}, nil
}

// Convert normalises the count-weighted statistic of bins against the
// worst-case baseline: 1 - actual/baseline, capped at 1.
func (s *Scorer) Convert(b Bins) (float64, error) {
	if len(b.Counts) != s.levels {
		return 0, fmt.Errorf("%w: %d bins for %d levels", ErrLengthMismatch, len(b.Counts), s.levels)
	}
	weights := make([]float64, len(b.Counts))
	for i, c := range b.Counts {
		weights[i] = float64(c)
	}
	actual, err := Statistic(b.Estimates, b.Accuracies, weights)
	if err != nil {
		return 0, err
	}
	return math.Min(1-actual/s.baseline, 1), nil
}

// Statistic is the weighted mean squared difference between estimates and
// reference: sum(w*(e-r)^2) / sum(w).
func Statistic(estimates, reference, weights []float64) (float64, error) {
	if len(estimates) != len(reference) || len(estimates) != len(weights) {
		return 0, fmt.Errorf("%w: %d estimates, %d reference, %d weights",
			ErrLengthMismatch, len(estimates), len(reference), len(weights))
	}
	var sum, total float64
	for i := range estimates {
		d := estimates[i] - reference[i]
		sum += weights[i] * d * d
		total += weights[i]
	}
	if total == 0 {
		return 0, fmt.Errorf("%w: no weighted trials", ErrInsufficientData)
	}
	return sum / total, nil
}

// WorstCurve maps each representative estimate to the accuracy of a
// maximally miscalibrated subject: 1 below 0.75, 0.5 at or above it.
func WorstCurve(estimates []float64) []float64 {
	worst := make([]float64, len(estimates))
	for i, v := range estimates {
		var below float64
		if v < worstThreshold {
			below = 1
		}
		worst[i] = math.Min(below+0.5, 1)
	}
	return worst
}

// Midpoints returns the representative estimate of each of k equal-width
// bins covering [0.5, 1.0].
func Midpoints(k int) []float64 {
	if k < 1 {
		return nil
	}
	edges := linspace(0.5, 1, k+1)
	mid := make([]float64, k)
	for i := range mid {
		mid[i] = (edges[i] + edges[i+1]) / 2
	}
	return mid
}

func linspace(start, stop float64, num int) []float64 {
	step := (stop - start) / float64(num-1)
	out := make([]float64, num)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func uniform(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}
