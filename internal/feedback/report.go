// Package feedback turns a block of logged trials into the accuracy and
// calibration feedback shown to a subject between blocks.
package feedback

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/calibre/internal/calibration"
	"github.com/MikeSquared-Agency/calibre/internal/confidence"
)

const (
	TaskClassification = "classification"
	TaskConfidence     = "confidence"
)

var ErrNoTrials = errors.New("no classification trials")

// Trial is one row of the experiment log. Classification trials carry
// Correct; confidence trials carry the confidence key in Response.
type Trial struct {
	Task     string `json:"task"`
	Block    string `json:"block"`
	Response string `json:"response"`
	Correct  *bool  `json:"correct,omitempty"`
	RTMillis *int   `json:"rt,omitempty"`
}

// Report is the feedback for one block.
type Report struct {
	Block                string  `json:"block"`
	Trials               int     `json:"trials"`
	Accuracy             int     `json:"accuracy"`
	Calibration          int     `json:"calibration"`
	CalibrationAvailable bool    `json:"calibration_available"`
	Score                float64 `json:"score"`
	Joint                float64 `json:"joint"`
}

// Build computes the report for block from the full trial log. Confidence
// ratings pair with classification outcomes by order within the block.
func Build(trials []Trial, block string, set *confidence.Set, scorer *calibration.Scorer) (Report, error) {
	var outcomes, estimates []int
	for _, t := range trials {
		if t.Block != block {
			continue
		}
		switch t.Task {
		case TaskClassification:
			o := 0
			if t.Correct != nil && *t.Correct {
				o = 1
			}
			outcomes = append(outcomes, o)
		case TaskConfidence:
			cat, err := set.Category(t.Response)
			if err != nil {
				return Report{}, fmt.Errorf("confidence trial %d: %w", len(estimates), err)
			}
			estimates = append(estimates, cat)
		}
	}
	if len(outcomes) == 0 {
		return Report{}, fmt.Errorf("%w in block %q", ErrNoTrials, block)
	}

	correct := 0
	for _, o := range outcomes {
		correct += o
	}
	r := Report{
		Block:    block,
		Trials:   len(outcomes),
		Accuracy: Percent(float64(correct) / float64(len(outcomes))),
	}

	if len(estimates) == 0 {
		return r, nil
	}
	score, err := scorer.Score(estimates, outcomes)
	if errors.Is(err, calibration.ErrInsufficientData) {
		return r, nil
	}
	if err != nil {
		return Report{}, fmt.Errorf("score block %q: %w", block, err)
	}

	r.Score = score
	r.Calibration = Percent(score)
	r.CalibrationAvailable = true
	r.Joint = float64(r.Accuracy+r.Calibration) / 2
	return r, nil
}

// Message renders the report as the text shown to the subject.
func (r Report) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You responded correctly on %d%% of the samples.\n", r.Accuracy)
	if r.CalibrationAvailable {
		fmt.Fprintf(&b, "Your judgement calibration score was %d.\n", r.Calibration)
		fmt.Fprintf(&b, "The joint score was %s.\n", strconv.FormatFloat(r.Joint, 'f', -1, 64))
	} else {
		b.WriteString("Not enough confidence ratings were recorded to score your calibration.\n")
	}
	b.WriteString("Press any key to continue.")
	return b.String()
}

// Percent converts a fraction to a whole percentage.
func Percent(frac float64) int {
	return round(frac * 100)
}

// round rounds half toward positive infinity: round(-12.5) is -12.
func round(x float64) int {
	return int(math.Floor(x + 0.5))
}
