package anyrlcontrib

import (
	"errors"

	"github.com/unixpickle/anyrl"
)

// TimeFeatureEnv wraps an Env and appends a time feature
// to every observation.
//
// The feature starts at 1 when an episode begins and
// decreases linearly to 0 as the episode approaches
// MaxSteps, i.e. it is 1 - t/T after t steps.
// This gives feedforward policies a sense of time in
// time-limited environments.
//
// See https://arxiv.org/abs/1712.00378.
type TimeFeatureEnv struct {
	anyrl.Env

	// MaxSteps is the episode time limit T.
	MaxSteps int

	// TestMode, if true, freezes the feature at 1 so
	// that a trained agent behaves as if every step
	// were the first one.
	TestMode bool

	steps int
}

// Reset resets the environment and zeroes the step
// counter.
func (t *TimeFeatureEnv) Reset() ([]float64, error) {
	if t.MaxSteps <= 0 {
		return nil, errors.New("reset time feature env: MaxSteps not set")
	}
	t.steps = 0
	obs, err := t.Env.Reset()
	if err != nil {
		return nil, err
	}
	return append(obs, 1), nil
}

// Step takes a step in the environment.
func (t *TimeFeatureEnv) Step(action []float64) ([]float64, float64, bool, error) {
	obs, reward, done, err := t.Env.Step(action)
	if err != nil {
		return nil, 0, false, err
	}
	t.steps++
	feature := 1 - float64(t.steps)/float64(t.MaxSteps)
	if feature < 0 {
		feature = 0
	}
	if t.TestMode {
		feature = 1
	}
	return append(obs, feature), reward, done, nil
}
