package anyars

import (
	anyrlcontrib "github.com/unixpickle/anyrl-contrib"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// AlgorithmName identifies ARS checkpoints.
const AlgorithmName = "ARS"

type config struct {
	ObsSize         int     `json:"obs_size"`
	Hidden          []int   `json:"hidden"`
	ActionSize      int     `json:"action_size"`
	NumDelta        int     `json:"num_delta"`
	NumTopDelta     int     `json:"num_top_delta"`
	DeltaStd        float64 `json:"delta_std"`
	StepSize        float64 `json:"step_size"`
	MaxEpisodeSteps int     `json:"max_episode_steps"`
	Verbose         int     `json:"verbose"`
}

// Save writes a checkpoint of the model.
func (a *ARS) Save(path string, opts *anyrlcontrib.SaveOptions) (err error) {
	defer essentials.AddCtxTo("save ARS", &err)
	conf, err := anyrlcontrib.EncodeConfig(&config{
		ObsSize:         a.Policy.ObsSize,
		Hidden:          a.Policy.Hidden,
		ActionSize:      a.Policy.ActionSize,
		NumDelta:        a.NumDelta,
		NumTopDelta:     a.NumTopDelta,
		DeltaStd:        a.DeltaStd,
		StepSize:        a.StepSize,
		MaxEpisodeSteps: a.MaxEpisodeSteps,
		Verbose:         a.Verbose,
	}, opts)
	if err != nil {
		return err
	}
	return anyrlcontrib.WriteCheckpoint(path, &anyrlcontrib.Checkpoint{
		Algorithm: AlgorithmName,
		Config:    conf,
		Params:    anyrlcontrib.GetParameters(a),
	})
}

// Load reads a checkpoint saved with Save, rebuilding the
// model with vectors backed by the creator c.
func Load(path string, c anyvec.Creator) (model *ARS, err error) {
	defer essentials.AddCtxTo("load ARS", &err)
	ckpt, err := anyrlcontrib.ReadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	if err := ckpt.CheckAlgorithm(AlgorithmName); err != nil {
		return nil, err
	}
	conf := &config{}
	if err := ckpt.DecodeConfig(conf); err != nil {
		return nil, err
	}
	model = &ARS{
		Policy:          NewPolicy(c, conf.ObsSize, conf.Hidden, conf.ActionSize),
		NumDelta:        conf.NumDelta,
		NumTopDelta:     conf.NumTopDelta,
		DeltaStd:        conf.DeltaStd,
		StepSize:        conf.StepSize,
		MaxEpisodeSteps: conf.MaxEpisodeSteps,
		Verbose:         conf.Verbose,
	}
	if err := anyrlcontrib.SetParameters(model, ckpt.Params, true); err != nil {
		return nil, err
	}
	return model, nil
}
