package anyrec

import (
	"github.com/unixpickle/anyrl"
	anyrlcontrib "github.com/unixpickle/anyrl-contrib"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// AlgorithmName identifies RecurrentPPO checkpoints.
const AlgorithmName = "RecurrentPPO"

type config struct {
	Recurrence   string  `json:"recurrence"`
	ObsSize      int     `json:"obs_size"`
	HiddenSize   int     `json:"hidden_size"`
	ParamSize    int     `json:"param_size"`
	Discount     float64 `json:"discount"`
	Lambda       float64 `json:"lambda"`
	Epsilon      float64 `json:"epsilon"`
	CriticWeight float64 `json:"critic_weight"`
	EntCoef      float64 `json:"ent_coef"`
	Epochs       int     `json:"epochs"`
	StepSize     float64 `json:"step_size"`
	Verbose      int     `json:"verbose"`
}

// Save writes a checkpoint of the model.
//
// The action space is not part of the checkpoint; Load
// takes it as an argument.
func (r *RecurrentPPO) Save(path string, opts *anyrlcontrib.SaveOptions) (err error) {
	defer essentials.AddCtxTo("save recurrent PPO", &err)
	conf, err := anyrlcontrib.EncodeConfig(&config{
		Recurrence:   r.Policy.Recurrence,
		ObsSize:      r.Policy.ObsSize,
		HiddenSize:   r.Policy.HiddenSize,
		ParamSize:    r.Policy.ParamSize,
		Discount:     r.Discount,
		Lambda:       r.Lambda,
		Epsilon:      r.Epsilon,
		CriticWeight: r.CriticWeight,
		EntCoef:      r.EntCoef,
		Epochs:       r.Epochs,
		StepSize:     r.StepSize,
		Verbose:      r.Verbose,
	}, opts)
	if err != nil {
		return err
	}
	return anyrlcontrib.WriteCheckpoint(path, &anyrlcontrib.Checkpoint{
		Algorithm: AlgorithmName,
		Config:    conf,
		Params:    anyrlcontrib.GetParameters(r),
	})
}

// Load reads a checkpoint saved with Save, rebuilding the
// model with vectors backed by the creator c.
func Load(path string, c anyvec.Creator, space anyrl.ActionSpace) (model *RecurrentPPO,
	err error) {
	defer essentials.AddCtxTo("load recurrent PPO", &err)
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
	model = &RecurrentPPO{
		Policy: NewPolicy(c, conf.Recurrence, conf.ObsSize, conf.HiddenSize,
			conf.ParamSize),
		ActionSpace:  space,
		Discount:     conf.Discount,
		Lambda:       conf.Lambda,
		Epsilon:      conf.Epsilon,
		CriticWeight: conf.CriticWeight,
		EntCoef:      conf.EntCoef,
		Epochs:       conf.Epochs,
		StepSize:     conf.StepSize,
		Verbose:      conf.Verbose,
	}
	if err := anyrlcontrib.SetParameters(model, ckpt.Params, true); err != nil {
		return nil, err
	}
	return model, nil
}
