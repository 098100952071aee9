package anytqc

import (
	anyrlcontrib "github.com/unixpickle/anyrl-contrib"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// AlgorithmName identifies TQC checkpoints.
const AlgorithmName = "TQC"

type config struct {
	ObsSize          int     `json:"obs_size"`
	ActorHidden      []int   `json:"actor_hidden"`
	CriticHidden     []int   `json:"critic_hidden"`
	ActionSize       int     `json:"action_size"`
	NumCritics       int     `json:"num_critics"`
	NumQuantiles     int     `json:"num_quantiles"`
	TopQuantilesDrop int     `json:"top_quantiles_drop"`
	BufferSize       int     `json:"buffer_size"`
	Discount         float64 `json:"discount"`
	Tau              float64 `json:"tau"`
	BatchSize        int     `json:"batch_size"`
	LearningStarts   int     `json:"learning_starts"`
	TrainInterval    int     `json:"train_interval"`
	EntCoef          float64 `json:"ent_coef"`
	TargetEntropy    float64 `json:"target_entropy"`
	StepSize         float64 `json:"step_size"`
	Verbose          int     `json:"verbose"`
}

// Save writes a checkpoint of the model.
func (t *TQC) Save(path string, opts *anyrlcontrib.SaveOptions) (err error) {
	defer essentials.AddCtxTo("save TQC", &err)
	conf, err := anyrlcontrib.EncodeConfig(&config{
		ObsSize:          t.Actor.ObsSize,
		ActorHidden:      t.Actor.Hidden,
		CriticHidden:     t.Critics[0].Hidden,
		ActionSize:       t.Actor.ActionSize,
		NumCritics:       len(t.Critics),
		NumQuantiles:     t.Critics[0].NumQuantiles,
		TopQuantilesDrop: t.TopQuantilesDrop,
		BufferSize:       t.Buffer.Capacity,
		Discount:         t.Discount,
		Tau:              t.Tau,
		BatchSize:        t.BatchSize,
		LearningStarts:   t.LearningStarts,
		TrainInterval:    t.TrainInterval,
		EntCoef:          t.EntCoef,
		TargetEntropy:    t.TargetEntropy,
		StepSize:         t.StepSize,
		Verbose:          t.Verbose,
	}, opts)
	if err != nil {
		return err
	}
	return anyrlcontrib.WriteCheckpoint(path, &anyrlcontrib.Checkpoint{
		Algorithm: AlgorithmName,
		Config:    conf,
		Params:    anyrlcontrib.GetParameters(t),
	})
}

// Load reads a checkpoint saved with Save, rebuilding the
// model with vectors backed by the creator c.
func Load(path string, c anyvec.Creator) (model *TQC, err error) {
	defer essentials.AddCtxTo("load TQC", &err)
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
	actor := NewActor(c, conf.ObsSize, conf.ActorHidden, conf.ActionSize)
	critics := NewCriticEnsemble(c, conf.NumCritics, conf.ObsSize,
		conf.CriticHidden, conf.ActionSize, conf.NumQuantiles)
	if conf.BufferSize == 0 {
		conf.BufferSize = DefaultBufferSize
	}
	model = NewTQC(actor, critics, conf.BufferSize)
	model.TopQuantilesDrop = conf.TopQuantilesDrop
	model.Discount = conf.Discount
	model.Tau = conf.Tau
	model.BatchSize = conf.BatchSize
	model.LearningStarts = conf.LearningStarts
	model.TrainInterval = conf.TrainInterval
	model.EntCoef = conf.EntCoef
	model.TargetEntropy = conf.TargetEntropy
	model.StepSize = conf.StepSize
	model.Verbose = conf.Verbose
	if err := anyrlcontrib.SetParameters(model, ckpt.Params, true); err != nil {
		return nil, err
	}
	return model, nil
}
