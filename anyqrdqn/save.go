package anyqrdqn

import (
	anyrlcontrib "github.com/unixpickle/anyrl-contrib"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// AlgorithmName identifies QRDQN checkpoints.
const AlgorithmName = "QRDQN"

type config struct {
	ObsSize        int     `json:"obs_size"`
	Hidden         []int   `json:"hidden"`
	NumActions     int     `json:"num_actions"`
	NumQuantiles   int     `json:"num_quantiles"`
	BufferSize     int     `json:"buffer_size"`
	Discount       float64 `json:"discount"`
	BatchSize      int     `json:"batch_size"`
	LearningStarts int     `json:"learning_starts"`
	TargetSync     int     `json:"target_sync"`
	TrainInterval  int     `json:"train_interval"`
	ExploreFrac    float64 `json:"explore_fraction"`
	FinalEpsilon   float64 `json:"final_epsilon"`
	StepSize       float64 `json:"step_size"`
	Verbose        int     `json:"verbose"`
}

// Save writes a checkpoint of the model.
func (q *QRDQN) Save(path string, opts *anyrlcontrib.SaveOptions) (err error) {
	defer essentials.AddCtxTo("save QRDQN", &err)
	conf, err := anyrlcontrib.EncodeConfig(&config{
		ObsSize:        q.Net.ObsSize,
		Hidden:         q.Net.Hidden,
		NumActions:     q.Net.NumActions,
		NumQuantiles:   q.Net.NumQuantiles,
		BufferSize:     q.Buffer.Capacity,
		Discount:       q.Discount,
		BatchSize:      q.BatchSize,
		LearningStarts: q.LearningStarts,
		TargetSync:     q.TargetSync,
		TrainInterval:  q.TrainInterval,
		ExploreFrac:    q.ExploreFraction,
		FinalEpsilon:   q.FinalEpsilon,
		StepSize:       q.StepSize,
		Verbose:        q.Verbose,
	}, opts)
	if err != nil {
		return err
	}
	return anyrlcontrib.WriteCheckpoint(path, &anyrlcontrib.Checkpoint{
		Algorithm: AlgorithmName,
		Config:    conf,
		Params:    anyrlcontrib.GetParameters(q),
	})
}

// Load reads a checkpoint saved with Save, rebuilding the
// model with vectors backed by the creator c.
func Load(path string, c anyvec.Creator) (model *QRDQN, err error) {
	defer essentials.AddCtxTo("load QRDQN", &err)
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
	net := NewQuantileNet(c, conf.ObsSize, conf.Hidden, conf.NumActions,
		conf.NumQuantiles)
	if conf.BufferSize == 0 {
		conf.BufferSize = DefaultBufferSize
	}
	model = NewQRDQN(net, conf.BufferSize)
	model.Discount = conf.Discount
	model.BatchSize = conf.BatchSize
	model.LearningStarts = conf.LearningStarts
	model.TargetSync = conf.TargetSync
	model.TrainInterval = conf.TrainInterval
	model.ExploreFraction = conf.ExploreFrac
	model.FinalEpsilon = conf.FinalEpsilon
	model.StepSize = conf.StepSize
	model.Verbose = conf.Verbose
	if err := anyrlcontrib.SetParameters(model, ckpt.Params, true); err != nil {
		return nil, err
	}
	return model, nil
}
