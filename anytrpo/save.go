package anytrpo

import (
	"github.com/unixpickle/anyrl"
	anyrlcontrib "github.com/unixpickle/anyrl-contrib"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// AlgorithmName identifies TRPO checkpoints.
const AlgorithmName = "TRPO"

type config struct {
	ObsSize         int     `json:"obs_size"`
	PolicyHidden    []int   `json:"policy_hidden"`
	ParamSize       int     `json:"param_size"`
	ValueHidden     []int   `json:"value_hidden"`
	BatchSteps      int     `json:"batch_steps"`
	Discount        float64 `json:"discount"`
	Lambda          float64 `json:"lambda"`
	TargetKL        float64 `json:"target_kl"`
	LineSearchDecay float64 `json:"line_search_decay"`
	MaxLineSearch   int     `json:"max_line_search"`
	CGIters         int     `json:"cg_iters"`
	CGDamping       float64 `json:"cg_damping"`
	ValueStepSize   float64 `json:"value_step_size"`
	ValueEpochs     int     `json:"value_epochs"`
	Verbose         int     `json:"verbose"`
}

// Save writes a checkpoint of the model.
//
// The action space is not part of the checkpoint; Load
// takes it as an argument.
func (t *TRPO) Save(path string, opts *anyrlcontrib.SaveOptions) (err error) {
	defer essentials.AddCtxTo("save TRPO", &err)
	conf, err := anyrlcontrib.EncodeConfig(&config{
		ObsSize:         t.Policy.ObsSize,
		PolicyHidden:    t.Policy.Hidden,
		ParamSize:       t.Policy.ParamSize,
		ValueHidden:     t.ValueNet.Hidden,
		BatchSteps:      t.BatchSteps,
		Discount:        t.Discount,
		Lambda:          t.Lambda,
		TargetKL:        t.TargetKL,
		LineSearchDecay: t.LineSearchDecay,
		MaxLineSearch:   t.MaxLineSearch,
		CGIters:         t.CGIters,
		CGDamping:       t.CGDamping,
		ValueStepSize:   t.ValueStepSize,
		ValueEpochs:     t.ValueEpochs,
		Verbose:         t.Verbose,
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
func Load(path string, c anyvec.Creator, space anyrl.ActionSpace) (model *TRPO,
	err error) {
	defer essentials.AddCtxTo("load TRPO", &err)
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
	model = &TRPO{
		Policy:          NewPolicy(c, conf.ObsSize, conf.PolicyHidden, conf.ParamSize),
		ValueNet:        NewValueNet(c, conf.ObsSize, conf.ValueHidden),
		ActionSpace:     space,
		BatchSteps:      conf.BatchSteps,
		Discount:        conf.Discount,
		Lambda:          conf.Lambda,
		TargetKL:        conf.TargetKL,
		LineSearchDecay: conf.LineSearchDecay,
		MaxLineSearch:   conf.MaxLineSearch,
		CGIters:         conf.CGIters,
		CGDamping:       conf.CGDamping,
		ValueStepSize:   conf.ValueStepSize,
		ValueEpochs:     conf.ValueEpochs,
		Verbose:         conf.Verbose,
	}
	if err := anyrlcontrib.SetParameters(model, ckpt.Params, true); err != nil {
		return nil, err
	}
	return model, nil
}
