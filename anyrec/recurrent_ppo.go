package anyrec

import (
	"log"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyrl"
	"github.com/unixpickle/anyrl/anypg"
	anyrlcontrib "github.com/unixpickle/anyrl-contrib"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/lazyseq"
)

// Default hyperparameters for RecurrentPPO.
const (
	DefaultDiscount = 0.99
	DefaultLambda   = 0.95
	DefaultEpochs   = 10
	DefaultStepSize = 0.0003
)

// RecurrentPPO trains a RecurrentPolicy with proximal
// policy optimization, propagating gradients through the
// hidden state of entire episodes.
type RecurrentPPO struct {
	Policy      *RecurrentPolicy
	ActionSpace anyrl.ActionSpace

	// Discount is the reward discount factor.
	// If 0, DefaultDiscount is used.
	Discount float64

	// Lambda is the GAE coefficient.
	// If 0, DefaultLambda is used.
	Lambda float64

	// Epsilon is the PPO clipping range.
	// If 0, the anypg default is used.
	Epsilon float64

	// CriticWeight scales the critic loss.
	// If 0, a weight of 1 is used.
	CriticWeight float64

	// EntCoef scales an entropy bonus.
	// It only applies when the action space implements
	// anyrl.Entropyer.
	EntCoef float64

	// Epochs is the number of gradient steps taken on each
	// batch of rollouts.
	// If 0, DefaultEpochs is used.
	Epochs int

	// StepSize is the Adam step size.
	// If 0, DefaultStepSize is used.
	StepSize float64

	// Verbose enables progress output when non-zero.
	Verbose int

	// LogIteration, if non-nil, is called after each batch
	// of rollouts with the mean episode reward.
	LogIteration func(iteration int, meanReward float64)

	trans anysgd.Adam

	predictState anyrnn.State
}

// Learn runs training iterations.
//
// Each iteration gathers one episode per environment and
// performs Epochs gradient steps on the joined batch.
func (r *RecurrentPPO) Learn(envs []anyrl.Env, iterations int) (err error) {
	defer essentials.AddCtxTo("train recurrent PPO", &err)

	c := r.creator()
	roller := &anyrl.RNNRoller{
		Block:       r.Policy.ActorBlock(),
		ActionSpace: r.ActionSpace,
		Creator:     c,
	}
	ppo := &anypg.PPO{
		Params: r.Policy.Parameters(),
		Base: func(in lazyseq.Rereader) lazyseq.Rereader {
			return lazyseq.Lazify(anyrnn.Map(lazyseq.Unlazify(in), r.Policy.Base))
		},
		Actor: func(in lazyseq.Rereader) lazyseq.Rereader {
			return lazyseq.Map(in, r.Policy.Actor.Apply)
		},
		Critic: func(in lazyseq.Rereader) lazyseq.Rereader {
			return lazyseq.Map(in, r.Policy.Critic.Apply)
		},
		ActionSpace:  r.ActionSpace,
		CriticWeight: r.CriticWeight,
		Discount:     r.discount(),
		Lambda:       r.lambda(),
		Epsilon:      r.Epsilon,
	}
	if r.EntCoef != 0 {
		if entropyer, ok := r.ActionSpace.(anyrl.Entropyer); ok {
			ppo.Regularizer = &anypg.EntropyReg{
				Entropyer: entropyer,
				Coeff:     r.EntCoef,
			}
		}
	}

	for i := 0; i < iterations; i++ {
		rollouts, err := roller.Rollout(envs...)
		if err != nil {
			return err
		}
		mean := rollouts.Rewards.Mean()
		if r.Verbose > 0 {
			log.Printf("iteration %d: mean_reward=%f", i, mean)
		}
		if r.LogIteration != nil {
			r.LogIteration(i, mean)
		}
		for j := 0; j < r.epochs(); j++ {
			grad := ppo.Run(rollouts)
			g := r.trans.Transform(grad)
			g.Scale(c.MakeNumeric(r.stepSize()))
			g.AddToVars()
		}
	}
	return nil
}

// Predict maps an observation to an action, carrying the
// recurrent state across calls.
//
// Call ResetState at episode boundaries.
func (r *RecurrentPPO) Predict(obs []float64, deterministic bool) []float64 {
	c := r.creator()
	if r.predictState == nil {
		r.predictState = r.Policy.Base.Start(1)
	}
	in := c.MakeVectorData(c.MakeNumericList(obs))
	res := r.Policy.Base.Step(r.predictState, in)
	r.predictState = res.State()
	params := r.Policy.Actor.Apply(anydiff.NewConst(res.Output()), 1).Output()

	var action anyvec.Vector
	if deterministic {
		if moder, ok := r.ActionSpace.(anyrlcontrib.Moder); ok {
			action = moder.Mode(params, 1)
		}
	}
	if action == nil {
		action = r.ActionSpace.Sample(params, 1)
	}
	return c.Float64Slice(action.Data())
}

// ResetState clears the hidden state used by Predict.
func (r *RecurrentPPO) ResetState() {
	r.predictState = nil
}

// Parameters returns the trainable parameter objects.
func (r *RecurrentPPO) Parameters() map[string]*anyrlcontrib.StateDict {
	return map[string]*anyrlcontrib.StateDict{
		"policy": anyrlcontrib.VarsStateDict("policy", r.Policy.Parameters()),
	}
}

func (r *RecurrentPPO) creator() anyvec.Creator {
	return r.Policy.Parameters()[0].Vector.Creator()
}

func (r *RecurrentPPO) discount() float64 {
	if r.Discount == 0 {
		return DefaultDiscount
	}
	return r.Discount
}

func (r *RecurrentPPO) lambda() float64 {
	if r.Lambda == 0 {
		return DefaultLambda
	}
	return r.Lambda
}

func (r *RecurrentPPO) epochs() int {
	if r.Epochs == 0 {
		return DefaultEpochs
	}
	return r.Epochs
}

func (r *RecurrentPPO) stepSize() float64 {
	if r.StepSize == 0 {
		return DefaultStepSize
	}
	return r.StepSize
}
