// Package anytqc implements Truncated Quantile Critics,
// an off-policy actor-critic algorithm for continuous
// control which fights overestimation by dropping the
// highest return quantiles from the target distribution.
//
// See https://arxiv.org/abs/2005.04269.
package anytqc

import (
	"log"
	"math"
	"math/rand"
	"sort"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyrl"
	anyrlcontrib "github.com/unixpickle/anyrl-contrib"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// Default hyperparameters for TQC.
const (
	DefaultDiscount         = 0.99
	DefaultTau              = 0.005
	DefaultBatchSize        = 256
	DefaultLearningStarts   = 100
	DefaultTrainInterval    = 1
	DefaultTopQuantilesDrop = 2
	DefaultStepSize         = 0.0003
	DefaultBufferSize       = 1000000
)

// TQC trains a squashed Gaussian actor against an ensemble
// of quantile critics.
type TQC struct {
	// Actor is the policy network.
	Actor *Actor

	// Critics is the online critic ensemble.
	Critics CriticEnsemble

	// TargetCritics is the target ensemble.
	// NewTQC initializes it to a copy of Critics.
	TargetCritics CriticEnsemble

	// Buffer stores past transitions.
	Buffer *anyrlcontrib.ReplayBuffer

	// Discount is the reward discount factor.
	// If 0, DefaultDiscount is used.
	Discount float64

	// Tau is the Polyak averaging rate for the target
	// ensemble.
	// If 0, DefaultTau is used.
	Tau float64

	// BatchSize is the number of transitions per
	// gradient step.
	// If 0, DefaultBatchSize is used.
	BatchSize int

	// LearningStarts is the number of transitions to
	// gather before the first gradient step.
	// If 0, DefaultLearningStarts is used.
	LearningStarts int

	// TrainInterval is the number of environment steps
	// between gradient steps.
	// If 0, DefaultTrainInterval is used.
	TrainInterval int

	// TopQuantilesDrop is the number of quantiles to drop
	// per critic when building the target distribution.
	// If 0, DefaultTopQuantilesDrop is used.
	// If negative, no quantiles are dropped.
	TopQuantilesDrop int

	// EntCoef is a fixed entropy coefficient.
	// If 0, the coefficient is learned via LogEntCoef.
	EntCoef float64

	// LogEntCoef is the log of the learned entropy
	// coefficient.
	// NewTQC initializes it to 0, i.e. a coefficient of 1.
	LogEntCoef *anydiff.Var

	// TargetEntropy is the entropy target for the learned
	// coefficient.
	// If 0, the negative action dimension is used.
	TargetEntropy float64

	// StepSize is the Adam step size.
	// If 0, DefaultStepSize is used.
	StepSize float64

	// Verbose controls whether episode rewards are
	// logged via the log package.
	Verbose int

	// Rand is used for action sampling and replay
	// sampling.
	// If nil, a source seeded from the global generator
	// is used.
	Rand *rand.Rand

	// LogEpisode, if non-nil, is called with the reward
	// of every finished episode.
	LogEpisode func(episode int, reward float64)

	actorTrans  *anysgd.Adam
	criticTrans *anysgd.Adam
	entTrans    *anysgd.Adam
	steps       int
}

// NewTQC creates a TQC for the given actor and critic
// ensemble, with target critics copied from the ensemble
// and a replay buffer of the given capacity.
func NewTQC(actor *Actor, critics CriticEnsemble, bufferSize int) *TQC {
	targets, err := critics.Copy()
	if err != nil {
		panic(err)
	}
	c := actor.Parameters()[0].Vector.Creator()
	return &TQC{
		Actor:         actor,
		Critics:       critics,
		TargetCritics: targets,
		Buffer:        anyrlcontrib.NewReplayBuffer(bufferSize, actor.ObsSize, actor.ActionSize),
		LogEntCoef:    anydiff.NewVar(c.MakeVector(1)),
	}
}

// Learn runs totalSteps environment steps, training the
// networks along the way.
func (t *TQC) Learn(env anyrl.Env, totalSteps int) (err error) {
	defer essentials.AddCtxTo("learn TQC", &err)

	gen := t.gen()
	obs, err := env.Reset()
	if err != nil {
		return err
	}

	var episodeReward float64
	var episode int
	for i := 0; i < totalSteps; i++ {
		t.steps++
		action := t.Predict(obs, false)
		nextObs, reward, done, err := env.Step(action)
		if err != nil {
			return err
		}
		t.Buffer.Append(obs, nextObs, action, reward, done, false)
		episodeReward += reward

		if done {
			if t.LogEpisode != nil {
				t.LogEpisode(episode, episodeReward)
			} else if t.Verbose > 0 {
				log.Printf("TQC: episode %d: reward=%f", episode, episodeReward)
			}
			episode++
			episodeReward = 0
			obs, err = env.Reset()
			if err != nil {
				return err
			}
		} else {
			obs = nextObs
		}

		if t.Buffer.Len() >= t.learningStarts() && t.steps%t.trainInterval() == 0 {
			batch, err := t.Buffer.Sample(gen, t.batchSize())
			if err != nil {
				return err
			}
			t.TrainStep(batch)
		}
	}
	return nil
}

// TrainStep performs one gradient step on every network
// and returns the critic loss.
func (t *TQC) TrainStep(batch *anyrlcontrib.Transitions) anyvec.Numeric {
	c := t.creator()
	gen := t.gen()
	n := batch.N
	numQ := t.Critics[0].NumQuantiles
	alpha := t.entCoefValue()

	targetRows := t.targetDistribution(c, gen, batch, alpha)

	// Critic step.
	obsActions := make([]float64, 0, n*(t.Actor.ObsSize+t.Actor.ActionSize))
	for i := 0; i < n; i++ {
		obsActions = append(obsActions, batch.Obs[i*t.Actor.ObsSize:(i+1)*t.Actor.ObsSize]...)
		obsActions = append(obsActions, batch.Actions[i*t.Actor.ActionSize:(i+1)*t.Actor.ActionSize]...)
	}
	obsActConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(obsActions)))
	var criticLoss anydiff.Res
	for _, critic := range t.Critics {
		loss := anyrlcontrib.QuantileHuberLoss(critic.Apply(obsActConst, n),
			targetRows, numQ)
		if criticLoss == nil {
			criticLoss = loss
		} else {
			criticLoss = anydiff.Add(criticLoss, loss)
		}
	}
	t.step(criticLoss, anydiff.NewGrad(t.Critics.Parameters()...), &t.criticTrans)

	// Actor step.
	obsConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(batch.Obs)))
	pr := t.Actor.SampleActions(obsConst, n, gen)
	joint := t.jointInput(c, batch.Obs, pr.Actions, n)
	var qSum anydiff.Res
	for _, critic := range t.Critics {
		out := anydiff.Sum(critic.Apply(joint, n))
		if qSum == nil {
			qSum = out
		} else {
			qSum = anydiff.Add(qSum, out)
		}
	}
	meanQ := anydiff.Scale(qSum, c.MakeNumeric(1/float64(n*len(t.Critics)*numQ)))
	entTerm := anydiff.Scale(anydiff.Sum(pr.LogProbs), c.MakeNumeric(alpha/float64(n)))
	actorLoss := anydiff.Sub(entTerm, meanQ)
	t.step(actorLoss, anydiff.NewGrad(t.Actor.Parameters()...), &t.actorTrans)

	// Entropy coefficient step.
	if t.EntCoef == 0 {
		var meanLogProb float64
		for _, x := range c.Float64Slice(pr.LogProbs.Output().Data()) {
			meanLogProb += x / float64(n)
		}
		entLoss := anydiff.Scale(t.LogEntCoef,
			c.MakeNumeric(-(meanLogProb + t.targetEntropy())))
		t.step(entLoss, anydiff.NewGrad(t.LogEntCoef), &t.entTrans)
	}

	t.updateTargets()
	return anyvec.Sum(criticLoss.Output())
}

// Predict produces an action for an observation.
//
// If deterministic is true, the action is the squashed
// mean of the policy distribution.
func (t *TQC) Predict(obs []float64, deterministic bool) []float64 {
	return t.Actor.Predict(t.creator(), obs, t.gen(), deterministic)
}

// Parameters returns the named parameter objects.
func (t *TQC) Parameters() map[string]*anyrlcontrib.StateDict {
	return map[string]*anyrlcontrib.StateDict{
		"actor":         anyrlcontrib.VarsStateDict("actor", t.Actor.Parameters()),
		"critic":        anyrlcontrib.VarsStateDict("critic", t.Critics.Parameters()),
		"critic_target": anyrlcontrib.VarsStateDict("critic_target", t.TargetCritics.Parameters()),
		"log_ent_coef":  anyrlcontrib.VarsStateDict("log_ent_coef", []*anydiff.Var{t.LogEntCoef}),
	}
}

// targetDistribution builds, for every transition, the
// truncated mixture of target quantiles shifted by the
// reward and the entropy bonus.
func (t *TQC) targetDistribution(c anyvec.Creator, gen *rand.Rand,
	batch *anyrlcontrib.Transitions, alpha float64) [][]float64 {
	n := batch.N
	numQ := t.TargetCritics[0].NumQuantiles

	nextObsConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(batch.NextObs)))
	pr := t.Actor.SampleActions(nextObsConst, n, gen)
	nextActions := c.Float64Slice(pr.Actions.Output().Data())
	nextLogProbs := c.Float64Slice(pr.LogProbs.Output().Data())

	nextInputs := make([]float64, 0, n*(t.Actor.ObsSize+t.Actor.ActionSize))
	for i := 0; i < n; i++ {
		nextInputs = append(nextInputs,
			batch.NextObs[i*t.Actor.ObsSize:(i+1)*t.Actor.ObsSize]...)
		nextInputs = append(nextInputs,
			nextActions[i*t.Actor.ActionSize:(i+1)*t.Actor.ActionSize]...)
	}
	nextConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(nextInputs)))

	pooled := make([][]float64, n)
	for _, critic := range t.TargetCritics {
		out := c.Float64Slice(critic.Apply(nextConst, n).Output().Data())
		for i := 0; i < n; i++ {
			pooled[i] = append(pooled[i], out[i*numQ:(i+1)*numQ]...)
		}
	}

	kept := len(t.TargetCritics) * (numQ - t.topQuantilesDrop())
	if kept < 1 {
		kept = 1
	}
	res := make([][]float64, n)
	for i := 0; i < n; i++ {
		sort.Float64s(pooled[i])
		row := make([]float64, kept)
		for j := 0; j < kept; j++ {
			row[j] = batch.Rewards[i]
			if !batch.Dones[i] {
				row[j] += t.discount() * (pooled[i][j] - alpha*nextLogProbs[i])
			}
		}
		res[i] = row
	}
	return res
}

// jointInput interleaves constant observations with
// differentiable actions to form critic input rows.
func (t *TQC) jointInput(c anyvec.Creator, obs []float64, actions anydiff.Res,
	batch int) anydiff.Res {
	k := t.Actor.ActionSize
	return anydiff.Pool(actions, func(actions anydiff.Res) anydiff.Res {
		var parts []anydiff.Res
		for i := 0; i < batch; i++ {
			obsRow := obs[i*t.Actor.ObsSize : (i+1)*t.Actor.ObsSize]
			parts = append(parts,
				anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(obsRow))),
				anydiff.Slice(actions, i*k, (i+1)*k))
		}
		return anydiff.Concat(parts...)
	})
}

func (t *TQC) step(loss anydiff.Res, grad anydiff.Grad, trans **anysgd.Adam) {
	c := loss.Output().Creator()
	one := c.MakeVector(1)
	one.AddScalar(c.MakeNumeric(1.0))
	loss.Propagate(one, grad)
	if *trans == nil {
		*trans = &anysgd.Adam{}
	}
	step := (*trans).Transform(grad)
	step.Scale(c.MakeNumeric(-t.stepSize()))
	step.AddToVars()
}

func (t *TQC) updateTargets() {
	tau := t.tau()
	c := t.creator()
	online := t.Critics.Parameters()
	targets := t.TargetCritics.Parameters()
	for i, p := range online {
		tv := targets[i].Vector
		tv.Scale(c.MakeNumeric(1 - tau))
		scaled := p.Vector.Copy()
		scaled.Scale(c.MakeNumeric(tau))
		tv.Add(scaled)
	}
}

func (t *TQC) entCoefValue() float64 {
	if t.EntCoef != 0 {
		return t.EntCoef
	}
	c := t.creator()
	return math.Exp(c.Float64Slice(t.LogEntCoef.Vector.Data())[0])
}

func (t *TQC) creator() anyvec.Creator {
	return t.Actor.Parameters()[0].Vector.Creator()
}

func (t *TQC) gen() *rand.Rand {
	if t.Rand == nil {
		t.Rand = rand.New(rand.NewSource(rand.Int63()))
	}
	return t.Rand
}

func (t *TQC) discount() float64 {
	if t.Discount == 0 {
		return DefaultDiscount
	}
	return t.Discount
}

func (t *TQC) tau() float64 {
	if t.Tau == 0 {
		return DefaultTau
	}
	return t.Tau
}

func (t *TQC) batchSize() int {
	if t.BatchSize == 0 {
		return DefaultBatchSize
	}
	return t.BatchSize
}

func (t *TQC) learningStarts() int {
	if t.LearningStarts == 0 {
		return DefaultLearningStarts
	}
	return t.LearningStarts
}

func (t *TQC) trainInterval() int {
	if t.TrainInterval == 0 {
		return DefaultTrainInterval
	}
	return t.TrainInterval
}

func (t *TQC) topQuantilesDrop() int {
	if t.TopQuantilesDrop == 0 {
		return DefaultTopQuantilesDrop
	} else if t.TopQuantilesDrop < 0 {
		return 0
	}
	return t.TopQuantilesDrop
}

func (t *TQC) targetEntropy() float64 {
	if t.TargetEntropy == 0 {
		return -float64(t.Actor.ActionSize)
	}
	return t.TargetEntropy
}

func (t *TQC) stepSize() float64 {
	if t.StepSize == 0 {
		return DefaultStepSize
	}
	return t.StepSize
}
