// Package anytrpo implements Trust Region Policy
// Optimization for feedforward policies, using conjugate
// gradients and a line search to bound the KL divergence
// of every update.
//
// See https://arxiv.org/abs/1502.05477.
package anytrpo

import (
	"log"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyrl"
	anyrlcontrib "github.com/unixpickle/anyrl-contrib"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"gonum.org/v1/gonum/stat"
)

// Default hyperparameters for TRPO.
const (
	DefaultBatchSteps      = 2048
	DefaultDiscount        = 0.99
	DefaultLambda          = 0.95
	DefaultTargetKL        = 0.01
	DefaultLineSearchDecay = 0.5
	DefaultMaxLineSearch   = 20
	DefaultCGIters         = 10
	DefaultCGDamping       = 0.1
	DefaultValueStepSize   = 0.001
	DefaultValueEpochs     = 5
)

// TRPO trains a policy with trust region updates and a
// separate value network fit by Adam.
type TRPO struct {
	// Policy is the policy being optimized.
	Policy *Policy

	// ValueNet is the value function used for advantage
	// estimation.
	ValueNet *ValueNet

	// ActionSpace determines how policy outputs are
	// sampled and compared.
	ActionSpace anyrl.ActionSpace

	// BatchSteps is the number of environment steps
	// gathered per update.
	// If 0, DefaultBatchSteps is used.
	BatchSteps int

	// Discount is the reward discount factor.
	// If 0, DefaultDiscount is used.
	Discount float64

	// Lambda is the GAE coefficient.
	// If 0, DefaultLambda is used.
	Lambda float64

	// TargetKL specifies the desired average KL
	// divergence after taking a step.
	// If 0, DefaultTargetKL is used.
	TargetKL float64

	// LineSearchDecay is an exponential decay factor used
	// to shrink the step until TargetKL is satisfied and
	// the surrogate objective has improved.
	// If 0, DefaultLineSearchDecay is used.
	LineSearchDecay float64

	// MaxLineSearch is the maximum number of line-search
	// iterations.
	// If 0, DefaultMaxLineSearch is used.
	MaxLineSearch int

	// CGIters is the number of Conjugate Gradients
	// iterations.
	// If 0, DefaultCGIters is used.
	CGIters int

	// CGDamping is added to the diagonal of the Fisher
	// matrix to keep the solve stable.
	// If 0, DefaultCGDamping is used.
	CGDamping float64

	// ValueStepSize is the Adam step size for the value
	// network.
	// If 0, DefaultValueStepSize is used.
	ValueStepSize float64

	// ValueEpochs is the number of value fitting passes
	// per update.
	// If 0, DefaultValueEpochs is used.
	ValueEpochs int

	// Verbose controls whether episode rewards are
	// logged via the log package.
	Verbose int

	// Rand is used for action sampling when the action
	// space implements anyrlcontrib.RandSampler; other
	// spaces draw from their own source.
	// If nil, a source seeded from the global generator
	// is used.
	Rand *rand.Rand

	// LogEpisode, if non-nil, is called with the reward
	// of every finished episode.
	LogEpisode func(episode int, reward float64)

	valueTrans *anysgd.Adam
	episode    int
}

type trajBatch struct {
	n          int
	obs        []float64
	actions    anyvec.Vector
	advantages []float64
	returns    []float64
}

// Learn gathers batches of experience and updates the
// networks until totalSteps environment steps have been
// taken.
func (t *TRPO) Learn(env anyrl.Env, totalSteps int) (err error) {
	defer essentials.AddCtxTo("learn TRPO", &err)
	for steps := 0; steps < totalSteps; {
		b, n, err := t.collect(env, t.batchSteps())
		if err != nil {
			return err
		}
		steps += n
		t.update(b)
	}
	return nil
}

// Predict produces an action for an observation.
//
// If deterministic is true and the action space supports
// modes, the most likely action is returned.
func (t *TRPO) Predict(obs []float64, deterministic bool) []float64 {
	c := t.creator()
	in := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(obs[:t.Policy.ObsSize])))
	params := t.Policy.Apply(in, 1).Output()
	if deterministic {
		if moder, ok := t.ActionSpace.(anyrlcontrib.Moder); ok {
			return c.Float64Slice(moder.Mode(params, 1).Data())
		}
	}
	return c.Float64Slice(t.sample(params, 1).Data())
}

// Parameters returns the named parameter objects.
func (t *TRPO) Parameters() map[string]*anyrlcontrib.StateDict {
	return map[string]*anyrlcontrib.StateDict{
		"policy":    anyrlcontrib.VarsStateDict("policy", t.Policy.Parameters()),
		"value_net": anyrlcontrib.VarsStateDict("value_net", t.ValueNet.Parameters()),
	}
}

// collect runs episodes until at least minSteps steps are
// gathered, then flattens them with GAE advantages.
func (t *TRPO) collect(env anyrl.Env, minSteps int) (*trajBatch, int, error) {
	c := t.creator()
	b := &trajBatch{}
	var actionVecs []anyvec.Vector
	var steps int
	for steps < minSteps {
		var epObs, epRewards []float64
		obs, err := env.Reset()
		if err != nil {
			return nil, 0, err
		}
		for {
			epObs = append(epObs, obs[:t.Policy.ObsSize]...)
			in := anydiff.NewConst(c.MakeVectorData(
				c.MakeNumericList(obs[:t.Policy.ObsSize])))
			params := t.Policy.Apply(in, 1).Output()
			action := t.sample(params, 1)
			actionVecs = append(actionVecs, action)

			obs1, reward, done, err := env.Step(c.Float64Slice(action.Data()))
			if err != nil {
				return nil, 0, err
			}
			epRewards = append(epRewards, reward)
			steps++
			if done {
				break
			}
			obs = obs1
		}

		var total float64
		for _, r := range epRewards {
			total += r
		}
		if t.LogEpisode != nil {
			t.LogEpisode(t.episode, total)
		} else if t.Verbose > 0 {
			log.Printf("TRPO: episode %d: reward=%f", t.episode, total)
		}
		t.episode++

		adv, ret := t.advantages(epObs, epRewards)
		b.obs = append(b.obs, epObs...)
		b.advantages = append(b.advantages, adv...)
		b.returns = append(b.returns, ret...)
	}

	b.n = len(b.advantages)
	b.actions = c.Concat(actionVecs...)
	normalize(b.advantages)
	return b, steps, nil
}

// advantages computes GAE advantages and value targets
// for one episode.
func (t *TRPO) advantages(obs, rewards []float64) (adv, ret []float64) {
	values := t.ValueNet.Values(t.creator(), obs)
	adv = make([]float64, len(rewards))
	ret = make([]float64, len(rewards))
	var accumulation float64
	for i := len(rewards) - 1; i >= 0; i-- {
		delta := rewards[i] - values[i]
		if i+1 < len(rewards) {
			delta += t.discount() * values[i+1]
		}
		accumulation *= t.discount() * t.lambda()
		accumulation += delta
		adv[i] = accumulation
		ret[i] = adv[i] + values[i]
	}
	return
}

// update takes one trust region policy step and refits the
// value network.
func (t *TRPO) update(b *trajBatch) {
	c := t.creator()
	obsConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(b.obs)))
	oldOuts := t.Policy.Apply(obsConst, b.n).Output().Copy()

	grad := t.policyGradient(b, obsConst)
	t.conjugateGradients(b.obs, b.n, oldOuts, grad)

	dotProd := dotGrad(grad, t.applyFisher(b.obs, b.n, oldOuts, grad))
	stepVec := c.MakeVector(1)
	stepVec.AddScalar(dotProd)
	anyvec.Pow(stepVec, c.MakeNumeric(-1))
	stepVec.Scale(c.MakeNumeric(2 * t.targetKL()))
	anyvec.Pow(stepVec, c.MakeNumeric(0.5))
	grad.Scale(anyvec.Sum(stepVec))

	for i := 0; i < t.maxLineSearch(); i++ {
		if t.acceptable(b, grad, oldOuts) {
			grad.AddToVars()
			break
		}
		grad.Scale(c.MakeNumeric(t.lineSearchDecay()))
	}

	t.fitValue(b, obsConst)
}

// policyGradient computes the gradient of the surrogate
// objective at the current parameters.
func (t *TRPO) policyGradient(b *trajBatch, obsConst anydiff.Res) anydiff.Grad {
	c := t.creator()
	advConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(b.advantages)))
	params := t.Policy.Apply(obsConst, b.n)
	logProbs := t.ActionSpace.LogProb(params, b.actions, b.n)
	obj := anydiff.Scale(anydiff.Sum(anydiff.Mul(logProbs, advConst)),
		c.MakeNumeric(1/float64(b.n)))

	grad := anydiff.NewGrad(t.Policy.Parameters()...)
	one := c.MakeVector(1)
	one.AddScalar(c.MakeNumeric(1.0))
	obj.Propagate(one, grad)
	return grad
}

// acceptable temporarily applies the candidate step and
// checks that the surrogate objective improved without
// exceeding the KL constraint.
func (t *TRPO) acceptable(b *trajBatch, grad anydiff.Grad, oldOuts anyvec.Vector) bool {
	backup := t.backupParams()
	grad.AddToVars()
	defer t.restoreParams(backup)

	c := t.creator()
	obsConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(b.obs)))
	newParams := t.Policy.Apply(obsConst, b.n)
	oldConst := anydiff.NewConst(oldOuts)

	probRatio := anydiff.Exp(anydiff.Sub(
		t.ActionSpace.LogProb(newParams, b.actions, b.n),
		t.ActionSpace.LogProb(oldConst, b.actions, b.n),
	))
	ratios := c.Float64Slice(probRatio.Output().Data())
	var improvement float64
	for i, r := range ratios {
		improvement += (r - 1) * b.advantages[i] / float64(b.n)
	}

	klRes := t.ActionSpace.KL(oldConst, newParams, b.n)
	var kl float64
	for _, x := range c.Float64Slice(klRes.Output().Data()) {
		kl += x / float64(b.n)
	}

	return improvement >= 0 && kl <= t.targetKL()
}

func (t *TRPO) fitValue(b *trajBatch, obsConst anydiff.Res) {
	c := t.creator()
	retConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(b.returns)))
	for i := 0; i < t.valueEpochs(); i++ {
		values := t.ValueNet.Apply(obsConst, b.n)
		loss := anydiff.Scale(anydiff.Sum(anydiff.Square(
			anydiff.Sub(values, retConst))), c.MakeNumeric(1/float64(b.n)))

		grad := anydiff.NewGrad(t.ValueNet.Parameters()...)
		one := c.MakeVector(1)
		one.AddScalar(c.MakeNumeric(1.0))
		loss.Propagate(one, grad)

		if t.valueTrans == nil {
			t.valueTrans = &anysgd.Adam{}
		}
		step := t.valueTrans.Transform(grad)
		step.Scale(c.MakeNumeric(-t.valueStepSize()))
		step.AddToVars()
	}
}

func (t *TRPO) backupParams() []anyvec.Vector {
	var res []anyvec.Vector
	for _, p := range t.Policy.Parameters() {
		res = append(res, p.Vector.Copy())
	}
	return res
}

func (t *TRPO) restoreParams(backup []anyvec.Vector) {
	for i, x := range backup {
		t.Policy.Parameters()[i].Vector.Set(x)
	}
}

func normalize(vals []float64) {
	mean, std := stat.MeanStdDev(vals, nil)
	if std == 0 {
		std = 1
	}
	for i, x := range vals {
		vals[i] = (x - mean) / std
	}
}

func (t *TRPO) creator() anyvec.Creator {
	return anynet.AllParameters(t.Policy.Net)[0].Vector.Creator()
}

func (t *TRPO) sample(params anyvec.Vector, batch int) anyvec.Vector {
	if rs, ok := t.ActionSpace.(anyrlcontrib.RandSampler); ok {
		return rs.SampleRand(t.gen(), params, batch)
	}
	return t.ActionSpace.Sample(params, batch)
}

func (t *TRPO) gen() *rand.Rand {
	if t.Rand == nil {
		t.Rand = rand.New(rand.NewSource(rand.Int63()))
	}
	return t.Rand
}

func (t *TRPO) batchSteps() int {
	if t.BatchSteps == 0 {
		return DefaultBatchSteps
	}
	return t.BatchSteps
}

func (t *TRPO) discount() float64 {
	if t.Discount == 0 {
		return DefaultDiscount
	}
	return t.Discount
}

func (t *TRPO) lambda() float64 {
	if t.Lambda == 0 {
		return DefaultLambda
	}
	return t.Lambda
}

func (t *TRPO) targetKL() float64 {
	if t.TargetKL == 0 {
		return DefaultTargetKL
	}
	return t.TargetKL
}

func (t *TRPO) lineSearchDecay() float64 {
	if t.LineSearchDecay == 0 {
		return DefaultLineSearchDecay
	}
	return t.LineSearchDecay
}

func (t *TRPO) maxLineSearch() int {
	if t.MaxLineSearch == 0 {
		return DefaultMaxLineSearch
	}
	return t.MaxLineSearch
}

func (t *TRPO) cgIters() int {
	if t.CGIters == 0 {
		return DefaultCGIters
	}
	return t.CGIters
}

func (t *TRPO) cgDamping() float64 {
	if t.CGDamping == 0 {
		return DefaultCGDamping
	}
	return t.CGDamping
}

func (t *TRPO) valueStepSize() float64 {
	if t.ValueStepSize == 0 {
		return DefaultValueStepSize
	}
	return t.ValueStepSize
}

func (t *TRPO) valueEpochs() int {
	if t.ValueEpochs == 0 {
		return DefaultValueEpochs
	}
	return t.ValueEpochs
}
