package anyqrdqn

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
	"github.com/unixpickle/serializer"
)

// Default hyperparameters for QRDQN.
const (
	DefaultDiscount        = 0.99
	DefaultBatchSize       = 32
	DefaultLearningStarts  = 100
	DefaultTargetSync      = 500
	DefaultTrainInterval   = 4
	DefaultExploreFraction = 0.1
	DefaultFinalEpsilon    = 0.05
	DefaultStepSize        = 0.0005
	DefaultBufferSize      = 100000
)

// QRDQN trains a QuantileNet with quantile-regression
// Q-learning on an epsilon-greedy behavior policy.
type QRDQN struct {
	// Net is the online network.
	Net *QuantileNet

	// Target is the target network.
	// NewQRDQN initializes it to a copy of Net.
	Target *QuantileNet

	// Buffer stores past transitions.
	Buffer *anyrlcontrib.ReplayBuffer

	// Discount is the reward discount factor.
	// If 0, DefaultDiscount is used.
	Discount float64

	// BatchSize is the number of transitions per
	// gradient step.
	// If 0, DefaultBatchSize is used.
	BatchSize int

	// LearningStarts is the number of transitions to
	// gather before the first gradient step.
	// If 0, DefaultLearningStarts is used.
	LearningStarts int

	// TargetSync is the number of environment steps
	// between target network updates.
	// If 0, DefaultTargetSync is used.
	TargetSync int

	// TrainInterval is the number of environment steps
	// between gradient steps.
	// If 0, DefaultTrainInterval is used.
	TrainInterval int

	// ExploreFraction is the fraction of training during
	// which the exploration rate is annealed from 1 to
	// FinalEpsilon.
	// If 0, DefaultExploreFraction is used.
	ExploreFraction float64

	// FinalEpsilon is the exploration rate after
	// annealing finishes.
	// If 0, DefaultFinalEpsilon is used.
	FinalEpsilon float64

	// StepSize is the Adam step size.
	// If 0, DefaultStepSize is used.
	StepSize float64

	// Verbose controls whether episode rewards are
	// logged via the log package.
	Verbose int

	// Rand is used for exploration and replay sampling.
	// If nil, a source seeded from the global generator
	// is used.
	Rand *rand.Rand

	// LogEpisode, if non-nil, is called with the reward
	// of every finished episode.
	LogEpisode func(episode int, reward float64)

	transformer *anysgd.Adam
	steps       int
	annealSteps int
}

// NewQRDQN creates a QRDQN for the given online network,
// with a target network copied from it and a replay
// buffer of the given capacity.
func NewQRDQN(net *QuantileNet, bufferSize int) *QRDQN {
	copied, err := serializer.Copy(net)
	if err != nil {
		panic(err)
	}
	return &QRDQN{
		Net:    net,
		Target: copied.(*QuantileNet),
		Buffer: anyrlcontrib.NewReplayBuffer(bufferSize, net.ObsSize, net.NumActions),
	}
}

// Learn runs totalSteps environment steps, training the
// network along the way.
func (q *QRDQN) Learn(env anyrl.Env, totalSteps int) (err error) {
	defer essentials.AddCtxTo("learn QRDQN", &err)

	c := q.creator()
	gen := q.gen()
	obs, err := env.Reset()
	if err != nil {
		return err
	}

	// Annealing continues across Learn calls rather than
	// restarting at full exploration.
	q.annealSteps += totalSteps

	var episodeReward float64
	var episode int
	for i := 0; i < totalSteps; i++ {
		q.steps++
		action := q.exploreAction(c, gen, obs, q.epsilon(q.steps, q.annealSteps))
		nextObs, reward, done, err := env.Step(action)
		if err != nil {
			return err
		}
		q.Buffer.Append(obs, nextObs, action, reward, done, false)
		episodeReward += reward

		if done {
			if q.LogEpisode != nil {
				q.LogEpisode(episode, episodeReward)
			} else if q.Verbose > 0 {
				log.Printf("QRDQN: episode %d: reward=%f", episode, episodeReward)
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

		if q.Buffer.Len() >= q.learningStarts() && q.steps%q.trainInterval() == 0 {
			batch, err := q.Buffer.Sample(gen, q.batchSize())
			if err != nil {
				return err
			}
			q.TrainStep(batch)
		}
		if q.steps%q.targetSync() == 0 {
			q.SyncTarget()
		}
	}
	return nil
}

// TrainStep performs one gradient step on a batch of
// transitions and returns the loss.
func (q *QRDQN) TrainStep(batch *anyrlcontrib.Transitions) anyvec.Numeric {
	c := q.creator()
	n := batch.N

	// The target distribution is a constant:
	// r + discount*(1-done) * Z_target(s', a*), where a*
	// maximizes the mean of the target quantiles.
	targetRows := make([][]float64, n)
	greedy := q.Target.GreedyActions(c, batch.NextObs)
	nextOut := q.Target.Apply(anydiff.NewConst(c.MakeVectorData(
		c.MakeNumericList(batch.NextObs))), n)
	nextQuantiles := q.Target.ActionQuantiles(nextOut, greedy, n)
	nextComps := c.Float64Slice(nextQuantiles.Output().Data())
	numQ := q.Target.NumQuantiles
	for i := 0; i < n; i++ {
		row := make([]float64, numQ)
		for j := 0; j < numQ; j++ {
			row[j] = batch.Rewards[i]
			if !batch.Dones[i] {
				row[j] += q.discount() * nextComps[i*numQ+j]
			}
		}
		targetRows[i] = row
	}

	actions := make([]int, n)
	for i := 0; i < n; i++ {
		row := batch.Actions[i*q.Net.NumActions : (i+1)*q.Net.NumActions]
		for j := range row {
			if row[j] > row[actions[i]] {
				actions[i] = j
			}
		}
	}

	obsConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(batch.Obs)))
	preds := q.Net.ActionQuantiles(q.Net.Apply(obsConst, n), actions, n)
	loss := anyrlcontrib.QuantileHuberLoss(preds, targetRows, q.Net.NumQuantiles)

	grad := anydiff.NewGrad(q.Net.Parameters()...)
	one := c.MakeVector(1)
	one.AddScalar(c.MakeNumeric(1.0))
	loss.Propagate(one, grad)

	if q.transformer == nil {
		q.transformer = &anysgd.Adam{}
	}
	step := q.transformer.Transform(grad)
	step.Scale(c.MakeNumeric(-q.stepSize()))
	step.AddToVars()

	return anyvec.Sum(loss.Output())
}

// SyncTarget copies the online parameters into the
// target network.
func (q *QRDQN) SyncTarget() {
	params := q.Net.Parameters()
	targetParams := q.Target.Parameters()
	for i, p := range params {
		targetParams[i].Vector.Set(p.Vector)
	}
}

// Predict returns a one-hot action for an observation.
//
// If deterministic is false, the action is epsilon-greedy
// with the final exploration rate.
func (q *QRDQN) Predict(obs []float64, deterministic bool) []float64 {
	c := q.creator()
	if !deterministic && q.gen().Float64() < q.finalEpsilon() {
		res := make([]float64, q.Net.NumActions)
		res[q.gen().Intn(q.Net.NumActions)] = 1
		return res
	}
	return q.Net.Predict(c, obs)
}

// Parameters returns the named parameter objects.
func (q *QRDQN) Parameters() map[string]*anyrlcontrib.StateDict {
	return map[string]*anyrlcontrib.StateDict{
		"quantile_net":        anyrlcontrib.VarsStateDict("quantile_net", q.Net.Parameters()),
		"quantile_net_target": anyrlcontrib.VarsStateDict("quantile_net_target", q.Target.Parameters()),
	}
}

func (q *QRDQN) exploreAction(c anyvec.Creator, gen *rand.Rand, obs []float64,
	epsilon float64) []float64 {
	res := make([]float64, q.Net.NumActions)
	if gen.Float64() < epsilon {
		res[gen.Intn(q.Net.NumActions)] = 1
	} else {
		res[q.Net.GreedyActions(c, obs)[0]] = 1
	}
	return res
}

func (q *QRDQN) epsilon(step, totalSteps int) float64 {
	exploreSteps := q.exploreFraction() * float64(totalSteps)
	if float64(step) >= exploreSteps {
		return q.finalEpsilon()
	}
	frac := float64(step) / exploreSteps
	return 1 + frac*(q.finalEpsilon()-1)
}

func (q *QRDQN) creator() anyvec.Creator {
	return anynet.AllParameters(q.Net.Net)[0].Vector.Creator()
}

func (q *QRDQN) gen() *rand.Rand {
	if q.Rand == nil {
		q.Rand = rand.New(rand.NewSource(rand.Int63()))
	}
	return q.Rand
}

func (q *QRDQN) discount() float64 {
	if q.Discount == 0 {
		return DefaultDiscount
	}
	return q.Discount
}

func (q *QRDQN) batchSize() int {
	if q.BatchSize == 0 {
		return DefaultBatchSize
	}
	return q.BatchSize
}

func (q *QRDQN) learningStarts() int {
	if q.LearningStarts == 0 {
		return DefaultLearningStarts
	}
	return q.LearningStarts
}

func (q *QRDQN) targetSync() int {
	if q.TargetSync == 0 {
		return DefaultTargetSync
	}
	return q.TargetSync
}

func (q *QRDQN) trainInterval() int {
	if q.TrainInterval == 0 {
		return DefaultTrainInterval
	}
	return q.TrainInterval
}

func (q *QRDQN) exploreFraction() float64 {
	if q.ExploreFraction == 0 {
		return DefaultExploreFraction
	}
	return q.ExploreFraction
}

func (q *QRDQN) finalEpsilon() float64 {
	if q.FinalEpsilon == 0 {
		return DefaultFinalEpsilon
	}
	return q.FinalEpsilon
}

func (q *QRDQN) stepSize() float64 {
	if q.StepSize == 0 {
		return DefaultStepSize
	}
	return q.StepSize
}
