package anyars

import (
	"errors"
	"log"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/unixpickle/anyrl"
	"github.com/unixpickle/anyrl/anyes"
	anyrlcontrib "github.com/unixpickle/anyrl-contrib"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	"gonum.org/v1/gonum/stat"
)

// Default hyperparameters for ARS.
const (
	DefaultNumDelta        = 8
	DefaultDeltaStd        = 0.05
	DefaultStepSize        = 0.02
	DefaultMaxEpisodeSteps = 1000
	DefaultNoiseLen        = 1 << 20
)

// ARS optimizes a deterministic policy by random search
// over parameter perturbations.
type ARS struct {
	// Policy is the policy being optimized.
	Policy *Policy

	// NumDelta is the number of perturbation directions
	// sampled per iteration.
	// If 0, DefaultNumDelta is used.
	NumDelta int

	// NumTopDelta is the number of best directions used
	// for the update.
	// If 0, all directions are used.
	NumTopDelta int

	// DeltaStd is the standard deviation of parameter
	// perturbations.
	// If 0, DefaultDeltaStd is used.
	DeltaStd float64

	// StepSize is the update step size.
	// If 0, DefaultStepSize is used.
	StepSize float64

	// MaxEpisodeSteps caps the length of evaluation
	// episodes.
	// If 0, DefaultMaxEpisodeSteps is used.
	MaxEpisodeSteps int

	// Verbose controls whether iteration rewards are
	// logged via the log package.
	Verbose int

	// Rand is used to seed perturbation directions.
	// If nil, a source seeded from the global generator
	// is used.
	Rand *rand.Rand

	// LogIteration, if non-nil, is called with the mean
	// perturbed reward of every iteration.
	LogIteration func(iteration int, meanReward float64)

	noise *anyes.Noise
}

type direction struct {
	seed        int64
	plus, minus float64
}

// Learn runs the given number of search iterations,
// spreading rollouts across the environments.
//
// Each environment is driven by its own goroutine, so the
// environments must not share state.
func (a *ARS) Learn(envs []anyrl.Env, iterations int) (err error) {
	defer essentials.AddCtxTo("learn ARS", &err)
	if len(envs) == 0 {
		return errors.New("no environments")
	}

	gen := a.gen()
	noise := a.noiseBank()
	params := &anyes.AnydiffParams{Params: a.Policy.Parameters()}
	paramLen := params.Len()

	for iter := 0; iter < iterations; iter++ {
		dirs := make([]*direction, a.numDelta())
		jobs := make(chan *direction, len(dirs))
		for i := range dirs {
			dirs[i] = &direction{seed: gen.Int63()}
			jobs <- dirs[i]
		}
		close(jobs)

		var wg sync.WaitGroup
		var firstErr error
		var errLock sync.Mutex
		for _, env := range envs {
			wg.Add(1)
			go func(env anyrl.Env) {
				defer wg.Done()
				copied, err := serializer.Copy(a.Policy)
				if err == nil {
					err = a.evaluateJobs(copied.(*Policy), env, noise, paramLen, jobs)
				}
				if err != nil {
					errLock.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errLock.Unlock()
				}
			}(env)
		}
		wg.Wait()
		if firstErr != nil {
			return firstErr
		}

		mean := a.update(dirs, noise, paramLen)
		if a.LogIteration != nil {
			a.LogIteration(iter, mean)
		} else if a.Verbose > 0 {
			log.Printf("ARS: iteration %d: mean_reward=%f", iter, mean)
		}
	}
	return nil
}

// Predict produces an action for an observation.
//
// The deterministic argument is ignored, since the policy
// has no noise of its own.
func (a *ARS) Predict(obs []float64, deterministic bool) []float64 {
	return a.Policy.Act(a.creator(), obs)
}

// Parameters returns the named parameter objects.
func (a *ARS) Parameters() map[string]*anyrlcontrib.StateDict {
	return map[string]*anyrlcontrib.StateDict{
		"policy": anyrlcontrib.VarsStateDict("policy", a.Policy.Parameters()),
	}
}

// evaluateJobs measures the reward of the positive and
// negative perturbation for each direction, restoring the
// policy copy between evaluations.
func (a *ARS) evaluateJobs(policy *Policy, env anyrl.Env, noise *anyes.Noise,
	paramLen int, jobs <-chan *direction) error {
	params := &anyes.AnydiffParams{Params: policy.Parameters()}
	for dir := range jobs {
		delta := noise.Gen(dir.seed, paramLen)
		scaled := make([]float64, paramLen)
		negated := make([]float64, paramLen)
		for i, x := range delta {
			scaled[i] = a.deltaStd() * x
			negated[i] = -2 * scaled[i]
		}

		params.Update(scaled)
		plus, err := a.rollout(policy, env)
		if err != nil {
			return err
		}
		params.Update(negated)
		minus, err := a.rollout(policy, env)
		if err != nil {
			return err
		}
		params.Update(scaled)

		dir.plus = plus
		dir.minus = minus
	}
	return nil
}

func (a *ARS) rollout(policy *Policy, env anyrl.Env) (float64, error) {
	c := a.creator()
	obs, err := env.Reset()
	if err != nil {
		return 0, err
	}
	var total float64
	for i := 0; i < a.maxEpisodeSteps(); i++ {
		obs1, reward, done, err := env.Step(policy.Act(c, obs))
		if err != nil {
			return 0, err
		}
		total += reward
		if done {
			break
		}
		obs = obs1
	}
	return total, nil
}

// update applies the reward-weighted sum of the best
// directions and returns the mean perturbed reward.
func (a *ARS) update(dirs []*direction, noise *anyes.Noise, paramLen int) float64 {
	var mean float64
	for _, d := range dirs {
		mean += (d.plus + d.minus) / float64(2*len(dirs))
	}

	sort.Slice(dirs, func(i, j int) bool {
		mi := math.Max(dirs[i].plus, dirs[i].minus)
		mj := math.Max(dirs[j].plus, dirs[j].minus)
		return mi > mj
	})
	top := dirs
	if a.NumTopDelta > 0 && a.NumTopDelta < len(dirs) {
		top = dirs[:a.NumTopDelta]
	}

	rewards := make([]float64, 0, len(top)*2)
	for _, d := range top {
		rewards = append(rewards, d.plus, d.minus)
	}
	sigma := stat.StdDev(rewards, nil)
	if sigma == 0 {
		sigma = 1
	}

	scale := a.stepSize() / (float64(len(top)) * sigma)
	mutation := make([]float64, paramLen)
	for _, d := range top {
		delta := noise.Gen(d.seed, paramLen)
		weight := scale * (d.plus - d.minus)
		for i, x := range delta {
			mutation[i] += weight * x
		}
	}
	params := &anyes.AnydiffParams{Params: a.Policy.Parameters()}
	params.Update(mutation)
	return mean
}

func (a *ARS) noiseBank() *anyes.Noise {
	if a.noise == nil {
		a.noise = anyes.NewNoise(a.gen().Int63(), DefaultNoiseLen)
	}
	return a.noise
}

func (a *ARS) creator() anyvec.Creator {
	return a.Policy.Parameters()[0].Vector.Creator()
}

func (a *ARS) gen() *rand.Rand {
	if a.Rand == nil {
		a.Rand = rand.New(rand.NewSource(rand.Int63()))
	}
	return a.Rand
}

func (a *ARS) numDelta() int {
	if a.NumDelta == 0 {
		return DefaultNumDelta
	}
	return a.NumDelta
}

func (a *ARS) deltaStd() float64 {
	if a.DeltaStd == 0 {
		return DefaultDeltaStd
	}
	return a.DeltaStd
}

func (a *ARS) stepSize() float64 {
	if a.StepSize == 0 {
		return DefaultStepSize
	}
	return a.StepSize
}

func (a *ARS) maxEpisodeSteps() int {
	if a.MaxEpisodeSteps == 0 {
		return DefaultMaxEpisodeSteps
	}
	return a.MaxEpisodeSteps
}
