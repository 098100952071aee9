package anyrlcontrib

import (
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A Moder is a distribution which can produce its most
// likely outputs.
//
// Action spaces implement it to support deterministic
// prediction.
type Moder interface {
	// Mode returns the most likely output for each
	// parameter vector in the batch.
	Mode(params anyvec.Vector, batchSize int) anyvec.Vector
}

// A RandSampler is an action sampler which can draw from a
// caller-supplied generator, making rollouts reproducible.
type RandSampler interface {
	// SampleRand samples an action vector for each
	// parameter vector in the batch using gen.
	SampleRand(gen *rand.Rand, params anyvec.Vector, batchSize int) anyvec.Vector
}

// Gaussian is an anyrl.ActionSpace for continuous action
// vectors, parameterized as a diagonal Gaussian.
//
// Each parameter chunk contains the means for every
// action dimension followed by the log standard
// deviations, i.e. [mu_1 ... mu_k, logstd_1 ... logstd_k].
type Gaussian struct{}

// Sample samples action vectors from the distributions.
func (g Gaussian) Sample(params anyvec.Vector, batch int) anyvec.Vector {
	return g.sample(params, batch, rand.NormFloat64)
}

// SampleRand is like Sample, drawing noise from gen.
func (g Gaussian) SampleRand(gen *rand.Rand, params anyvec.Vector,
	batch int) anyvec.Vector {
	return g.sample(params, batch, gen.NormFloat64)
}

func (g Gaussian) sample(params anyvec.Vector, batch int,
	normal func() float64) anyvec.Vector {
	chunk, k := gaussianChunk(params.Len(), batch)
	c := params.Creator()
	comps := c.Float64Slice(params.Data())
	res := make([]float64, batch*k)
	for i := 0; i < batch; i++ {
		means := comps[i*chunk : i*chunk+k]
		logStds := comps[i*chunk+k : (i+1)*chunk]
		for j, mean := range means {
			res[i*k+j] = mean + math.Exp(logStds[j])*normal()
		}
	}
	return c.MakeVectorData(c.MakeNumericList(res))
}

// Mode returns the most likely action vector for each
// distribution in the batch.
//
// This is the deterministic counterpart of Sample.
func (g Gaussian) Mode(params anyvec.Vector, batch int) anyvec.Vector {
	chunk, k := gaussianChunk(params.Len(), batch)
	c := params.Creator()
	comps := c.Float64Slice(params.Data())
	res := make([]float64, 0, batch*k)
	for i := 0; i < batch; i++ {
		res = append(res, comps[i*chunk:i*chunk+k]...)
	}
	return c.MakeVectorData(c.MakeNumericList(res))
}

// LogProb computes the log-densities of sampled outputs.
func (g Gaussian) LogProb(params anydiff.Res, output anyvec.Vector,
	batchSize int) anydiff.Res {
	chunk, k := gaussianChunk(params.Output().Len(), batchSize)
	if output.Len() != batchSize*k {
		panic("output length mismatch")
	}
	c := params.Output().Creator()
	constTerm := float64(k) * 0.5 * math.Log(2*math.Pi)
	return anydiff.Pool(params, func(params anydiff.Res) anydiff.Res {
		var probs []anydiff.Res
		for i := 0; i < batchSize; i++ {
			mean := anydiff.Slice(params, i*chunk, i*chunk+k)
			logStd := anydiff.Slice(params, i*chunk+k, (i+1)*chunk)
			out := anydiff.NewConst(output.Slice(i*k, (i+1)*k))
			z := anydiff.Mul(
				anydiff.Sub(out, mean),
				anydiff.Exp(anydiff.Scale(logStd, c.MakeNumeric(-1))),
			)
			cost := anydiff.Add(
				anydiff.Scale(anydiff.Sum(anydiff.Square(z)), c.MakeNumeric(0.5)),
				anydiff.Sum(logStd),
			)
			cost = anydiff.AddScalar(cost, c.MakeNumeric(constTerm))
			probs = append(probs, anydiff.Scale(cost, c.MakeNumeric(-1)))
		}
		return anydiff.Concat(probs...)
	})
}

// Entropy computes the differential entropy of each
// distribution in the batch.
func (g Gaussian) Entropy(params anydiff.Res, batchSize int) anydiff.Res {
	chunk, k := gaussianChunk(params.Output().Len(), batchSize)
	c := params.Output().Creator()
	constTerm := float64(k) * 0.5 * math.Log(2*math.Pi*math.E)
	return anydiff.Pool(params, func(params anydiff.Res) anydiff.Res {
		var ents []anydiff.Res
		for i := 0; i < batchSize; i++ {
			logStd := anydiff.Slice(params, i*chunk+k, (i+1)*chunk)
			ents = append(ents, anydiff.AddScalar(
				anydiff.Sum(logStd),
				c.MakeNumeric(constTerm),
			))
		}
		return anydiff.Concat(ents...)
	})
}

// KL computes the KL divergences between batches of
// distributions.
func (g Gaussian) KL(params1, params2 anydiff.Res, batchSize int) anydiff.Res {
	if params1.Output().Len() != params2.Output().Len() {
		panic("length mismatch")
	}
	chunk, k := gaussianChunk(params1.Output().Len(), batchSize)
	c := params1.Output().Creator()
	return anydiff.Pool(params1, func(params1 anydiff.Res) anydiff.Res {
		return anydiff.Pool(params2, func(params2 anydiff.Res) anydiff.Res {
			var kls []anydiff.Res
			for i := 0; i < batchSize; i++ {
				mean1 := anydiff.Slice(params1, i*chunk, i*chunk+k)
				logStd1 := anydiff.Slice(params1, i*chunk+k, (i+1)*chunk)
				mean2 := anydiff.Slice(params2, i*chunk, i*chunk+k)
				logStd2 := anydiff.Slice(params2, i*chunk+k, (i+1)*chunk)

				// var1 + (mean1-mean2)^2, scaled by 1/(2*var2).
				ratio := anydiff.Mul(
					anydiff.Add(
						anydiff.Exp(anydiff.Scale(logStd1, c.MakeNumeric(2))),
						anydiff.Square(anydiff.Sub(mean1, mean2)),
					),
					anydiff.Exp(anydiff.Scale(logStd2, c.MakeNumeric(-2))),
				)
				kl := anydiff.Sum(anydiff.Add(
					anydiff.Sub(logStd2, logStd1),
					anydiff.Scale(ratio, c.MakeNumeric(0.5)),
				))
				kls = append(kls, anydiff.AddScalar(kl, c.MakeNumeric(-float64(k)/2)))
			}
			return anydiff.Concat(kls...)
		})
	})
}

func gaussianChunk(paramLen, batch int) (chunk, k int) {
	if paramLen%batch != 0 {
		panic("batch size must divide parameter count")
	}
	chunk = paramLen / batch
	if chunk%2 != 0 {
		panic("parameter chunks must hold means and log stds")
	}
	return chunk, chunk / 2
}
