package anytqc

import (
	"encoding/json"
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// Bounds on the log standard deviations produced by an
// Actor.
const (
	LogStdMin = -20
	LogStdMax = 2
)

const logProbEpsilon = 1e-6

func init() {
	var a Actor
	serializer.RegisterTypedDeserializer(a.SerializerType(), DeserializeActor)
}

// An Actor maps observations to squashed Gaussian action
// distributions.
//
// For each batch entry the network produces the action
// means followed by the log standard deviations.
// Actions are passed through tanh, keeping them in the
// range (-1, 1).
type Actor struct {
	Net        anynet.Net
	ObsSize    int
	Hidden     []int
	ActionSize int
}

// NewActor creates an Actor with tanh hidden layers of the
// given sizes.
func NewActor(c anyvec.Creator, obsSize int, hidden []int, actionSize int) *Actor {
	var net anynet.Net
	inSize := obsSize
	for _, size := range hidden {
		net = append(net, anynet.NewFC(c, inSize, size), anynet.Tanh)
		inSize = size
	}
	net = append(net, anynet.NewFC(c, inSize, actionSize*2))
	return &Actor{
		Net:        net,
		ObsSize:    obsSize,
		Hidden:     hidden,
		ActionSize: actionSize,
	}
}

// Parameters returns the network parameters.
func (a *Actor) Parameters() []*anydiff.Var {
	return a.Net.Parameters()
}

// Apply applies the network, clamping the log standard
// deviations to [LogStdMin, LogStdMax].
func (a *Actor) Apply(obs anydiff.Res, batch int) anydiff.Res {
	c := obs.Output().Creator()
	k := a.ActionSize
	return anydiff.Pool(a.Net.Apply(obs, batch), func(out anydiff.Res) anydiff.Res {
		var parts []anydiff.Res
		for i := 0; i < batch; i++ {
			mean := anydiff.Slice(out, i*2*k, i*2*k+k)
			logStd := anydiff.ClipRange(anydiff.Slice(out, i*2*k+k, (i+1)*2*k),
				c.MakeNumeric(LogStdMin), c.MakeNumeric(LogStdMax))
			parts = append(parts, mean, logStd)
		}
		return anydiff.Concat(parts...)
	})
}

// A PolicyRes is a differentiable batch of sampled actions
// along with one log probability per batch entry.
type PolicyRes struct {
	Actions  anydiff.Res
	LogProbs anydiff.Res
}

// SampleActions samples actions with the
// reparameterization trick, so that gradients flow from
// the actions back into the network.
//
// The log probabilities account for the tanh squashing.
func (a *Actor) SampleActions(obs anydiff.Res, batch int, gen *rand.Rand) *PolicyRes {
	c := obs.Output().Creator()
	k := a.ActionSize
	joint := anydiff.Pool(a.Apply(obs, batch), func(out anydiff.Res) anydiff.Res {
		var actionParts, logParts []anydiff.Res
		for i := 0; i < batch; i++ {
			mean := anydiff.Slice(out, i*2*k, i*2*k+k)
			logStd := anydiff.Slice(out, i*2*k+k, (i+1)*2*k)

			noise := make([]float64, k)
			noiseConsts := make([]float64, k)
			for j := range noise {
				noise[j] = gen.NormFloat64()
				noiseConsts[j] = -0.5*noise[j]*noise[j] - 0.5*math.Log(2*math.Pi)
			}
			noiseConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(noise)))
			offsetConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(noiseConsts)))

			action := anydiff.Pool(anydiff.Tanh(anydiff.Add(mean,
				anydiff.Mul(anydiff.Exp(logStd), noiseConst))),
				func(action anydiff.Res) anydiff.Res {
					gaussLog := anydiff.Add(anydiff.Scale(logStd, c.MakeNumeric(-1.0)),
						offsetConst)
					squashCorrection := anydiff.Log(anydiff.AddScalar(
						anydiff.Scale(anydiff.Square(action), c.MakeNumeric(-1.0)),
						c.MakeNumeric(1+logProbEpsilon)))
					logProb := anydiff.Sum(anydiff.Sub(gaussLog, squashCorrection))
					return anydiff.Concat(action, logProb)
				})
			actionParts = append(actionParts, anydiff.Slice(action, 0, k))
			logParts = append(logParts, anydiff.Slice(action, k, k+1))
		}
		return anydiff.Concat(append(actionParts, logParts...)...)
	})
	return &PolicyRes{
		Actions:  anydiff.Slice(joint, 0, batch*k),
		LogProbs: anydiff.Slice(joint, batch*k, batch*k+batch),
	}
}

// Predict produces an action for a single observation.
//
// If deterministic is true, the action is the squashed
// mean of the distribution.
func (a *Actor) Predict(c anyvec.Creator, obs []float64, gen *rand.Rand,
	deterministic bool) []float64 {
	in := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(obs[:a.ObsSize])))
	out := c.Float64Slice(a.Net.Apply(in, 1).Output().Data())
	res := make([]float64, a.ActionSize)
	for j := range res {
		mean := out[j]
		if deterministic {
			res[j] = math.Tanh(mean)
		} else {
			logStd := math.Max(LogStdMin, math.Min(LogStdMax, out[a.ActionSize+j]))
			res[j] = math.Tanh(mean + math.Exp(logStd)*gen.NormFloat64())
		}
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// an Actor with the serializer package.
func (a *Actor) SerializerType() string {
	return "github.com/unixpickle/anyrl-contrib/anytqc.Actor"
}

// Serialize serializes the Actor.
func (a *Actor) Serialize() ([]byte, error) {
	hiddenData, err := json.Marshal(a.Hidden)
	if err != nil {
		return nil, err
	}
	return serializer.SerializeAny(a.Net, a.ObsSize, hiddenData, a.ActionSize)
}

// DeserializeActor deserializes an Actor.
func DeserializeActor(d []byte) (*Actor, error) {
	var res Actor
	var hiddenData []byte
	err := serializer.DeserializeAny(d, &res.Net, &res.ObsSize, &hiddenData,
		&res.ActionSize)
	if err != nil {
		return nil, essentials.AddCtx("deserialize actor", err)
	}
	if err := json.Unmarshal(hiddenData, &res.Hidden); err != nil {
		return nil, essentials.AddCtx("deserialize actor", err)
	}
	return &res, nil
}
