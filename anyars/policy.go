// Package anyars implements Augmented Random Search, a
// derivative-free algorithm which estimates policy updates
// from the rewards of randomly perturbed parameters.
//
// See https://arxiv.org/abs/1803.07055.
package anyars

import (
	"encoding/json"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var p Policy
	serializer.RegisterTypedDeserializer(p.SerializerType(), DeserializePolicy)
}

// A Policy deterministically maps observations to actions.
type Policy struct {
	Net        anynet.Net
	ObsSize    int
	Hidden     []int
	ActionSize int
}

// NewPolicy creates a Policy with tanh hidden layers of
// the given sizes.
func NewPolicy(c anyvec.Creator, obsSize int, hidden []int, actionSize int) *Policy {
	var net anynet.Net
	inSize := obsSize
	for _, size := range hidden {
		net = append(net, anynet.NewFC(c, inSize, size), anynet.Tanh)
		inSize = size
	}
	net = append(net, anynet.NewFC(c, inSize, actionSize))
	return &Policy{
		Net:        net,
		ObsSize:    obsSize,
		Hidden:     hidden,
		ActionSize: actionSize,
	}
}

// NewLinearPolicy creates a Policy with no hidden layers.
//
// Linear policies are the variant studied in the original
// random search paper.
func NewLinearPolicy(c anyvec.Creator, obsSize, actionSize int) *Policy {
	return NewPolicy(c, obsSize, nil, actionSize)
}

// Parameters returns the network parameters.
func (p *Policy) Parameters() []*anydiff.Var {
	return p.Net.Parameters()
}

// Act computes the action for a single observation.
func (p *Policy) Act(c anyvec.Creator, obs []float64) []float64 {
	in := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(obs[:p.ObsSize])))
	return c.Float64Slice(p.Net.Apply(in, 1).Output().Data())
}

// SerializerType returns the unique ID used to serialize
// a Policy with the serializer package.
func (p *Policy) SerializerType() string {
	return "github.com/unixpickle/anyrl-contrib/anyars.Policy"
}

// Serialize serializes the Policy.
func (p *Policy) Serialize() ([]byte, error) {
	hiddenData, err := json.Marshal(p.Hidden)
	if err != nil {
		return nil, err
	}
	return serializer.SerializeAny(p.Net, p.ObsSize, hiddenData, p.ActionSize)
}

// DeserializePolicy deserializes a Policy.
func DeserializePolicy(d []byte) (*Policy, error) {
	var res Policy
	var hiddenData []byte
	err := serializer.DeserializeAny(d, &res.Net, &res.ObsSize, &hiddenData,
		&res.ActionSize)
	if err != nil {
		return nil, essentials.AddCtx("deserialize policy", err)
	}
	if err := json.Unmarshal(hiddenData, &res.Hidden); err != nil {
		return nil, essentials.AddCtx("deserialize policy", err)
	}
	return &res, nil
}
