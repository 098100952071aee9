package anytrpo

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

// A Policy maps observations to action space parameters,
// e.g. softmax logits or Gaussian parameters.
type Policy struct {
	Net       anynet.Net
	ObsSize   int
	Hidden    []int
	ParamSize int
}

// NewPolicy creates a Policy with tanh hidden layers of
// the given sizes.
func NewPolicy(c anyvec.Creator, obsSize int, hidden []int, paramSize int) *Policy {
	var net anynet.Net
	inSize := obsSize
	for _, size := range hidden {
		net = append(net, anynet.NewFC(c, inSize, size), anynet.Tanh)
		inSize = size
	}
	net = append(net, anynet.NewFC(c, inSize, paramSize))
	return &Policy{
		Net:       net,
		ObsSize:   obsSize,
		Hidden:    hidden,
		ParamSize: paramSize,
	}
}

// Apply applies the network to a batch of observations.
func (p *Policy) Apply(obs anydiff.Res, batch int) anydiff.Res {
	return p.Net.Apply(obs, batch)
}

// Parameters returns the network parameters.
func (p *Policy) Parameters() []*anydiff.Var {
	return p.Net.Parameters()
}

// SerializerType returns the unique ID used to serialize
// a Policy with the serializer package.
func (p *Policy) SerializerType() string {
	return "github.com/unixpickle/anyrl-contrib/anytrpo.Policy"
}

// Serialize serializes the Policy.
func (p *Policy) Serialize() ([]byte, error) {
	hiddenData, err := json.Marshal(p.Hidden)
	if err != nil {
		return nil, err
	}
	return serializer.SerializeAny(p.Net, p.ObsSize, hiddenData, p.ParamSize)
}

// DeserializePolicy deserializes a Policy.
func DeserializePolicy(d []byte) (*Policy, error) {
	var res Policy
	var hiddenData []byte
	err := serializer.DeserializeAny(d, &res.Net, &res.ObsSize, &hiddenData,
		&res.ParamSize)
	if err != nil {
		return nil, essentials.AddCtx("deserialize policy", err)
	}
	if err := json.Unmarshal(hiddenData, &res.Hidden); err != nil {
		return nil, essentials.AddCtx("deserialize policy", err)
	}
	return &res, nil
}

// A ValueNet predicts the expected return of observations.
type ValueNet struct {
	Net     anynet.Net
	ObsSize int
	Hidden  []int
}

// NewValueNet creates a ValueNet with tanh hidden layers
// of the given sizes.
func NewValueNet(c anyvec.Creator, obsSize int, hidden []int) *ValueNet {
	var net anynet.Net
	inSize := obsSize
	for _, size := range hidden {
		net = append(net, anynet.NewFC(c, inSize, size), anynet.Tanh)
		inSize = size
	}
	net = append(net, anynet.NewFC(c, inSize, 1))
	return &ValueNet{Net: net, ObsSize: obsSize, Hidden: hidden}
}

// Apply applies the network to a batch of observations.
func (v *ValueNet) Apply(obs anydiff.Res, batch int) anydiff.Res {
	return v.Net.Apply(obs, batch)
}

// Parameters returns the network parameters.
func (v *ValueNet) Parameters() []*anydiff.Var {
	return v.Net.Parameters()
}

// Values computes a value estimate per observation.
func (v *ValueNet) Values(c anyvec.Creator, obs []float64) []float64 {
	batch := len(obs) / v.ObsSize
	in := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(obs)))
	return c.Float64Slice(v.Apply(in, batch).Output().Data())
}
