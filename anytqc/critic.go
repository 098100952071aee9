package anytqc

import (
	"encoding/json"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var c Critic
	serializer.RegisterTypedDeserializer(c.SerializerType(), DeserializeCritic)
}

// A Critic predicts return quantiles for a batch of
// observation-action pairs.
//
// The input to the network is the observation followed by
// the action.
type Critic struct {
	Net          anynet.Net
	ObsSize      int
	Hidden       []int
	ActionSize   int
	NumQuantiles int
}

// NewCritic creates a Critic with tanh hidden layers of
// the given sizes.
func NewCritic(c anyvec.Creator, obsSize int, hidden []int, actionSize,
	numQuantiles int) *Critic {
	var net anynet.Net
	inSize := obsSize + actionSize
	for _, size := range hidden {
		net = append(net, anynet.NewFC(c, inSize, size), anynet.Tanh)
		inSize = size
	}
	net = append(net, anynet.NewFC(c, inSize, numQuantiles))
	return &Critic{
		Net:          net,
		ObsSize:      obsSize,
		Hidden:       hidden,
		ActionSize:   actionSize,
		NumQuantiles: numQuantiles,
	}
}

// Apply applies the network to a batch of concatenated
// observation-action rows.
func (c *Critic) Apply(obsActions anydiff.Res, batch int) anydiff.Res {
	return c.Net.Apply(obsActions, batch)
}

// Parameters returns the network parameters.
func (c *Critic) Parameters() []*anydiff.Var {
	return c.Net.Parameters()
}

// SerializerType returns the unique ID used to serialize
// a Critic with the serializer package.
func (c *Critic) SerializerType() string {
	return "github.com/unixpickle/anyrl-contrib/anytqc.Critic"
}

// Serialize serializes the Critic.
func (c *Critic) Serialize() ([]byte, error) {
	hiddenData, err := json.Marshal(c.Hidden)
	if err != nil {
		return nil, err
	}
	return serializer.SerializeAny(c.Net, c.ObsSize, hiddenData, c.ActionSize,
		c.NumQuantiles)
}

// DeserializeCritic deserializes a Critic.
func DeserializeCritic(d []byte) (*Critic, error) {
	var res Critic
	var hiddenData []byte
	err := serializer.DeserializeAny(d, &res.Net, &res.ObsSize, &hiddenData,
		&res.ActionSize, &res.NumQuantiles)
	if err != nil {
		return nil, essentials.AddCtx("deserialize critic", err)
	}
	if err := json.Unmarshal(hiddenData, &res.Hidden); err != nil {
		return nil, essentials.AddCtx("deserialize critic", err)
	}
	return &res, nil
}

// A CriticEnsemble is a set of independently initialized
// quantile critics.
type CriticEnsemble []*Critic

// NewCriticEnsemble creates n critics with the same
// architecture.
func NewCriticEnsemble(c anyvec.Creator, n, obsSize int, hidden []int,
	actionSize, numQuantiles int) CriticEnsemble {
	res := make(CriticEnsemble, n)
	for i := range res {
		res[i] = NewCritic(c, obsSize, hidden, actionSize, numQuantiles)
	}
	return res
}

// Parameters returns the parameters of every critic.
func (c CriticEnsemble) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, critic := range c {
		res = append(res, critic.Parameters()...)
	}
	return res
}

// Copy makes a deep copy of the ensemble.
func (c CriticEnsemble) Copy() (CriticEnsemble, error) {
	res := make(CriticEnsemble, len(c))
	for i, critic := range c {
		copied, err := serializer.Copy(critic)
		if err != nil {
			return nil, err
		}
		res[i] = copied.(*Critic)
	}
	return res, nil
}
