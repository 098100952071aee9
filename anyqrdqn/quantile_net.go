// Package anyqrdqn implements Quantile Regression DQN,
// an off-policy algorithm which learns a distribution of
// returns instead of a single Q-value.
//
// See https://arxiv.org/abs/1710.10044.
package anyqrdqn

import (
	"encoding/json"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var q QuantileNet
	serializer.RegisterTypedDeserializer(q.SerializerType(), DeserializeQuantileNet)
}

// A QuantileNet maps observations to a set of return
// quantiles for every action.
//
// The network output is quantile-major: for each batch
// entry it contains NumActions values for the first
// quantile, then NumActions values for the second one,
// and so on.
type QuantileNet struct {
	Net          anynet.Net
	ObsSize      int
	Hidden       []int
	NumActions   int
	NumQuantiles int
}

// NewQuantileNet creates a QuantileNet with tanh hidden
// layers of the given sizes.
func NewQuantileNet(c anyvec.Creator, obsSize int, hidden []int,
	numActions, numQuantiles int) *QuantileNet {
	var net anynet.Net
	inSize := obsSize
	for _, size := range hidden {
		net = append(net, anynet.NewFC(c, inSize, size), anynet.Tanh)
		inSize = size
	}
	net = append(net, anynet.NewFC(c, inSize, numActions*numQuantiles))
	return &QuantileNet{
		Net:          net,
		ObsSize:      obsSize,
		Hidden:       hidden,
		NumActions:   numActions,
		NumQuantiles: numQuantiles,
	}
}

// Apply applies the network to a batch of observations.
func (q *QuantileNet) Apply(obs anydiff.Res, batch int) anydiff.Res {
	return q.Net.Apply(obs, batch)
}

// Parameters returns the network parameters.
func (q *QuantileNet) Parameters() []*anydiff.Var {
	return q.Net.Parameters()
}

// QValues computes the mean over quantiles for every
// action, yielding one Q-value row per batch entry.
func (q *QuantileNet) QValues(c anyvec.Creator, obs []float64) [][]float64 {
	batch := len(obs) / q.ObsSize
	in := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(obs)))
	out := q.Apply(in, batch).Output()
	comps := c.Float64Slice(out.Data())

	res := make([][]float64, batch)
	rowSize := q.NumActions * q.NumQuantiles
	for i := range res {
		row := comps[i*rowSize : (i+1)*rowSize]
		values := make([]float64, q.NumActions)
		for j, x := range row {
			values[j%q.NumActions] += x / float64(q.NumQuantiles)
		}
		res[i] = values
	}
	return res
}

// GreedyActions selects the action with the highest mean
// return for each batch entry.
func (q *QuantileNet) GreedyActions(c anyvec.Creator, obs []float64) []int {
	values := q.QValues(c, obs)
	res := make([]int, len(values))
	for i, row := range values {
		best := 0
		for j, x := range row {
			if x > row[best] {
				best = j
			}
		}
		res[i] = best
	}
	return res
}

// ActionQuantiles extracts, for every batch entry, the
// predicted quantiles of the chosen action.
//
// The out argument should be the result of Apply for the
// same batch size.
func (q *QuantileNet) ActionQuantiles(out anydiff.Res, actions []int,
	batch int) anydiff.Res {
	c := out.Output().Creator()
	mask := make([]float64, batch*q.NumQuantiles*q.NumActions)
	for i, action := range actions {
		for j := 0; j < q.NumQuantiles; j++ {
			mask[(i*q.NumQuantiles+j)*q.NumActions+action] = 1
		}
	}
	maskConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(mask)))
	return anydiff.SumCols(&anydiff.Matrix{
		Data: anydiff.Mul(out, maskConst),
		Rows: batch * q.NumQuantiles,
		Cols: q.NumActions,
	})
}

// Predict returns a one-hot vector for the greedy action.
//
// This implements the policy contract used by the save
// and load tests.
func (q *QuantileNet) Predict(c anyvec.Creator, obs []float64) []float64 {
	action := q.GreedyActions(c, obs[:q.ObsSize])[0]
	res := make([]float64, q.NumActions)
	res[action] = 1
	return res
}

// Save writes the network to a file.
func (q *QuantileNet) Save(path string) (err error) {
	defer essentials.AddCtxTo("save quantile net", &err)
	return serializer.SaveAny(path, q)
}

// LoadQuantileNet reads a network saved with Save.
func LoadQuantileNet(path string) (net *QuantileNet, err error) {
	defer essentials.AddCtxTo("load quantile net", &err)
	if err := serializer.LoadAny(path, &net); err != nil {
		return nil, err
	}
	return net, nil
}

// SerializerType returns the unique ID used to serialize
// a QuantileNet with the serializer package.
func (q *QuantileNet) SerializerType() string {
	return "github.com/unixpickle/anyrl-contrib/anyqrdqn.QuantileNet"
}

// Serialize serializes the QuantileNet.
func (q *QuantileNet) Serialize() ([]byte, error) {
	hiddenData, err := json.Marshal(q.Hidden)
	if err != nil {
		return nil, err
	}
	return serializer.SerializeAny(q.Net, q.ObsSize, hiddenData, q.NumActions,
		q.NumQuantiles)
}

// DeserializeQuantileNet deserializes a QuantileNet.
func DeserializeQuantileNet(d []byte) (*QuantileNet, error) {
	var res QuantileNet
	var hiddenData []byte
	err := serializer.DeserializeAny(d, &res.Net, &res.ObsSize, &hiddenData,
		&res.NumActions, &res.NumQuantiles)
	if err != nil {
		return nil, essentials.AddCtx("deserialize quantile net", err)
	}
	if err := json.Unmarshal(hiddenData, &res.Hidden); err != nil {
		return nil, essentials.AddCtx("deserialize quantile net", err)
	}
	return &res, nil
}
