package anyrec

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var g GRU
	serializer.RegisterTypedDeserializer(g.SerializerType(), DeserializeGRU)
}

// GRU is a gated recurrent unit, an anyrnn.Block with a
// single hidden state vector.
//
// See https://arxiv.org/abs/1406.1078.
type GRU struct {
	InSize     int
	HiddenSize int

	UpdateIn    *anynet.FC
	UpdateState *anynet.FC
	ResetIn     *anynet.FC
	ResetState  *anynet.FC
	CandIn      *anynet.FC
	CandState   *anynet.FC

	InitState *anydiff.Var
}

// NewGRU creates a GRU with randomized weights and a zero
// start state.
func NewGRU(c anyvec.Creator, inSize, hiddenSize int) *GRU {
	return &GRU{
		InSize:      inSize,
		HiddenSize:  hiddenSize,
		UpdateIn:    anynet.NewFC(c, inSize, hiddenSize),
		UpdateState: anynet.NewFC(c, hiddenSize, hiddenSize),
		ResetIn:     anynet.NewFC(c, inSize, hiddenSize),
		ResetState:  anynet.NewFC(c, hiddenSize, hiddenSize),
		CandIn:      anynet.NewFC(c, inSize, hiddenSize),
		CandState:   anynet.NewFC(c, hiddenSize, hiddenSize),
		InitState:   anydiff.NewVar(c.MakeVector(hiddenSize)),
	}
}

// Start produces the start state for a batch.
func (g *GRU) Start(n int) anyrnn.State {
	c := g.InitState.Vector.Creator()
	chunks := make([]anyvec.Vector, n)
	for i := range chunks {
		chunks[i] = g.InitState.Vector
	}
	present := make(anyrnn.PresentMap, n)
	for i := range present {
		present[i] = true
	}
	return &gruState{
		vec:     c.Concat(chunks...),
		present: present,
		hidden:  g.HiddenSize,
	}
}

// PropagateStart back-propagates through the start state.
func (g *GRU) PropagateStart(s anyrnn.StateGrad, grad anydiff.Grad) {
	gs := s.(*gruState)
	if vecGrad, ok := grad[g.InitState]; ok {
		for i := 0; i < gs.present.NumPresent(); i++ {
			vecGrad.Add(gs.vec.Slice(i*g.HiddenSize, (i+1)*g.HiddenSize))
		}
	}
}

// Step evaluates the block for one timestep.
func (g *GRU) Step(s anyrnn.State, in anyvec.Vector) anyrnn.Res {
	gs := s.(*gruState)
	n := gs.present.NumPresent()
	inPool := anydiff.NewVar(in)
	statePool := anydiff.NewVar(gs.vec)

	update := anydiff.Sigmoid(anydiff.Add(g.UpdateIn.Apply(inPool, n),
		g.UpdateState.Apply(statePool, n)))
	out := anydiff.Pool(update, func(update anydiff.Res) anydiff.Res {
		reset := anydiff.Sigmoid(anydiff.Add(g.ResetIn.Apply(inPool, n),
			g.ResetState.Apply(statePool, n)))
		cand := anydiff.Tanh(anydiff.Add(g.CandIn.Apply(inPool, n),
			g.CandState.Apply(anydiff.Mul(reset, statePool), n)))
		return anydiff.Add(anydiff.Sub(statePool, anydiff.Mul(update, statePool)),
			anydiff.Mul(update, cand))
	})

	vars := anydiff.MergeVarSets(out.Vars())
	vars.Del(inPool)
	vars.Del(statePool)

	return &gruRes{
		inPool:    inPool,
		statePool: statePool,
		out:       out,
		state:     &gruState{vec: out.Output(), present: gs.present, hidden: g.HiddenSize},
		vars:      vars,
	}
}

// Parameters returns the block parameters, including the
// start state.
func (g *GRU) Parameters() []*anydiff.Var {
	res := []*anydiff.Var{g.InitState}
	for _, fc := range []*anynet.FC{g.UpdateIn, g.UpdateState, g.ResetIn,
		g.ResetState, g.CandIn, g.CandState} {
		res = append(res, fc.Parameters()...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// a GRU with the serializer package.
func (g *GRU) SerializerType() string {
	return "github.com/unixpickle/anyrl-contrib/anyrec.GRU"
}

// Serialize serializes the GRU.
func (g *GRU) Serialize() ([]byte, error) {
	return serializer.SerializeAny(g.UpdateIn, g.UpdateState, g.ResetIn,
		g.ResetState, g.CandIn, g.CandState,
		&anyvecsave.S{Vector: g.InitState.Vector}, g.InSize, g.HiddenSize)
}

// DeserializeGRU deserializes a GRU.
func DeserializeGRU(d []byte) (*GRU, error) {
	var res GRU
	var initState *anyvecsave.S
	err := serializer.DeserializeAny(d, &res.UpdateIn, &res.UpdateState,
		&res.ResetIn, &res.ResetState, &res.CandIn, &res.CandState, &initState,
		&res.InSize, &res.HiddenSize)
	if err != nil {
		return nil, essentials.AddCtx("deserialize GRU", err)
	}
	res.InitState = anydiff.NewVar(initState.Vector)
	return &res, nil
}

// gruState is the hidden state for a batch, packed as one
// row per present sequence.
type gruState struct {
	vec     anyvec.Vector
	present anyrnn.PresentMap
	hidden  int
}

func (g *gruState) Present() anyrnn.PresentMap {
	return g.present
}

func (g *gruState) Reduce(p anyrnn.PresentMap) anyrnn.State {
	c := g.vec.Creator()
	var chunks []anyvec.Vector
	var idx int
	for i, pres := range g.present {
		if !pres {
			continue
		}
		if p[i] {
			chunks = append(chunks, g.vec.Slice(idx*g.hidden, (idx+1)*g.hidden))
		}
		idx++
	}
	return &gruState{vec: c.Concat(chunks...), present: p, hidden: g.hidden}
}

func (g *gruState) Expand(p anyrnn.PresentMap) anyrnn.StateGrad {
	c := g.vec.Creator()
	var chunks []anyvec.Vector
	var idx int
	for i, pres := range p {
		if !pres {
			continue
		}
		if g.present[i] {
			chunks = append(chunks, g.vec.Slice(idx*g.hidden, (idx+1)*g.hidden))
			idx++
		} else {
			chunks = append(chunks, c.MakeVector(g.hidden))
		}
	}
	return &gruState{vec: c.Concat(chunks...), present: p, hidden: g.hidden}
}

// gruRes is the result of a single GRU step.
type gruRes struct {
	inPool    *anydiff.Var
	statePool *anydiff.Var
	out       anydiff.Res
	state     *gruState
	vars      anydiff.VarSet
}

func (g *gruRes) State() anyrnn.State {
	return g.state
}

func (g *gruRes) Output() anyvec.Vector {
	return g.out.Output()
}

func (g *gruRes) Vars() anydiff.VarSet {
	return g.vars
}

func (g *gruRes) Propagate(u anyvec.Vector, s anyrnn.StateGrad,
	grad anydiff.Grad) (anyvec.Vector, anyrnn.StateGrad) {
	if s != nil {
		u = u.Copy()
		u.Add(s.(*gruState).vec)
	}
	c := u.Creator()
	grad[g.inPool] = c.MakeVector(g.inPool.Vector.Len())
	grad[g.statePool] = c.MakeVector(g.statePool.Vector.Len())
	g.out.Propagate(u, grad)
	inGrad := grad[g.inPool]
	stateGrad := grad[g.statePool]
	delete(grad, g.inPool)
	delete(grad, g.statePool)
	return inGrad, &gruState{
		vec:     stateGrad,
		present: g.state.present,
		hidden:  g.state.hidden,
	}
}
