package anyrec

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
)

// Recurrence identifiers for RecurrentPolicy.
const (
	RecurrenceLSTM = "lstm"
	RecurrenceGRU  = "gru"
)

// A RecurrentPolicy pairs a recurrent base with actor and
// critic heads.
//
// The base consumes observations and carries the hidden
// state across timesteps.
// The actor head maps base outputs to action space
// parameters; the critic head maps them to value
// estimates.
type RecurrentPolicy struct {
	Base   anyrnn.Block
	Actor  anynet.Layer
	Critic anynet.Layer

	ObsSize    int
	HiddenSize int
	ParamSize  int

	// Recurrence indicates the base cell type, either
	// RecurrenceLSTM or RecurrenceGRU.
	Recurrence string
}

// NewLSTMPolicy creates a RecurrentPolicy with an LSTM
// base.
//
// The actor head starts at zero to encourage exploration.
func NewLSTMPolicy(c anyvec.Creator, obsSize, hiddenSize,
	paramSize int) *RecurrentPolicy {
	return &RecurrentPolicy{
		Base:       anyrnn.NewLSTM(c, obsSize, hiddenSize),
		Actor:      anynet.NewFCZero(c, hiddenSize, paramSize),
		Critic:     anynet.NewFC(c, hiddenSize, 1),
		ObsSize:    obsSize,
		HiddenSize: hiddenSize,
		ParamSize:  paramSize,
		Recurrence: RecurrenceLSTM,
	}
}

// NewGRUPolicy is like NewLSTMPolicy with a GRU base.
func NewGRUPolicy(c anyvec.Creator, obsSize, hiddenSize,
	paramSize int) *RecurrentPolicy {
	return &RecurrentPolicy{
		Base:       NewGRU(c, obsSize, hiddenSize),
		Actor:      anynet.NewFCZero(c, hiddenSize, paramSize),
		Critic:     anynet.NewFC(c, hiddenSize, 1),
		ObsSize:    obsSize,
		HiddenSize: hiddenSize,
		ParamSize:  paramSize,
		Recurrence: RecurrenceGRU,
	}
}

// Aliases matching the conventional policy names.
var (
	NewMlpLstmPolicy = NewLSTMPolicy
	NewMlpGruPolicy  = NewGRUPolicy
)

// NewPolicy creates a RecurrentPolicy for the given
// recurrence identifier.
func NewPolicy(c anyvec.Creator, recurrence string, obsSize, hiddenSize,
	paramSize int) *RecurrentPolicy {
	switch recurrence {
	case RecurrenceGRU:
		return NewGRUPolicy(c, obsSize, hiddenSize, paramSize)
	default:
		return NewLSTMPolicy(c, obsSize, hiddenSize, paramSize)
	}
}

// ActorBlock returns the base joined with the actor head
// as a single anyrnn.Block, suitable for rollouts.
func (r *RecurrentPolicy) ActorBlock() anyrnn.Block {
	return anyrnn.Stack{r.Base, &anyrnn.LayerBlock{Layer: r.Actor}}
}

// Parameters returns all trainable variables of the base
// and both heads.
func (r *RecurrentPolicy) Parameters() []*anydiff.Var {
	return anynet.AllParameters(r.Base, r.Actor, r.Critic)
}
