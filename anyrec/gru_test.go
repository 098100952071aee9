package anyrec

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestGRUStep(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	gru := NewGRU(c, 2, 3)
	randomizeVars(gru.Parameters(), rand.New(rand.NewSource(1)))

	in := []float64{0.5, -1, 0.25, 2}
	res := gru.Step(gru.Start(2), c.MakeVectorData(in))

	actual := res.Output().Data().([]float64)
	if len(actual) != 6 {
		t.Fatalf("expected 6 outputs but got %d", len(actual))
	}
	state := gru.InitState.Vector.Data().([]float64)
	for i := 0; i < 2; i++ {
		expected := gruStepExpected(gru, state, in[i*2:(i+1)*2])
		for j, x := range expected {
			a := actual[i*3+j]
			if math.Abs(a-x) > 1e-8 {
				t.Errorf("output %d,%d: expected %f but got %f", i, j, x, a)
			}
		}
	}

	newState := res.State().(*gruState)
	for i, x := range actual {
		if newState.vec.Data().([]float64)[i] != x {
			t.Fatal("state should match output")
		}
	}
}

func TestGRUGradient(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	gru := NewGRU(c, 2, 3)
	gen := rand.New(rand.NewSource(2))
	randomizeVars(gru.Parameters(), gen)

	in := c.MakeVectorData([]float64{0.3, -0.7, 1.2, 0.1})
	loss := func() float64 {
		out := gru.Step(gru.Start(2), in).Output()
		return anyvec.Sum(out).(float64)
	}

	grad := anydiff.NewGrad(gru.Parameters()...)
	res := gru.Step(gru.Start(2), in)
	_, stateGrad := res.Propagate(anyvec.Ones(c, 6), nil, grad)
	gru.PropagateStart(stateGrad, grad)

	const delta = 1e-6
	for varIdx, v := range gru.Parameters() {
		gradData := grad[v].Data().([]float64)
		data := v.Vector.Data().([]float64)
		for i := range data {
			old := data[i]
			data[i] = old + delta
			v.Vector.SetData(data)
			plus := loss()
			data[i] = old - delta
			v.Vector.SetData(data)
			minus := loss()
			data[i] = old
			v.Vector.SetData(data)

			approx := (plus - minus) / (2 * delta)
			if math.Abs(approx-gradData[i]) > 1e-4 {
				t.Errorf("variable %d entry %d: expected %f but got %f",
					varIdx, i, approx, gradData[i])
			}
		}
	}
}

func TestGRUReduce(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	gru := NewGRU(c, 2, 3)
	randomizeVars(gru.Parameters(), rand.New(rand.NewSource(3)))

	in := []float64{0.5, -1, 0.25, 2, -0.75, 0.125}
	full := gru.Step(gru.Start(3), c.MakeVectorData(in))

	reduced := gru.Start(3).Reduce(anyrnn.PresentMap{true, false, true})
	if reduced.Present().NumPresent() != 2 {
		t.Fatalf("expected 2 present but got %d", reduced.Present().NumPresent())
	}
	subIn := append(append([]float64{}, in[:2]...), in[4:]...)
	sub := gru.Step(reduced, c.MakeVectorData(subIn))

	fullOut := full.Output().Data().([]float64)
	subOut := sub.Output().Data().([]float64)
	expected := append(append([]float64{}, fullOut[:3]...), fullOut[6:]...)
	for i, x := range expected {
		if math.Abs(subOut[i]-x) > 1e-8 {
			t.Errorf("output %d: expected %f but got %f", i, x, subOut[i])
		}
	}
}

func TestGRUExpand(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	sg := &gruState{
		vec:     c.MakeVectorData([]float64{1, 2, 3, 4}),
		present: anyrnn.PresentMap{true, false, true},
		hidden:  2,
	}
	expanded := sg.Expand(anyrnn.PresentMap{true, true, true}).(*gruState)
	actual := expanded.vec.Data().([]float64)
	expected := []float64{1, 2, 0, 0, 3, 4}
	for i, x := range expected {
		if actual[i] != x {
			t.Errorf("entry %d: expected %f but got %f", i, x, actual[i])
		}
	}
}

func TestGRUSerialize(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	gru := NewGRU(c, 3, 5)
	randomizeVars(gru.Parameters(), rand.New(rand.NewSource(4)))

	data, err := gru.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := DeserializeGRU(data)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.InSize != 3 || loaded.HiddenSize != 5 {
		t.Errorf("bad sizes: %d, %d", loaded.InSize, loaded.HiddenSize)
	}
	p1 := gru.Parameters()
	p2 := loaded.Parameters()
	if len(p1) != len(p2) {
		t.Fatalf("expected %d parameters but got %d", len(p1), len(p2))
	}
	for i := range p1 {
		diff := p1[i].Vector.Copy()
		diff.Sub(p2[i].Vector)
		if anyvec.AbsMax(diff).(float64) > 1e-8 {
			t.Errorf("parameter %d differs", i)
		}
	}
}

// gruStepExpected computes one GRU step for one sequence
// using plain float arithmetic.
func gruStepExpected(g *GRU, state, in []float64) []float64 {
	update := make([]float64, g.HiddenSize)
	reset := make([]float64, g.HiddenSize)
	for i := range update {
		update[i] = sigmoid(fcRow(g.UpdateIn, i, in) + fcRow(g.UpdateState, i, state))
		reset[i] = sigmoid(fcRow(g.ResetIn, i, in) + fcRow(g.ResetState, i, state))
	}
	gated := make([]float64, g.HiddenSize)
	for i := range gated {
		gated[i] = reset[i] * state[i]
	}
	res := make([]float64, g.HiddenSize)
	for i := range res {
		cand := math.Tanh(fcRow(g.CandIn, i, in) + fcRow(g.CandState, i, gated))
		res[i] = (1-update[i])*state[i] + update[i]*cand
	}
	return res
}

func fcRow(fc *anynet.FC, row int, in []float64) float64 {
	weights := fc.Weights.Vector.Data().([]float64)
	biases := fc.Biases.Vector.Data().([]float64)
	res := biases[row]
	for i, x := range in {
		res += weights[row*fc.InCount+i] * x
	}
	return res
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func randomizeVars(vars []*anydiff.Var, gen *rand.Rand) {
	for _, v := range vars {
		data := make([]float64, v.Vector.Len())
		for i := range data {
			data[i] = gen.NormFloat64() * 0.5
		}
		v.Vector.SetData(data)
	}
}
