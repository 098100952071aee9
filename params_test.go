package anyrlcontrib

import (
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

type testAgent struct {
	policyParams []*anydiff.Var
	criticParams []*anydiff.Var
}

func newTestAgent(c anyvec.Creator) *testAgent {
	return &testAgent{
		policyParams: []*anydiff.Var{
			{Vector: c.MakeVectorData(c.MakeNumericList([]float64{1, 2, 3}))},
			{Vector: c.MakeVectorData(c.MakeNumericList([]float64{4, 5}))},
		},
		criticParams: []*anydiff.Var{
			{Vector: c.MakeVectorData(c.MakeNumericList([]float64{-1, -2}))},
		},
	}
}

func (t *testAgent) Parameters() map[string]*StateDict {
	return map[string]*StateDict{
		"policy": VarsStateDict("policy", t.policyParams),
		"critic": VarsStateDict("critic", t.criticParams),
	}
}

func TestSetParametersUnknownObject(t *testing.T) {
	agent := newTestAgent(anyvec64.DefaultCreator{})
	params := GetParameters(agent)
	params["not_a_valid_object"] = NewStateDict()
	if err := SetParameters(agent, params, true); err == nil {
		t.Error("expected error for unknown object (exact match)")
	}
	if err := SetParameters(agent, params, false); err == nil {
		t.Error("expected error for unknown object (loose match)")
	}
}

func TestSetParametersMissingObject(t *testing.T) {
	agent := newTestAgent(anyvec64.DefaultCreator{})
	params := GetParameters(agent)
	delete(params, "critic")
	if err := SetParameters(agent, params, true); err == nil {
		t.Error("expected error for missing object under exact match")
	}
	if err := SetParameters(agent, params, false); err != nil {
		t.Errorf("loose match should allow missing objects: %s", err)
	}
}

func TestSetParametersMissingTensor(t *testing.T) {
	agent := newTestAgent(anyvec64.DefaultCreator{})
	params := GetParameters(agent)
	trimmed := map[string]*StateDict{}
	for name, dict := range params {
		short := NewStateDict()
		names := dict.Names()
		for _, key := range names[:len(names)-1] {
			vec, _ := dict.Get(key)
			short.Set(key, vec)
		}
		trimmed[name] = short
	}
	if err := SetParameters(agent, trimmed, true); err == nil {
		t.Error("expected error for missing tensor under strict load")
	}
}

func TestSetParametersUnknownTensor(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	agent := newTestAgent(c)
	params := GetParameters(agent)
	extended := params["policy"].Copy()
	first, _ := extended.Get("policy.0")
	first.AddScalar(c.MakeNumeric(2.5))
	extended.Set("policy.999", c.MakeVector(3))
	params["policy"] = extended

	if err := SetParameters(agent, params, true); err == nil {
		t.Error("expected error for unknown tensor under strict load")
	}
	if err := SetParameters(agent, params, false); err != nil {
		t.Errorf("loose load should skip unknown tensors: %s", err)
	}

	updated, _ := GetParameters(agent)["policy"].Get("policy.0")
	diff := updated.Copy()
	diff.Sub(first)
	if anyvec.AbsMax(diff).(float64) > 1e-8 {
		t.Error("known tensors should still be loaded")
	}
}

func TestSetParametersPartial(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	agent := newTestAgent(c)
	original := GetParameters(agent)

	// Replace everything except the last entry of each
	// state dict.
	randomized := map[string]*StateDict{}
	for name, dict := range original {
		repl := NewStateDict()
		names := dict.Names()
		for _, key := range names[:len(names)-1] {
			vec, _ := dict.Get(key)
			newVec := vec.Copy()
			newVec.AddScalar(c.MakeNumeric(1.5))
			repl.Set(key, newVec)
		}
		randomized[name] = repl
	}
	if err := SetParameters(agent, randomized, false); err != nil {
		t.Fatal(err)
	}

	updated := GetParameters(agent)
	for name, dict := range original {
		names := dict.Names()
		for i, key := range names {
			origVec, _ := dict.Get(key)
			newVec, _ := updated[name].Get(key)
			diff := origVec.Copy()
			diff.Sub(newVec)
			changed := anyvec.AbsMax(diff).(float64) > 1e-8
			if i == len(names)-1 && changed {
				t.Errorf("%s.%s changed despite not being loaded", name, key)
			} else if i != len(names)-1 && !changed {
				t.Errorf("%s.%s did not change as expected", name, key)
			}
		}
	}
}

func TestSetParametersLengthMismatch(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	agent := newTestAgent(c)
	params := GetParameters(agent)
	bad := NewStateDict()
	bad.Set("policy.0", c.MakeVector(7))
	params["policy"] = bad
	if err := SetParameters(agent, params, false); err == nil {
		t.Error("expected error for mismatching vector length")
	}
}

func TestStateDictConvert(t *testing.T) {
	c64 := anyvec64.DefaultCreator{}
	agent := newTestAgent(c64)
	dict := agent.Parameters()["policy"]
	conv := dict.Convert(c64)
	for _, name := range dict.Names() {
		origVec, _ := dict.Get(name)
		newVec, _ := conv.Get(name)
		diff := origVec.Copy()
		diff.Sub(newVec)
		if anyvec.AbsMax(diff).(float64) > 1e-8 {
			t.Errorf("entry %s changed during conversion", name)
		}
	}
}
