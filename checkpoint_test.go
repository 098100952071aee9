package anyrlcontrib

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/anyvec/anyvec64"
)

type testConfig struct {
	Discount float64 `json:"discount"`
	Verbose  int     `json:"verbose"`
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "checkpoint")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	c := anyvec64.DefaultCreator{}
	agent := newTestAgent(c)
	conf, err := EncodeConfig(&testConfig{Discount: 0.97, Verbose: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ckpt := &Checkpoint{
		Algorithm: "TestAlgo",
		Config:    conf,
		Params:    GetParameters(agent),
	}
	path := filepath.Join(dir, "agent.zip")
	if err := WriteCheckpoint(path, ckpt); err != nil {
		t.Fatal(err)
	}

	loaded, err := ReadCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := loaded.CheckAlgorithm("TestAlgo"); err != nil {
		t.Error(err)
	}
	if err := loaded.CheckAlgorithm("OtherAlgo"); err == nil {
		t.Error("expected algorithm mismatch error")
	}

	outConf := &testConfig{Discount: 0.99}
	if err := loaded.DecodeConfig(outConf); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(outConf, &testConfig{Discount: 0.97, Verbose: 2}) {
		t.Errorf("unexpected config: %+v", outConf)
	}

	newAgent := newTestAgent(c)
	for _, p := range newAgent.policyParams {
		p.Vector.Scale(c.MakeNumeric(-3))
	}
	if err := SetParameters(newAgent, loaded.Params, true); err != nil {
		t.Fatal(err)
	}
	assertSameParams(t, agent, newAgent)
}

func TestCheckpointExcludeInclude(t *testing.T) {
	conf, err := EncodeConfig(&testConfig{Discount: 0.97, Verbose: 2},
		&SaveOptions{Exclude: []string{"verbose"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := conf["verbose"]; ok {
		t.Error("excluded key was saved")
	}
	out := &testConfig{}
	if err := (&Checkpoint{Config: conf}).DecodeConfig(out); err != nil {
		t.Fatal(err)
	}
	if out.Verbose != 0 {
		t.Errorf("excluded key should fall back to default, got %d", out.Verbose)
	}

	conf, err = EncodeConfig(&testConfig{Verbose: 2}, &SaveOptions{
		Exclude: []string{"verbose"},
		Include: []string{"verbose"},
	})
	if err != nil {
		t.Fatal(err)
	}
	out = &testConfig{}
	if err := (&Checkpoint{Config: conf}).DecodeConfig(out); err != nil {
		t.Fatal(err)
	}
	if out.Verbose != 2 {
		t.Errorf("included key should survive, got %d", out.Verbose)
	}
}

func TestCheckpointCrossCreator(t *testing.T) {
	dir, err := os.MkdirTemp("", "checkpoint")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	c64 := anyvec64.DefaultCreator{}
	agent := newTestAgent(c64)
	ckpt := &Checkpoint{
		Algorithm: "TestAlgo",
		Config:    map[string]json.RawMessage{},
		Params:    GetParameters(agent),
	}
	path := filepath.Join(dir, "agent.zip")
	if err := WriteCheckpoint(path, ckpt); err != nil {
		t.Fatal(err)
	}
	loaded, err := ReadCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}

	c32 := anyvec32.DefaultCreator{}
	converted := loaded.Params["policy"].Convert(c32)
	orig := agent.Parameters()["policy"]
	for _, name := range orig.Names() {
		origVec, _ := orig.Get(name)
		convVec, _ := converted.Get(name)
		origData := origVec.Creator().Float64Slice(origVec.Data())
		convData := convVec.Creator().Float64Slice(convVec.Data())
		for i, x := range origData {
			if diff := x - convData[i]; diff > 1e-4 || diff < -1e-4 {
				t.Errorf("entry %s index %d: %f != %f", name, i, x, convData[i])
			}
		}
	}
}

func assertSameParams(t *testing.T, a1, a2 Agent) {
	t.Helper()
	p1 := a1.Parameters()
	p2 := a2.Parameters()
	for name, dict := range p1 {
		other, ok := p2[name]
		if !ok {
			t.Errorf("missing object %q", name)
			continue
		}
		for _, key := range dict.Names() {
			v1, _ := dict.Get(key)
			v2, ok := other.Get(key)
			if !ok {
				t.Errorf("missing entry %s.%s", name, key)
				continue
			}
			diff := v1.Copy()
			diff.Sub(v2)
			if anyvec.AbsMax(diff).(float64) > 1e-4 {
				t.Errorf("mismatching values for %s.%s", name, key)
			}
		}
	}
}
