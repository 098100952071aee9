package anyars

import (
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/unixpickle/anyrl"
	anyrlcontrib "github.com/unixpickle/anyrl-contrib"
	"github.com/unixpickle/anyvec/anyvec64"
)

// matchEnv rewards actions close to twice the observation.
type matchEnv struct {
	gen   *rand.Rand
	x     float64
	steps int
}

func (m *matchEnv) Reset() ([]float64, error) {
	m.x = m.gen.Float64()*2 - 1
	m.steps = 0
	return []float64{m.x}, nil
}

func (m *matchEnv) Step(action []float64) ([]float64, float64, bool, error) {
	diff := action[0] - 2*m.x
	m.x = m.gen.Float64()*2 - 1
	m.steps++
	return []float64{m.x}, -diff * diff, m.steps >= 5, nil
}

func TestLearnImprovement(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	model := &ARS{
		Policy:          NewLinearPolicy(c, 1, 1),
		NumDelta:        8,
		NumTopDelta:     4,
		DeltaStd:        0.1,
		StepSize:        0.1,
		MaxEpisodeSteps: 5,
		Rand:            rand.New(rand.NewSource(1)),
	}
	envs := []anyrl.Env{
		&matchEnv{gen: rand.New(rand.NewSource(2))},
		&matchEnv{gen: rand.New(rand.NewSource(3))},
	}

	evalEnv := &matchEnv{gen: rand.New(rand.NewSource(4))}
	before := meanReward(t, model, evalEnv)
	if err := model.Learn(envs, 40); err != nil {
		t.Fatal(err)
	}
	after := meanReward(t, model, evalEnv)
	if after <= before {
		t.Errorf("reward did not improve: %f -> %f", before, after)
	}
}

func TestLearnEpisodeCap(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	model := &ARS{
		Policy:          NewLinearPolicy(c, 1, 1),
		NumDelta:        2,
		MaxEpisodeSteps: 3,
		Rand:            rand.New(rand.NewSource(5)),
	}

	// The environment never terminates on its own, so the
	// cap is the only stopping condition.
	env := &endlessEnv{}
	if err := model.Learn([]anyrl.Env{env}, 2); err != nil {
		t.Fatal(err)
	}
	if env.steps != 2*2*2*3 {
		t.Errorf("expected %d steps but got %d", 2*2*2*3, env.steps)
	}
}

type endlessEnv struct {
	steps int
}

func (e *endlessEnv) Reset() ([]float64, error) {
	return []float64{0}, nil
}

func (e *endlessEnv) Step(action []float64) ([]float64, float64, bool, error) {
	e.steps++
	return []float64{0}, 0, false, nil
}

func TestLearnNoEnvs(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	model := &ARS{Policy: NewLinearPolicy(c, 1, 1)}
	if err := model.Learn(nil, 1); err == nil {
		t.Error("expected error for empty environment list")
	}
}

func TestSaveLoad(t *testing.T) {
	dir, err := os.MkdirTemp("", "ars")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	c := anyvec64.DefaultCreator{}
	model := &ARS{
		Policy:      NewPolicy(c, 3, []int{8}, 2),
		NumDelta:    16,
		NumTopDelta: 8,
		DeltaStd:    0.025,
		StepSize:    0.01,
	}

	gen := rand.New(rand.NewSource(6))
	observations := make([][]float64, 8)
	for i := range observations {
		observations[i] = []float64{gen.NormFloat64(), gen.NormFloat64(),
			gen.NormFloat64()}
	}
	var before [][]float64
	for _, obs := range observations {
		before = append(before, model.Predict(obs, true))
	}

	path := filepath.Join(dir, "model.zip")
	if err := model.Save(path, nil); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path, c)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.NumDelta != 16 || loaded.NumTopDelta != 8 ||
		loaded.DeltaStd != 0.025 || loaded.StepSize != 0.01 {
		t.Errorf("bad hyperparameters: %+v", loaded)
	}
	if !reflect.DeepEqual(loaded.Policy.Hidden, []int{8}) {
		t.Errorf("bad hidden sizes: %v", loaded.Policy.Hidden)
	}
	for i, obs := range observations {
		after := loaded.Predict(obs, true)
		if !reflect.DeepEqual(before[i], after) {
			t.Errorf("observation %d: action changed after load", i)
		}
	}
}

func TestSetParametersErrors(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	model := &ARS{Policy: NewLinearPolicy(c, 2, 1)}

	params := map[string]*anyrlcontrib.StateDict{
		"value_net": anyrlcontrib.NewStateDict(),
	}
	if err := anyrlcontrib.SetParameters(model, params, false); err == nil {
		t.Error("expected error for unknown object")
	}
	if err := anyrlcontrib.SetParameters(model,
		map[string]*anyrlcontrib.StateDict{}, true); err == nil {
		t.Error("expected error for missing object")
	}
}

func meanReward(t *testing.T, model *ARS, env anyrl.Env) float64 {
	t.Helper()
	var total float64
	for i := 0; i < 10; i++ {
		obs, err := env.Reset()
		if err != nil {
			t.Fatal(err)
		}
		for {
			next, reward, done, err := env.Step(model.Predict(obs, true))
			if err != nil {
				t.Fatal(err)
			}
			total += reward
			if done {
				break
			}
			obs = next
		}
	}
	return total / 10
}
