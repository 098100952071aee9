package anytrpo

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyrl"
	anyrlcontrib "github.com/unixpickle/anyrl-contrib"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

// identityEnv rewards copying the observed state.
type identityEnv struct {
	n     int
	gen   *rand.Rand
	state int
	steps int
}

func (i *identityEnv) Reset() ([]float64, error) {
	i.state = i.gen.Intn(i.n)
	i.steps = 0
	return i.obs(), nil
}

func (i *identityEnv) Step(action []float64) ([]float64, float64, bool, error) {
	var reward float64
	best := 0
	for j := range action {
		if action[j] > action[best] {
			best = j
		}
	}
	if best == i.state {
		reward = 1
	}
	i.state = i.gen.Intn(i.n)
	i.steps++
	return i.obs(), reward, i.steps >= 20, nil
}

func (i *identityEnv) obs() []float64 {
	res := make([]float64, i.n)
	res[i.state] = 1
	return res
}

func TestFisherProductPositive(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	model := &TRPO{
		Policy:      NewPolicy(c, 3, []int{8}, 3),
		ValueNet:    NewValueNet(c, 3, []int{8}),
		ActionSpace: anyrl.Softmax{},
	}

	gen := rand.New(rand.NewSource(1))
	obs := make([]float64, 4*3)
	for i := range obs {
		obs[i] = gen.NormFloat64()
	}
	obsConst := anydiff.NewConst(c.MakeVectorData(obs))
	oldOuts := model.Policy.Apply(obsConst, 4).Output().Copy()

	dir := anydiff.NewGrad(model.Policy.Parameters()...)
	for _, v := range dir {
		data := make([]float64, v.Len())
		for i := range data {
			data[i] = gen.NormFloat64()
		}
		v.SetData(c.MakeNumericList(data))
	}

	product := dotGrad(dir, model.applyFisher(obs, 4, oldOuts, dir)).(float64)
	if product <= 0 {
		t.Errorf("expected positive curvature but got %f", product)
	}
}

func TestUpdateKLBound(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	model := &TRPO{
		Policy:      NewPolicy(c, 2, []int{8}, 2),
		ValueNet:    NewValueNet(c, 2, []int{8}),
		ActionSpace: anyrl.Softmax{},
		TargetKL:    0.01,
	}
	env := &identityEnv{n: 2, gen: rand.New(rand.NewSource(3))}

	b, _, err := model.collect(env, 128)
	if err != nil {
		t.Fatal(err)
	}
	obsConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(b.obs)))
	oldOuts := model.Policy.Apply(obsConst, b.n).Output().Copy()

	model.update(b)

	newOuts := model.Policy.Apply(obsConst, b.n)
	klRes := model.ActionSpace.KL(anydiff.NewConst(oldOuts), newOuts, b.n)
	var kl float64
	for _, x := range klRes.Output().Data().([]float64) {
		kl += x / float64(b.n)
	}
	if kl > model.TargetKL*1.5 {
		t.Errorf("mean KL %f exceeds target %f", kl, model.TargetKL)
	}
}

func TestLearnImprovement(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	model := &TRPO{
		Policy:      NewPolicy(c, 3, []int{16}, 3),
		ValueNet:    NewValueNet(c, 3, []int{16}),
		ActionSpace: anyrl.Softmax{},
		BatchSteps:  400,
	}
	env := &identityEnv{n: 3, gen: rand.New(rand.NewSource(5))}
	evalEnv := &identityEnv{n: 3, gen: rand.New(rand.NewSource(6))}

	before := meanEpisodeReward(t, model, evalEnv)
	if err := model.Learn(env, 4000); err != nil {
		t.Fatal(err)
	}
	after := meanEpisodeReward(t, model, evalEnv)
	if after <= before {
		t.Errorf("reward did not improve: %f -> %f", before, after)
	}
}

func TestGaussianPredict(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	model := &TRPO{
		Policy:      NewPolicy(c, 2, []int{8}, 4),
		ValueNet:    NewValueNet(c, 2, []int{8}),
		ActionSpace: anyrlcontrib.Gaussian{},
	}

	obs := []float64{0.5, -0.25}
	in := anydiff.NewConst(c.MakeVectorData(obs))
	params := model.Policy.Apply(in, 1).Output().Data().([]float64)
	action := model.Predict(obs, true)
	if len(action) != 2 {
		t.Fatalf("expected 2 action components but got %d", len(action))
	}
	for j := range action {
		if math.Abs(action[j]-params[j]) > 1e-8 {
			t.Errorf("component %d: expected mean %f but got %f", j, params[j],
				action[j])
		}
	}
}

func TestPredictSeeded(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	model := &TRPO{
		Policy:      NewPolicy(c, 2, []int{8}, 4),
		ValueNet:    NewValueNet(c, 2, []int{8}),
		ActionSpace: anyrlcontrib.Gaussian{},
		Rand:        rand.New(rand.NewSource(7)),
	}

	obs := []float64{0.5, -0.25}
	first := model.Predict(obs, false)
	model.Rand = rand.New(rand.NewSource(7))
	second := model.Predict(obs, false)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same seed: expected %v but got %v", first, second)
	}
	model.Rand = rand.New(rand.NewSource(8))
	third := model.Predict(obs, false)
	if reflect.DeepEqual(first, third) {
		t.Error("different seeds should give different samples")
	}
}

func TestSaveLoad(t *testing.T) {
	dir, err := os.MkdirTemp("", "trpo")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	c := anyvec64.DefaultCreator{}
	model := &TRPO{
		Policy:      NewPolicy(c, 4, []int{8}, 2),
		ValueNet:    NewValueNet(c, 4, []int{6}),
		ActionSpace: anyrl.Softmax{},
		TargetKL:    0.02,
		CGIters:     7,
		Verbose:     1,
	}

	path := filepath.Join(dir, "model.zip")
	if err := model.Save(path, nil); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path, c, anyrl.Softmax{})
	if err != nil {
		t.Fatal(err)
	}
	if loaded.TargetKL != 0.02 || loaded.CGIters != 7 || loaded.Verbose != 1 {
		t.Errorf("bad hyperparameters: %+v", loaded)
	}
	if !reflect.DeepEqual(loaded.ValueNet.Hidden, []int{6}) {
		t.Errorf("bad value hidden sizes: %v", loaded.ValueNet.Hidden)
	}
	assertVarsEqual(t, model.Policy.Parameters(), loaded.Policy.Parameters())
	assertVarsEqual(t, model.ValueNet.Parameters(), loaded.ValueNet.Parameters())
}

func assertVarsEqual(t *testing.T, v1, v2 []*anydiff.Var) {
	t.Helper()
	if len(v1) != len(v2) {
		t.Fatalf("expected %d variables but got %d", len(v1), len(v2))
	}
	for i := range v1 {
		diff := v1[i].Vector.Copy()
		diff.Sub(v2[i].Vector)
		if anyvec.AbsMax(diff).(float64) > 1e-8 {
			t.Errorf("variable %d differs", i)
		}
	}
}

func meanEpisodeReward(t *testing.T, model *TRPO, env anyrl.Env) float64 {
	t.Helper()
	var total float64
	for i := 0; i < 30; i++ {
		obs, err := env.Reset()
		if err != nil {
			t.Fatal(err)
		}
		for {
			next, reward, done, err := env.Step(model.Predict(obs, false))
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
	return total / 30
}
