package anyrlcontrib

import (
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestReplayBufferRing(t *testing.T) {
	buf := NewReplayBuffer(3, 2, 1)
	for i := 0; i < 5; i++ {
		x := float64(i)
		buf.Append([]float64{x, x}, []float64{x + 1, x + 1}, []float64{x},
			x, i%2 == 0, false)
	}
	if buf.Len() != 3 {
		t.Fatalf("expected length 3 but got %d", buf.Len())
	}
	contents := buf.Contents()
	if !reflect.DeepEqual(contents.Rewards, []float64{2, 3, 4}) {
		t.Errorf("unexpected rewards: %v", contents.Rewards)
	}
	if !reflect.DeepEqual(contents.Obs, []float64{2, 2, 3, 3, 4, 4}) {
		t.Errorf("unexpected observations: %v", contents.Obs)
	}
}

func TestReplayBufferSample(t *testing.T) {
	buf := NewReplayBuffer(16, 1, 1)
	buf.Append([]float64{1}, []float64{2}, []float64{0}, 1, true, true)
	gen := rand.New(rand.NewSource(5))
	batch, err := buf.Sample(gen, 4)
	if err != nil {
		t.Fatal(err)
	}
	if batch.N != 4 {
		t.Fatalf("expected 4 transitions but got %d", batch.N)
	}
	for i := 0; i < 4; i++ {
		// Timeouts are not treated as terminal states.
		if batch.Dones[i] {
			t.Error("timeout transition marked as done")
		}
		if !batch.Timeouts[i] {
			t.Error("timeout flag lost")
		}
	}

	empty := NewReplayBuffer(4, 1, 1)
	if _, err := empty.Sample(gen, 1); err == nil {
		t.Error("expected error when sampling an empty buffer")
	}
}

func TestReplayBufferExtend(t *testing.T) {
	buf := NewReplayBuffer(8, 1, 1)
	err := buf.Extend(
		[][]float64{{1}, {2}},
		[][]float64{{2}, {3}},
		[][]float64{{0}, {1}},
		[]float64{0.5, -0.5},
		[]bool{false, true},
		[]bool{false, false},
	)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 2 {
		t.Fatalf("expected length 2 but got %d", buf.Len())
	}
	if err := buf.Extend(nil, nil, nil, []float64{1}, nil, nil); err == nil {
		t.Error("expected error for mismatching lengths")
	}
}

func TestReplayBufferSaveLoad(t *testing.T) {
	dir, err := os.MkdirTemp("", "replaybuffer")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	buf := NewReplayBuffer(4, 2, 1)
	gen := rand.New(rand.NewSource(7))
	for i := 0; i < 6; i++ {
		buf.Append(
			[]float64{gen.NormFloat64(), gen.NormFloat64()},
			[]float64{gen.NormFloat64(), gen.NormFloat64()},
			[]float64{gen.NormFloat64()},
			gen.NormFloat64(), gen.Intn(2) == 0, gen.Intn(4) == 0,
		)
	}

	path := filepath.Join(dir, "buffer")
	if err := buf.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadReplayBuffer(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(buf, loaded) {
		t.Error("mismatching buffers after save/load")
	}
}
