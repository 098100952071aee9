package anyrlcontrib

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var r ReplayBuffer
	serializer.RegisterTypedDeserializer(r.SerializerType(), DeserializeReplayBuffer)
}

// A ReplayBuffer is a fixed-capacity ring of environment
// transitions for off-policy training.
//
// Observations and actions are stored as flat rows, so
// the buffer never holds references into live tensors.
type ReplayBuffer struct {
	Capacity   int
	ObsSize    int
	ActionSize int

	obs      []float64
	nextObs  []float64
	actions  []float64
	rewards  []float64
	dones    []bool
	timeouts []bool

	pos  int
	full bool
}

// NewReplayBuffer creates an empty buffer.
func NewReplayBuffer(capacity, obsSize, actionSize int) *ReplayBuffer {
	if capacity <= 0 {
		panic("capacity must be positive")
	}
	return &ReplayBuffer{
		Capacity:   capacity,
		ObsSize:    obsSize,
		ActionSize: actionSize,

		obs:      make([]float64, capacity*obsSize),
		nextObs:  make([]float64, capacity*obsSize),
		actions:  make([]float64, capacity*actionSize),
		rewards:  make([]float64, capacity),
		dones:    make([]bool, capacity),
		timeouts: make([]bool, capacity),
	}
}

// Len returns the number of stored transitions.
func (r *ReplayBuffer) Len() int {
	if r.full {
		return r.Capacity
	}
	return r.pos
}

// Append adds one transition, evicting the oldest one if
// the buffer is full.
//
// The timeout flag marks episodes which were cut off by a
// time limit rather than by a terminal state; such
// transitions still bootstrap from the next observation.
func (r *ReplayBuffer) Append(obs, nextObs, action []float64, reward float64,
	done, timeout bool) {
	if len(obs) != r.ObsSize || len(nextObs) != r.ObsSize {
		panic(fmt.Sprintf("observation size %d (expected %d)", len(obs), r.ObsSize))
	}
	if len(action) != r.ActionSize {
		panic(fmt.Sprintf("action size %d (expected %d)", len(action), r.ActionSize))
	}
	copy(r.obs[r.pos*r.ObsSize:], obs)
	copy(r.nextObs[r.pos*r.ObsSize:], nextObs)
	copy(r.actions[r.pos*r.ActionSize:], action)
	r.rewards[r.pos] = reward
	r.dones[r.pos] = done
	r.timeouts[r.pos] = timeout
	r.pos++
	if r.pos == r.Capacity {
		r.pos = 0
		r.full = true
	}
}

// Extend appends a batch of transitions.
func (r *ReplayBuffer) Extend(obs, nextObs, actions [][]float64, rewards []float64,
	dones, timeouts []bool) error {
	n := len(rewards)
	if len(obs) != n || len(nextObs) != n || len(actions) != n ||
		len(dones) != n || len(timeouts) != n {
		return errors.New("extend replay buffer: mismatching lengths")
	}
	for i := 0; i < n; i++ {
		r.Append(obs[i], nextObs[i], actions[i], rewards[i], dones[i], timeouts[i])
	}
	return nil
}

// Transitions is a packed batch of transitions.
//
// Observation and action rows are concatenated, so row i
// of Obs is Obs[i*obsSize : (i+1)*obsSize].
type Transitions struct {
	N       int
	Obs     []float64
	NextObs []float64
	Actions []float64
	Rewards []float64

	// Dones excludes timeouts: a transition cut off by a
	// time limit still bootstraps its target value.
	Dones []bool

	Timeouts []bool
}

// Sample draws n transitions uniformly at random.
func (r *ReplayBuffer) Sample(gen *rand.Rand, n int) (*Transitions, error) {
	if r.Len() == 0 {
		return nil, errors.New("sample replay buffer: buffer is empty")
	}
	res := &Transitions{N: n}
	for i := 0; i < n; i++ {
		idx := gen.Intn(r.Len())
		res.Obs = append(res.Obs, r.obs[idx*r.ObsSize:(idx+1)*r.ObsSize]...)
		res.NextObs = append(res.NextObs, r.nextObs[idx*r.ObsSize:(idx+1)*r.ObsSize]...)
		res.Actions = append(res.Actions, r.actions[idx*r.ActionSize:(idx+1)*r.ActionSize]...)
		res.Rewards = append(res.Rewards, r.rewards[idx])
		res.Dones = append(res.Dones, r.dones[idx] && !r.timeouts[idx])
		res.Timeouts = append(res.Timeouts, r.timeouts[idx])
	}
	return res, nil
}

// Contents returns a copy of every stored transition in
// insertion order.
func (r *ReplayBuffer) Contents() *Transitions {
	n := r.Len()
	res := &Transitions{N: n}
	for i := 0; i < n; i++ {
		idx := i
		if r.full {
			idx = (r.pos + i) % r.Capacity
		}
		res.Obs = append(res.Obs, r.obs[idx*r.ObsSize:(idx+1)*r.ObsSize]...)
		res.NextObs = append(res.NextObs, r.nextObs[idx*r.ObsSize:(idx+1)*r.ObsSize]...)
		res.Actions = append(res.Actions, r.actions[idx*r.ActionSize:(idx+1)*r.ActionSize]...)
		res.Rewards = append(res.Rewards, r.rewards[idx])
		res.Dones = append(res.Dones, r.dones[idx])
		res.Timeouts = append(res.Timeouts, r.timeouts[idx])
	}
	return res
}

// Save writes the buffer to a file.
func (r *ReplayBuffer) Save(path string) (err error) {
	defer essentials.AddCtxTo("save replay buffer", &err)
	return serializer.SaveAny(path, r)
}

// LoadReplayBuffer reads a buffer saved with Save.
func LoadReplayBuffer(path string) (buf *ReplayBuffer, err error) {
	defer essentials.AddCtxTo("load replay buffer", &err)
	if err := serializer.LoadAny(path, &buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SerializerType returns the unique ID used to serialize
// a ReplayBuffer with the serializer package.
func (r *ReplayBuffer) SerializerType() string {
	return "github.com/unixpickle/anyrl-contrib.ReplayBuffer"
}

// Serialize serializes the ReplayBuffer.
func (r *ReplayBuffer) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		r.Capacity, r.ObsSize, r.ActionSize, r.pos, r.full,
		floatsToBytes(r.obs), floatsToBytes(r.nextObs),
		floatsToBytes(r.actions), floatsToBytes(r.rewards),
		boolsToBytes(r.dones), boolsToBytes(r.timeouts),
	)
}

// DeserializeReplayBuffer deserializes a ReplayBuffer.
func DeserializeReplayBuffer(d []byte) (buf *ReplayBuffer, err error) {
	defer essentials.AddCtxTo("deserialize replay buffer", &err)
	res := &ReplayBuffer{}
	var obs, nextObs, actions, rewards, dones, timeouts []byte
	err = serializer.DeserializeAny(d,
		&res.Capacity, &res.ObsSize, &res.ActionSize, &res.pos, &res.full,
		&obs, &nextObs, &actions, &rewards, &dones, &timeouts)
	if err != nil {
		return nil, err
	}
	res.obs = bytesToFloats(obs)
	res.nextObs = bytesToFloats(nextObs)
	res.actions = bytesToFloats(actions)
	res.rewards = bytesToFloats(rewards)
	res.dones = bytesToBools(dones)
	res.timeouts = bytesToBools(timeouts)
	return res, nil
}

func floatsToBytes(f []float64) []byte {
	res := make([]byte, len(f)*8)
	for i, x := range f {
		binary.LittleEndian.PutUint64(res[i*8:], math.Float64bits(x))
	}
	return res
}

func bytesToFloats(b []byte) []float64 {
	res := make([]float64, len(b)/8)
	for i := range res {
		res[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return res
}

func boolsToBytes(b []bool) []byte {
	res := make([]byte, len(b))
	for i, x := range b {
		if x {
			res[i] = 1
		}
	}
	return res
}

func bytesToBools(b []byte) []bool {
	res := make([]bool, len(b))
	for i, x := range b {
		res[i] = x == 1
	}
	return res
}
