package anyrlcontrib

import (
	"encoding/json"
	"fmt"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var s StateDict
	serializer.RegisterTypedDeserializer(s.SerializerType(), DeserializeStateDict)
}

// A StateDict is an ordered mapping from parameter names
// to vectors.
//
// It is the serializable form of a set of learnable
// parameters, analogous to the state dicts used by other
// deep learning frameworks.
type StateDict struct {
	names []string
	vecs  map[string]anyvec.Vector
}

// NewStateDict creates an empty StateDict.
func NewStateDict() *StateDict {
	return &StateDict{vecs: map[string]anyvec.Vector{}}
}

// Set adds or replaces an entry.
//
// New names are appended to the ordering.
func (s *StateDict) Set(name string, vec anyvec.Vector) {
	if _, ok := s.vecs[name]; !ok {
		s.names = append(s.names, name)
	}
	s.vecs[name] = vec
}

// Get returns the vector for a name.
func (s *StateDict) Get(name string) (anyvec.Vector, bool) {
	vec, ok := s.vecs[name]
	return vec, ok
}

// Names returns the entry names in insertion order.
func (s *StateDict) Names() []string {
	return append([]string{}, s.names...)
}

// Len returns the number of entries.
func (s *StateDict) Len() int {
	return len(s.names)
}

// Copy creates a deep copy of the StateDict.
func (s *StateDict) Copy() *StateDict {
	res := NewStateDict()
	for _, name := range s.names {
		res.Set(name, s.vecs[name].Copy())
	}
	return res
}

// Convert creates a deep copy of the StateDict with all
// vectors backed by the creator c.
//
// This is how checkpoints move between numeric backends,
// e.g. from anyvec64 to anyvec32.
func (s *StateDict) Convert(c anyvec.Creator) *StateDict {
	res := NewStateDict()
	for _, name := range s.names {
		vec := s.vecs[name]
		data := vec.Creator().Float64Slice(vec.Data())
		res.Set(name, c.MakeVectorData(c.MakeNumericList(data)))
	}
	return res
}

// Load copies the values from src into the receiver's
// vectors.
//
// If strict is true, src and the receiver must contain
// exactly the same names.
// If strict is false, entries of src absent from the
// receiver are ignored, and entries of the receiver
// absent from src keep their values.
// A length mismatch on a loaded entry is always an error.
func (s *StateDict) Load(src *StateDict, strict bool) (err error) {
	defer essentials.AddCtxTo("load state dict", &err)
	if strict {
		for _, name := range src.names {
			if _, ok := s.vecs[name]; !ok {
				return fmt.Errorf("unexpected parameter: %q", name)
			}
		}
		for _, name := range s.names {
			if _, ok := src.vecs[name]; !ok {
				return fmt.Errorf("missing parameter: %q", name)
			}
		}
	}
	for _, name := range src.names {
		srcVec := src.vecs[name]
		dstVec, ok := s.vecs[name]
		if !ok {
			continue
		}
		if srcVec.Len() != dstVec.Len() {
			return fmt.Errorf("parameter %q: length %d (expected %d)",
				name, srcVec.Len(), dstVec.Len())
		}
		data := srcVec.Creator().Float64Slice(srcVec.Data())
		dstVec.SetData(dstVec.Creator().MakeNumericList(data))
	}
	return nil
}

// SerializerType returns the unique ID used to serialize
// a StateDict with the serializer package.
func (s *StateDict) SerializerType() string {
	return "github.com/unixpickle/anyrl-contrib.StateDict"
}

// Serialize serializes the StateDict.
func (s *StateDict) Serialize() ([]byte, error) {
	nameData, err := json.Marshal(s.names)
	if err != nil {
		return nil, err
	}
	var vecs []serializer.Serializer
	for _, name := range s.names {
		vecs = append(vecs, &anyvecsave.S{Vector: s.vecs[name]})
	}
	vecData, err := serializer.SerializeSlice(vecs)
	if err != nil {
		return nil, err
	}
	return serializer.SerializeAny(nameData, vecData)
}

// DeserializeStateDict deserializes a StateDict.
func DeserializeStateDict(d []byte) (dict *StateDict, err error) {
	defer essentials.AddCtxTo("deserialize state dict", &err)
	var nameData, vecData []byte
	if err := serializer.DeserializeAny(d, &nameData, &vecData); err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(nameData, &names); err != nil {
		return nil, err
	}
	objs, err := serializer.DeserializeSlice(vecData)
	if err != nil {
		return nil, err
	}
	if len(objs) != len(names) {
		return nil, fmt.Errorf("got %d names but %d vectors", len(names), len(objs))
	}
	res := NewStateDict()
	for i, obj := range objs {
		vec, ok := obj.(*anyvecsave.S)
		if !ok {
			return nil, fmt.Errorf("unexpected type: %T", obj)
		}
		res.Set(names[i], vec.Vector)
	}
	return res, nil
}
