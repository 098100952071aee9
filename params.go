package anyrlcontrib

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
)

// An Agent is a model with named parameter objects, such
// as "policy" or "quantile_net".
//
// Every algorithm in this repository implements Agent.
type Agent interface {
	// Parameters returns the agent's parameter objects.
	//
	// The returned state dicts reference the agent's
	// live parameter vectors, so loading into them
	// changes the agent in place.
	Parameters() map[string]*StateDict
}

// VarsStateDict creates a StateDict referencing the
// vectors of the given variables.
//
// The entries are named "<prefix>.0", "<prefix>.1", etc.
// The vectors are not copied, so loading into the
// resulting StateDict updates the variables in place.
func VarsStateDict(prefix string, params []*anydiff.Var) *StateDict {
	res := NewStateDict()
	for i, p := range params {
		res.Set(fmt.Sprintf("%s.%d", prefix, i), p.Vector)
	}
	return res
}

// GetParameters returns a deep-copied snapshot of an
// agent's parameters.
func GetParameters(a Agent) map[string]*StateDict {
	res := map[string]*StateDict{}
	for name, dict := range a.Parameters() {
		res[name] = dict.Copy()
	}
	return res
}

// SetParameters updates an agent's parameters from a
// mapping of object names to state dicts.
//
// A name which does not correspond to one of the agent's
// parameter objects results in an error, whether or not
// exactMatch is set.
//
// If exactMatch is true, every parameter object of the
// agent must appear in params, and every state dict is
// loaded strictly: a missing tensor entry results in an
// error.
// If exactMatch is false, objects absent from params are
// left alone, and entries absent from a supplied state
// dict keep their current values.
func SetParameters(a Agent, params map[string]*StateDict, exactMatch bool) (err error) {
	defer essentials.AddCtxTo("set parameters", &err)
	objects := a.Parameters()
	for name := range params {
		if _, ok := objects[name]; !ok {
			return fmt.Errorf("unknown parameter object: %q", name)
		}
	}
	if exactMatch {
		for name := range objects {
			if _, ok := params[name]; !ok {
				return fmt.Errorf("missing parameter object: %q", name)
			}
		}
	}
	for name, dict := range params {
		if err := objects[name].Load(dict, exactMatch); err != nil {
			return fmt.Errorf("object %q: %s", name, err)
		}
	}
	return nil
}
