package anyrlcontrib

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// A Checkpoint is the decoded contents of a saved agent:
// the algorithm name, a JSON snapshot of hyperparameters,
// and one state dict per parameter object.
//
// On disk, a checkpoint is a zip archive with an
// "algorithm" entry, a "config.json" entry, and one
// "params/<object>" entry per parameter object.
type Checkpoint struct {
	Algorithm string
	Config    map[string]json.RawMessage
	Params    map[string]*StateDict
}

// SaveOptions control which hyperparameters end up in a
// checkpoint.
type SaveOptions struct {
	// Exclude lists config keys to drop from the saved
	// hyperparameters.
	// Dropped keys revert to their defaults at load time.
	Exclude []string

	// Include lists config keys to keep even if they
	// appear in Exclude.
	Include []string
}

func (s *SaveOptions) excluded(key string) bool {
	if s == nil {
		return false
	}
	for _, inc := range s.Include {
		if inc == key {
			return false
		}
	}
	for _, exc := range s.Exclude {
		if exc == key {
			return true
		}
	}
	return false
}

// EncodeConfig converts a JSON-taggable config struct
// into a checkpoint config map, applying opts.
func EncodeConfig(cfg interface{}, opts *SaveOptions) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var res map[string]json.RawMessage
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	for key := range res {
		if opts.excluded(key) {
			delete(res, key)
		}
	}
	return res, nil
}

// DecodeConfig unmarshals the checkpoint's config into
// out, which should be pre-populated with defaults.
//
// Keys missing from the checkpoint leave the existing
// values of out untouched.
func (c *Checkpoint) DecodeConfig(out interface{}) error {
	data, err := json.Marshal(c.Config)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// WriteCheckpoint writes a checkpoint archive to a file.
func WriteCheckpoint(path string, c *Checkpoint) (err error) {
	defer essentials.AddCtxTo("write checkpoint", &err)
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	entry, err := w.Create("algorithm")
	if err != nil {
		return err
	}
	if _, err := entry.Write([]byte(c.Algorithm)); err != nil {
		return err
	}

	confData, err := json.Marshal(c.Config)
	if err != nil {
		return err
	}
	entry, err = w.Create("config.json")
	if err != nil {
		return err
	}
	if _, err := entry.Write(confData); err != nil {
		return err
	}

	for name, dict := range c.Params {
		data, err := serializer.SerializeWithType(dict)
		if err != nil {
			return err
		}
		entry, err = w.Create("params/" + name)
		if err != nil {
			return err
		}
		if _, err := entry.Write(data); err != nil {
			return err
		}
	}

	if err := w.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// ReadCheckpoint reads a checkpoint archive from a file.
func ReadCheckpoint(path string) (c *Checkpoint, err error) {
	defer essentials.AddCtxTo("read checkpoint", &err)
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	res := &Checkpoint{
		Config: map[string]json.RawMessage{},
		Params: map[string]*StateDict{},
	}
	for _, file := range r.File {
		fr, err := file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(fr)
		fr.Close()
		if err != nil {
			return nil, err
		}
		switch {
		case file.Name == "algorithm":
			res.Algorithm = string(data)
		case file.Name == "config.json":
			if err := json.Unmarshal(data, &res.Config); err != nil {
				return nil, err
			}
		case strings.HasPrefix(file.Name, "params/"):
			obj, err := serializer.DeserializeWithType(data)
			if err != nil {
				return nil, err
			}
			dict, ok := obj.(*StateDict)
			if !ok {
				return nil, fmt.Errorf("entry %s: unexpected type %T", file.Name, obj)
			}
			res.Params[strings.TrimPrefix(file.Name, "params/")] = dict
		}
	}
	if res.Algorithm == "" {
		return nil, fmt.Errorf("%s: missing algorithm entry", path)
	}
	return res, nil
}

// CheckAlgorithm verifies that a checkpoint was produced
// by the named algorithm.
func (c *Checkpoint) CheckAlgorithm(name string) error {
	if c.Algorithm != name {
		return fmt.Errorf("checkpoint is for %q, not %q", c.Algorithm, name)
	}
	return nil
}
