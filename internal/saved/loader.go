package saved

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ember-ml/ember/internal/graph"
	"github.com/ember-ml/ember/internal/serialization"
	"github.com/ember-ml/ember/internal/tensor"
)

// ErrNotFound reports that a directory holds no bundle definition file.
var ErrNotFound = errors.New("no bundle definition found")

// Model is a loaded bundle: the rebuilt graph, a session with restored
// variables, and the saved tags and signatures.
type Model struct {
	Graph      *graph.Graph
	Session    *graph.Session
	Tags       []string
	Signatures map[string]*SignatureDef
}

// Signature returns the named signature.
func (m *Model) Signature(name string) (*SignatureDef, error) {
	sig, ok := m.Signatures[name]
	if !ok {
		return nil, fmt.Errorf("bundle has no signature %q", name)
	}
	return sig, nil
}

// RunSignature evaluates the named signature. Inputs are keyed by the
// signature's input names; the result maps the signature's output names to
// the fetched tensors.
func (m *Model) RunSignature(name string, inputs map[string]*tensor.Dense) (map[string]*tensor.Dense, error) {
	sig, err := m.Signature(name)
	if err != nil {
		return nil, err
	}

	feeds := make(map[graph.Output]*tensor.Dense, len(inputs))
	for key, v := range inputs {
		info, ok := sig.Inputs[key]
		if !ok {
			return nil, fmt.Errorf("signature %q has no input %q", name, key)
		}
		o, err := m.Graph.Output(info.Name)
		if err != nil {
			return nil, fmt.Errorf("signature %q input %q: %w", name, key, err)
		}
		feeds[o] = v
	}
	for key := range sig.Inputs {
		if _, ok := inputs[key]; !ok {
			return nil, fmt.Errorf("signature %q: input %q not provided", name, key)
		}
	}

	outKeys := make([]string, 0, len(sig.Outputs))
	fetches := make([]graph.Output, 0, len(sig.Outputs))
	for key, info := range sig.Outputs {
		o, err := m.Graph.Output(info.Name)
		if err != nil {
			return nil, fmt.Errorf("signature %q output %q: %w", name, key, err)
		}
		outKeys = append(outKeys, key)
		fetches = append(fetches, o)
	}

	results, err := m.Session.Run(feeds, fetches)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*tensor.Dense, len(results))
	for i, key := range outKeys {
		out[key] = results[i]
	}
	return out, nil
}

// Load reads a bundle from dir, preferring the binary definition and falling
// back to the text one. The graph is rebuilt, a session is created, and
// variables are restored from the checkpoint.
func Load(dir string) (*Model, error) {
	def, err := loadDef(dir)
	if err != nil {
		return nil, err
	}
	if def.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("bundle schema version %d, expected %d", def.SchemaVersion, SchemaVersion)
	}
	if def.Graph == nil {
		return nil, fmt.Errorf("bundle has no graph")
	}

	g, err := fromGraphDef(def.Graph)
	if err != nil {
		return nil, fmt.Errorf("rebuild graph: %w", err)
	}
	sess := graph.NewSession(g)

	if err := restoreVariables(dir, g, sess); err != nil {
		return nil, err
	}

	return &Model{
		Graph:      g,
		Session:    sess,
		Tags:       def.Tags,
		Signatures: def.Signatures,
	}, nil
}

func loadDef(dir string) (*BundleDef, error) {
	binPath := filepath.Join(dir, BinaryFileName)
	if data, err := os.ReadFile(binPath); err == nil {
		return Unmarshal(data)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", binPath, err)
	}

	textPath := filepath.Join(dir, TextFileName)
	if data, err := os.ReadFile(textPath); err == nil {
		return UnmarshalText(data)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", textPath, err)
	}

	return nil, fmt.Errorf("%w in %q", ErrNotFound, dir)
}

// restoreVariables loads the checkpoint into the session. A graph with no
// variables needs no checkpoint; otherwise every variable must be restored.
func restoreVariables(dir string, g *graph.Graph, sess *graph.Session) error {
	var varNames []string
	for _, n := range g.Nodes() {
		if n.Op() == graph.OpVariable {
			varNames = append(varNames, n.Name())
		}
	}
	if len(varNames) == 0 {
		return nil
	}

	path := filepath.Join(dir, VariablesDir, VariablesFileName)
	values, err := serialization.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read variables checkpoint: %w", err)
	}

	for _, name := range varNames {
		v, ok := values[name]
		if !ok {
			return fmt.Errorf("checkpoint is missing variable %q", name)
		}
		if err := sess.SetVariable(name, v); err != nil {
			return fmt.Errorf("restore variable %q: %w", name, err)
		}
	}
	return nil
}
