package saved

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ember-ml/ember/internal/graph"
	"github.com/ember-ml/ember/internal/serialization"
	"github.com/ember-ml/ember/internal/tensor"
)

// Builder assembles a bundle for one export directory: a graph snapshot, its
// signatures, and the session's variable values. A builder exports exactly
// one graph; Save writes the bundle to disk.
type Builder struct {
	exportDir string
	def       *BundleDef
	vars      map[string]*tensor.Dense
}

// NewBuilder creates a builder that will export to dir. The directory must
// not exist yet; Save creates it.
func NewBuilder(dir string) *Builder {
	return &Builder{exportDir: dir}
}

// AddGraphAndVariables captures the session's graph, the given tags and
// signatures, and a snapshot of the session's variable values. It must be
// called exactly once, with every variable initialized and every signature
// referring to outputs that exist in the graph.
func (b *Builder) AddGraphAndVariables(sess *graph.Session, tags []string, signatures map[string]*SignatureDef) error {
	if b.def != nil {
		return fmt.Errorf("builder for %q already holds a graph", b.exportDir)
	}
	if len(tags) == 0 {
		return fmt.Errorf("at least one tag is required")
	}

	g := sess.Graph()
	for name, sig := range signatures {
		if err := validateSignature(g, name, sig); err != nil {
			return err
		}
	}

	vars := sess.Variables()
	for _, n := range g.Nodes() {
		if n.Op() != graph.OpVariable {
			continue
		}
		if _, ok := vars[n.Name()]; !ok {
			return fmt.Errorf("variable %q is not initialized", n.Name())
		}
	}

	gdef, err := toGraphDef(g)
	if err != nil {
		return err
	}

	sigs := make(map[string]*SignatureDef, len(signatures))
	for name, sig := range signatures {
		sigs[name] = sig
	}
	b.def = &BundleDef{
		SchemaVersion: SchemaVersion,
		Tags:          append([]string(nil), tags...),
		Graph:         gdef,
		Signatures:    sigs,
	}
	b.vars = vars
	return nil
}

func validateSignature(g *graph.Graph, name string, sig *SignatureDef) error {
	check := func(kind string, m map[string]*TensorInfo) error {
		for key, info := range m {
			if info == nil {
				return fmt.Errorf("signature %q: %s %q is nil", name, kind, key)
			}
			if _, err := g.Output(info.Name); err != nil {
				return fmt.Errorf("signature %q: %s %q: %w", name, kind, key, err)
			}
		}
		return nil
	}
	if err := check("input", sig.Inputs); err != nil {
		return err
	}
	return check("output", sig.Outputs)
}

// Save writes the bundle to the export directory: the definition file in
// binary or text form, plus a variables checkpoint when the graph has
// variables. It returns the path of the written definition file.
func (b *Builder) Save(asText bool) (string, error) {
	if b.def == nil {
		return "", fmt.Errorf("no graph added to builder for %q", b.exportDir)
	}
	if _, err := os.Stat(b.exportDir); err == nil {
		return "", fmt.Errorf("export directory %q already exists", b.exportDir)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat export directory: %w", err)
	}
	if err := os.MkdirAll(b.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	if len(b.vars) > 0 {
		varDir := filepath.Join(b.exportDir, VariablesDir)
		if err := os.MkdirAll(varDir, 0o755); err != nil {
			return "", fmt.Errorf("create variables directory: %w", err)
		}
		varPath := filepath.Join(varDir, VariablesFileName)
		if err := serialization.WriteFile(varPath, b.vars, nil); err != nil {
			return "", fmt.Errorf("write variables checkpoint: %w", err)
		}
	}

	var (
		data []byte
		name string
		err  error
	)
	if asText {
		name = TextFileName
		data, err = MarshalText(b.def)
	} else {
		name = BinaryFileName
		data, err = Marshal(b.def)
	}
	if err != nil {
		return "", fmt.Errorf("encode bundle: %w", err)
	}

	path := filepath.Join(b.exportDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write bundle definition: %w", err)
	}
	return path, nil
}
