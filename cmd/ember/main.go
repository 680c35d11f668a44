// Package main provides the Ember ML Framework CLI.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/ember-ml/ember/saved"
)

const version = "v0.1.0-dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("Ember ML Framework %s\n", version)
			return
		case "inspect":
			if len(os.Args) < 3 {
				fmt.Fprintln(os.Stderr, "usage: ember inspect <bundle-dir>")
				os.Exit(2)
			}
			if err := inspect(os.Args[2]); err != nil {
				fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	fmt.Println("Ember ML Framework - Model Export and Serving Tools for Go")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version              Show version")
	fmt.Println("  inspect <dir>        Describe a saved bundle")
}

// inspect loads a bundle and prints its tags, signatures, graph size, and
// restored variable values.
func inspect(dir string) error {
	m, err := saved.Load(dir)
	if err != nil {
		return err
	}

	fmt.Printf("Bundle: %s\n", dir)
	fmt.Printf("Tags: %v\n", m.Tags)
	fmt.Printf("Nodes: %d\n\n", len(m.Graph.Nodes()))

	sigNames := make([]string, 0, len(m.Signatures))
	for name := range m.Signatures {
		sigNames = append(sigNames, name)
	}
	sort.Strings(sigNames)

	fmt.Println("Signatures:")
	for _, name := range sigNames {
		sig := m.Signatures[name]
		fmt.Printf("  %s (method %q)\n", name, sig.MethodName)
		printInfos("inputs", sig.Inputs)
		printInfos("outputs", sig.Outputs)
	}

	vars := m.Session.Variables()
	if len(vars) > 0 {
		varNames := make([]string, 0, len(vars))
		for name := range vars {
			varNames = append(varNames, name)
		}
		sort.Strings(varNames)

		fmt.Println("\nVariables:")
		for _, name := range varNames {
			fmt.Printf("  %s = %v\n", name, vars[name])
		}
	}
	return nil
}

func printInfos(kind string, m map[string]*saved.TensorInfo) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		info := m[k]
		shape := "unknown rank"
		if !info.UnknownRank {
			shape = fmt.Sprintf("%v", info.Shape)
		}
		fmt.Printf("    %s %q: %s -> %s (%s)\n", kind, k, info.Name, info.DType, shape)
	}
}
