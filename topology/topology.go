// Package topology names, generates and indexes the graph files that configure peer connectivity
// for the protocol deployments. The graph files themselves are produced by an external generator
// and their format is opaque here.
package topology

import (
	"fmt"
	"slices"
)

const (
	ArtifactSuffix = ".graph.txt"
	IndexFileName  = "main.jsonnet"
)

// The number of edges used for a graph with n nodes: n + floor(n/2).
func DeriveEdgeCount(nodeCount int) int {
	return nodeCount + nodeCount/2
}

// A Size is one (nodes, edges) pair. There is at most one artifact per Size.
type Size struct {
	Nodes int
	Edges int
}

func SizeForNodes(nodeCount int) Size {
	return Size{Nodes: nodeCount, Edges: DeriveEdgeCount(nodeCount)}
}

// "{nodes}-{edges}". Also the key of the size in the index.
func (s Size) Name() string {
	return fmt.Sprintf("%d-%d", s.Nodes, s.Edges)
}

func (s Size) ArtifactFileName() string {
	return s.Name() + ArtifactSuffix
}

func (s Size) Validate() error {
	if s.Nodes <= 0 {
		return fmt.Errorf("invalid topology size %s: node count must be positive", s.Name())
	}
	if s.Edges < 0 {
		return fmt.Errorf("invalid topology size %s: edge count must not be negative", s.Name())
	}
	return nil
}

// Deduplicates sizes and sorts them by node count, then edge count.
func Distinct(sizes []Size) []Size {
	out := slices.Clone(sizes)
	slices.SortFunc(out, func(a, b Size) int {
		if a.Nodes != b.Nodes {
			return a.Nodes - b.Nodes
		}
		return a.Edges - b.Edges
	})
	return slices.Compact(out)
}
