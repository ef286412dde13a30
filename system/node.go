package system

import "github.com/wippyai/local-runtime/errors"

// Node is an immutable descriptor of one compute node on the host,
// identified by its ordinal (0..N-1). The node table is set in bulk exactly
// once, before the System finishes initialization. The ordinal is the only
// attribute the System tracks; topology details such as memory or affinity
// belong to the drivers that enumerate the nodes.
type Node struct {
	ordinal int
}

// Ordinal returns the node's index within the host's node table.
func (n Node) Ordinal() int {
	return n.ordinal
}

// InitializeNodes sets the node table. Build phase only, and callable at
// most once.
func (s *System) InitializeNodes(count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.assertBuildingLocked("node registration"); err != nil {
		return err
	}
	if len(s.nodes) != 0 {
		return errors.Ordering("InitializeNodes called more than once")
	}
	s.nodes = make([]Node, count)
	for i := range s.nodes {
		s.nodes[i] = Node{ordinal: i}
	}
	return nil
}

// Nodes returns a copy of the node table.
func (s *System) Nodes() []Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := make([]Node, len(s.nodes))
	copy(nodes, s.nodes)
	return nodes
}

// NodeCount returns the number of registered nodes.
func (s *System) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}
