package pa6

import (
	"context"
	"fmt"
	"net/http"
)

// Node is a workflow element as reported by project/nodes.
type Node struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
	ErrMsg string `json:"errMsg,omitempty"`
}

// Ref returns the node's (name, type) reference.
func (n Node) Ref() NodeRef {
	return NodeRef{Name: n.Name, Type: n.Type}
}

// NodeRef identifies a node by name and, when names repeat, type.
type NodeRef struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Named is shorthand for a name-only reference.
func Named(name string) NodeRef {
	return NodeRef{Name: name}
}

func (r NodeRef) String() string {
	if r.Type == "" {
		return fmt.Sprintf("%q", r.Name)
	}

	return fmt.Sprintf("%q (%s)", r.Name, r.Type)
}

// NodeList fetches the project's nodes.
func (p *Project) NodeList(ctx context.Context) ([]Node, error) {
	var out struct {
		Nodes []Node `json:"nodes"`
	}

	if _, err := p.c.do(ctx, call{
		method:   http.MethodGet,
		endpoint: "project/nodes",
		query:    p.query(),
		header:   p.c.sessionHeader(),
		out:      &out,
	}); err != nil {
		return nil, fmt.Errorf("pa6: listing nodes of %s: %w", p.uuid, err)
	}

	return out.Nodes, nil
}

// FindNode resolves ref against a freshly fetched node list.
func (p *Project) FindNode(ctx context.Context, ref NodeRef) (Node, error) {
	nodes, err := p.NodeList(ctx)
	if err != nil {
		return Node{}, err
	}

	return FindNode(nodes, ref)
}

// resolve resolves several references against one node list.
func (p *Project) resolve(ctx context.Context, refs []NodeRef) ([]Node, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	nodes, err := p.NodeList(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Node, 0, len(refs))

	for _, ref := range refs {
		n, err := FindNode(nodes, ref)
		if err != nil {
			return nil, err
		}

		out = append(out, n)
	}

	return out, nil
}

// FindNode picks the node matching ref. A name-only reference that matches
// nodes of several types is ambiguous; so is a full reference that matches
// more than once.
func FindNode(nodes []Node, ref NodeRef) (Node, error) {
	if ref.Name == "" {
		return Node{}, invalidArgf("node reference has no name")
	}

	var matches []Node

	for _, n := range nodes {
		if n.Name == ref.Name && (ref.Type == "" || n.Type == ref.Type) {
			matches = append(matches, n)
		}
	}

	switch len(matches) {
	case 0:
		return Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		types := make([]string, len(matches))
		for i, m := range matches {
			types[i] = m.Type
		}

		return Node{}, fmt.Errorf("%w: %s matches %d nodes of types %v, pass the type too",
			ErrAmbiguousNode, ref, len(matches), types)
	}
}
