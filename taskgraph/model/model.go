// Package model is a reference Model Store: in-memory node and
// relationship entities satisfying taskgraph.Actor/taskgraph.Relationship,
// plus a catalog that resolves them by id the way taskgraph.ModelStore
// expects.
package model

import (
	"fmt"

	"github.com/taskgraphio/orchestrator/taskgraph"
)

// Interface is the in-memory ActorInterface: a name plus its declared
// operations.
type Interface struct {
	Name       string
	Operations map[string]taskgraph.OperationSpec
}

func (i *Interface) Operation(name string) (taskgraph.OperationSpec, bool) {
	spec, ok := i.Operations[name]
	return spec, ok
}

// Node is a modeled service component: the thing node lifecycle
// operations (create, configure, start, ...) run against.
type Node struct {
	ID         string
	Name       string
	Properties map[string]interface{}
	Interfaces map[string]*Interface
}

func (n *Node) ActorID() string     { return n.ID }
func (n *Node) ActorName() string   { return n.Name }
func (n *Node) ActorType() taskgraph.ActorType { return taskgraph.ActorTypeNode }

func (n *Node) Interface(name string) (taskgraph.ActorInterface, bool) {
	iface, ok := n.Interfaces[name]
	if !ok {
		return nil, false
	}
	return iface, true
}

// Relationship binds a source node to a target node and carries its own
// interfaces, e.g. "connects to" / "depends on" lifecycle hooks.
type Relationship struct {
	ID         string
	Name       string
	Source     string
	Target     string
	Properties map[string]interface{}
	Interfaces map[string]*Interface
}

func (r *Relationship) ActorID() string     { return r.ID }
func (r *Relationship) ActorName() string   { return r.Name }
func (r *Relationship) ActorType() taskgraph.ActorType { return taskgraph.ActorTypeRelationship }
func (r *Relationship) SourceNodeID() string { return r.Source }
func (r *Relationship) TargetNodeID() string { return r.Target }

func (r *Relationship) Interface(name string) (taskgraph.ActorInterface, bool) {
	iface, ok := r.Interfaces[name]
	if !ok {
		return nil, false
	}
	return iface, true
}

// Plugin is an installed plugin entry, resolved by specification string
// (the convention ARIA-style policies use: "name>=version" or a bare
// name).
type Plugin struct {
	ID            string
	Specification string
}

// Catalog is the in-memory taskgraph.ModelStore + taskgraph.PluginResolver
// reference implementation: a flat id-indexed registry a workflow
// function or test populates directly.
type Catalog struct {
	Nodes         map[string]*Node
	Relationships map[string]*Relationship
	Plugins       map[string]*Plugin // keyed by Specification
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		Nodes:         make(map[string]*Node),
		Relationships: make(map[string]*Relationship),
		Plugins:       make(map[string]*Plugin),
	}
}

func (c *Catalog) AddNode(n *Node) *Catalog {
	c.Nodes[n.ID] = n
	return c
}

func (c *Catalog) AddRelationship(r *Relationship) *Catalog {
	c.Relationships[r.ID] = r
	return c
}

func (c *Catalog) AddPlugin(p *Plugin) *Catalog {
	c.Plugins[p.Specification] = p
	return c
}

func (c *Catalog) GetNode(id string) (taskgraph.Actor, bool) {
	n, ok := c.Nodes[id]
	if !ok {
		return nil, false
	}
	return n, true
}

func (c *Catalog) GetRelationship(id string) (taskgraph.Relationship, bool) {
	r, ok := c.Relationships[id]
	if !ok {
		return nil, false
	}
	return r, true
}

func (c *Catalog) FindPlugin(spec string) (string, bool) {
	p, ok := c.Plugins[spec]
	if !ok {
		return "", false
	}
	return p.ID, true
}

// NodeByName does a linear scan; reference stores favor clarity over an
// extra name index since catalogs are typically small (one deployment's
// worth of nodes).
func (c *Catalog) NodeByName(name string) (*Node, error) {
	for _, n := range c.Nodes {
		if n.Name == name {
			return n, nil
		}
	}
	return nil, fmt.Errorf("model: no node named %q", name)
}
