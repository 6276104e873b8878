package graph

import "fmt"

// allowed is the adjacency table: relationship type -> parent label ->
// permitted child labels.
var allowed = map[RelType]map[NodeLabel]map[NodeLabel]bool{
	RelContains: {
		NodeRepository: labels(NodeDirectory, NodeModule, NodePackage, NodeREADME),
		NodeDirectory:  labels(NodeDirectory, NodeModule, NodePackage, NodeREADME),
		NodePackage:    labels(NodeDirectory, NodeModule, NodePackage, NodeREADME),
		NodeModule:     labels(NodeFunction, NodeClass, NodeVariable),
	},
	RelRequires: {
		NodeRepository: labels(NodePackage),
	},
	RelImports: {
		NodeModule: labels(NodeModule, NodePackage, NodeClass, NodeFunction, NodeVariable),
	},
	RelHasFunction: {
		NodeModule: labels(NodeFunction),
	},
	RelHasMethod: {
		NodeClass: labels(NodeFunction),
	},
	RelHasArgument: {
		NodeFunction: labels(NodeArgument),
	},
	RelReturns: {
		NodeFunction: labels(NodeReturnValue),
	},
	RelExtends: {
		NodeClass: labels(NodeClass),
	},
	RelLicensedBy: {
		NodeRepository: labels(NodeLicense),
	},
	RelDocuments: {
		NodeDocstring: labels(NodeFunction, NodeClass),
	},
	RelDescribes: {
		NodeDocstring: labels(NodeDocstringArgument, NodeDocstringReturnValue, NodeDocstringRaises),
	},
	RelCalls: {
		NodeModule:   labels(NodeFunction, NodeClass, NodeModule),
		NodeFunction: labels(NodeFunction, NodeClass, NodeModule),
	},
}

func labels(ls ...NodeLabel) map[NodeLabel]bool {
	m := make(map[NodeLabel]bool, len(ls))
	for _, l := range ls {
		m[l] = true
	}
	return m
}

// Allowed reports whether relType may connect a parent with label parent
// to a child with label child.
func Allowed(relType RelType, parent, child NodeLabel) bool {
	return allowed[relType][parent][child]
}

// AllowedChildren returns the child labels permitted for a parent label.
func AllowedChildren(relType RelType, parent NodeLabel) []NodeLabel {
	var out []NodeLabel
	for _, l := range AllLabels {
		if allowed[relType][parent][l] {
			out = append(out, l)
		}
	}
	return out
}

// InvalidRelationshipError is returned when a relationship would connect
// node types the adjacency table does not permit.
type InvalidRelationshipError struct {
	Type   RelType
	Parent NodeLabel
	Child  NodeLabel
}

func (e *InvalidRelationshipError) Error() string {
	return fmt.Sprintf("%s -> %s is not a valid pairing for relationship of type %s", e.Parent, e.Child, e.Type)
}

// Relationship is a typed, validated edge between two typed nodes.
type Relationship struct {
	ID             int64
	Type           RelType
	Parent         Node
	Child          Node
	RepositoryName string
	Properties     map[string]any

	bound bool
}

// Identity is the store-assigned ID, or 0 while unbound.
func (r *Relationship) Identity() int64 { return r.ID }

// SetIdentity binds the relationship to a store-assigned ID.
func (r *Relationship) SetIdentity(id int64) {
	r.ID = id
	r.bound = true
}

// IsBound reports whether the relationship has been assigned an ID.
func (r *Relationship) IsBound() bool { return r.bound }

// Unbind clears the relationship's ID.
func (r *Relationship) Unbind() {
	r.ID = 0
	r.bound = false
}

// ToGraphRelationship converts the relationship into its storage form.
// Both endpoints must be bound.
func (r *Relationship) ToGraphRelationship() *GraphRelationship {
	props := make(map[string]any, len(r.Properties))
	for k, v := range r.Properties {
		props[k] = v
	}
	return &GraphRelationship{
		ID:             r.ID,
		Type:           r.Type,
		Source:         r.Parent.Identity(),
		Target:         r.Child.Identity(),
		RepositoryName: r.RepositoryName,
		Properties:     props,
	}
}

// NewRelationship validates the endpoints against the adjacency table and
// builds the relationship. Nothing is persisted.
func NewRelationship(relType RelType, parent, child Node, repositoryName string, props map[string]any) (*Relationship, error) {
	if parent == nil || child == nil {
		return nil, fmt.Errorf("relationship %s requires both endpoints", relType)
	}
	if !Allowed(relType, parent.Label(), child.Label()) {
		return nil, &InvalidRelationshipError{Type: relType, Parent: parent.Label(), Child: child.Label()}
	}
	if props == nil {
		props = map[string]any{}
	}
	return &Relationship{
		Type:           relType,
		Parent:         parent,
		Child:          child,
		RepositoryName: repositoryName,
		Properties:     props,
	}, nil
}

// Contains links a container to something it contains.
func Contains(parent, child Node, repositoryName string) (*Relationship, error) {
	return NewRelationship(RelContains, parent, child, repositoryName, nil)
}

// Requires links a repository to a declared external package.
func Requires(repo *Repository, pkg *Package, repositoryName, version string) (*Relationship, error) {
	return NewRelationship(RelRequires, repo, pkg, repositoryName, map[string]any{"version": version})
}

// Imports links a module to what it imports. An empty alias is omitted.
func Imports(module Node, target Node, repositoryName, alias string) (*Relationship, error) {
	var props map[string]any
	if alias != "" {
		props = map[string]any{"alias": alias}
	}
	return NewRelationship(RelImports, module, target, repositoryName, props)
}

// HasFunction links a module to a function declared in it.
func HasFunction(module Node, fn *Function, repositoryName string) (*Relationship, error) {
	return NewRelationship(RelHasFunction, module, fn, repositoryName, nil)
}

// HasMethod links a class to one of its methods.
func HasMethod(class Node, fn *Function, repositoryName string) (*Relationship, error) {
	return NewRelationship(RelHasMethod, class, fn, repositoryName, nil)
}

// HasArgument links a function to a parameter.
func HasArgument(fn *Function, arg *Argument, repositoryName string) (*Relationship, error) {
	return NewRelationship(RelHasArgument, fn, arg, repositoryName, nil)
}

// Returns links a function to a returned name.
func Returns(fn *Function, rv *ReturnValue, repositoryName string) (*Relationship, error) {
	return NewRelationship(RelReturns, fn, rv, repositoryName, nil)
}

// Extends links a class to its base class.
func Extends(class, base *Class, repositoryName string) (*Relationship, error) {
	return NewRelationship(RelExtends, class, base, repositoryName, nil)
}

// LicensedBy links a repository to a detected license.
func LicensedBy(repo *Repository, license *License, repositoryName string) (*Relationship, error) {
	return NewRelationship(RelLicensedBy, repo, license, repositoryName, nil)
}

// Documents links a docstring to the class or function it documents.
func Documents(doc *Docstring, target Node, repositoryName string) (*Relationship, error) {
	return NewRelationship(RelDocuments, doc, target, repositoryName, nil)
}

// Describes links a docstring to one of its structured parts.
func Describes(doc *Docstring, part Node, repositoryName string) (*Relationship, error) {
	return NewRelationship(RelDescribes, doc, part, repositoryName, nil)
}

// Calls links a caller to a callee.
func Calls(caller, callee Node, repositoryName string) (*Relationship, error) {
	return NewRelationship(RelCalls, caller, callee, repositoryName, nil)
}
