// Package graph provides the property graph data model for Repograph.
//
// It defines the node labels and relationship types that represent the
// structure of an analysed Python repository (packages, modules, classes,
// functions, docstrings, ...) and the adjacency table that decides which
// node types each relationship type may connect.
package graph

// NodeLabel represents the type of a graph node.
type NodeLabel string

const (
	NodeRepository           NodeLabel = "Repository"
	NodeDirectory            NodeLabel = "Directory"
	NodePackage              NodeLabel = "Package"
	NodeModule               NodeLabel = "Module"
	NodeClass                NodeLabel = "Class"
	NodeFunction             NodeLabel = "Function"
	NodeVariable             NodeLabel = "Variable"
	NodeArgument             NodeLabel = "Argument"
	NodeReturnValue          NodeLabel = "ReturnValue"
	NodeDocstring            NodeLabel = "Docstring"
	NodeDocstringArgument    NodeLabel = "DocstringArgument"
	NodeDocstringReturnValue NodeLabel = "DocstringReturnValue"
	NodeDocstringRaises      NodeLabel = "DocstringRaises"
	NodeLicense              NodeLabel = "License"
	NodeREADME               NodeLabel = "README"
)

// AllLabels lists every node label.
var AllLabels = []NodeLabel{
	NodeRepository, NodeDirectory, NodePackage, NodeModule, NodeClass,
	NodeFunction, NodeVariable, NodeArgument, NodeReturnValue, NodeDocstring,
	NodeDocstringArgument, NodeDocstringReturnValue, NodeDocstringRaises,
	NodeLicense, NodeREADME,
}

// RelType represents the type of relationship between graph nodes.
type RelType string

const (
	RelContains    RelType = "Contains"
	RelRequires    RelType = "Requires"
	RelImports     RelType = "Imports"
	RelHasFunction RelType = "HasFunction"
	RelHasMethod   RelType = "HasMethod"
	RelHasArgument RelType = "HasArgument"
	RelReturns     RelType = "Returns"
	RelExtends     RelType = "Extends"
	RelLicensedBy  RelType = "LicensedBy"
	RelDocuments   RelType = "Documents"
	RelDescribes   RelType = "Describes"
	RelCalls       RelType = "Calls"
)

// AllRelTypes lists every relationship type.
var AllRelTypes = []RelType{
	RelContains, RelRequires, RelImports, RelHasFunction, RelHasMethod,
	RelHasArgument, RelReturns, RelExtends, RelLicensedBy, RelDocuments,
	RelDescribes, RelCalls,
}

// Property keys shared by several node types.
const (
	PropRepositoryName = "repository_name"
	PropName           = "name"
	PropCanonicalName  = "canonical_name"
	PropPath           = "path"
	PropInferred       = "inferred"
)

// GraphNode is the storage representation of a node: a label plus a flat
// property map. Typed nodes convert to and from it.
type GraphNode struct {
	// ID is assigned by the backing store on insert.
	ID int64 `json:"id"`

	// Label is the type of the node.
	Label NodeLabel `json:"label"`

	// RepositoryName tags the repository the node was built from.
	RepositoryName string `json:"repository_name"`

	// Properties holds the type-specific attributes.
	Properties map[string]any `json:"properties"`
}

// Name returns the "name" property, or "" if absent.
func (n *GraphNode) Name() string {
	s, _ := n.Properties[PropName].(string)
	return s
}

// CanonicalName returns the "canonical_name" property, or "" if absent.
func (n *GraphNode) CanonicalName() string {
	s, _ := n.Properties[PropCanonicalName].(string)
	return s
}

// Inferred reports whether the node is a resolution placeholder.
func (n *GraphNode) Inferred() bool {
	b, _ := n.Properties[PropInferred].(bool)
	return b
}

// Property returns a property by key. "id", "label" and "repository_name"
// resolve to the node fields.
func (n *GraphNode) Property(key string) (any, bool) {
	switch key {
	case "id":
		return n.ID, true
	case "label":
		return string(n.Label), true
	case PropRepositoryName:
		return n.RepositoryName, true
	}
	v, ok := n.Properties[key]
	return v, ok
}

// GraphRelationship is the storage representation of a directed edge.
type GraphRelationship struct {
	// ID is assigned by the backing store on insert.
	ID int64 `json:"id"`

	// Type is the type of relationship.
	Type RelType `json:"type"`

	// Source is the ID of the parent node.
	Source int64 `json:"source"`

	// Target is the ID of the child node.
	Target int64 `json:"target"`

	// RepositoryName tags the repository the relationship was built from.
	RepositoryName string `json:"repository_name"`

	// Properties holds additional attributes (e.g. alias, version).
	Properties map[string]any `json:"properties,omitempty"`
}

// Property returns a relationship property by key. "id" and "type"
// resolve to the relationship fields.
func (r *GraphRelationship) Property(key string) (any, bool) {
	switch key {
	case "id":
		return r.ID, true
	case "type":
		return string(r.Type), true
	case PropRepositoryName:
		return r.RepositoryName, true
	}
	v, ok := r.Properties[key]
	return v, ok
}
