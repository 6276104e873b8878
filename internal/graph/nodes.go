package graph

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Entity is anything a store assigns an ID to: nodes and relationships.
type Entity interface {
	// Identity is the store-assigned ID, or 0 while unbound. Stores may
	// assign 0 itself, so use IsBound to tell the two apart.
	Identity() int64

	// SetIdentity binds the entity to a store-assigned ID.
	SetIdentity(id int64)

	// IsBound reports whether SetIdentity was called since the last Unbind.
	IsBound() bool

	// Unbind clears the identity after a rolled back write.
	Unbind()
}

// Node is implemented by every typed node.
type Node interface {
	Entity

	// Label is the node type.
	Label() NodeLabel

	// Repository is the name of the repository the node belongs to.
	Repository() string

	// Properties flattens the type-specific attributes.
	Properties() map[string]any
}

// Base carries the attributes shared by all nodes.
type Base struct {
	ID             int64  `json:"id"`
	RepositoryName string `json:"repository_name"`

	bound bool
}

func (b *Base) Identity() int64    { return b.ID }
func (b *Base) IsBound() bool      { return b.bound }
func (b *Base) Repository() string { return b.RepositoryName }

func (b *Base) SetIdentity(id int64) {
	b.ID = id
	b.bound = true
}

func (b *Base) Unbind() {
	b.ID = 0
	b.bound = false
}

// Bound reports whether an entity has been assigned an ID.
func Bound(e Entity) bool {
	return e.IsBound()
}

// ToGraphNode converts a typed node into its storage representation.
func ToGraphNode(n Node) *GraphNode {
	return &GraphNode{
		ID:             n.Identity(),
		Label:          n.Label(),
		RepositoryName: n.Repository(),
		Properties:     n.Properties(),
	}
}

// SoftwareType classifies a repository.
type SoftwareType string

const (
	SoftwareService           SoftwareType = "service"
	SoftwareScriptWithMain    SoftwareType = "script with main"
	SoftwareScriptWithoutMain SoftwareType = "script without main"
	SoftwareScript            SoftwareType = "script"
	SoftwarePackage           SoftwareType = "package"
	SoftwareLibrary           SoftwareType = "library"
)

// ParseSoftwareType maps a classification hint onto a known type.
func ParseSoftwareType(s string) (SoftwareType, bool) {
	switch t := SoftwareType(strings.ToLower(strings.TrimSpace(s))); t {
	case SoftwareService, SoftwareScriptWithMain, SoftwareScriptWithoutMain,
		SoftwareScript, SoftwarePackage, SoftwareLibrary:
		return t, true
	}
	return "", false
}

// Repository is the root node of one analysed codebase.
type Repository struct {
	Base
	Name          string       `json:"name"`
	Type          SoftwareType `json:"type,omitempty"`
	IsRootPackage bool         `json:"is_root_package"`

	// Optional hosting metadata.
	FullName        string `json:"full_name,omitempty"`
	Description     string `json:"description,omitempty"`
	Homepage        string `json:"homepage,omitempty"`
	HTMLURL         string `json:"html_url,omitempty"`
	CloneURL        string `json:"clone_url,omitempty"`
	DefaultBranch   string `json:"default_branch,omitempty"`
	Language        string `json:"language,omitempty"`
	Visibility      string `json:"visibility,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
	PushedAt        string `json:"pushed_at,omitempty"`
	Size            int64  `json:"size,omitempty"`
	StargazersCount int64  `json:"stargazers_count,omitempty"`
	WatchersCount   int64  `json:"watchers_count,omitempty"`
	ForksCount      int64  `json:"forks_count,omitempty"`
	OpenIssuesCount int64  `json:"open_issues_count,omitempty"`
	Archived        bool   `json:"archived,omitempty"`
	Fork            bool   `json:"fork,omitempty"`
}

func (*Repository) Label() NodeLabel { return NodeRepository }

func (n *Repository) Properties() map[string]any {
	return structProps(n)
}

// Directory is a folder without an __init__ module.
type Directory struct {
	Base
	Name       string `json:"name"`
	Path       string `json:"path"`
	ParentPath string `json:"parent_path"`
}

func (*Directory) Label() NodeLabel { return NodeDirectory }

func (n *Directory) Properties() map[string]any {
	return structProps(n)
}

// Package is an importable directory, or an external dependency.
type Package struct {
	Base
	Name          string `json:"name"`
	CanonicalName string `json:"canonical_name"`
	ParentPackage string `json:"parent_package"`
	Path          string `json:"path,omitempty"`
	ParentPath    string `json:"parent_path,omitempty"`
	External      bool   `json:"external"`
	Inferred      bool   `json:"inferred"`
}

func (*Package) Label() NodeLabel { return NodePackage }

func (n *Package) Properties() map[string]any {
	return structProps(n)
}

// NewPackageFromDirectory creates a Package for a directory on disk.
func NewPackageFromDirectory(path, parentPath, canonicalName, repositoryName string) *Package {
	parent, name := splitCanonical(canonicalName)
	return &Package{
		Base:          Base{RepositoryName: repositoryName},
		Name:          name,
		CanonicalName: canonicalName,
		ParentPackage: parent,
		Path:          path,
		ParentPath:    parentPath,
	}
}

// NewExternalPackage creates a Package for a declared external dependency.
func NewExternalPackage(canonicalName, repositoryName string) *Package {
	parent, name := splitCanonical(canonicalName)
	return &Package{
		Base:          Base{RepositoryName: repositoryName},
		Name:          name,
		CanonicalName: canonicalName,
		ParentPackage: parent,
		External:      true,
	}
}

// Module is one source file.
type Module struct {
	Base
	Name          string `json:"name"`
	CanonicalName string `json:"canonical_name"`
	Path          string `json:"path,omitempty"`
	ParentPath    string `json:"parent_path,omitempty"`
	Extension     string `json:"extension"`
	IsTest        bool   `json:"is_test"`
	Inferred      bool   `json:"inferred"`
}

// PythonExtension is the default module extension.
const PythonExtension = ".py"

// InitModuleName is the name of a package's initialisation module.
const InitModuleName = "__init__"

func (*Module) Label() NodeLabel { return NodeModule }

func (n *Module) Properties() map[string]any {
	return structProps(n)
}

// ModuleKey is the identity of a module within a repository.
type ModuleKey struct {
	Name string
	Path string
}

// Key returns the (name, path) identity of the module.
func (n *Module) Key() ModuleKey {
	return ModuleKey{Name: n.Name, Path: n.Path}
}

// Equal compares modules by identity.
func (n *Module) Equal(other *Module) bool {
	return other != nil && n.Key() == other.Key()
}

// WithCanonicalName returns an unbound copy of the module carrying a new
// canonical name. The receiver is left untouched.
func (n *Module) WithCanonicalName(canonicalName string) *Module {
	c := *n
	c.Unbind()
	c.CanonicalName = canonicalName
	return &c
}

// NewInitModule creates an inferred __init__ module for a package.
func NewInitModule(parentCanonicalName, repositoryName string) *Module {
	return &Module{
		Base:          Base{RepositoryName: repositoryName},
		Name:          InitModuleName,
		CanonicalName: parentCanonicalName + "." + InitModuleName,
		Extension:     PythonExtension,
		Inferred:      true,
	}
}

// Class is a class declared in a module.
type Class struct {
	Base
	Name          string `json:"name"`
	CanonicalName string `json:"canonical_name"`
	MinLineNumber *int   `json:"min_line_number,omitempty"`
	MaxLineNumber *int   `json:"max_line_number,omitempty"`
	Inferred      bool   `json:"inferred"`
}

func (*Class) Label() NodeLabel { return NodeClass }

func (n *Class) Properties() map[string]any {
	return structProps(n)
}

// FunctionKind distinguishes free functions from methods.
type FunctionKind string

const (
	KindFunction FunctionKind = "Function"
	KindMethod   FunctionKind = "Method"
)

// Function is a function or method.
type Function struct {
	Base
	Name          string       `json:"name"`
	CanonicalName string       `json:"canonical_name"`
	Type          FunctionKind `json:"type"`
	Builtin       bool         `json:"builtin"`
	SourceCode    string       `json:"source_code,omitempty"`
	AST           string       `json:"ast,omitempty"`
	MinLineNumber *int         `json:"min_line_number,omitempty"`
	MaxLineNumber *int         `json:"max_line_number,omitempty"`
	Inferred      bool         `json:"inferred"`
}

func (*Function) Label() NodeLabel { return NodeFunction }

func (n *Function) Properties() map[string]any {
	return structProps(n)
}

// AnyType is the type recorded when no annotation is available.
const AnyType = "Any"

// Variable is a module-level variable, only ever created as a placeholder.
type Variable struct {
	Base
	Name          string `json:"name"`
	CanonicalName string `json:"canonical_name,omitempty"`
	Type          string `json:"type"`
	Inferred      bool   `json:"inferred"`
}

func (*Variable) Label() NodeLabel { return NodeVariable }

func (n *Variable) Properties() map[string]any {
	return structProps(n)
}

// Argument is a function parameter.
type Argument struct {
	Base
	Name string `json:"name"`
	Type string `json:"type"`
}

func (*Argument) Label() NodeLabel { return NodeArgument }

func (n *Argument) Properties() map[string]any {
	return structProps(n)
}

// ReturnValue is a name returned by a function.
type ReturnValue struct {
	Base
	Name string `json:"name"`
	Type string `json:"type"`
}

func (*ReturnValue) Label() NodeLabel { return NodeReturnValue }

func (n *ReturnValue) Properties() map[string]any {
	return structProps(n)
}

// Docstring documents a class or function.
type Docstring struct {
	Base
	ShortDescription string `json:"short_description,omitempty"`
	LongDescription  string `json:"long_description,omitempty"`
	Summarization    string `json:"summarization,omitempty"`
}

func (*Docstring) Label() NodeLabel { return NodeDocstring }

func (n *Docstring) Properties() map[string]any {
	return structProps(n)
}

// DocstringArgument documents one argument.
type DocstringArgument struct {
	Base
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	IsOptional  bool   `json:"is_optional"`
	Default     string `json:"default,omitempty"`
}

func (*DocstringArgument) Label() NodeLabel { return NodeDocstringArgument }

func (n *DocstringArgument) Properties() map[string]any {
	return structProps(n)
}

// DocstringReturnValue documents the return value.
type DocstringReturnValue struct {
	Base
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	IsGenerator bool   `json:"is_generator"`
}

func (*DocstringReturnValue) Label() NodeLabel { return NodeDocstringReturnValue }

func (n *DocstringReturnValue) Properties() map[string]any {
	return structProps(n)
}

// DocstringRaises documents a raised exception.
type DocstringRaises struct {
	Base
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
}

func (*DocstringRaises) Label() NodeLabel { return NodeDocstringRaises }

func (n *DocstringRaises) Properties() map[string]any {
	return structProps(n)
}

// License is a license detected in the repository.
type License struct {
	Base
	Text        string  `json:"text,omitempty"`
	LicenseType string  `json:"license_type"`
	Confidence  float64 `json:"confidence"`
}

func (*License) Label() NodeLabel { return NodeLicense }

func (n *License) Properties() map[string]any {
	return structProps(n)
}

// README is a README file and its content.
type README struct {
	Base
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (*README) Label() NodeLabel { return NodeREADME }

func (n *README) Properties() map[string]any {
	return structProps(n)
}

// NewNode returns an empty typed node for a label.
func NewNode(label NodeLabel) (Node, error) {
	switch label {
	case NodeRepository:
		return &Repository{}, nil
	case NodeDirectory:
		return &Directory{}, nil
	case NodePackage:
		return &Package{}, nil
	case NodeModule:
		return &Module{}, nil
	case NodeClass:
		return &Class{}, nil
	case NodeFunction:
		return &Function{}, nil
	case NodeVariable:
		return &Variable{}, nil
	case NodeArgument:
		return &Argument{}, nil
	case NodeReturnValue:
		return &ReturnValue{}, nil
	case NodeDocstring:
		return &Docstring{}, nil
	case NodeDocstringArgument:
		return &DocstringArgument{}, nil
	case NodeDocstringReturnValue:
		return &DocstringReturnValue{}, nil
	case NodeDocstringRaises:
		return &DocstringRaises{}, nil
	case NodeLicense:
		return &License{}, nil
	case NodeREADME:
		return &README{}, nil
	}
	return nil, fmt.Errorf("unknown node label %q", label)
}

// DecodeNode converts a stored node back into its typed form.
func DecodeNode(gn *GraphNode) (Node, error) {
	n, err := NewNode(gn.Label)
	if err != nil {
		return nil, err
	}

	props := make(map[string]any, len(gn.Properties)+2)
	for k, v := range gn.Properties {
		props[k] = normaliseNumber(v)
	}
	props["id"] = gn.ID
	props[PropRepositoryName] = gn.RepositoryName

	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("encoding %s properties: %w", gn.Label, err)
	}
	if err := json.Unmarshal(data, n); err != nil {
		return nil, fmt.Errorf("decoding %s node %d: %w", gn.Label, gn.ID, err)
	}
	n.SetIdentity(gn.ID)
	return n, nil
}

// structProps flattens a node through its JSON tags. Numbers are kept as
// int64/float64 so every backend stores the same primitive types.
func structProps(n Node) map[string]any {
	data, err := json.Marshal(n)
	if err != nil {
		return map[string]any{}
	}

	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return map[string]any{}
	}
	delete(raw, "id")
	delete(raw, PropRepositoryName)

	NormaliseProperties(n.Label(), raw)
	return raw
}

// floatProperties lists, per label, the properties declared as float64.
// They stay floats even when the value is integral.
var floatProperties = map[NodeLabel]map[string]bool{
	NodeLicense: {"confidence": true},
}

// NormaliseProperties maps decoded property values onto the primitive types
// every backend stores: integral numbers become int64 unless label declares
// the property as a float. Relationship properties pass an empty label.
func NormaliseProperties(label NodeLabel, props map[string]any) {
	floats := floatProperties[label]
	for k, v := range props {
		v = normaliseNumber(v)
		if i, ok := v.(int64); ok && floats[k] {
			v = float64(i)
		}
		props[k] = v
	}
}

// normaliseNumber maps the numeric types produced by JSON decoding and by
// database drivers onto int64 where the value is integral.
func normaliseNumber(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	}
	return v
}

func splitCanonical(canonical string) (string, string) {
	i := strings.LastIndex(canonical, ".")
	if i < 0 {
		return "", canonical
	}
	return canonical[:i], canonical[i+1:]
}
