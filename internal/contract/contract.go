// Package contract defines the JSON documents produced by the inspect4py
// extraction tool and the loaders that read them from disk.
//
// Two documents are produced per analysed repository:
//
//   - directory_info.json: directory path -> list of per-file records, plus
//     a handful of reserved top-level keys (requirements, license, ...).
//   - call_graph.json: directory -> file -> call sites.
package contract

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// File names written by the extraction tool into its output directory.
const (
	DirectoryInfoFile = "directory_info.json"
	CallGraphFile     = "call_graph.json"
)

// Reserved top-level keys of directory_info.json.
const (
	KeyRequirements       = "requirements"
	KeyDirectoryTree      = "directory_tree"
	KeyLicense            = "license"
	KeyReadmeFiles        = "readme_files"
	KeyMetadata           = "metadata"
	KeySoftwareInvocation = "software_invocation"
	KeySoftwareType       = "software_type"
	KeyTests              = "tests"
)

// DirectoryInfo is the decoded directory_info.json document.
//
// Nil sections were absent from the document.
type DirectoryInfo struct {
	Directories        OrderedMap[[]FileRecord]
	Requirements       OrderedMap[string]
	DirectoryTree      json.RawMessage
	License            *License
	ReadmeFiles        OrderedMap[string]
	Metadata           *RepositoryMetadata
	SoftwareInvocation json.RawMessage
	SoftwareType       json.RawMessage
	Tests              json.RawMessage
}

// UnmarshalJSON pops the reserved keys and decodes the remaining keys as
// directories.
func (d *DirectoryInfo) UnmarshalJSON(data []byte) error {
	var raw OrderedMap[json.RawMessage]
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := DirectoryInfo{}
	for _, e := range raw {
		var err error
		switch e.Key {
		case KeyRequirements:
			err = decodeOptional(e.Value, &out.Requirements)
		case KeyDirectoryTree:
			out.DirectoryTree = e.Value
		case KeyLicense:
			if !isNull(e.Value) {
				out.License = &License{}
				err = json.Unmarshal(e.Value, out.License)
			}
		case KeyReadmeFiles:
			err = decodeOptional(e.Value, &out.ReadmeFiles)
		case KeyMetadata:
			if !isNull(e.Value) {
				out.Metadata = &RepositoryMetadata{}
				err = json.Unmarshal(e.Value, out.Metadata)
			}
		case KeySoftwareInvocation:
			out.SoftwareInvocation = e.Value
		case KeySoftwareType:
			out.SoftwareType = e.Value
		case KeyTests:
			out.Tests = e.Value
		default:
			var files []FileRecord
			err = json.Unmarshal(e.Value, &files)
			if err == nil {
				out.Directories = append(out.Directories, Entry[[]FileRecord]{Key: e.Key, Value: files})
			}
		}
		if err != nil {
			return fmt.Errorf("decoding %q: %w", e.Key, err)
		}
	}

	*d = out
	return nil
}

// SoftwareTypeName extracts the classification hint. The tool has emitted
// a bare string, an object with a "type" field, and a list of such objects
// across versions; the first type found wins.
func (d *DirectoryInfo) SoftwareTypeName() string {
	if isNull(d.SoftwareType) {
		return ""
	}

	var s string
	if err := json.Unmarshal(d.SoftwareType, &s); err == nil {
		return s
	}

	type typed struct {
		Type string `json:"type"`
	}
	var one typed
	if err := json.Unmarshal(d.SoftwareType, &one); err == nil && one.Type != "" {
		return one.Type
	}

	var many []typed
	if err := json.Unmarshal(d.SoftwareType, &many); err == nil {
		for _, t := range many {
			if t.Type != "" {
				return t.Type
			}
		}
	}
	return ""
}

// FileRecord describes one analysed source file.
type FileRecord struct {
	File         FileInfo                 `json:"file"`
	IsTest       bool                     `json:"is_test"`
	Functions    OrderedMap[FunctionInfo] `json:"functions"`
	Classes      OrderedMap[ClassInfo]    `json:"classes"`
	Dependencies []Dependency             `json:"dependencies"`
}

// FileInfo identifies the analysed file.
type FileInfo struct {
	FileNameBase string `json:"fileNameBase"`
	Path         string `json:"path"`
	Extension    string `json:"extension"`
}

// LineRange is the min_max_lineno entry of a function or class.
type LineRange struct {
	Min *int `json:"min_lineno"`
	Max *int `json:"max_lineno"`
}

// Bounds returns the line numbers, or nil pointers when missing.
func Bounds(r *LineRange) (*int, *int) {
	if r == nil {
		return nil, nil
	}
	return r.Min, r.Max
}

// FunctionInfo describes a function or method.
type FunctionInfo struct {
	Args                []string          `json:"args"`
	AnnotatedArgTypes   map[string]string `json:"annotated_arg_types"`
	Returns             []any             `json:"returns"`
	AnnotatedReturnType string            `json:"annotated_return_type"`
	LineRange           *LineRange        `json:"min_max_lineno"`
	Doc                 *Docstring        `json:"doc"`
	SourceCode          string            `json:"source_code"`
	AST                 json.RawMessage   `json:"ast"`
}

// ClassInfo describes a class declared in a module.
type ClassInfo struct {
	LineRange *LineRange               `json:"min_max_lineno"`
	Doc       *Docstring               `json:"doc"`
	Extend    []string                 `json:"extend"`
	Methods   OrderedMap[FunctionInfo] `json:"methods"`
}

// Docstring is the parsed docstring of a function or class.
type Docstring struct {
	ShortDescription string                  `json:"short_description"`
	LongDescription  string                  `json:"long_description"`
	Args             OrderedMap[DocArgument] `json:"args"`
	Returns          *DocReturns             `json:"returns"`
	Raises           []DocRaises             `json:"raises"`
}

// IsEmpty reports whether no docstring information was extracted.
func (d *Docstring) IsEmpty() bool {
	return d == nil || (d.ShortDescription == "" && d.LongDescription == "" &&
		len(d.Args) == 0 && d.Returns == nil && len(d.Raises) == 0)
}

// DocArgument documents one argument.
type DocArgument struct {
	Description string `json:"description"`
	TypeName    string `json:"type_name"`
	IsOptional  bool   `json:"is_optional"`
	Default     string `json:"default"`
}

// DocReturns documents the return value.
type DocReturns struct {
	ReturnName  string `json:"return_name"`
	Description string `json:"description"`
	TypeName    string `json:"type_name"`
	IsGenerator bool   `json:"is_generator"`
}

// DocRaises documents a raised exception.
type DocRaises struct {
	Description string `json:"description"`
	TypeName    string `json:"type_name"`
}

// Dependency is one import statement.
type Dependency struct {
	Import     string  `json:"import"`
	FromModule *string `json:"from_module"`
	Alias      string  `json:"alias"`
	Type       string  `json:"type"`
}

// ImportsModule reports whether the statement imports a whole module
// ("import x") rather than an object from one ("from x import y").
func (d Dependency) ImportsModule() bool {
	return d.FromModule == nil
}

// Source is the module the statement imports from.
func (d Dependency) Source() string {
	if d.FromModule != nil {
		return *d.FromModule
	}
	return d.Import
}

// Qualified is the dotted name the imported symbol is referred to by in
// call-graph entries.
func (d Dependency) Qualified() string {
	if d.FromModule != nil {
		return *d.FromModule + "." + d.Import
	}
	return d.Import
}

// IsInternal reports whether the import targets code inside the repository.
func (d Dependency) IsInternal() bool {
	return d.Type == "internal"
}

// License is the license section of directory_info.json.
type License struct {
	DetectedType  []OrderedMap[json.RawMessage] `json:"detected_type"`
	ExtractedText string                        `json:"extracted_text"`
}

// ParseConfidence converts a detected-type confidence such as "95.0%" or
// 95.0 into a 0-1 score.
func ParseConfidence(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f / 100, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("confidence %s is neither a number nor a string", string(raw))
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(strings.Trim(s, "%")), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing confidence %q: %w", s, err)
	}
	return f / 100, nil
}

// RepositoryMetadata is the optional rich metadata about the repository,
// as fetched by the extraction tool from the hosting service.
type RepositoryMetadata struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	FullName        string `json:"full_name"`
	Description     string `json:"description"`
	Homepage        string `json:"homepage"`
	HTMLURL         string `json:"html_url"`
	CloneURL        string `json:"clone_url"`
	GitURL          string `json:"git_url"`
	SSHURL          string `json:"ssh_url"`
	DefaultBranch   string `json:"default_branch"`
	Language        string `json:"language"`
	Visibility      string `json:"visibility"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
	PushedAt        string `json:"pushed_at"`
	Size            int64  `json:"size"`
	StargazersCount int64  `json:"stargazers_count"`
	WatchersCount   int64  `json:"watchers_count"`
	ForksCount      int64  `json:"forks_count"`
	OpenIssuesCount int64  `json:"open_issues_count"`
	Archived        bool   `json:"archived"`
	Fork            bool   `json:"fork"`
}

// CallGraph is the decoded call_graph.json document:
// directory -> file path -> calls made in that file.
type CallGraph = OrderedMap[OrderedMap[FileCalls]]

// FileCalls lists the call sites of one file.
type FileCalls struct {
	Body      CallSites             `json:"body"`
	Functions OrderedMap[CallSites] `json:"functions"`
}

// CallSites is the list of callees made from one scope.
type CallSites struct {
	Local []string `json:"local"`
}

// LoadDirectoryInfo reads and decodes a directory_info.json file.
func LoadDirectoryInfo(path string) (*DirectoryInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory info: %w", err)
	}
	var info DirectoryInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decoding directory info %s: %w", path, err)
	}
	return &info, nil
}

// LoadCallGraph reads and decodes a call_graph.json file. A missing file
// yields an empty call graph.
func LoadCallGraph(path string) (CallGraph, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading call graph: %w", err)
	}
	var cg CallGraph
	if err := json.Unmarshal(data, &cg); err != nil {
		return nil, fmt.Errorf("decoding call graph %s: %w", path, err)
	}
	return cg, nil
}

func decodeOptional[T any](raw json.RawMessage, dst *OrderedMap[T]) error {
	if isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return err
	}
	if *dst == nil {
		*dst = OrderedMap[T]{}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
