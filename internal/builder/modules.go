package builder

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Benny93/repograph-go/internal/contract"
	"github.com/Benny93/repograph-go/internal/graph"
	"github.com/Benny93/repograph-go/internal/paths"
)

// parseFiles creates a Module for every file record. The enclosing
// directory is a package when one of them is an __init__ module.
func (s *state) parseFiles(files []contract.FileRecord) ([]parsedModule, bool) {
	isPackage := false
	out := make([]parsedModule, 0, len(files))
	for i, rec := range files {
		s.logger.Debug("Parsing file",
			zap.String("file", rec.File.FileNameBase), zap.Int("index", i+1), zap.Int("total", len(files)))
		m := s.newModule(rec)
		isPackage = isPackage || m.Name == graph.InitModuleName
		out = append(out, parsedModule{module: m, record: rec})
	}
	return out, isPackage
}

func (s *state) newModule(rec contract.FileRecord) *graph.Module {
	// The extraction path is kept as given, absolute or not.
	file := filepath.ToSlash(rec.File.Path)
	parent := ""
	if file != "" {
		parent = path.Dir(file)
	}
	return &graph.Module{
		Base:          graph.Base{RepositoryName: s.repoName},
		Name:          rec.File.FileNameBase,
		CanonicalName: rec.File.FileNameBase,
		Path:          file,
		ParentPath:    parent,
		Extension:     rec.File.Extension,
		IsTest:        rec.IsTest,
	}
}

// addModule stages a module under its container, registers it under both
// its path and canonical name, then parses its contents.
func (s *state) addModule(ctx context.Context, container graph.Node, m *graph.Module, rec contract.FileRecord) error {
	if err := s.contain(ctx, container, m); err != nil {
		return err
	}
	s.registerModule(m)
	return s.parseModuleContents(ctx, m, rec)
}

func (s *state) registerModule(m *graph.Module) {
	if m.Path != "" {
		s.modules[m.Path] = m
	}
	s.modules[m.CanonicalName] = m
	if _, ok := s.moduleObjects[m]; !ok {
		s.moduleObjects[m] = []graph.Node{}
	}
}

func (s *state) parseModuleContents(ctx context.Context, m *graph.Module, rec contract.FileRecord) error {
	if err := s.parseFunctions(ctx, rec.Functions, m, m.CanonicalName, false); err != nil {
		return err
	}
	if err := s.parseClasses(ctx, rec.Classes, m); err != nil {
		return err
	}
	if rec.Dependencies != nil {
		s.imports = append(s.imports, pendingImports{module: m, deps: rec.Dependencies})
		names := make(map[string]bool, len(rec.Dependencies))
		for _, d := range rec.Dependencies {
			names[d.Qualified()] = true
		}
		s.moduleImports[m] = names
	}
	return nil
}

// parseFunctions creates the functions of a module, or the methods of a
// class when methods is set.
func (s *state) parseFunctions(ctx context.Context, fns contract.OrderedMap[contract.FunctionInfo], parent graph.Node, parentCanonical string, methods bool) error {
	for _, e := range fns {
		name, info := e.Key, e.Value

		minLine, maxLine := contract.Bounds(info.LineRange)
		if minLine == nil || maxLine == nil {
			s.logger.Warn("Missing line number information for function", zap.String("function", name))
		}

		var ast string
		if len(info.AST) == 0 || string(info.AST) == "null" {
			s.logger.Warn("AST missing for function", zap.String("function", name))
		} else {
			ast = string(info.AST)
		}
		if info.SourceCode == "" {
			s.logger.Warn("Source code missing for function", zap.String("function", name))
		}

		kind, attach := graph.KindFunction, graph.HasFunction
		if methods {
			kind, attach = graph.KindMethod, graph.HasMethod
		}
		fn := &graph.Function{
			Base:          graph.Base{RepositoryName: s.repoName},
			Name:          name,
			CanonicalName: paths.JoinCanonical(parentCanonical, name),
			Type:          kind,
			SourceCode:    info.SourceCode,
			AST:           ast,
			MinLineNumber: minLine,
			MaxLineNumber: maxLine,
		}
		rel, err := attach(parent, fn, s.repoName)
		if err := s.link(ctx, rel, err); err != nil {
			return err
		}
		if err := s.parseDocstring(ctx, info.Doc, fn); err != nil {
			return err
		}
		if m, ok := parent.(*graph.Module); ok {
			s.moduleObjects[m] = append(s.moduleObjects[m], fn)
		}
		if err := s.parseArguments(ctx, info.Args, info.AnnotatedArgTypes, fn); err != nil {
			return err
		}
		if err := s.parseReturnValues(ctx, info.Returns, info.AnnotatedReturnType, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *state) parseClasses(ctx context.Context, classes contract.OrderedMap[contract.ClassInfo], m *graph.Module) error {
	for _, e := range classes {
		name, info := e.Key, e.Value
		minLine, maxLine := contract.Bounds(info.LineRange)
		class := &graph.Class{
			Base:          graph.Base{RepositoryName: s.repoName},
			Name:          name,
			CanonicalName: paths.JoinCanonical(m.CanonicalName, name),
			MinLineNumber: minLine,
			MaxLineNumber: maxLine,
		}
		if err := s.contain(ctx, m, class); err != nil {
			return err
		}
		s.moduleObjects[m] = append(s.moduleObjects[m], class)

		if len(info.Extend) > 0 {
			s.extends = append(s.extends, pendingExtends{class: class, module: m, bases: info.Extend})
		} else {
			s.logger.Debug("Class doesn't extend any other classes", zap.String("class", name))
		}

		if err := s.parseDocstring(ctx, info.Doc, class); err != nil {
			return err
		}
		if len(info.Methods) > 0 {
			if err := s.parseFunctions(ctx, info.Methods, class, class.CanonicalName, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *state) parseArguments(ctx context.Context, args []string, annotated map[string]string, fn *graph.Function) error {
	for _, name := range args {
		argType := graph.AnyType
		if t, ok := annotated[name]; ok && t != "" {
			argType = t
		}
		arg := &graph.Argument{
			Base: graph.Base{RepositoryName: s.repoName},
			Name: name,
			Type: argType,
		}
		rel, err := graph.HasArgument(fn, arg, s.repoName)
		if err := s.link(ctx, rel, err); err != nil {
			return err
		}
	}
	return nil
}

// parseReturnValues creates a ReturnValue per returned name. The annotated
// type only applies when the function has a single return statement.
func (s *state) parseReturnValues(ctx context.Context, returns []any, annotated string, fn *graph.Function) error {
	var returnType string
	switch {
	case len(returns) > 1:
		returnType = graph.AnyType
	case len(returns) == 1:
		returnType = annotated
		if returnType == "" {
			returnType = graph.AnyType
		}
	default:
		return nil
	}

	var walk func(values []any) error
	walk = func(values []any) error {
		for _, v := range values {
			switch x := v.(type) {
			case []any:
				if err := walk(x); err != nil {
					return err
				}
			case string:
				rv := &graph.ReturnValue{
					Base: graph.Base{RepositoryName: s.repoName},
					Name: x,
					Type: returnType,
				}
				rel, err := graph.Returns(fn, rv, s.repoName)
				if err := s.link(ctx, rel, err); err != nil {
					return err
				}
			default:
				s.logger.Error("Unexpected return value type",
					zap.String("type", fmt.Sprintf("%T", v)), zap.String("function", fn.Name))
			}
		}
		return nil
	}
	return walk(returns)
}

// parseDocstring documents a class or function. Classes without docstring
// data are skipped. Functions without one still get a Docstring when a
// summarizer is configured, so the summary has somewhere to live.
func (s *state) parseDocstring(ctx context.Context, doc *contract.Docstring, parent graph.Node) error {
	fn, isFunction := parent.(*graph.Function)
	if doc.IsEmpty() && (!isFunction || s.summarizer == nil) {
		s.logger.Debug("No docstring information", zap.String("label", string(parent.Label())))
		return nil
	}
	if doc == nil {
		doc = &contract.Docstring{}
	}

	node := &graph.Docstring{
		Base:             graph.Base{RepositoryName: s.repoName},
		ShortDescription: doc.ShortDescription,
		LongDescription:  doc.LongDescription,
	}
	if isFunction && s.summarizer != nil {
		summary, err := s.summarizer.Summarize(ctx, fn)
		if err != nil {
			s.logger.Warn("Summarization failed", zap.String("function", fn.CanonicalName), zap.Error(err))
		}
		node.Summarization = summary
	}
	rel, err := graph.Documents(node, parent, s.repoName)
	if err := s.link(ctx, rel, err); err != nil {
		return err
	}

	var parts []graph.Node
	for _, e := range doc.Args {
		parts = append(parts, &graph.DocstringArgument{
			Base:        graph.Base{RepositoryName: s.repoName},
			Name:        e.Key,
			Type:        e.Value.TypeName,
			Description: e.Value.Description,
			IsOptional:  e.Value.IsOptional,
			Default:     e.Value.Default,
		})
	}
	if r := doc.Returns; r != nil {
		parts = append(parts, &graph.DocstringReturnValue{
			Base:        graph.Base{RepositoryName: s.repoName},
			Name:        r.ReturnName,
			Description: r.Description,
			Type:        r.TypeName,
			IsGenerator: r.IsGenerator,
		})
	}
	for _, r := range doc.Raises {
		parts = append(parts, &graph.DocstringRaises{
			Base:        graph.Base{RepositoryName: s.repoName},
			Description: r.Description,
			Type:        r.TypeName,
		})
	}
	for _, part := range parts {
		rel, err := graph.Describes(node, part, s.repoName)
		if err := s.link(ctx, rel, err); err != nil {
			return err
		}
	}
	return nil
}
