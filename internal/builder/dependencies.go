package builder

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/Benny93/repograph-go/internal/contract"
	"github.com/Benny93/repograph-go/internal/graph"
	"github.com/Benny93/repograph-go/internal/paths"
)

// unresolvedImport is an object import whose source module exists but does
// not declare the object (yet).
type unresolvedImport struct {
	module *graph.Module
	source *graph.Module
	name   string
	dep    contract.Dependency
}

// resolveDependencies links every recorded import statement. Object
// imports that cannot be matched immediately are retried until a round
// makes no progress, and whatever remains becomes a placeholder.
func (s *state) resolveDependencies(ctx context.Context) error {
	var queue []unresolvedImport

	for _, pending := range s.imports {
		m := pending.module
		s.ensureDependencies(m)

		for _, dep := range pending.deps {
			if dep.Import == "" {
				s.logger.Warn("Skipping import without a name", zap.String("module", m.CanonicalName))
				continue
			}

			source := s.lookupModule(m, dep)
			if dep.ImportsModule() {
				if err := s.importModule(ctx, m, source, dep); err != nil {
					return err
				}
				continue
			}

			switch {
			case source == nil:
				if err := s.importFromMissing(ctx, m, dep); err != nil {
					return err
				}
			case source.Inferred:
				obj, err := s.objectIn(ctx, source, dep.Import, dep.Qualified())
				if err != nil {
					return err
				}
				if err := s.importObject(ctx, m, obj, dep.Alias); err != nil {
					return err
				}
			default:
				matches := s.declared(source, dep.Import)
				if len(matches) == 0 {
					queue = append(queue, unresolvedImport{module: m, source: source, name: dep.Import, dep: dep})
					continue
				}
				if len(matches) > 1 {
					s.logger.Warn("More than 1 matching object found in import",
						zap.String("module", m.CanonicalName), zap.String("import", dep.Qualified()))
				}
				for _, match := range matches {
					if err := s.importObject(ctx, m, match, dep.Alias); err != nil {
						return err
					}
				}
			}
		}
	}

	queue, err := s.drain(ctx, queue)
	if err != nil {
		return err
	}
	return s.flush(ctx, queue)
}

// drain retries deferred imports against the declared objects and the
// resolved imports of their source module. Each round must resolve at
// least one entry, otherwise the remainder is returned.
func (s *state) drain(ctx context.Context, queue []unresolvedImport) ([]unresolvedImport, error) {
	for len(queue) > 0 {
		var remaining []unresolvedImport
		for _, u := range queue {
			matches := s.reexported(u.source, u.name)
			if len(matches) == 0 {
				remaining = append(remaining, u)
				continue
			}
			for _, match := range matches {
				if err := s.importObject(ctx, u.module, match, u.dep.Alias); err != nil {
					return nil, err
				}
			}
		}
		if len(remaining) == len(queue) {
			return remaining, nil
		}
		queue = remaining
	}
	return nil, nil
}

// flush materialises a placeholder in the source module for each import
// that never resolved. Placeholders created earlier in the flush are
// reused, so mutually re-exporting modules share one node.
func (s *state) flush(ctx context.Context, queue []unresolvedImport) error {
	for _, u := range queue {
		matches := s.reexported(u.source, u.name)
		if len(matches) > 0 {
			for _, match := range matches {
				if err := s.importObject(ctx, u.module, match, u.dep.Alias); err != nil {
					return err
				}
			}
			continue
		}

		obj := s.placeholder(u.name, u.dep.Qualified(), true)
		if err := s.contain(ctx, u.source, obj); err != nil {
			return err
		}
		s.moduleObjects[u.source] = append(s.moduleObjects[u.source], obj)
		if err := s.importObject(ctx, u.module, obj, u.dep.Alias); err != nil {
			return err
		}
	}
	return nil
}

func (s *state) ensureDependencies(m *graph.Module) {
	if _, ok := s.moduleDependencies[m]; !ok {
		s.moduleDependencies[m] = []graph.Node{}
	}
}

// lookupModule finds the module an import statement reads from. Internal
// imports are also tried relative to each prefix of the importing
// module's canonical name, and every import falls back to the __init__
// module of a package with that name.
func (s *state) lookupModule(importer *graph.Module, dep contract.Dependency) *graph.Module {
	source := dep.Source()
	if m, ok := s.modules[source]; ok {
		return m
	}
	if dep.IsInternal() {
		var prefix []string
		for _, part := range strings.Split(importer.CanonicalName, ".") {
			prefix = append(prefix, part)
			if m, ok := s.modules[paths.JoinCanonical(append(prefix, source)...)]; ok {
				return m
			}
		}
	}
	if m, ok := s.modules[paths.JoinCanonical(source, graph.InitModuleName)]; ok {
		return m
	}
	return nil
}

// importModule handles "import x". A module that was not parsed is
// materialised as an inferred chain of packages ending in a module.
func (s *state) importModule(ctx context.Context, m, source *graph.Module, dep contract.Dependency) error {
	var target graph.Node = source
	if source == nil {
		known, missing := s.missingPackages(dep.Source())
		anchor := s.knownNode(known)
		if len(missing) == 0 {
			target = anchor
		} else {
			leaf, err := s.createMissing(ctx, anchor, known, missing)
			if err != nil {
				return err
			}
			target = leaf
		}
	}
	if target == nil {
		return nil
	}
	return s.importObject(ctx, m, target, dep.Alias)
}

// importFromMissing handles "from x import y" when x was not parsed.
func (s *state) importFromMissing(ctx context.Context, m *graph.Module, dep contract.Dependency) error {
	known, missing := s.missingPackages(dep.Source())
	anchor := s.knownNode(known)

	var container *graph.Module
	switch {
	case len(missing) > 0:
		leaf, err := s.createMissing(ctx, anchor, known, missing)
		if err != nil {
			return err
		}
		container = leaf
	case anchor != nil:
		switch a := anchor.(type) {
		case *graph.Module:
			container = a
		case *graph.Package:
			initMod, err := s.initModule(ctx, a)
			if err != nil {
				return err
			}
			container = initMod
		}
	}

	obj, err := s.objectIn(ctx, container, dep.Import, dep.Qualified())
	if err != nil {
		return err
	}
	return s.importObject(ctx, m, obj, dep.Alias)
}

// importObject links m to what one of its imports resolved to.
func (s *state) importObject(ctx context.Context, m *graph.Module, target graph.Node, alias string) error {
	if !graph.Allowed(graph.RelImports, m.Label(), target.Label()) {
		s.logger.Debug("Import target cannot be imported",
			zap.String("module", m.CanonicalName), zap.String("label", string(target.Label())))
		return nil
	}
	rel, err := graph.Imports(m, target, s.repoName, alias)
	if err := s.link(ctx, rel, err); err != nil {
		return err
	}
	s.ensureDependencies(m)
	s.moduleDependencies[m] = append(s.moduleDependencies[m], target)
	return nil
}

// missingPackages strips trailing segments off a dotted name until it
// names something already known. The stripped segments are returned
// outermost first.
func (s *state) missingPackages(source string) (string, []string) {
	var missing []string
	for source != "" && s.knownNode(source) == nil {
		parent, child := paths.SplitObject(source)
		missing = append([]string{child}, missing...)
		source = parent
	}
	return source, missing
}

// knownNode returns the module, requirement or inferred package with a
// canonical name.
func (s *state) knownNode(name string) graph.Node {
	if name == "" {
		return nil
	}
	if m, ok := s.modules[name]; ok {
		return m
	}
	if p, ok := s.requirements[name]; ok {
		return p
	}
	if p, ok := s.inferredPackages[name]; ok {
		return p
	}
	return nil
}

// createMissing creates inferred packages for every segment but the last,
// which becomes an inferred module. The chain hangs off anchor when the
// adjacency table allows it.
func (s *state) createMissing(ctx context.Context, anchor graph.Node, known string, missing []string) (*graph.Module, error) {
	parent := anchor
	prefix := known
	var leaf *graph.Module

	for i, part := range missing {
		canonical := paths.JoinCanonical(prefix, part)
		var node graph.Node
		if i == len(missing)-1 {
			leaf = &graph.Module{
				Base:          graph.Base{RepositoryName: s.repoName},
				Name:          part,
				CanonicalName: canonical,
				Extension:     graph.PythonExtension,
				Inferred:      true,
			}
			s.registerModule(leaf)
			s.ensureDependencies(leaf)
			node = leaf
		} else {
			pkg := &graph.Package{
				Base:          graph.Base{RepositoryName: s.repoName},
				Name:          part,
				CanonicalName: canonical,
				ParentPackage: prefix,
				External:      true,
				Inferred:      true,
			}
			s.inferredPackages[canonical] = pkg
			node = pkg
		}

		if err := s.add(ctx, node); err != nil {
			return nil, err
		}
		if parent != nil {
			if graph.Allowed(graph.RelContains, parent.Label(), node.Label()) {
				if err := s.contain(ctx, parent, node); err != nil {
					return nil, err
				}
			} else {
				s.logger.Warn("Inferred node cannot be attached to its parent",
					zap.String("parent", string(parent.Label())), zap.String("canonical_name", canonical))
			}
		}
		parent = node
		prefix = canonical
	}
	return leaf, nil
}

// initModule returns the __init__ module of pkg, creating an inferred one
// when the package was never parsed from disk.
func (s *state) initModule(ctx context.Context, pkg *graph.Package) (*graph.Module, error) {
	name := paths.JoinCanonical(pkg.CanonicalName, graph.InitModuleName)
	if m, ok := s.modules[name]; ok {
		return m, nil
	}
	initMod := graph.NewInitModule(pkg.CanonicalName, s.repoName)
	if err := s.contain(ctx, pkg, initMod); err != nil {
		return nil, err
	}
	s.registerModule(initMod)
	s.ensureDependencies(initMod)
	return initMod, nil
}

// objectIn returns the object called name declared by container, creating
// an inferred Class or Function when there is none. A nil container leaves
// the placeholder unattached.
func (s *state) objectIn(ctx context.Context, container *graph.Module, name, canonical string) (graph.Node, error) {
	if container != nil {
		if found := s.declared(container, name); len(found) > 0 {
			return found[0], nil
		}
	}

	obj := s.placeholder(name, canonical, false)
	if container == nil {
		return obj, s.add(ctx, obj)
	}
	if err := s.contain(ctx, container, obj); err != nil {
		return nil, err
	}
	s.moduleObjects[container] = append(s.moduleObjects[container], obj)
	return obj, nil
}

// declared returns the objects m declares with the given name.
func (s *state) declared(m *graph.Module, name string) []graph.Node {
	return matchName(s.moduleObjects[m], name)
}

// reexported looks for name among the objects m declares, then among the
// targets of m's own imports.
func (s *state) reexported(m *graph.Module, name string) []graph.Node {
	if found := s.declared(m, name); len(found) > 0 {
		return found
	}
	return matchName(s.moduleDependencies[m], name)
}

func matchName(nodes []graph.Node, name string) []graph.Node {
	var out []graph.Node
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if got, _ := symbolNames(n); got == name {
			out = append(out, n)
		}
	}
	return out
}

// placeholder creates an inferred node for an imported name, classified by
// naming convention: UPPER_CASE and dunder names are variables (when
// allowed), Capitalised names are classes and anything else a function.
func (s *state) placeholder(name, canonical string, variables bool) graph.Node {
	base := graph.Base{RepositoryName: s.repoName}
	switch {
	case variables && (isUpperName(name) || strings.HasPrefix(name, "__")):
		return &graph.Variable{Base: base, Name: name, CanonicalName: canonical, Type: graph.AnyType, Inferred: true}
	case startsUpper(name):
		return &graph.Class{Base: base, Name: name, CanonicalName: canonical, Inferred: true}
	default:
		return &graph.Function{Base: base, Name: name, CanonicalName: canonical, Type: graph.KindFunction, Inferred: true}
	}
}

// isUpperName reports whether every cased rune in name is upper case and
// there is at least one.
func isUpperName(name string) bool {
	cased := false
	for _, r := range name {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}

func startsUpper(name string) bool {
	for _, r := range name {
		return unicode.IsUpper(r)
	}
	return false
}
