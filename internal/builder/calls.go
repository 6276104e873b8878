package builder

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Benny93/repograph-go/internal/contract"
	"github.com/Benny93/repograph-go/internal/graph"
	"github.com/Benny93/repograph-go/internal/paths"
)

// resolveExtends links classes to the base classes named in their
// definition. Bases are looked up among the classes of the same module and
// then among what the module imports. Unknown bases are skipped.
func (s *state) resolveExtends(ctx context.Context) error {
	for _, pending := range s.extends {
		for _, name := range pending.bases {
			base := findClass(s.moduleObjects[pending.module], name)
			if base == nil {
				base = findClass(s.moduleDependencies[pending.module], name)
			}
			if base == nil || base == pending.class {
				s.logger.Debug("Base class not found",
					zap.String("class", pending.class.CanonicalName), zap.String("base", name))
				continue
			}
			rel, err := graph.Extends(pending.class, base, s.repoName)
			if err := s.link(ctx, rel, err); err != nil {
				return err
			}
		}
	}
	return nil
}

func findClass(nodes []graph.Node, name string) *graph.Class {
	last := paths.LastSegment(name)
	var byName *graph.Class
	for _, n := range nodes {
		c, ok := n.(*graph.Class)
		if !ok {
			continue
		}
		if c.CanonicalName == name {
			return c
		}
		if byName == nil && c.Name == last {
			byName = c
		}
	}
	return byName
}

// parseCallGraph links callers to callees for every file in the call
// graph. Module bodies call from the Module node; functions call from the
// matching Function.
func (s *state) parseCallGraph(ctx context.Context, cg contract.CallGraph) error {
	if len(cg) == 0 {
		s.logger.Error("No call graph provided!")
		return nil
	}

	for _, dir := range cg {
		for _, file := range dir.Value {
			m := s.moduleForFile(file.Key)
			if m == nil {
				s.logger.Error("Couldn't find existing Module node. Skipping!", zap.String("file", file.Key))
				continue
			}

			if err := s.parseCalls(ctx, m, m, file.Value.Body); err != nil {
				return err
			}
			for _, fn := range file.Value.Functions {
				var caller graph.Node = m
				if found := s.findByName(s.moduleObjects[m], fn.Key); found != nil && found.Label() == graph.NodeFunction {
					caller = found
				}
				if err := s.parseCalls(ctx, m, caller, fn.Value); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *state) moduleForFile(file string) *graph.Module {
	if m, ok := s.modules[file]; ok {
		return m
	}
	if file == "" {
		return nil
	}
	return s.modules[filepath.ToSlash(file)]
}

// parseCalls classifies each callee as an import, a builtin, or an object
// declared in the same module, in that order. Anything else is a call on
// a runtime value and is ignored.
func (s *state) parseCalls(ctx context.Context, m *graph.Module, caller graph.Node, sites contract.CallSites) error {
	for _, call := range sites.Local {
		_, name := paths.SplitObject(call)

		var callee graph.Node
		switch {
		case s.moduleImports[m][call]:
			callee = s.findByName(s.moduleDependencies[m], call)
		case IsBuiltin(call):
			fn, err := s.builtin(ctx, name)
			if err != nil {
				return err
			}
			callee = fn
		default:
			callee = s.findByName(s.moduleObjects[m], name)
		}

		if callee == nil {
			s.logger.Debug("Call to some other variable. Ignoring.", zap.String("call", call))
			continue
		}
		if !graph.Allowed(graph.RelCalls, caller.Label(), callee.Label()) {
			s.logger.Debug("Callee cannot be called",
				zap.String("call", call), zap.String("label", string(callee.Label())))
			continue
		}
		rel, err := graph.Calls(caller, callee, s.repoName)
		if err := s.link(ctx, rel, err); err != nil {
			return err
		}
	}
	return nil
}

// builtin returns the shared node for a called builtin, creating it on
// first use.
func (s *state) builtin(ctx context.Context, name string) (*graph.Function, error) {
	if fn, ok := s.builtins[name]; ok {
		return fn, nil
	}
	fn := &graph.Function{
		Base:          graph.Base{RepositoryName: s.repoName},
		Name:          name,
		CanonicalName: name,
		Type:          graph.KindFunction,
		Builtin:       true,
		Inferred:      true,
	}
	if err := s.add(ctx, fn); err != nil {
		return nil, err
	}
	s.builtins[name] = fn
	return fn, nil
}
