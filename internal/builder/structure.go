package builder

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/Benny93/repograph-go/internal/contract"
	"github.com/Benny93/repograph-go/internal/graph"
	"github.com/Benny93/repograph-go/internal/paths"
)

type directoryEntry struct {
	path  string
	files []contract.FileRecord
}

// sortedDirectories normalises directory keys against basePath and orders
// them by depth, parent path and name so parents are visited before children.
func sortedDirectories(dirs contract.OrderedMap[[]contract.FileRecord], basePath string) []directoryEntry {
	out := make([]directoryEntry, 0, len(dirs))
	for _, e := range dirs {
		out = append(out, directoryEntry{path: paths.Relative(basePath, e.Key), files: e.Value})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return paths.DirectoryLess(out[i].path, out[j].path)
	})
	return out
}

type parsedModule struct {
	module *graph.Module
	record contract.FileRecord
}

// parseRepository creates the Repository node. When the first directory is
// the repository root it is consumed here and its files become modules of
// the repository itself.
func (s *state) parseRepository(ctx context.Context, dirs *[]directoryEntry) (*graph.Repository, error) {
	first := (*dirs)[0]

	var files []contract.FileRecord
	name := first.path
	if paths.IsRoot(first.path) {
		files = first.files
		*dirs = (*dirs)[1:]
	} else {
		name = paths.Root(first.path)
	}
	s.repoName = name
	s.result.Repository = name

	modules, isPackage := s.parseFiles(files)

	info := s.in.DirectoryInfo
	softwareType, _ := graph.ParseSoftwareType(info.SoftwareTypeName())
	repo := newRepository(name, isPackage, softwareType, info.Metadata)
	if err := s.add(ctx, repo); err != nil {
		return nil, err
	}
	s.directories[repo.Name] = repo

	for _, pm := range modules {
		m := pm.module
		if repo.IsRootPackage {
			m = m.WithCanonicalName(paths.JoinCanonical(repo.Name, m.Name))
		}
		if err := s.addModule(ctx, repo, m, pm.record); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

func newRepository(name string, isPackage bool, softwareType graph.SoftwareType, md *contract.RepositoryMetadata) *graph.Repository {
	repo := &graph.Repository{
		Base:          graph.Base{RepositoryName: name},
		Name:          name,
		Type:          softwareType,
		IsRootPackage: isPackage,
	}
	if md == nil {
		return repo
	}
	repo.FullName = md.FullName
	repo.Description = md.Description
	repo.Homepage = md.Homepage
	repo.HTMLURL = md.HTMLURL
	repo.CloneURL = md.CloneURL
	repo.DefaultBranch = md.DefaultBranch
	repo.Language = md.Language
	repo.Visibility = md.Visibility
	repo.CreatedAt = md.CreatedAt
	repo.UpdatedAt = md.UpdatedAt
	repo.PushedAt = md.PushedAt
	repo.Size = md.Size
	repo.StargazersCount = md.StargazersCount
	repo.WatchersCount = md.WatchersCount
	repo.ForksCount = md.ForksCount
	repo.OpenIssuesCount = md.OpenIssuesCount
	repo.Archived = md.Archived
	repo.Fork = md.Fork
	return repo
}

func (s *state) parseRequirements(ctx context.Context, reqs contract.OrderedMap[string], repo *graph.Repository) error {
	if len(reqs) == 0 {
		s.logger.Warn("No requirements information found.")
		return nil
	}
	s.logger.Info("Parsing requirements information...")
	for _, e := range reqs {
		pkg := graph.NewExternalPackage(e.Key, s.repoName)
		rel, err := graph.Requires(repo, pkg, s.repoName, e.Value)
		if err != nil {
			return err
		}
		if err := s.add(ctx, pkg, rel); err != nil {
			return err
		}
		s.requirements[e.Key] = pkg
	}
	return nil
}

func (s *state) parseLicense(ctx context.Context, lic *contract.License, repo *graph.Repository) error {
	if lic == nil {
		s.logger.Warn("No license information found.")
		return nil
	}
	s.logger.Info("Parsing repository license information.")
	if len(lic.DetectedType) == 0 {
		s.logger.Warn("No license types detected")
	}
	for _, detected := range lic.DetectedType {
		for _, e := range detected {
			confidence, err := contract.ParseConfidence(e.Value)
			if err != nil {
				s.logger.Warn("Skipping license with unreadable confidence",
					zap.String("license", e.Key), zap.Error(err))
				continue
			}
			node := &graph.License{
				Base:        graph.Base{RepositoryName: s.repoName},
				Text:        lic.ExtractedText,
				LicenseType: e.Key,
				Confidence:  confidence,
			}
			rel, err := graph.LicensedBy(repo, node, s.repoName)
			if err := s.link(ctx, rel, err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *state) parseDirectory(ctx context.Context, dir directoryEntry, index, total int) error {
	s.logger.Debug("Parsing directory",
		zap.String("path", dir.path), zap.Int("index", index+1), zap.Int("total", total))

	modules, isPackage := s.parseFiles(dir.files)

	container, ok := s.directories[dir.path]
	if ok {
		s.logger.Warn("Directory listed more than once", zap.String("path", dir.path))
	} else {
		parentPath := paths.Parent(dir.path)
		parent, err := s.parentDirectory(ctx, parentPath)
		if err != nil {
			return err
		}
		if isPackage {
			container = graph.NewPackageFromDirectory(dir.path, parentPath, s.canonicalPackageName(dir.path), s.repoName)
		} else {
			container = s.newDirectory(dir.path)
		}
		s.directories[dir.path] = container
		if err := s.contain(ctx, parent, container); err != nil {
			return err
		}
	}

	for _, pm := range modules {
		m := pm.module
		if pkg, ok := container.(*graph.Package); ok {
			m = m.WithCanonicalName(paths.JoinCanonical(pkg.CanonicalName, m.Name))
		}
		if err := s.addModule(ctx, container, m, pm.record); err != nil {
			return err
		}
	}
	return nil
}

func (s *state) newDirectory(path string) *graph.Directory {
	return &graph.Directory{
		Base:       graph.Base{RepositoryName: s.repoName},
		Name:       paths.Name(path),
		Path:       path,
		ParentPath: paths.Parent(path),
	}
}

// parentDirectory returns the node materialised for path. Missing
// ancestors are created top-down, starting below the closest ancestor that
// already exists. The walk stops at the repository root.
func (s *state) parentDirectory(ctx context.Context, path string) (graph.Node, error) {
	if existing, ok := s.directories[path]; ok {
		return existing, nil
	}

	var missing []string
	p := path
	for p != paths.Current && p != "" {
		if _, ok := s.directories[p]; ok {
			break
		}
		missing = append(missing, p)
		p = paths.Parent(p)
	}

	anchor, ok := s.directories[p]
	if !ok {
		anchor = s.directories[s.repoName]
	}
	for i := len(missing) - 1; i >= 0; i-- {
		dir := s.newDirectory(missing[i])
		if err := s.contain(ctx, anchor, dir); err != nil {
			return nil, err
		}
		s.directories[dir.Path] = dir
		anchor = dir
	}
	return anchor, nil
}

// canonicalPackageName joins the names of path and of every enclosing
// package, stopping at the first ancestor that is not a package.
func (s *state) canonicalPackageName(path string) string {
	parts := []string{paths.Name(path)}
	for parent := paths.Parent(path); parent != paths.Current && parent != ""; parent = paths.Parent(parent) {
		switch n := s.directories[parent].(type) {
		case *graph.Package:
		case *graph.Repository:
			if !n.IsRootPackage {
				return paths.JoinCanonical(parts...)
			}
		default:
			return paths.JoinCanonical(parts...)
		}
		parts = append([]string{paths.Name(parent)}, parts...)
	}
	return paths.JoinCanonical(parts...)
}

func (s *state) parseReadmes(ctx context.Context, readmes contract.OrderedMap[string]) error {
	if len(readmes) == 0 {
		s.logger.Warn("No READMEs found!")
		return nil
	}
	for _, e := range readmes {
		path := paths.Relative(s.in.BasePath, e.Key)
		readme := &graph.README{
			Base:    graph.Base{RepositoryName: s.repoName},
			Path:    path,
			Content: e.Value,
		}
		if err := s.add(ctx, readme); err != nil {
			return err
		}
		parent, ok := s.directories[paths.Parent(path)]
		if !ok {
			s.logger.Error("Couldn't find parent for README", zap.String("path", path))
			continue
		}
		if err := s.contain(ctx, parent, readme); err != nil {
			return err
		}
	}
	return nil
}
