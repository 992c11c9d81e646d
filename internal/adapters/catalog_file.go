package adapters

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"packlink/internal/ports"
	"packlink/internal/types"
)

// CatalogFileProvider serves provider versions from a YAML catalog file.
// The file is read once, on first use.
type CatalogFileProvider struct {
	Path string

	once     sync.Once
	loadErr  error
	projects map[string]types.CatalogProject
	versions map[string]types.ProviderVersion
}

func NewCatalogFileProvider(path string) *CatalogFileProvider {
	return &CatalogFileProvider{Path: path}
}

func (p *CatalogFileProvider) ListVersions(ctx context.Context, provider types.Provider, projectID string, query types.VersionQuery) ([]types.ProviderVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	project, ok := p.projects[catalogKey(provider, projectID)]
	if !ok {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("project not found: %s", projectID))
	}
	return append([]types.ProviderVersion{}, project.Versions...), nil
}

func (p *CatalogFileProvider) Dependencies(ctx context.Context, provider types.Provider, versionID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	version, ok := p.versions[catalogKey(provider, versionID)]
	if !ok {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("version not found: %s", versionID))
	}
	return append([]string{}, version.Dependencies...), nil
}

func (p *CatalogFileProvider) load() error {
	p.once.Do(func() {
		data, err := os.ReadFile(p.Path)
		if err != nil {
			p.loadErr = errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("catalog file not found").
				WithCause(err)
			return
		}
		var catalog types.CatalogFile
		if err := yaml.Unmarshal(data, &catalog); err != nil {
			p.loadErr = errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("invalid catalog format").
				WithCause(err)
			return
		}
		p.projects, p.versions = indexCatalog(catalog)
	})
	return p.loadErr
}

func indexCatalog(catalog types.CatalogFile) (map[string]types.CatalogProject, map[string]types.ProviderVersion) {
	projects := map[string]types.CatalogProject{}
	versions := map[string]types.ProviderVersion{}
	for _, project := range catalog.Projects {
		key := catalogKey(project.Provider, project.ProjectID)
		existing, ok := projects[key]
		if ok {
			existing.Versions = append(existing.Versions, project.Versions...)
			project = existing
		}
		for i := range project.Versions {
			if project.Versions[i].Name == "" {
				project.Versions[i].Name = project.Name
			}
			versions[catalogKey(project.Provider, project.Versions[i].VersionID)] = project.Versions[i]
		}
		projects[key] = project
	}
	return projects, versions
}

func catalogKey(provider types.Provider, id string) string {
	return string(types.NormalizeProvider(provider)) + ":" + strings.ToLower(strings.TrimSpace(id))
}

var _ ports.ProviderPort = (*CatalogFileProvider)(nil)
