package types

// CatalogFile is the offline provider catalog: every known version of every
// project, grouped by provider.
type CatalogFile struct {
	Projects []CatalogProject `yaml:"projects" json:"projects"`
}

type CatalogProject struct {
	Provider    Provider          `yaml:"provider" json:"provider"`
	ProjectID   string            `yaml:"project_id" json:"project_id"`
	Name        string            `yaml:"name,omitempty" json:"name,omitempty"`
	ContentType string            `yaml:"content_type,omitempty" json:"content_type,omitempty"`
	Versions    []ProviderVersion `yaml:"versions" json:"versions"`
}
