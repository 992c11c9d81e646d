package adapters

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"packlink/internal/ports"
	"packlink/internal/shared"
	"packlink/internal/types"
)

const specFileExt = ".yaml"

// SpecFileStore keeps one YAML document per modpack spec under Dir.
type SpecFileStore struct {
	Dir string
}

func NewSpecFileStore(dir string) SpecFileStore {
	return SpecFileStore{Dir: dir}
}

func (s SpecFileStore) LoadSpec(ctx context.Context, id string) (types.ModpackSpec, error) {
	if err := ctx.Err(); err != nil {
		return types.ModpackSpec{}, err
	}
	path, err := s.specPath(id)
	if err != nil {
		return types.ModpackSpec{}, err
	}
	return LoadSpecFile(path)
}

func (s SpecFileStore) SaveSpec(ctx context.Context, spec types.ModpackSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.specPath(spec.ID)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(spec)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode spec yaml").
			WithCause(err)
	}
	if err := shared.AtomicWriteFile(path, data, 0o644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write spec file").
			WithCause(err)
	}
	return nil
}

func (s SpecFileStore) ListSpecs(ctx context.Context) ([]types.ModpackSpec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Dir) == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("spec directory is empty")
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.ModpackSpec{}, nil
		}
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read spec directory").
			WithCause(err)
	}
	specs := []types.ModpackSpec{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), specFileExt) {
			continue
		}
		spec, err := LoadSpecFile(filepath.Join(s.Dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs, nil
}

func (s SpecFileStore) DeleteSpec(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.specPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("spec not found")
		}
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to delete spec").
			WithCause(err)
	}
	return nil
}

func (s SpecFileStore) specPath(id string) (string, error) {
	if strings.TrimSpace(s.Dir) == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("spec directory is empty")
	}
	if err := shared.ValidateIdentifier(id); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid spec id").
			WithCause(err)
	}
	return filepath.Join(s.Dir, strings.TrimSpace(id)+specFileExt), nil
}

// LoadSpecFile reads a single spec document, for example one being imported.
func LoadSpecFile(path string) (types.ModpackSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ModpackSpec{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("spec not found").
			WithCause(err)
	}
	var spec types.ModpackSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return types.ModpackSpec{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse spec yaml").
			WithCause(err)
	}
	if strings.TrimSpace(spec.ID) == "" {
		return types.ModpackSpec{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("spec id is empty")
	}
	return spec, nil
}

var _ ports.SpecStorePort = SpecFileStore{}
