package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"packlink/internal/adapters"
	"packlink/internal/core"
	"packlink/internal/types"
)

func (s Service) CreateSpec(ctx context.Context, req CreateSpecRequest) (types.ModpackSpec, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = s.newID("mp_")
	}
	if _, err := s.Specs.LoadSpec(ctx, id); err == nil {
		return types.ModpackSpec{}, errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg("spec already exists: " + id)
	} else if errbuilder.CodeOf(err) != errbuilder.CodeNotFound {
		return types.ModpackSpec{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = id
	}
	now := timeNow(s.Clock)
	spec := types.ModpackSpec{
		ID:          id,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Layers:      types.DefaultLayers(),
		Profiles:    types.DefaultProfiles(),
		Settings:    types.DefaultResolutionSettings(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := core.NewSpecValidator().ValidateSpec(ctx, spec); err != nil {
		return types.ModpackSpec{}, err
	}
	if err := s.Specs.SaveSpec(ctx, spec); err != nil {
		return types.ModpackSpec{}, err
	}
	log.Ctx(ctx).Info().Str("spec_id", id).Msg("spec created")
	return spec, nil
}

func (s Service) GetSpec(ctx context.Context, id string) (types.ModpackSpec, error) {
	return s.Specs.LoadSpec(ctx, strings.TrimSpace(id))
}

func (s Service) ListSpecs(ctx context.Context) ([]types.ModpackSpec, error) {
	return s.Specs.ListSpecs(ctx)
}

func (s Service) DeleteSpec(ctx context.Context, id string) error {
	return s.Specs.DeleteSpec(ctx, strings.TrimSpace(id))
}

// ImportSpec loads a spec document from disk and stores it, replacing any
// spec with the same id.
func (s Service) ImportSpec(ctx context.Context, path string) (types.ModpackSpec, error) {
	spec, err := adapters.LoadSpecFile(path)
	if err != nil {
		return types.ModpackSpec{}, err
	}
	return s.SaveSpec(ctx, SaveSpecRequest{Spec: spec})
}

// SaveSpec validates and stores a spec, bumping updated_at. When
// ExpectedUpdatedAt is set and no longer matches the stored stamp the save
// is rejected as stale.
func (s Service) SaveSpec(ctx context.Context, req SaveSpecRequest) (types.ModpackSpec, error) {
	spec := req.Spec
	spec.ID = strings.TrimSpace(spec.ID)
	if err := core.NewSpecValidator().ValidateSpec(ctx, spec); err != nil {
		return types.ModpackSpec{}, err
	}
	current, err := s.Specs.LoadSpec(ctx, spec.ID)
	exists := err == nil
	if err != nil && errbuilder.CodeOf(err) != errbuilder.CodeNotFound {
		return types.ModpackSpec{}, err
	}
	if req.ExpectedUpdatedAt != nil {
		if !exists {
			return types.ModpackSpec{}, errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("spec not found: " + spec.ID)
		}
		if !current.UpdatedAt.Equal(*req.ExpectedUpdatedAt) {
			return types.ModpackSpec{}, staleSpec(spec.ID, current.UpdatedAt, *req.ExpectedUpdatedAt)
		}
	}
	now := timeNow(s.Clock)
	if exists {
		spec.CreatedAt = current.CreatedAt
		spec.UpdatedAt = nextStamp(current.UpdatedAt, now)
	} else {
		if spec.CreatedAt.IsZero() {
			spec.CreatedAt = now
		}
		spec.UpdatedAt = nextStamp(spec.UpdatedAt, now)
	}
	if err := s.Specs.SaveSpec(ctx, spec); err != nil {
		return types.ModpackSpec{}, err
	}
	log.Ctx(ctx).Debug().Str("spec_id", spec.ID).Time("updated_at", spec.UpdatedAt).Msg("spec saved")
	return spec, nil
}

// SetLayerEntries replaces the delta of one layer. Frozen layers reject the
// edit.
func (s Service) SetLayerEntries(ctx context.Context, req SetLayerEntriesRequest) (types.ModpackSpec, error) {
	spec, err := s.loadForEdit(ctx, req.SpecID, req.ExpectedUpdatedAt)
	if err != nil {
		return types.ModpackSpec{}, err
	}
	idx := spec.LayerIndex(req.LayerID)
	if idx < 0 {
		return types.ModpackSpec{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("layer not found: " + req.LayerID)
	}
	if spec.Layers[idx].IsFrozen {
		return types.ModpackSpec{}, frozenLayerError(req.LayerID)
	}
	spec.Layers[idx].EntriesDelta = req.Delta
	expected := spec.UpdatedAt
	return s.SaveSpec(ctx, SaveSpecRequest{Spec: spec, ExpectedUpdatedAt: &expected})
}

// ApplyConflictSuggestion applies the auto-fix of one conflict to the spec.
// Re-applying a fix that is already in place changes nothing.
func (s Service) ApplyConflictSuggestion(ctx context.Context, req ApplySuggestionRequest) (ApplySuggestionResult, error) {
	spec, err := s.loadForEdit(ctx, req.SpecID, req.ExpectedUpdatedAt)
	if err != nil {
		return ApplySuggestionResult{}, err
	}
	record, err := s.conflictFor(ctx, req)
	if err != nil {
		return ApplySuggestionResult{}, err
	}
	updated, changed, err := core.ApplyConflictSuggestion(ctx, spec, record)
	if err != nil {
		return ApplySuggestionResult{}, err
	}
	if !changed {
		return ApplySuggestionResult{Spec: spec, Changed: false}, nil
	}
	expected := spec.UpdatedAt
	saved, err := s.SaveSpec(ctx, SaveSpecRequest{Spec: updated, ExpectedUpdatedAt: &expected})
	if err != nil {
		return ApplySuggestionResult{}, err
	}
	log.Ctx(ctx).Info().Str("spec_id", spec.ID).Str("code", string(record.Code)).Msg("conflict suggestion applied")
	return ApplySuggestionResult{Spec: saved, Changed: true}, nil
}

func (s Service) conflictFor(ctx context.Context, req ApplySuggestionRequest) (types.ConflictRecord, error) {
	if req.Conflict != nil {
		return *req.Conflict, nil
	}
	if strings.TrimSpace(req.PlanID) == "" {
		return types.ConflictRecord{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("conflict or plan id is required")
	}
	plan, err := s.State.LoadPlan(ctx, req.PlanID)
	if err != nil {
		return types.ConflictRecord{}, err
	}
	if plan.ModpackID != req.SpecID {
		return types.ConflictRecord{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("plan %s belongs to spec %s", plan.ID, plan.ModpackID))
	}
	if req.ConflictIndex < 0 || req.ConflictIndex >= len(plan.Conflicts) {
		return types.ConflictRecord{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("conflict index %d out of range (plan has %d)", req.ConflictIndex, len(plan.Conflicts)))
	}
	return plan.Conflicts[req.ConflictIndex], nil
}

// LayerDiff reports what one layer changes relative to the composition of
// the layers below it.
func (s Service) LayerDiff(ctx context.Context, specID string, layerID string) (types.LayerDiffResult, error) {
	spec, err := s.Specs.LoadSpec(ctx, specID)
	if err != nil {
		return types.LayerDiffResult{}, err
	}
	idx := spec.LayerIndex(layerID)
	if idx < 0 {
		return types.LayerDiffResult{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("layer not found: " + layerID)
	}
	compositor := core.NewLayerCompositor()
	base := compositor.Compose(ctx, spec.Layers[:idx])
	next := compositor.Compose(ctx, spec.Layers[:idx+1])
	return core.DiffLayers(base.Entries, next.Entries), nil
}

// PreviewUpdateFromInstance lists installed content that the composed spec
// does not describe: entries missing from the spec and entries pinned to a
// different version.
func (s Service) PreviewUpdateFromInstance(ctx context.Context, req UpdateFromInstanceRequest) (UpdateFromInstancePreview, error) {
	spec, err := s.Specs.LoadSpec(ctx, req.SpecID)
	if err != nil {
		return UpdateFromInstancePreview{}, err
	}
	lock, err := s.Instances.ReadLockfile(ctx, req.InstanceID)
	if err != nil {
		return UpdateFromInstancePreview{}, err
	}
	return instanceDelta(ctx, spec, req.InstanceID, lock.Entries), nil
}

// ApplyUpdateFromInstance writes the instance-only content into the
// instance overrides layer, creating it when missing.
func (s Service) ApplyUpdateFromInstance(ctx context.Context, req UpdateFromInstanceRequest) (types.ModpackSpec, error) {
	spec, err := s.loadForEdit(ctx, req.SpecID, req.ExpectedUpdatedAt)
	if err != nil {
		return types.ModpackSpec{}, err
	}
	lock, err := s.Instances.ReadLockfile(ctx, req.InstanceID)
	if err != nil {
		return types.ModpackSpec{}, err
	}
	preview := instanceDelta(ctx, spec, req.InstanceID, lock.Entries)
	if len(preview.Added)+len(preview.Changed) == 0 {
		return spec, nil
	}
	idx := spec.LayerIndex(types.LayerInstanceOverridesID)
	if idx < 0 {
		spec.Layers = append(spec.Layers, types.Layer{
			ID:     types.LayerInstanceOverridesID,
			Name:   "Instance Overrides",
			Source: "instance:" + req.InstanceID,
		})
		idx = len(spec.Layers) - 1
	}
	layer := &spec.Layers[idx]
	if layer.IsFrozen {
		return types.ModpackSpec{}, frozenLayerError(layer.ID)
	}
	for _, entry := range preview.Added {
		layer.EntriesDelta.Add = upsertEntry(layer.EntriesDelta.Add, entry)
	}
	for _, entry := range preview.Changed {
		layer.EntriesDelta.Override = upsertEntry(layer.EntriesDelta.Override, entry)
	}
	expected := spec.UpdatedAt
	return s.SaveSpec(ctx, SaveSpecRequest{Spec: spec, ExpectedUpdatedAt: &expected})
}

func instanceDelta(ctx context.Context, spec types.ModpackSpec, instanceID string, lock []types.LockEntry) UpdateFromInstancePreview {
	comp := core.NewLayerCompositor().Compose(ctx, spec.Layers)
	composed := map[string]types.Entry{}
	for _, entry := range comp.Entries {
		composed[types.EntryKey(entry)] = entry
	}
	preview := UpdateFromInstancePreview{
		SpecID:     spec.ID,
		InstanceID: instanceID,
		Added:      []types.Entry{},
		Changed:    []types.Entry{},
	}
	for _, item := range core.SupportedLockEntries(lock) {
		entry := entryFromLock(item)
		existing, ok := composed[types.EntryKey(entry)]
		if !ok {
			preview.Added = append(preview.Added, entry)
			continue
		}
		if existing.Pin != "" && existing.Pin != item.VersionID && existing.Pin != item.VersionNumber {
			changed := existing
			changed.Pin = item.VersionID
			preview.Changed = append(preview.Changed, changed)
		}
	}
	return preview
}

func entryFromLock(item types.LockEntry) types.Entry {
	entry := types.Entry{
		Provider:          item.Source,
		ContentType:       string(types.NormalizeContentType(item.ContentType)),
		ProjectID:         item.ProjectID,
		Name:              item.Name,
		Pin:               item.VersionID,
		DisabledByDefault: !item.Enabled,
		TargetScope:       types.NormalizeTargetScope(string(item.TargetScope)),
	}
	if len(item.TargetWorlds) > 0 {
		entry.TargetWorlds = append([]string(nil), item.TargetWorlds...)
	}
	return entry
}

func upsertEntry(entries []types.Entry, entry types.Entry) []types.Entry {
	key := types.EntryKey(entry)
	for i := range entries {
		if types.EntryKey(entries[i]) == key {
			entries[i] = entry
			return entries
		}
	}
	return append(entries, entry)
}

func (s Service) loadForEdit(ctx context.Context, specID string, expected *time.Time) (types.ModpackSpec, error) {
	spec, err := s.Specs.LoadSpec(ctx, strings.TrimSpace(specID))
	if err != nil {
		return types.ModpackSpec{}, err
	}
	if expected != nil && !spec.UpdatedAt.Equal(*expected) {
		return types.ModpackSpec{}, staleSpec(spec.ID, spec.UpdatedAt, *expected)
	}
	return spec, nil
}

// nextStamp returns now, nudged past prev so consecutive saves never share
// a stamp.
func nextStamp(prev time.Time, now time.Time) time.Time {
	if !prev.IsZero() && !now.After(prev) {
		return prev.Add(time.Millisecond).UTC()
	}
	return now.UTC()
}

func staleSpec(id string, stored time.Time, expected time.Time) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(fmt.Sprintf("stale spec %s: stored updated_at %s, expected %s",
			id, stored.UTC().Format(time.RFC3339Nano), expected.UTC().Format(time.RFC3339Nano)))
}

func frozenLayerError(id string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg("layer is frozen: " + id)
}
