// Package source builds the labeled source model of a subject: cortical
// surface sources with their parcel labels and subcortical volume sources
// with their structure labels.
package source

import (
	"context"
	"fmt"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"bv2src/internal/models"
	"bv2src/pkg/bem"
	"bv2src/pkg/config"
	srcerr "bv2src/pkg/errors"
	"bv2src/pkg/logging"
	"bv2src/pkg/parcel"
	"bv2src/pkg/store"
	"bv2src/pkg/surface"
	"bv2src/pkg/transform"
	"bv2src/pkg/volume"
)

// State is a step of the per-subject pipeline
type State int

const (
	StateInit State = iota
	StateTransformResolved
	StateSurfaceBuilt
	StateSurfaceLabeled
	StateSurfacePersisted
	StateBemChecked
	StateVolumeBuilt
	StateVolumeLabeled
	StateVolumePersisted
	StateDone
)

var stateNames = [...]string{
	"init",
	"transform-resolved",
	"surface-built",
	"surface-labeled",
	"surface-persisted",
	"bem-checked",
	"volume-built",
	"volume-labeled",
	"volume-persisted",
	"done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Stages named in SubjectError
const (
	StageTransform = "transform"
	StageSurface   = "surface"
	StageLabels    = "labels"
	StagePersist   = "persist"
	StageBEM       = "bem"
	StageVolume    = "volume"
)

// VolumeBuilder discretizes the subcortical structures of a subject
type VolumeBuilder interface {
	Build(ctx context.Context, subject, volumePath string) ([]models.VolumeStructure, error)
}

// Persister records source spaces and labels of a run
type Persister interface {
	BeginRun(ctx context.Context, subject string) (store.Run, error)
	SaveSourceSpaces(ctx context.Context, runID string, spaces []models.SourceSpace) error
	SaveLabels(ctx context.Context, runID string, kind models.SourceKind, labels []models.Label) error
}

// Deps are the collaborators of the pipeline. Nil members get the file
// based defaults built from the configuration; a nil Store disables
// database persistence.
type Deps struct {
	Checker bem.Checker
	Builder bem.Builder
	Volumes VolumeBuilder
	Store   Persister
}

// Result is the source model of one subject
type Result struct {
	Subject string

	// State is the last state reached
	State State

	// RunID identifies the persisted run, when persisted to a store
	RunID string

	// Transform is the composed transform applied to the surfaces
	Transform *mat.Dense

	// Surfaces holds the left and right surface source spaces
	Surfaces []*models.Surface

	// SurfaceLabels holds one merged label per hemisphere
	SurfaceLabels []models.Label

	// Volumes holds the subcortical structures
	Volumes []models.VolumeStructure

	// VolumeLabels holds the merged left and right volume labels
	VolumeLabels []models.Label
}

// SourceSpaces returns the surface and volume sources in persisted form
func (r *Result) SourceSpaces() []models.SourceSpace {
	spaces := make([]models.SourceSpace, 0, len(r.Surfaces)+len(r.Volumes))
	for _, s := range r.Surfaces {
		spaces = append(spaces, models.SurfaceSource(s))
	}
	for _, v := range r.Volumes {
		spaces = append(spaces, models.VolumeSource(v))
	}
	return spaces
}

// Pipeline runs the source model construction for subjects
type Pipeline struct {
	cfg       *config.Config
	layout    config.Layout
	deps      Deps
	extractor *parcel.Extractor
}

// New creates a pipeline from an explicit configuration
func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	mode, err := parcel.ParseExcludeMode(cfg.Parcels.ExcludeMode)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:       cfg,
		layout:    cfg.Layout(),
		deps:      deps,
		extractor: &parcel.Extractor{Exclude: cfg.Parcels.Exclude, Mode: mode},
	}
	if p.deps.Checker == nil {
		p.deps.Checker = bem.FileChecker{Dir: func(subject string) string {
			return p.layout.Resolve(subject, "").BEM
		}}
	}
	if p.deps.Builder == nil {
		p.deps.Builder = bem.ExecBuilder{Command: cfg.BEM.Command, Args: cfg.BEM.Args}
	}
	if p.deps.Volumes == nil {
		p.deps.Volumes = &volume.GridBuilder{Spacing: cfg.Volume.Spacing, Structures: cfg.Volume.Structures}
	}
	return p, nil
}

// run carries the per-subject working state
type run struct {
	*Result
	ctx  context.Context
	dirs config.Dirs
}

func (r *run) advance(s State) {
	r.State = s
	logging.FromContext(r.ctx).Info().Str("subject", r.Subject).Str("state", s.String()).Msg("state reached")
}

// Run builds the source model of one subject. On failure the returned
// Result holds what was built and the last state reached, and the error is
// a *SubjectError naming the failed stage.
func (p *Pipeline) Run(ctx context.Context, subject string) (*Result, error) {
	r := &run{
		Result: &Result{Subject: subject, State: StateInit},
		ctx:    ctx,
		dirs:   p.layout.Resolve(subject, ""),
	}
	fail := func(stage string, hemi models.Hemisphere, err error) (*Result, error) {
		return r.Result, &srcerr.SubjectError{Subject: subject, Stage: stage, Hemi: string(hemi), Err: err}
	}

	// 1. Compose the transform once for both hemispheres
	resolver := transform.Resolver{Root: p.expand(p.cfg.Inputs.TransformRoot, subject, "")}
	m, err := resolver.ResolveFile(subject,
		p.expand(p.cfg.Inputs.Reference, subject, ""),
		p.expand(p.cfg.Inputs.TransOut, subject, ""))
	if err != nil {
		return fail(StageTransform, "", err)
	}
	r.Transform = m
	r.advance(StateTransformResolved)

	// 2. Load both surfaces in the composed frame
	for _, hemi := range models.Hemispheres {
		path := p.expand(p.cfg.Inputs.Surface, subject, hemi)
		s, err := surface.Load(path, subject, hemi, surface.WithTransform(transform.FromMatrix(m)))
		if err != nil {
			return fail(StageSurface, hemi, err)
		}
		r.Surfaces = append(r.Surfaces, s)
	}
	r.advance(StateSurfaceBuilt)

	// 3. Label them
	for _, s := range r.Surfaces {
		label, err := p.surfaceLabel(s)
		if err != nil {
			return fail(StageLabels, s.Hemi, err)
		}
		r.SurfaceLabels = append(r.SurfaceLabels, label)
	}
	r.advance(StateSurfaceLabeled)

	// 4. Persist the surface model only once both hemispheres are labeled
	if p.cfg.Output.Persist {
		spaces := make([]models.SourceSpace, len(r.Surfaces))
		for i, s := range r.Surfaces {
			spaces[i] = models.SurfaceSource(s)
		}
		if err := p.persist(r, models.KindSurface, spaces, r.SurfaceLabels); err != nil {
			return fail(StagePersist, "", err)
		}
		r.advance(StateSurfacePersisted)
	}

	// 5. The volume model depends on the BEM
	exists, err := p.deps.Checker.Exists(ctx, subject)
	if err != nil {
		return fail(StageBEM, "", err)
	}
	if !exists {
		logging.FromContext(ctx).Info().Str("subject", subject).Msg("BEM missing, building it")
		if err := p.deps.Builder.Build(ctx, subject); err != nil {
			return fail(StageBEM, "", err)
		}
	}
	r.advance(StateBemChecked)

	// 6. Discretize and label the subcortical structures
	vols, err := p.deps.Volumes.Build(ctx, subject, p.expand(p.cfg.Inputs.Volume, subject, ""))
	if err != nil {
		return fail(StageVolume, "", err)
	}
	r.Volumes = vols
	r.advance(StateVolumeBuilt)

	left, right, err := volume.BuildLabels(vols)
	if err != nil {
		return fail(StageVolume, "", err)
	}
	r.VolumeLabels = []models.Label{left, right}
	r.advance(StateVolumeLabeled)

	if p.cfg.Output.Persist {
		spaces := make([]models.SourceSpace, len(vols))
		for i, v := range vols {
			spaces[i] = models.VolumeSource(v)
		}
		if err := p.persist(r, models.KindVolume, spaces, r.VolumeLabels); err != nil {
			return fail(StagePersist, "", err)
		}
		r.advance(StateVolumePersisted)
	}

	r.advance(StateDone)
	return r.Result, nil
}

// surfaceLabel extracts the parcels of one hemisphere, drops rejected
// names and merges the rest.
func (p *Pipeline) surfaceLabel(s *models.Surface) (models.Label, error) {
	var lookup parcel.Lookup
	if atlas := p.expand(p.cfg.Inputs.Atlas, s.Subject, s.Hemi); atlas != "" {
		var err error
		if lookup, err = parcel.ReadLookup(atlas, s.Hemi); err != nil {
			return models.Label{}, err
		}
	}

	texture := parcel.FromTexture(p.expand(p.cfg.Inputs.Texture, s.Subject, s.Hemi))
	labels, err := p.extractor.Extract(s, texture, lookup)
	if err != nil {
		return models.Label{}, err
	}

	if len(p.cfg.Parcels.Rejected) > 0 {
		var rejected []int
		labels, rejected = parcel.RejectByName(labels, p.cfg.Parcels.Rejected)
		logging.Default().Debug().
			Str("subject", s.Subject).
			Str("hemi", string(s.Hemi)).
			Int("rejected_vertices", len(rejected)).
			Msg("rejected labels by name")
	}
	return models.MergeLabels(labels)
}

// persist writes labels as .label files in the subject's source directory
// and, when a store is configured, records spaces and labels under the run.
func (p *Pipeline) persist(r *run, kind models.SourceKind, spaces []models.SourceSpace, labels []models.Label) error {
	for _, l := range labels {
		name := fmt.Sprintf("%s_%s-lab", r.Subject, kind)
		path := filepath.Join(r.dirs.Src, store.LabelFileName(name, l.Hemi))
		if err := store.WriteLabel(path, l); err != nil {
			return fmt.Errorf("failed to write label %s: %w", path, err)
		}
	}

	if p.deps.Store == nil {
		return nil
	}
	if r.RunID == "" {
		stored, err := p.deps.Store.BeginRun(r.ctx, r.Subject)
		if err != nil {
			return err
		}
		r.RunID = stored.ID
	}
	if err := p.deps.Store.SaveSourceSpaces(r.ctx, r.RunID, spaces); err != nil {
		return err
	}
	return p.deps.Store.SaveLabels(r.ctx, r.RunID, kind, labels)
}

func (p *Pipeline) expand(tmpl, subject string, hemi models.Hemisphere) string {
	return p.layout.Expand(tmpl, subject, "", hemi)
}
