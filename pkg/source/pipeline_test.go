package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"bv2src/internal/models"
	"bv2src/pkg/config"
	srcerr "bv2src/pkg/errors"
	"bv2src/pkg/logging"
	"bv2src/pkg/parcel"
	"bv2src/pkg/store"
	"bv2src/pkg/surface"
)

type fakeChecker struct {
	exists bool
	err    error
}

func (c *fakeChecker) Exists(context.Context, string) (bool, error) { return c.exists, c.err }

type fakeBuilder struct {
	calls []string
	err   error
}

func (b *fakeBuilder) Build(_ context.Context, subject string) error {
	b.calls = append(b.calls, subject)
	return b.err
}

type fakeVolumes struct {
	err error
}

func (v *fakeVolumes) Build(_ context.Context, subject, _ string) ([]models.VolumeStructure, error) {
	if v.err != nil {
		return nil, v.err
	}
	structure := func(seg string, x float64) models.VolumeStructure {
		return models.VolumeStructure{
			Subject: subject,
			SegName: seg,
			Points:  []r3.Vec{{X: x}, {X: x, Y: 0.01}},
			InUse:   []bool{true, true},
			Vertno:  []int{0, 1},
		}
	}
	return []models.VolumeStructure{structure("Thal_lh", -0.01), structure("Thal_rh", 0.01)}, nil
}

type fakeStore struct {
	runs   int
	spaces map[string][]models.SourceSpace
	labels map[models.SourceKind][]models.Label
}

func newFakeStore() *fakeStore {
	return &fakeStore{spaces: map[string][]models.SourceSpace{}, labels: map[models.SourceKind][]models.Label{}}
}

func (s *fakeStore) BeginRun(_ context.Context, subject string) (store.Run, error) {
	s.runs++
	return store.Run{ID: "run-" + subject, Subject: subject}, nil
}

func (s *fakeStore) SaveSourceSpaces(_ context.Context, runID string, spaces []models.SourceSpace) error {
	s.spaces[runID] = append(s.spaces[runID], spaces...)
	return nil
}

func (s *fakeStore) SaveLabels(_ context.Context, _ string, kind models.SourceKind, labels []models.Label) error {
	s.labels[kind] = append(s.labels[kind], labels...)
	return nil
}

// sixVertexMesh returns coordinates in millimeters and triangles of a mesh
// where values [0 1 1 1 0 0] give one interior triangle per parcel.
func sixVertexMesh() ([]r3.Vec, [][3]int) {
	coords := []r3.Vec{{X: 0}, {X: 10}, {X: 10, Y: 10}, {Y: 10}, {X: -10}, {X: -10, Y: -10}}
	tris := [][3]int{{1, 2, 3}, {0, 1, 3}, {3, 4, 5}, {0, 4, 5}}
	return coords, tris
}

const atlas = `Label Hemisphere Lobe Name
1 L Frontal VCcm
1 R Frontal VCcm
`

// fixture writes the inputs of subject s1 under a temporary database root
// and returns a configuration pointing at them.
func fixture(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0644))
	}

	write("reference.txt", "trans_{subject}.txt\ninv trans_{subject}.txt\n")
	write("trans_s1.txt", "1 2 3\n1 0 0\n0 1 0\n0 0 1\n")
	write("atlas.txt", atlas)

	coords, tris := sixVertexMesh()
	for _, h := range []string{"L", "R"} {
		require.NoError(t, surface.WriteFreeSurfer(filepath.Join(root, "s1_"+h+"white"), coords, tris))
		require.NoError(t, parcel.WriteTexture(filepath.Join(root, h+"tex.gii"), []int{0, 1, 1, 1, 0, 0}))
	}

	cfg := config.DefaultConfig()
	cfg.Database.Root = root
	cfg.Database.Project = "p"
	cfg.Inputs.Surface = "{database}/{subject}_{H}white"
	cfg.Inputs.Texture = "{database}/{H}tex.gii"
	cfg.Inputs.Atlas = "{database}/atlas.txt"
	cfg.Inputs.Reference = "{database}/reference.txt"
	cfg.Inputs.TransformRoot = "{database}"
	cfg.Inputs.TransOut = "{db_mne}/{project}/{subject}/trans/{subject}-trans.txt"
	return cfg
}

// capture returns a context whose logger records into the returned buffer
func capture() (context.Context, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logging.New(&buf)
	return logging.WithLogger(context.Background(), &logger), &buf
}

func statesLogged(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	var states []string
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var line struct {
			State string `json:"state"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		if line.State != "" {
			states = append(states, line.State)
		}
	}
	return states
}

func TestRunStateSequence(t *testing.T) {
	t.Run("without persistence", func(t *testing.T) {
		cfg := fixture(t)
		p, err := New(cfg, Deps{Checker: &fakeChecker{exists: true}, Builder: &fakeBuilder{}, Volumes: &fakeVolumes{}})
		require.NoError(t, err)

		ctx, buf := capture()
		res, err := p.Run(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, StateDone, res.State)
		assert.Equal(t, []string{
			"transform-resolved", "surface-built", "surface-labeled",
			"bem-checked", "volume-built", "volume-labeled", "done",
		}, statesLogged(t, buf))
	})

	t.Run("with persistence", func(t *testing.T) {
		cfg := fixture(t)
		cfg.Output.Persist = true
		fs := newFakeStore()
		p, err := New(cfg, Deps{Checker: &fakeChecker{exists: true}, Builder: &fakeBuilder{}, Volumes: &fakeVolumes{}, Store: fs})
		require.NoError(t, err)

		ctx, buf := capture()
		res, err := p.Run(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []string{
			"transform-resolved", "surface-built", "surface-labeled", "surface-persisted",
			"bem-checked", "volume-built", "volume-labeled", "volume-persisted", "done",
		}, statesLogged(t, buf))

		assert.Equal(t, 1, fs.runs, "one run per subject")
		assert.Equal(t, "run-s1", res.RunID)
		assert.Len(t, fs.spaces["run-s1"], 4)
		assert.Len(t, fs.labels[models.KindSurface], 2)
		assert.Len(t, fs.labels[models.KindVolume], 2)

		src := cfg.Layout().Resolve("s1", "").Src
		for _, name := range []string{"s1_surf-lab-lh.label", "s1_surf-lab-rh.label", "s1_vol-lab-lh.label", "s1_vol-lab-rh.label"} {
			assert.FileExists(t, filepath.Join(src, name))
		}
		l, err := store.ReadLabel(filepath.Join(src, "s1_surf-lab-lh.label"))
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, l.Vertices)
	})
}

func TestRunResult(t *testing.T) {
	cfg := fixture(t)
	p, err := New(cfg, Deps{Checker: &fakeChecker{exists: true}, Builder: &fakeBuilder{}, Volumes: &fakeVolumes{}})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), "s1")
	require.NoError(t, err)

	// The reference composes a transform with its inverse
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, res.Transform.At(i, j), 1e-12)
		}
	}
	assert.FileExists(t, filepath.Join(cfg.Layout().Resolve("s1", "").Trans, "s1-trans.txt"))

	require.Len(t, res.Surfaces, 2)
	assert.Equal(t, models.Left, res.Surfaces[0].Hemi)
	assert.Equal(t, models.Right, res.Surfaces[1].Hemi)
	assert.InDelta(t, 0.01, res.Surfaces[0].Coords[1].X, 1e-12, "coordinates are in meters")

	require.Len(t, res.SurfaceLabels, 2)
	for _, l := range res.SurfaceLabels {
		assert.Equal(t, "VCcm", l.Name)
		assert.Equal(t, []int{1, 2, 3}, l.Vertices)
	}

	require.Len(t, res.VolumeLabels, 2)
	assert.Equal(t, models.Left, res.VolumeLabels[0].Hemi)
	assert.Equal(t, []float64{200, 200}, res.VolumeLabels[0].Values)
	assert.Equal(t, []float64{201, 201}, res.VolumeLabels[1].Values)

	assert.Len(t, res.SourceSpaces(), 4)
}

func TestRunRejectsNames(t *testing.T) {
	cfg := fixture(t)
	cfg.Parcels.Exclude = nil
	cfg.Parcels.Rejected = []string{parcel.UnnamedParcel}
	p, err := New(cfg, Deps{Checker: &fakeChecker{exists: true}, Builder: &fakeBuilder{}, Volumes: &fakeVolumes{}})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "VCcm", res.SurfaceLabels[0].Name, "parcel 0 has no name and is rejected")
}

func TestRunBEM(t *testing.T) {
	tests := []struct {
		name      string
		exists    bool
		wantCalls []string
	}{
		{"present", true, nil},
		{"missing", false, []string{"s1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBuilder{}
			p, err := New(fixture(t), Deps{Checker: &fakeChecker{exists: tt.exists}, Builder: b, Volumes: &fakeVolumes{}})
			require.NoError(t, err)

			_, err = p.Run(context.Background(), "s1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, b.calls)
		})
	}

	t.Run("builder failure propagates", func(t *testing.T) {
		cause := errors.New("bem solver crashed")
		p, err := New(fixture(t), Deps{
			Checker: &fakeChecker{},
			Builder: &fakeBuilder{err: cause},
			Volumes: &fakeVolumes{},
		})
		require.NoError(t, err)

		res, err := p.Run(context.Background(), "s1")
		require.ErrorIs(t, err, cause)
		var se *srcerr.SubjectError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, StageBEM, se.Stage)
		assert.Equal(t, StateSurfaceLabeled, res.State)
		assert.Empty(t, res.Volumes)
	})
}

func TestRunFailures(t *testing.T) {
	t.Run("missing transform", func(t *testing.T) {
		cfg := fixture(t)
		require.NoError(t, os.Remove(filepath.Join(cfg.Database.Root, "trans_s1.txt")))
		fs := newFakeStore()
		cfg.Output.Persist = true
		p, err := New(cfg, Deps{Checker: &fakeChecker{exists: true}, Builder: &fakeBuilder{}, Volumes: &fakeVolumes{}, Store: fs})
		require.NoError(t, err)

		res, err := p.Run(context.Background(), "s1")
		assert.True(t, srcerr.IsMissingTransformFile(err))
		var se *srcerr.SubjectError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "s1", se.Subject)
		assert.Equal(t, StageTransform, se.Stage)
		assert.Equal(t, StateInit, res.State)
		assert.Zero(t, fs.runs)
	})

	t.Run("right surface missing persists nothing", func(t *testing.T) {
		cfg := fixture(t)
		require.NoError(t, os.Remove(filepath.Join(cfg.Database.Root, "s1_Rwhite")))
		cfg.Output.Persist = true
		fs := newFakeStore()
		p, err := New(cfg, Deps{Checker: &fakeChecker{exists: true}, Builder: &fakeBuilder{}, Volumes: &fakeVolumes{}, Store: fs})
		require.NoError(t, err)

		res, err := p.Run(context.Background(), "s1")
		assert.ErrorIs(t, err, srcerr.ErrUnsupportedSurfaceFormat)
		var se *srcerr.SubjectError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, StageSurface, se.Stage)
		assert.Equal(t, "rh", se.Hemi)
		assert.Equal(t, StateTransformResolved, res.State)
		assert.Zero(t, fs.runs)
		assert.NoDirExists(t, cfg.Layout().Resolve("s1", "").Src)
	})

	t.Run("bad lookup header", func(t *testing.T) {
		cfg := fixture(t)
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Database.Root, "atlas.txt"), []byte("Id Side\n1 L\n"), 0644))
		p, err := New(cfg, Deps{Checker: &fakeChecker{exists: true}, Builder: &fakeBuilder{}, Volumes: &fakeVolumes{}})
		require.NoError(t, err)

		_, err = p.Run(context.Background(), "s1")
		assert.ErrorIs(t, err, srcerr.ErrUnrecognizedParcelLookupHeader)
		var se *srcerr.SubjectError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, StageLabels, se.Stage)
	})

	t.Run("volume builder failure", func(t *testing.T) {
		cause := errors.New("no voxels")
		p, err := New(fixture(t), Deps{Checker: &fakeChecker{exists: true}, Builder: &fakeBuilder{}, Volumes: &fakeVolumes{err: cause}})
		require.NoError(t, err)

		res, err := p.Run(context.Background(), "s1")
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, StateBemChecked, res.State)
	})
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Volume.Spacing = -1
	_, err := New(cfg, Deps{})
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "init", StateInit.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "state(42)", State(42).String())
}
