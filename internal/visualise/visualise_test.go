package visualise

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/ctessum/cdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meanie3d/internal/config"
	"meanie3d/internal/movie"
	"meanie3d/internal/netcdf"
	"meanie3d/internal/store"
	"meanie3d/internal/tactile"
	"meanie3d/internal/visit"
)

var savedName = regexp.MustCompile(`\.fileName = '([^']+)'`)

// fakeTools plays meanie3D-cfm2vtk and VisIt. The converter writes two
// cluster meshes plus centres and displacements; VisIt writes a PNG for
// every SaveWindow of the script.
type fakeTools struct {
	mu         sync.Mutex
	converted  []tactile.Command
	scripts    []string
	failRender bool
}

func (f *fakeTools) Validate(tactile.Command) error { return nil }

func (f *fakeTools) Execute(_ context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Tags["stage"] {
	case "convert":
		f.converted = append(f.converted, cmd)
		stem := netcdf.Stem(cmd.Arguments[1])
		for _, name := range []string{"_cluster_1.vtr", "_cluster_0.vtr", "_centers.vtk", "_displacements.vtk"} {
			if err := os.WriteFile(filepath.Join(cmd.WorkingDirectory, stem+name), nil, 0644); err != nil {
				return nil, err
			}
		}
	case "render":
		data, err := os.ReadFile(filepath.Join(cmd.WorkingDirectory, cmd.Tags["script"]))
		if err != nil {
			return nil, err
		}
		f.scripts = append(f.scripts, string(data))
		if f.failRender {
			return &tactile.ExecutionResult{Success: true, ExitCode: 1}, nil
		}
		for _, m := range savedName.FindAllStringSubmatch(string(data), -1) {
			if err := writePNG(filepath.Join(cmd.WorkingDirectory, m[1]+".png")); err != nil {
				return nil, err
			}
		}
	}
	return &tactile.ExecutionResult{Success: true}, nil
}

func writePNG(path string) error {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type memLedger struct {
	mu    sync.Mutex
	steps []store.Step
}

func (m *memLedger) RecordStep(_ context.Context, s store.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, s)
	return nil
}

// fixture creates sources a, b and c of which only a and c have clusters.
func fixture(t *testing.T, extra string) *Config {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	clusters := filepath.Join(root, "netcdf")
	require.NoError(t, os.MkdirAll(src, 0755))
	require.NoError(t, os.MkdirAll(clusters, 0755))
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, os.WriteFile(filepath.Join(src, name+".nc"), []byte("CDF\x01"), 0644))
	}
	for _, name := range []string{"a", "c"} {
		require.NoError(t, os.WriteFile(filepath.Join(clusters, name+"-clusters.nc"), []byte("CDF\x01"), 0644))
	}

	doc := `{
		"variables": ["RX"],
		"var_min": [5], "var_max": [65],
		"lower_tresholds": [15], "upper_tresholds": [75],
		"create_source_movie": 1,
		"create_clusters_movie": "true",
		"movie_formats": ["gif"]` + extra + `
	}`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	cfg.SourceDirectory = src
	cfg.ClusterDirectory = clusters
	cfg.OutputDir = filepath.Join(root, "out")
	return cfg
}

func newVisualiser(tools *fakeTools) *Visualiser {
	return &Visualiser{
		Executor:  tools,
		Host:      &visit.Host{Executor: tools, Binary: "visit"},
		Converter: "meanie3D-cfm2vtk",
		Movies:    &movie.Maker{},
	}
}

func TestRunRendersAndAssemblesMovies(t *testing.T) {
	cfg := fixture(t, "")
	tools := &fakeTools{}
	ledger := &memLedger{}
	v := newVisualiser(tools)
	v.Ledger, v.RunID, v.Scale = ledger, "run-1", "10"

	summary, err := v.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, summary.Err())
	assert.Equal(t, 2, summary.Frames)
	assert.Equal(t, 2, summary.Rendered)
	assert.ElementsMatch(t, []string{"source.gif", "tracking.gif"}, summary.Movies)

	out := cfg.OutputDir
	for _, name := range []string{"source_0000.png", "source_0001.png", "tracking_0000.png", "tracking_0001.png"} {
		assert.FileExists(t, filepath.Join(out, movie.ImagesDir, name))
	}
	assert.FileExists(t, filepath.Join(out, movie.MoviesDir, "source.gif"))
	assert.FileExists(t, filepath.Join(out, movie.MoviesDir, "tracking.gif"))
	assert.NoDirExists(t, filepath.Join(out, "vtk-0000"))
	assert.NoFileExists(t, filepath.Join(out, visit.ScriptName(1)))

	require.Len(t, tools.converted, 2)
	assert.Equal(t, []string{"-f", filepath.Join(cfg.ClusterDirectory, "c-clusters.nc")}, tools.converted[1].Arguments)
	assert.Equal(t, filepath.Join(out, "vtk-0001"), tools.converted[1].WorkingDirectory)

	require.Len(t, tools.scripts, 1)
	script := tools.scripts[0]
	assert.Contains(t, script, "AddPlot('Pseudocolor', 'RX')")
	assert.Contains(t, script, "AddOperator('Threshold')")
	assert.Contains(t, script, "AddPlot('Label', 'geometrical_center')")
	assert.NotContains(t, script, "AddPlot('Vector'")
	assert.Less(t, strings.Index(script, "a-clusters_cluster_0.vtr"), strings.Index(script, "a-clusters_cluster_1.vtr"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(script), "sys.exit(0)"))

	stages := map[string]int{}
	for _, s := range ledger.steps {
		assert.Equal(t, "run-1", s.RunID)
		assert.Equal(t, "10", s.Scale)
		stages[s.Stage]++
	}
	assert.Equal(t, map[string]int{"convert": 2, "render": 1, "movie": 2}, stages)
}

func TestRunResumeSkipsCompleteFrames(t *testing.T) {
	cfg := fixture(t, "")
	tools := &fakeTools{}
	_, err := newVisualiser(tools).Run(context.Background(), cfg)
	require.NoError(t, err)

	// Lose one image of frame 1 so only that series is rendered again.
	require.NoError(t, os.Remove(filepath.Join(cfg.OutputDir, movie.ImagesDir, "tracking_0001.png")))

	cfg.Resume = true
	tools2 := &fakeTools{}
	summary, err := newVisualiser(tools2).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Rendered)
	require.Len(t, tools2.converted, 1)
	require.Len(t, tools2.scripts, 1)
	assert.Contains(t, tools2.scripts[0], "tracking_0001")
	assert.NotContains(t, tools2.scripts[0], "source_0001")
	assert.FileExists(t, filepath.Join(cfg.OutputDir, movie.ImagesDir, "tracking_0001.png"))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, movie.ImagesDir, "source_0000.png"))
}

func TestRunFreshRemovesPreviousResults(t *testing.T) {
	cfg := fixture(t, "")
	stale := filepath.Join(cfg.OutputDir, movie.ImagesDir, "source_0042.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.OutputDir, "old.vtr"), nil, 0644))

	_, err := newVisualiser(&fakeTools{}).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, "old.vtr"))
}

func TestRunBatches(t *testing.T) {
	cfg := fixture(t, `, "batch_size": 1`)
	tools := &fakeTools{}
	summary, err := newVisualiser(tools).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, tools.scripts, 2)
	assert.Equal(t, 2, summary.Rendered)
}

func TestRunRenderFailure(t *testing.T) {
	cfg := fixture(t, "")
	tools := &fakeTools{failRender: true}
	summary, err := newVisualiser(tools).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.ErrorIs(t, summary.Err(), ErrFramesFailed)
	assert.Empty(t, summary.Movies)
}

func TestRunPerspectives(t *testing.T) {
	cfg := fixture(t, `, "PERSPECTIVES": [{"viewNormal": [0, 0, 1]}, {"imageZoom": 2}], "create_source_movie": 0`)
	tools := &fakeTools{}
	summary, err := newVisualiser(tools).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1_tracking.gif", "p2_tracking.gif"}, summary.Movies)
	for _, name := range []string{"p1_tracking_0000.png", "p2_tracking_0001.png"} {
		assert.FileExists(t, filepath.Join(cfg.OutputDir, movie.ImagesDir, name))
	}
	assert.Contains(t, tools.scripts[0], "imageZoom = 2.0")
}

func TestRunDefaultMovieFormatsFromVisualiser(t *testing.T) {
	cfg := fixture(t, "")
	cfg.MovieFormats = nil
	v := newVisualiser(&fakeTools{})
	v.MovieFormats = []string{"avi"}

	summary, err := v.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"source.avi", "tracking.avi"}, summary.Movies)
	assert.FileExists(t, filepath.Join(cfg.OutputDir, movie.MoviesDir, "tracking.avi"))
}

// writeSource writes a classic NetCDF file whose time coordinate is named
// timeVar.
func writeSource(t *testing.T, path, timeVar string, seconds float64) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	h := cdf.NewHeader([]string{timeVar}, []int{1})
	h.AddVariable(timeVar, []string{timeVar}, []float64{0})
	h.AddAttribute(timeVar, "units", "seconds since 2014-05-12 00:00:00")
	h.Define()

	nc, err := cdf.Create(f, h)
	require.NoError(t, err)
	_, err = nc.Writer(timeVar, []int{0}, []int{1}).Write([]float64{seconds})
	require.NoError(t, err)
}

func TestFramesUseConfiguredTimeVariable(t *testing.T) {
	cfg := fixture(t, `, "with_datetime": true`)
	for _, name := range []string{"a", "c"} {
		writeSource(t, filepath.Join(cfg.SourceDirectory, name+".nc"), "valid_time", 300)
	}

	frames, err := newVisualiser(&fakeTools{}).frames(cfg)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "a", frames[0].label)

	cfg.TimeVariable = "valid_time"
	frames, err = newVisualiser(&fakeTools{}).frames(cfg)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "2014-05-12 00:05 UTC", frames[0].label)
	assert.Equal(t, "2014-05-12 00:05 UTC", frames[1].label)
}

func TestFromRunConfigCarriesTimeVariable(t *testing.T) {
	run, err := config.ParseRunConfig([]byte(`{
		"data": {"variables": ["RX"], "time_variable": "valid_time"},
		"detection": {"meanie3D-detect": "-d x,y"},
		"postprocessing": {"clusters": {"variables": ["RX"]}}
	}`))
	require.NoError(t, err)
	cfg, err := FromRunConfig(run)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "valid_time", cfg.TimeVariable)
}

func TestRunRequiresDirectories(t *testing.T) {
	_, err := newVisualiser(&fakeTools{}).Run(context.Background(), &Config{})
	assert.Error(t, err)
}

func TestScript2D(t *testing.T) {
	cfg := fixture(t, `, "dimensions": 2, "with_datetime": true, "with_displacement_vectors": 1`)
	fr := &frame{index: 3, file: "/src/a.nc", label: "2024-01-01 00:00 UTC", source: true, tracking: true,
		clusters: []string{"/vtk/a-clusters_cluster_0.vtr"}, displacement: "/vtk/a-clusters_displacements.vtk"}

	s, err := Script(cfg, []*frame{fr})
	require.NoError(t, err)
	text := s.String()
	assert.Contains(t, text, "GetView2D()")
	assert.NotContains(t, text, "GetView3D()")
	assert.Contains(t, text, "'2024-01-01 00:00 UTC'")
	assert.Contains(t, text, "AddPlot('Vector', 'displacement')")
	assert.Contains(t, text, "'tracking_0003'")
	assert.Contains(t, text, "'source_0003'")
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`{"variables": ["RX"], "with_source_backround": 1, "SCALE_FACTOR_Z": 2.5, "colortables_invert_flags": ["false"]}`))
	require.NoError(t, err)
	assert.True(t, bool(cfg.WithSourceBackground))
	assert.Equal(t, 2.5, cfg.ScaleFactorZ)
	assert.Equal(t, visit.ExtentNational, cfg.GridExtent)
	assert.Equal(t, 3, cfg.Dimensions)
	assert.Empty(t, cfg.MovieFormats)

	v := cfg.Source(0)
	assert.Equal(t, "hot_desaturated", v.ColorTable)
	assert.False(t, v.Invert)
	assert.False(t, v.HasRange)
	assert.False(t, v.Threshold)
}

func TestParseInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"short list":      `{"variables": ["a", "b"], "var_min": [1]}`,
		"lone threshold":  `{"variables": ["a"], "lower_thresholds": [1]}`,
		"dimensions":      `{"dimensions": 4}`,
		"extent":          `{"grid_extent": "global"}`,
		"format":          `{"movie_formats": ["webm"]}`,
		"topography":      `{"with_topography": true}`,
		"flag":            `{"with_datetime": "maybe"}`,
		"perspective key": `{"perspectives": [{"noSuchField": 1}]}`,
		"not json":        `[`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
