// Package movie assembles numbered PNG frames into movies.
package movie

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/icza/mjpeg"

	"meanie3d/internal/logging"
	"meanie3d/internal/tactile"
)

// ErrNoFrames is returned when no frame matches the prefix.
var ErrNoFrames = errors.New("no frames")

// Frame is one numbered image.
type Frame struct {
	Path  string
	Index int
}

// Frames returns the <prefix><number>.png files of dir sorted by number.
func Frames(dir, prefix string) ([]Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + `(\d+)\.png$`)

	var frames []Frame
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		frames = append(frames, Frame{Path: filepath.Join(dir, e.Name()), Index: n})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Index < frames[j].Index })
	return frames, nil
}

// Maker encodes movies.
type Maker struct {
	// Executor and Ffmpeg are needed for .m4v and .mp4 only.
	Executor tactile.Executor
	Ffmpeg   string

	// Delay between gif frames; 50ms when zero.
	Delay time.Duration

	// FPS of avi and ffmpeg movies; 10 when zero.
	FPS int

	// Timeout of one ffmpeg run; the executor default when zero.
	Timeout time.Duration
}

func (m *Maker) delay() time.Duration {
	if m.Delay <= 0 {
		return 50 * time.Millisecond
	}
	return m.Delay
}

func (m *Maker) fps() int {
	if m.FPS <= 0 {
		return 10
	}
	return m.FPS
}

// Create encodes the frames <dir>/<prefix>NNNN.png into out. The container
// is chosen by the extension of out: .gif, .avi, .m4v or .mp4.
func (m *Maker) Create(ctx context.Context, dir, prefix, out string) error {
	frames, err := Frames(dir, prefix)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("%w for %s in %s", ErrNoFrames, prefix, dir)
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(dir, out)
	}

	timer := logging.StartTimer(logging.CategoryMovie, filepath.Base(out))
	defer timer.StopWithInfo()
	logging.MovieDebug("Encoding %d frames of %s into %s", len(frames), prefix, out)

	switch ext := strings.ToLower(filepath.Ext(out)); ext {
	case ".gif":
		return m.gif(ctx, frames, out)
	case ".avi":
		return m.avi(ctx, frames, out)
	case ".m4v", ".mp4":
		return m.ffmpeg(ctx, dir, prefix, frames, out)
	default:
		return fmt.Errorf("unsupported movie format %q", ext)
	}
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// gif writes an endlessly looping animated gif. Frames are dithered onto
// the Plan 9 palette.
func (m *Maker) gif(ctx context.Context, frames []Frame, out string) error {
	delay := int(m.delay() / (10 * time.Millisecond))
	if delay < 1 {
		delay = 1
	}

	anim := &gif.GIF{LoopCount: 0}
	for _, fr := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := readPNG(fr.Path)
		if err != nil {
			return err
		}
		b := img.Bounds()
		p := image.NewPaletted(b, palette.Plan9)
		draw.FloydSteinberg.Draw(p, b, img, b.Min)
		anim.Image = append(anim.Image, p)
		anim.Delay = append(anim.Delay, delay)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := gif.EncodeAll(f, anim); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", out, err)
	}
	return f.Close()
}

// avi writes a Motion JPEG avi sized after the first frame.
func (m *Maker) avi(ctx context.Context, frames []Frame, out string) error {
	first, err := readPNG(frames[0].Path)
	if err != nil {
		return err
	}
	b := first.Bounds()

	aw, err := mjpeg.New(out, int32(b.Dx()), int32(b.Dy()), int32(m.fps()))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}

	var buf bytes.Buffer
	for i, fr := range frames {
		if err := ctx.Err(); err != nil {
			aw.Close()
			return err
		}
		img := first
		if i > 0 {
			if img, err = readPNG(fr.Path); err != nil {
				aw.Close()
				return err
			}
		}
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			aw.Close()
			return fmt.Errorf("failed to encode %s: %w", fr.Path, err)
		}
		if err := aw.AddFrame(buf.Bytes()); err != nil {
			aw.Close()
			return fmt.Errorf("failed to add %s: %w", fr.Path, err)
		}
	}
	return aw.Close()
}

// ffmpeg encodes H.264 through an ffmpeg child process reading the numbered
// frames directly.
func (m *Maker) ffmpeg(ctx context.Context, dir, prefix string, frames []Frame, out string) error {
	if m.Executor == nil || m.Ffmpeg == "" {
		return fmt.Errorf("ffmpeg is required for %s", filepath.Ext(out))
	}
	digits := len(strings.TrimSuffix(strings.TrimPrefix(filepath.Base(frames[0].Path), prefix), ".png"))
	pattern := filepath.Join(dir, fmt.Sprintf("%s%%0%dd.png", prefix, digits))

	cmd := tactile.Command{
		Binary: m.Ffmpeg,
		Arguments: []string{
			"-y", "-loglevel", "error",
			"-framerate", strconv.Itoa(m.fps()),
			"-start_number", strconv.Itoa(frames[0].Index),
			"-i", pattern,
			"-c:v", "libx264",
			"-pix_fmt", "yuv420p",
			"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
			out,
		},
		WorkingDirectory: dir,
		Tags:             map[string]string{"stage": "movie", "output": filepath.Base(out)},
	}
	if m.Timeout > 0 {
		cmd.Limits = &tactile.ResourceLimits{TimeoutMs: m.Timeout.Milliseconds()}
	}
	res, err := m.Executor.Execute(ctx, cmd)
	if err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("ffmpeg %s: %w: %s", filepath.Base(out), res.Err(), strings.TrimSpace(res.Stderr))
	}
	return nil
}
