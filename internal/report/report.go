// Package report lays out rendered frames as a PDF contact sheet.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"

	"meanie3d/internal/logging"
	"meanie3d/internal/store"
)

// ErrNoImages is returned when the directory holds no frames.
var ErrNoImages = errors.New("no images")

// Options configure Build.
type Options struct {
	Title       string
	Description string

	// Counts are printed on the title page when set.
	Counts *store.Counts

	// Columns of the image grid; 3 when zero.
	Columns int

	// Series restricts the report to these prefixes, e.g. "p1_tracking_".
	Series []string

	// MaxImages per series; all when zero.
	MaxImages int
}

// Series is a numbered image sequence sharing a prefix.
type Series struct {
	Prefix string
	Images []Image
}

// Image is one frame of a series.
type Image struct {
	Path  string
	Index int
}

var frameName = regexp.MustCompile(`^(.*_)(\d+)\.png$`)

// Collect groups the PNG frames of dir, and of dir/images when present, by
// prefix. Series are sorted by prefix, frames by index.
func Collect(dir string) ([]Series, error) {
	var paths []string
	for _, d := range []string{dir, filepath.Join(dir, "images")} {
		matches, err := filepath.Glob(filepath.Join(d, "*.png"))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}

	bySeries := map[string][]Image{}
	for _, p := range paths {
		m := frameName.FindStringSubmatch(filepath.Base(p))
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		bySeries[m[1]] = append(bySeries[m[1]], Image{Path: p, Index: n})
	}

	series := make([]Series, 0, len(bySeries))
	for prefix, images := range bySeries {
		sort.Slice(images, func(i, j int) bool { return images[i].Index < images[j].Index })
		series = append(series, Series{Prefix: prefix, Images: images})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Prefix < series[j].Prefix })
	return series, nil
}

// Build writes a contact sheet of the frames in dir to out: a title page
// followed by one section per series, laid out in a grid with captions.
func Build(dir, out string, opts Options) error {
	series, err := Collect(dir)
	if err != nil {
		return err
	}
	series = filter(series, opts.Series)
	if len(series) == 0 {
		return fmt.Errorf("%w in %s", ErrNoImages, dir)
	}

	columns := opts.Columns
	if columns <= 0 {
		columns = 3
	}
	title := opts.Title
	if title == "" {
		title = "meanie3d report"
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetCreator("meanie3d", true)
	pdf.SetAutoPageBreak(false, 0)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	titlePage(pdf, tr, title, dir, opts)

	pageW, pageH := pdf.GetPageSize()
	left, top, right, bottom := pdf.GetMargins()
	const gap, captionH, headerH = 4.0, 5.0, 10.0
	cellW := (pageW - left - right - gap*float64(columns-1)) / float64(columns)

	for _, s := range series {
		images := s.Images
		if opts.MaxImages > 0 && len(images) > opts.MaxImages {
			images = images[:opts.MaxImages]
		}

		var y float64
		newPage := func() {
			pdf.AddPage()
			pdf.SetFont("Helvetica", "B", 13)
			pdf.SetXY(left, top)
			pdf.CellFormat(0, headerH, tr(s.Prefix+" ("+strconv.Itoa(len(s.Images))+" frames)"), "B", 1, "L", false, 0, "")
			y = top + headerH + gap
		}
		newPage()

		for i := 0; i < len(images); i += columns {
			row := images[i:min(i+columns, len(images))]
			rowH := 0.0
			infos := make([]*gofpdf.ImageInfoType, len(row))
			for j, img := range row {
				infos[j] = pdf.RegisterImageOptions(img.Path, gofpdf.ImageOptions{ImageType: "PNG"})
				if pdf.Err() {
					return fmt.Errorf("failed to add %s: %w", img.Path, pdf.Error())
				}
				if h := cellW * infos[j].Height() / infos[j].Width(); h > rowH {
					rowH = h
				}
			}
			if y+rowH+captionH > pageH-bottom {
				newPage()
			}
			for j, img := range row {
				x := left + float64(j)*(cellW+gap)
				h := cellW * infos[j].Height() / infos[j].Width()
				pdf.ImageOptions(img.Path, x, y, cellW, h, false, gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")
				pdf.SetFont("Helvetica", "", 8)
				pdf.SetXY(x, y+rowH)
				pdf.CellFormat(cellW, captionH, tr(fmt.Sprintf("%04d  %s", img.Index, filepath.Base(img.Path))), "", 0, "C", false, 0, "")
			}
			y += rowH + captionH + gap
		}
	}

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}
	if err := pdf.OutputFileAndClose(out); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	logging.Report("Wrote %s: %d series", out, len(series))
	return nil
}

func titlePage(pdf *gofpdf.Fpdf, tr func(string) string, title, dir string, opts Options) {
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 14, tr(title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	if opts.Description != "" {
		pdf.MultiCell(0, 6, tr(opts.Description), "", "L", false)
		pdf.Ln(4)
	}
	pdf.CellFormat(0, 6, tr("Directory: "+dir), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Created: "+time.Now().Format(time.RFC1123), "", 1, "L", false, 0, "")

	if c := opts.Counts; c != nil {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, 6, "Steps", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		for _, row := range [][2]string{
			{"Total", strconv.Itoa(c.Total)},
			{"Succeeded", strconv.Itoa(c.Succeeded)},
			{"Failed", strconv.Itoa(c.Failed)},
			{"Skipped", strconv.Itoa(c.Skipped)},
		} {
			pdf.CellFormat(40, 6, row[0], "", 0, "L", false, 0, "")
			pdf.CellFormat(0, 6, row[1], "", 1, "L", false, 0, "")
		}
	}
}

func filter(series []Series, prefixes []string) []Series {
	if len(prefixes) == 0 {
		return series
	}
	want := map[string]bool{}
	for _, p := range prefixes {
		want[p] = true
	}
	var out []Series
	for _, s := range series {
		if want[s.Prefix] {
			out = append(out, s)
		}
	}
	return out
}
