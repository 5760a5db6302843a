package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"gonum.org/v1/gonum/mat"

	"bv2src/internal/models"
	"bv2src/pkg/source"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
)

// reportedError has already been printed to stderr
type reportedError struct{ title string }

func (e reportedError) Error() string { return e.title }

func printSuccess(format string, a ...any) {
	green.Fprintf(os.Stderr, "✓ "+format, a...)
}

func printWarning(format string, a ...any) {
	yellow.Fprintf(os.Stderr, "! "+format, a...)
}

// printError prints a title, an explanation and suggestions, and returns
// an error that printFailure will not print again
func printError(title, explanation string, suggestions []string) error {
	red.Fprintf(os.Stderr, "%s\n\n", title)
	fmt.Fprintf(os.Stderr, "%s\n", explanation)
	if len(suggestions) > 0 {
		fmt.Fprintln(os.Stderr)
		for _, s := range suggestions {
			fmt.Fprintf(os.Stderr, "  %s\n", s)
		}
	}
	return reportedError{title: title}
}

func printFailure(err error) {
	var reported reportedError
	if errors.As(err, &reported) {
		return
	}
	red.Fprintf(os.Stderr, "error: %v\n", err)
}

func newTable(w io.Writer, headers ...any) *tablewriter.Table {
	cfg := tablewriter.Config{}
	cfg.Row.Alignment = tw.CellAlignment{Global: tw.AlignRight}
	table := tablewriter.NewTable(w, tablewriter.WithConfig(cfg))
	table.Header(headers...)
	return table
}

func renderOutcomes(w io.Writer, outcomes []source.Outcome) error {
	table := newTable(w, "Subject", "State", "Surf sources", "Surf labeled", "Vol sources", "Vol labeled", "Time", "Status")
	for _, o := range outcomes {
		var surf, surfLab, vol, volLab int
		state := source.StateInit
		if r := o.Result; r != nil {
			state = r.State
			for _, s := range r.Surfaces {
				surf += s.NUse
			}
			for _, v := range r.Volumes {
				vol += v.NUse()
			}
			surfLab = labeledCount(r.SurfaceLabels)
			volLab = labeledCount(r.VolumeLabels)
		}
		status := green.Sprint("ok")
		if !o.OK() {
			status = red.Sprint("failed")
		}
		if err := table.Append(o.Subject, state.String(), surf, surfLab, vol, volLab,
			o.Duration.Round(time.Millisecond).String(), status); err != nil {
			return err
		}
	}
	return table.Render()
}

func labeledCount(labels []models.Label) int {
	n := 0
	for _, l := range labels {
		n += l.Len()
	}
	return n
}

func renderMatrix(w io.Writer, m mat.Matrix) error {
	table := newTable(w, "", "x", "y", "z", "t")
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		row := []any{strconv.Itoa(i)}
		for j := 0; j < c; j++ {
			row = append(row, strconv.FormatFloat(m.At(i, j), 'f', 6, 64))
		}
		if err := table.Append(row...); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderSpaces(w io.Writer, spaces []models.SourceSpace) error {
	table := newTable(w, "Kind", "Name", "ID", "Points", "In use", "Triangles")
	for _, s := range spaces {
		if err := table.Append(string(s.Kind), s.Name, s.ID, s.NP(), s.NUse(), len(s.Tris)); err != nil {
			return err
		}
	}
	return table.Render()
}

// renderLabels lists the labels of completed subjects with their centroid in mm
func renderLabels(w io.Writer, outcomes []source.Outcome) error {
	table := newTable(w, "Subject", "Kind", "Hemi", "Vertices", "Centroid (mm)")
	rows := 0
	for _, o := range outcomes {
		if o.Result == nil {
			continue
		}
		for _, group := range []struct {
			kind   models.SourceKind
			labels []models.Label
		}{
			{models.KindSurface, o.Result.SurfaceLabels},
			{models.KindVolume, o.Result.VolumeLabels},
		} {
			for _, l := range group.labels {
				c := l.Centroid()
				centroid := fmt.Sprintf("%.1f %.1f %.1f", 1e3*c.X, 1e3*c.Y, 1e3*c.Z)
				if err := table.Append(o.Subject, string(group.kind), string(l.Hemi), l.Len(), centroid); err != nil {
					return err
				}
				rows++
			}
		}
	}
	if rows == 0 {
		return nil
	}
	return table.Render()
}
