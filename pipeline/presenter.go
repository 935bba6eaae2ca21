package pipeline

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/fatih/color"
	"github.com/khaledhikmat/vs-classifier/model"
)

type Row struct {
	Label      string
	Confidence float32
	Percent    string
	Opacity    float64
}

// Present orders the set by label, independent of confidence.
func Present(set model.ObservationSet) []Row {
	labels := make([]string, 0, len(set))
	for label := range set {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	rows := make([]Row, len(labels))
	for i, label := range labels {
		confidence := set[label]
		rows[i] = Row{
			Label:      label,
			Confidence: confidence,
			Percent:    FormatPercentage(confidence),
			Opacity:    Opacity(confidence),
		}
	}

	return rows
}

// FormatPercentage truncates: 0.873 is "87%", not "88%".
func FormatPercentage(confidence float32) string {
	return fmt.Sprintf("%d%%", int(confidence*100))
}

// Opacity maps a confidence in [0,1] onto [0.5,1].
func Opacity(confidence float32) float64 {
	return float64(confidence)/2 + 0.5
}

func emphasis(opacity float64) *color.Color {
	switch {
	case opacity >= 0.9:
		return color.New(color.FgHiWhite, color.Bold)
	case opacity >= 0.7:
		return color.New(color.FgWhite)
	default:
		return color.New(color.FgWhite, color.Faint)
	}
}

// Presenter writes the latest observation set as a label/percentage overlay.
// Render is expected to be called from the main loop.
type Presenter struct {
	out io.Writer

	mu      sync.Mutex
	latest  []Row
	renders int
}

func NewPresenter(out io.Writer) *Presenter {
	return &Presenter{
		out: out,
	}
}

func (p *Presenter) Render(set model.ObservationSet) {
	rows := Present(set)

	p.mu.Lock()
	p.latest = rows
	p.renders++
	p.mu.Unlock()

	// The overlay is hidden while there is nothing to show
	if len(rows) == 0 {
		return
	}

	width := 0
	for _, row := range rows {
		if len(row.Label) > width {
			width = len(row.Label)
		}
	}

	for _, row := range rows {
		emphasis(row.Opacity).Fprintf(p.out, "%-*s %4s\n", width, row.Label, row.Percent)
	}
	fmt.Fprintln(p.out)
}

// Observer adapts Render to the gate's observer signature.
func (p *Presenter) Observer() Observer {
	return func(_ string, set model.ObservationSet) {
		p.Render(set)
	}
}

func (p *Presenter) Latest() []Row {
	p.mu.Lock()
	defer p.mu.Unlock()

	rows := make([]Row, len(p.latest))
	copy(rows, p.latest)
	return rows
}

func (p *Presenter) Stats() model.PresenterStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return model.PresenterStats{
		Name:    "terminalPresenter",
		Renders: p.renders,
		Rows:    len(p.latest),
	}
}
