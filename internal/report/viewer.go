package report

import (
	"bufio"
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/elmctl/internal/checkout"
)

// Viewer shows each checked out element once its batch is saved: a header
// naming the element and where it went, then the first lines of the file.
// It implements checkout.Viewer.
type Viewer struct {
	printer *Printer
	fs      afero.Fs
	lines   int
}

var _ checkout.Viewer = (*Viewer)(nil)

// NewViewer creates a Viewer that previews up to lines lines of each file.
// Zero prints the header only.
func NewViewer(p *Printer, fs afero.Fs, lines int) *Viewer {
	return &Viewer{printer: p, fs: fs, lines: max(lines, 0)}
}

// Show implements checkout.Viewer.
func (v *Viewer) Show(ctx context.Context, entry checkout.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := v.printer
	p.line(p.styles.header.Render(fmt.Sprintf("==> %s (%s) %s", entry.Path, entry.Mode, entry.Location)))
	if v.lines == 0 {
		return nil
	}

	f, err := v.fs.Open(entry.Location)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	shown, more := 0, 0
	for scanner.Scan() {
		if shown < v.lines {
			p.line(p.styles.muted.Render("  | " + scanner.Text()))
			shown++
			continue
		}
		more++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if more > 0 {
		p.line(p.styles.muted.Render(fmt.Sprintf("  | ... %d more lines", more)))
	}
	return nil
}
