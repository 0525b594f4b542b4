// Package report renders engine results for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/elmctl/internal/checkout"
	"github.com/Iron-Ham/elmctl/internal/element"
	"github.com/Iron-Ham/elmctl/internal/signout"
	"github.com/Iron-Ham/elmctl/internal/upload"
)

var (
	primaryColor = lipgloss.Color("#A78BFA")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#F87171")
	mutedColor   = lipgloss.Color("#9CA3AF")
)

// columnGap separates table columns.
const columnGap = "  "

type styles struct {
	header  lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

// Printer writes styled results to an output. Colors are dropped when the
// output is not a terminal.
type Printer struct {
	out    io.Writer
	styles styles
}

// New creates a Printer for out.
func New(out io.Writer) *Printer {
	r := lipgloss.NewRenderer(out)
	return &Printer{
		out: out,
		styles: styles{
			header:  r.NewStyle().Bold(true).Foreground(primaryColor),
			success: r.NewStyle().Foreground(successColor),
			warning: r.NewStyle().Foreground(warningColor),
			failure: r.NewStyle().Bold(true).Foreground(errorColor),
			muted:   r.NewStyle().Foreground(mutedColor),
		},
	}
}

// Checkout writes one row per entry with its dependencies and warnings
// beneath it, followed by a summary line.
func (p *Printer) Checkout(r *checkout.Report) {
	rows := make([][]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		rows = append(rows, []string{e.Path.String(), modeLabel(e), string(e.Fingerprint), e.Location})
	}
	widths := columnWidths([]string{"ELEMENT", "MODE", "FINGERPRINT", "LOCATION"}, rows)

	p.line(p.row(widths, p.styles.header, "ELEMENT", "MODE", "FINGERPRINT", "LOCATION"))
	for i, e := range r.Entries {
		style := p.styles.success
		if !e.OK() {
			style = p.styles.failure
		} else if e.Mode == checkout.ModeCopy {
			style = p.styles.muted
		}
		p.line(p.row(widths, style, rows[i]...))

		for _, d := range e.Dependencies {
			if d.Err != nil {
				continue
			}
			p.line(p.styles.muted.Render(fmt.Sprintf("  + %s %s", d.Path, d.Retrieved.Fingerprint)))
		}
		for _, w := range e.Warnings {
			p.line(p.styles.warning.Render("  ! " + w))
		}
		if e.Err != nil {
			p.line(p.styles.failure.Render("  x " + e.Err.Error()))
		}
	}

	summary := fmt.Sprintf("%d of %d elements retrieved", r.Succeeded(), len(r.Entries))
	if failed := r.Failed(); failed > 0 {
		p.line(p.styles.failure.Render(fmt.Sprintf("%s, %d failed", summary, failed)))
		return
	}
	p.line(p.styles.success.Render(summary))
}

func modeLabel(e checkout.Entry) string {
	if !e.OK() {
		return "failed"
	}
	return e.Mode.String()
}

// Upload writes the outcome of one upload.
func (p *Printer) Upload(path element.Path, o upload.Outcome) {
	switch o := o.(type) {
	case upload.Uploaded:
		msg := fmt.Sprintf("uploaded %s (rc %d)", path, o.Result.ReturnCode)
		if o.SignedOut {
			msg += ", signed out"
		}
		p.line(p.styles.success.Render(msg))
		for _, m := range o.Result.Messages {
			p.line(p.styles.muted.Render("  " + m))
		}
	case upload.Declined:
		p.line(p.styles.warning.Render(fmt.Sprintf("upload of %s cancelled: %s", path, upload.DeclinedReason)))
	case upload.Failed:
		p.line(p.styles.failure.Render(fmt.Sprintf("upload of %s failed [%s]: %v", path, o.Class, o.Err)))
		if o.Conflict != nil {
			p.line(p.styles.warning.Render(fmt.Sprintf("  remote is at %s, conflict %s",
				o.Conflict.RemoteFingerprint, o.Conflict.Resolution)))
		}
	}
}

// SignOut writes the outcome of one sign-out.
func (p *Printer) SignOut(path element.Path, o signout.LockOutcome) {
	switch o := o.(type) {
	case signout.Granted:
		msg := fmt.Sprintf("signed out %s", path)
		if o.Overridden {
			msg += " (override)"
		}
		p.line(p.styles.success.Render(msg))
	case signout.Declined:
		p.line(p.styles.warning.Render(fmt.Sprintf("sign-out of %s cancelled", path)))
	case signout.Failed:
		p.line(p.styles.failure.Render(fmt.Sprintf("sign-out of %s failed [%s]: %v", path, o.Class, o.Err)))
	}
}

// SignIn writes the outcome of one sign-in.
func (p *Printer) SignIn(path element.Path, err error) {
	if err != nil {
		p.line(p.styles.failure.Render(fmt.Sprintf("sign-in of %s failed: %v", path, err)))
		return
	}
	p.line(p.styles.success.Render(fmt.Sprintf("signed in %s", path)))
}

// Warn writes a warning line.
func (p *Printer) Warn(format string, args ...any) {
	p.line(p.styles.warning.Render("! " + fmt.Sprintf(format, args...)))
}

// Locks lists sign-outs taken by this process.
func (p *Printer) Locks(locks []signout.Lock) {
	if len(locks) == 0 {
		return
	}
	rows := make([][]string, len(locks))
	for i, l := range locks {
		via := ""
		if l.Overridden {
			via = "override"
		}
		rows[i] = []string{l.Path.String(), l.CCID, l.AcquiredAt.Format("15:04:05"), via}
	}
	widths := columnWidths([]string{"SIGNED OUT", "CCID", "AT", ""}, rows)
	p.line(p.row(widths, p.styles.header, "SIGNED OUT", "CCID", "AT", ""))
	for _, r := range rows {
		p.line(p.row(widths, p.styles.muted, r...))
	}
}

func columnWidths(header []string, rows [][]string) []int {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, r := range rows {
		for i, cell := range r {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	return widths
}

func (p *Printer) row(widths []int, style lipgloss.Style, cells ...string) string {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = c + strings.Repeat(" ", widths[i]-lipgloss.Width(c))
	}
	return style.Render(strings.TrimRight(strings.Join(parts, columnGap), " "))
}

func (p *Printer) line(s string) {
	fmt.Fprintln(p.out, s)
}
