package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// printer writes status lines for the CLI. Generated text goes to stdout;
// everything a printer writes goes to stderr so output can be piped.
type printer struct {
	out   io.Writer
	quiet bool

	heading *color.Color
	ok      *color.Color
	warn    *color.Color
	fail    *color.Color
	dim     *color.Color
}

func newPrinter(out io.Writer, quiet bool) *printer {
	return &printer{
		out:     out,
		quiet:   quiet,
		heading: color.New(color.FgCyan, color.Bold),
		ok:      color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		fail:    color.New(color.FgRed, color.Bold),
		dim:     color.New(color.FgHiBlack),
	}
}

// Heading is suppressed in quiet mode, as are Info, Success and Dim.
func (p *printer) Heading(format string, args ...any) {
	if p.quiet {
		return
	}
	p.heading.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) Info(format string, args ...any) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) Success(format string, args ...any) {
	if p.quiet {
		return
	}
	p.ok.Fprint(p.out, "✓ ")
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) Dim(format string, args ...any) {
	if p.quiet {
		return
	}
	p.dim.Fprintf(p.out, format+"\n", args...)
}

// Warning and Failure are always written.
func (p *printer) Warning(format string, args ...any) {
	p.warn.Fprint(p.out, "! ")
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) Failure(format string, args ...any) {
	p.fail.Fprint(p.out, "✗ ")
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Progress redraws a single load-progress line. The line is finished when
// progress reaches 1.
func (p *printer) Progress(label string, progress float64) {
	if p.quiet {
		return
	}
	p.dim.Fprintf(p.out, "\r%s %3.0f%%", label, progress*100)
	if progress >= 1 {
		fmt.Fprintln(p.out)
	}
}
