package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/fruitsalade/blobfm/pkg/fsops"
	"github.com/fruitsalade/blobfm/pkg/gateway"
	"github.com/fruitsalade/blobfm/pkg/models"
)

type printer struct {
	out  io.Writer
	err  io.Writer
	dir  *color.Color
	fail *color.Color
	dim  *color.Color
}

func newPrinter(out, errOut io.Writer) *printer {
	return &printer{
		out:  out,
		err:  errOut,
		dir:  color.New(color.FgBlue, color.Bold),
		fail: color.New(color.FgRed),
		dim:  color.New(color.Faint),
	}
}

func (p *printer) listing(nodes []models.FileSystemNode) {
	if len(nodes) == 0 {
		fmt.Fprintln(p.out, "(empty)")
		return
	}

	w := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
	for _, n := range nodes {
		name := n.Name
		size := formatSize(n.Size)
		if n.IsDirectory {
			name = p.dir.Sprint(n.Name + models.PathSeparator)
			size = "-"
		}
		modified := "-"
		if !n.ModifiedAt.IsZero() {
			modified = n.ModifiedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, size, modified)
	}
	w.Flush()
}

// results prints the outcome of a fan-out: one line per failed entry, then
// a summary. It returns err so callers can still fail the command.
func (p *printer) results(op string, results []fsops.EntryResult, err error) error {
	var fe *fsops.FanoutError
	if errors.As(err, &fe) {
		for _, r := range fe.Failed() {
			target := r.Source
			if r.Target != "" {
				target = r.Source + " -> " + r.Target
			}
			fmt.Fprintf(p.err, "%s %s: %v\n", p.fail.Sprint("FAILED"), target, r.Err)
		}
		fmt.Fprintf(p.out, "%s: %d of %d entries failed\n", op, len(fe.Failed()), len(fe.Results))
		return fmt.Errorf("%s %s: partial failure", fe.Op, fe.Path)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "%s: %d entries\n", op, len(results))
	return nil
}

func (p *printer) done(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) trace(info gateway.RequestInfo) {
	target := info.URL
	if info.Query != "" {
		target += "?" + info.Query
	}
	p.dim.Fprintf(p.err, "%s %s %d\n", info.Method, target, info.StatusCode)
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
