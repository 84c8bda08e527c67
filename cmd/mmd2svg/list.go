package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/alnah/go-mmd2svg"
)

// listOutput is the JSON form of a listing. Lines and block numbers are
// 1-based, as accepted by render --block and edit --line.
type listOutput struct {
	File    string       `json:"file"`
	Blocks  []blockJSON  `json:"blocks"`
	Markers []markerJSON `json:"markers"`
}

type blockJSON struct {
	Block       int    `json:"block"`
	Line        int    `json:"line"`
	Lines       int    `json:"lines"`
	Fingerprint string `json:"fingerprint"`
	Rendered    bool   `json:"rendered"`
}

type markerJSON struct {
	Line   int    `json:"line"`
	Source string `json:"source"`
	Image  string `json:"image,omitempty"`
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

// runListCmd prints the diagram blocks and rendered markers of a document.
func runListCmd(ctx context.Context, args []string, env *Environment) error {
	f := &listFlags{}
	fs := buildListFlagSet(f)
	if err := parseArgs(fs, args, env.Stdout, printListUsage); err != nil {
		return err
	}
	files := fs.Args()
	if len(files) != 1 {
		return fmt.Errorf("%w: list needs exactly one document", ErrUsage)
	}

	s, err := resolveSettings(f.common, nil, f.artifactDir, env)
	if err != nil {
		return err
	}
	p, err := newPipeline(s, env, false)
	if err != nil {
		return err
	}
	defer closePipeline(p, s.logger)

	doc, err := readDocument(files[0])
	if err != nil {
		return err
	}
	l, err := p.List(ctx, doc)
	if err != nil {
		return err
	}

	out := toListOutput(files[0], l)
	if f.json {
		enc := json.NewEncoder(env.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	printListing(env.Stdout, out)
	return nil
}

// toListOutput converts a listing to 1-based CLI numbering.
func toListOutput(file string, l mmd2svg.Listing) listOutput {
	out := listOutput{
		File:    file,
		Blocks:  make([]blockJSON, len(l.Blocks)),
		Markers: make([]markerJSON, len(l.Markers)),
	}
	for i, b := range l.Blocks {
		out.Blocks[i] = blockJSON{
			Block:       b.Index + 1,
			Line:        b.Line + 1,
			Lines:       b.Lines,
			Fingerprint: b.Fingerprint,
			Rendered:    b.Rendered,
		}
	}
	for i, m := range l.Markers {
		mj := markerJSON{
			Line:   m.Line + 1,
			Source: m.SourcePath,
			Image:  m.ImagePath,
			State:  string(m.State),
		}
		if m.Err != nil {
			mj.Error = m.Err.Error()
		}
		out.Markers[i] = mj
	}
	return out
}

// printListing outputs a human-readable listing.
func printListing(w io.Writer, out listOutput) {
	fmt.Fprintln(w, out.File)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Diagram blocks")
	if len(out.Blocks) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, b := range out.Blocks {
		status := ""
		if b.Rendered {
			status = "  (artifact exists)"
		}
		fmt.Fprintf(w, "  #%-3d line %-5d %3d lines  %.8s%s\n", b.Block, b.Line, b.Lines, b.Fingerprint, status)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Rendered diagrams")
	if len(out.Markers) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, m := range out.Markers {
		fmt.Fprintf(w, "  line %-5d [%s] %s\n", m.Line, stateLabel(m.State), m.Source)
		if m.Error != "" {
			fmt.Fprintf(w, "             %s\n", m.Error)
		}
	}
}

// stateLabel formats an artifact state like the doctor output.
func stateLabel(state string) string {
	switch mmd2svg.ArtifactState(state) {
	case mmd2svg.StateOK:
		return "OK"
	case mmd2svg.StateStale:
		return "STALE"
	case mmd2svg.StateMissing:
		return "MISSING"
	default:
		return "INVALID"
	}
}
