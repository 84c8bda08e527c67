package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/alnah/go-mmd2svg"
	"github.com/alnah/go-mmd2svg/internal/hints"
)

// runEditCmd restores the rendered diagram at a marker line to its fenced
// source block. The artifact is deleted only after the document is saved.
func runEditCmd(ctx context.Context, args []string, env *Environment) error {
	f := &editFlags{}
	fs := buildEditFlagSet(f)
	if err := parseArgs(fs, args, env.Stdout, printEditUsage); err != nil {
		return err
	}
	files := fs.Args()
	if len(files) != 1 {
		return fmt.Errorf("%w: edit needs exactly one document", ErrUsage)
	}
	if f.line < 1 {
		return fmt.Errorf("%w: --line is required and 1-based", ErrUsage)
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

	path := files[0]
	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	res, err := p.EditDocumentArtifact(ctx, doc, f.line-1)
	if err != nil {
		return editHint(ctx, p, doc, err)
	}

	if f.stdout {
		fmt.Fprint(env.Stdout, res.Text)
		return nil
	}
	if err := writeDocument(path, res.Text); err != nil {
		return err
	}
	s.logger.Info("restored", "file", path, "line", f.line)

	saved := mmd2svg.Document{Path: doc.Path, Text: res.Text}
	for _, a := range res.Artifacts {
		if _, err := p.RemoveArtifact(ctx, saved, a); err != nil {
			s.logger.Warn("could not remove artifact", "source", a.Marker, "err", err)
		}
	}
	return nil
}

// editHint points at the marker lines when the requested line has none.
func editHint(ctx context.Context, p *mmd2svg.Pipeline, doc mmd2svg.Document, err error) error {
	if !errors.Is(err, mmd2svg.ErrMarkerLine) {
		return err
	}
	var lines []int
	if l, lerr := p.List(ctx, doc); lerr == nil {
		for _, m := range l.Markers {
			lines = append(lines, m.Line+1)
		}
	}
	return withHint(err, hints.ForMarkerLine(lines))
}
