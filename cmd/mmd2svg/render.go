package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/alnah/go-mmd2svg"
	"github.com/alnah/go-mmd2svg/internal/hints"
)

// runRenderCmd renders the diagram blocks of one or more documents and saves
// the rewritten documents.
func runRenderCmd(ctx context.Context, args []string, env *Environment) error {
	f := &renderFlags{}
	fs := buildRenderFlagSet(f)
	if err := parseArgs(fs, args, env.Stdout, printRenderUsage); err != nil {
		return err
	}
	files := fs.Args()
	if err := validateRenderArgs(f, files); err != nil {
		return err
	}

	s, err := resolveSettings(f.common, &f.renderer, f.artifactDir, env)
	if err != nil {
		return err
	}
	p, err := newPipeline(s, env, true)
	if err != nil {
		return err
	}
	defer closePipeline(p, s.logger)

	var failed []error
	for _, path := range files {
		if err := renderFile(ctx, p, path, f, env, s.logger); err != nil {
			if len(files) > 1 {
				s.logger.Error("render failed", "file", path, "err", err)
			}
			failed = append(failed, fmt.Errorf("%s: %w", path, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return joinFailures(failed, len(files))
}

// validateRenderArgs rejects flag combinations that cannot be honored.
func validateRenderArgs(f *renderFlags, files []string) error {
	switch {
	case len(files) == 0:
		return fmt.Errorf("%w: no document given", ErrUsage)
	case f.block < 0:
		return fmt.Errorf("%w: --block must be positive, got %d", ErrUsage, f.block)
	case f.block > 0 && f.all:
		return fmt.Errorf("%w: --block and --all are mutually exclusive", ErrUsage)
	case f.block > 0 && len(files) > 1:
		return fmt.Errorf("%w: --block needs exactly one document", ErrUsage)
	case f.stdout && len(files) > 1:
		return fmt.Errorf("%w: --stdout needs exactly one document", ErrUsage)
	}
	return nil
}

// renderFile renders one document. A document without diagrams is left
// alone unless a specific block was requested.
func renderFile(ctx context.Context, p *mmd2svg.Pipeline, path string, f *renderFlags, env *Environment, logger *log.Logger) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}

	var res mmd2svg.Result
	if f.block > 0 {
		res, err = p.RenderDocumentBlock(ctx, doc, f.block-1)
		if errors.Is(err, mmd2svg.ErrBlockIndex) || errors.Is(err, mmd2svg.ErrNoDiagram) {
			return withHint(err, hints.ForBlockIndex(countBlocks(ctx, p, doc)))
		}
	} else {
		res, err = p.RenderAll(ctx, doc)
		if errors.Is(err, mmd2svg.ErrNoDiagram) {
			logger.Info("nothing to render", "file", path)
			if f.stdout {
				fmt.Fprint(env.Stdout, doc.Text)
			}
			return nil
		}
	}
	if err != nil {
		return err
	}

	if f.stdout {
		fmt.Fprint(env.Stdout, res.Text)
		return nil
	}
	if err := writeDocument(path, res.Text); err != nil {
		return err
	}
	logger.Info("rendered", "file", path, "diagrams", len(res.Artifacts))
	for _, a := range res.Artifacts {
		logger.Debug("artifact", "svg", a.SVGPath, "source", a.SourcePath)
	}
	return nil
}

// countBlocks returns the number of unrendered blocks, for hints.
func countBlocks(ctx context.Context, p *mmd2svg.Pipeline, doc mmd2svg.Document) int {
	l, err := p.List(ctx, doc)
	if err != nil {
		return 0
	}
	return len(l.Blocks)
}

// closePipeline releases the pipeline, logging rather than failing on error.
func closePipeline(p *mmd2svg.Pipeline, logger *log.Logger) {
	if err := p.Close(); err != nil {
		logger.Warn("closing renderer", "err", err)
	}
}
