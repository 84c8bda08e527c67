package main

import (
	"context"
	"fmt"

	"github.com/alnah/go-mmd2svg/internal/fileutil"
)

// previewPerm is the mode of written preview files.
const previewPerm = 0o644

// runPreviewCmd writes a standalone HTML preview of a document.
func runPreviewCmd(ctx context.Context, args []string, env *Environment) error {
	f := &previewFlags{}
	fs := buildPreviewFlagSet(f)
	if err := parseArgs(fs, args, env.Stdout, printPreviewUsage); err != nil {
		return err
	}
	files := fs.Args()
	if len(files) != 1 {
		return fmt.Errorf("%w: preview needs exactly one document", ErrUsage)
	}

	s, err := resolveSettings(f.common, &f.renderer, f.artifactDir, env)
	if err != nil {
		return err
	}
	if f.style != "" {
		s.cfg.Preview.Style = f.style
	}
	if f.assetPath != "" {
		s.cfg.Preview.AssetPath = f.assetPath
	}
	p, err := newPipeline(s, env, true)
	if err != nil {
		return err
	}
	defer closePipeline(p, s.logger)

	doc, err := readDocument(files[0])
	if err != nil {
		return err
	}
	html, err := p.Preview(ctx, doc)
	if err != nil {
		return err
	}

	if f.output == "" || f.output == "-" {
		fmt.Fprint(env.Stdout, html)
		return nil
	}
	if err := fileutil.WriteFileAtomic(f.output, []byte(html), previewPerm); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteDocument, err)
	}
	s.logger.Info("preview written", "file", f.output)
	return nil
}
