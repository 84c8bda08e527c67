// Package mmd2svg renders Mermaid diagrams embedded in documents to SVG and
// keeps an exact, re-editable copy of their source.
//
// # Quick Start
//
// Create a pipeline, render a document, save the returned text:
//
//	p, err := mmd2svg.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	res, err := p.RenderAll(ctx, mmd2svg.Document{
//	    Path: "notes.md",
//	    Text: content,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile("notes.md", []byte(res.Text), 0644)
//
// The pipeline never writes the document itself: it returns the new text
// and the caller decides what to do with it.
//
// # Render Pipeline
//
// Rendering one block follows these stages:
//
//  1. The document is scanned for ```mermaid fenced blocks (goldmark)
//  2. The block source is sent to the renderer (Mermaid CLI by default)
//  3. The raw SVG is sanitized: scripts rejected, event handlers and
//     javascript: links stripped, HTML labels turned into SVG text
//  4. The SVG and a sidecar .mmd holding the exact source are written next
//     to the document
//  5. The block is replaced by a marker and an image reference:
//
//	<!-- mermaid-source-file:notes_diagram_01_3f2a9c1d.mmd -->
//
//	![Mermaid Diagram](notes_diagram_01_3f2a9c1d.svg)
//
// EditDocumentArtifact reverses the last step: the marker and image are
// replaced by the fenced block rebuilt from the sidecar. Rendering then
// editing yields the original source byte-for-byte. The artifact pair stays
// on disk until the caller has saved the new text and calls RemoveArtifact,
// which keeps files that the saved document still references.
//
// Whole-file diagrams (.mmd, .mermaid) are one block in their entirety.
//
// # Configuration
//
// Use functional options to customize the pipeline:
//
//	p, err := mmd2svg.New(
//	    mmd2svg.WithTimeout(time.Minute),
//	    mmd2svg.WithRendererPath("/usr/local/bin/mmdc"),
//	    mmd2svg.WithArtifactDir("diagrams"),
//	    mmd2svg.WithMermaidConfig(map[string]any{"theme": "dark"}),
//	)
//
// The renderer executable is looked up in WithRendererPath, then
// $MMD2SVG_RENDERER, then $MERMAID_CLI_PATH, then mmdc on PATH. The
// per-render timeout defaults to $MMD2SVG_TIMEOUT, then 30 seconds.
//
// # Errors
//
// Every operation error is a *PipelineError. Match its category with
// errors.Is against ErrRendererUnavailable, ErrRenderTimeout,
// ErrRenderFailed, ErrRendererCrashed, ErrSanitizeRejected,
// ErrPathTraversal, ErrIO, ErrInvalidInput or ErrCanceled, or read it with
// KindOf. On failure the returned text is empty and no artifact written by
// the call is left behind.
package mmd2svg
