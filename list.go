package mmd2svg

import (
	"context"
	"errors"
	"strings"

	"github.com/alnah/go-mmd2svg/internal/artifact"
	"github.com/alnah/go-mmd2svg/internal/document"
)

// ArtifactState describes the artifact behind a marker.
type ArtifactState string

// Artifact states reported by List.
const (
	// StateOK: the SVG exists and the sidecar is the source it was rendered from.
	StateOK ArtifactState = "ok"
	// StateStale: the sidecar was changed after rendering; the SVG is outdated.
	StateStale ArtifactState = "stale"
	// StateMissing: the sidecar or the SVG is gone.
	StateMissing ArtifactState = "missing"
	// StateInvalid: the marker path is unusable or escapes the document directory.
	StateInvalid ArtifactState = "invalid"
)

// BlockInfo describes one unrendered diagram block.
type BlockInfo struct {
	Index       int
	Line        int // 0-based line of the opening fence
	Fingerprint string
	Lines       int  // number of source lines
	Rendered    bool // a current artifact for this exact source already exists
}

// MarkerInfo describes one rendered diagram marker.
type MarkerInfo struct {
	Line       int // 0-based line of the marker comment
	SourcePath string
	ImagePath  string
	State      ArtifactState
	Err        error // why the state is missing or invalid
}

// Listing is the inventory of a document.
type Listing struct {
	Blocks  []BlockInfo
	Markers []MarkerInfo
}

// List reports the document's diagram blocks and markers without modifying
// anything.
func (p *Pipeline) List(ctx context.Context, doc Document) (Listing, error) {
	if err := ctx.Err(); err != nil {
		return Listing{}, p.fail(OpList, err)
	}
	t, err := p.target(doc)
	if err != nil {
		return Listing{}, p.fail(OpList, err)
	}

	var l Listing
	for _, b := range document.Scan(doc.Text, t.kind) {
		info := BlockInfo{
			Index:       b.Index,
			Line:        b.Line,
			Fingerprint: b.Fingerprint(),
			Lines:       strings.Count(strings.TrimSuffix(b.Text, "\n"), "\n") + 1,
		}
		if a, err := t.store.Plan(t.path, t.out, b.Index, info.Fingerprint); err == nil {
			info.Rendered = t.store.Fresh(a, info.Fingerprint)
		}
		l.Blocks = append(l.Blocks, info)
	}
	for _, m := range document.ScanMarkers(doc.Text) {
		info := MarkerInfo{Line: m.Line, SourcePath: m.SourcePath, ImagePath: m.ImagePath}
		info.State, info.Err = p.markerState(t, m)
		l.Markers = append(l.Markers, info)
	}
	return l, nil
}

func (p *Pipeline) markerState(t target, m document.Marker) (ArtifactState, error) {
	sourcePath, err := document.ResolveMarker(t.dir, m.SourcePath)
	if err != nil {
		return StateInvalid, err
	}
	a, _, err := t.store.Read(sourcePath)
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		return StateMissing, err
	case err != nil:
		return StateInvalid, err
	}
	if !t.store.Fresh(a, a.Fingerprint) {
		return StateMissing, artifact.ErrNotFound
	}

	if !a.Matches() {
		return StateStale, nil
	}
	return StateOK, nil
}
