package main

import (
	"errors"
	"fmt"
	"io"

	flag "github.com/spf13/pflag"
)

// ErrUsage wraps flag and argument errors.
var ErrUsage = errors.New("invalid usage")

// commonFlags holds flags shared across commands.
type commonFlags struct {
	config  string
	quiet   bool
	verbose bool
}

// rendererFlags selects and tunes the render backend.
type rendererFlags struct {
	mode      string
	path      string
	timeout   string
	workers   int
	mermaidJS string
	noCache   bool
}

// renderFlags holds all flags for the render command.
type renderFlags struct {
	common      commonFlags
	renderer    rendererFlags
	artifactDir string
	block       int // 1-based; 0 renders every block
	all         bool
	stdout      bool
}

// editFlags holds all flags for the edit command.
type editFlags struct {
	common      commonFlags
	artifactDir string
	line        int // 1-based
	stdout      bool
}

// listFlags holds all flags for the list command.
type listFlags struct {
	common      commonFlags
	artifactDir string
	json        bool
}

// previewFlags holds all flags for the preview command.
type previewFlags struct {
	common      commonFlags
	renderer    rendererFlags
	artifactDir string
	output      string
	style       string
	assetPath   string
}

// addCommonFlags adds common flags to a FlagSet.
func addCommonFlags(fs *flag.FlagSet, f *commonFlags) {
	fs.StringVarP(&f.config, "config", "c", "", "config file name or path")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "only show errors")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "show debug logs")
}

// addRendererFlags adds render backend flags to a FlagSet.
func addRendererFlags(fs *flag.FlagSet, f *rendererFlags) {
	fs.StringVarP(&f.mode, "mode", "m", "", "renderer mode: oneshot, persistent, browser")
	fs.StringVar(&f.path, "renderer", "", "renderer executable (default: mmdc on PATH)")
	fs.StringVarP(&f.timeout, "timeout", "t", "", "per-render timeout (e.g. 30s, 1m)")
	fs.IntVarP(&f.workers, "workers", "w", 0, "concurrent renders (0 = auto)")
	fs.StringVar(&f.mermaidJS, "mermaid-js", "", "mermaid.js path or URL (browser mode)")
	fs.BoolVar(&f.noCache, "no-cache", false, "disable the render cache")
}

// addArtifactFlags adds the artifact directory flag to a FlagSet.
func addArtifactFlags(fs *flag.FlagSet, dir *string) {
	fs.StringVarP(dir, "artifact-dir", "d", "", "artifact directory, relative to the document")
}

// newFlagSet returns a FlagSet that reports errors instead of exiting.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false
	return fs
}

// parseArgs parses args into fs, printing usage on -h and wrapping other
// failures with ErrUsage.
func parseArgs(fs *flag.FlagSet, args []string, w io.Writer, usage func(io.Writer)) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			usage(w)
			return flag.ErrHelp
		}
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return nil
}

// buildRenderFlagSet registers the render command flags into f.
func buildRenderFlagSet(f *renderFlags) *flag.FlagSet {
	fs := newFlagSet("render")
	fs.IntVarP(&f.block, "block", "b", 0, "render only block N (1-based)")
	fs.BoolVarP(&f.all, "all", "a", false, "render every block (default)")
	fs.BoolVar(&f.stdout, "stdout", false, "print the new document instead of saving it")
	addArtifactFlags(fs, &f.artifactDir)
	addRendererFlags(fs, &f.renderer)
	addCommonFlags(fs, &f.common)
	return fs
}

// buildEditFlagSet registers the edit command flags into f.
func buildEditFlagSet(f *editFlags) *flag.FlagSet {
	fs := newFlagSet("edit")
	fs.IntVarP(&f.line, "line", "l", 0, "line of the marker comment (1-based)")
	fs.BoolVar(&f.stdout, "stdout", false, "print the new document instead of saving it")
	addArtifactFlags(fs, &f.artifactDir)
	addCommonFlags(fs, &f.common)
	return fs
}

// buildListFlagSet registers the list command flags into f.
func buildListFlagSet(f *listFlags) *flag.FlagSet {
	fs := newFlagSet("list")
	fs.BoolVar(&f.json, "json", false, "output as JSON")
	addArtifactFlags(fs, &f.artifactDir)
	addCommonFlags(fs, &f.common)
	return fs
}

// buildPreviewFlagSet registers the preview command flags into f.
func buildPreviewFlagSet(f *previewFlags) *flag.FlagSet {
	fs := newFlagSet("preview")
	fs.StringVarP(&f.output, "output", "o", "", "output HTML file (default: stdout)")
	fs.StringVarP(&f.style, "style", "s", "", "preview stylesheet name")
	fs.StringVar(&f.assetPath, "asset-path", "", "directory overriding built-in styles and templates")
	addArtifactFlags(fs, &f.artifactDir)
	addRendererFlags(fs, &f.renderer)
	addCommonFlags(fs, &f.common)
	return fs
}

// buildDoctorFlagSet registers the doctor command flags into f.
func buildDoctorFlagSet(f *doctorFlags) *flag.FlagSet {
	fs := newFlagSet("doctor")
	fs.BoolVar(&f.json, "json", false, "output as JSON")
	addRendererFlags(fs, &f.renderer)
	fs.StringVarP(&f.config, "config", "c", "", "config file name or path")
	return fs
}
