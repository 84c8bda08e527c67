package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage message.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: mmd2svg <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  render      Render ```mermaid blocks to SVG and link them from the document")
	fmt.Fprintln(w, "  edit        Restore a rendered diagram to its ```mermaid source block")
	fmt.Fprintln(w, "  list        Show the diagram blocks and rendered diagrams of a document")
	fmt.Fprintln(w, "  preview     Write a standalone HTML preview of a document")
	fmt.Fprintln(w, "  doctor      Check the renderer and system setup")
	fmt.Fprintln(w, "  completion  Generate shell completion script")
	fmt.Fprintln(w, "  version     Show version information")
	fmt.Fprintln(w, "  help        Show help for a command")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'mmd2svg help <command>' for details on a specific command.")
}

// printRendererFlags prints the renderer flag group.
func printRendererFlags(w io.Writer) {
	fmt.Fprintln(w, "Renderer:")
	fmt.Fprintln(w, "  -m, --mode <mode>         oneshot (default), persistent, browser")
	fmt.Fprintln(w, "      --renderer <path>     Mermaid CLI executable (default: mmdc on PATH);")
	fmt.Fprintln(w, "                            required in persistent mode, where it must be a")
	fmt.Fprintln(w, "                            JSON-lines render server (mmdc is not one)")
	fmt.Fprintln(w, "  -t, --timeout <dur>       Per-render timeout (default: 30s)")
	fmt.Fprintln(w, "  -w, --workers <n>         Concurrent renders (0 = auto)")
	fmt.Fprintln(w, "      --mermaid-js <src>    mermaid.js path or URL (browser mode)")
	fmt.Fprintln(w, "      --no-cache            Disable the render cache")
	fmt.Fprintln(w)
}

// printCommonFlags prints the flags shared by every document command.
func printCommonFlags(w io.Writer) {
	fmt.Fprintln(w, "Common:")
	fmt.Fprintln(w, "  -d, --artifact-dir <dir>  Artifact directory, relative to the document")
	fmt.Fprintln(w, "  -c, --config <name>       Config file name or path")
	fmt.Fprintln(w, "  -q, --quiet               Only show errors")
	fmt.Fprintln(w, "  -v, --verbose             Show debug logs")
}

// printRenderUsage prints usage for the render command.
func printRenderUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: mmd2svg render <file>... [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Render diagram blocks to SVG. Each block is replaced by a marker comment")
	fmt.Fprintln(w, "and an image reference; its source is kept in a .mmd file next to the SVG.")
	fmt.Fprintln(w, "Files ending in .mmd or .mermaid are rendered as a single diagram.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Selection:")
	fmt.Fprintln(w, "  -b, --block <n>           Render only block n (1-based, see 'mmd2svg list')")
	fmt.Fprintln(w, "  -a, --all                 Render every block (default)")
	fmt.Fprintln(w, "      --stdout              Print the new document instead of saving it")
	fmt.Fprintln(w)
	printRendererFlags(w)
	printCommonFlags(w)
}

// printEditUsage prints usage for the edit command.
func printEditUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: mmd2svg edit <file> --line <n> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Replace the rendered diagram whose marker comment is on line n with its")
	fmt.Fprintln(w, "```mermaid source block. Once the document is saved, the SVG and source")
	fmt.Fprintln(w, "files are deleted. With --stdout nothing is deleted.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  -l, --line <n>            Line of the marker comment (1-based)")
	fmt.Fprintln(w, "      --stdout              Print the new document instead of saving it")
	fmt.Fprintln(w)
	printCommonFlags(w)
}

// printListUsage prints usage for the list command.
func printListUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: mmd2svg list <file> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Show diagram blocks with their block numbers, and rendered diagrams with")
	fmt.Fprintln(w, "their marker lines and artifact state (ok, stale, missing, invalid).")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "      --json                Output as JSON")
	fmt.Fprintln(w)
	printCommonFlags(w)
}

// printPreviewUsage prints usage for the preview command.
func printPreviewUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: mmd2svg preview <file> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Write a standalone HTML page of the document. Unrendered diagrams are")
	fmt.Fprintln(w, "rendered in memory; the document and its artifacts are not modified.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Output:")
	fmt.Fprintln(w, "  -o, --output <path>       Output HTML file (default: stdout)")
	fmt.Fprintln(w, "  -s, --style <name>        Stylesheet: default, dark, or a custom name")
	fmt.Fprintln(w, "      --asset-path <dir>    Directory with custom styles/ and templates/")
	fmt.Fprintln(w)
	printRendererFlags(w)
	printCommonFlags(w)
}

// printDoctorUsage prints usage for the doctor command.
func printDoctorUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: mmd2svg doctor [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Check that the configured renderer can run on this system.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "      --json                Output as JSON")
	fmt.Fprintln(w, "  -c, --config <name>       Config file name or path")
	fmt.Fprintln(w)
	printRendererFlags(w)
}

// runHelp prints help for a specific command.
func runHelp(args []string, env *Environment) {
	if len(args) == 0 {
		printUsage(env.Stdout)
		return
	}

	switch args[0] {
	case "render":
		printRenderUsage(env.Stdout)
	case "edit":
		printEditUsage(env.Stdout)
	case "list":
		printListUsage(env.Stdout)
	case "preview":
		printPreviewUsage(env.Stdout)
	case "doctor":
		printDoctorUsage(env.Stdout)
	case "completion":
		printCompletionUsage(env.Stdout)
	case "version":
		fmt.Fprintln(env.Stdout, "Usage: mmd2svg version")
		fmt.Fprintln(env.Stdout)
		fmt.Fprintln(env.Stdout, "Show version information.")
	case "help":
		fmt.Fprintln(env.Stdout, "Usage: mmd2svg help [command]")
		fmt.Fprintln(env.Stdout)
		fmt.Fprintln(env.Stdout, "Show help for a command.")
	default:
		fmt.Fprintf(env.Stderr, "Unknown command: %s\n", args[0])
		printUsage(env.Stderr)
	}
}
