package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	flag "github.com/spf13/pflag"

	"github.com/alnah/go-mmd2svg/internal/config"
	"github.com/alnah/go-mmd2svg/internal/fileutil"
	"github.com/alnah/go-mmd2svg/internal/renderer"
)

// versionTimeout bounds "mmdc --version" and "chrome --version".
const versionTimeout = 10 * time.Second

// doctorFlags holds all flags for the doctor command.
type doctorFlags struct {
	json     bool
	config   string
	renderer rendererFlags
}

// doctorResult holds all diagnostic information.
type doctorResult struct {
	Status   string       `json:"status"` // "ready", "warnings", "errors"
	Mode     string       `json:"mode"`
	Renderer rendererInfo `json:"renderer"`
	Chrome   chromeInfo   `json:"chrome"`
	Env      envInfo      `json:"environment"`
	System   systemInfo   `json:"system"`
	Warnings []string     `json:"warnings,omitempty"`
	Errors   []string     `json:"errors,omitempty"`
}

// rendererInfo holds Mermaid CLI or mermaid.js detection results.
type rendererInfo struct {
	Found     bool   `json:"found"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	MermaidJS string `json:"mermaid_js,omitempty"`
}

// chromeInfo holds Chrome/Chromium detection results.
type chromeInfo struct {
	Found   bool   `json:"found"`
	Path    string `json:"path,omitempty"`
	Version string `json:"version,omitempty"`
	Sandbox bool   `json:"sandbox"`
}

// envInfo holds environment detection results.
type envInfo struct {
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	Container     bool   `json:"container"`
	ContainerHint string `json:"container_hint,omitempty"`
	CI            bool   `json:"ci"`
	NoSandbox     string `json:"rod_no_sandbox"`
	BrowserBin    string `json:"rod_browser_bin"`
}

// systemInfo holds system check results.
type systemInfo struct {
	TempWritable  bool   `json:"temp_writable"`
	CacheDir      string `json:"cache_dir,omitempty"`
	CacheWritable bool   `json:"cache_writable"`
}

// runDoctorCmd executes the doctor command and returns an exit code.
// Exit codes: 0 = OK (including warnings), 1 = errors found, 2 = bad flags.
func runDoctorCmd(args []string, env *Environment) int {
	f := &doctorFlags{}
	fs := buildDoctorFlagSet(f)
	if err := parseArgs(fs, args, env.Stdout, printDoctorUsage); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		fmt.Fprintf(env.Stderr, "error: %v\n", err)
		return ExitUsage
	}

	result := runDoctor(f, env)

	if f.json {
		enc := json.NewEncoder(env.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	} else {
		printDoctorResult(env.Stdout, result)
	}

	if result.Status == "errors" {
		return ExitGeneral
	}
	return ExitSuccess
}

// runDoctor performs all diagnostic checks.
func runDoctor(f *doctorFlags, env *Environment) *doctorResult {
	result := &doctorResult{
		Status: "ready",
		Env: envInfo{
			OS:         runtime.GOOS,
			Arch:       runtime.GOARCH,
			NoSandbox:  env.Getenv("ROD_NO_SANDBOX"),
			BrowserBin: env.Getenv("ROD_BROWSER_BIN"),
		},
	}

	s, err := resolveSettings(commonFlags{config: f.config, quiet: true}, &f.renderer, "", env)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Configuration: %v", err))
		s = &settings{cfg: config.DefaultConfig(), getenv: env.Getenv}
	}
	result.Mode = strings.ToLower(s.cfg.Renderer.Mode)
	if result.Mode == "" {
		result.Mode = config.ModeOneShot
	}

	if result.Mode == config.ModeBrowser {
		checkMermaidJS(result, s.cfg)
	} else {
		checkRenderer(result, s)
	}
	checkChrome(result)
	checkEnvironment(result, env.Getenv)
	checkSystem(result, s.cfg)

	// Determine final status
	if len(result.Errors) > 0 {
		result.Status = "errors"
	} else if len(result.Warnings) > 0 {
		result.Status = "warnings"
	}

	return result
}

// checkRenderer locates the Mermaid CLI and asks for its version. Persistent
// mode needs an explicitly configured server instead.
func checkRenderer(result *doctorResult, s *settings) {
	if result.Mode == config.ModePersistent {
		path, err := renderer.ResolveServer(s.cfg.Renderer.Path, s.getenv)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Renderer server: %v", err))
			return
		}
		result.Renderer.Found = true
		result.Renderer.Path = path
		return
	}

	path, err := renderer.Resolve(s.cfg.Renderer.Path, s.getenv)
	if err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("Mermaid CLI: %v. Install @mermaid-js/mermaid-cli or set %s", err, renderer.EnvRenderer))
		return
	}
	result.Renderer.Found = true
	result.Renderer.Path = path

	version, err := commandVersion(path)
	if err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Could not get Mermaid CLI version: %v", err))
		return
	}
	result.Renderer.Version = version
}

// checkMermaidJS verifies the mermaid.js source used by browser mode.
func checkMermaidJS(result *doctorResult, cfg *config.Config) {
	src := cfg.Renderer.MermaidJS
	switch {
	case src == "":
		result.Errors = append(result.Errors,
			"Browser mode needs mermaid.js. Set --mermaid-js or MMD2SVG_MERMAID_JS")
	case fileutil.IsURL(src):
		result.Renderer.Found = true
		result.Renderer.MermaidJS = src
		result.Warnings = append(result.Warnings,
			"mermaid.js is loaded from a URL; rendering needs network access")
	case fileutil.FileExists(src):
		result.Renderer.Found = true
		result.Renderer.MermaidJS = src
	default:
		result.Errors = append(result.Errors,
			fmt.Sprintf("mermaid.js not found at %s", src))
	}
}

// checkChrome detects Chrome/Chromium. Only browser mode launches it
// directly; mmdc usually ships its own, so a miss is a warning otherwise.
func checkChrome(result *doctorResult) {
	report := func(msg string) {
		if result.Mode == config.ModeBrowser {
			result.Errors = append(result.Errors, msg)
		} else {
			result.Warnings = append(result.Warnings, msg)
		}
	}

	chromePath := result.Env.BrowserBin
	if chromePath == "" {
		// Use rod's launcher to locate Chrome
		var found bool
		chromePath, found = launcher.LookPath()
		if !found {
			report("Chrome/Chromium not found. Install Chrome or set ROD_BROWSER_BIN")
			return
		}
	}

	if _, err := os.Stat(chromePath); err != nil {
		report(fmt.Sprintf("Chrome not found at %s", chromePath))
		return
	}

	result.Chrome.Found = true
	result.Chrome.Path = chromePath
	if version, err := commandVersion(chromePath); err == nil {
		result.Chrome.Version = version
	} else {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Could not get Chrome version: %v", err))
	}

	// Sandbox status: disabled if ROD_NO_SANDBOX=1
	result.Chrome.Sandbox = result.Env.NoSandbox != "1"
}

// commandVersion runs "path --version" and returns its trimmed output.
func commandVersion(path string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), versionTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--version").Output() // #nosec G204 -- path is a resolved executable
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// checkEnvironment detects container and CI environments.
func checkEnvironment(result *doctorResult, getenv func(string) string) {
	result.Env.Container, result.Env.ContainerHint = isContainer(getenv)

	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "CIRCLECI"}
	for _, v := range ciVars {
		if getenv(v) != "" {
			result.Env.CI = true
			break
		}
	}

	// Warn if container/CI without sandbox disabled
	if (result.Env.Container || result.Env.CI) && result.Env.NoSandbox != "1" {
		result.Warnings = append(result.Warnings,
			"Container/CI detected but ROD_NO_SANDBOX not set. Set ROD_NO_SANDBOX=1")
	}
}

// isContainer detects if running in a container environment.
// Returns (isContainer, hint) where hint indicates which signal was detected.
func isContainer(getenv func(string) string) (bool, string) {
	// Explicit override (highest priority)
	if getenv("MMD2SVG_CONTAINER") == "1" {
		return true, "MMD2SVG_CONTAINER=1"
	}
	// Docker
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true, "/.dockerenv"
	}
	// Podman / systemd-nspawn / general container indicator
	if v := getenv("container"); v != "" {
		return true, "container=" + v
	}
	// Kubernetes
	if getenv("KUBERNETES_SERVICE_HOST") != "" {
		return true, "KUBERNETES_SERVICE_HOST"
	}
	return false, ""
}

// checkSystem verifies the temp directory, where renders run, and the
// render cache directory.
func checkSystem(result *doctorResult, cfg *config.Config) {
	if dirWritable(os.TempDir()) {
		result.System.TempWritable = true
	} else {
		result.Errors = append(result.Errors,
			fmt.Sprintf("Temp directory not writable: %s", os.TempDir()))
	}

	if !cfg.Cache.Enabled {
		return
	}
	dir := cfg.Cache.Dir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			result.Warnings = append(result.Warnings, "No user cache directory; render cache disabled")
			return
		}
		dir = filepath.Join(base, config.UserConfigDirName)
	}
	result.System.CacheDir = dir
	if err := os.MkdirAll(dir, 0o755); err == nil && dirWritable(dir) {
		result.System.CacheWritable = true
	} else {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Cache directory not writable: %s; render cache disabled", dir))
	}
}

// dirWritable reports whether a file can be created in dir.
func dirWritable(dir string) bool {
	f, err := os.CreateTemp(dir, "mmd2svg-doctor-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// printDoctorResult outputs human-readable diagnostic results.
func printDoctorResult(w io.Writer, r *doctorResult) {
	fmt.Fprintln(w, "mmd2svg doctor")
	fmt.Fprintln(w)

	// Renderer section
	fmt.Fprintf(w, "Renderer (%s)\n", r.Mode)
	switch {
	case r.Renderer.MermaidJS != "":
		fmt.Fprintf(w, "  [OK] mermaid.js: %s\n", r.Renderer.MermaidJS)
	case r.Renderer.Found:
		fmt.Fprintf(w, "  [OK] Found at %s\n", r.Renderer.Path)
		if r.Renderer.Version != "" {
			fmt.Fprintf(w, "  [OK] Version: %s\n", r.Renderer.Version)
		}
	default:
		fmt.Fprintln(w, "  [ERROR] Not found")
	}
	fmt.Fprintln(w)

	// Chrome section
	fmt.Fprintln(w, "Chrome/Chromium")
	if r.Chrome.Found {
		fmt.Fprintf(w, "  [OK] Found at %s\n", r.Chrome.Path)
		if r.Chrome.Version != "" {
			fmt.Fprintf(w, "  [OK] Version: %s\n", r.Chrome.Version)
		}
		if r.Chrome.Sandbox {
			fmt.Fprintln(w, "  [OK] Sandbox: enabled")
		} else {
			fmt.Fprintln(w, "  [OK] Sandbox: disabled (ROD_NO_SANDBOX=1)")
		}
	} else if r.Mode == config.ModeBrowser {
		fmt.Fprintln(w, "  [ERROR] Not found")
	} else {
		fmt.Fprintln(w, "  [WARN] Not found (mmdc may bundle its own)")
	}
	fmt.Fprintln(w)

	// Environment section
	fmt.Fprintln(w, "Environment")
	fmt.Fprintf(w, "  [OK] Platform: %s/%s\n", r.Env.OS, r.Env.Arch)
	if r.Env.Container {
		fmt.Fprintf(w, "  [OK] Container: detected (%s)\n", r.Env.ContainerHint)
	}
	if r.Env.CI {
		fmt.Fprintln(w, "  [OK] CI: detected")
	}
	fmt.Fprintln(w)

	// System section
	fmt.Fprintln(w, "System")
	if r.System.TempWritable {
		fmt.Fprintln(w, "  [OK] Temp directory: writable")
	} else {
		fmt.Fprintln(w, "  [ERROR] Temp directory: not writable")
	}
	if r.System.CacheWritable {
		fmt.Fprintf(w, "  [OK] Render cache: %s\n", r.System.CacheDir)
	}
	fmt.Fprintln(w)

	// Warnings
	if len(r.Warnings) > 0 {
		fmt.Fprintln(w, "Warnings:")
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "  [WARN] %s\n", warn)
		}
		fmt.Fprintln(w)
	}

	// Errors
	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "Errors:")
		for _, err := range r.Errors {
			fmt.Fprintf(w, "  [ERROR] %s\n", err)
		}
		fmt.Fprintln(w)
	}

	// Final status
	switch r.Status {
	case "ready":
		fmt.Fprintln(w, "Status: Ready to render")
	case "warnings":
		fmt.Fprintln(w, "Status: Ready with warnings")
	case "errors":
		fmt.Fprintln(w, "Status: Not ready (see errors above)")
	}
}
