package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/alnah/go-mmd2svg/internal/document"
	"github.com/alnah/go-mmd2svg/internal/fileutil"
)

// Store reads and writes artifacts under a root directory.
//
// Every path is checked twice: lexically before the filesystem is touched,
// then again after symlinks on its deepest existing ancestor are resolved.
// Writers of the same artifact are serialized; disjoint artifacts proceed
// concurrently.
type Store struct {
	root  string // canonical: absolute, symlinks resolved
	given string // absolute form of the root as passed to New
	locks keyedMutex
}

// New returns a Store rooted at root, which must exist.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, ErrEmptyRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving artifact root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving artifact root: %w", err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("resolving artifact root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("artifact root %s is not a directory", root)
	}
	return &Store{root: canonical, given: abs}, nil
}

// Root returns the canonical root directory.
func (s *Store) Root() string {
	return s.root
}

// Plan returns the artifact for block index of the document at docPath,
// placed in dir. Nothing is written.
func (s *Store) Plan(docPath, dir string, index int, fingerprint string) (Artifact, error) {
	name := Name(Stem(docPath), index, fingerprint)
	svgPath, err := s.Resolve(filepath.Join(dir, name+SVGExt))
	if err != nil {
		return Artifact{}, err
	}
	sourcePath, err := s.Resolve(filepath.Join(dir, name+SourceExt))
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		SVGPath:     svgPath,
		SourcePath:  sourcePath,
		Fingerprint: fingerprint,
	}, nil
}

// Resolve returns the canonical form of path, or ErrPathTraversal when it
// lies outside the root. The lexical check runs first, so an escaping path
// never reaches the filesystem.
func (s *Store) Resolve(path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("%w: NUL byte in path", ErrPathTraversal)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPathTraversal, err)
	}
	if !fileutil.IsUnderDir(s.root, abs) && !fileutil.IsUnderDir(s.given, abs) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, path)
	}

	resolved, err := evalExisting(abs)
	if err != nil {
		return "", err
	}
	if !fileutil.IsUnderDir(s.root, resolved) {
		return "", fmt.Errorf("%w: %s resolves to %s", ErrPathTraversal, path, resolved)
	}
	return resolved, nil
}

// evalExisting resolves symlinks on the longest existing prefix of abs and
// appends the missing remainder unchanged.
func evalExisting(abs string) (string, error) {
	existing := abs
	var rest []string
	for {
		target, err := filepath.EvalSymlinks(existing)
		if err == nil {
			parts := append([]string{target}, rest...)
			return filepath.Join(parts...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("resolving %s: %w", abs, err)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", fmt.Errorf("%w: no existing ancestor of %s", ErrPathTraversal, abs)
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
}

// Write stores svg and source as the artifact pair. Both files are staged
// under temporary names and renamed into place, SVG first and sidecar last.
// If the second rename fails the first is undone, restoring any previous
// SVG, so the pair on disk is either entirely old or entirely new.
func (s *Store) Write(a Artifact, svg, source string) error {
	svgPath, sourcePath, err := s.resolvePair(a)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(sourcePath)
	defer unlock()

	dir := filepath.Dir(svgPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}
	if srcDir := filepath.Dir(sourcePath); srcDir != dir {
		if err := os.MkdirAll(srcDir, dirPerm); err != nil {
			return fmt.Errorf("creating artifact directory: %w", err)
		}
	}

	svgTmp, err := fileutil.StageFile(dir, []byte(svg), filePerm)
	if err != nil {
		return fmt.Errorf("staging %s: %w", filepath.Base(svgPath), err)
	}
	defer removeIfExists(svgTmp)

	sourceTmp, err := fileutil.StageFile(filepath.Dir(sourcePath), []byte(source), filePerm)
	if err != nil {
		return fmt.Errorf("staging %s: %w", filepath.Base(sourcePath), err)
	}
	defer removeIfExists(sourceTmp)

	backup, err := backupFile(svgPath)
	if err != nil {
		return err
	}
	if backup != "" {
		defer removeIfExists(backup)
	}

	if err := os.Rename(svgTmp, svgPath); err != nil {
		return fmt.Errorf("installing %s: %w", filepath.Base(svgPath), err)
	}
	if err := os.Rename(sourceTmp, sourcePath); err != nil {
		restore(svgPath, backup)
		return fmt.Errorf("installing %s: %w", filepath.Base(sourcePath), err)
	}

	fileutil.SyncDir(dir)
	return nil
}

// backupFile hard-links path to a scratch name so that it can be restored
// after being replaced. It returns "" when path does not exist.
func backupFile(path string) (string, error) {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	name, err := fileutil.TempName(filepath.Dir(path), ".bak")
	if err != nil {
		return "", err
	}
	if err := os.Link(path, name); err == nil {
		return name, nil
	}

	// Filesystems without hard links get a copy.
	data, err := os.ReadFile(path) // #nosec G304 -- path was resolved under the store root
	if err != nil {
		return "", fmt.Errorf("backing up %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(name, data, filePerm); err != nil {
		return "", fmt.Errorf("backing up %s: %w", filepath.Base(path), err)
	}
	return name, nil
}

// restore puts backup back at path, or removes path when there was nothing
// to back up.
func restore(path, backup string) {
	if backup == "" {
		_ = os.Remove(path)
		return
	}
	_ = os.Rename(backup, path)
}

// removeIfExists deletes a scratch file that may already have been renamed.
func removeIfExists(path string) {
	_ = os.Remove(path)
}

// Read loads the artifact whose sidecar is at sourcePath and returns it with
// the sidecar bytes. The SVG path is derived from the sidecar name. A path
// that is not named like a sidecar, before or after symlinks, is refused with
// ErrNotArtifact.
func (s *Store) Read(sourcePath string) (Artifact, string, error) {
	resolved, err := s.Resolve(sourcePath)
	if err != nil {
		return Artifact{}, "", err
	}
	if !Owned(sourcePath, SourceExt) || !Owned(resolved, SourceExt) {
		return Artifact{}, "", fmt.Errorf("%w: %s resolves to %s", ErrNotArtifact, sourcePath, resolved)
	}

	f, err := os.Open(resolved) // #nosec G304 -- resolved under the store root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Artifact{}, "", fmt.Errorf("%w: %s", ErrNotFound, sourcePath)
		}
		return Artifact{}, "", fmt.Errorf("opening sidecar: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, MaxSourceSize+1))
	if err != nil {
		return Artifact{}, "", fmt.Errorf("reading sidecar: %w", err)
	}
	if len(data) > MaxSourceSize {
		return Artifact{}, "", fmt.Errorf("%w: %s", ErrTooLarge, sourcePath)
	}

	source := string(data)
	a := Artifact{
		SVGPath:     SVGPathFor(resolved),
		SourcePath:  resolved,
		Fingerprint: document.Fingerprint(source),
	}
	return a, source, nil
}

// Remove deletes both files of the artifact. Each is first moved to a
// scratch name; if either move fails the other is moved back and nothing is
// deleted. Missing files are not an error. Files not named by Name are
// refused with ErrNotArtifact.
func (s *Store) Remove(a Artifact) error {
	svgPath, sourcePath, err := s.resolvePair(a)
	if err != nil {
		return err
	}
	if !Owned(svgPath, SVGExt) || !Owned(sourcePath, SourceExt) {
		return fmt.Errorf("%w: %s", ErrNotArtifact, a.SourcePath)
	}

	unlock := s.locks.Lock(sourcePath)
	defer unlock()

	type moved struct{ from, to string }
	var done []moved
	undo := func() {
		for i := len(done) - 1; i >= 0; i-- {
			_ = os.Rename(done[i].to, done[i].from)
		}
	}

	for _, p := range []string{svgPath, sourcePath} {
		if _, err := os.Lstat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		trash, err := fileutil.TempName(filepath.Dir(p), ".del")
		if err != nil {
			undo()
			return err
		}
		if err := os.Rename(p, trash); err != nil {
			undo()
			return fmt.Errorf("removing %s: %w", filepath.Base(p), err)
		}
		done = append(done, moved{from: p, to: trash})
	}

	for _, m := range done {
		_ = os.Remove(m.to)
	}
	fileutil.SyncDir(filepath.Dir(sourcePath))
	return nil
}

// Fresh reports whether the artifact's SVG exists and its sidecar holds
// exactly the source with the given fingerprint. Anything else is stale.
func (s *Store) Fresh(a Artifact, fingerprint string) bool {
	svgPath, _, err := s.resolvePair(a)
	if err != nil {
		return false
	}
	info, err := os.Stat(svgPath)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	_, source, err := s.Read(a.SourcePath)
	if err != nil {
		return false
	}
	return document.Fingerprint(source) == fingerprint
}

func (s *Store) resolvePair(a Artifact) (string, string, error) {
	if a.SVGPath == "" || a.SourcePath == "" || a.SVGPath == a.SourcePath {
		return "", "", ErrInvalidArtifact
	}
	svgPath, err := s.Resolve(a.SVGPath)
	if err != nil {
		return "", "", err
	}
	sourcePath, err := s.Resolve(a.SourcePath)
	if err != nil {
		return "", "", err
	}
	return svgPath, sourcePath, nil
}
