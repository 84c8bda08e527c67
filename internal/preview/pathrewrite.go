package preview

import (
	"net/url"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/alnah/go-mmd2svg/internal/fileutil"
)

// RewriteRelativePaths converts relative img[src] and a[href] paths in an
// HTML fragment to absolute file:// URLs under sourceDir, so the preview
// shows rendered diagrams and local images wherever the page is opened.
// With an empty sourceDir the fragment is returned unchanged.
//
// URLs, anchors and absolute paths are left alone, and so is any path that
// would leave sourceDir.
func RewriteRelativePaths(fragment, sourceDir string) (string, error) {
	if sourceDir == "" {
		return fragment, nil
	}

	absSourceDir, err := filepath.Abs(sourceDir)
	if err != nil {
		return "", err
	}

	body := &html.Node{Type: html.ElementNode, DataAtom: atom.Body, Data: "body"}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	for _, n := range nodes {
		rewriteNode(n, absSourceDir)
		if err := html.Render(&buf, n); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// rewriteNode walks the tree and rewrites path attributes.
func rewriteNode(n *html.Node, sourceDir string) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Img:
			rewriteAttr(n, "src", sourceDir)
		case atom.A:
			rewriteAttr(n, "href", sourceDir)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		rewriteNode(c, sourceDir)
	}
}

func rewriteAttr(n *html.Node, key, sourceDir string) {
	for i, attr := range n.Attr {
		if attr.Key != key || !isRelativePath(attr.Val) {
			continue
		}

		// Query strings and fragments stay on the URL, not the file name.
		p, suffix := attr.Val, ""
		if idx := strings.IndexAny(p, "?#"); idx >= 0 {
			p, suffix = p[:idx], p[idx:]
		}
		if unescaped, err := url.PathUnescape(p); err == nil {
			p = unescaped
		}

		absPath := filepath.Join(sourceDir, filepath.FromSlash(p))
		if !fileutil.IsUnderDir(sourceDir, absPath) {
			continue
		}
		n.Attr[i].Val = pathToFileURL(absPath) + suffix
	}
}

// isRelativePath reports whether a path should be rewritten.
func isRelativePath(p string) bool {
	if p == "" || strings.HasPrefix(p, "#") || strings.HasPrefix(p, "//") {
		return false
	}
	if u, err := url.Parse(p); err == nil && u.Scheme != "" {
		// Windows drive letters parse as one-letter schemes.
		if len(u.Scheme) > 1 {
			return false
		}
	}
	return !filepath.IsAbs(p) && !strings.HasPrefix(p, "/")
}

// pathToFileURL converts an absolute path to a file:// URL.
func pathToFileURL(absPath string) string {
	p := filepath.ToSlash(absPath)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p // C:/dir -> /C:/dir
	}
	u := url.URL{Scheme: "file", Path: p}
	return u.String()
}
