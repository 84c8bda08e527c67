// Package assets provides the stylesheets and page template for HTML previews.
//
// # Loader Architecture
//
//	AssetLoader (interface)
//	    │
//	    ├── EmbeddedLoader    - built-in styles and the page template (go:embed)
//	    ├── FilesystemLoader  - user assets from a directory on disk
//	    └── AssetResolver     - custom first, embedded as fallback
//
// # Directory Structure
//
//	{basePath}/
//	├── styles/
//	│   └── {name}.css     # e.g. default.css, dark.css
//	└── templates/
//	    └── {name}.html    # e.g. page.html
//
// # Security
//
// Asset names are validated to prevent path traversal. FilesystemLoader
// resolves symlinks and verifies that paths stay within basePath.
package assets
