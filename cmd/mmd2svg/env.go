package main

import (
	"io"
	"os"

	"github.com/alnah/go-mmd2svg"
)

// Environment holds injectable dependencies for testability.
// Includes I/O, the process environment and the renderer factory.
type Environment struct {
	Stdout  io.Writer
	Stderr  io.Writer
	Getenv  func(string) string
	Environ func() []string

	// NewRenderer builds the render backend from resolved settings.
	// Tests replace it to avoid spawning mmdc or Chrome.
	NewRenderer func(s *settings) (mmd2svg.Renderer, error)
}

// DefaultEnv returns the production environment.
func DefaultEnv() *Environment {
	return &Environment{
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Getenv:      os.Getenv,
		Environ:     os.Environ,
		NewRenderer: buildRenderer,
	}
}
