package config

import (
	"fmt"

	"github.com/spf13/afero"

	"stever/internal/election"
)

// FileSource is the disk-backed implementation of election.Source: every
// Load re-reads the app config file from scratch, so edits to the
// validator section take effect on the controller's next tick without a
// restart, matching CmdRun's "configuration may be edited live" behavior
// (spec.md §7).
type FileSource struct {
	fs   afero.Fs
	path string
}

// NewFileSource builds a FileSource reading the app config file at path
// through fs.
func NewFileSource(fs afero.Fs, path string) *FileSource {
	return &FileSource{fs: fs, path: path}
}

// Load implements election.Source.
func (s *FileSource) Load() (*election.Config, error) {
	cfg, err := LoadAppConfig(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("config: reload %s: %w", s.path, err)
	}
	return cfg.Validator, nil
}

var _ election.Source = (*FileSource)(nil)
