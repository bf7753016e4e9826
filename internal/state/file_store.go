package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FileStore persists the target mapping on disk as JSON, or YAML for .yaml/.yml paths.
type FileStore struct {
	path   string
	codec  codec
	logger zerolog.Logger
}

// NewFileStore returns a file-backed state store.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		codec:  codecFor(path),
		logger: logger,
	}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads state from disk. A missing file is created empty; unreadable or
// corrupt files are logged and yield an empty state. Only context errors are returned.
func (s *FileStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Str("path", s.path).Msg("targets file missing, creating empty file")
			empty := State{Targets: map[string]Target{}}
			if err := s.Save(ctx, empty); err != nil {
				s.logger.Error().Err(err).Str("path", s.path).Msg("failed to create targets file")
			}
			return empty, nil
		}
		s.logger.Error().Err(err).Str("path", s.path).Msg("failed to read targets file, starting empty")
		return State{Targets: map[string]Target{}}, nil
	}

	targets, err := s.codec.decode(data)
	if err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("targets file corrupt, starting empty")
		return State{Targets: map[string]Target{}}, nil
	}
	return State{Targets: targets}, nil
}

// Save writes state to disk atomically.
func (s *FileStore) Save(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state.Targets == nil {
		state.Targets = map[string]Target{}
	}

	payload, err := s.codec.encode(state.Targets)
	if err != nil {
		return fmt.Errorf("encode targets: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".targets-*"+filepath.Ext(s.path))
	if err != nil {
		return err
	}

	cleanup := func() {
		_ = os.Remove(tempFile.Name())
	}

	if _, err := tempFile.Write(payload); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Close(); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tempFile.Name(), s.path); err != nil {
		cleanup()
		return err
	}

	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}

	return nil
}
