// internal/store/file.go
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-cua/api/schemas"
)

// FileStore writes each session to <dir>/<key>.json.
type FileStore struct {
	dir string
	log *zap.Logger
}

var _ SessionStore = (*FileStore)(nil)

// NewFileStore creates a store rooted at dir. The directory is created on
// first save.
func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	if dir == "" {
		dir = "saved_conv"
	}
	return &FileStore{dir: dir, log: logger.Named("store")}
}

// Save writes the state atomically and returns the file path.
func (s *FileStore) Save(_ context.Context, state schemas.SessionState) (string, error) {
	if state.ConversationItems == nil {
		state.ConversationItems = []schemas.Item{}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	path := filepath.Join(s.dir, state.Key()+".json")
	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to flush session: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move session into place: %w", err)
	}

	s.log.Info("Session saved.", zap.String("path", path), zap.Int("items", len(state.ConversationItems)))
	return path, nil
}

// Load reads a session from a file path, or from <dir>/<ref>.json when ref
// is a bare key.
func (s *FileStore) Load(_ context.Context, ref string) (schemas.SessionState, error) {
	var state schemas.SessionState

	path := ref
	if !strings.HasSuffix(ref, ".json") && !strings.ContainsRune(ref, os.PathSeparator) {
		path = filepath.Join(s.dir, ref+".json")
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return state, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return state, fmt.Errorf("failed to read session %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("failed to decode session %s: %w", path, err)
	}
	return state, nil
}
