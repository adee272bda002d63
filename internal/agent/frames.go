// internal/agent/frames.go
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirFrameSink writes redacted frames to <dir>/<call_id>.png.
type DirFrameSink struct {
	dir string
}

// NewDirFrameSink creates dir if needed.
func NewDirFrameSink(dir string) (*DirFrameSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory %s: %w", dir, err)
	}
	return &DirFrameSink{dir: dir}, nil
}

func (s *DirFrameSink) WriteFrame(callID string, frame []byte) error {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, callID)
	if name == "" || name == "." || name == ".." {
		name = "frame"
	}
	return os.WriteFile(filepath.Join(s.dir, name+".png"), frame, 0o644)
}
