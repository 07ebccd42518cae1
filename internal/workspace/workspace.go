package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Prefix marks directories owned by the manager so Sweep never touches anything else.
const Prefix = "deck-upload-"

// Manager hands out per-upload scratch directories under a root.
type Manager struct {
	root string
}

// New creates a manager rooted at root (os.TempDir() when empty).
func New(root string) *Manager {
	if root == "" {
		root = os.TempDir()
	}
	return &Manager{root: root}
}

// Root returns the directory workspaces are created in.
func (m *Manager) Root() string { return m.root }

// Acquire creates a fresh, uniquely named workspace directory.
func (m *Manager) Acquire() (string, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return "", fmt.Errorf("create workspace root: %w", err)
	}
	// os.Mkdir fails on an existing path, so a name collision can never share a directory.
	for attempt := 0; attempt < 3; attempt++ {
		dir := filepath.Join(m.root, Prefix+uuid.NewString())
		err := os.Mkdir(dir, 0o700)
		if err == nil {
			log.Debug().Str("workspace", dir).Msg("workspace acquired")
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("create workspace: %w", err)
		}
	}
	return "", fmt.Errorf("create workspace: exhausted unique names")
}

// Release removes the workspace and everything below it. A workspace that is
// already gone counts as released.
func (m *Manager) Release(dir string) error {
	if dir == "" {
		return nil
	}
	if !m.owns(dir) {
		return fmt.Errorf("refusing to release %q: not a workspace under %q", dir, m.root)
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove workspace: %w", err)
	}
	log.Debug().Str("workspace", dir).Msg("workspace released")
	return nil
}

// Sweep removes workspaces older than maxAge, left behind by a crashed process.
// It returns the number of directories removed.
func (m *Manager) Sweep(maxAge time.Duration) int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0
	}
	now := time.Now()
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), Prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Str("root", m.root).Msg("swept stale workspaces")
	}
	return removed
}

func (m *Manager) owns(dir string) bool {
	rel, err := filepath.Rel(m.root, filepath.Clean(dir))
	if err != nil {
		return false
	}
	return !strings.Contains(rel, string(filepath.Separator)) && strings.HasPrefix(rel, Prefix)
}
