package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// fileRepo stores each session's cart as a JSON file under a directory. This
// is the default storage backend: it survives restarts without requiring any
// external service.
type fileRepo struct {
	dir    string
	logger zerolog.Logger
}

// NewFileRepo creates a file-backed Repository rooted at dir. The directory
// is created if missing.
func NewFileRepo(dir string, logger zerolog.Logger) (Repository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	return &fileRepo{
		dir:    dir,
		logger: logger.With().Str("component", "cart_file_repo").Logger(),
	}, nil
}

// path returns the file for a session. Session names are sanitized so a
// crafted subject cannot escape the storage directory.
func (r *fileRepo) path(session string) string {
	safe := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			return c
		}
		return '_'
	}, session)
	return filepath.Join(r.dir, "cart-"+safe+".json")
}

func (r *fileRepo) Load(_ context.Context, session string) (*Cart, error) {
	data, err := os.ReadFile(r.path(session))
	if os.IsNotExist(err) {
		return &Cart{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cart file: %w", err)
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		// Corrupt payload: purge and start over with an empty cart.
		r.logger.Warn().Str("session", session).Err(err).Msg("discarding corrupt cart file")
		_ = os.Remove(r.path(session))
		return &Cart{}, nil
	}
	return &Cart{Items: items}, nil
}

func (r *fileRepo) Save(_ context.Context, session string, c *Cart) error {
	data, err := json.Marshal(c.Items)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	// Write-then-rename keeps the stored cart whole even if the process dies
	// mid-write.
	tmp := r.path(session) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cart file: %w", err)
	}
	if err := os.Rename(tmp, r.path(session)); err != nil {
		return fmt.Errorf("rename cart file: %w", err)
	}
	return nil
}

func (r *fileRepo) Delete(_ context.Context, session string) error {
	err := os.Remove(r.path(session))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete cart file: %w", err)
	}
	return nil
}
