// Package workspace manages the temporary files operations leave behind per media package.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/mediaflow/pkg/protocol"
)

// ErrInvalidMediaPackageID indicates an identifier that would escape the workspace root.
var ErrInvalidMediaPackageID = errors.New("invalid media package id")

// Workspace stores artifacts under root/<media package id>.
type Workspace struct {
	root   string
	logger *slog.Logger
}

var _ protocol.Workspace = (*Workspace)(nil)

func New(logger *slog.Logger, root string) (*Workspace, error) {
	err := os.MkdirAll(root, 0o750)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace %s: %w", root, err)
	}

	return &Workspace{root: root, logger: logger.With("module", "workspace")}, nil
}

// Path returns the directory of the media package.
func (w *Workspace) Path(mediaPackageID string) (string, error) {
	if mediaPackageID == "" || strings.ContainsAny(mediaPackageID, `/\`) || mediaPackageID == "." || mediaPackageID == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidMediaPackageID, mediaPackageID)
	}

	return filepath.Join(w.root, mediaPackageID), nil
}

// CleanupMediaPackage removes every artifact of the media package. Missing directories are not an error.
func (w *Workspace) CleanupMediaPackage(ctx context.Context, mediaPackageID string) error {
	dir, err := w.Path(mediaPackageID)
	if err != nil {
		return err
	}

	err = os.RemoveAll(dir)
	if err != nil {
		return fmt.Errorf("failed to clean up workspace of %s: %w", mediaPackageID, err)
	}

	w.logger.DebugContext(ctx, "Workspace cleaned up", "mediapackage_id", mediaPackageID)

	return nil
}
