package host

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dshills/clangmux/internal/event"
)

// FolderWorkspace is a standalone Workspace over an explicit folder list.
// The CLI and tests use it in place of an embedding editor.
type FolderWorkspace struct {
	mu      sync.RWMutex
	folders []Folder
	changes *event.Emitter[FoldersChange]
}

// NewFolderWorkspace creates a workspace containing the given folder paths.
// Each path must exist and be a directory.
func NewFolderWorkspace(paths ...string) (*FolderWorkspace, error) {
	w := &FolderWorkspace{
		changes: event.NewEmitter[FoldersChange](),
	}
	for _, p := range paths {
		if err := w.AddFolder(p); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Folders returns the current workspace folders.
func (w *FolderWorkspace) Folders() []Folder {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Folder, len(w.folders))
	copy(out, w.folders)
	return out
}

// OnDidChangeFolders subscribes to folder set changes.
func (w *FolderWorkspace) OnDidChangeFolders(fn func(FoldersChange)) *event.Subscription {
	return w.changes.Subscribe(fn)
}

// AddFolder appends a folder and notifies subscribers.
func (w *FolderWorkspace) AddFolder(path string) error {
	folder, err := makeFolder(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	for _, existing := range w.folders {
		if existing.Path == folder.Path {
			w.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrFolderExists, folder.Path)
		}
	}
	w.folders = append(w.folders, folder)
	w.mu.Unlock()

	w.changes.Emit(FoldersChange{Added: []Folder{folder}})
	return nil
}

// RemoveFolder removes a folder and notifies subscribers.
func (w *FolderWorkspace) RemoveFolder(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	idx := -1
	for i, existing := range w.folders {
		if existing.Path == absPath {
			idx = i
			break
		}
	}
	if idx < 0 {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFolderNotFound, absPath)
	}
	removed := w.folders[idx]
	w.folders = append(w.folders[:idx], w.folders[idx+1:]...)
	w.mu.Unlock()

	w.changes.Emit(FoldersChange{Removed: []Folder{removed}})
	return nil
}

// Close cancels all folder-change subscriptions.
func (w *FolderWorkspace) Close() {
	w.changes.Close()
}

// makeFolder validates a path and builds its Folder record.
func makeFolder(path string) (Folder, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Folder{}, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return Folder{}, err
	}
	if !info.IsDir() {
		return Folder{}, fmt.Errorf("%w: %s", ErrNotDirectory, absPath)
	}
	return Folder{
		URI:  PathToURI(absPath),
		Path: absPath,
		Name: filepath.Base(absPath),
	}, nil
}

// Ensure FolderWorkspace implements Workspace.
var _ Workspace = (*FolderWorkspace)(nil)
