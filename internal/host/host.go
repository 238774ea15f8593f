package host

import (
	"context"
	"io"

	"github.com/dshills/clangmux/internal/event"
)

// Folder is a top-level workspace folder.
type Folder struct {
	// URI is the file:// URI of the folder root.
	URI string

	// Path is the native filesystem path of the folder root.
	Path string

	// Name is the display name, typically the base name of Path.
	Name string
}

// FoldersChange describes a change to the workspace folder set.
type FoldersChange struct {
	Added   []Folder
	Removed []Folder
}

// Workspace exposes the editor's top-level workspace folders.
type Workspace interface {
	// Folders returns the current workspace folders.
	Folders() []Folder

	// OnDidChangeFolders subscribes to folder set changes.
	OnDidChangeFolders(fn func(FoldersChange)) *event.Subscription
}

// Document is an open text document.
type Document struct {
	// URI is the file:// URI of the document.
	URI string

	// Path is the native filesystem path of the document.
	Path string

	// LanguageID is the editor-assigned language identifier, such as
	// "cpp" or "c". Empty when the host does not classify documents.
	LanguageID string
}

// Documents exposes the editor's open documents and their lifecycle events.
type Documents interface {
	// Open returns all currently open documents.
	Open() []Document

	// Active returns the document with editor focus, if any.
	Active() (Document, bool)

	// OnDidOpen subscribes to document-open events.
	OnDidOpen(fn func(Document)) *event.Subscription

	// OnDidClose subscribes to document-close events.
	OnDidClose(fn func(Document)) *event.Subscription

	// OnDidChangeActive subscribes to focus changes.
	OnDidChangeActive(fn func(Document)) *event.Subscription
}

// WatchOp identifies a filesystem watch event kind.
type WatchOp int

const (
	// WatchOpCreate indicates a matching path was created.
	WatchOpCreate WatchOp = iota + 1

	// WatchOpDelete indicates a matching path was removed or renamed away.
	WatchOpDelete
)

// String returns a human-readable operation name.
func (op WatchOp) String() string {
	switch op {
	case WatchOpCreate:
		return "create"
	case WatchOpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// WatchEvent is a create or delete notification for a path matching a
// watcher's pattern.
type WatchEvent struct {
	Path string
	Op   WatchOp
}

// Watcher delivers create/delete events for paths matching a glob pattern.
// Duplicate notifications are possible when a directory appears while its
// parent is being scanned; consumers must deduplicate.
type Watcher interface {
	// Events returns the event channel. It is closed when the watcher closes.
	Events() <-chan WatchEvent

	// Close stops the watcher and releases its resources. Idempotent.
	Close() error
}

// WatcherFactory creates glob-keyed filesystem watchers.
type WatcherFactory interface {
	// Watch watches the tree rooted at root for create/delete of paths
	// whose root-relative slash path matches pattern.
	Watch(root, pattern string) (Watcher, error)
}

// CommandRestart is the command id that restarts every client session.
const CommandRestart = "clangd.restart"

// CommandHandler executes a named command.
type CommandHandler func(ctx context.Context, args ...any) (any, error)

// Commands is the editor's command facility.
type Commands interface {
	// Register binds a handler to a command id.
	Register(id string, handler CommandHandler) error

	// Unregister removes a command binding.
	Unregister(id string) error

	// Execute runs a registered command.
	Execute(ctx context.Context, id string, args ...any) (any, error)
}

// UI is the editor's user-facing surface.
type UI interface {
	// Info shows an informational message.
	Info(msg string)

	// Warn shows a warning message.
	Warn(msg string)

	// Error shows an error message.
	Error(msg string)

	// SetStatus updates the persistent status text. An empty string
	// clears it.
	SetStatus(text string)

	// OutputSink returns a named sink for streamed output, such as a
	// language server's log channel. The caller owns the sink and must
	// close it.
	OutputSink(name string) io.WriteCloser
}
