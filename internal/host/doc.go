// Package host defines the boundary between the routing engine and the
// editor that embeds it.
//
// # Overview
//
// The engine never talks to an editor directly. It consumes the narrow
// collaborator interfaces declared here:
//
//   - Workspace: the set of top-level workspace folders and change events
//   - Documents: open/close/active-document events and enumeration
//   - WatcherFactory: glob-keyed filesystem create/delete watching
//   - Commands: command registration and execution
//   - UI: user-facing messages, status text, and named output sinks
//
// # Implementations
//
// The package ships standalone implementations backed by the local
// filesystem and process memory: GlobWatcher (fsnotify), FolderWorkspace,
// DocumentSet, CommandRegistry, and ConsoleUI. An embedding editor
// substitutes its own implementations; the standalone ones serve the CLI
// and tests.
//
// # Paths and URIs
//
// Folders and documents carry both a native path and a file:// URI.
// PathToURI and URIToPath convert between the two forms.
package host
