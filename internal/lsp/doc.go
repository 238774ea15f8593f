// Package lsp routes open documents to per-project language server
// sessions and owns the lifecycle of those sessions.
//
// # Architecture
//
// The package is organized around three layers:
//
//   - Client is one language server session. ProcessClient is the
//     shipped implementation: it launches the server executable and
//     speaks the base protocol (initialize handshake, document sync
//     notifications, workspace commands) over its standard streams.
//     Tests install fakes through the Factory interface.
//
//   - Supervisor wraps one client with a capped crash-restart policy.
//     Crashes are retried with exponential backoff until the cap is
//     reached, after which the session is failed until it is rebuilt
//     by a restart command. Attached documents are re-opened on the
//     replacement client after a successful recovery.
//
//   - Manager is the routing layer. It resolves every opened document
//     through the project service and maintains a registry of live
//     sessions keyed by project id, with a reserved fallback key for
//     documents that resolve to no project. The registry invariant is
//     that at most one live session exists per key, and every routed
//     document is served by exactly one session.
//
// # Unmatched documents
//
// Documents that resolve to no project are tracked in an unmatched set
// and served by the session of the "active" project: the pinned
// override if one is set, else the service's current project, else the
// dedicated fallback session scoped to the whole workspace. When the
// active project changes, the unmatched set migrates to the new owner
// on the next document event; the previous owner is disposed or
// rebuilt without the extra documents.
//
// # Restarts
//
// The manager registers the session-restart command with the host
// command facility. Executing it tears down every session and re-routes
// all open documents from scratch, which also resets crash counters.
// Configuration changes that alter partitioning semantics trigger the
// same command.
package lsp
