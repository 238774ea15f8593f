// Package project implements project discovery and resolution.
//
// # Overview
//
// A Project is a logical, independently-indexed unit of source code with a
// stable identity and a root location. Resolution strategies own live
// project lists and map file locations to projects:
//
//   - FolderStrategy: one project per top-level workspace folder
//   - BuildDirStrategy: one project per build directory holding a
//     compilation database
//   - external strategies registered through the plugin system
//
// The Service owns the strategy registry, the single active strategy, the
// current project (the project of the most recently focused document), and
// a readiness gate for externally-declared strategies. It re-exposes the
// active strategy's change stream and emits current-project changes.
//
// # Identity
//
// Two Projects are the same project iff their IDs are equal. The ID is the
// canonical trailing-slash-normalized form of the root URI, so an entity
// constructed twice for the same root compares equal. Nothing in this
// package compares projects structurally or by pointer.
//
// # Readiness
//
// Plugins may declare strategy ids before their code runs. Resolve blocks
// until every declared id has registered or its declaring plugin failed to
// activate, so no resolution ever observes a partially-registered strategy
// set.
package project
