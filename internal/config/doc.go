// Package config holds the engine's settings and their change lifecycle.
//
// # Overview
//
// Settings are loaded from a TOML file into a typed snapshot. A Store
// guards the current snapshot, hands out copies, and notifies subscribers
// when a reload or programmatic update changes it. The multi-project
// switches (enabled flag, active strategy id) live here; components that
// must react to them subscribe to the store rather than polling.
//
// # File format
//
//	[multiproject]
//	enabled = true
//	strategy = "workspace-folder"
//	status-indicator = true
//
//	[client]
//	command = "clangd"
//	arguments = ["--background-index"]
//	max-restarts = 4
//
//	[client.init-options]
//	fallbackFlags = ["-std=c++20"]
//
//	[plugins]
//	enabled = true
//	dir = "~/.config/clangmux/plugins"
//
// A missing file yields the defaults; a malformed file is an error.
package config
