// Package plugin loads third-party project-resolution strategies from
// Lua plugins.
//
// A plugin is a directory holding a plugin.json manifest and a Lua entry
// point. The manifest declares the strategy ids the plugin will provide;
// the declarations are handed to the project service before any plugin
// code runs, so resolution blocks until every declared strategy has
// registered or its plugin has failed to activate.
//
// # Plugin Structure
//
//	~/.config/clangmux/plugins/cmake-presets/
//	├── plugin.json
//	└── init.lua
//
// # Manifest
//
//	{
//	  "name": "cmake-presets",
//	  "version": "1.0.0",
//	  "description": "One project per configured CMake preset",
//	  "main": "init.lua",
//	  "projectStrategies": ["cmake-preset"]
//	}
//
// The projectStrategies field is probed duck-typed: a string or an array
// of strings declares ids, anything else counts as no declaration.
//
// # Entry Point
//
// The entry point runs in a restricted Lua state without the io, os,
// debug, and package libraries. Its activate function returns one
// strategy descriptor or an array of them:
//
//	function activate()
//	    return {
//	        {
//	            id = "cmake-preset",
//	            projects = function()
//	                return {
//	                    { root = "/work/app", name = "app" },
//	                    "/work/lib",
//	                }
//	            end,
//	            resolve = function(uri)
//	                -- optional; omitted descriptors fall back to
//	                -- root-prefix matching over projects()
//	            end,
//	        },
//	    }
//	end
//
//	function deactivate()
//	    -- optional cleanup
//	end
//
// Each descriptor becomes a resolution strategy registered with the
// project service under its id. A plugin can report membership changes
// through the injected clangmux table:
//
//	clangmux.notify_projects_changed("cmake-preset")
//	clangmux.log("rescanned presets")
package plugin
