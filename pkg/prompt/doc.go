// Package prompt renders the system and user prompts registered for state
// paths.
//
// Prompt libraries are YAML documents:
//
//	prompts:
//	  Plan:
//	    system: "You are solving {{.task}}"
//	    user: "Write step {{.step_num}}"
//
// Templates use text/template with missingkey=error. A path without its own
// template for a role falls back to the nearest enclosing group, so
// "Route/Select" uses "Route" prompts unless it defines its own.
//
// A Library can be overlaid with every *.yaml file in a directory, and a
// Watcher reloads the overlay when those files change.
package prompt
