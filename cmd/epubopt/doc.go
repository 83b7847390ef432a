// Package main hosts the epubopt CLI entrypoint and command graph.
//
// The root command rewrites the EPUB archives named on the command line;
// subcommands inspect optimizer availability, scaffold configuration, show
// the run history, and sweep stale workspaces. Configuration resolution and
// logger setup are centralized in commandContext so commands stay thin.
package main
