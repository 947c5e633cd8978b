// Package cli implements the wheelhouse command-line interface.
//
// This package provides commands for resolving Python package
// requirements against one or more package indexes, rendering the
// resolved dependency graph, managing the on-disk caches, and serving
// the resolver over HTTP. The CLI is built using cobra and supports
// verbose logging via the charmbracelet/log library.
//
// # Commands
//
// The main commands are:
//   - resolve: Resolve requirements to a pinned dependency set
//   - graph: Render a resolution result as DOT or SVG
//   - cache: Manage the artifact and HTTP response caches
//   - serve: Expose the resolver as a small HTTP API
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging. Loggers
// are passed through context.Context to allow structured progress
// tracking.
//
// # Example
//
//	import "github.com/matzehuels/wheelhouse/internal/cli"
//
//	func main() {
//	    if err := cli.Execute(); err != nil {
//	        os.Exit(1)
//	    }
//	}
package cli
