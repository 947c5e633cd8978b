package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	wherrors "github.com/matzehuels/wheelhouse/pkg/errors"
	"github.com/matzehuels/wheelhouse/pkg/render"
	"github.com/matzehuels/wheelhouse/pkg/report"
)

// graphOpts holds the command-line flags for the graph command.
type graphOpts struct {
	output string // output file; format inferred from its extension
	format string // dot or svg, overriding the extension
}

// newGraphCmd creates the graph command, which renders a resolution
// document produced by "wheelhouse resolve -o" as a node-link diagram.
func newGraphCmd() *cobra.Command {
	opts := graphOpts{}

	cmd := &cobra.Command{
		Use:   "graph <resolution.json>",
		Short: "Render a resolution result as a dependency diagram",
		Long: `Render the dependency graph of a resolution document as Graphviz DOT
or SVG.

Examples:
  wheelhouse resolve "flask==2.1.2" -o result.json
  wheelhouse graph result.json -o deps.svg
  wheelhouse graph result.json --format dot`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runGraph(c, &opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (stdout if empty)")
	cmd.Flags().StringVar(&opts.format, "format", "", "output format: dot or svg (default from extension, else dot)")

	return cmd
}

func runGraph(cmd *cobra.Command, opts *graphOpts, input string) error {
	logger := loggerFromContext(cmd.Context())

	if err := wherrors.ValidateInputFile(input); err != nil {
		return err
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	var doc report.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return wherrors.Wrap(wherrors.ErrCodeInvalidInput, err, "parse %s", input)
	}
	if len(doc.Packages) == 0 {
		return wherrors.New(wherrors.ErrCodeInvalidInput, "%s contains no resolved packages", input)
	}

	format := opts.format
	if format == "" {
		if strings.EqualFold(filepath.Ext(opts.output), ".svg") {
			format = "svg"
		} else {
			format = "dot"
		}
	}

	dot := render.ToDOT(doc.Packages)
	var payload []byte
	switch format {
	case "dot":
		payload = []byte(dot)
	case "svg":
		prog := newProgress(logger)
		payload, err = render.RenderSVG(dot)
		if err != nil {
			return fmt.Errorf("render svg: %w", err)
		}
		prog.done(fmt.Sprintf("Rendered %d packages", len(doc.Packages)))
	default:
		return wherrors.New(wherrors.ErrCodeInvalidInput, "unknown format %q (want dot or svg)", format)
	}

	out, err := openOutput(opts.output)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := out.Write(payload); err != nil {
		return err
	}
	if opts.output != "" {
		printSuccess("Wrote %s graph", format)
		printFile(opts.output)
	}
	return nil
}
