package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/0xcro3dile/edenchat/internal/adapters/prompts"
	httpserver "github.com/0xcro3dile/edenchat/internal/infrastructure/http"
)

func newExtractCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract [file|-]",
		Short: "Print the deliverable and code artifacts found in a model response",
		Long: `Runs the deliverable and artifact extractors over a saved model response
and prints what they find as JSON. Reads stdin when no file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			text, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(httpserver.Extract(string(text)))
		},
	}
}

func newLevelsCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "levels",
		Short: "Print the level catalogue in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lib, err := prompts.NewLibrary(a.cfg.PromptsDir, a.log)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(lib.Levels())
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(lib.Levels())
			default:
				return fmt.Errorf("unknown format %q (want yaml or json)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "yaml or json")
	return cmd
}
