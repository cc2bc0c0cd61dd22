// ABOUTME: version command and build metadata
// ABOUTME: Values can be overridden at build time via -ldflags
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harper/pencil-bridge/internal/domain/sample"
)

var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	BuildDate = ""
)

type versionPayload struct {
	Tool         string `json:"tool"`
	Version      string `json:"version"`
	RecordLayout int    `json:"record_layout"`
	GitCommit    string `json:"git_commit,omitempty"`
	BuildDate    string `json:"build_date,omitempty"`
}

var versionFormat string

func init() {
	versionCmd.Flags().StringVar(&versionFormat, "format", "pretty", "output format (pretty|json)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show build and record layout versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printVersion(cmd.OutOrStdout(), strings.ToLower(versionFormat))
	},
}

func printVersion(w io.Writer, format string) error {
	p := versionPayload{
		Tool:         "pencilbridge",
		Version:      Version,
		RecordLayout: sample.LayoutVersion,
		GitCommit:    GitCommit,
		BuildDate:    BuildDate,
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	case "pretty", "":
		fmt.Fprintf(w, "%s %s (record layout v%d)\n", labelColor.Sprint(p.Tool), p.Version, p.RecordLayout)
		if p.GitCommit != "" {
			fmt.Fprintf(w, "commit: %s\n", p.GitCommit)
		}
		if p.BuildDate != "" {
			fmt.Fprintf(w, "built:  %s\n", p.BuildDate)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
