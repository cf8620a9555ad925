// Command taxoctl is the offline companion to the tracking server. It
// generates the Postgres schema, renders structure workbooks from seed
// files, validates edited workbooks, and diffs two workbooks, all
// without a database connection.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"taxotrack/internal/core"
	"taxotrack/internal/sheet"
)

// version is stamped by the build; dev builds report "dev".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "taxoctl",
	Short: "Offline tooling for event tracking structures",
	Long: `taxoctl works on structure workbooks and seed files without a
database: generate the Postgres schema, render starter workbooks,
validate an edited workbook before uploading it, or diff two workbooks
to see what an upload would change.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openStructure reads a structure workbook from disk in either
// supported format. Errors carry the file's base name since commands
// take more than one file.
func openStructure(path string) (*core.HierarchicalSheet, *core.IssueList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	name := filepath.Base(path)
	wb, err := sheet.Open(f, name)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	hs, issues, err := sheet.ParseStructure(wb)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	return hs, issues, nil
}
