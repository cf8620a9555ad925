package main

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"taxotrack/internal/core"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a structure workbook before uploading",
	Long: `Validate a structure workbook the way an upload would: row shape,
data types, nesting depth, duplicates, and references between rows.
The workbook is checked on its own, without a live structure behind
it, so every row counts as new.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	hs, convIssues, err := openStructure(args[0])
	if err != nil {
		return err
	}

	cs := core.BuildChangeSet(hs, core.NewSnapshot(nil, nil, nil), core.BuildOptions{})
	cs.Issues.Merge(convIssues)
	printIssues(cmd, &cs.Issues)

	name := filepath.Base(args[0])
	if cs.Issues.HasErrors() {
		return fmt.Errorf("%s has %d validation errors", name, cs.Issues.ErrorCount())
	}
	summary := fmt.Sprintf("%s is valid: %d areas, %d categories, %d attributes",
		name, len(cs.NewAreas), len(cs.NewCategories), len(cs.NewAttributes))
	if n := len(cs.Issues.Warnings()); n > 0 {
		summary += fmt.Sprintf(", %d warnings", n)
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary)
	return nil
}

// printIssues lists validation issues with severity tags.
func printIssues(cmd *cobra.Command, issues *core.IssueList) {
	if len(issues.Issues) == 0 {
		return
	}
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow, color.Bold).SprintFunc()

	out := cmd.OutOrStdout()
	for _, issue := range issues.Issues {
		tag := red("ERROR")
		if issue.Severity == core.SeverityWarning {
			tag = yellow("WARN")
		}
		switch {
		case issue.Row > 0 && issue.Column != "":
			fmt.Fprintf(out, "%s row %d, %s: %s\n", tag, issue.Row, issue.Column, issue.Message)
		case issue.Row > 0:
			fmt.Fprintf(out, "%s row %d: %s\n", tag, issue.Row, issue.Message)
		default:
			fmt.Fprintf(out, "%s %s\n", tag, issue.Message)
		}
	}
}
