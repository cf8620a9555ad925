package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"taxotrack/internal/core"
)

var diffCmd = &cobra.Command{
	Use:   "diff OLD NEW",
	Short: "Compare two structure workbooks",
	Long: `Compare two structure workbooks and report what uploading NEW would
change if OLD were the live structure. The comparison mirrors the
server's full-replace preview: inserts, field updates, deletes, and
detected renames with their confidence.`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)
}

func runDiff(cmd *cobra.Command, args []string) error {
	baseline, err := baselineSnapshot(args[0])
	if err != nil {
		return err
	}

	hs, convIssues, err := openStructure(args[1])
	if err != nil {
		return err
	}

	cs := core.BuildChangeSet(hs, baseline, core.BuildOptions{FullReplace: true})
	cs.Issues.Merge(convIssues)

	out := cmd.OutOrStdout()
	oldName, newName := filepath.Base(args[0]), filepath.Base(args[1])
	fmt.Fprintf(out, "comparing %s (%s) against %s (%s)\n",
		newName, fileSize(args[1]), oldName, fileSize(args[0]))

	printIssues(cmd, &cs.Issues)
	if cs.Issues.HasErrors() {
		return fmt.Errorf("%s has %d validation errors", newName, cs.Issues.ErrorCount())
	}
	if cs.Empty() {
		fmt.Fprintln(out, "no differences")
		return nil
	}

	printChanges(out, cs)
	fmt.Fprintf(out, "%d inserts, %d updates, %d deletes, %d renames\n",
		cs.Inserts(), cs.Updates(), cs.Deletes(), len(cs.Renames))
	return nil
}

// baselineSnapshot materializes the OLD workbook as the structure the
// NEW one is compared against. A workbook that cannot stand on its own
// is no baseline, so its problems are hard errors here.
func baselineSnapshot(path string) (*core.Snapshot, error) {
	hs, convIssues, err := openStructure(path)
	if err != nil {
		return nil, err
	}
	snap, issues := core.SnapshotFromSheet(hs)
	issues.Merge(convIssues)
	if issues.HasErrors() {
		return nil, fmt.Errorf("%s is not a valid baseline: %d errors, run validate for details",
			filepath.Base(path), issues.ErrorCount())
	}
	return snap, nil
}

func printChanges(out io.Writer, cs *core.ChangeSet) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	for _, r := range cs.Renames {
		fmt.Fprintf(out, "%s %s %q renamed to %q (%.0f%% match)\n",
			yellow("~"), r.Kind, r.OldName, r.NewName, r.Confidence*100)
	}
	for _, a := range cs.NewAreas {
		fmt.Fprintf(out, "%s area %q\n", green("+"), a.Name)
	}
	for _, c := range cs.NewCategories {
		fmt.Fprintf(out, "%s category %q\n", green("+"), c.Path)
	}
	for _, a := range cs.NewAttributes {
		fmt.Fprintf(out, "%s attribute %q on %q\n", green("+"), a.Name, a.CategoryPath)
	}
	printUpdates(out, yellow, "area", cs.UpdatedAreas)
	printUpdates(out, yellow, "category", cs.UpdatedCategories)
	printUpdates(out, yellow, "attribute", cs.UpdatedAttributes)
	printDeletes(out, red, "attribute", cs.DeletedAttributes)
	printDeletes(out, red, "category", cs.DeletedCategories)
	printDeletes(out, red, "area", cs.DeletedAreas)
}

func printUpdates(out io.Writer, paint func(a ...interface{}) string, kind string, updates []core.EntityUpdate) {
	for _, u := range updates {
		fields := make([]string, 0, len(u.Changes))
		for name := range u.Changes {
			fields = append(fields, name)
		}
		sort.Strings(fields)
		for _, name := range fields {
			ch := u.Changes[name]
			fmt.Fprintf(out, "%s %s %q %s: %q to %q\n", paint("~"), kind, u.Name, name, ch.Old, ch.New)
		}
	}
}

func printDeletes(out io.Writer, paint func(a ...interface{}) string, kind string, deletes []core.EntityDelete) {
	for _, d := range deletes {
		name := d.Name
		if d.Path != "" {
			name = d.Path
		}
		fmt.Fprintf(out, "%s %s %q\n", paint("-"), kind, name)
	}
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "unknown size"
	}
	return humanize.Bytes(uint64(info.Size()))
}
