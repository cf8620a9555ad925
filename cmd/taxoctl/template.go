package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"taxotrack/internal/core"
	"taxotrack/internal/seed"
	"taxotrack/internal/sheet"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Render a structure workbook from a seed file",
	Long: `Render a structure workbook. Without --seed the built-in starter
structure is used. The template format is the three-sheet workbook
backups use; the hierarchical format is the single-sheet view that
structure uploads expect.`,
	Args: cobra.NoArgs,
	RunE: runTemplate,
}

var (
	templateSeedPath string
	templateFormat   string
	templateOut      string
)

func init() {
	rootCmd.AddCommand(templateCmd)

	templateCmd.Flags().StringVar(&templateSeedPath, "seed", "", "Seed YAML file (default: built-in starter)")
	templateCmd.Flags().StringVar(&templateFormat, "format", string(core.FormatTemplate), "Workbook format: template or hierarchical")
	templateCmd.Flags().StringVarP(&templateOut, "out", "o", "structure_template.xlsx", "Output file")
}

func runTemplate(cmd *cobra.Command, args []string) error {
	file := seed.Starter()
	if templateSeedPath != "" {
		var err error
		file, err = seed.ParseFile(templateSeedPath)
		if err != nil {
			return err
		}
	}
	snap, err := file.Snapshot()
	if err != nil {
		return err
	}

	var f *excelize.File
	switch core.SheetFormat(templateFormat) {
	case core.FormatTemplate:
		f, err = sheet.WriteTemplate(snap)
	case core.FormatHierarchical:
		f, err = sheet.WriteHierarchical(snap)
	default:
		return fmt.Errorf("unknown format %q (want template or hierarchical)", templateFormat)
	}
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(templateOut); err != nil {
		return err
	}
	info, err := os.Stat(templateOut)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d areas)\n",
		templateOut, humanize.Bytes(uint64(info.Size())), len(snap.Areas))
	return nil
}
