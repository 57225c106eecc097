package commands

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/talocan/hharvest/store"
	"github.com/talocan/hharvest/sym"
)

// ExportCmd writes collected vacancies to a CSV file. Three column
// projections cover the common uses; filters narrow the row set before
// anything is written.
var ExportCmd = &cobra.Command{
	Use:   "export OUTPUT",
	Short: sym.DB + " Export vacancies to CSV",
	Long: sym.DB + ` Export collected vacancies to a CSV file.

Formats select a column projection (see --show-formats). Rows are
exported newest-first; filters narrow the set before counting.

Example:
  hharvest export vacancies.csv
  hharvest export golang.csv --format analytical --min-salary 200000
  hharvest export recent.csv --date-from 2026-08-01 --limit 1000
  hharvest export --show-formats`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

var (
	exportFormatFlag      string
	exportLimitFlag       int
	exportDateFromFlag    string
	exportMinSalaryFlag   int
	exportAreaFlag        string
	exportDescriptionFlag bool
	exportShowFormatsFlag bool
)

func init() {
	ExportCmd.Flags().StringVarP(&exportFormatFlag, "format", "f", "brief", "Column projection: brief, full or analytical")
	ExportCmd.Flags().IntVarP(&exportLimitFlag, "limit", "l", 0, "Maximum rows to export (0 = all)")
	ExportCmd.Flags().StringVar(&exportDateFromFlag, "date-from", "", "Only rows collected on or after this date (YYYY-MM-DD)")
	ExportCmd.Flags().IntVar(&exportMinSalaryFlag, "min-salary", 0, "Only rows with salary_from at or above this amount")
	ExportCmd.Flags().StringVar(&exportAreaFlag, "area", "", "Only rows whose area contains this substring")
	ExportCmd.Flags().BoolVar(&exportDescriptionFlag, "include-description", false, "Append the description column if the format lacks it")
	ExportCmd.Flags().BoolVar(&exportShowFormatsFlag, "show-formats", false, "List formats and their columns, then exit")
}

// exportFormats maps a format name to its column projection. Column
// names double as CSV headers.
var exportFormats = map[string][]string{
	"brief": {"title", "company", "salary_from", "salary_to", "currency",
		"experience", "area", "published_at", "url", "filter_id"},
	"full": {"id", "hh_id", "title", "company", "employer_id", "salary_from",
		"salary_to", "currency", "experience", "schedule", "employment", "area",
		"key_skills", "published_at", "url", "filter_id", "content_hash",
		"created_at", "updated_at"},
	"analytical": {"title", "company", "salary_from", "salary_to", "currency",
		"experience", "area", "employment", "schedule", "description",
		"filter_id", "published_at", "url"},
}

var exportFormatOrder = []string{"brief", "full", "analytical"}

var exportFormatHints = map[string]string{
	"brief":      "essentials for a quick scan",
	"full":       "every stored column",
	"analytical": "salary and market analysis fields, description included",
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportShowFormatsFlag {
		printExportFormats()
		return nil
	}
	if len(args) != 1 {
		return fmt.Errorf("output file required (or use --show-formats)")
	}
	outputPath := args[0]

	columns, ok := exportFormats[exportFormatFlag]
	if !ok {
		return fmt.Errorf("unknown format %q (use %s)", exportFormatFlag,
			strings.Join(exportFormatOrder, ", "))
	}
	// Copy before appending: the projection tables are shared.
	columns = append([]string(nil), columns...)
	if exportDescriptionFlag && !containsColumn(columns, "description") {
		columns = append(columns, "description")
	}

	var filter store.ExportFilter
	if exportDateFromFlag != "" {
		t, err := time.Parse("2006-01-02", exportDateFromFlag)
		if err != nil {
			return fmt.Errorf("invalid --date-from %q (want YYYY-MM-DD)", exportDateFromFlag)
		}
		ts := float64(t.Unix())
		filter.CreatedFrom = &ts
	}
	if exportMinSalaryFlag > 0 {
		filter.MinSalary = &exportMinSalaryFlag
	}
	filter.Area = exportAreaFlag
	filter.Limit = exportLimitFlag

	st, err := openStore("")
	if err != nil {
		return err
	}
	defer st.Close()

	total, err := st.CountVacanciesForExport(filter)
	if err != nil {
		return err
	}
	if total == 0 {
		fmt.Println("No vacancies match the export filters, nothing to do")
		return nil
	}
	willExport := total
	if filter.Limit > 0 && filter.Limit < total {
		willExport = filter.Limit
	}
	fmt.Printf("%s Found %d vacancies, exporting %d (%s format)\n",
		sym.DB, total, willExport, exportFormatFlag)

	start := time.Now()
	rows, err := st.VacanciesForExport(filter)
	if err != nil {
		return err
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outputPath, err)
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	record := make([]string, len(columns))
	for i := range rows {
		for j, col := range columns {
			record[j] = vacancyField(&rows[i], col)
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}

	var sizeMB float64
	if info, err := os.Stat(outputPath); err == nil {
		sizeMB = float64(info.Size()) / (1024 * 1024)
	}

	fmt.Printf("\n%s Export complete\n", sym.DB)
	fmt.Printf("  File:    %s\n", outputPath)
	fmt.Printf("  Records: %d\n", len(rows))
	fmt.Printf("  Size:    %.2f MB\n", sizeMB)
	fmt.Printf("  Took:    %.1fs\n", time.Since(start).Seconds())
	return nil
}

func printExportFormats() {
	fmt.Println("Available export formats:")
	for _, name := range exportFormatOrder {
		fmt.Printf("\n  %s: %s\n", name, exportFormatHints[name])
		fmt.Printf("    %s\n", strings.Join(exportFormats[name], ", "))
	}
}

func containsColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

// vacancyField renders one column of a vacancy for CSV output.
// Timestamps become human-readable datetimes; nil salaries and
// timestamps become empty cells.
func vacancyField(v *store.Vacancy, column string) string {
	switch column {
	case "id":
		return strconv.FormatInt(v.ID, 10)
	case "hh_id":
		return v.HHID
	case "title":
		return v.Title
	case "company":
		return v.Company
	case "employer_id":
		return v.EmployerID
	case "salary_from":
		return intPtrField(v.SalaryFrom)
	case "salary_to":
		return intPtrField(v.SalaryTo)
	case "currency":
		return v.Currency
	case "experience":
		return v.Experience
	case "schedule":
		return v.Schedule
	case "employment":
		return v.Employment
	case "description":
		return v.Description
	case "key_skills":
		return strings.Join(v.KeySkills, ", ")
	case "area":
		return v.Area
	case "published_at":
		return v.PublishedAt
	case "url":
		return v.URL
	case "filter_id":
		return v.FilterID
	case "content_hash":
		return v.ContentHash
	case "created_at":
		return timestampField(v.CreatedAt)
	case "updated_at":
		return timestampField(v.UpdatedAt)
	}
	return ""
}

func intPtrField(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func timestampField(ts *float64) string {
	if ts == nil || *ts <= 0 {
		return ""
	}
	return time.Unix(int64(*ts), 0).Format("2006-01-02 15:04:05")
}
