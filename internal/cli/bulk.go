package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jira-magic-library/jml/pkg/bulk"
	"github.com/jira-magic-library/jml/pkg/jml"
	"github.com/jira-magic-library/jml/pkg/parser"
)

var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Create many JIRA issues from a CSV, JSON, or YAML file",
	Long: `Bulk parses --file into records, resolves/converts every row's
fields concurrently, and sends one bulk create request. The outcome is
persisted as a manifest; a failed row can later be retried with
"jmlctl retry" without resending the rows that already succeeded.`,
	Example: `  jmlctl bulk --project=ENG --issuetype=Task --file=rows.csv
  jmlctl bulk --project=ENG --issuetype=Task --file=rows.yaml --validate`,
	RunE: runBulk,
}

func init() {
	rootCmd.AddCommand(bulkCmd)
	bulkCmd.Flags().String("project", "", "Project key (required)")
	bulkCmd.Flags().String("issuetype", "", "Issue type name (required)")
	bulkCmd.Flags().String("file", "", "Path to the CSV/JSON/YAML file of records (required)")
	bulkCmd.Flags().Bool("validate", false, "Resolve and convert every row but skip the bulk POST")
	_ = bulkCmd.MarkFlagRequired("project")
	_ = bulkCmd.MarkFlagRequired("issuetype")
	_ = bulkCmd.MarkFlagRequired("file")
}

func runBulk(cmd *cobra.Command, args []string) error {
	project, _ := cmd.Flags().GetString("project")
	issueType, _ := cmd.Flags().GetString("issuetype")
	file, _ := cmd.Flags().GetString("file")
	validate, _ := cmd.Flags().GetBool("validate")

	format, err := formatFromExtension(file)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}

	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := context.Background()
	handle, err := jml.Connect(ctx, *cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = handle.Disconnect() }()

	fmt.Printf("bulk creating %s/%s issues from %s\n", project, issueType, file)
	result, err := handle.Issues().BulkCreate(ctx, bulk.Input{
		Data:       data,
		Format:     format,
		ProjectKey: project,
		IssueType:  issueType,
	}, bulk.Options{Validate: validate})
	if err != nil {
		return fmt.Errorf("bulk create failed: %w", err)
	}

	displayBulkResult(result)
	return nil
}

func formatFromExtension(path string) (parser.Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return parser.FormatCSV, nil
	case ".json":
		return parser.FormatJSON, nil
	case ".yaml", ".yml":
		return parser.FormatYAML, nil
	default:
		return "", fmt.Errorf("cannot infer format from %q, expected .csv, .json, or .yaml", path)
	}
}

func displayBulkResult(result *bulk.Result) {
	fmt.Printf("manifest: %s\n", result.Manifest.ID)
	fmt.Printf("total: %d, succeeded: %d, failed: %d\n", result.Total, len(result.Succeeded), len(result.Failed))
	for _, r := range result.Results {
		if r.Success {
			fmt.Printf("  row %d: %s\n", r.Index, r.Key)
		} else {
			fmt.Printf("  row %d: FAILED: %s\n", r.Index, r.ErrorMessage())
		}
	}
}
