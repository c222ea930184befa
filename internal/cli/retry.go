package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jira-magic-library/jml/pkg/bulk"
	"github.com/jira-magic-library/jml/pkg/jml"
)

var retryCmd = &cobra.Command{
	Use:   "retry <manifest-id>",
	Short: "Retry the failed rows of a prior bulk create",
	Long: `Retry loads the manifest recorded by a previous "jmlctl bulk" run,
re-parses --file, filters it down to the rows that previously failed,
and reruns only those rows, merging the result back into the manifest.`,
	Example: `  jmlctl retry bulk-3f2504e0-4f89-11d3-9a0c-0305e82c3301 --project=ENG --issuetype=Task --file=rows.csv`,
	Args:    cobra.ExactArgs(1),
	RunE:    runRetry,
}

func init() {
	rootCmd.AddCommand(retryCmd)
	retryCmd.Flags().String("project", "", "Project key (required)")
	retryCmd.Flags().String("issuetype", "", "Issue type name (required)")
	retryCmd.Flags().String("file", "", "Path to the same CSV/JSON/YAML file used for the original bulk create (required)")
	_ = retryCmd.MarkFlagRequired("project")
	_ = retryCmd.MarkFlagRequired("issuetype")
	_ = retryCmd.MarkFlagRequired("file")
}

func runRetry(cmd *cobra.Command, args []string) error {
	manifestID := args[0]
	project, _ := cmd.Flags().GetString("project")
	issueType, _ := cmd.Flags().GetString("issuetype")
	file, _ := cmd.Flags().GetString("file")

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

	fmt.Printf("retrying manifest %s\n", manifestID)
	result, err := handle.Issues().RetryBulk(ctx, manifestID, bulk.Input{
		Data:       data,
		Format:     format,
		ProjectKey: project,
		IssueType:  issueType,
	}, bulk.Options{})
	if err != nil {
		return fmt.Errorf("retry failed: %w", err)
	}

	displayBulkResult(result)
	return nil
}
