package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jira-magic-library/jml/pkg/issuecreate"
	"github.com/jira-magic-library/jml/pkg/jml"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a single JIRA issue from human-readable field names",
	Long: `Create resolves every --field name against the project/issuetype's
discovered schema, converts its value to the matching JIRA wire shape,
and (unless --dry-run) POSTs the issue.`,
	Example: `  jmlctl create --project=ENG --issuetype=Task --field Summary="fix the thing" --field "Assignee=jane"
  jmlctl create --project=ENG --issuetype=Bug --field Summary="crash on save" --dry-run`,
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().String("project", "", "Project key (required)")
	createCmd.Flags().String("issuetype", "", "Issue type name (required)")
	createCmd.Flags().StringArray("field", nil, "Field=value pair, repeatable")
	createCmd.Flags().Bool("dry-run", false, "Resolve and convert but do not send the create request")
	_ = createCmd.MarkFlagRequired("project")
	_ = createCmd.MarkFlagRequired("issuetype")
}

func runCreate(cmd *cobra.Command, args []string) error {
	project, _ := cmd.Flags().GetString("project")
	issueType, _ := cmd.Flags().GetString("issuetype")
	fields, _ := cmd.Flags().GetStringArray("field")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	record, err := parseFieldFlags(fields)
	if err != nil {
		return err
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

	result, err := handle.Issues().Create(ctx, project, issueType, record, issuecreate.CreateOptions{DryRun: dryRun})
	if err != nil {
		return fmt.Errorf("create failed: %w", err)
	}

	if dryRun {
		fmt.Printf("dry-run payload built successfully for %s/%s\n", project, issueType)
		return nil
	}
	fmt.Printf("created %s\n", result.Key)
	return nil
}

// parseFieldFlags turns repeated "Name=value" flags into a record map.
func parseFieldFlags(fields []string) (map[string]any, error) {
	record := map[string]any{}
	for _, f := range fields {
		name, value, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --field %q, expected Name=value", f)
		}
		record[strings.TrimSpace(name)] = value
	}
	return record, nil
}
