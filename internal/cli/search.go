package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jira-magic-library/jml/pkg/jiraclient"
	"github.com/jira-magic-library/jml/pkg/jml"
	"github.com/jira-magic-library/jml/pkg/jql"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search for JIRA issues by project, issue type, status, or raw JQL",
	Long: `Search runs either a raw --jql query or assembles --project/--issuetype/
--status/--summary/--label criteria into a JQL query, requesting the
minimal key/summary/status field set.`,
	Example: `  jmlctl search --jql="project = ENG AND status = Open"
  jmlctl search --project=ENG --status=Open --label=jml-job-42`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().String("jql", "", "Raw JQL query (when set, the criteria flags are ignored)")
	searchCmd.Flags().String("project", "", "Project key")
	searchCmd.Flags().String("issuetype", "", "Issue type name")
	searchCmd.Flags().String("status", "", "Status name")
	searchCmd.Flags().String("summary", "", "Summary text to match with ~")
	searchCmd.Flags().StringArray("label", nil, "Label to match, repeatable")
	searchCmd.Flags().Int("max-results", 0, "Maximum results to return (0 uses the default)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	rawJQL, _ := cmd.Flags().GetString("jql")
	project, _ := cmd.Flags().GetString("project")
	issueType, _ := cmd.Flags().GetString("issuetype")
	status, _ := cmd.Flags().GetString("status")
	summary, _ := cmd.Flags().GetString("summary")
	labels, _ := cmd.Flags().GetStringArray("label")
	maxResults, _ := cmd.Flags().GetInt("max-results")

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

	var result *jiraclient.SearchResult
	if rawJQL != "" {
		result, err = handle.Issues().SearchJQL(ctx, jql.RawQuery{JQL: rawJQL, MaxResults: maxResults})
	} else {
		result, err = handle.Issues().Search(ctx, jql.Criteria{
			Project:    project,
			IssueType:  issueType,
			Status:     status,
			Summary:    summary,
			Labels:     labels,
			MaxResults: maxResults,
		})
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	fmt.Printf("found %d issues (total %d)\n", len(result.Issues), result.Total)
	for _, issue := range result.Issues {
		issueSummary := ""
		issueStatus := ""
		if issue.Fields != nil {
			issueSummary = issue.Fields.Summary
			if issue.Fields.Status != nil {
				issueStatus = issue.Fields.Status.Name
			}
		}
		fmt.Printf("  %s: %s [%s]\n", issue.Key, issueSummary, issueStatus)
	}
	return nil
}
