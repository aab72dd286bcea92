package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/store"
	"github.com/codewatch/codewatch-go/internal/tokens"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create and inspect projects on a CodeWatch server",
}

var (
	projectOrg      string
	projectName     string
	projectRepos    []string
	projectBranches []string

	estimateComponents []string
	estimatePrecise    bool
)

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a project (a GitHub org and a set of its repositories)",
	RunE:  runProjectCreate,
}

var projectShowCmd = &cobra.Command{
	Use:   "show <project-id>",
	Short: "Show a project's repositories and mapped components",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectShow,
}

var projectEstimateCmd = &cobra.Command{
	Use:   "estimate <project-id>",
	Short: "Estimate audit cost per level",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectEstimate,
}

var projectAuditsCmd = &cobra.Command{
	Use:   "audits <project-id>",
	Short: "List a project's audits, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectAudits,
}

func init() {
	projectCmd.PersistentFlags().StringVar(&serverURL, "server", "", "CodeWatch server URL (default $CODEWATCH_SERVER or http://localhost:8080)")

	projectCreateCmd.Flags().StringVar(&projectOrg, "org", "", "GitHub organization or user (required)")
	projectCreateCmd.Flags().StringVar(&projectName, "name", "", "display name (defaults to the organization)")
	projectCreateCmd.Flags().StringArrayVar(&projectRepos, "repo", nil, "repository URL (repeatable, required)")
	projectCreateCmd.Flags().StringArrayVar(&projectBranches, "branch", nil, "branch override as <repo-url>=<branch> (repeatable)")
	projectCreateCmd.MarkFlagRequired("org")
	projectCreateCmd.MarkFlagRequired("repo")

	projectEstimateCmd.Flags().StringArrayVar(&estimateComponents, "component", nil, "estimate only these component IDs (repeatable)")
	projectEstimateCmd.Flags().BoolVar(&estimatePrecise, "precise", false, "ask the server for a precise token count")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectEstimateCmd)
	projectCmd.AddCommand(projectAuditsCmd)
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	branches := make(map[string]string)
	for _, pair := range projectBranches {
		repoURL, branch, ok := strings.Cut(pair, "=")
		if !ok || branch == "" {
			return fmt.Errorf("invalid --branch %q, expected <repo-url>=<branch>", pair)
		}
		branches[repoURL] = branch
	}

	req := map[string]any{
		"githubOrg": projectOrg,
		"repoUrls":  projectRepos,
	}
	if projectName != "" {
		req["name"] = projectName
	}
	if len(branches) > 0 {
		req["branches"] = branches
	}

	client := newAPIClient()
	var resp struct {
		ProjectID string `json:"projectId"`
	}
	if err := client.do(cmd.Context(), "POST", "/projects", req, &resp); err != nil {
		return err
	}

	fmt.Printf("✅ Project created: %s\n", resp.ProjectID)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  codewatch project estimate %s\n", resp.ProjectID)
	fmt.Printf("  codewatch audit start --project %s\n", resp.ProjectID)
	return nil
}

func runProjectShow(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	var resp struct {
		Project    *models.Project           `json:"project"`
		Repos      []store.ProjectRepoDetail `json:"repos"`
		Components []*models.Component       `json:"components"`
	}
	if err := client.do(cmd.Context(), "GET", "/projects/"+args[0], nil, &resp); err != nil {
		return err
	}

	p := resp.Project
	fmt.Printf("Project %s: %s (%s)\n", p.ID, p.Name, p.GithubEntityType)
	if p.Category != nil {
		fmt.Printf("  Category: %s\n", *p.Category)
	}
	if p.Description != nil {
		fmt.Printf("  %s\n", *p.Description)
	}

	fmt.Println()
	fmt.Println("Repositories:")
	for _, r := range resp.Repos {
		branch := "default branch"
		if r.Branch != nil {
			branch = "branch " + *r.Branch
		} else if r.DefaultBranch != nil {
			branch = "branch " + *r.DefaultBranch
		}
		fmt.Printf("  %s (%s)\n", r.RepoName, branch)
	}

	if len(resp.Components) > 0 {
		fmt.Println()
		fmt.Println("Components:")
		for _, c := range resp.Components {
			fmt.Printf("  %s  %s [%s] %d files, ~%d tokens\n", c.ID, c.Name, c.Role, c.EstimatedFiles, c.EstimatedTokens)
		}
	}
	return nil
}

func runProjectEstimate(cmd *cobra.Command, args []string) error {
	path := "/projects/" + args[0] + "/estimate"
	params := url.Values{}
	if len(estimateComponents) > 0 {
		params.Set("componentIds", strings.Join(estimateComponents, ","))
	}
	if estimatePrecise {
		params.Set("precise", "true")
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	client := newAPIClient()
	var est tokens.Estimate
	if err := client.do(cmd.Context(), "GET", path, nil, &est); err != nil {
		return err
	}

	precision := "heuristic"
	if est.IsPrecise {
		precision = "precise"
	}
	fmt.Printf("Estimate for project %s (%s, %s)\n", args[0], est.ModelID, precision)
	fmt.Printf("  %d files, ~%d tokens\n", est.TotalFiles, est.TotalTokens)
	fmt.Println()
	for _, lvl := range est.Levels {
		fmt.Printf("  %-15s $%.2f\n", lvl.Level, lvl.CostUSD)
	}
	return nil
}

func runProjectAudits(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	var resp struct {
		Audits []*models.Audit `json:"audits"`
	}
	if err := client.do(cmd.Context(), "GET", "/projects/"+args[0]+"/audits", nil, &resp); err != nil {
		return err
	}

	if len(resp.Audits) == 0 {
		fmt.Println("No audits yet. Start one with:")
		fmt.Printf("  codewatch audit start --project %s\n", args[0])
		return nil
	}

	for _, a := range resp.Audits {
		line := fmt.Sprintf("  %s  %-38s %-14s %s", a.CreatedAt.Format("2006-01-02 15:04"), a.ID, a.Level, a.Status)
		if a.MaxSeverity != nil {
			line += fmt.Sprintf(" (max %s)", *a.MaxSeverity)
		}
		fmt.Println(line)
	}
	return nil
}
