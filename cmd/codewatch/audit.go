package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/codewatch/codewatch-go/internal/access"
	"github.com/codewatch/codewatch-go/internal/config"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/progress"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Start and inspect audits on a CodeWatch server",
}

var (
	auditProjectID  string
	auditLevel      string
	auditBaseID     string
	auditComponents []string
	auditAPIKey     string

	reportJSON bool
	reportOpen bool
)

var auditStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an audit for a project",
	Long: `Launch an audit task on the server.

The Anthropic API key pays for the audit's LLM calls. It is resolved from
--api-key, then ANTHROPIC_API_KEY, then the OS keychain, and is sent to the
server once at start; the server holds it in memory for the lifetime of the
audit task only.`,
	RunE: runAuditStart,
}

var auditStatusCmd = &cobra.Command{
	Use:   "status <audit-id>",
	Short: "Show the status and progress of an audit",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditStatus,
}

var auditReportCmd = &cobra.Command{
	Use:   "report <audit-id>",
	Short: "Fetch the tier-filtered report of a completed audit",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditReport,
}

var auditCancelCmd = &cobra.Command{
	Use:   "cancel <audit-id>",
	Short: "Cancel a running audit",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditCancel,
}

func init() {
	auditCmd.PersistentFlags().StringVar(&serverURL, "server", "", "CodeWatch server URL (default $CODEWATCH_SERVER or http://localhost:8080)")

	auditStartCmd.Flags().StringVar(&auditProjectID, "project", "", "project ID (required)")
	auditStartCmd.Flags().StringVar(&auditLevel, "level", "full", "audit level: full, thorough, or opportunistic")
	auditStartCmd.Flags().StringVar(&auditBaseID, "base", "", "base audit ID for an incremental audit")
	auditStartCmd.Flags().StringArrayVar(&auditComponents, "component", nil, "restrict the audit to a component ID (repeatable)")
	auditStartCmd.Flags().StringVar(&auditAPIKey, "api-key", "", "Anthropic API key (default $ANTHROPIC_API_KEY or OS keychain)")
	auditStartCmd.MarkFlagRequired("project")

	auditReportCmd.Flags().BoolVar(&reportJSON, "json", false, "print the raw report JSON")
	auditReportCmd.Flags().BoolVar(&reportOpen, "open", false, "open the report in the browser")

	auditCmd.AddCommand(auditStartCmd)
	auditCmd.AddCommand(auditStatusCmd)
	auditCmd.AddCommand(auditReportCmd)
	auditCmd.AddCommand(auditCancelCmd)
}

func resolveAnthropicKey() (string, error) {
	if auditAPIKey != "" {
		return auditAPIKey, nil
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, nil
	}
	if key, err := config.NewKeyringManager().GetAPIKey(); err == nil && key != "" {
		return key, nil
	}
	return "", fmt.Errorf("no Anthropic API key found, pass --api-key, set ANTHROPIC_API_KEY, or run: codewatch configure")
}

func runAuditStart(cmd *cobra.Command, args []string) error {
	key, err := resolveAnthropicKey()
	if err != nil {
		return err
	}

	client := newAPIClient()
	req := map[string]any{
		"projectId": auditProjectID,
		"level":     strings.ToLower(auditLevel),
		"apiKey":    key,
	}
	if auditBaseID != "" {
		req["baseAuditId"] = auditBaseID
	}
	if len(auditComponents) > 0 {
		req["componentIds"] = auditComponents
	}

	var resp struct {
		AuditID string `json:"auditId"`
	}
	if err := client.do(cmd.Context(), "POST", "/audits", req, &resp); err != nil {
		return err
	}

	fmt.Printf("✅ Audit started: %s\n", resp.AuditID)
	fmt.Println()
	fmt.Printf("Follow progress with: codewatch audit status %s\n", resp.AuditID)
	return nil
}

type auditWithProgress struct {
	models.Audit
	Progress       *progress.Detail        `json:"progress"`
	SeverityCounts map[models.Severity]int `json:"severityCounts"`
}

func runAuditStatus(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	var a auditWithProgress
	if err := client.do(cmd.Context(), "GET", "/audits/"+args[0], nil, &a); err != nil {
		return err
	}

	fmt.Printf("Audit %s\n", a.ID)
	fmt.Printf("  Level:  %s", a.Level)
	if a.IsIncremental {
		fmt.Print(" (incremental)")
	}
	fmt.Println()
	fmt.Printf("  Status: %s\n", a.Status)

	if a.Progress != nil && !a.Status.Terminal() {
		fmt.Printf("  Phase:  %s", a.Progress.Type)
		if a.Progress.Total > 0 {
			fmt.Printf(" (%d/%d)", a.Progress.Current, a.Progress.Total)
		}
		if a.Progress.RepoName != "" {
			fmt.Printf(" %s", a.Progress.RepoName)
		}
		fmt.Println()
		if a.Progress.TokensUsed > 0 {
			fmt.Printf("  Tokens: %d ($%.2f)\n", a.Progress.TokensUsed, a.Progress.CostUSD)
		}
		for _, w := range a.Progress.Warnings {
			fmt.Printf("  ⚠️  %s\n", w)
		}
	}

	if a.FilesToAnalyze > 0 {
		fmt.Printf("  Files:  %d/%d analyzed\n", a.FilesAnalyzed, a.FilesToAnalyze)
	}
	if a.Status.Terminal() {
		if a.MaxSeverity != nil {
			fmt.Printf("  Max severity: %s\n", *a.MaxSeverity)
		}
		if line := severityLine(a.SeverityCounts); line != "" {
			fmt.Printf("  Findings: %s\n", line)
		}
		if a.ActualCostUSD > 0 {
			fmt.Printf("  Cost:   $%.2f\n", a.ActualCostUSD)
		}
		if a.ErrorMessage != nil {
			fmt.Printf("  Error:  %s\n", *a.ErrorMessage)
		}
		if a.Status == models.AuditCompleted || a.Status == models.AuditCompletedWithWarnings {
			fmt.Println()
			fmt.Printf("View the report with: codewatch audit report %s\n", a.ID)
		}
	}
	return nil
}

// severityLine renders counts as "2 critical, 1 low", worst first.
func severityLine(counts map[models.Severity]int) string {
	if len(counts) == 0 {
		return ""
	}
	parts := make([]string, 0, len(counts))
	for _, sev := range []models.Severity{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow, models.SeverityInformational} {
		if n := counts[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	return strings.Join(parts, ", ")
}

func runAuditReport(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	if reportOpen {
		url := client.url("/audits/" + args[0] + "/report")
		fmt.Printf("Opening %s\n", url)
		return browser.OpenURL(url)
	}

	var report access.Report
	if err := client.do(cmd.Context(), "GET", "/audits/"+args[0]+"/report", nil, &report); err != nil {
		return err
	}

	if reportJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(&report)
	return nil
}

func printReport(r *access.Report) {
	fmt.Printf("Audit %s (%s access)\n", r.AuditID, r.Tier)
	fmt.Printf("  Status: %s · Level: %s\n", r.Status, r.Level)
	if r.MaxSeverity != nil {
		fmt.Printf("  Max severity: %s\n", *r.MaxSeverity)
	}

	if line := severityLine(r.SeverityCounts); line != "" {
		fmt.Printf("  Findings: %s\n", line)
	}

	if r.ReportSummary != nil {
		fmt.Println()
		fmt.Println(r.ReportSummary.ExecutiveSummary)
		if r.ReportSummary.SecurityPosture != "" {
			fmt.Println()
			fmt.Println(r.ReportSummary.SecurityPosture)
		}
	}

	if len(r.RedactedSeverities) > 0 {
		sevs := make([]string, len(r.RedactedSeverities))
		for i, s := range r.RedactedSeverities {
			sevs[i] = string(s)
		}
		sort.Strings(sevs)
		fmt.Println()
		fmt.Printf("🔒 Details of %s findings are redacted at your access tier.\n", strings.Join(sevs, "/"))
	}

	if len(r.Findings) > 0 {
		fmt.Println()
		for _, f := range r.Findings {
			line := fmt.Sprintf("  [%s] %s %s", f.Severity, f.CWEID, f.RepoName)
			if f.Redacted {
				line += " (redacted)"
			} else {
				if f.Title != nil {
					line += ": " + *f.Title
				}
				if f.FilePath != nil {
					line += fmt.Sprintf(" (%s", *f.FilePath)
					if f.LineStart != nil {
						line += fmt.Sprintf(":%d", *f.LineStart)
					}
					line += ")"
				}
			}
			if f.Status != models.FindingOpen {
				line += fmt.Sprintf(" [%s]", f.Status)
			}
			fmt.Println(line)
		}
	}
}

func runAuditCancel(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := client.do(cmd.Context(), "POST", "/audits/"+args[0]+"/cancel", nil, &resp); err != nil {
		return err
	}
	if resp.Cancelled {
		fmt.Println("✅ Cancellation requested")
	} else {
		fmt.Println("Audit was not running; nothing to cancel")
	}
	return nil
}
