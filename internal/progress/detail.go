// Package progress defines the tagged progress records attached to audits
// and the bus that persists them for external pollers.
package progress

import (
	"encoding/json"
	"fmt"
)

// Phase discriminates the progress variants.
type Phase string

const (
	PhaseCloning   Phase = "cloning"
	PhaseMapping   Phase = "mapping"
	PhasePlanning  Phase = "planning"
	PhaseAnalyzing Phase = "analyzing"
	PhaseDone      Phase = "done"
)

// FileStatus is the per-file analysis state.
type FileStatus string

const (
	FilePending FileStatus = "pending"
	FileDone    FileStatus = "done"
	FileError   FileStatus = "error"
)

// FileProgress tracks one selected file through the analyze phase.
type FileProgress struct {
	File          string     `json:"file"`
	Status        FileStatus `json:"status"`
	FindingsCount int        `json:"findingsCount"`
}

// Detail is the tagged progress record. Type selects which of the remaining
// fields are meaningful; Warnings is always present.
type Detail struct {
	Type       Phase          `json:"type"`
	Current    int            `json:"current,omitempty"`
	Total      int            `json:"total,omitempty"`
	RepoName   string         `json:"repoName,omitempty"`
	Files      []FileProgress `json:"files,omitempty"`
	TokensUsed int            `json:"tokensUsed,omitempty"`
	CostUSD    float64        `json:"costUsd,omitempty"`
	Warnings   []string       `json:"warnings"`
}

// Cloning reports repo current/total during the clone phase.
func Cloning(current, total int, repoName string, warnings []string) Detail {
	return Detail{
		Type:     PhaseCloning,
		Current:  current,
		Total:    total,
		RepoName: repoName,
		Warnings: nonNil(warnings),
	}
}

// Mapping reports component-agent progress: turns used against the cap,
// tokens consumed, and running cost.
func Mapping(turns, maxTurns, tokensUsed int, costUSD float64, warnings []string) Detail {
	return Detail{
		Type:       PhaseMapping,
		Current:    turns,
		Total:      maxTurns,
		TokensUsed: tokensUsed,
		CostUSD:    costUSD,
		Warnings:   nonNil(warnings),
	}
}

// Planning reports the planning phase.
func Planning(warnings []string) Detail {
	return Detail{Type: PhasePlanning, Warnings: nonNil(warnings)}
}

// Analyzing reports per-file state during batch analysis.
func Analyzing(files []FileProgress, warnings []string) Detail {
	return Detail{Type: PhaseAnalyzing, Files: files, Warnings: nonNil(warnings)}
}

// Done carries the final per-file state after analysis completes.
func Done(files []FileProgress, warnings []string) Detail {
	return Detail{Type: PhaseDone, Files: files, Warnings: nonNil(warnings)}
}

// Marshal serializes d for the progress_detail column.
func Marshal(d Detail) ([]byte, error) {
	d.Warnings = nonNil(d.Warnings)
	return json.Marshal(d)
}

// Unmarshal decodes a stored progress record.
func Unmarshal(data []byte) (Detail, error) {
	var d Detail
	if err := json.Unmarshal(data, &d); err != nil {
		return Detail{}, fmt.Errorf("decode progress detail: %w", err)
	}
	return d, nil
}

func nonNil(w []string) []string {
	if w == nil {
		return []string{}
	}
	return w
}
