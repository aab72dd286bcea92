// Package tokens estimates token volumes and USD costs for audit levels.
package tokens

import (
	"context"
	"errors"
	"math"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/store"
)

// Fallback pricing when the model is missing from the pricing table,
// USD per million tokens.
const (
	FallbackInputPerMtok  = 5.0
	FallbackOutputPerMtok = 25.0
)

// overheadPct is added to every level's input tokens to cover prompts,
// classification context, and synthesis.
const overheadPct = 0.05

// outputRatio estimates output volume as a fraction of input volume.
const outputRatio = 0.15

// PricingSource looks up per-model pricing rows.
type PricingSource interface {
	GetModelPricing(ctx context.Context, modelID string) (*models.ModelPricing, error)
}

// Accountant computes level budgets and cost estimates against a pricing table.
type Accountant struct {
	pricing PricingSource
	cache   *gocache.Cache
}

// NewAccountant returns an Accountant reading prices from src. Rows are
// cached in memory for 10 minutes.
func NewAccountant(src PricingSource) *Accountant {
	return &Accountant{
		pricing: src,
		cache:   gocache.New(10*time.Minute, 15*time.Minute),
	}
}

// LevelCost is the estimated spend for one audit level.
type LevelCost struct {
	Level        models.AuditLevel `json:"level"`
	InputTokens  int               `json:"inputTokens"`
	OutputTokens int               `json:"outputTokens"`
	CostUSD      float64           `json:"costUsd"`
}

// Estimate is a full per-level cost projection for a project.
type Estimate struct {
	TotalFiles  int         `json:"totalFiles"`
	TotalTokens int         `json:"totalTokens"`
	IsPrecise   bool        `json:"isPrecise"`
	ModelID     string      `json:"modelId"`
	Levels      []LevelCost `json:"levels"`
}

// TotalsFromScan sums a scanned file list into (files, tokens).
func TotalsFromScan(files []gitrepo.ScannedFile) (totalFiles, totalTokens int) {
	for _, f := range files {
		totalTokens += f.RoughTokens
	}
	return len(files), totalTokens
}

// TotalsFromComponents sums the cached estimates of a component set.
func TotalsFromComponents(components []*models.Component) (totalFiles, totalTokens int) {
	for _, c := range components {
		totalFiles += c.EstimatedFiles
		totalTokens += c.EstimatedTokens
	}
	return totalFiles, totalTokens
}

// Pricing returns the model's pricing row, falling back to hardcoded rates
// when the table has no entry.
func (a *Accountant) Pricing(ctx context.Context, modelID string) *models.ModelPricing {
	if cached, ok := a.cache.Get(modelID); ok {
		return cached.(*models.ModelPricing)
	}

	row, err := a.pricing.GetModelPricing(ctx, modelID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Warn("model pricing lookup failed", "model", modelID, "error", err.Error())
		}
		// Missing rows and transient failures both degrade to fallback
		// rates; the fallback is never cached so a later lookup can win.
		return fallbackPricing(modelID)
	}

	a.cache.Set(modelID, row, gocache.DefaultExpiration)
	return row
}

func fallbackPricing(modelID string) *models.ModelPricing {
	return &models.ModelPricing{
		ModelID:           modelID,
		InputCostPerMtok:  FallbackInputPerMtok,
		OutputCostPerMtok: FallbackOutputPerMtok,
		ContextWindow:     200000,
		MaxOutput:         64000,
	}
}

// EstimateCosts projects the spend of each audit level over a token total.
// isPrecise is true only when the totals came from the provider's
// count-tokens endpoint rather than the rough byte heuristic.
func (a *Accountant) EstimateCosts(ctx context.Context, modelID string, totalFiles, totalTokens int, isPrecise bool) *Estimate {
	pricing := a.Pricing(ctx, modelID)

	levels := []models.AuditLevel{models.LevelFull, models.LevelThorough, models.LevelOpportunistic}
	est := &Estimate{
		TotalFiles:  totalFiles,
		TotalTokens: totalTokens,
		IsPrecise:   isPrecise,
		ModelID:     modelID,
		Levels:      make([]LevelCost, 0, len(levels)),
	}
	for _, level := range levels {
		levelTokens := int(math.Round(float64(totalTokens) * level.BudgetPct()))
		est.Levels = append(est.Levels, LevelEstimate(level, levelTokens, totalTokens, pricing))
	}
	return est
}

// LevelEstimate prices one level: the level's token share plus a 5% overhead
// on the project total, with output estimated at 15% of input.
func LevelEstimate(level models.AuditLevel, levelTokens, totalTokens int, pricing *models.ModelPricing) LevelCost {
	inputTokens := float64(levelTokens) + float64(totalTokens)*overheadPct
	outputTokens := inputTokens * outputRatio
	cost := inputTokens/1e6*pricing.InputCostPerMtok + outputTokens/1e6*pricing.OutputCostPerMtok
	return LevelCost{
		Level:        level,
		InputTokens:  int(math.Round(inputTokens)),
		OutputTokens: int(math.Round(outputTokens)),
		CostUSD:      Round4(cost),
	}
}

// UsageCost prices actual token usage against a pricing row.
func UsageCost(inputTokens, outputTokens int, pricing *models.ModelPricing) float64 {
	return float64(inputTokens)/1e6*pricing.InputCostPerMtok +
		float64(outputTokens)/1e6*pricing.OutputCostPerMtok
}

// Round4 rounds to four decimal places, the precision cost fields carry.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
