package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/codewatch/codewatch-go/internal/models"
)

// pricingSeedFile is the YAML shape of a pricing seed file.
type pricingSeedFile struct {
	Models []pricingSeedEntry `yaml:"models"`
}

type pricingSeedEntry struct {
	ModelID           string  `yaml:"model_id"`
	InputCostPerMtok  float64 `yaml:"input_cost_per_mtok"`
	OutputCostPerMtok float64 `yaml:"output_cost_per_mtok"`
	ContextWindow     int     `yaml:"context_window"`
	MaxOutput         int     `yaml:"max_output"`
}

// LoadPricingSeed reads a YAML pricing file into model_pricing rows.
func LoadPricingSeed(path string) ([]models.ModelPricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing seed: %w", err)
	}

	var seed pricingSeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse pricing seed: %w", err)
	}

	rows := make([]models.ModelPricing, 0, len(seed.Models))
	for _, m := range seed.Models {
		if m.ModelID == "" {
			return nil, fmt.Errorf("pricing seed entry missing model_id")
		}
		row := models.ModelPricing{
			ModelID:           m.ModelID,
			InputCostPerMtok:  m.InputCostPerMtok,
			OutputCostPerMtok: m.OutputCostPerMtok,
			ContextWindow:     m.ContextWindow,
			MaxOutput:         m.MaxOutput,
		}
		if row.ContextWindow == 0 {
			row.ContextWindow = 200000
		}
		if row.MaxOutput == 0 {
			row.MaxOutput = 64000
		}
		rows = append(rows, row)
	}
	return rows, nil
}
