package dataneeds

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the YAML shape of a data need catalog:
//
//	validatedHistorical:
//	  - id: daily-consumption-3y
//	    granularity: P1D
//	    pastDays: 1095
//	    futureDays: 0
//	accountingPoint:
//	  - id: master-data
type catalogFile struct {
	ValidatedHistorical []ValidatedHistoricalDataNeed `yaml:"validatedHistorical"`
	AccountingPoint     []AccountingPointDataNeed     `yaml:"accountingPoint"`
}

// LoadCatalog reads a data need catalog from a YAML file and returns a
// Service over it.
func LoadCatalog(path string) (*Service, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data need catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse data need catalog %s: %w", path, err)
	}
	needs := make([]DataNeed, 0, len(file.ValidatedHistorical)+len(file.AccountingPoint))
	for _, n := range file.ValidatedHistorical {
		if n.DataNeedID == "" {
			return nil, fmt.Errorf("data need catalog %s: validated historical entry without id", path)
		}
		needs = append(needs, n)
	}
	for _, n := range file.AccountingPoint {
		if n.DataNeedID == "" {
			return nil, fmt.Errorf("data need catalog %s: accounting point entry without id", path)
		}
		needs = append(needs, n)
	}
	return NewService(needs...), nil
}
