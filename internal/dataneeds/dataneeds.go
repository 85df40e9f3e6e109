// Package dataneeds models the specifications of what consumption data a
// permission request asks for, and derives the concrete coverage window a
// request must be validated against.
package dataneeds

import (
	"time"

	"gridward/pkg/domain"
)

// Granularity of consumption readings.
type Granularity string

const (
	GranularityQuarterHour Granularity = "PT15M"
	GranularityHour        Granularity = "PT1H"
	GranularityDay         Granularity = "P1D"
)

// DataNeed is a data specification referenced by permission requests.
type DataNeed interface {
	ID() domain.DataNeedID
}

// ValidatedHistoricalDataNeed asks for validated historical (and, when the
// window extends past today, ongoing) consumption readings.
type ValidatedHistoricalDataNeed struct {
	DataNeedID  domain.DataNeedID `yaml:"id"`
	Granularity Granularity       `yaml:"granularity"`
	// PastDays and FutureDays bound the coverage window relative to the day
	// of validation. FutureDays < 0 means open-ended.
	PastDays   int `yaml:"pastDays"`
	FutureDays int `yaml:"futureDays"`
}

func (n ValidatedHistoricalDataNeed) ID() domain.DataNeedID { return n.DataNeedID }

// AccountingPointDataNeed asks for master data about the accounting point
// only; no consumption readings are ever fetched for it.
type AccountingPointDataNeed struct {
	DataNeedID domain.DataNeedID `yaml:"id"`
}

func (n AccountingPointDataNeed) ID() domain.DataNeedID { return n.DataNeedID }

// Calculation is the tagged outcome of resolving a data need into a coverage
// window. Exactly one concrete type is returned per calculation.
type Calculation interface {
	isCalculation()
}

// NotFound means no data need with the given id exists.
type NotFound struct {
	DataNeedID domain.DataNeedID
}

// NotSupported means the data need exists but this connector cannot serve it.
type NotSupported struct {
	DataNeedID domain.DataNeedID
	Reason     string
}

// ValidatedHistorical carries the resolved, end-inclusive coverage window.
// End is nil for open-ended needs.
type ValidatedHistorical struct {
	Start       time.Time
	End         *time.Time
	Granularity Granularity
}

// AccountingPoint means only master data is requested; the window collapses
// to the day of validation.
type AccountingPoint struct {
	Date time.Time
}

func (NotFound) isCalculation()            {}
func (NotSupported) isCalculation()        {}
func (ValidatedHistorical) isCalculation() {}
func (AccountingPoint) isCalculation()     {}

// Service resolves data need ids against a fixed catalog.
type Service struct {
	needs map[domain.DataNeedID]DataNeed
}

// NewService builds a catalog service from the given needs.
func NewService(needs ...DataNeed) *Service {
	m := make(map[domain.DataNeedID]DataNeed, len(needs))
	for _, n := range needs {
		m[n.ID()] = n
	}
	return &Service{needs: m}
}

// ByID looks up a data need.
func (s *Service) ByID(id domain.DataNeedID) (DataNeed, bool) {
	n, ok := s.needs[id]
	return n, ok
}

// IsValidatedHistorical reports whether the data need requests validated
// historical readings. Retransmission is only defined for such needs.
func (s *Service) IsValidatedHistorical(id domain.DataNeedID) bool {
	n, ok := s.needs[id]
	if !ok {
		return false
	}
	_, ok = n.(ValidatedHistoricalDataNeed)
	return ok
}

// Calculate resolves the data need into a coverage window anchored at now.
// Historical windows are end-inclusive: the end date itself is covered.
func (s *Service) Calculate(id domain.DataNeedID, now time.Time) Calculation {
	need, ok := s.needs[id]
	if !ok {
		return NotFound{DataNeedID: id}
	}
	today := now.Truncate(24 * time.Hour)
	switch n := need.(type) {
	case ValidatedHistoricalDataNeed:
		start := today.AddDate(0, 0, -n.PastDays)
		var end *time.Time
		if n.FutureDays >= 0 {
			e := today.AddDate(0, 0, n.FutureDays)
			end = &e
		}
		return ValidatedHistorical{Start: start, End: end, Granularity: n.Granularity}
	case AccountingPointDataNeed:
		return AccountingPoint{Date: today}
	default:
		return NotSupported{DataNeedID: id, Reason: "unsupported data need kind"}
	}
}
