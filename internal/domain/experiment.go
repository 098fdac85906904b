package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusStopped   Status = "STOPPED"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped
}

// ParseStatus accepts any casing of a known status.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusDraft, StatusRunning, StatusCompleted, StatusStopped:
		return st, true
	}
	return "", false
}

// Metric is a rate-style outcome an experiment can optimize for.
// All known metrics are proportions in [0,1] where higher is better.
type Metric string

const (
	MetricOpenRate       Metric = "open_rate"
	MetricClickRate      Metric = "click_rate"
	MetricConversionRate Metric = "conversion_rate"
	MetricReplyRate      Metric = "reply_rate"
	MetricDeliveryRate   Metric = "delivery_rate"
)

var knownMetrics = []Metric{
	MetricOpenRate,
	MetricClickRate,
	MetricConversionRate,
	MetricReplyRate,
	MetricDeliveryRate,
}

// KnownMetrics returns the metrics the engine understands, in a stable order.
func KnownMetrics() []Metric {
	out := make([]Metric, len(knownMetrics))
	copy(out, knownMetrics)
	return out
}

// Known reports whether m is one of KnownMetrics.
func (m Metric) Known() bool {
	for _, k := range knownMetrics {
		if m == k {
			return true
		}
	}
	return false
}

// ParseMetric accepts both "conversion_rate" and "CONVERSION_RATE".
func ParseMetric(s string) (Metric, bool) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	return m, m.Known()
}

type Experiment struct {
	ID                  string
	Name                string
	Description         *string
	EntityType          string
	EntityID            string
	TestElements        []string
	WinnerMetric        Metric
	WinnerThreshold     *float64
	DistributionPercent float64
	Status              Status
	StartedAt           *time.Time
	EndedAt             *time.Time
	WinnerVariantID     *string
	CreatedBy           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AutoPromote reports whether recorded results should trigger a winner check.
func (e *Experiment) AutoPromote() bool {
	return e.Status == StatusRunning && e.WinnerThreshold != nil
}

type Variant struct {
	ID             string
	ExperimentID   string
	Name           string
	Description    *string
	Content        map[string]string
	TrafficPercent float64
	Position       int
	CreatedAt      time.Time
}

// IsControl reports whether the variant is the baseline the others are
// compared against.
func (v *Variant) IsControl() bool {
	return IsControlName(v.Name)
}

// IsControlName reports whether name marks a control variant: "control" or
// "a", ignoring case and surrounding space.
func IsControlName(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	return name == "control" || name == "a"
}

type MetricResult struct {
	ExperimentID string
	VariantID    string
	Metric       Metric
	Value        float64
	SampleSize   int64
	RecordedAt   time.Time
}

// ExperimentDetail is an experiment together with everything it owns.
type ExperimentDetail struct {
	Experiment *Experiment
	Variants   []*Variant
	Results    []*MetricResult
}

// Variant returns the owned variant with the given id, or nil.
func (d *ExperimentDetail) Variant(id string) *Variant {
	for _, v := range d.Variants {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// ResultsFor returns the results recorded for metric, keyed by variant id.
func (d *ExperimentDetail) ResultsFor(metric Metric) map[string]*MetricResult {
	out := make(map[string]*MetricResult)
	for _, r := range d.Results {
		if r.Metric == metric {
			out[r.VariantID] = r
		}
	}
	return out
}

// StatusChange describes a compare-and-set status transition.
// Nil fields are left untouched.
type StatusChange struct {
	To              Status
	At              time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	WinnerVariantID *string
}

// ExperimentFilter selects experiments for listing. Empty fields match all.
type ExperimentFilter struct {
	EntityType string
	EntityID   string
	Status     Status
	Limit      int
	Offset     int
}

type ExperimentPage struct {
	Items  []*Experiment
	Total  int64
	Limit  int
	Offset int
}
