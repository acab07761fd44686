// Package pattern correlates indicator sets against known
// multi-indicator fraud patterns that individual rules cannot see in
// isolation.
package pattern

import (
	"fmt"
	"sync"

	"github.com/claimwatch/claimwatch/internal/domain"
)

// matchRatioThreshold is the minimum fraction of a pattern's indicators
// that must co-occur for the pattern to fire.
const matchRatioThreshold = 0.6

// Matcher holds the registered fraud patterns.
type Matcher struct {
	mu       sync.RWMutex
	patterns map[string]*domain.FraudPattern
	order    []string
}

// NewMatcher creates a matcher preloaded with the canonical patterns.
func NewMatcher() *Matcher {
	m := &Matcher{patterns: make(map[string]*domain.FraudPattern)}
	for _, p := range CanonicalPatterns() {
		m.Register(p)
	}
	return m
}

// CanonicalPatterns returns the three built-in co-occurrence signatures.
func CanonicalPatterns() []*domain.FraudPattern {
	return []*domain.FraudPattern{
		{
			ID:   "fake-prescription",
			Name: "Fake prescription",
			Indicators: []string{
				domain.IndicatorMissingFields,
				domain.IndicatorDuplicateDocument,
				domain.IndicatorOffHoursSubmissions,
			},
			RiskScore: 85,
		},
		{
			ID:   "inflated-bill",
			Name: "Inflated bill",
			Indicators: []string{
				domain.IndicatorRoundAmount,
				domain.IndicatorAmountDeviation,
				domain.IndicatorInvalidBillNumber,
			},
			RiskScore: 90,
		},
		{
			ID:   "identity-fraud",
			Name: "Identity fraud",
			Indicators: []string{
				domain.IndicatorBlacklistedPatient,
				domain.IndicatorMultipleHospitals,
				domain.IndicatorDuplicateDocument,
			},
			RiskScore: 95,
		},
	}
}

// Register adds or replaces a pattern.
func (m *Matcher) Register(p *domain.FraudPattern) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.patterns[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	m.patterns[p.ID] = p
}

// Patterns returns the registered patterns in registration order.
func (m *Matcher) Patterns() []*domain.FraudPattern {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.FraudPattern, 0, len(m.order))
	for _, id := range m.order {
		copied := *m.patterns[id]
		out = append(out, &copied)
	}
	return out
}

// Match computes the match ratio of every pattern against the observed
// indicator names and emits an unusual_pattern activity for each pattern
// at or above the ratio threshold. The risk contribution is the
// pattern's base score scaled by the observed ratio.
func (m *Matcher) Match(indicatorNames []string) []domain.SuspiciousActivity {
	observed := make(map[string]struct{}, len(indicatorNames))
	for _, name := range indicatorNames {
		observed[name] = struct{}{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var activities []domain.SuspiciousActivity
	for _, id := range m.order {
		p := m.patterns[id]
		if len(p.Indicators) == 0 {
			continue
		}

		matched := 0
		for _, want := range p.Indicators {
			if _, ok := observed[want]; ok {
				matched++
			}
		}

		ratio := float64(matched) / float64(len(p.Indicators))
		if ratio < matchRatioThreshold {
			continue
		}

		activities = append(activities, domain.SuspiciousActivity{
			Type:             domain.ActivityUnusualPattern,
			Severity:         domain.SeverityCritical,
			Description:      fmt.Sprintf("matched fraud pattern %q (%d of %d indicators)", p.Name, matched, len(p.Indicators)),
			Confidence:       ratio,
			RiskContribution: p.RiskScore * ratio,
			Indicator:        p.ID,
		})
	}
	return activities
}
