package matcher

import (
	"strconv"
	"strings"

	"github.com/garyjia/approval-routing/internal/domain/entity"
)

// Criterion names in evaluation order
const (
	CriterionSubsidiary    = "Subsidiary"
	CriterionDepartment    = "Department"
	CriterionLocation      = "Location"
	CriterionAmount        = "Amount"
	CriterionCurrency      = "Currency"
	CriterionRiskScore     = "Risk Score"
	CriterionExceptionType = "Exception Type"
	CriterionCustomer      = "Customer"
	CriterionSalesRep      = "Sales Rep"
	CriterionProject       = "Project"
	CriterionClass         = "Class"
	CriterionCustomSegment = "Custom Segment"
)

const noValue = "(none)"

// CriterionResult records one checked criterion
type CriterionResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// evaluate checks every populated criterion of rule against mc. All
// criteria are evaluated (no short-circuit) so traces are complete; the
// rule matches iff every checked criterion passed.
func evaluate(rule *entity.DecisionRule, mc entity.MatchContext) (bool, []CriterionResult) {
	results := make([]CriterionResult, 0, 6)

	results = appendSet(results, CriterionSubsidiary, rule.Subsidiaries, mc.Subsidiary)
	results = appendSet(results, CriterionDepartment, rule.Departments, mc.Department)
	results = appendSet(results, CriterionLocation, rule.Locations, mc.Location)

	// Amount is always evaluated
	minAmount := 0.0
	if rule.MinAmount != nil {
		minAmount = *rule.MinAmount
	}
	amountOK := mc.Amount >= minAmount && (rule.MaxAmount == nil || mc.Amount <= *rule.MaxAmount)
	results = append(results, CriterionResult{
		Name:     CriterionAmount,
		Passed:   amountOK,
		Expected: formatRange(&minAmount, rule.MaxAmount),
		Actual:   formatNumber(mc.Amount),
	})

	if rule.Currency != "" {
		results = append(results, CriterionResult{
			Name:     CriterionCurrency,
			Passed:   strings.EqualFold(rule.Currency, mc.Currency),
			Expected: rule.Currency,
			Actual:   orNone(mc.Currency),
		})
	}

	if rule.RiskMin != nil || rule.RiskMax != nil {
		// A rule bounding risk never matches a transaction without a score
		riskOK := mc.RiskScore != nil &&
			(rule.RiskMin == nil || *mc.RiskScore >= *rule.RiskMin) &&
			(rule.RiskMax == nil || *mc.RiskScore <= *rule.RiskMax)
		actual := noValue
		if mc.RiskScore != nil {
			actual = formatNumber(*mc.RiskScore)
		}
		results = append(results, CriterionResult{
			Name:     CriterionRiskScore,
			Passed:   riskOK,
			Expected: formatRange(rule.RiskMin, rule.RiskMax),
			Actual:   actual,
		})
	}

	results = appendSet(results, CriterionExceptionType, rule.ExceptionTypes, mc.ExceptionType)
	results = appendSet(results, CriterionCustomer, rule.Customers, mc.Customer)
	results = appendSet(results, CriterionSalesRep, rule.SalesReps, mc.SalesRep)
	results = appendSet(results, CriterionProject, rule.Projects, mc.Project)
	results = appendSet(results, CriterionClass, rule.Classes, mc.Class)
	results = appendSet(results, CriterionCustomSegment, rule.CustomSegments, mc.CustomSegment)

	for _, r := range results {
		if !r.Passed {
			return false, results
		}
	}
	return true, results
}

// specificity rewards narrower rules regardless of declared priority
func specificity(rule *entity.DecisionRule) int {
	score := 0
	if len(rule.Subsidiaries) > 0 {
		score++
	}
	if len(rule.Departments) > 0 {
		score += 2
	}
	if len(rule.Locations) > 0 {
		score++
	}
	if rule.RiskMin != nil || rule.RiskMax != nil {
		score++
	}
	if len(rule.ExceptionTypes) > 0 {
		score++
	}
	return score
}

// appendSet adds a set-membership check when the rule constrains name
func appendSet(results []CriterionResult, name string, allowed []string, value string) []CriterionResult {
	if len(allowed) == 0 {
		return results
	}
	passed := false
	for _, a := range allowed {
		if a == value {
			passed = true
			break
		}
	}
	return append(results, CriterionResult{
		Name:     name,
		Passed:   passed,
		Expected: "one of [" + strings.Join(allowed, ", ") + "]",
		Actual:   orNone(value),
	})
}

func formatRange(min, max *float64) string {
	lo, hi := "unbounded", "unbounded"
	if min != nil {
		lo = formatNumber(*min)
	}
	if max != nil {
		hi = formatNumber(*max)
	}
	return lo + " to " + hi
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func orNone(s string) string {
	if s == "" {
		return noValue
	}
	return s
}
