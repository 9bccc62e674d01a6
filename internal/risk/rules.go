package risk

import (
	"fmt"
	"sort"
)

// RuleCode identifies exactly one clinical condition check.
type RuleCode string

// Category is the alert deduplication key together with the patient.
type Category string

const (
	ADH01 RuleCode = "ADH01"
	ADH02 RuleCode = "ADH02"
	ADH03 RuleCode = "ADH03"
	ABN01 RuleCode = "ABN01"
	ABN02 RuleCode = "ABN02"
	ABN03 RuleCode = "ABN03"
	TRF01 RuleCode = "TRF01"
	TRF02 RuleCode = "TRF02"
	TRF03 RuleCode = "TRF03"
	RST01 RuleCode = "RST01"
	RST02 RuleCode = "RST02"
	RST03 RuleCode = "RST03"
	EDU01 RuleCode = "EDU01"
	EDU02 RuleCode = "EDU02"
	EDU03 RuleCode = "EDU03"
	EDU04 RuleCode = "EDU04"
	CMP01 RuleCode = "CMP01"
	CMP02 RuleCode = "CMP02"
)

const (
	CategoryAdherence                Category = "adherence"
	CategoryDropoutRisk              Category = "dropout-risk"
	CategoryTreatmentIneffectiveness Category = "treatment-ineffectiveness"
	CategoryDrugResistance           Category = "drug-resistance"
	CategoryEducationalGap           Category = "educational-gap"
	CategoryProlongedInactivity      Category = "prolonged-inactivity"
)

// Categories lists every category in materialization order.
var Categories = []Category{
	CategoryAdherence,
	CategoryDropoutRisk,
	CategoryTreatmentIneffectiveness,
	CategoryDrugResistance,
	CategoryEducationalGap,
	CategoryProlongedInactivity,
}

// AllCodes lists every rule code in evaluation order.
var AllCodes = []RuleCode{
	ADH01, ADH02, ADH03,
	ABN01, ABN02, ABN03,
	TRF01, TRF02, TRF03,
	RST01, RST02, RST03,
	EDU01, EDU02, EDU03, EDU04,
	CMP01, CMP02,
}

// categoryTable is the static code to category grouping. CMP02 (no record
// at all) is a dropout signal; CMP01 (no recent appointment) is inactivity.
var categoryTable = map[Category][]RuleCode{
	CategoryAdherence:                {ADH01, ADH02, ADH03},
	CategoryDropoutRisk:              {ABN01, ABN02, ABN03, CMP02},
	CategoryTreatmentIneffectiveness: {TRF01, TRF02, TRF03},
	CategoryDrugResistance:           {RST01, RST02, RST03},
	CategoryEducationalGap:           {EDU01, EDU02, EDU03, EDU04},
	CategoryProlongedInactivity:      {CMP01},
}

var codeCategory = invertTable(categoryTable)

func invertTable(t map[Category][]RuleCode) map[RuleCode]Category {
	out := make(map[RuleCode]Category)
	for cat, codes := range t {
		for _, c := range codes {
			out[c] = cat
		}
	}
	return out
}

var categoryLabels = map[Category]string{
	CategoryAdherence:                "Low treatment adherence",
	CategoryDropoutRisk:              "Risk of treatment dropout",
	CategoryTreatmentIneffectiveness: "Treatment may be ineffective",
	CategoryDrugResistance:           "Suspected drug resistance",
	CategoryEducationalGap:           "Educational follow-up needed",
	CategoryProlongedInactivity:      "Prolonged inactivity",
}

var recommendations = map[RuleCode]string{
	ADH01: "Two or more missed appointments in the last 30 days: contact the patient and reinforce adherence.",
	ADH02: "Treatment history shows interruptions of 3 days or more: review dose supervision.",
	ADH03: "Clinical record not updated for 14 days or more: schedule a clinical review.",
	ABN01: "Missed appointments combined with a treatment interruption of 5 days or more: high dropout risk, arrange a home visit.",
	ABN02: "Weight loss of 5% or more with documented clinical decline: evaluate the patient urgently.",
	ABN03: "Clinical notes mention intent to abandon treatment: arrange counselling.",
	TRF01: "Symptoms persist after 4 weeks of treatment: reassess the treatment plan.",
	TRF02: "No weight gain after 4 weeks of treatment: evaluate treatment response and nutrition.",
	TRF03: "Symptoms recur across consecutive treatment updates: consider early relapse.",
	RST01: "Fever persists after 6 weeks of treatment: request drug susceptibility testing.",
	RST02: "Treatment changed two or more times: evaluate for drug resistance.",
	RST03: "Treatment changed without clinical improvement: request drug susceptibility testing.",
	EDU01: "No educational content viewed in 60 days: share updated educational material.",
	EDU02: "Low adherence and no educational engagement: assign adherence education content.",
	EDU03: "Repeated views of adherence-risk content with low adherence: schedule a personal education session.",
	EDU04: "Fewer missed appointments since the patient started viewing educational content: keep reinforcing education.",
	CMP01: "No appointment in more than 30 days: schedule a follow-up appointment.",
	CMP02: "Patient has no appointments, treatment or clinical record: complete the initial assessment.",
}

// CategoryOf returns the category a code belongs to.
func CategoryOf(code RuleCode) (Category, bool) {
	c, ok := codeCategory[code]
	return c, ok
}

// Recommendation returns the recommendation text for a code.
func Recommendation(code RuleCode) string {
	return recommendations[code]
}

// CategoryLabel returns the human readable name of a category.
func CategoryLabel(c Category) string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

// ValidateRuleTable checks that every rule code belongs to exactly one known
// category and has a recommendation. It is called once at startup.
func ValidateRuleTable() error {
	return validateTable(categoryTable, AllCodes)
}

func validateTable(table map[Category][]RuleCode, codes []RuleCode) error {
	known := make(map[Category]bool, len(Categories))
	for _, c := range Categories {
		known[c] = true
	}

	seen := make(map[RuleCode]Category)
	cats := make([]string, 0, len(table))
	for c := range table {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)

	for _, name := range cats {
		cat := Category(name)
		if !known[cat] {
			return fmt.Errorf("rule table: unknown category %q", cat)
		}
		for _, code := range table[cat] {
			if prev, dup := seen[code]; dup {
				return fmt.Errorf("rule table: code %s is in both %q and %q", code, prev, cat)
			}
			seen[code] = cat
		}
	}

	for _, code := range codes {
		if _, ok := seen[code]; !ok {
			return fmt.Errorf("rule table: code %s has no category", code)
		}
		if recommendations[code] == "" {
			return fmt.Errorf("rule table: code %s has no recommendation", code)
		}
	}
	if len(seen) != len(codes) {
		return fmt.Errorf("rule table: %d codes mapped but %d defined", len(seen), len(codes))
	}
	return nil
}
