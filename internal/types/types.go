// Package types defines the shared data model for research jobs:
// categories, documents, per-category counters, and briefing records.
package types

// Category identifies one of the four independent research pipelines.
type Category string

// Research categories. Each gets its own analyzer, curation pass,
// enrichment counters, and briefing.
const (
	CategoryCompany   Category = "company"
	CategoryIndustry  Category = "industry"
	CategoryFinancial Category = "financial"
	CategoryNews      Category = "news"
)

// AllCategories returns the categories in their report section order.
func AllCategories() []Category {
	return []Category{CategoryCompany, CategoryIndustry, CategoryFinancial, CategoryNews}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryCompany, CategoryIndustry, CategoryFinancial, CategoryNews:
		return true
	}
	return false
}

// Document is one retrieved source within a category. Created by an
// analyzer; Kept is set by the curator, EnrichedContent/ExtractionError
// by the enricher. Documents are never deleted, only superseded when a
// higher-scoring duplicate arrives for the same normalized URL.
type Document struct {
	URL             string   `json:"url"` // normalized, unique per job+category
	Category        Category `json:"category"`
	Title           string   `json:"title,omitempty"`
	Snippet         string   `json:"snippet,omitempty"`
	Score           float64  `json:"score"` // relevance in [0,1]
	Query           string   `json:"query,omitempty"`
	Kept            bool     `json:"kept"`
	EnrichedContent string   `json:"enriched_content,omitempty"`
	ExtractionError string   `json:"extraction_error,omitempty"`
}

// Content returns the best available text for the document: the
// enriched full content when extraction succeeded, the search snippet
// otherwise.
func (d *Document) Content() string {
	if d.EnrichedContent != "" {
		return d.EnrichedContent
	}
	return d.Snippet
}

// CategoryCounts tracks per-category pipeline progress.
// Invariants: 0 <= Kept <= Initial and 0 <= EnrichedDone <= EnrichedTotal.
// Failed extractions reduce EnrichedTotal rather than counting as done.
type CategoryCounts struct {
	Initial       int `json:"initial"`
	Kept          int `json:"kept"`
	EnrichedTotal int `json:"enriched_total"`
	EnrichedDone  int `json:"enriched_done"`
}

// BriefStatus is the lifecycle state of a category briefing.
type BriefStatus string

// Briefing states.
const (
	BriefPending BriefStatus = "pending"
	BriefDone    BriefStatus = "done"
	BriefFailed  BriefStatus = "failed"
)

// BriefingRecord holds the synthesized summary for one category.
// A failed briefing keeps a placeholder text so the editor can still
// compile a report with an explicit gap.
type BriefingRecord struct {
	Status BriefStatus `json:"status"`
	Text   string      `json:"text,omitempty"`
}

// InsufficientDataMarker replaces a brief that could not be generated.
// The editor includes it verbatim so gaps are visible in the report.
const InsufficientDataMarker = "(insufficient data: no briefing could be generated for this category)"

// JobInput is the structured request that starts a research job.
// Only the company name is required; the rest narrows the search.
type JobInput struct {
	Company    string `json:"company" validate:"required,min=2"`
	CompanyURL string `json:"company_url,omitempty" validate:"omitempty,url"`
	Industry   string `json:"industry,omitempty"`
	HQLocation string `json:"hq_location,omitempty"`
}
