package models

import (
	"time"
)

// CompanyRecord is one company profile extracted from a profile page.
// Optional fields are nil when the page does not carry the value.
type CompanyRecord struct {
	CompanyName    string    `json:"company_name"`
	Category       *string   `json:"category"`
	Subcategory    *string   `json:"subcategory"`
	AvgReviewScore *string   `json:"avg_review_score"`
	ReviewCount    string    `json:"review_count"`
	Address        *string   `json:"address"`
	Website        *string   `json:"website"`
	Email          *string   `json:"email"`
	Phone          *string   `json:"phone"`
	TrustpilotURL  string    `json:"trustpilot_url"`
	Country        string    `json:"country"`
	ScrapedAt      time.Time `json:"scraped_at"`
}

// NewCompanyRecord creates a record for the profile at pageURL.
func NewCompanyRecord(pageURL, country string) *CompanyRecord {
	return &CompanyRecord{
		TrustpilotURL: pageURL,
		Country:       country,
		ScrapedAt:     time.Now(),
	}
}

// Validate reports the invariants a record must satisfy before it is emitted.
func (c *CompanyRecord) Validate() []string {
	var errors []string

	if c.CompanyName == "" {
		errors = append(errors, "company_name is required")
	}

	if c.TrustpilotURL == "" {
		errors = append(errors, "trustpilot_url is required")
	}

	if c.Country == "" {
		errors = append(errors, "country is required")
	}

	return errors
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}

// Deref returns the pointed-to value or "" when p is nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
