package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/trustpilot-scraper/internal/models"
)

const (
	companyNameSelector = `h1 span[class*="title_displayName"]`
	trustScoreSelector  = `p[class*="trustScore"]`
	reviewCountSelector = `span[class*="reviewsAndRating"]`
	contactItemSelector = `ul[class*="itemsColumn"] > li`
)

// ParseProfile extracts a single CompanyRecord from a company profile page.
// A missing name or review count fails the whole page; every other field is
// optional.
func (p *TrustpilotParser) ParseProfile(doc *goquery.Document, pageURL string, carried models.CarriedContext) (*models.CompanyRecord, error) {
	page, err := url.Parse(pageURL)
	if err != nil {
		return nil, missing(pageURL, models.ProfilePage, "trustpilot_url", err.Error())
	}

	name, ok := firstOwnText(doc.Find(companyNameSelector))
	if !ok {
		return nil, missing(pageURL, models.ProfilePage, "company_name", "display name heading not found")
	}

	record := models.NewCompanyRecord(pageURL, p.country)
	record.CompanyName = strings.TrimSpace(name)
	p.logger.Info("extracted company", "company", record.CompanyName, "url", pageURL)

	carried = carried.Clone()
	record.Category = carried.Category
	record.Subcategory = carried.Subcategory

	if score, ok := firstOwnText(doc.Find(trustScoreSelector)); ok {
		record.AvgReviewScore = models.StringPtr(strings.TrimSpace(score))
	}

	count, ok := lastOwnText(doc.Find(reviewCountSelector))
	if !ok {
		return nil, missing(pageURL, models.ProfilePage, "review_count", "no reviews and rating text found")
	}
	record.ReviewCount = strings.TrimSpace(strings.ReplaceAll(count, ",", ""))

	contacts := p.classifyContacts(page, doc.Find(contactItemSelector))
	record.Website = contacts.Website
	record.Email = contacts.Email
	record.Phone = contacts.Phone
	record.Address = contacts.Address

	if problems := record.Validate(); len(problems) > 0 {
		return nil, missing(pageURL, models.ProfilePage, "record", strings.Join(problems, "; "))
	}

	return record, nil
}
