package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/trustpilot-scraper/internal/models"
)

// Parser is the contract the crawl scheduler relies on. Every method is a
// pure function of its inputs: no I/O, no shared mutable state.
type Parser interface {
	ParseCategories(doc *goquery.Document, pageURL string) ([]models.CrawlTask, error)
	ParseListing(doc *goquery.Document, pageURL string, carried models.CarriedContext) ([]models.CrawlTask, error)
	ParseProfile(doc *goquery.Document, pageURL string, carried models.CarriedContext) (*models.CompanyRecord, error)
	Parse(task models.CrawlTask, doc *goquery.Document) (*Result, error)
}

// Result is the outcome of parsing one fetched page: follow-up tasks for the
// frontier and, for profile pages, the extracted record.
type Result struct {
	Tasks  []models.CrawlTask
	Record *models.CompanyRecord
}

// ownTexts returns the trimmed, non-blank text nodes that are direct children
// of the selected elements, in document order.
func ownTexts(sel *goquery.Selection) []string {
	var texts []string
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) != "#text" {
			return
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			texts = append(texts, s.Text())
		}
	})
	return texts
}

func firstOwnText(sel *goquery.Selection) (string, bool) {
	texts := ownTexts(sel)
	if len(texts) == 0 {
		return "", false
	}
	return texts[0], true
}

func lastOwnText(sel *goquery.Selection) (string, bool) {
	texts := ownTexts(sel)
	if len(texts) == 0 {
		return "", false
	}
	return texts[len(texts)-1], true
}
