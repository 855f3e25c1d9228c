package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/trustpilot-scraper/internal/models"
)

const (
	categoryCardSelector    = `div[class*="CDS_Card"]`
	categoryHeadingSelector = "h2"
	subcategoryLinkSelector = `a[href*="/categories/"]`
)

// ParseCategories reads the category index page and emits one ListingPage
// task per subcategory link of the first categoryLimit cards.
func (p *TrustpilotParser) ParseCategories(doc *goquery.Document, pageURL string) ([]models.CrawlTask, error) {
	p.logger.Info("parsing categories page", "url", pageURL)

	cards := doc.Find(categoryCardSelector)
	p.logger.Debug("found categories", "count", cards.Length())

	names := make([]string, 0, cards.Length())
	var extractErr error
	cards.EachWithBreak(func(i int, card *goquery.Selection) bool {
		heading, ok := firstOwnText(card.Find(categoryHeadingSelector))
		if !ok {
			extractErr = missing(pageURL, models.CategoryPage, "category_name",
				fmt.Sprintf("category card at index %d has no <h2> text", i))
			return false
		}
		names = append(names, NormalizeCategoryName(strings.TrimSpace(heading)))
		return true
	})
	if extractErr != nil {
		return nil, extractErr
	}

	limit := cards.Length()
	if p.categoryLimit >= 0 && p.categoryLimit < limit {
		limit = p.categoryLimit
	}

	var tasks []models.CrawlTask
	for idx := 0; idx < limit; idx++ {
		card := cards.Eq(idx)
		links := card.ChildrenFiltered("ul").Find(subcategoryLinkSelector)
		category := names[idx]

		p.logger.Info("processing category", "category", category, "subcategories", links.Length())

		carried := models.CarriedContext{Category: models.StringPtr(category)}
		links.Each(func(_ int, link *goquery.Selection) {
			href, _ := link.Attr("href")
			target, err := p.WithCountryParam(href)
			if err != nil {
				p.logger.Debug("skipping subcategory link", "href", href, "error", err)
				return
			}
			tasks = append(tasks, models.NewCrawlTask(target, models.ListingPage, carried))
		})
	}

	return tasks, nil
}
