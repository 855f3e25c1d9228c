package parser

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/trustpilot-scraper/internal/models"
)

const (
	companyLinkSelector = `a[href*="/review"]`
	nextPageSelector    = `a[rel="next"]`
)

// ParseListing reads one page of a subcategory listing. It emits a
// ProfilePage task per company link and, when the page has a rel=next
// anchor, a ListingPage task for the following page.
//
// The subcategory is recomputed from pageURL on every call; the value
// carried from the parent task is ignored.
func (p *TrustpilotParser) ParseListing(doc *goquery.Document, pageURL string, carried models.CarriedContext) ([]models.CrawlTask, error) {
	p.logger.Debug("parsing category pagination", "url", pageURL)

	subcategory, err := DeriveSubcategory(pageURL)
	if err != nil {
		return nil, err
	}

	current, err := url.Parse(pageURL)
	if err != nil {
		return nil, &CategoryDerivationError{URL: pageURL, Err: err}
	}

	companyLinks := doc.Find(companyLinkSelector)
	p.logger.Info("found company links on page", "url", pageURL, "count", companyLinks.Length())

	next := carried.WithSubcategory(subcategory)
	tasks := make([]models.CrawlTask, 0, companyLinks.Length()+1)

	companyLinks.Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		target, err := resolve(current, href)
		if err != nil || href == "" {
			p.logger.Debug("skipping company link", "href", href, "error", err)
			return
		}
		tasks = append(tasks, models.NewCrawlTask(target.String(), models.ProfilePage, next))
	})

	nextHref, ok := doc.Find(nextPageSelector).First().Attr("href")
	if !ok || nextHref == "" {
		p.logger.Debug("no next page", "url", pageURL)
		return tasks, nil
	}

	absolute, err := resolve(current, nextHref)
	if err != nil {
		p.logger.Warn("invalid next page link", "href", nextHref, "error", err)
		return tasks, nil
	}

	nextURL, err := p.WithCountryParam(absolute.String())
	if err != nil {
		p.logger.Warn("invalid next page link", "href", nextHref, "error", err)
		return tasks, nil
	}

	p.logger.Debug("following next page", "url", nextURL)
	tasks = append(tasks, models.NewCrawlTask(nextURL, models.ListingPage, next))

	return tasks, nil
}
