package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/trustpilot-scraper/internal/models"
)

const (
	mailtoScheme = "mailto:"
	telScheme    = "tel:"
)

// Contacts holds the contact channels found in a profile's items column.
type Contacts struct {
	Website *string
	Email   *string
	Phone   *string
	Address *string
}

// classifyContacts walks the contact list items in document order.
//
// Items with links feed website, email and phone, each keeping the first
// candidate it sees. Links pointing back at the review site itself are never
// a website. Items without links are address blocks, and the last one wins.
func (p *TrustpilotParser) classifyContacts(page *url.URL, items *goquery.Selection) Contacts {
	var c Contacts

	items.Each(func(_ int, item *goquery.Selection) {
		var hrefs []string
		item.Find("a").Each(func(_ int, a *goquery.Selection) {
			if href, ok := a.Attr("href"); ok {
				hrefs = append(hrefs, href)
			}
		})

		if len(hrefs) == 0 {
			if text, ok := firstOwnText(item.Find("p")); ok {
				c.Address = models.StringPtr(strings.TrimSpace(text))
			}
			return
		}

		for _, href := range hrefs {
			p.classifyHref(page, strings.TrimSpace(href), &c)
		}
	})

	return c
}

func (p *TrustpilotParser) classifyHref(page *url.URL, href string, c *Contacts) {
	if href == "" {
		return
	}

	switch {
	case hasPrefixFold(href, mailtoScheme):
		if c.Email == nil {
			email := href[len(mailtoScheme):]
			email, _, _ = strings.Cut(email, "?")
			if email = strings.TrimSpace(email); email != "" {
				c.Email = models.StringPtr(email)
			}
		}

	case hasPrefixFold(href, telScheme):
		if c.Phone == nil {
			if phone := strings.TrimSpace(href[len(telScheme):]); phone != "" {
				c.Phone = models.StringPtr(phone)
			}
		}

	default:
		link, err := resolve(page, href)
		if err != nil {
			p.logger.Debug("skipping unparsable contact link", "href", href, "error", err)
			return
		}
		if p.isInternal(link) {
			return
		}
		if c.Website == nil {
			if website := stripQuery(link.String()); website != "" {
				c.Website = models.StringPtr(website)
			}
		}
	}
}

// isInternal reports whether link points at the review site's own domain.
func (p *TrustpilotParser) isInternal(link *url.URL) bool {
	return strings.Contains(strings.ToLower(link.Hostname()), p.siteDomain)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

