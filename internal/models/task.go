package models

import "fmt"

// Handler tags which parser a fetched page must be routed to.
type Handler int

const (
	CategoryPage Handler = iota
	ListingPage
	ProfilePage
)

func (h Handler) String() string {
	switch h {
	case CategoryPage:
		return "category_page"
	case ListingPage:
		return "listing_page"
	case ProfilePage:
		return "profile_page"
	default:
		return fmt.Sprintf("handler(%d)", int(h))
	}
}

// CarriedContext is the metadata threaded from category discovery down to
// profile extraction. It is always passed by value.
type CarriedContext struct {
	Category    *string
	Subcategory *string
}

// WithSubcategory returns a copy of the context with the subcategory replaced.
func (c CarriedContext) WithSubcategory(subcategory string) CarriedContext {
	return CarriedContext{
		Category:    copyString(c.Category),
		Subcategory: StringPtr(subcategory),
	}
}

// Clone returns a deep copy so no two tasks share pointer targets.
func (c CarriedContext) Clone() CarriedContext {
	return CarriedContext{
		Category:    copyString(c.Category),
		Subcategory: copyString(c.Subcategory),
	}
}

// CrawlTask is one unit of future work emitted by a parse step.
type CrawlTask struct {
	URL     string
	Handler Handler
	Context CarriedContext
}

func NewCrawlTask(url string, handler Handler, ctx CarriedContext) CrawlTask {
	return CrawlTask{
		URL:     url,
		Handler: handler,
		Context: ctx.Clone(),
	}
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
