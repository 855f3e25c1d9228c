package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerString(t *testing.T) {
	assert.Equal(t, "category_page", CategoryPage.String())
	assert.Equal(t, "listing_page", ListingPage.String())
	assert.Equal(t, "profile_page", ProfilePage.String())
	assert.Equal(t, "handler(9)", Handler(9).String())
}

func TestCarriedContextIsCopied(t *testing.T) {
	category := "home_garden"
	ctx := CarriedContext{Category: &category}

	task := NewCrawlTask("https://example.com", ListingPage, ctx)
	category = "changed"

	assert.Equal(t, "home_garden", *task.Context.Category)
	assert.Nil(t, task.Context.Subcategory)

	next := task.Context.WithSubcategory("furniture")
	*next.Category = "other"
	assert.Equal(t, "home_garden", *task.Context.Category)
	assert.Equal(t, "furniture", *next.Subcategory)
}

func TestCompanyRecordValidate(t *testing.T) {
	record := NewCompanyRecord("https://www.trustpilot.com/review/x", "DE")
	assert.Equal(t, []string{"company_name is required"}, record.Validate())

	record.CompanyName = "X"
	assert.Empty(t, record.Validate())
	assert.False(t, record.ScrapedAt.IsZero())
}

func TestDeref(t *testing.T) {
	assert.Equal(t, "", Deref(nil))
	assert.Equal(t, "x", Deref(StringPtr("x")))
}
