package parser

import (
	"testing"

	"github.com/maltedev/trustpilot-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndToEndScenario(t *testing.T) {
	p := newTestParser(t)

	categoriesHTML := categoryCard("Home & Garden", "/categories/furniture") +
		categoryCard("Money", "/categories/bank") +
		categoryCard("Travel", "/categories/hotels")

	result, err := p.Parse(p.StartTask(), mustDoc(t, categoriesHTML))
	require.NoError(t, err)
	assert.Nil(t, result.Record)
	require.Len(t, result.Tasks, 2)
	for _, task := range result.Tasks {
		assert.Equal(t, models.ListingPage, task.Handler)
	}

	listingTask := result.Tasks[0]
	result, err = p.Parse(listingTask, mustDoc(t, listingHTML))
	require.NoError(t, err)
	require.Len(t, result.Tasks, 3)

	var profiles, listings []models.CrawlTask
	for _, task := range result.Tasks {
		switch task.Handler {
		case models.ProfilePage:
			profiles = append(profiles, task)
		case models.ListingPage:
			listings = append(listings, task)
		}
	}
	assert.Len(t, profiles, 2)
	assert.Len(t, listings, 1)

	profileHTML := `<h1><span class="title_displayName">IKEA</span></h1><span class="reviewsAndRating">99</span>`
	result, err = p.Parse(profiles[0], mustDoc(t, profileHTML))
	require.NoError(t, err)
	assert.Empty(t, result.Tasks)
	require.NotNil(t, result.Record)
	assert.Nil(t, result.Record.AvgReviewScore)
	assert.Equal(t, "home_garden", *result.Record.Category)
	assert.Equal(t, "furniture", *result.Record.Subcategory)
	assert.Equal(t, profiles[0].URL, result.Record.TrustpilotURL)
}

func TestParseMissingNameYieldsNoRecord(t *testing.T) {
	p := newTestParser(t)
	task := models.NewCrawlTask(profileURL, models.ProfilePage, models.CarriedContext{})

	result, err := p.Parse(task, mustDoc(t, `<span class="reviewsAndRating">99</span>`))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestParseUnknownHandler(t *testing.T) {
	p := newTestParser(t)

	_, err := p.Parse(models.CrawlTask{URL: profileURL, Handler: models.Handler(42)}, mustDoc(t, "<html></html>"))
	assert.ErrorIs(t, err, ErrUnknownHandler)
}
