// Command trustpilot-scraper crawls company profiles from the review site.
//
// Usage:
//
//	trustpilot-scraper crawl --country DE --output output_de.json
//	trustpilot-scraper serve
package main

func main() {
	Execute()
}
