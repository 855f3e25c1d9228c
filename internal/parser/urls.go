package parser

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	categoriesSegment  = "/categories/"
	unknownSubcategory = "unknown_subcategory"
	countryParam       = "country"
)

var slugReplacer = strings.NewReplacer("&", "_", ",", "_", " ", "")

// NormalizeCategoryName turns a category heading into its slug:
// "&" and "," become "_", spaces are removed, the result is lower-cased.
func NormalizeCategoryName(name string) string {
	return strings.ToLower(slugReplacer.Replace(name))
}

// AddCountryParam resolves rawURL against base and force-sets the country
// query parameter, keeping every other parameter. Parameters are encoded in
// sorted key order so the result is deterministic and the operation is
// idempotent. A query that cannot be parsed, such as one using ";"
// separators, is an error rather than being partially dropped.
func AddCountryParam(base *url.URL, rawURL, country string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("empty url")
	}

	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", rawURL, err)
	}

	u := ref
	if !strings.HasPrefix(rawURL, "http") {
		u = base.ResolveReference(ref)
	}

	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return "", fmt.Errorf("failed to parse query of %q: %w", rawURL, err)
	}
	q.Set(countryParam, country)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// DeriveSubcategory returns the path segment that follows "/categories/" in
// pageURL, or "unknown_subcategory" when the path has no such segment.
func DeriveSubcategory(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", &CategoryDerivationError{URL: pageURL, Err: err}
	}

	_, rest, found := strings.Cut(u.Path, categoriesSegment)
	if !found {
		return unknownSubcategory, nil
	}

	segment, _, _ := strings.Cut(rest, "/")
	return segment, nil
}

// resolve makes href absolute relative to the page it was found on.
func resolve(pageURL *url.URL, href string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, err
	}
	return pageURL.ResolveReference(ref), nil
}

func stripQuery(link string) string {
	link, _, _ = strings.Cut(link, "?")
	return strings.TrimSpace(link)
}
