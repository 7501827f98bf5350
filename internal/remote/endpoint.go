package remote

import (
	"strings"

	"github.com/jmgilman/go/catalog/internal/model"
)

// DefaultBaseURL hosts the public recipe catalog.
const DefaultBaseURL = "https://d3jbb8n5wk0qxi.cloudfront.net"

// Known catalog variants.
const (
	SelectorAll       model.Selector = "all"
	SelectorMalformed model.Selector = "malformed"
	SelectorEmpty     model.Selector = "empty"
)

// Endpoint maps a selector to the document that serves it.
// A strict endpoint rejects a response containing any invalid item; a lenient
// one drops invalid items.
type Endpoint struct {
	Selector model.Selector
	URL      string
	Strict   bool
}

// DefaultEndpoints returns the known catalog variants served from baseURL.
func DefaultEndpoints(baseURL string) []Endpoint {
	base := strings.TrimRight(baseURL, "/")
	return []Endpoint{
		{Selector: SelectorAll, URL: base + "/recipes.json", Strict: true},
		{Selector: SelectorMalformed, URL: base + "/recipes-malformed.json", Strict: false},
		{Selector: SelectorEmpty, URL: base + "/recipes-empty.json", Strict: true},
	}
}
