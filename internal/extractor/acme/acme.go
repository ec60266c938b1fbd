// Package acme — эталонный экстрактор для магазина Acme (acme.test).
package acme

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/DRSN-tech/price-sync/internal/extractor"
	"github.com/PuerkitoBio/goquery"
)

const (
	Name     = "acme"
	Currency = "GBP"
)

// Selectors — вёрстка Acme. Недостающие поля добираются из extractor.DefaultSelectors.
func Selectors() extractor.SelectorSet {
	own := extractor.SelectorSet{
		Cards: []string{".product-grid .product-card", ".product-card", ".product-item", "li.product", "[data-product-id]"},
		Name: []extractor.Candidate{
			extractor.Text(".product-card__title"),
			extractor.Text(".product-title"),
			extractor.Text("h1.pdp-title"),
			extractor.Text("h2 a"),
			extractor.Text("h3"),
			extractor.Text("h1"),
		},
		Price: []extractor.Candidate{
			extractor.Attr("[data-price]", "data-price"),
			extractor.Text(".price--sale"),
			extractor.Text(".price__current"),
			extractor.Text(".product-price"),
			extractor.Text(".price"),
		},
		Stock: []extractor.Candidate{
			extractor.Attr("[data-stock-level]", "data-stock-level"),
			extractor.Text(".stock-level"),
			extractor.Text(".availability"),
			extractor.Text(".stock"),
		},
		Link: []extractor.Candidate{
			extractor.Attr("a.product-card__link", "href"),
			extractor.Attr("h2 a", "href"),
			extractor.Attr("a[href]", "href"),
		},
		SKU: []extractor.Candidate{
			extractor.Attr("[data-product-id]", "data-product-id"),
			extractor.Attr("[data-sku]", "data-sku"),
			extractor.Text(".sku-value"),
		},
		Category: []extractor.Candidate{
			extractor.Text(".breadcrumb li:last-child"),
			extractor.Text(".breadcrumbs a:last-of-type"),
		},
		NextPage: []extractor.Candidate{
			extractor.Attr("a[rel=next]", "href"),
			extractor.Attr(".pagination__next", "href"),
			extractor.Attr(".pagination .next a", "href"),
		},
		SpecRows:    []string{".spec-table tr", "table.specifications tr"},
		ProductRoot: []string{".pdp", ".product-detail", "main"},
	}
	return own.Merge(extractor.DefaultSelectors())
}

// Extractor разбирает страницы Acme. Карточка товара дополнительно читает JSON-LD Product,
// если вёрстка не дала цену или имя.
type Extractor struct {
	base *extractor.SelectorExtractor
}

func New() *Extractor {
	return &Extractor{base: extractor.NewSelectorExtractor(Selectors(), Currency)}
}

func (x *Extractor) ExtractCategoryPage(doc *goquery.Document, pageURL *url.URL) ([]domain.ExtractedListing, string) {
	return x.base.ExtractCategoryPage(doc, pageURL)
}

func (x *Extractor) ExtractProductPage(doc *goquery.Document, pageURL *url.URL) *domain.ExtractedListing {
	if l := x.base.ExtractProductPage(doc, pageURL); l != nil {
		if l.SKU == "" || l.Brand == "" {
			if ld := productFromJSONLD(doc); ld != nil {
				fillMissing(l, ld)
			}
		}
		return l
	}

	ld := productFromJSONLD(doc)
	if ld == nil {
		return nil
	}
	l := ld.listing(pageURL)
	l.Category = extractor.FirstMatch(doc.Selection, x.base.Selectors().Category)
	return extractor.Accept(l)
}

func fillMissing(l *domain.ExtractedListing, ld *ldProduct) {
	if l.SKU == "" {
		l.SKU = ld.gtin()
	}
	if l.Brand == "" {
		l.Brand = ld.Brand.Name
	}
	if l.ImageURL == "" {
		l.ImageURL = ld.image()
	}
}

type ldBrand struct {
	Name string
}

// UnmarshalJSON принимает бренд и строкой, и объектом {"name": ...}.
func (b *ldBrand) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.Name = s
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	b.Name = obj.Name
	return nil
}

type ldOffer struct {
	Price         any    `json:"price"`
	LowPrice      any    `json:"lowPrice"`
	PriceCurrency string `json:"priceCurrency"`
	Availability  string `json:"availability"`
}

type ldProduct struct {
	Type   any             `json:"@type"`
	Name   string          `json:"name"`
	SKU    string          `json:"sku"`
	GTIN13 string          `json:"gtin13"`
	GTIN   string          `json:"gtin"`
	MPN    string          `json:"mpn"`
	Brand  ldBrand         `json:"brand"`
	Image  any             `json:"image"`
	URL    string          `json:"url"`
	Offers json.RawMessage `json:"offers"`
}

func (p *ldProduct) isProduct() bool {
	switch t := p.Type.(type) {
	case string:
		return t == "Product"
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s == "Product" {
				return true
			}
		}
	}
	return false
}

func (p *ldProduct) gtin() string {
	for _, v := range []string{p.GTIN13, p.GTIN, p.MPN} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (p *ldProduct) image() string {
	switch v := p.Image.(type) {
	case string:
		return v
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func (p *ldProduct) offer() ldOffer {
	var single ldOffer
	if err := json.Unmarshal(p.Offers, &single); err == nil {
		return single
	}
	var many []ldOffer
	if err := json.Unmarshal(p.Offers, &many); err == nil && len(many) > 0 {
		return many[0]
	}
	return ldOffer{}
}

func (p *ldProduct) listing(pageURL *url.URL) *domain.ExtractedListing {
	offer := p.offer()
	price := offer.Price
	if price == nil {
		price = offer.LowPrice
	}

	l := &domain.ExtractedListing{
		MerchantSKU: strings.TrimSpace(p.SKU),
		SKU:         p.gtin(),
		Name:        p.Name,
		Brand:       p.Brand.Name,
		Price:       extractor.ParsePrice(anyToString(price)),
		Currency:    offer.PriceCurrency,
		StockLevel:  extractor.StockFromText(offer.Availability),
		URL:         extractor.Resolve(pageURL, p.URL),
		ImageURL:    extractor.Resolve(pageURL, p.image()),
		Specs:       map[string]string{},
	}
	if l.URL == "" && pageURL != nil {
		l.URL = pageURL.String()
	}
	if l.Currency == "" {
		l.Currency = Currency
	}
	return l
}

func anyToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.2f", t)
	default:
		return fmt.Sprint(t)
	}
}

// productFromJSONLD ищет первый объект Product среди блоков ld+json, включая @graph и массивы.
func productFromJSONLD(doc *goquery.Document) *ldProduct {
	var found *ldProduct
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = findProduct([]byte(s.Text()))
		return found == nil
	})
	return found
}

func findProduct(raw []byte) *ldProduct {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if p := findProduct(item); p != nil {
				return p
			}
		}
		return nil
	}

	var graph struct {
		Graph []json.RawMessage `json:"@graph"`
	}
	if err := json.Unmarshal(raw, &graph); err == nil && len(graph.Graph) > 0 {
		for _, item := range graph.Graph {
			if p := findProduct(item); p != nil {
				return p
			}
		}
		return nil
	}

	var p ldProduct
	if err := json.Unmarshal(raw, &p); err != nil || !p.isProduct() {
		return nil
	}
	return &p
}
