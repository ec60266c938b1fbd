package acme

import (
	"net/url"
	"testing"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/DRSN-tech/price-sync/internal/extractor"
	"github.com/shopspring/decimal"
)

func parse(t *testing.T, html, rawURL string) (*Extractor, *url.URL, func() *domain.ExtractedListing) {
	t.Helper()
	doc, err := extractor.ParseDocument([]byte(html), "text/html")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	u, _ := url.Parse(rawURL)
	x := New()
	return x, u, func() *domain.ExtractedListing { return x.ExtractProductPage(doc, u) }
}

const toolsPage = `<html><body>
<ol class="breadcrumb"><li><a href="/">Home</a></li><li>Tools</li></ol>
<div class="product-grid">
  <article class="product-card" data-product-id="ACM-100">
    <a class="product-card__link" href="/products/claw-hammer"><h3 class="product-card__title">Claw Hammer 16oz</h3></a>
    <span class="price__current">£14.99</span>
    <span class="stock-level" data-stock-level="25"></span>
  </article>
  <article class="product-card" data-product-id="ACM-101">
    <a class="product-card__link" href="/products/tape"><h3 class="product-card__title">Tape Measure</h3></a>
    <span class="price__current">£1,299.99</span>
    <span class="availability">Only 3 left</span>
  </article>
  <article class="product-card" data-product-id="ACM-102">
    <h3 class="product-card__title">Ghost Item</h3>
    <span class="price__current">Coming soon</span>
  </article>
</div>
<a class="pagination__next" href="?page=2">Next</a>
</body></html>`

func TestCategoryPage(t *testing.T) {
	doc, err := extractor.ParseDocument([]byte(toolsPage), "text/html")
	if err != nil {
		t.Fatal(err)
	}
	page, _ := url.Parse("https://acme.test/c/tools")

	records, next := New().ExtractCategoryPage(doc, page)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if next != "https://acme.test/c/tools?page=2" {
		t.Fatalf("next = %q", next)
	}

	first := records[0]
	if first.MerchantSKU != "ACM-100" || first.Name != "Claw Hammer 16oz" {
		t.Fatalf("first = %+v", first)
	}
	if first.URL != "https://acme.test/products/claw-hammer" || first.Category != "Tools" {
		t.Fatalf("url/category = %s %s", first.URL, first.Category)
	}
	if first.StockLevel != 25 || first.StockStatus != domain.InStock {
		t.Fatalf("stock = %d %s", first.StockLevel, first.StockStatus)
	}
	if first.Currency != Currency {
		t.Fatalf("currency = %s", first.Currency)
	}

	second := records[1]
	if !second.Price.Equal(decimal.RequireFromString("1299.99")) {
		t.Fatalf("price = %s", second.Price)
	}
	if second.StockStatus != domain.LowStock {
		t.Fatalf("status = %s", second.StockStatus)
	}
}

func TestProductPageMarkup(t *testing.T) {
	html := `<html><body>
<ol class="breadcrumb"><li>Home</li><li>Power Tools</li></ol>
<div class="pdp" data-product-id="ACM-200">
  <h1 class="pdp-title">Cordless Drill</h1>
  <span class="price__current">£89.00</span>
  <span class="availability">In stock</span>
  <table class="spec-table"><tr><th>Voltage</th><td>18V</td></tr></table>
</div>
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Product","name":"Cordless Drill","gtin13":"5011234567890","brand":{"@type":"Brand","name":"Acme Pro"}}</script>
</body></html>`
	_, _, extract := parse(t, html, "https://acme.test/products/drill")

	l := extract()
	if l == nil {
		t.Fatal("expected a record")
	}
	if l.MerchantSKU != "ACM-200" || l.Category != "Power Tools" {
		t.Fatalf("sku/category = %s %s", l.MerchantSKU, l.Category)
	}
	if l.SKU != "5011234567890" || l.Brand != "Acme Pro" {
		t.Fatalf("json-ld fill = %s %s", l.SKU, l.Brand)
	}
	if l.Specs["Voltage"] != "18V" {
		t.Fatalf("specs = %v", l.Specs)
	}
	if l.URL != "https://acme.test/products/drill" {
		t.Fatalf("url = %s", l.URL)
	}
}

func TestProductPageJSONLDFallback(t *testing.T) {
	html := `<html><head>
<script type="application/ld+json">{"@graph":[{"@type":"WebPage"},{"@type":["Product"],"name":"Angle Grinder","sku":"ACM-300","mpn":"AG-9","brand":"Acme","image":["/img/ag.jpg"],"offers":[{"@type":"Offer","price":59.5,"priceCurrency":"EUR","availability":"https://schema.org/OutOfStock"}]}]}</script>
</head><body><div class="pdp"><h1>Angle Grinder</h1></div></body></html>`
	_, _, extract := parse(t, html, "https://acme.test/products/grinder")

	l := extract()
	if l == nil {
		t.Fatal("expected json-ld record")
	}
	if l.MerchantSKU != "ACM-300" || l.SKU != "AG-9" || l.Brand != "Acme" {
		t.Fatalf("ids = %s %s %s", l.MerchantSKU, l.SKU, l.Brand)
	}
	if !l.Price.Equal(decimal.RequireFromString("59.5")) || l.Currency != "EUR" {
		t.Fatalf("price = %s %s", l.Price, l.Currency)
	}
	if l.StockStatus != domain.OutOfStock {
		t.Fatalf("status = %s", l.StockStatus)
	}
	if l.ImageURL != "https://acme.test/img/ag.jpg" || l.URL != "https://acme.test/products/grinder" {
		t.Fatalf("image/url = %s %s", l.ImageURL, l.URL)
	}
}

func TestProductPageNothingUsable(t *testing.T) {
	_, _, extract := parse(t, `<html><body><p>Maintenance</p></body></html>`, "https://acme.test/products/x")
	if l := extract(); l != nil {
		t.Fatalf("expected nil, got %+v", l)
	}
}

func TestCardWithoutStockMarkupIsAvailable(t *testing.T) {
	html := `<div class="product-grid">
  <article class="product-card" data-product-id="ACM-200">
    <a class="product-card__link" href="/products/chisel"><h3 class="product-card__title">Wood Chisel</h3></a>
    <span class="price__current">£8.50</span>
  </article>
</div>`
	doc, err := extractor.ParseDocument([]byte(html), "text/html")
	if err != nil {
		t.Fatal(err)
	}
	page, _ := url.Parse("https://acme.test/c/tools")

	records, _ := New().ExtractCategoryPage(doc, page)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if l := records[0]; l.StockLevel != domain.InStockPlaceholder || l.StockStatus != domain.InStock {
		t.Fatalf("stock = %d %s", l.StockLevel, l.StockStatus)
	}
}
