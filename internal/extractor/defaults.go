package extractor

// DefaultSelectors — распространённые варианты вёрстки магазинов (schema.org, WooCommerce,
// типовые классы). Используется как запасной набор для селекторов из конфигурации.
func DefaultSelectors() SelectorSet {
	return SelectorSet{
		Cards: []string{"[itemtype*='schema.org/Product']", ".product-card", ".product-item", "li.product", "[data-product-id]"},
		Name: []Candidate{
			Text("[itemprop=name]"),
			Text(".product-title"),
			Text(".product-name"),
			Text("h2 a"),
			Text("h3 a"),
			Text("h1"),
			Text("h2"),
			Text("h3"),
			Attr("meta[property='og:title']", "content"),
		},
		Price: []Candidate{
			Attr("[itemprop=price]", "content"),
			Text("[itemprop=price]"),
			Attr("[data-price]", "data-price"),
			Text(".price .amount"),
			Text(".product-price"),
			Text(".price"),
			Attr("meta[property='product:price:amount']", "content"),
		},
		Currency: []Candidate{
			Attr("[itemprop=priceCurrency]", "content"),
			Attr("meta[property='product:price:currency']", "content"),
		},
		Stock: []Candidate{
			Attr("[itemprop=availability]", "href"),
			Attr("[itemprop=availability]", "content"),
			Attr("[data-stock]", "data-stock"),
			Text(".stock-status"),
			Text(".availability"),
			Text(".stock"),
		},
		Link: []Candidate{
			Attr("a.product-link", "href"),
			Attr("[itemprop=url]", "href"),
			Attr("a[href]", "href"),
			Attr("link[rel=canonical]", "href"),
		},
		Image: []Candidate{
			Attr("img[data-src]", "data-src"),
			Attr("[itemprop=image]", "src"),
			Attr("img", "src"),
			Attr("meta[property='og:image']", "content"),
		},
		SKU: []Candidate{
			Attr("[data-sku]", "data-sku"),
			Attr("[data-product-id]", "data-product-id"),
			Text("[itemprop=sku]"),
			Attr("[itemprop=sku]", "content"),
		},
		GTIN: []Candidate{
			Text("[itemprop=gtin13]"),
			Attr("[itemprop=gtin13]", "content"),
			Attr("[data-ean]", "data-ean"),
			Text("[itemprop=mpn]"),
		},
		Brand: []Candidate{
			Text("[itemprop=brand] [itemprop=name]"),
			Text("[itemprop=brand]"),
			Text(".brand"),
		},
		Category: []Candidate{
			Text(".breadcrumb li:last-child"),
			Text("nav.breadcrumbs a:last-of-type"),
		},
		NextPage: []Candidate{
			Attr("a[rel=next]", "href"),
			Attr("link[rel=next]", "href"),
			Attr(".pagination .next a", "href"),
			Attr("a.next", "href"),
		},
		SpecRows:    []string{"table.specifications tr", ".product-specs tr", "dl.specs > div"},
		ProductRoot: []string{"[itemtype*='schema.org/Product']", ".product-detail", "main"},
	}
}
