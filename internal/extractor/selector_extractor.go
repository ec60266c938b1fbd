package extractor

import (
	"net/url"
	"strings"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/PuerkitoBio/goquery"
)

// SelectorExtractor — универсальный экстрактор на наборах кандидатов-селекторов.
// Подходит продавцам со стандартной вёрсткой карточек; селекторы задаются в merchants.yaml.
type SelectorExtractor struct {
	selectors SelectorSet
	currency  string
}

func NewSelectorExtractor(selectors SelectorSet, currency string) *SelectorExtractor {
	return &SelectorExtractor{selectors: selectors, currency: currency}
}

// Selectors возвращает используемый набор селекторов.
func (s *SelectorExtractor) Selectors() SelectorSet {
	return s.selectors
}

// ExtractCategoryPage разбирает карточки товаров на странице категории.
func (s *SelectorExtractor) ExtractCategoryPage(doc *goquery.Document, pageURL *url.URL) ([]domain.ExtractedListing, string) {
	category := FirstMatch(doc.Selection, s.selectors.Category)

	cards := FirstSelection(doc.Selection, s.selectors.Cards)
	records := make([]domain.ExtractedListing, 0, cards.Length())
	cards.Each(func(_ int, card *goquery.Selection) {
		if l := Accept(s.listingFrom(card, pageURL, category)); l != nil {
			records = append(records, *l)
		}
	})

	next := Resolve(pageURL, FirstMatch(doc.Selection, s.selectors.NextPage))
	if pageURL != nil && next == pageURL.String() {
		next = ""
	}

	return records, next
}

// ExtractProductPage разбирает карточку одного товара.
func (s *SelectorExtractor) ExtractProductPage(doc *goquery.Document, pageURL *url.URL) *domain.ExtractedListing {
	root := FirstSelection(doc.Selection, s.selectors.ProductRoot)
	if root.Length() == 0 {
		root = doc.Selection
	}

	l := s.listingFrom(root.First(), pageURL, FirstMatch(doc.Selection, s.selectors.Category))
	if l.URL == "" && pageURL != nil {
		l.URL = pageURL.String()
	}
	for _, rowSel := range s.selectors.SpecRows {
		doc.Find(rowSel).Each(func(_ int, row *goquery.Selection) {
			key := strings.Join(strings.Fields(row.Find("th, dt, td:first-child").First().Text()), " ")
			val := strings.Join(strings.Fields(row.Find("td:last-child, dd").Last().Text()), " ")
			if key != "" && val != "" && key != val {
				l.Specs[key] = val
			}
		})
	}

	return Accept(l)
}

func (s *SelectorExtractor) listingFrom(root *goquery.Selection, pageURL *url.URL, category string) *domain.ExtractedListing {
	l := &domain.ExtractedListing{
		MerchantSKU: FirstMatch(root, s.selectors.SKU),
		SKU:         FirstMatch(root, s.selectors.GTIN),
		Name:        FirstMatch(root, s.selectors.Name),
		Category:    category,
		Brand:       FirstMatch(root, s.selectors.Brand),
		Currency:    FirstMatch(root, s.selectors.Currency),
		URL:         Resolve(pageURL, FirstMatch(root, s.selectors.Link)),
		ImageURL:    Resolve(pageURL, FirstMatch(root, s.selectors.Image)),
		Specs:       map[string]string{},
	}
	if l.Currency == "" {
		l.Currency = s.currency
	}

	l.Price = ParsePrice(FirstMatch(root, s.selectors.Price))
	l.StockLevel = StockFromText(FirstMatch(root, s.selectors.Stock))

	return l
}
