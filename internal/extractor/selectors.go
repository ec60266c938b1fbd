package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Candidate — один вариант селектора поля. Если Attr пуст, берётся текст элемента.
type Candidate struct {
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr"`
}

// Text — кандидат, читающий текст элемента.
func Text(selector string) Candidate {
	return Candidate{Selector: selector}
}

// Attr — кандидат, читающий атрибут элемента.
func Attr(selector, attr string) Candidate {
	return Candidate{Selector: selector, Attr: attr}
}

// FirstMatch перебирает кандидатов по порядку и возвращает первое непустое значение.
// Пустой Selector означает сам корневой элемент; корень проверяется раньше потомков.
func FirstMatch(root *goquery.Selection, candidates []Candidate) string {
	for _, c := range candidates {
		sel := root
		if c.Selector != "" {
			sel = root.Filter(c.Selector).AddSelection(root.Find(c.Selector))
		}

		var value string
		sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if c.Attr != "" {
				value = strings.TrimSpace(s.AttrOr(c.Attr, ""))
			} else {
				value = strings.Join(strings.Fields(s.Text()), " ")
			}
			return value == ""
		})

		if value != "" {
			return value
		}
	}

	return ""
}

// FirstSelection возвращает элементы первого селектора, который что-то нашёл.
func FirstSelection(root *goquery.Selection, selectors []string) *goquery.Selection {
	for _, s := range selectors {
		if found := root.Find(s); found.Length() > 0 {
			return found
		}
	}
	return root.Find("__none__")
}

// SelectorSet — упорядоченные кандидаты для каждого поля записи.
type SelectorSet struct {
	Cards       []string    `yaml:"cards"`
	Name        []Candidate `yaml:"name"`
	Price       []Candidate `yaml:"price"`
	Currency    []Candidate `yaml:"currency"`
	Stock       []Candidate `yaml:"stock"`
	Link        []Candidate `yaml:"link"`
	Image       []Candidate `yaml:"image"`
	SKU         []Candidate `yaml:"sku"`
	GTIN        []Candidate `yaml:"gtin"`
	Brand       []Candidate `yaml:"brand"`
	Category    []Candidate `yaml:"category"`
	NextPage    []Candidate `yaml:"next_page"`
	SpecRows    []string    `yaml:"spec_rows"`
	ProductRoot []string    `yaml:"product_root"`
}

// Merge дополняет s кандидатами из fallback для полей, которые в s не заданы.
func (s SelectorSet) Merge(fallback SelectorSet) SelectorSet {
	pickS := func(a, b []string) []string {
		if len(a) > 0 {
			return a
		}
		return b
	}
	pickC := func(a, b []Candidate) []Candidate {
		if len(a) > 0 {
			return a
		}
		return b
	}

	return SelectorSet{
		Cards:       pickS(s.Cards, fallback.Cards),
		Name:        pickC(s.Name, fallback.Name),
		Price:       pickC(s.Price, fallback.Price),
		Currency:    pickC(s.Currency, fallback.Currency),
		Stock:       pickC(s.Stock, fallback.Stock),
		Link:        pickC(s.Link, fallback.Link),
		Image:       pickC(s.Image, fallback.Image),
		SKU:         pickC(s.SKU, fallback.SKU),
		GTIN:        pickC(s.GTIN, fallback.GTIN),
		Brand:       pickC(s.Brand, fallback.Brand),
		Category:    pickC(s.Category, fallback.Category),
		NextPage:    pickC(s.NextPage, fallback.NextPage),
		SpecRows:    pickS(s.SpecRows, fallback.SpecRows),
		ProductRoot: pickS(s.ProductRoot, fallback.ProductRoot),
	}
}
