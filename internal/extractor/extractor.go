// Package extractor описывает контракт извлечения предложений из HTML-страниц продавцов
// и общие для всех продавцов утилиты разбора цен, остатков и селекторов.
package extractor

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// Extractor превращает HTML-документ продавца в нормализованные записи.
// Реализации не паникуют на незнакомой разметке: при дрейфе вёрстки они возвращают
// меньше полей или отбрасывают запись.
type Extractor interface {
	// ExtractCategoryPage возвращает записи страницы категории и ссылку на следующую страницу
	// (пустая строка, если её нет).
	ExtractCategoryPage(doc *goquery.Document, pageURL *url.URL) ([]domain.ExtractedListing, string)
	// ExtractProductPage возвращает запись карточки товара или nil.
	ExtractProductPage(doc *goquery.Document, pageURL *url.URL) *domain.ExtractedListing
}

// ParseDocument декодирует тело ответа в UTF-8 по Content-Type/meta и строит goquery-документ.
func ParseDocument(body []byte, contentType string) (*goquery.Document, error) {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		reader = bytes.NewReader(body)
	}

	return goquery.NewDocumentFromReader(reader)
}

// Resolve превращает относительную ссылку в абсолютную относительно страницы.
func Resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

// Accept нормализует запись и возвращает её, только если она проходит проверку.
// Отброшенная запись — ожидаемая ситуация, ошибка не возвращается.
func Accept(l *domain.ExtractedListing) *domain.ExtractedListing {
	if l == nil {
		return nil
	}
	l.Normalize()
	if err := l.Validate(); err != nil {
		return nil
	}
	return l
}
