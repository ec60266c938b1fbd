package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	priceTokenRe = regexp.MustCompile(`\d[\d.,]*(?:[ \x{00A0}\x{202F}]\d[\d.,]*)*`)
	integerRe    = regexp.MustCompile(`\d+`)
	// Группа тысяч после пробела: ровно три цифры, дальше допускается дробная часть
	thousandsGroupRe = regexp.MustCompile(`^\d{3}(?:[.,]\d*)?$`)
)

var (
	outOfStockPhrases = []string{"out of stock", "unavailable", "sold out", "not available", "no stock"}
	lowStockPhrases   = []string{"low stock", "few left", "limited stock", "almost gone"}
	inStockPhrases    = []string{"in stock", "available", "in-stock"}
)

// ParsePrice извлекает цену из текста: отбрасывает символы валют и разделители тысяч.
// Неразборчивый текст даёт ноль, и такая запись позже отбрасывается.
func ParsePrice(text string) decimal.Decimal {
	token := joinThousandsGroups(priceTokenRe.FindString(text))
	if token == "" {
		return decimal.Zero
	}
	token = strings.TrimRight(token, ".,")

	lastDot := strings.LastIndexByte(token, '.')
	lastComma := strings.LastIndexByte(token, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Десятичный разделитель — тот, что встречается последним
		if lastComma > lastDot {
			token = strings.ReplaceAll(token, ".", "")
			token = strings.Replace(token, ",", ".", 1)
		} else {
			token = strings.ReplaceAll(token, ",", "")
		}
	case lastComma >= 0:
		if isDecimalTail(token, lastComma) && strings.Count(token, ",") == 1 {
			token = strings.Replace(token, ",", ".", 1)
		} else {
			token = strings.ReplaceAll(token, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(token, ".") > 1 || !isDecimalTail(token, lastDot) && len(token)-lastDot-1 == 3 {
			token = strings.ReplaceAll(token, ".", "")
		}
	}

	price, err := decimal.NewFromString(token)
	if err != nil || price.IsNegative() {
		return decimal.Zero
	}
	return price
}

// joinThousandsGroups склеивает части, разделённые пробелом, пока следующая часть похожа
// на группу тысяч. "1 299,99" даёт "1299,99", а "19.99 24.99" обрывается на "19.99".
func joinThousandsGroups(token string) string {
	parts := strings.Fields(token)
	if len(parts) == 0 {
		return ""
	}
	joined := parts[0]
	for _, part := range parts[1:] {
		if !isAllDigits(joined) || !thousandsGroupRe.MatchString(part) {
			break
		}
		joined += part
	}
	return joined
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// isDecimalTail — после разделителя одна или две цифры.
func isDecimalTail(token string, sep int) bool {
	tail := len(token) - sep - 1
	return tail == 1 || tail == 2
}

// ParseStockLevel ищет в тексте число, иначе определяет остаток по ключевым словам.
func ParseStockLevel(text string) int {
	if m := integerRe.FindString(text); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return n
		}
	}

	lower := strings.ToLower(text)
	// "unavailable" содержит "available", поэтому отсутствие проверяется первым
	for _, phrase := range outOfStockPhrases {
		if strings.Contains(lower, phrase) {
			return 0
		}
	}
	for _, phrase := range lowStockPhrases {
		if strings.Contains(lower, phrase) {
			return domain.LowStockPlaceholder
		}
	}
	for _, phrase := range inStockPhrases {
		if strings.Contains(lower, phrase) {
			return domain.InStockPlaceholder
		}
	}

	return 0
}

// schemaAvailability разбирает значения schema.org вроде "https://schema.org/InStock".
func schemaAvailability(v string) (int, bool) {
	v = strings.ToLower(v)
	switch {
	case strings.HasSuffix(v, "outofstock"), strings.HasSuffix(v, "soldout"), strings.HasSuffix(v, "discontinued"):
		return 0, true
	case strings.HasSuffix(v, "limitedavailability"):
		return domain.LowStockPlaceholder, true
	case strings.HasSuffix(v, "instock"), strings.HasSuffix(v, "onlineonly"), strings.HasSuffix(v, "instoreonly"):
		return domain.InStockPlaceholder, true
	}
	return 0, false
}

// StockFromText понимает и свободный текст, и значения schema.org.
// Пустой текст означает, что сайт не публикует наличие: карточка с ценой в каталоге
// считается доступной заказу и получает InStockPlaceholder, а не нулевой остаток.
func StockFromText(text string) int {
	if strings.TrimSpace(text) == "" {
		return domain.InStockPlaceholder
	}
	if n, ok := schemaAvailability(strings.TrimSpace(text)); ok {
		return n
	}
	return ParseStockLevel(text)
}
