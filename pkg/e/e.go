package e

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Внутренние ошибки с транзакциями
	ErrTransactionNotFound = fmt.Errorf("transaction not found")

	// Политика вежливости и сеть
	ErrPolicyViolation = errors.New("disallowed by robots.txt")
	ErrNetwork         = errors.New("network error")
	ErrRateLimited     = errors.New("rate limited by remote host")

	// Скрейперы
	ErrScraperNotInitialized = errors.New("scraper is not initialized")
	ErrUnknownCategory       = errors.New("unknown category")
	ErrInvalidURL            = errors.New("invalid url")

	// Очередь задач
	ErrUnknownMerchant = errors.New("unknown merchant")
	ErrJobNotFound     = errors.New("job not found")
	ErrQueueClosed     = errors.New("job queue is closed")
	ErrInvalidJob      = errors.New("invalid job")

	// Сверка
	ErrProductNameRequired = fmt.Errorf("product name is required")
	ErrPriceMustBePositive = fmt.Errorf("price must be positive")
	ErrNegativeStock       = fmt.Errorf("stock level must not be negative")

	// Конфигурация
	ErrIncorrectEnvVariable = errors.New("incorrect environment variable")
	ErrInvalidMerchantsFile = errors.New("invalid merchants file")

	// 400 Bad Request
	ErrStatusBadRequest    = errors.New("bad request")
	ErrInternalServerError = errors.New("internal server error")
)

// PolicyViolationError — запрос запрещён robots.txt и не отправлялся в сеть.
type PolicyViolationError struct {
	URL string
}

func (p *PolicyViolationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPolicyViolation.Error(), p.URL)
}

func (p *PolicyViolationError) Unwrap() error { return ErrPolicyViolation }

// HTTPStatusError — удалённый сервер ответил не-2xx статусом.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (h *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", h.StatusCode, h.URL)
}

// NetworkError возвращается после исчерпания всех попыток запроса.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (n *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempt(s): %v", ErrNetwork.Error(), n.URL, n.Attempts, n.Err)
}

// Unwrap позволяет сопоставлять как ErrNetwork, так и исходную причину.
func (n *NetworkError) Unwrap() []error { return []error{ErrNetwork, n.Err} }

// UnknownMerchant формирует ошибку с именем продавца.
func UnknownMerchant(name string) error {
	return fmt.Errorf("%w: no scraper registered for %q", ErrUnknownMerchant, name)
}

// Wrap оборачивает ошибку
func Wrap(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}

// Join склеивает сообщения об ошибках для сводки задачи.
func Join(errs []string) string {
	return strings.Join(errs, "; ")
}
