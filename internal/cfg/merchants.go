package cfg

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/DRSN-tech/price-sync/internal/extractor"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/jimlawless/whereami"
	"gopkg.in/yaml.v3"
)

const (
	ExtractorAcme      = "acme"
	ExtractorSelectors = "selectors"
)

// MerchantCfg — описание продавца в каталоге merchants.yaml.
type MerchantCfg struct {
	Name       string        `yaml:"name"`
	BaseURL    string        `yaml:"base_url"`
	Extractor  string        `yaml:"extractor"`
	Currency   string        `yaml:"currency"`
	HealthPath string        `yaml:"health_path"`
	Categories []CategoryCfg `yaml:"categories"`
	// MinInterval и RequestsPerMinute переопределяют общие настройки вежливости.
	MinInterval       time.Duration `yaml:"min_interval"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	MaxPages          int           `yaml:"max_pages"`
	// Selectors дополняют или заменяют кандидатов экстрактора по полям.
	Selectors *extractor.SelectorSet `yaml:"selectors"`
}

type CategoryCfg struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

type merchantsFile struct {
	Merchants []MerchantCfg `yaml:"merchants"`
}

// LoadMerchants читает и проверяет каталог продавцов.
func LoadMerchants(path string) ([]MerchantCfg, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	merchants, err := ParseMerchants(data)
	if err != nil {
		return nil, e.Wrap(path, err)
	}

	return merchants, nil
}

// ParseMerchants разбирает YAML-каталог. Неизвестные поля считаются ошибкой.
func ParseMerchants(data []byte) ([]MerchantCfg, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file merchantsFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrInvalidMerchantsFile, err)
	}

	seen := make(map[string]struct{}, len(file.Merchants))
	for i := range file.Merchants {
		m := &file.Merchants[i]
		if err := m.normalize(); err != nil {
			return nil, fmt.Errorf("%w: merchant #%d: %v", e.ErrInvalidMerchantsFile, i+1, err)
		}
		if _, dup := seen[m.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate merchant %q", e.ErrInvalidMerchantsFile, m.Name)
		}
		seen[m.Name] = struct{}{}
	}

	return file.Merchants, nil
}

func (m *MerchantCfg) normalize() error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}

	u, err := url.Parse(strings.TrimSpace(m.BaseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: base_url must be an absolute http(s) URL", m.Name)
	}
	m.BaseURL = strings.TrimRight(u.String(), "/")

	switch m.Extractor {
	case "":
		m.Extractor = ExtractorSelectors
	case ExtractorAcme, ExtractorSelectors:
	default:
		return fmt.Errorf("%s: unknown extractor %q", m.Name, m.Extractor)
	}

	if m.RequestsPerMinute < 0 || m.MaxPages < 0 || m.MinInterval < 0 {
		return fmt.Errorf("%s: limits must not be negative", m.Name)
	}

	for j, c := range m.Categories {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("%s: category #%d needs name and path", m.Name, j+1)
		}
	}

	return nil
}
