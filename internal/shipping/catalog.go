package shipping

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed couriers.yaml
var defaultCatalogYAML []byte

type Courier struct {
	Code string `yaml:"code" json:"code"`
	Name string `yaml:"name" json:"name"`
}

type catalogFile struct {
	Couriers []Courier `yaml:"couriers"`
	Default  string    `yaml:"default"`
}

// Catalog is the allow-list of couriers the rate provider is queried for.
type Catalog struct {
	couriers    []Courier
	byCode      map[string]Courier
	defaultCode string
}

func ParseCatalog(content []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse courier catalog: %w", err)
	}
	if len(file.Couriers) == 0 {
		return nil, fmt.Errorf("courier catalog is empty")
	}

	catalog := &Catalog{byCode: make(map[string]Courier, len(file.Couriers))}
	for i, courier := range file.Couriers {
		code := normalizeCode(courier.Code)
		if code == "" {
			return nil, fmt.Errorf("courier %d: code is required", i)
		}
		if _, exists := catalog.byCode[code]; exists {
			return nil, fmt.Errorf("courier %q is listed twice", code)
		}
		courier.Code = code
		if strings.TrimSpace(courier.Name) == "" {
			courier.Name = strings.ToUpper(code)
		}
		catalog.couriers = append(catalog.couriers, courier)
		catalog.byCode[code] = courier
	}

	catalog.defaultCode = normalizeCode(file.Default)
	if catalog.defaultCode == "" {
		catalog.defaultCode = catalog.couriers[0].Code
	}
	if _, ok := catalog.byCode[catalog.defaultCode]; !ok {
		return nil, fmt.Errorf("default courier %q is not in the catalog", file.Default)
	}
	return catalog, nil
}

// LoadCatalog reads the catalog at path, or the built-in one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return ParseCatalog(defaultCatalogYAML)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read courier catalog: %w", err)
	}
	return ParseCatalog(content)
}

func DefaultCatalog() *Catalog {
	catalog, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(err)
	}
	return catalog
}

func (c *Catalog) Allowed(code string) bool {
	_, ok := c.byCode[normalizeCode(code)]
	return ok
}

func (c *Catalog) Lookup(code string) (Courier, bool) {
	courier, ok := c.byCode[normalizeCode(code)]
	return courier, ok
}

func (c *Catalog) Default() string {
	return c.defaultCode
}

func (c *Catalog) Couriers() []Courier {
	return append([]Courier(nil), c.couriers...)
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
