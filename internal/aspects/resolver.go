// Package aspects fills the item aspects a marketplace category requires.
//
// Brand and model are guessed from the listing title; every other required
// aspect comes from a defaults table loaded from YAML, so new defaults are a
// data change only.
package aspects

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/julienbonastre/ebay-listing-publisher/internal/ebay"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultTableYAML []byte

// Table is the aspect defaults table
type Table struct {
	BrandAspects []string          `yaml:"brand_aspects"`
	ModelAspects []string          `yaml:"model_aspects"`
	Defaults     map[string]string `yaml:"defaults"`
	Fallback     string            `yaml:"fallback"`
}

// ParseTable decodes a defaults table
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse aspect defaults: %w", err)
	}
	return &t, nil
}

// DefaultTable returns the embedded defaults table
func DefaultTable() *Table {
	t, err := ParseTable(defaultTableYAML)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) isBrand(name string) bool { return containsFold(t.BrandAspects, name) }
func (t *Table) isModel(name string) bool { return containsFold(t.ModelAspects, name) }

func (t *Table) defaultFor(name string) (string, bool) {
	for k, v := range t.Defaults {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// MetadataSource fetches category aspect metadata
type MetadataSource interface {
	GetItemAspectsForCategory(ctx context.Context, categoryTreeID, categoryID string) (*ebay.AspectMetadata, error)
}

// Resolver resolves required aspects for a category
type Resolver struct {
	source         MetadataSource
	categoryTreeID string
	table          *Table
	logger         zerolog.Logger
}

// NewResolver creates a resolver. A nil table uses DefaultTable.
func NewResolver(source MetadataSource, categoryTreeID string, table *Table, logger zerolog.Logger) *Resolver {
	if table == nil {
		table = DefaultTable()
	}
	return &Resolver{
		source:         source,
		categoryTreeID: categoryTreeID,
		table:          table,
		logger:         logger.With().Str("component", "aspects").Logger(),
	}
}

// ResolveRequiredAspects returns a value for every aspect the category
// requires
func (r *Resolver) ResolveRequiredAspects(ctx context.Context, categoryID, title string) (map[string][]string, error) {
	meta, err := r.source.GetItemAspectsForCategory(ctx, r.categoryTreeID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch aspects for category %s: %w", categoryID, err)
	}

	brand, model := SplitTitle(title)
	resolved := make(map[string][]string)

	for _, aspect := range meta.Required() {
		name := aspect.LocalizedAspectName
		value := r.valueFor(aspect, brand, model)
		if value == "" {
			r.logger.Warn().Str("category_id", categoryID).Str("aspect", name).
				Msg("No value for required aspect")
			continue
		}
		resolved[name] = []string{value}
	}

	return resolved, nil
}

func (r *Resolver) valueFor(aspect ebay.Aspect, brand, model string) string {
	name := aspect.LocalizedAspectName

	switch {
	case r.table.isBrand(name) && brand != "":
		return brand
	case r.table.isModel(name) && model != "":
		return model
	}

	value, ok := r.table.defaultFor(name)
	if !ok {
		value = r.table.Fallback
	}

	// Selection-only aspects reject values outside their list
	if aspect.AspectConstraint.AspectMode == ebay.AspectModeSelectionOnly && len(aspect.AspectValues) > 0 {
		for _, v := range aspect.AspectValues {
			if strings.EqualFold(v.LocalizedValue, value) {
				return v.LocalizedValue
			}
		}
		return aspect.AspectValues[0].LocalizedValue
	}
	return value
}

// SplitTitle guesses brand (first word) and model (remaining words) from a
// listing title
func SplitTitle(title string) (brand, model string) {
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// Merge combines product aspects with resolved ones. Product values win;
// names are compared case-insensitively. It also reports the names that
// were added.
func Merge(product, resolved map[string][]string) (map[string][]string, []string) {
	out := make(map[string][]string, len(product)+len(resolved))
	for k, v := range product {
		out[k] = v
	}

	var added []string
	for name, values := range resolved {
		if hasKeyFold(product, name) {
			continue
		}
		out[name] = values
		added = append(added, name)
	}
	sort.Strings(added)
	return out, added
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func hasKeyFold(m map[string][]string, key string) bool {
	for k := range m {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}
