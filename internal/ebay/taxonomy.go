package ebay

import (
	"context"
	"net/http"
	"net/url"
)

// Aspect modes reported by the taxonomy API
const (
	AspectModeFreeText      = "FREE_TEXT"
	AspectModeSelectionOnly = "SELECTION_ONLY"
)

// AspectMetadata is the response of getItemAspectsForCategory
type AspectMetadata struct {
	Aspects []Aspect `json:"aspects"`
}

// Aspect describes one item attribute of a category
type Aspect struct {
	LocalizedAspectName string           `json:"localizedAspectName"`
	AspectConstraint    AspectConstraint `json:"aspectConstraint"`
	AspectValues        []AspectValue    `json:"aspectValues,omitempty"`
}

// AspectConstraint holds the usage rules of an aspect
type AspectConstraint struct {
	AspectRequired          bool   `json:"aspectRequired"`
	AspectUsage             string `json:"aspectUsage,omitempty"`
	AspectMode              string `json:"aspectMode,omitempty"`
	AspectDataType          string `json:"aspectDataType,omitempty"`
	ItemToAspectCardinality string `json:"itemToAspectCardinality,omitempty"`
}

// AspectValue is one allowed value of an aspect
type AspectValue struct {
	LocalizedValue string `json:"localizedValue"`
}

// Required returns the aspects the category requires
func (m *AspectMetadata) Required() []Aspect {
	var out []Aspect
	for _, a := range m.Aspects {
		if a.AspectConstraint.AspectRequired {
			out = append(out, a)
		}
	}
	return out
}

// GetItemAspectsForCategory fetches the aspect metadata of a leaf category.
// It authenticates with the application token.
func (c *Client) GetItemAspectsForCategory(ctx context.Context, categoryTreeID, categoryID string) (*AspectMetadata, error) {
	path := "/commerce/taxonomy/v1/category_tree/" + url.PathEscape(categoryTreeID) +
		"/get_item_aspects_for_category?category_id=" + url.QueryEscape(categoryID)

	var result AspectMetadata
	if err := c.call(ctx, c.appTokens, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
