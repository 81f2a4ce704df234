// Package catalog defines the normalized product model and the parsers that
// turn raw retail rows into it.
package catalog

import (
	"regexp"
	"strings"
)

// FieldType is the declared type of a template attribute.
type FieldType string

const (
	FieldTypeString FieldType = "STRING"
	FieldTypeNumber FieldType = "NUMBER"
	FieldTypeBool   FieldType = "BOOLEAN"
)

// BusinessKeyName identifies an external identifier attached to a product.
type BusinessKeyName string

// Business keys are emitted in this order; index 1 is the origin id used
// to derive durable object keys.
const (
	KeySKU                 BusinessKeyName = "SKU"
	KeyOriginID            BusinessKeyName = "OID"
	KeyOrigin              BusinessKeyName = "ORIGIN"
	KeyOriginOverallRating BusinessKeyName = "ORIGIN_OVERALL_RATING"
)

// DefaultLocale is the locale tag of headers built from raw rows.
const DefaultLocale = "EN_US"

// Product is the normalized catalog record handed through the pipeline.
// Stages mutate it in place: the image stage rewrites Image.URL and the
// embedding stage fills the vectors.
type Product struct {
	BasePrice      Currency        `json:"base_price"`
	Categories     []*Category     `json:"categories"`
	BusinessKeys   []BusinessKey   `json:"business_keys"`
	Headers        []ProductHeader `json:"headers"`
	Rating         int             `json:"rating"`
	ImageEmbedding []float32       `json:"image_embedding,omitempty"`
	TextEmbedding  []float32       `json:"text_embedding,omitempty"`
}

// OriginID returns the value of the second business key, or "" when absent.
func (p *Product) OriginID() string {
	if len(p.BusinessKeys) < 2 {
		return ""
	}
	return p.BusinessKeys[1].Value
}

// PrimaryHeader returns the first header, or nil when there is none.
func (p *Product) PrimaryHeader() *ProductHeader {
	if len(p.Headers) == 0 {
		return nil
	}
	return &p.Headers[0]
}

// PrimaryImage returns the first image of the first header, or nil.
func (p *Product) PrimaryImage() *Image {
	h := p.PrimaryHeader()
	if h == nil || len(h.Images) == 0 {
		return nil
	}
	return &h.Images[0]
}

// ContextualText is the text embedded alongside the product image.
func (p *Product) ContextualText() string {
	h := p.PrimaryHeader()
	if h == nil {
		return ""
	}
	return h.Name + h.LongDescription + h.Brand
}

// Currency is a monetary amount split into whole and fractional parts.
type Currency struct {
	Code         string       `json:"code"`
	Value        Numeric      `json:"value"`
	RoundingRule RoundingRule `json:"rounding_rule"`
}

// Numeric stores a decimal as integer parts. Decimal holds the fraction
// scaled to RoundingRule.RelevantDecimal digits.
type Numeric struct {
	Whole   int64 `json:"whole"`
	Decimal int64 `json:"decimal"`
}

// RoundingRule controls how the fractional part is interpreted.
type RoundingRule struct {
	RelevantDecimal         int  `json:"relevant_decimal"`
	TrimInsignificantDigits bool `json:"trim_insignificant_digits"`
}

// ProductHeader holds the locale-specific presentation of a product.
type ProductHeader struct {
	Locale           string           `json:"locale"`
	Name             string           `json:"name"`
	Brand            string           `json:"brand"`
	ShortDescription string           `json:"short_description"`
	LongDescription  string           `json:"long_description"`
	Images           []Image          `json:"images"`
	AttributeValues  []AttributeValue `json:"attribute_values"`
	NLPDescription   string           `json:"nlp_description,omitempty"`
}

// Image references one product image. URL starts as the relative path under
// the origin host and is replaced by the durable URI once materialized.
type Image struct {
	OriginURL string `json:"origin_url"`
	URL       string `json:"url"`
}

// TemplateAttributeRule describes an attribute slot.
type TemplateAttributeRule struct {
	Name           string    `json:"name"`
	FieldType      FieldType `json:"field_type"`
	Required       bool      `json:"required"`
	AllowOverrides bool      `json:"allow_overrides"`
}

// AttributeValue is one name/value attribute of a product.
type AttributeValue struct {
	Rule  TemplateAttributeRule `json:"rule"`
	Value string                `json:"value"`
}

// BusinessKey is a typed external identifier.
type BusinessKey struct {
	Name  BusinessKeyName `json:"name"`
	Value string          `json:"value"`
}

// Category is a node in a category tree.
type Category struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Children []*Category `json:"children,omitempty"`
}

var (
	categoryIDStrip = regexp.MustCompile(`[^a-zA-Z ]`)
	categoryIDSpace = regexp.MustCompile(`\s+`)
)

// CategoryID derives the identifier of a category name: letters and spaces
// are kept, whitespace runs become "_", the result is lower-cased.
func CategoryID(name string) string {
	id := categoryIDStrip.ReplaceAllString(name, "")
	id = categoryIDSpace.ReplaceAllString(id, "_")
	return strings.ToLower(id)
}

// NewCategory creates a category node with its derived id.
func NewCategory(name string) *Category {
	return &Category{ID: CategoryID(name), Name: name}
}

// SetName renames the node and recomputes its id.
func (c *Category) SetName(name string) {
	c.Name = name
	c.ID = CategoryID(name)
}

// AddChild appends a new child named name and returns it.
func (c *Category) AddChild(name string) *Category {
	child := NewCategory(name)
	c.Children = append(c.Children, child)
	return child
}

// Path returns the names from this node down the first-child chain.
func (c *Category) Path() []string {
	var path []string
	for n := c; n != nil; {
		path = append(path, n.Name)
		if len(n.Children) == 0 {
			break
		}
		n = n.Children[0]
	}
	return path
}

// Depth is the number of levels along the first-child chain.
func (c *Category) Depth() int {
	return len(c.Path())
}
