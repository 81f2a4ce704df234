package catalog

import (
	"regexp"
	"strings"
)

var (
	specOuter  = regexp.MustCompile(`^(.*?)\[(.*)\](.*)`)
	specObject = regexp.MustCompile(`^(.*?)=>"(.*?)"(.*?)=>"(.*?)"(.*)`)
)

// NewStringAttribute creates an optional, overridable STRING attribute.
func NewStringAttribute(name, value string) AttributeValue {
	return AttributeValue{
		Rule: TemplateAttributeRule{
			Name:           name,
			FieldType:      FieldTypeString,
			Required:       false,
			AllowOverrides: true,
		},
		Value: value,
	}
}

// ParseSpecifications extracts attributes from a raw specification string
// of the form {"product_specification"=>[{"key"=>"A", "value"=>"B"}, ...]}.
//
// Parsing is best effort. Objects are cut at every closing brace and any
// object without both a key and a value capture is dropped. The second
// return value counts dropped objects, plus one when the list wrapper itself
// is missing. Text after the last closing brace is ignored. Repeated names
// are kept in input order.
func ParseSpecifications(spec string) ([]AttributeValue, int) {
	if strings.TrimSpace(spec) == "" {
		return nil, 0
	}

	outer := specOuter.FindStringSubmatch(spec)
	if outer == nil {
		return nil, 1
	}

	var (
		attrs   []AttributeValue
		dropped int
		current strings.Builder
	)
	for _, r := range outer[2] {
		current.WriteRune(r)
		if r != '}' {
			continue
		}

		m := specObject.FindStringSubmatch(current.String())
		current.Reset()
		if m == nil {
			dropped++
			continue
		}
		attrs = append(attrs, NewStringAttribute(m[2], m[4]))
	}

	return attrs, dropped
}
