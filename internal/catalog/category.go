package catalog

import "strings"

// CategoryDelimiter separates the levels of a raw category tree string.
const CategoryDelimiter = " >> "

// DefaultCategoryDepth is the number of category levels kept from a tree.
const DefaultCategoryDepth = 4

var categoryBrackets = strings.NewReplacer(`["`, "", `"]`, "")

// ParseCategory builds a category chain from a raw tree string such as
// `["Clothing >> Women's Clothing >> Tops"]`.
//
// A segment is skipped when any of its words is one of brandTokens. The
// first kept segment names the root only when it sits at raw index 0; every
// other kept segment is nested under the previous one. Parsing stops after a
// kept segment whose raw index reaches maxDepth-1, so skipped brand segments
// still count toward the cutoff.
func ParseCategory(value string, brandTokens []string, maxDepth int) *Category {
	if maxDepth <= 0 {
		maxDepth = DefaultCategoryDepth
	}

	brands := make(map[string]struct{}, len(brandTokens))
	for _, b := range brandTokens {
		brands[b] = struct{}{}
	}

	root := &Category{}
	parent := root

	segments := strings.Split(categoryBrackets.Replace(value), CategoryDelimiter)
	for i, raw := range segments {
		segment := strings.TrimSpace(raw)
		if containsBrand(segment, brands) {
			continue
		}

		if i == 0 {
			root.SetName(segment)
		} else {
			parent = parent.AddChild(segment)
		}

		if i >= maxDepth-1 {
			break
		}
	}

	return root
}

// ParseCategoryValue is ParseCategory for loosely typed input. Anything
// other than a string yields nil.
func ParseCategoryValue(value any, brandTokens []string, maxDepth int) *Category {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	return ParseCategory(s, brandTokens, maxDepth)
}

func containsBrand(segment string, brands map[string]struct{}) bool {
	for _, word := range strings.Split(segment, " ") {
		if _, ok := brands[word]; ok {
			return true
		}
	}
	return false
}
