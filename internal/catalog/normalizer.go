package catalog

import (
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Raw row columns.
const (
	ColUniqID                = "uniq_id"
	ColCrawlTimestamp        = "crawl_timestamp"
	ColProductURL            = "product_url"
	ColProductName           = "product_name"
	ColCategoryTree          = "product_category_tree"
	ColPID                   = "pid"
	ColRetailPrice           = "retail_price"
	ColDiscountedPrice       = "discounted_price"
	ColImage                 = "image"
	ColFKAdvantage           = "is_FK_Advantage_product"
	ColDescription           = "description"
	ColProductRating         = "product_rating"
	ColOverallRating         = "overall_rating"
	ColBrand                 = "brand"
	ColProductSpecifications = "product_specifications"
)

// Columns lists the raw row columns in file order.
var Columns = []string{
	ColUniqID, ColCrawlTimestamp, ColProductURL, ColProductName, ColCategoryTree,
	ColPID, ColRetailPrice, ColDiscountedPrice, ColImage, ColFKAdvantage,
	ColDescription, ColProductRating, ColOverallRating, ColBrand, ColProductSpecifications,
}

// Row is one raw input record keyed by column name.
type Row map[string]string

// Get returns the trimmed value of a column, or "" when missing.
func (r Row) Get(col string) string {
	return strings.TrimSpace(r[col])
}

// ImageMarker is the path segment from which an image's relative URL starts.
const ImageMarker = "/image"

// RatingSource produces synthetic ratings in [1,5].
type RatingSource interface {
	Rating() int
}

type randomRatings struct{}

func (randomRatings) Rating() int { return rand.IntN(5) + 1 }

// OverallRating combines a base rating and a second roll; ties keep the
// larger value.
func OverallRating(base, second int) int {
	if second >= base {
		return second
	}
	return base
}

// NormalizerConfig holds the tunables of the record normalizer.
type NormalizerConfig struct {
	// PriceFactor multiplies the raw price before it is divided by 100.
	PriceFactor   float64
	CategoryDepth int
	Locale        string
}

// DefaultNormalizerConfig matches the conversion used by the source catalog.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		PriceFactor:   3,
		CategoryDepth: DefaultCategoryDepth,
		Locale:        DefaultLocale,
	}
}

// ParseReport carries non-fatal findings from normalizing one row.
type ParseReport struct {
	DroppedSpecSegments int
}

// Normalizer turns raw rows into Products.
type Normalizer struct {
	cfg     NormalizerConfig
	ratings RatingSource
	nlp     NLPDescriber
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithRatingSource replaces the random rating generator.
func WithRatingSource(rs RatingSource) NormalizerOption {
	return func(n *Normalizer) {
		n.ratings = rs
	}
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(cfg NormalizerConfig, opts ...NormalizerOption) *Normalizer {
	def := DefaultNormalizerConfig()
	if cfg.PriceFactor <= 0 {
		cfg.PriceFactor = def.PriceFactor
	}
	if cfg.CategoryDepth <= 0 {
		cfg.CategoryDepth = def.CategoryDepth
	}
	if cfg.Locale == "" {
		cfg.Locale = def.Locale
	}

	n := &Normalizer{cfg: cfg, ratings: randomRatings{}}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize converts one row. It returns a nil Product when the row has no
// images; that is a rejection, not an error. Malformed prices become zero.
func (n *Normalizer) Normalize(row Row, preProcess bool) (*Product, ParseReport) {
	var report ParseReport

	images := ParseImages(row.Get(ColImage))
	if len(images) == 0 {
		return nil, report
	}

	attrs, dropped := ParseSpecifications(row.Get(ColProductSpecifications))
	report.DroppedSpecSegments = dropped

	brand := row.Get(ColBrand)
	var brandTokens []string
	if brand != "" {
		brandTokens = strings.Split(brand, " ")
	}

	description := row.Get(ColDescription)
	header := ProductHeader{
		Locale:          n.cfg.Locale,
		Name:            row.Get(ColProductName),
		Brand:           brand,
		LongDescription: CleanDescription(description),
		Images:          images,
		AttributeValues: attrs,
	}
	if preProcess {
		header.NLPDescription = n.nlp.Describe(description)
	}

	rating := n.ratings.Rating()
	overall := OverallRating(rating, n.ratings.Rating())

	category := ParseCategory(row.Get(ColCategoryTree), brandTokens, n.cfg.CategoryDepth)

	product := &Product{
		BasePrice:  NewCurrency(parsePrice(row.Get(ColRetailPrice)), n.cfg.PriceFactor),
		Categories: []*Category{category},
		Headers:    []ProductHeader{header},
		Rating:     rating,
		BusinessKeys: []BusinessKey{
			{Name: KeySKU, Value: row.Get(ColPID)},
			{Name: KeyOriginID, Value: row.Get(ColUniqID)},
			{Name: KeyOrigin, Value: row.Get(ColProductURL)},
			{Name: KeyOriginOverallRating, Value: strconv.Itoa(overall)},
		},
	}

	return product, report
}

var imageListChars = strings.NewReplacer("[", "", "]", "", `"`, "")

// ParseImages splits a raw image list such as `["http://a/image/1.jpg", ...]`.
// Blank entries are skipped.
func ParseImages(raw string) []Image {
	cleaned := imageListChars.Replace(raw)
	var images []Image
	for _, part := range strings.Split(cleaned, ",") {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		images = append(images, NewImage(origin))
	}
	return images
}

// NewImage creates an Image. For http(s) origins the relative URL starts at
// the first ImageMarker; origins without a marker keep the full URL.
func NewImage(origin string) Image {
	origin = strings.TrimSpace(origin)
	img := Image{OriginURL: origin}
	if strings.HasPrefix(origin, "http") {
		if idx := strings.Index(origin, ImageMarker); idx >= 0 {
			img.URL = origin[idx:]
		} else {
			img.URL = origin
		}
	}
	return img
}

// NewCurrency converts a raw price into USD parts: price*factor/100 split
// into whole and a fraction scaled to five digits. NaN yields zero.
func NewCurrency(price, factor float64) Currency {
	rule := RoundingRule{RelevantDecimal: 5, TrimInsignificantDigits: false}
	c := Currency{Code: "USD", RoundingRule: rule}

	amount := price * factor / 100
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return c
	}

	whole, frac := math.Modf(amount)
	scale := math.Pow10(rule.RelevantDecimal)
	decimal := math.Round(frac * scale)
	if math.Abs(decimal) >= scale {
		// rounding carried into the whole part
		whole += math.Copysign(1, decimal)
		decimal = 0
	}

	c.Value = Numeric{Whole: int64(whole), Decimal: int64(decimal)}
	return c
}

func parsePrice(raw string) float64 {
	if raw == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
