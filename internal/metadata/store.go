// Package metadata stores enriched products and serves the attribute and
// category metadata used as retrieval-augmented examples.
package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/catalog"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/observability"
)

// Common errors
var (
	ErrNotFound         = errors.New("record not found")
	ErrNullTopCategory  = errors.New("top level category is null")
	ErrNullCategoryPart = errors.New("category level is null")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// AttributeRecord is the stored metadata of one product used for attribute
// generation.
type AttributeRecord struct {
	Attributes  map[string]string
	Description string
}

// AttributeStore looks up stored attributes by product id.
type AttributeStore interface {
	Attributes(ctx context.Context, ids []string) (map[string]AttributeRecord, error)
}

// CategoryStore looks up stored category paths by product id.
type CategoryStore interface {
	Categories(ctx context.Context, ids []string) (map[string][]string, error)
}

// ProductRecord is an enriched product with its pipeline status tag.
type ProductRecord struct {
	Status  string
	Product *catalog.Product
}

// ProductWriter persists enriched products.
type ProductWriter interface {
	// WriteProduct upserts the product keyed by its origin id. The returned
	// warnings describe data quality problems that did not block the write.
	WriteProduct(ctx context.Context, record ProductRecord) ([]string, error)
}

// Options controls category handling.
type Options struct {
	// Levels is the number of category columns in the table.
	Levels int
	// Depth is the number of levels returned by Categories.
	Depth int
	// AllowTrailingNulls lets a path stop at the first null level below the
	// top one. When false any null level is an error.
	AllowTrailingNulls bool
	// Logger receives warnings about rows skipped on read. Nil discards them.
	Logger *observability.Logger
}

// Store implements the metadata interfaces on a SQL database.
type Store struct {
	db   DB
	opts Options
}

// Open opens a sqlite3 or postgres database.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "sqlite", "sqlite3":
		driver = "sqlite3"
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return db, nil
}

// NewStore creates a store. Run Migrate before first use.
func NewStore(db DB, opts Options) *Store {
	if opts.Levels <= 0 {
		opts.Levels = catalog.DefaultCategoryDepth
	}
	if opts.Depth <= 0 || opts.Depth > opts.Levels {
		opts.Depth = opts.Levels
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	return &Store{db: db, opts: opts}
}

// Migrate creates the products table. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	var cols strings.Builder
	for i := 0; i < s.opts.Levels; i++ {
		fmt.Fprintf(&cols, "    %s TEXT,\n", levelColumn(i))
	}

	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS products (
    id           TEXT PRIMARY KEY,
    sku          TEXT NOT NULL DEFAULT '',
    name         TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT '',
    attributes   TEXT NOT NULL DEFAULT '{}',
%s    status       TEXT NOT NULL DEFAULT '',
    product      TEXT NOT NULL,
    updated_at   TIMESTAMP NOT NULL
)`, cols.String())

	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("metadata migrate: %w", err)
	}
	return nil
}

// Attributes implements AttributeStore. Ids without a row are absent from
// the result. Stored attributes that are not a JSON object of strings
// degrade to an empty map.
func (s *Store) Attributes(ctx context.Context, ids []string) (map[string]AttributeRecord, error) {
	out := make(map[string]AttributeRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders, args := inClause(ids)
	query := fmt.Sprintf(`SELECT id, attributes, description FROM products WHERE id IN (%s)`, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attributes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, raw, description string
		if err := rows.Scan(&id, &raw, &description); err != nil {
			return nil, fmt.Errorf("scan attributes: %w", err)
		}
		out[id] = AttributeRecord{Attributes: decodeAttributes(raw), Description: description}
	}
	return out, rows.Err()
}

// Categories implements CategoryStore. Ids without a row, and rows whose
// stored levels do not form a valid path, are absent from the result.
func (s *Store) Categories(ctx context.Context, ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cols := make([]string, s.opts.Depth)
	for i := range cols {
		cols[i] = levelColumn(i)
	}

	placeholders, args := inClause(ids)
	query := fmt.Sprintf(`SELECT id, %s FROM products WHERE id IN (%s)`, strings.Join(cols, ", "), placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		levels := make([]sql.NullString, s.opts.Depth)
		dest := make([]interface{}, 0, len(levels)+1)
		dest = append(dest, &id)
		for i := range levels {
			dest = append(dest, &levels[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan categories: %w", err)
		}

		path, err := joinCategoryPath(levels, s.opts.AllowTrailingNulls)
		if err != nil {
			s.opts.Logger.Warn().Err(err).Str("product_id", id).Msg("Skipping product with invalid category path")
			continue
		}
		out[id] = path
	}
	return out, rows.Err()
}

// WriteProduct implements ProductWriter.
func (s *Store) WriteProduct(ctx context.Context, record ProductRecord) ([]string, error) {
	p := record.Product
	if p == nil {
		return nil, fmt.Errorf("write product: nil product")
	}
	id := p.OriginID()
	if id == "" {
		return nil, fmt.Errorf("write product: missing origin id")
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal product %s: %w", id, err)
	}

	var warnings []string
	var sku, name, description string
	if len(p.BusinessKeys) > 0 {
		sku = p.BusinessKeys[0].Value
	}
	attrs := map[string]string{}
	if h := p.PrimaryHeader(); h != nil {
		name = h.Name
		description = h.LongDescription
		for _, av := range h.AttributeValues {
			attrs[av.Rule.Name] = av.Value
		}
	}
	if description == "" {
		warnings = append(warnings, fmt.Sprintf("product %s has no description", id))
	}
	if len(attrs) == 0 {
		warnings = append(warnings, fmt.Sprintf("product %s has no attributes", id))
	}
	attrJSON, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes %s: %w", id, err)
	}

	var path []string
	if len(p.Categories) > 0 {
		path = p.Categories[0].Path()
	}
	if len(path) == 0 || path[0] == "" {
		warnings = append(warnings, fmt.Sprintf("product %s has no top level category", id))
	}
	if len(path) > s.opts.Levels {
		warnings = append(warnings, fmt.Sprintf("product %s category path truncated from %d to %d levels", id, len(path), s.opts.Levels))
		path = path[:s.opts.Levels]
	}

	cols := []string{"id", "sku", "name", "description", "attributes"}
	args := []interface{}{id, sku, name, description, string(attrJSON)}
	for i := 0; i < s.opts.Levels; i++ {
		cols = append(cols, levelColumn(i))
		var level sql.NullString
		if i < len(path) && path[i] != "" {
			level = sql.NullString{String: path[i], Valid: true}
		}
		args = append(args, level)
	}
	cols = append(cols, "status", "product", "updated_at")
	args = append(args, record.Status, string(data), time.Now().UTC())

	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols)-1)
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if c != "id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}

	query := fmt.Sprintf(`INSERT INTO products (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s`,
		strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return warnings, fmt.Errorf("write product %s: %w", id, err)
	}
	return warnings, nil
}

// Product returns the stored product document.
func (s *Store) Product(ctx context.Context, id string) (*catalog.Product, string, error) {
	var raw, status string
	err := s.db.QueryRowContext(ctx, `SELECT product, status FROM products WHERE id = $1`, id).Scan(&raw, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("query product %s: %w", id, err)
	}

	var p catalog.Product
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, "", fmt.Errorf("decode product %s: %w", id, err)
	}
	return &p, status, nil
}

// Delete removes a product. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete product %s: %w", id, err)
	}
	return nil
}

// joinCategoryPath turns level columns into a path. A null top level is
// always an error.
func joinCategoryPath(levels []sql.NullString, allowTrailingNulls bool) ([]string, error) {
	path := make([]string, 0, len(levels))
	for i, level := range levels {
		if !level.Valid {
			if i == 0 {
				return nil, ErrNullTopCategory
			}
			if allowTrailingNulls {
				break
			}
			return nil, fmt.Errorf("%w: level %d", ErrNullCategoryPart, i)
		}
		path = append(path, level.String)
	}
	return path, nil
}

func decodeAttributes(raw string) map[string]string {
	attrs := map[string]string{}
	if raw == "" {
		return attrs
	}
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil || attrs == nil {
		return map[string]string{}
	}
	return attrs
}

func inClause(ids []string) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}

func levelColumn(i int) string {
	return fmt.Sprintf("category_l%d", i)
}

var (
	_ AttributeStore = (*Store)(nil)
	_ CategoryStore  = (*Store)(nil)
	_ ProductWriter  = (*Store)(nil)
)
