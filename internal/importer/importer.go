package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"aquavo-api/internal/domain"
	"aquavo-api/internal/sanitize"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultCurrency = "IQD"

type ProductWriter interface {
	Upsert(ctx context.Context, product domain.Product) (*domain.Product, error)
}

// CSVImporter reads catalog CSV exports and upserts products by slug.
//
// Expected columns: id, slug, name, description, price, currency, stock,
// image. A row with an empty slug and only an image continues the product
// above it.
type CSVImporter struct {
	reader      *csv.Reader
	productRepo ProductWriter
}

func NewCSVImporter(r io.Reader, repo ProductWriter) *CSVImporter {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1 // rows may have trailing commas
	return &CSVImporter{
		reader:      csvr,
		productRepo: repo,
	}
}

type csvRow struct {
	line      int
	ID        string
	Slug      string
	Name      string
	Desc      string
	Price     string
	Currency  string
	Stock     string
	ImageURLs []string
}

// Run parses CSV rows and upserts products grouped by slug.
func (i *CSVImporter) Run(ctx context.Context) (int, error) {
	headers, err := i.reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read headers: %w", err)
	}
	index := headerIndex(headers)

	var (
		current  *csvRow
		imported int
	)

	for {
		record, err := i.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("read row: %w", err)
		}
		line, _ := i.reader.FieldPos(0)

		row := parseRow(record, index)
		if row == nil {
			continue
		}
		row.line = line

		if row.Slug != "" {
			if current != nil {
				if err := i.save(ctx, current); err != nil {
					return imported, err
				}
				imported++
			}
			current = row
			continue
		}

		// Continuation rows (images) belong to the current product.
		if current != nil && len(row.ImageURLs) > 0 {
			current.ImageURLs = append(current.ImageURLs, row.ImageURLs...)
		}
	}

	if current != nil {
		if err := i.save(ctx, current); err != nil {
			return imported, err
		}
		imported++
	}

	return imported, nil
}

func (i *CSVImporter) save(ctx context.Context, row *csvRow) error {
	p, err := row.product()
	if err != nil {
		return fmt.Errorf("line %d (%s): %w", row.line, row.Slug, err)
	}
	if _, err := i.productRepo.Upsert(ctx, p); err != nil {
		return fmt.Errorf("upsert product %q: %w", row.Slug, err)
	}
	return nil
}

func (r *csvRow) product() (domain.Product, error) {
	name := sanitize.String(r.Name)
	if name == "" {
		return domain.Product{}, errors.New("name is required")
	}
	if r.ID != "" && uuid.Validate(r.ID) != nil {
		return domain.Product{}, fmt.Errorf("invalid id %q", r.ID)
	}
	price, err := decimal.NewFromString(r.Price)
	if err != nil || !price.IsPositive() {
		return domain.Product{}, fmt.Errorf("invalid price %q", r.Price)
	}
	stock := 0
	if r.Stock != "" {
		if stock, err = strconv.Atoi(r.Stock); err != nil || stock < 0 {
			return domain.Product{}, fmt.Errorf("invalid stock %q", r.Stock)
		}
	}
	currency := strings.ToUpper(r.Currency)
	if currency == "" {
		currency = defaultCurrency
	}

	return domain.Product{
		ID:          r.ID,
		Slug:        sanitize.FileName(strings.ToLower(r.Slug)),
		Name:        name,
		Description: sanitize.HTML(r.Desc),
		Price:       price.Round(2),
		Currency:    currency,
		Stock:       stock,
		Images:      r.ImageURLs,
	}, nil
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func parseRow(record []string, index map[string]int) *csvRow {
	slug := pick(record, index, "slug")
	imageURL := pick(record, index, "image")

	if slug == "" && imageURL == "" {
		return nil
	}

	row := &csvRow{
		ID:       pick(record, index, "id"),
		Slug:     slug,
		Name:     pick(record, index, "name"),
		Desc:     pick(record, index, "description"),
		Price:    pick(record, index, "price"),
		Currency: pick(record, index, "currency"),
		Stock:    pick(record, index, "stock"),
	}
	if imageURL != "" {
		row.ImageURLs = []string{imageURL}
	}
	return row
}

func pick(record []string, index map[string]int, key string) string {
	pos, ok := index[key]
	if !ok || pos >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[pos])
}
