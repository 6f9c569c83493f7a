package harvest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/extract"
)

// CatalogImportProvenance tags fields read from a catalog export.
const CatalogImportProvenance = "catalog_import"

// csvColumns maps accepted header names to canonical column names.
var csvColumns = map[string]string{
	"brand":            "brand",
	"manufacturer":     "brand",
	"name":             "name",
	"product_name":     "name",
	"title":            "name",
	"url":              "url",
	"product_url":      "url",
	"image":            "image",
	"image_url":        "image",
	"ingredients":      "ingredients",
	"composition":      "ingredients",
	"protein":          "protein",
	"protein_percent":  "protein",
	"fat":              "fat",
	"fat_percent":      "fat",
	"fiber":            "fiber",
	"fibre":            "fiber",
	"fiber_percent":    "fiber",
	"ash":              "ash",
	"ash_percent":      "ash",
	"moisture":         "moisture",
	"moisture_percent": "moisture",
	"kcal":             "kcal",
	"kcal_per_100g":    "kcal",
	"energy":           "kcal",
	"form":             "form",
	"life_stage":       "life_stage",
	"lifestage":        "life_stage",
}

// CSVSource reads a spreadsheet export. Each row is one item keyed by its
// row number.
type CSVSource struct {
	name   string
	open   func() (io.ReadCloser, error)
	engine *extract.Engine

	mu   sync.Mutex
	rows map[string]map[string]string
}

// NewCSVSource creates an export source. open is called once per Items call.
func NewCSVSource(name string, open func() (io.ReadCloser, error), engine *extract.Engine) *CSVSource {
	return &CSVSource{name: name, open: open, engine: engine}
}

// Name returns the source name.
func (s *CSVSource) Name() string { return s.name }

// Items reads the export and returns one item per data row.
func (s *CSVSource) Items(ctx context.Context) ([]Item, error) {
	rc, err := s.open()
	if err != nil {
		return nil, domain.IOError("open catalog export", err)
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, domain.ValidationError("read export header", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = csvColumns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))]
	}

	rows := make(map[string]map[string]string)
	var items []Item
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.ValidationError(fmt.Sprintf("read export line %d", line), err)
		}

		row := make(map[string]string)
		for i, v := range record {
			if i < len(columns) && columns[i] != "" {
				row[columns[i]] = strings.TrimSpace(v)
			}
		}
		key := s.name + "#" + strconv.Itoa(line)
		rows[key] = row
		items = append(items, Item{
			Key:           key,
			Brand:         row["brand"],
			Name:          row["name"],
			FormHint:      row["form"],
			LifeStageHint: row["life_stage"],
		})
	}

	s.mu.Lock()
	s.rows = rows
	s.mu.Unlock()
	return items, nil
}

// Harvest maps one export row to a staging record.
func (s *CSVSource) Harvest(ctx context.Context, item Item, country string) (*domain.StagingRecord, error) {
	s.mu.Lock()
	row, ok := s.rows[item.Key]
	s.mu.Unlock()
	if !ok {
		return nil, domain.PermanentError(fmt.Sprintf("unknown export row %s", item.Key), nil)
	}
	return s.record(item, row), nil
}

func (s *CSVSource) record(item Item, row map[string]string) *domain.StagingRecord {
	rec := &domain.StagingRecord{
		Source:        s.name,
		RawBrand:      item.Brand,
		RawName:       item.Name,
		RawURL:        row["url"],
		FormHint:      item.FormHint,
		LifeStageHint: item.LifeStageHint,
	}
	if img := row["image"]; img != "" {
		rec.ImageURL = &img
	}

	res := &extract.Result{}
	res.IngredientsRaw, res.IngredientsTokens = s.engine.IngredientsFromList(row["ingredients"])
	if res.IngredientsRaw != nil {
		res.IngredientsSource = provenancePtr()
	}
	res.Nutrients = domain.Nutrients{
		ProteinPercent:  extract.ParsePercent(row["protein"]),
		FatPercent:      extract.ParsePercent(row["fat"]),
		FiberPercent:    extract.ParsePercent(row["fiber"]),
		AshPercent:      extract.ParsePercent(row["ash"]),
		MoisturePercent: extract.ParsePercent(row["moisture"]),
		KcalPer100g:     extract.ParseKcal(row["kcal"]),
	}
	if res.Nutrients.Any() {
		res.MacrosSource = provenancePtr()
	}
	res.ExtractedAt = s.engine.Now()
	res.Apply(rec)
	return rec
}

func provenancePtr() *string {
	p := CatalogImportProvenance
	return &p
}
