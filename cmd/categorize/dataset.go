package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	categorizer "github.com/ryanburden/mercari-buddy"
)

const defaultTitleColumn = "Item Title"

type datasetOptions struct {
	TitleColumn string
	IDColumn    string // empty means row numbers
	Limit       int    // 0 means everything
}

// loadProducts reads a CSV export or a JSON array of products
func loadProducts(path string, opts datasetOptions) ([]categorizer.Product, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer file.Close()

	var products []categorizer.Product
	if strings.EqualFold(filepath.Ext(path), ".json") {
		products, err = readJSON(file)
	} else {
		products, err = readCSV(file, opts)
	}
	if err != nil {
		return nil, err
	}
	return trimProducts(products, opts.Limit), nil
}

func readJSON(r io.Reader) ([]categorizer.Product, error) {
	var products []categorizer.Product
	if err := json.NewDecoder(r).Decode(&products); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	for i := range products {
		if products[i].ID == "" {
			products[i].ID = strconv.Itoa(i + 1)
		}
	}
	return products, nil
}

func readCSV(r io.Reader, opts datasetOptions) ([]categorizer.Product, error) {
	if opts.TitleColumn == "" {
		opts.TitleColumn = defaultTitleColumn
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("dataset file must have at least a header and one row")
	}

	titleIdx, idIdx := -1, -1
	for i, name := range records[0] {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		switch {
		case strings.EqualFold(name, opts.TitleColumn):
			titleIdx = i
		case opts.IDColumn != "" && strings.EqualFold(name, opts.IDColumn):
			idIdx = i
		}
	}
	if titleIdx < 0 {
		return nil, fmt.Errorf("column %q not found in header", opts.TitleColumn)
	}
	if opts.IDColumn != "" && idIdx < 0 {
		return nil, fmt.Errorf("column %q not found in header", opts.IDColumn)
	}

	products := make([]categorizer.Product, 0, len(records)-1)
	for n, record := range records[1:] {
		if titleIdx >= len(record) {
			continue // short row
		}
		id := strconv.Itoa(n + 1)
		if idIdx >= 0 && idIdx < len(record) && strings.TrimSpace(record[idIdx]) != "" {
			id = strings.TrimSpace(record[idIdx])
		}
		products = append(products, categorizer.Product{ID: id, Title: record[titleIdx]})
	}
	return products, nil
}

func trimProducts(products []categorizer.Product, limit int) []categorizer.Product {
	if limit > 0 && len(products) > limit {
		return products[:limit]
	}
	return products
}

// saveResults writes the batch as JSON. An empty path picks results_<timestamp>_<id>.json.
func saveResults(path string, batch *categorizer.BatchResult) (string, error) {
	if path == "" {
		timestamp := time.Now().Format("20060102_150405")
		random := uuid.New().String()[:8]
		path = fmt.Sprintf("results_%s_%s.json", timestamp, random)
	}

	jsonData, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return "", err
	}
	return path, nil
}
