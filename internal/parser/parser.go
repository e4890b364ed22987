package parser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"vehicle-valuation/internal/normalize"
)

// BatchEntry is one vehicle in a batch valuation file: the raw registry
// attributes plus whatever prices the caller already knows.
type BatchEntry struct {
	normalize.RawAttributes
	OdometerKM          int     `json:"odometer_km"`
	CurrentExShowroom   float64 `json:"current_ex_showroom"`
	MarketListingsMean  float64 `json:"market_listings_mean"`
	MarketListingCount  int     `json:"market_listing_count"`
	OriginalOnRoadPrice float64 `json:"original_on_road_price"`
}

// Parser handles parsing of batch valuation files
type Parser struct {
	format string
}

// NewParser creates a new parser with the specified format
func NewParser(format string) *Parser {
	return &Parser{format: format}
}

// ParseFile parses a batch valuation file
func (p *Parser) ParseFile(filename string) ([]BatchEntry, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(p.format) {
	case "csv":
		return p.parseCSV(file)
	case "json":
		return p.parseJSON(file)
	default:
		return nil, fmt.Errorf("unsupported format: %s", p.format)
	}
}

// parseCSV parses CSV formatted batch entries
func (p *Parser) parseCSV(r io.Reader) ([]BatchEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Allow variable fields

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map header indices
	indices := make(map[string]int)
	for i, h := range header {
		indices[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var results []BatchEntry
	lineNum := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return results, fmt.Errorf("error at line %d: %w", lineNum, err)
		}
		lineNum++

		entry, err := recordToEntry(record, indices)
		if err != nil {
			// Log error but continue parsing
			fmt.Printf("Warning: line %d: %v\n", lineNum, err)
			continue
		}
		results = append(results, entry)
	}

	return results, nil
}

// recordToEntry converts a CSV record to a BatchEntry
func recordToEntry(record []string, indices map[string]int) (BatchEntry, error) {
	var e BatchEntry

	getValue := func(key string) string {
		if idx, ok := indices[key]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	e.MakerDescription = getValue("maker_description")
	if e.MakerDescription == "" {
		e.MakerDescription = getValue("make")
	}
	if e.MakerDescription == "" {
		return e, fmt.Errorf("missing maker_description")
	}

	e.MakerModel = getValue("maker_model")
	if e.MakerModel == "" {
		e.MakerModel = getValue("model")
	}
	if e.MakerModel == "" {
		return e, fmt.Errorf("missing maker_model")
	}

	e.ManufacturingDate = getValue("manufacturing_date")
	if e.ManufacturingDate == "" {
		return e, fmt.Errorf("missing manufacturing_date")
	}

	e.RCNumber = getValue("rc_number")
	e.FuelType = getValue("fuel_type")
	e.BodyType = getValue("body_type")
	e.VehicleCategory = getValue("vehicle_category")
	e.RegisteredAt = getValue("registered_at")
	e.Color = getValue("color")

	e.OwnerCount, _ = strconv.Atoi(getValue("owner_count"))
	e.OdometerKM, _ = strconv.Atoi(getValue("odometer_km"))
	e.CurrentExShowroom, _ = strconv.ParseFloat(getValue("current_ex_showroom"), 64)
	e.MarketListingsMean, _ = strconv.ParseFloat(getValue("market_listings_mean"), 64)
	e.MarketListingCount, _ = strconv.Atoi(getValue("market_listing_count"))
	e.OriginalOnRoadPrice, _ = strconv.ParseFloat(getValue("original_on_road_price"), 64)

	if e.CurrentExShowroom <= 0 {
		return e, fmt.Errorf("missing current_ex_showroom")
	}

	return e, nil
}

// parseJSON parses JSON formatted batch entries
func (p *Parser) parseJSON(r io.Reader) ([]BatchEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Try to decode as array first
	var results []BatchEntry
	if err := json.Unmarshal(data, &results); err == nil {
		return results, nil
	}

	// Fall back to line-by-line JSON
	return p.parseJSONLines(bytes.NewReader(data))
}

// parseJSONLines parses newline-delimited JSON
func (p *Parser) parseJSONLines(r io.Reader) ([]BatchEntry, error) {
	var results []BatchEntry
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "[" || line == "]" {
			continue
		}

		// Remove trailing comma if present
		line = strings.TrimSuffix(line, ",")

		var e BatchEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			fmt.Printf("Warning: line %d: %v\n", lineNum, err)
			continue
		}
		results = append(results, e)
	}

	return results, scanner.Err()
}

// Validate checks a batch entry before valuation
func Validate(e *BatchEntry) []string {
	var errors []string

	if e.MakerDescription == "" {
		errors = append(errors, "maker_description is required")
	}
	if e.MakerModel == "" {
		errors = append(errors, "maker_model is required")
	}
	if e.ManufacturingDate == "" {
		errors = append(errors, "manufacturing_date is required")
	}
	if e.CurrentExShowroom <= 0 {
		errors = append(errors, "current_ex_showroom must be positive")
	}
	if e.OwnerCount < 0 {
		errors = append(errors, "owner_count cannot be negative")
	}
	if e.OdometerKM < 0 {
		errors = append(errors, "odometer_km cannot be negative")
	}

	return errors
}
