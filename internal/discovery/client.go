package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"vehicle-valuation/internal/models"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-3-pro-preview"
)

// Client discovers market prices for a vehicle descriptor. The backing
// model has live search access, so returned figures reflect current
// listings rather than a static price book.
type Client interface {
	Suggest(ctx context.Context, d Descriptor) (*Suggestion, error)
}

// Descriptor identifies the vehicle whose prices are being discovered.
type Descriptor struct {
	Make              string
	Model             string
	Variant           string
	ManufacturingYear string
	City              string
	FuelType          string
	BodyType          string
	Class             string
}

// Suggestion carries the discovered price points. Zero values mean the
// model could not find that figure.
type Suggestion struct {
	CurrentExShowroom   float64 `json:"current_ex_showroom"`
	OriginalOnRoadPrice float64 `json:"original_on_road_price"`
	MarketListingsMean  float64 `json:"market_listings_mean"`
	MarketListingCount  int     `json:"market_listing_count"`
	MarketMedianIDV     float64 `json:"market_median_idv"`
	VariantGuess        string  `json:"variant_guess"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		c.model = model
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewClient creates a price discovery client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Suggest(ctx context.Context, d Descriptor) (*Suggestion, error) {
	req := generateRequest{
		Contents: []content{{Parts: []part{{Text: buildPrompt(d)}}}},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: marshal request")
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "discovery: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrapf(models.ErrCollaborator, "discovery: send request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(models.ErrCollaborator, "discovery: read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrapf(models.ErrCollaborator, "discovery: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result generateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrapf(models.ErrCollaborator, "discovery: unmarshal response: %v", err)
	}

	text := extractText(result)
	if text == "" {
		return nil, eris.Wrap(models.ErrCollaborator, "discovery: empty model response")
	}

	var suggestion Suggestion
	if err := json.Unmarshal([]byte(stripFences(text)), &suggestion); err != nil {
		return nil, eris.Wrapf(models.ErrCollaborator, "discovery: parse suggestion: %v", err)
	}

	return &suggestion, nil
}

func buildPrompt(d Descriptor) string {
	var b strings.Builder
	b.WriteString("You are an Indian used-vehicle market pricing assistant with live search access.\n")
	b.WriteString("Search cardekho.com, olx.in, droom.in and spinny.com for current prices.\n\n")
	fmt.Fprintf(&b, "Vehicle: %s %s", d.Make, d.Model)
	if d.Variant != "" {
		fmt.Fprintf(&b, " %s", d.Variant)
	}
	fmt.Fprintf(&b, "\nManufacturing Year: %s\nCity: %s\n", d.ManufacturingYear, d.City)
	if d.FuelType != "" {
		fmt.Fprintf(&b, "Fuel Type: %s\n", d.FuelType)
	}
	if d.BodyType != "" {
		fmt.Fprintf(&b, "Body Type: %s\n", d.BodyType)
	}
	if d.Class != "" {
		fmt.Fprintf(&b, "Category: %s\n", d.Class)
	}
	b.WriteString(`
Respond with ONLY a JSON object, no prose, with these fields (INR, numbers not strings):
{
  "current_ex_showroom": <current ex-showroom price of the nearest equivalent new model>,
  "original_on_road_price": <on-road price in the manufacturing year, estimate if unknown>,
  "market_listings_mean": <mean asking price of comparable used listings, 0 if none found>,
  "market_listing_count": <number of comparable listings found>,
  "market_median_idv": <median insured declared value quoted for this vehicle, 0 if unknown>,
  "variant_guess": "<most likely variant name, empty string if unknown>"
}
`)
	return b.String()
}

func extractText(r generateResponse) string {
	for _, cand := range r.Candidates {
		var b strings.Builder
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}

// stripFences removes a surrounding markdown code block if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
