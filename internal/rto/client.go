package rto

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"vehicle-valuation/internal/models"
	"vehicle-valuation/internal/normalize"
)

const defaultBaseURL = "https://kyc-api.surepass.app/api/v1/rc"

// Client looks up vehicle registration details by RC number.
type Client interface {
	Lookup(ctx context.Context, rcNumber string) (*Record, error)
}

// Record is the registration payload returned by the RC provider. The
// provider serializes numeric fields like owner_number as strings.
type Record struct {
	RCNumber                   string `json:"rc_number"`
	MakerDescription           string `json:"maker_description"`
	MakerModel                 string `json:"maker_model"`
	Variant                    string `json:"variant"`
	FuelType                   string `json:"fuel_type"`
	Color                      string `json:"color"`
	BodyType                   string `json:"body_type"`
	VehicleCategory            string `json:"vehicle_category"`
	CubicCapacity              string `json:"cubic_capacity"`
	NormsType                  string `json:"norms_type"`
	ManufacturingDate          string `json:"manufacturing_date"`
	ManufacturingDateFormatted string `json:"manufacturing_date_formatted"`
	RegistrationDate           string `json:"registration_date"`
	RegisteredAt               string `json:"registered_at"`
	OwnerNumber                string `json:"owner_number"`
}

// Raw converts the provider payload into the attribute set the
// normalization layer consumes. The formatted manufacturing date is
// preferred when present; an unparseable owner_number counts as one owner.
func (r *Record) Raw() normalize.RawAttributes {
	mfgDate := r.ManufacturingDateFormatted
	if mfgDate == "" {
		mfgDate = r.ManufacturingDate
	}

	owners := 1
	if n, err := strconv.Atoi(strings.TrimSpace(r.OwnerNumber)); err == nil && n > 0 {
		owners = n
	}

	return normalize.RawAttributes{
		RCNumber:          r.RCNumber,
		MakerDescription:  r.MakerDescription,
		MakerModel:        r.MakerModel,
		ManufacturingDate: mfgDate,
		FuelType:          r.FuelType,
		BodyType:          r.BodyType,
		VehicleCategory:   r.VehicleCategory,
		RegisteredAt:      r.RegisteredAt,
		Color:             r.Color,
		OwnerCount:        owners,
	}
}

type lookupRequest struct {
	IDNumber string `json:"id_number"`
	Enrich   bool   `json:"enrich"`
}

type lookupResponse struct {
	Success    bool    `json:"success"`
	StatusCode int     `json:"status_code"`
	Message    string  `json:"message"`
	Data       *Record `json:"data"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates an RC registry client authenticated with a bearer token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
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

// Lookup fetches registration details for an RC number. Provider failures
// wrap models.ErrCollaborator so callers can map them to an upstream error.
func (c *httpClient) Lookup(ctx context.Context, rcNumber string) (*Record, error) {
	body, err := json.Marshal(lookupRequest{IDNumber: rcNumber, Enrich: true})
	if err != nil {
		return nil, eris.Wrap(err, "rto: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rc-v2", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "rto: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrapf(models.ErrCollaborator, "rto: send request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(models.ErrCollaborator, "rto: read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrapf(models.ErrCollaborator, "rto: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result lookupResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrapf(models.ErrCollaborator, "rto: unmarshal response: %v", err)
	}
	if !result.Success || result.Data == nil {
		return nil, eris.Wrapf(models.ErrCollaborator, "rto: lookup failed: %s", result.Message)
	}
	if result.Data.RCNumber == "" {
		result.Data.RCNumber = rcNumber
	}

	return result.Data, nil
}
