// Package registry looks up identity records in the external national
// registries for people and organizations. Lookups are read-only; the
// registries are the source of truth for names, filiation and founding
// data, which are copied locally once at registration time.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrNotFound means the registry answered but has no record for
	// the tax id.
	ErrNotFound = errors.New("registry: record not found")
	// ErrUnavailable means the registry could not be reached or
	// returned an unexpected response.
	ErrUnavailable = errors.New("registry: unavailable")
)

// PersonRecord is a natural person's registry entry.
type PersonRecord struct {
	TaxID     string    `json:"taxId"`
	Name      string    `json:"name"`
	Mother    string    `json:"mother,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	Country   string    `json:"country"`
	BirthDate time.Time `json:"birthDate"`
}

// CompanyRecord is an organization's registry entry.
type CompanyRecord struct {
	TaxID       string    `json:"taxId"`
	LegalName   string    `json:"legalName"`
	TradeName   string    `json:"tradeName,omitempty"`
	Responsible string    `json:"responsible,omitempty"`
	LegalNature string    `json:"legalNature,omitempty"`
	Country     string    `json:"country"`
	FoundedAt   time.Time `json:"foundedAt"`
}

// Client queries the two registry endpoints over HTTP. The zero value
// is not usable; construct with NewClient.
type Client struct {
	personEndpoint  string
	companyEndpoint string
	httpClient      *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly so tests
// can inject transports and contexts can share connection pools.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient builds a registry client for the given endpoints. Either
// endpoint may be empty, in which case lookups of that kind fail with
// ErrUnavailable.
func NewClient(personEndpoint, companyEndpoint string, opts ...Option) *Client {
	c := &Client{
		personEndpoint:  personEndpoint,
		companyEndpoint: companyEndpoint,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Person fetches the registry record for a person's tax id.
func (c *Client) Person(ctx context.Context, taxID string) (PersonRecord, error) {
	var rec PersonRecord
	if err := c.lookup(ctx, c.personEndpoint, taxID, &rec); err != nil {
		return PersonRecord{}, err
	}
	return rec, nil
}

// Company fetches the registry record for an organization's tax id.
func (c *Client) Company(ctx context.Context, taxID string) (CompanyRecord, error) {
	var rec CompanyRecord
	if err := c.lookup(ctx, c.companyEndpoint, taxID, &rec); err != nil {
		return CompanyRecord{}, err
	}
	return rec, nil
}

func (c *Client) lookup(ctx context.Context, endpoint, taxID string, out any) error {
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint not configured", ErrUnavailable)
	}
	u := endpoint + "/" + url.PathEscape(taxID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %s", ErrUnavailable, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}
	return nil
}
