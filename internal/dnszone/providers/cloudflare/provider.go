package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certerr"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/dnszone"
)

const (
	cloudflareAPIBase = "https://api.cloudflare.com/client/v4"
	requestTimeout    = 10 * time.Second
)

// Cloudflare error codes for "record not found"
const (
	codeRecordNotFound    = 81044
	codeRecordIDNotFound  = 81043
	codeZoneNotFound      = 7003
	codeZoneInvalidAccess = 9109
)

// Provider implements dnszone.Provider for the Cloudflare API
type Provider struct {
	email    string
	apiToken string
	client   *http.Client
}

// NewProvider creates a new Cloudflare DNS provider
func NewProvider(email, apiToken string) *Provider {
	return &Provider{
		email:    email,
		apiToken: apiToken,
		client: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

type cloudflareRecord struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

type cloudflareResponse struct {
	Success bool              `json:"success"`
	Errors  []cloudflareError `json:"errors"`
	Result  json.RawMessage   `json:"result"`
}

type cloudflareError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// EnsureRecord ensures a DNS record exists with the correct values
func (p *Provider) EnsureRecord(ctx context.Context, zoneID string, record dnszone.Record) (string, bool, error) {
	existingID, err := p.FindRecord(ctx, zoneID, record.Type, record.Name, record.Value)
	if err != nil && err != dnszone.ErrNotFound {
		return "", false, err
	}

	if existingID != "" {
		existing, err := p.getRecord(ctx, zoneID, existingID)
		if err != nil {
			return existingID, false, err
		}

		if existing.TTL == record.TTL && existing.Proxied == record.Proxied {
			return existingID, false, nil
		}

		if err := p.updateRecord(ctx, zoneID, existingID, record); err != nil {
			return existingID, false, err
		}
		return existingID, true, nil
	}

	recordID, err := p.createRecord(ctx, zoneID, record)
	if err != nil {
		return "", false, err
	}
	return recordID, true, nil
}

// DeleteRecord deletes a DNS record by its provider-specific ID.
// Returns dnszone.ErrNotFound when the record is already gone.
func (p *Provider) DeleteRecord(ctx context.Context, zoneID string, providerRecordID string) error {
	url := fmt.Sprintf("%s/zones/%s/dns_records/%s", cloudflareAPIBase, zoneID, providerRecordID)

	cfResp, status, err := p.do(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return dnszone.ErrNotFound
	}
	if !cfResp.Success {
		for _, e := range cfResp.Errors {
			if e.Code == codeRecordNotFound || e.Code == codeRecordIDNotFound {
				return dnszone.ErrNotFound
			}
		}
		return classifyAPIError("cloudflare.DeleteRecord", status, cfResp.Errors)
	}
	return nil
}

// FindRecord finds a DNS record by type, name, and value
func (p *Provider) FindRecord(ctx context.Context, zoneID string, recordType string, name string, value string) (string, error) {
	url := fmt.Sprintf("%s/zones/%s/dns_records?type=%s&name=%s&content=%s",
		cloudflareAPIBase, zoneID, recordType, name, value)

	cfResp, status, err := p.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if !cfResp.Success {
		return "", classifyAPIError("cloudflare.FindRecord", status, cfResp.Errors)
	}

	var records []cloudflareRecord
	if err := json.Unmarshal(cfResp.Result, &records); err != nil {
		return "", certerr.Transient("cloudflare.FindRecord", fmt.Errorf("failed to parse result: %w", err))
	}
	if len(records) == 0 {
		return "", dnszone.ErrNotFound
	}
	return records[0].ID, nil
}

func (p *Provider) createRecord(ctx context.Context, zoneID string, record dnszone.Record) (string, error) {
	url := fmt.Sprintf("%s/zones/%s/dns_records", cloudflareAPIBase, zoneID)

	payload := map[string]interface{}{
		"type":    record.Type,
		"name":    record.Name,
		"content": record.Value,
		"ttl":     record.TTL,
		"proxied": record.Proxied,
	}

	cfResp, status, err := p.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return "", err
	}
	if !cfResp.Success {
		return "", classifyAPIError("cloudflare.CreateRecord", status, cfResp.Errors)
	}

	var created cloudflareRecord
	if err := json.Unmarshal(cfResp.Result, &created); err != nil {
		return "", certerr.Transient("cloudflare.CreateRecord", fmt.Errorf("failed to parse result: %w", err))
	}
	return created.ID, nil
}

func (p *Provider) updateRecord(ctx context.Context, zoneID string, recordID string, record dnszone.Record) error {
	url := fmt.Sprintf("%s/zones/%s/dns_records/%s", cloudflareAPIBase, zoneID, recordID)

	payload := map[string]interface{}{
		"type":    record.Type,
		"name":    record.Name,
		"content": record.Value,
		"ttl":     record.TTL,
		"proxied": record.Proxied,
	}

	cfResp, status, err := p.do(ctx, http.MethodPut, url, payload)
	if err != nil {
		return err
	}
	if !cfResp.Success {
		return classifyAPIError("cloudflare.UpdateRecord", status, cfResp.Errors)
	}
	return nil
}

func (p *Provider) getRecord(ctx context.Context, zoneID string, recordID string) (*cloudflareRecord, error) {
	url := fmt.Sprintf("%s/zones/%s/dns_records/%s", cloudflareAPIBase, zoneID, recordID)

	cfResp, status, err := p.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if !cfResp.Success {
		return nil, classifyAPIError("cloudflare.GetRecord", status, cfResp.Errors)
	}

	var record cloudflareRecord
	if err := json.Unmarshal(cfResp.Result, &record); err != nil {
		return nil, certerr.Transient("cloudflare.GetRecord", fmt.Errorf("failed to parse result: %w", err))
	}
	return &record, nil
}

// do performs one API request and decodes the standard envelope
func (p *Provider) do(ctx context.Context, method, url string, payload interface{}) (*cloudflareResponse, int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, certerr.Transient("cloudflare.request", fmt.Errorf("failed to marshal payload: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, certerr.Transient("cloudflare.request", fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("X-Auth-Email", p.email)
	req.Header.Set("X-Auth-Key", p.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, certerr.Transient("cloudflare.request", fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resp.StatusCode, certerr.RateLimited("cloudflare.request",
			fmt.Errorf("rate limited by provider (HTTP 429)"))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, certerr.Transient("cloudflare.request", fmt.Errorf("failed to read response: %w", err))
	}

	var cfResp cloudflareResponse
	if err := json.Unmarshal(respBody, &cfResp); err != nil {
		// DELETE on a missing record returns a bare 404 body
		if resp.StatusCode == http.StatusNotFound {
			return &cloudflareResponse{}, resp.StatusCode, nil
		}
		return nil, resp.StatusCode, certerr.Transient("cloudflare.request", fmt.Errorf("failed to parse response: %w", err))
	}

	return &cfResp, resp.StatusCode, nil
}

// classifyAPIError maps a failed Cloudflare response onto the error taxonomy
func classifyAPIError(op string, status int, errs []cloudflareError) error {
	cause := fmt.Errorf("cloudflare API error: %s", formatErrors(errs))

	for _, e := range errs {
		if e.Code == codeZoneNotFound || e.Code == codeZoneInvalidAccess {
			return certerr.Configuration(op, cause)
		}
	}
	if status == http.StatusTooManyRequests {
		return certerr.RateLimited(op, cause)
	}
	if status == http.StatusForbidden || status == http.StatusUnauthorized {
		return certerr.Configuration(op, cause)
	}
	return certerr.Transient(op, cause)
}

// formatErrors formats Cloudflare API errors into a readable string
func formatErrors(errors []cloudflareError) string {
	if len(errors) == 0 {
		return "unknown error"
	}

	var errMsgs []string
	for _, e := range errors {
		errMsgs = append(errMsgs, fmt.Sprintf("[%d] %s", e.Code, e.Message))
	}
	return fmt.Sprintf("%v", errMsgs)
}
