package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/passbi/busrace/internal/logger"
	"github.com/passbi/busrace/internal/models"
)

const (
	// HeaderClientName identifies the caller to the upstream feed
	HeaderClientName = "ET-Client-Name"

	defaultUpstreamMessage = "Entur request failed."
	maxErrorBody           = 64 << 10
)

// UpstreamError is returned for a non-success HTTP status. Message is the
// response body, or a generic text when the body is empty.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return e.Message
}

// Client fetches vehicle-monitoring deliveries for an operator
type Client struct {
	endpoint   string
	maxSize    int
	httpClient *http.Client
	log        logger.Logger
}

// NewClient creates a feed client. maxSize bounds the number of activities
// requested per call.
func NewClient(endpoint string, maxSize int, timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		endpoint: endpoint,
		maxSize:  maxSize,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		log: log,
	}
}

// FetchBuses requests the operator's vehicles and normalizes them
func (c *Client) FetchBuses(ctx context.Context, operator, clientName string) ([]models.Vehicle, error) {
	payload, err := c.fetchPayload(ctx, operator, clientName)
	if err != nil {
		return nil, err
	}
	buses := ExtractBuses(payload)
	c.log.Debug("Fetched vehicle monitoring delivery", "operator", operator, "buses", len(buses))
	return buses, nil
}

func (c *Client) fetchPayload(ctx context.Context, operator, clientName string) (any, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream endpoint: %w", err)
	}
	q := u.Query()
	q.Set("datasetId", operator)
	q.Set("maxSize", strconv.Itoa(c.maxSize))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(HeaderClientName, clientName)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vehicle monitoring: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = defaultUpstreamMessage
		}
		return nil, &UpstreamError{Status: resp.StatusCode, Message: message}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return DecodePayload(body)
}

// DecodePayload parses a JSON document into the untyped tree the
// accessors expect
func DecodePayload(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode vehicle monitoring payload: %w", err)
	}
	return payload, nil
}
