// Package marketplace reads the artist's collection from the marketplace API.
package marketplace

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const DefaultBaseURL = "https://api.opensea.io"

// Item is one listed piece.
type Item struct {
	Image       string `json:"image"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Href        string `json:"href"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: httpClient}
}

// ListAssets returns up to limit items of collection.
func (c *Client) ListAssets(ctx context.Context, collection string, limit int) ([]Item, error) {
	q := url.Values{}
	q.Set("collection", collection)
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/assets?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read assets: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list assets: status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("list assets: invalid json")
	}

	assets := gjson.GetBytes(raw, "assets").Array()
	items := make([]Item, 0, len(assets))
	for _, a := range assets {
		items = append(items, Item{
			Image:       a.Get("image_url").String(),
			Name:        a.Get("name").String(),
			Description: a.Get("description").String(),
			Href:        a.Get("permalink").String(),
		})
	}
	return items, nil
}
