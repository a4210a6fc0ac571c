package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// NFTStorage stores blobs on IPFS through the nft.storage HTTP API.
type NFTStorage struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewNFTStorage(endpoint, token string, client *http.Client) *NFTStorage {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &NFTStorage{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   client,
	}
}

func (n *NFTStorage) Upload(ctx context.Context, _ string, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint+"/upload", io.LimitReader(body, MaxUploadBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+n.token)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read store response: %w", err)
	}

	parsed := gjson.ParseBytes(raw)
	if resp.StatusCode/100 != 2 || !parsed.Get("ok").Bool() {
		msg := parsed.Get("error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("store blob: status %d: %s", resp.StatusCode, msg)
	}

	cid := parsed.Get("value.cid").String()
	if cid == "" {
		return "", fmt.Errorf("store blob: response has no cid")
	}
	return "ipfs://" + cid, nil
}
