package marketplace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAssets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/assets", r.URL.Path)
		assert.Equal(t, "potato-but-cute", r.URL.Query().Get("collection"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "key-1", r.Header.Get("X-API-KEY"))
		_, _ = w.Write([]byte(`{"assets":[
			{"image_url":"https://img/1.png","name":"Potato #1","description":"a potato","permalink":"https://opensea.io/assets/1","token_id":"1"},
			{"image_url":"https://img/2.png","name":"Potato #2","description":null,"permalink":"https://opensea.io/assets/2"}
		]}`))
	}))
	defer srv.Close()

	items, err := NewClient(srv.URL, "key-1", srv.Client()).ListAssets(context.Background(), "potato-but-cute", 50)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, Item{Image: "https://img/1.png", Name: "Potato #1", Description: "a potato", Href: "https://opensea.io/assets/1"}, items[0])
	assert.Empty(t, items[1].Description)
}

func TestListAssetsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("collection") == "broken" {
			_, _ = w.Write([]byte(`{"assets":[`))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", srv.Client())
	_, err := c.ListAssets(context.Background(), "potato-but-cute", 50)
	assert.EqualError(t, err, "list assets: status 429")

	_, err = c.ListAssets(context.Background(), "broken", 50)
	assert.EqualError(t, err, "list assets: invalid json")
}

func TestListAssetsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	items, err := NewClient(srv.URL, "", srv.Client()).ListAssets(context.Background(), "x", 1)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NotNil(t, items)
}
