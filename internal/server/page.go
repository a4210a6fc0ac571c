package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"formtato/internal/listing"
)

//go:embed templates/*.html
var templateFS embed.FS

var weiPerEther = big.NewInt(1_000_000_000_000_000_000)

type pageRenderer struct {
	index *template.Template
}

func newPageRenderer() (*pageRenderer, error) {
	index, err := template.New("index.html").Funcs(template.FuncMap{
		"shortAddress": shortAddress,
	}).ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &pageRenderer{index: index}, nil
}

type pageData struct {
	Listing   listing.Snapshot
	Order     orderView
	Price     string
	Providers []string
	ShareURL  string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	v := visitorFrom(r)
	data := pageData{
		Listing:   s.deps.Listing.Snapshot(),
		Order:     s.orderView(v),
		Price:     formatEther(s.price),
		Providers: s.deps.WalletProviders,
		ShareURL:  shareURL(s.cfg.Service.PublicURL),
	}

	var buf bytes.Buffer
	if err := s.pages.index.Execute(&buf, data); err != nil {
		s.log.WithError(err).Error("render index")
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// formatEther renders wei as a decimal ether amount without trailing zeros.
func formatEther(wei *big.Int) string {
	s := new(big.Rat).SetFrac(wei, weiPerEther).FloatString(18)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func shareURL(publicURL string) string {
	q := url.Values{}
	q.Set("url", publicURL)
	q.Set("text", "🌱 Just ordered a hand-painted potato from @ruedart\n\n")
	return "https://twitter.com/intent/tweet?" + q.Encode()
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
