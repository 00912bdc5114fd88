// Package knowledge answers product questions from the shared corpus via
// similarity retrieval gated by a relevance threshold.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bankgate/pkg/httpx"
	"bankgate/pkg/store"
)

// Passage is one scored chunk returned by the retrieval backend. Scores are
// in [0,1]; passages are ephemeral and never persisted.
type Passage struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Retriever is the boundary to the embedding/similarity-search backend.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Passage, error)
}

// HTTPRetriever calls a similarity-search service over JSON. Responses are
// cached briefly so repeated product questions skip the embedding round trip.
type HTTPRetriever struct {
	BaseURL    string
	HTTPClient *http.Client
	TopK       int
	Retries    int
	RetryDelay time.Duration
	Cache      store.Cache
	CacheTTL   time.Duration
}

type retrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type retrieveResponse struct {
	Results []Passage `json:"results"`
}

func (r *HTTPRetriever) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	topK := r.TopK
	if topK <= 0 {
		topK = 3
	}
	cacheKey := ""
	if r.Cache != nil {
		sum := sha256.Sum256([]byte(query))
		cacheKey = fmt.Sprintf("kb:%d:%x", topK, sum[:8])
		if cached, err := r.Cache.Get(ctx, cacheKey); err == nil {
			var out []Passage
			if json.Unmarshal([]byte(cached), &out) == nil {
				return out, nil
			}
		}
	}
	body, err := json.Marshal(retrieveRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, err
	}
	status, respBody, err := httpx.RequestJSON(ctx, r.HTTPClient, http.MethodPost, r.BaseURL+"/search", body, nil, r.Retries, r.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("retrieval backend: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("retrieval backend status=%d", status)
	}
	var resp retrieveResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("retrieval backend: invalid response: %w", err)
	}
	if r.Cache != nil && cacheKey != "" {
		ttl := r.CacheTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		if encoded, err := json.Marshal(resp.Results); err == nil {
			_ = r.Cache.Set(ctx, cacheKey, string(encoded), ttl)
		}
	}
	return resp.Results, nil
}

var errNotConfigured = errors.New("retriever not configured")

// Disabled is a Retriever that always fails; used when no backend is set so
// the gate degrades to its no-match answer instead of fabricating one.
type Disabled struct{}

func (Disabled) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	return nil, errNotConfigured
}
