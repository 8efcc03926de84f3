package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/embedding"
)

// ServerStore talks to an external vector service over HTTP JSON. The
// service owns embedding internally when built that way; this client still
// carries an engine so FindSimilar can fall back to client-side ranking when
// the server only returns raw candidates.
type ServerStore struct {
	baseURL string
	engine  embedding.Engine
	client  *http.Client
}

// NewServerStore builds the external-server variant.
func NewServerStore(baseURL string, engine embedding.Engine) *ServerStore {
	return &ServerStore{
		baseURL: baseURL,
		engine:  engine,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type serverAddRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type serverSearchResponse struct {
	Matches []Match `json:"matches"`
}

func (s *ServerStore) Add(ctx context.Context, id, text string) error {
	const op = "vector.ServerStore.Add"
	body, _ := json.Marshal(serverAddRequest{ID: id, Text: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/vectors", bytes.NewReader(body))
	if err != nil {
		return aerr.E(aerr.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return aerr.E(aerr.KindBackendUnavailable, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return aerr.Errorf(aerr.KindBackendUnavailable, op, "server returned %d", resp.StatusCode)
	}
	return nil
}

func (s *ServerStore) FindSimilar(ctx context.Context, query string, k int, threshold float64) ([]Match, error) {
	const op = "vector.ServerStore.FindSimilar"
	q := url.Values{}
	q.Set("q", query)
	q.Set("k", strconv.Itoa(k))
	q.Set("threshold", strconv.FormatFloat(threshold, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/vectors/search?"+q.Encode(), nil)
	if err != nil {
		return nil, aerr.E(aerr.KindInternal, op, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, aerr.E(aerr.KindBackendUnavailable, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, aerr.Errorf(aerr.KindBackendUnavailable, op, "server returned %d", resp.StatusCode)
	}

	var out serverSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, aerr.E(aerr.KindBackendUnavailable, op, "malformed search response", err)
	}
	// Re-rank defensively; some deployments return unfiltered candidates.
	return rankMatches(out.Matches, k, threshold), nil
}

func (s *ServerStore) Remove(ctx context.Context, id string) error {
	const op = "vector.ServerStore.Remove"
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+"/vectors/"+url.PathEscape(id), nil)
	if err != nil {
		return aerr.E(aerr.KindInternal, op, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return aerr.E(aerr.KindBackendUnavailable, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return aerr.Errorf(aerr.KindBackendUnavailable, op, "server returned %d", resp.StatusCode)
	}
	return nil
}

func (s *ServerStore) Count(ctx context.Context) (int, error) {
	const op = "vector.ServerStore.Count"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/vectors/count", nil)
	if err != nil {
		return 0, aerr.E(aerr.KindInternal, op, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, aerr.E(aerr.KindBackendUnavailable, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, aerr.Errorf(aerr.KindBackendUnavailable, op, "server returned %d", resp.StatusCode)
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, aerr.E(aerr.KindBackendUnavailable, op, "malformed count response", err)
	}
	return out.Count, nil
}
