// Package remote backs the schema index with an external vector-search
// service. A rebuild uploads every document into a fresh physical index and
// then swaps the search alias, so readers of the alias observe either the
// old or the new index in full.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sqlpilot/sqlpilot/internal/embed"
	"github.com/sqlpilot/sqlpilot/internal/index"
	"github.com/sqlpilot/sqlpilot/internal/schema"
)

type Config struct {
	BaseURL string
	APIKey  string
	Alias   string
	Timeout time.Duration
}

type activeState struct {
	info     index.Version
	snapshot schema.Snapshot
	docsByID map[string]schema.Document
}

type Index struct {
	baseURL  string
	apiKey   string
	alias    string
	client   *http.Client
	embedder embed.Embedder
	active   atomic.Pointer[activeState]
}

func New(cfg Config, embedder embed.Embedder) (*Index, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.Alias) == "" {
		return nil, fmt.Errorf("index alias is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Index{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		alias:    strings.TrimSpace(cfg.Alias),
		client:   &http.Client{Timeout: timeout},
		embedder: embedder,
	}, nil
}

type document struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
}

func (i *Index) Rebuild(ctx context.Context, snap schema.Snapshot) (index.Version, error) {
	docs := snap.Documents()
	if len(docs) == 0 {
		return index.Version{}, fmt.Errorf("snapshot has no documents")
	}

	texts := make([]string, len(docs))
	for j, doc := range docs {
		texts[j] = doc.Text
	}
	vectors, err := i.embedder.Embed(ctx, texts)
	if err != nil {
		return index.Version{}, fmt.Errorf("embed snapshot documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return index.Version{}, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(docs))
	}

	versionID := uuid.NewString()
	physical := fmt.Sprintf("%s-%s", i.alias, versionID[:8])

	if err := i.do(ctx, http.MethodPut, "/v1/indexes/"+physical, nil, nil); err != nil {
		return index.Version{}, fmt.Errorf("create index %q: %w", physical, err)
	}

	upload := make([]document, len(docs))
	fragments, examples := 0, 0
	for j, doc := range docs {
		if len(vectors[j]) == 0 {
			return index.Version{}, fmt.Errorf("empty embedding for document %q", doc.ID)
		}
		upload[j] = document{ID: doc.ID, Kind: string(doc.Kind), Text: doc.Text, Vector: vectors[j]}
		switch doc.Kind {
		case schema.KindFragment:
			fragments++
		case schema.KindExample:
			examples++
		}
	}
	payload := map[string]any{"documents": upload}
	if err := i.do(ctx, http.MethodPost, "/v1/indexes/"+physical+"/documents", payload, nil); err != nil {
		return index.Version{}, fmt.Errorf("upload documents to %q: %w", physical, err)
	}

	// Alias swap is the publish point; until it succeeds, searches keep
	// hitting the previous physical index.
	swap := map[string]any{"alias": i.alias, "index": physical}
	if err := i.do(ctx, http.MethodPost, "/v1/aliases", swap, nil); err != nil {
		return index.Version{}, fmt.Errorf("swap alias %q to %q: %w", i.alias, physical, err)
	}

	info := index.Version{
		ID:        versionID,
		CreatedAt: time.Now().UTC(),
		Fragments: fragments,
		Examples:  examples,
	}
	i.adopt(info, snap, docs)
	return info, nil
}

// Adopt publishes a snapshot locally without touching the remote service.
// Used when another process (the indexer) performed the rebuild and this
// process loaded the archived snapshot it produced.
func (i *Index) Adopt(info index.Version, snap schema.Snapshot) {
	i.adopt(info, snap, snap.Documents())
}

func (i *Index) adopt(info index.Version, snap schema.Snapshot, docs []schema.Document) {
	byID := make(map[string]schema.Document, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}
	i.active.Store(&activeState{info: info, snapshot: snap, docsByID: byID})
}

func (i *Index) Search(ctx context.Context, vector []float32, kind schema.DocKind, k int) ([]index.Match, error) {
	state := i.active.Load()
	if state == nil {
		return nil, index.ErrNoActiveVersion
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if k <= 0 {
		return nil, nil
	}

	payload := map[string]any{"vector": vector, "k": k}
	if kind != "" {
		payload["filter"] = map[string]string{"kind": string(kind)}
	}

	var parsed struct {
		Matches []struct {
			ID    string  `json:"id"`
			Score float64 `json:"score"`
		} `json:"matches"`
	}
	if err := i.do(ctx, http.MethodPost, "/v1/indexes/"+i.alias+"/search", payload, &parsed); err != nil {
		return nil, fmt.Errorf("search alias %q: %w", i.alias, err)
	}

	matches := make([]index.Match, 0, len(parsed.Matches))
	for _, match := range parsed.Matches {
		doc, ok := state.docsByID[match.ID]
		if !ok {
			// The remote index may briefly serve documents from a version this
			// process has not adopted yet; skip rather than fabricate.
			continue
		}
		matches = append(matches, index.Match{Document: doc, Score: match.Score})
	}
	return matches, nil
}

func (i *Index) Active() (index.Version, schema.Snapshot, bool) {
	state := i.active.Load()
	if state == nil {
		return index.Version{}, schema.Snapshot{}, false
	}
	return state.info, state.snapshot, true
}

func (i *Index) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, i.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if i.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+i.apiKey)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s failed status=%d body=%s", method, path, resp.StatusCode, string(rawRespBody))
	}
	if out != nil {
		if err := json.Unmarshal(rawRespBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
