package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ivolkov/shelfsync/internal/client/models"
)

// resourcePath maps an entity type to its API resource segment.
func resourcePath(t models.EntityType) string {
	switch t {
	case models.EntityTypeItem:
		return "items"
	case models.EntityTypeContainer:
		return "containers"
	case models.EntityTypeCategory:
		return "categories"
	case models.EntityTypeLocation:
		return "locations"
	}
	return string(t)
}

// HTTPClient implements Store against the sync API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient returns a client for the API at baseURL authenticating with
// the given bearer token.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func classify(status int) ErrorClass {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return ClassTransient
	case status >= 400:
		return ClassValidation
	default:
		return ClassFatal
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Class: ClassTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Class: classify(resp.StatusCode), Status: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// List returns entities changed strictly after changedSince.
func (c *HTTPClient) List(ctx context.Context, t models.EntityType, changedSince time.Time) ([]models.Entity, error) {
	query := url.Values{}
	if !changedSince.IsZero() {
		query.Set("changed_since", changedSince.UTC().Format(time.RFC3339Nano))
	}

	var docs []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/v1/"+resourcePath(t), query, nil, &docs); err != nil {
		return nil, err
	}

	result := make([]models.Entity, 0, len(docs))
	for _, doc := range docs {
		e, err := models.DecodeEntity(t, doc)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

// Create stores a new entity and returns its server-assigned id.
func (c *HTTPClient) Create(ctx context.Context, e models.Entity) (string, error) {
	// The server assigns the permanent id; the temporary one stays local.
	payload := e.Clone()
	payload.SetEntityID("")

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/"+resourcePath(e.Type()), nil, payload, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Update replaces the entity identified by its permanent id.
func (c *HTTPClient) Update(ctx context.Context, e models.Entity) error {
	path := fmt.Sprintf("/api/v1/%s/%s", resourcePath(e.Type()), url.PathEscape(e.EntityID()))
	return c.do(ctx, http.MethodPut, path, nil, e, nil)
}

// SoftDelete marks the entity deleted.
func (c *HTTPClient) SoftDelete(ctx context.Context, t models.EntityType, id string) error {
	path := fmt.Sprintf("/api/v1/%s/%s", resourcePath(t), url.PathEscape(id))
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// PresignBlobPut asks the server for a presigned upload slot for a photo blob.
func (c *HTTPClient) PresignBlobPut(ctx context.Context, blobID, mime string) (string, string, error) {
	body := map[string]string{"blobId": blobID, "mime": mime}
	var out struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/blobs/presign", nil, body, &out); err != nil {
		return "", "", err
	}
	return out.Key, out.URL, nil
}
