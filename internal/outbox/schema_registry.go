package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrSubjectNotFound is returned when the registry holds no version of a subject.
var ErrSubjectNotFound = errors.New("schema subject not found")

// SchemaRegistryClient talks to the subset of the Confluent Schema Registry API needed to
// resolve schema ids for change events.
type SchemaRegistryClient struct {
	baseURL string
	http    *http.Client
}

// NewSchemaRegistryClient constructs a client for the registry at baseURL.
func NewSchemaRegistryClient(baseURL string) *SchemaRegistryClient {
	return &SchemaRegistryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// EnsureSchema returns the id of the latest version of subject. The schema is registered when
// the subject does not exist yet.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	id, err := c.call(ctx, http.MethodGet, subject, "/versions/latest", nil)
	if err == nil || !errors.Is(err, ErrSubjectNotFound) {
		return id, err
	}
	body, err := json.Marshal(struct {
		SchemaType string `json:"schemaType"`
		Schema     string `json:"schema"`
	}{SchemaType: "JSON", Schema: schema})
	if err != nil {
		return 0, err
	}
	return c.call(ctx, http.MethodPost, subject, "/versions", body)
}

func (c *SchemaRegistryClient) call(ctx context.Context, method, subject, suffix string, body []byte) (int, error) {
	endpoint := c.baseURL + "/subjects/" + url.PathEscape(subject) + suffix
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("schema registry %s %s: %w", method, subject, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("%w: %s", ErrSubjectNotFound, subject)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("schema registry %s %s: status %d: %s", method, subject, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode schema registry response: %w", err)
	}
	return out.ID, nil
}

// StaticRegistry returns a fixed schema id for every subject. It stands in for Schema Registry
// when none is configured.
type StaticRegistry struct {
	ID int
}

// EnsureSchema implements schemaRegistrar.
func (r StaticRegistry) EnsureSchema(context.Context, string, string) (int, error) {
	return r.ID, nil
}
