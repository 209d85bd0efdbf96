// Package index writes alert records to OpenSearch.
package index

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/telhawk-systems/signalhawk/common/config"
	"github.com/telhawk-systems/signalhawk/common/database"
	"github.com/telhawk-systems/signalhawk/common/models"
)

// IndexError reports a failed index request. Callers should retry.
type IndexError struct {
	Index  string
	Status int
	Err    error
}

func (e *IndexError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("index %s: status %d: %v", e.Index, e.Status, e.Err)
	}
	return fmt.Sprintf("index %s: %v", e.Index, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// Client indexes alert documents, one index per team.
type Client struct {
	osClient *opensearch.Client
	team     string
	now      func() time.Time
}

// NewClient creates an OpenSearch client for team.
func NewClient(cfg config.OpenSearchConfig, team string) (*Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.Insecure,
			},
		},
	}

	osClient, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &Client{osClient: osClient, team: team, now: time.Now}, nil
}

// IndexName returns the index alerts of team are written to.
func IndexName(team string) string {
	return strings.ToLower(team)
}

// Health verifies the cluster is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := database.PingContext(ctx)
	defer cancel()

	res, err := c.osClient.Info(c.osClient.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch returned error: %s", res.Status())
	}
	return nil
}

// Index writes the alert document for env under its id. Writing the same id
// again replaces the document; the event fields repeat and only the
// timestamp moves to the time of the latest write.
func (c *Client) Index(ctx context.Context, env models.Envelope) error {
	rec := models.NewObservationRecord(env, c.team, c.now())
	indexName := IndexName(c.team)

	body, err := json.Marshal(rec)
	if err != nil {
		return &IndexError{Index: indexName, Err: err}
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	req := opensearchapi.IndexRequest{
		Index:      indexName,
		DocumentID: rec.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.osClient)
	if err != nil {
		return &IndexError{Index: indexName, Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &IndexError{Index: indexName, Status: res.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(msg)))}
	}
	return nil
}
