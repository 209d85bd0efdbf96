// Package keys fetches the cipher key document used to decipher dark signals.
package keys

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/metrics"
	"github.com/telhawk-systems/signalhawk/decipher/pkg/cipher"
)

// maxDocumentSize bounds the key document read from the remote endpoint.
const maxDocumentSize = 1 << 20

type Provider struct {
	url        string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewProvider(url string, timeout time.Duration, logger *logging.Logger) *Provider {
	return &Provider{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Fetch downloads and parses the key document. Transport failures and non-2xx
// responses are returned as errors; a document that cannot be parsed yields
// an empty KeySet.
func (p *Provider) Fetch(ctx context.Context) (cipher.KeySet, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Accept", "application/xml, text/xml")

	response, err := p.httpClient.Do(request)
	if err != nil {
		metrics.KeyFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch keys: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		metrics.KeyFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch keys: unexpected status %d", response.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, maxDocumentSize))
	if err != nil {
		metrics.KeyFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read keys: %w", err)
	}

	keys, duplicates, err := Parse(data)
	if err != nil {
		metrics.KeyFetches.WithLabelValues("malformed").Inc()
		p.logger.WarnContext(ctx, "key document is malformed, using empty key set", logging.Error(err))
		return cipher.KeySet{}, nil
	}
	for _, kid := range duplicates {
		p.logger.WarnContext(ctx, "duplicate key id in key document, keeping first", logging.KeyID(kid))
	}

	metrics.KeyFetches.WithLabelValues("ok").Inc()
	p.logger.DebugContext(ctx, "fetched cipher keys", "count", len(keys))
	return keys, nil
}

type keyDocument struct {
	XMLName xml.Name   `xml:"keys"`
	Keys    []keyEntry `xml:"key"`
}

// keyEntry accepts both <key kid=".." cipher=".."/> and
// <key><kid>..</kid><cipher>..</cipher></key>.
type keyEntry struct {
	KidAttr    string `xml:"kid,attr"`
	CipherAttr string `xml:"cipher,attr"`
	Kid        string `xml:"kid"`
	Cipher     string `xml:"cipher"`
}

func (e keyEntry) values() (kid, alphabet string) {
	kid, alphabet = e.KidAttr, e.CipherAttr
	if kid == "" {
		kid = e.Kid
	}
	if alphabet == "" {
		alphabet = e.Cipher
	}
	return strings.TrimSpace(kid), strings.TrimSpace(alphabet)
}

// Parse reads a key document. The first entry for a key id wins; later ids
// are reported in duplicates. Entries without a key id are skipped.
func Parse(data []byte) (keys cipher.KeySet, duplicates []string, err error) {
	var doc keyDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, nil, err
	}

	keys = make(cipher.KeySet, len(doc.Keys))
	for _, entry := range doc.Keys {
		kid, alphabet := entry.values()
		if kid == "" {
			continue
		}
		if _, exists := keys[kid]; exists {
			duplicates = append(duplicates, kid)
			continue
		}
		keys[kid] = alphabet
	}
	return keys, duplicates, nil
}
