// Package restclient factors the retry-with-backoff, timeout, and
// discriminated-outcome plumbing shared by casdaemon, indexer and chainrest
// (spec.md §4.D: "each client is thin, with 2 attempts and ~150ms backoff").
// Grounded on internal/bitcoin/client.go's ScanTxOutset/GetTxOutSetInfoLong
// hand-built http.Request + http.Client{Timeout:...} pattern, factored once
// here since three collaborators need the identical shape.
package restclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rawblock/lumen-gateway/internal/httpoutcome"
)

const (
	Attempts = 2
	Backoff  = 150 * time.Millisecond
)

// Do issues method against url with up to Attempts tries and Backoff
// between them, decoding a successful JSON response into T.
func Do[T any](ctx context.Context, httpClient *http.Client, logger *httpoutcome.Logger, clientName, method, url string, body io.Reader, contentType string) httpoutcome.Outcome[T] {
	var lastKind httpoutcome.Kind
	var lastErr string

	for attempt := 1; attempt <= Attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return httpoutcome.Fail[T](httpoutcome.Unreachable, err.Error())
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			lastKind, lastErr = classifyErr(err), err.Error()
			if attempt < Attempts {
				time.Sleep(Backoff)
				continue
			}
			break
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastKind, lastErr = httpoutcome.BadJSON, readErr.Error()
			if attempt < Attempts {
				time.Sleep(Backoff)
				continue
			}
			break
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastKind, lastErr = httpoutcome.BadStatus, fmt.Sprintf("%s: status %d", url, resp.StatusCode)
			if attempt < Attempts {
				time.Sleep(Backoff)
				continue
			}
			break
		}

		var parsed T
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			lastKind, lastErr = httpoutcome.BadJSON, err.Error()
			if attempt < Attempts {
				time.Sleep(Backoff)
				continue
			}
			break
		}
		return httpoutcome.Ok(parsed)
	}

	logger.LogFailure(clientName, lastKind, lastErr)
	return httpoutcome.Fail[T](lastKind, lastErr)
}

func classifyErr(err error) httpoutcome.Kind {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return httpoutcome.Timeout
	}
	return httpoutcome.Unreachable
}
