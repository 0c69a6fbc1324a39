package facade

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/lumen-gateway/internal/apierr"
	"github.com/rawblock/lumen-gateway/internal/pqenvelope"
)

// pqHandlerFunc is the signature every PQ-mandatory route implements: it
// gets the authenticated wallet and the decrypted inner payload, and
// returns the value to seal back (or an error).
type pqHandlerFunc func(ctx context.Context, wallet string, payload json.RawMessage) (any, error)

// pq wraps fn with the full spec.md §4.B envelope lifecycle: header checks,
// Codec.Open, wallet+IP rate limiting, the call itself, then pqenvelope.Seal of
// either the success body or the error envelope — every PQ-authenticated
// response is PQ-sealed, success or failure.
func (h *Handler) pq(fn pqHandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(pqenvelope.HeaderPQ) != pqenvelope.PQHeaderValue {
			h.writeError(c, apierr.New(apierr.PQRequired, "X-Lumen-PQ: v1 header required"))
			return
		}
		if c.GetHeader(pqenvelope.HeaderKEM) != pqenvelope.KEMKyber768 {
			h.writeError(c, apierr.New(apierr.PQUnsupportedKEM, "X-Lumen-KEM must be kyber768"))
			return
		}
		if err := h.crypto.ExpectedKeyID(c.GetHeader(pqenvelope.HeaderKeyID)); err != nil {
			h.writeError(c, apierr.Wrap(apierr.PQKeyMismatch, "key id mismatch", err))
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			h.writeError(c, apierr.Wrap(apierr.PQBadBody, "could not read request body", err))
			return
		}

		opened, err := h.codec.Open(c.Request.Method, c.Request.URL.Path, body)
		if err != nil {
			h.writeError(c, err)
			return
		}

		rlKey := opened.Wallet + "|" + c.ClientIP()
		if ok, retryAfter := h.pqLimiter.Allow(rlKey); !ok {
			c.Header("Retry-After", retryAfter.String())
			h.writeSealedError(c, opened.Key, apierr.New(apierr.AuthFailed, "rate_limited"))
			return
		}

		result, err := fn(c.Request.Context(), opened.Wallet, opened.Payload)
		if err != nil {
			h.writeSealedError(c, opened.Key, err)
			return
		}
		h.writeSealed(c, opened.Key, http.StatusOK, result)
	}
}

// writeError writes an unsealed apierr envelope — used before a PQ envelope
// has been opened (so there's no key to seal with yet).
func (h *Handler) writeError(c *gin.Context, err error) {
	c.JSON(apierr.Status(err), apierr.Envelope(err))
}

// writeSealed marshals body, seals it under key, and writes the outer
// envelope as the JSON response (spec.md §4.B "Response sealing").
func (h *Handler) writeSealed(c *gin.Context, key []byte, status int, body any) {
	plain, err := json.Marshal(body)
	if err != nil {
		h.writeError(c, apierr.Wrap(apierr.InternalError, "could not marshal response", err))
		return
	}
	outer, err := pqenvelope.Seal(key, plain)
	if err != nil {
		h.writeError(c, apierr.Wrap(apierr.PQEncryptFailed, "could not seal response", err))
		return
	}
	c.JSON(status, outer)
}

// writeSealedError seals an apierr envelope under key, preserving err's
// status code as the HTTP status of the (now-encrypted) response.
func (h *Handler) writeSealedError(c *gin.Context, key []byte, err error) {
	status := apierr.Status(err)
	envelope := apierr.Envelope(err)
	plain, marshalErr := json.Marshal(envelope)
	if marshalErr != nil {
		h.writeError(c, err)
		return
	}
	outer, sealErr := pqenvelope.Seal(key, plain)
	if sealErr != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(status, outer)
}
