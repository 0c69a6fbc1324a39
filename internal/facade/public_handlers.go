package facade

import (
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/lumen-gateway/internal/apierr"
)

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) handleStatus(c *gin.Context) {
	ipfsOnline := h.cas.Version(c.Request.Context()).OK

	c.JSON(http.StatusOK, gin.H{
		"version": "1.0.0",
		"region":  h.cfg.Region,
		"public":  h.cfg.PublicEndpoint,
		"ipfs":    gin.H{"online": ipfsOnline},
		"time":    time.Now().UnixMilli(),
	})
}

func (h *Handler) handlePQPub(c *gin.Context) {
	c.JSON(http.StatusOK, h.crypto.Info())
}

func (h *Handler) handlePricing(c *gin.Context) {
	out := h.chain.Pricing(c.Request.Context())
	if !out.OK {
		h.writeError(c, apierr.New(apierr.ChainUnreachable, "could not fetch pricing"))
		return
	}
	c.JSON(http.StatusOK, out.Body)
}

// handleIPFSSeed returns the daemon's listen multiaddrs filtered to
// publicly dialable ones (spec.md §6 "usable public addrs only") — loopback
// and private-range addresses are stripped since they're useless to a
// remote peer.
func (h *Handler) handleIPFSSeed(c *gin.Context) {
	idOut := h.cas.ID(c.Request.Context())
	if !idOut.OK {
		h.writeError(c, apierr.New(apierr.IPFSUnavailable, "CAS-daemon id failed"))
		return
	}
	addrsOut := h.cas.SwarmAddrsListen(c.Request.Context())
	if !addrsOut.OK {
		h.writeError(c, apierr.New(apierr.IPFSUnavailable, "CAS-daemon swarm/addrs/listen failed"))
		return
	}

	public := filterPublicMultiaddrs(addrsOut.Body.Strings)
	if len(public) == 0 {
		h.writeError(c, apierr.New(apierr.NoUsableMultiaddrs, "no usable public multiaddrs"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"peerId": idOut.Body.ID, "multiaddrs": public})
}

// filterPublicMultiaddrs drops any multiaddr whose embedded host segment is
// loopback or RFC1918/ULA private, leaving only addresses a remote peer
// could actually dial.
func filterPublicMultiaddrs(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		host := multiaddrHost(addr)
		if host == "" {
			continue
		}
		ip := net.ParseIP(host)
		if ip != nil && isPrivateIP(ip) {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// multiaddrHost extracts the second path segment of a "/ip4/host/..." or
// "/ip6/host/..." multiaddr string.
func multiaddrHost(addr string) string {
	parts := splitMultiaddr(addr)
	for i, seg := range parts {
		if (seg == "ip4" || seg == "ip6") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func splitMultiaddr(addr string) []string {
	var parts []string
	cur := ""
	for _, r := range addr {
		if r == '/' {
			if cur != "" {
				parts = append(parts, cur)
			}
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		parts = append(parts, cur)
	}
	return parts
}

// handleIngestCar is the one PQ-exempt mutating route: token-gated in the
// query string rather than the envelope, since the body is raw CAR bytes,
// not JSON (spec.md §6).
func (h *Handler) handleIngestCar(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		h.writeError(c, apierr.New(apierr.UploadTokenRequired, "token query parameter required"))
		return
	}

	result, err := h.ingest.HandleCar(c.Request.Context(), token, c.Request.Body)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":    true,
		"roots": []string{},
		"meta": gin.H{
			"jobId":         result.JobID,
			"wallet":        result.Wallet,
			"planId":        result.PlanID,
			"uploadedBytes": result.UploadedBytes,
		},
	})
}
