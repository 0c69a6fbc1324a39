// Package facade wires every component behind the gateway's gin HTTP
// surface (spec.md §6), grounded on internal/api/routes.go's
// APIHandler+SetupRouter shape: a public route group, a second group behind
// middleware, one struct holding every collaborator the handlers close
// over.
package facade

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/lumen-gateway/internal/casdaemon"
	"github.com/rawblock/lumen-gateway/internal/chainrest"
	"github.com/rawblock/lumen-gateway/internal/cryptoctx"
	"github.com/rawblock/lumen-gateway/internal/ingest"
	"github.com/rawblock/lumen-gateway/internal/metrics"
	"github.com/rawblock/lumen-gateway/internal/pincontrol"
	"github.com/rawblock/lumen-gateway/internal/planvalidator"
	"github.com/rawblock/lumen-gateway/internal/pqenvelope"
	"github.com/rawblock/lumen-gateway/internal/ranker"
	"github.com/rawblock/lumen-gateway/internal/walletstore"
	"github.com/rawblock/lumen-gateway/internal/webhook"
)

// Config is the subset of config.Config the facade needs directly (the
// rest is already baked into the collaborators it's handed).
type Config struct {
	Region          string
	PublicEndpoint  string
	AllowedOrigins  string
	AdminToken      string
	IPFSGatewayBase string
	GatewayTimeout  time.Duration
	StartedAt       time.Time

	// ViewMinBalanceULMN is the ulmn floor checkViewBalance enforces on
	// /pq/ipfs and /pq/ipns; 0 disables the gate.
	ViewMinBalanceULMN int64
}

// Handler holds every collaborator a route handler might call, built once
// in cmd/gateway/main.go and closed over by gin handler funcs.
type Handler struct {
	cfg Config

	crypto      *cryptoctx.Context
	codec       *pqenvelope.Codec
	walletStore *walletstore.Store
	usageStore  *walletstore.Store
	validator   *planvalidator.Validator
	cas         *casdaemon.Client
	chain       *chainrest.Client
	ingest      *ingest.Pipeline
	pins        *pincontrol.Controller
	search      *ranker.Engine
	hub         *webhook.Hub
	webhooks    *webhook.Registry
	metrics     *metrics.Registry

	pqLimiter  *RateLimiter
	carLimiter *RateLimiter
}

// Deps bundles every constructed collaborator for New, kept as one struct
// so cmd/gateway/main.go's wiring call stays readable.
type Deps struct {
	Crypto      *cryptoctx.Context
	Codec       *pqenvelope.Codec
	WalletStore *walletstore.Store
	UsageStore  *walletstore.Store
	Validator   *planvalidator.Validator
	CAS         *casdaemon.Client
	Chain       *chainrest.Client
	Ingest      *ingest.Pipeline
	Pins        *pincontrol.Controller
	Search      *ranker.Engine
	Hub         *webhook.Hub
	Webhooks    *webhook.Registry
	Metrics     *metrics.Registry
}

func New(cfg Config, d Deps) *Handler {
	return &Handler{
		cfg:         cfg,
		crypto:      d.Crypto,
		codec:       d.Codec,
		walletStore: d.WalletStore,
		usageStore:  d.UsageStore,
		validator:   d.Validator,
		cas:         d.CAS,
		chain:       d.Chain,
		ingest:      d.Ingest,
		pins:        d.Pins,
		search:      d.Search,
		hub:         d.Hub,
		webhooks:    d.Webhooks,
		metrics:     d.Metrics,
		pqLimiter:   NewRateLimiter(120, 20),
		carLimiter:  NewRateLimiter(20, 5),
	}
}

// SetupRouter builds the gin engine, grounded on routes.go's public-group /
// middleware-group split.
func (h *Handler) SetupRouter() *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware(h.cfg.AllowedOrigins))

	pub := r.Group("/")
	{
		pub.GET("/health", h.handleHealth)
		pub.GET("/status", h.handleStatus)
		pub.GET("/pq/pub", h.handlePQPub)
		pub.GET("/pricing", h.handlePricing)
		pub.GET("/ipfs/seed", h.handleIPFSSeed)
		pub.POST("/ingest/car", h.carRateLimit(), h.handleIngestCar)
	}

	r.GET("/metrics", h.privateIPOnly(), gin.WrapH(h.metrics.Handler()))

	admin := r.Group("/admin")
	admin.Use(h.adminAuth())
	{
		admin.GET("/stream", func(c *gin.Context) { h.hub.Subscribe(c) })
	}

	pq := r.Group("/")
	{
		pq.POST("/pq/search", h.pq(h.handleSearch))
		pq.POST("/pq/ipfs", h.pq(h.handleIPFSFetch))
		pq.POST("/pq/ipns", h.pq(h.handleIPNSFetch))
		pq.POST("/wallet/usage", h.pq(h.handleWalletUsage))
		pq.POST("/wallet/cids", h.pq(h.handleWalletCIDs))
		pq.POST("/wallet/cid/rename", h.pq(h.handleWalletCIDRename))
		pq.POST("/pin", h.pq(h.handlePin))
		pq.POST("/unpin", h.pq(h.handleUnpin))
		pq.POST("/ispinned", h.pq(h.handleIsPinned))
		pq.POST("/ingest/ready", h.pq(h.handleIngestReady))
		pq.POST("/ingest/init", h.pq(h.handleIngestInit))
	}

	return r
}

func (h *Handler) carRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ok, retryAfter := h.carLimiter.Allow(c.ClientIP()); !ok {
			c.Header("Retry-After", retryAfter.String())
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// adminAuth gates /admin/stream on a separate ADMIN_TOKEN bearer, distinct
// from the PQ wallet-auth path (SPEC_FULL.md supplemented feature 1).
func (h *Handler) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.cfg.AdminToken == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin_stream_disabled"})
			c.Abort()
			return
		}
		auth := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(auth, prefix)), []byte(h.cfg.AdminToken)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "auth_failed"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// privateIPOnly gates /metrics to RFC1918/loopback remote addrs (spec.md §6
// "private IP only").
func (h *Handler) privateIPOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		if ip == nil || !isPrivateIP(ip) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7"} {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil && block.Contains(ip) {
			return true
		}
	}
	return false
}
