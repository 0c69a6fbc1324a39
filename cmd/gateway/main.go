// Command gateway runs the lumen storage gateway: the PQ-authenticated HTTP
// surface in front of CAS-daemon, chain-REST and the indexer (spec.md §1-2).
package main

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/rawblock/lumen-gateway/internal/casdaemon"
	"github.com/rawblock/lumen-gateway/internal/chainrest"
	"github.com/rawblock/lumen-gateway/internal/config"
	"github.com/rawblock/lumen-gateway/internal/cryptoctx"
	"github.com/rawblock/lumen-gateway/internal/facade"
	"github.com/rawblock/lumen-gateway/internal/indexer"
	"github.com/rawblock/lumen-gateway/internal/ingest"
	"github.com/rawblock/lumen-gateway/internal/metrics"
	"github.com/rawblock/lumen-gateway/internal/pincontrol"
	"github.com/rawblock/lumen-gateway/internal/planvalidator"
	"github.com/rawblock/lumen-gateway/internal/pqenvelope"
	"github.com/rawblock/lumen-gateway/internal/ranker"
	"github.com/rawblock/lumen-gateway/internal/walletstore"
	"github.com/rawblock/lumen-gateway/internal/webhook"
)

// usagePurgeInterval and usageRetention implement spec.md §3's 90-day
// cid_wallet_usage retention.
const (
	usagePurgeInterval = 24 * time.Hour
	usageRetention     = 90 * 24 * time.Hour
	metricsPollInterval = 15 * time.Second
)

func main() {
	log.Println("Starting Lumen storage gateway...")

	cfg := config.Load()

	crypto := cryptoctx.Load(cfg.KyberKeyPath)

	walletStore, err := walletstore.OpenWalletDB(cfg.WalletDBPath, cfg.SQLiteBusyTimeout)
	if err != nil {
		log.Fatalf("FATAL: could not open wallet db at %q: %v", cfg.WalletDBPath, err)
	}
	defer walletStore.Close()

	usageStore, err := walletstore.OpenUsageDB(cfg.UsageDBPath, cfg.SQLiteBusyTimeout)
	if err != nil {
		log.Fatalf("FATAL: could not open usage db at %q: %v", cfg.UsageDBPath, err)
	}
	defer usageStore.Close()

	queryTimeout := time.Duration(cfg.KuboRequestTimeoutMS) * time.Millisecond
	importTimeout := time.Duration(cfg.KuboImportTimeoutMS) * time.Millisecond

	cas := casdaemon.New(cfg.KuboAPIBase, queryTimeout, importTimeout)
	idx := indexer.New(cfg.IndexerBaseURL, queryTimeout)
	chain := chainrest.New(cfg.ChainRESTBase, queryTimeout)

	validator := planvalidator.New(chain, walletStore)

	hub := webhook.NewHub()
	go hub.Run()
	webhooks := webhook.NewRegistry(cfg.WebhookURL, hub)

	ingestQueue := ingest.NewQueue(cas, walletStore, webhooks)
	ingestPipeline := ingest.NewPipeline(validator, ingestQueue, cfg.IngestTmpDir, cfg.IngestMaxBytes)

	pins := pincontrol.New(cas, walletStore, validator, webhooks)
	search := ranker.NewEngine(idx, chain, cas, walletStore, usageStore)

	codec := pqenvelope.New(crypto, cfg.AddrHRP)
	reg := metrics.New()

	go pollMetrics(reg, codec, ingestPipeline, webhooks)
	go purgeUsageLoop(usageStore)

	h := facade.New(facade.Config{
		Region:          cfg.Region,
		PublicEndpoint:  cfg.PublicEndpoint,
		AllowedOrigins:  cfg.AllowedOrigins,
		AdminToken:      cfg.AdminToken,
		IPFSGatewayBase: cfg.IPFSGatewayBase,
		GatewayTimeout:  queryTimeout,
		StartedAt:       time.Now(),

		ViewMinBalanceULMN: cfg.ViewMinBalanceULMN,
	}, facade.Deps{
		Crypto:      crypto,
		Codec:       codec,
		WalletStore: walletStore,
		UsageStore:  usageStore,
		Validator:   validator,
		CAS:         cas,
		Chain:       chain,
		Ingest:      ingestPipeline,
		Pins:        pins,
		Search:      search,
		Hub:         hub,
		Webhooks:    webhooks,
		Metrics:     reg,
	})

	r := h.SetupRouter()

	log.Printf("Gateway listening on :%d (region=%s)", cfg.Port, cfg.Region)
	if err := r.Run(":" + strconv.Itoa(cfg.Port)); err != nil {
		log.Fatalf("FATAL: server exited: %v", err)
	}
}

// pollMetrics periodically snapshots each component's housekeeping counters
// into the prometheus registry, since none of them push metrics directly.
func pollMetrics(reg *metrics.Registry, codec *pqenvelope.Codec, pipeline *ingest.Pipeline, webhooks *webhook.Registry) {
	ticker := time.NewTicker(metricsPollInterval)
	defer ticker.Stop()
	for range ticker.C {
		reg.SetNoncesEvicted(codec.NoncesEvicted())
		reg.SetTokensExpired(pipeline.TokensExpired())

		jobs, bytesTotal, roots := pipeline.Stats().Snapshot()
		reg.SetIngestStats(jobs, bytesTotal, roots)

		counters := webhooks.Counters()
		reg.SetWebhookCounters(counters.Sent, counters.Failed)
	}
}

// purgeUsageLoop sweeps cid_wallet_usage rows older than usageRetention
// (spec.md §3).
func purgeUsageLoop(usageStore *walletstore.Store) {
	ticker := time.NewTicker(usagePurgeInterval)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-usageRetention).UnixMilli()
		affected, err := usageStore.PurgeOldUsage(context.Background(), cutoff)
		if err != nil {
			log.Printf("usage purge: %v", err)
			continue
		}
		if affected > 0 {
			log.Printf("usage purge: removed %d stale cid_wallet_usage rows", affected)
		}
	}
}
