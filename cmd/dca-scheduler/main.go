// Command dca-scheduler is the root runtime wiring (spec §6): it loads
// configuration, dials the chain, builds every internal component, and
// runs the Scheduler until an OS signal arrives — following the teacher's
// cmd/main.go wiring order (load config -> dial RPC -> build listener ->
// build top-level object -> run).
package main

import (
	"context"
	"crypto/ecdsa"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/DCA-MiniApp/dca-core-engine/configs"
	"github.com/DCA-MiniApp/dca-core-engine/internal/chainclient"
	"github.com/DCA-MiniApp/dca-core-engine/internal/custody"
	"github.com/DCA-MiniApp/dca-core-engine/internal/executor"
	"github.com/DCA-MiniApp/dca-core-engine/internal/pipeline"
	"github.com/DCA-MiniApp/dca-core-engine/internal/quoteclient"
	"github.com/DCA-MiniApp/dca-core-engine/internal/scheduler"
	"github.com/DCA-MiniApp/dca-core-engine/internal/store"
	"github.com/DCA-MiniApp/dca-core-engine/internal/tokenregistry"
	"github.com/DCA-MiniApp/dca-core-engine/internal/txlistener"
	"github.com/DCA-MiniApp/dca-core-engine/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := configs.Load(os.Getenv("DCA_DEPLOYMENT_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if cfg.EnableScheduler && !cfg.HasSigningKey() {
		log.Fatal("ENABLE_SCHEDULER is set but PRIVATE_KEY is not configured")
	}

	planStore, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open plan store: %v", err)
	}
	defer planStore.Close()

	chain, err := chainclient.New(cfg.ArbitrumRPCURL)
	if err != nil {
		log.Fatalf("failed to dial Arbitrum RPC: %v", err)
	}

	quote := quoteclient.New(cfg.EmberMCPServerURL, cfg.MCPConnectionTimeout)
	registry := buildTokenRegistry(quote, cfg)

	router := common.HexToAddress(cfg.Deployment.RouterAddress)

	sched := buildScheduler(planStore, chain, quote, registry, router, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.EnableScheduler {
		if cfg.EnableMetrics {
			reg := prometheus.NewRegistry()
			if err := sched.EnableMetrics(reg); err != nil {
				log.Fatalf("failed to register metrics: %v", err)
			}
		}
		if err := sched.Start(ctx); err != nil {
			log.Fatalf("failed to start scheduler: %v", err)
		}
		log.Printf("scheduler started: interval=%ds maxConcurrent=%d", cfg.SchedulerIntervalSeconds, cfg.MaxConcurrentExecutions)
	} else {
		log.Printf("ENABLE_SCHEDULER not set; scheduler idle")
	}

	<-ctx.Done()
	log.Printf("shutdown signal received, draining in-flight ticks")
	sched.Stop()
}

// buildTokenRegistry seeds the registry from the deployment's fallback
// table, then attempts a live refresh from the Quote Client's getTokens,
// falling back to the documented static table on failure (spec §4.7).
func buildTokenRegistry(quote *quoteclient.Client, cfg *configs.Config) *tokenregistry.Registry {
	registry := tokenregistry.New()

	seed := tokenregistry.StaticFallback()
	for _, t := range cfg.Deployment.FallbackTokens {
		seed = append(seed, tokenregistry.Descriptor{
			Symbol: t.Symbol, ChainID: t.ChainID, Address: t.Address,
			Decimals: t.Decimals, Name: t.Name,
		})
	}
	if err := registry.Reset(seed); err != nil {
		log.Fatalf("failed to seed token registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.MCPToolTimeout)
	defer cancel()

	remote, err := quote.GetTokens(ctx, []int64{tokenregistry.ArbitrumChainID})
	if err != nil {
		log.Printf("warning: getTokens failed at startup, using static fallback table: %v", err)
		return registry
	}

	descriptors := make([]tokenregistry.Descriptor, 0, len(remote))
	for _, t := range remote {
		descriptors = append(descriptors, tokenregistry.Descriptor{
			Symbol: t.Symbol, ChainID: t.ChainID, Address: t.Address,
			Decimals: t.Decimals, Name: t.Name,
		})
	}
	if err := registry.Reset(descriptors); err != nil {
		log.Printf("warning: getTokens returned invalid data, keeping static fallback table: %v", err)
		return registry
	}
	return registry
}

func buildScheduler(planStore *store.Store, chain *chainclient.Client, quote *quoteclient.Client, registry *tokenregistry.Registry, router common.Address, cfg *configs.Config) *scheduler.Scheduler {
	var privateKey *ecdsa.PrivateKey
	if cfg.HasSigningKey() {
		key, err := crypto.HexToECDSA(cfg.PrivateKey)
		if err != nil {
			log.Fatalf("failed to parse PRIVATE_KEY: %v", err)
		}
		privateKey = key
	} else {
		// No hot key configured: the scheduler stays disabled (spec §6), but
		// every downstream component still needs a concrete key to build
		// against, so generate an ephemeral one that will never sign.
		key, err := crypto.GenerateKey()
		if err != nil {
			log.Fatalf("failed to generate placeholder key: %v", err)
		}
		privateKey = key
	}

	listener := txlistener.NewTxListener(
		chain.Eth,
		txlistener.WithPollInterval(3*time.Second),
		txlistener.WithTimeout(5*time.Minute),
	)
	exec := executor.New(chain, listener, privateKey)
	custodyMgr := custody.New(chain, exec)

	var vaults []pipeline.VaultBinding
	if cfg.Deployment.Vault.Kind != "" {
		vaultAddress := common.HexToAddress(cfg.Deployment.Vault.Address)
		var adapter vault.Adapter
		switch cfg.Deployment.Vault.Kind {
		case "erc4626":
			adapter = vault.NewERC4626Adapter(chain, exec, vaultAddress)
		case "simple":
			adapter = vault.NewSimpleAdapter(chain, exec, vaultAddress)
		default:
			log.Fatalf("unknown vault kind %q", cfg.Deployment.Vault.Kind)
		}
		vaults = append(vaults, pipeline.VaultBinding{
			ToTokenSymbol: cfg.Deployment.Vault.ToTokenSymbol,
			Adapter:       adapter,
		})
	}

	swapPipeline := pipeline.New(registry, custodyMgr, quote, chain, exec, planStore, router, vaults)

	return scheduler.New(planStore, swapPipeline, scheduler.Config{
		IntervalSeconds:         cfg.SchedulerIntervalSeconds,
		MaxConcurrentExecutions: cfg.MaxConcurrentExecutions,
		HasSigningKey:           cfg.HasSigningKey(),
		LeaseHolder:             leaseHolderID(),
	})
}

// leaseHolderID identifies this process in the Plan Store's lease column,
// letting multiple scheduler instances run against the same database
// safely (spec §9 open question on multi-scheduler safety).
func leaseHolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "dca-scheduler"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}
