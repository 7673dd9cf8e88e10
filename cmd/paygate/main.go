// Command paygate runs the payment gateway HTTP service.
//
// @title paygate API
// @version 1.0
// @BasePath /
// @securityDefinitions.apikey AdminToken
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	_ "github.com/AlexZinkM/paygate/docs"
	"github.com/AlexZinkM/paygate/internal/api"
	"github.com/AlexZinkM/paygate/internal/backup"
	"github.com/AlexZinkM/paygate/internal/client"
	"github.com/AlexZinkM/paygate/internal/config"
	"github.com/AlexZinkM/paygate/internal/crypto"
	"github.com/AlexZinkM/paygate/internal/dispatch"
	"github.com/AlexZinkM/paygate/internal/integrity"
	"github.com/AlexZinkM/paygate/internal/ledger"
	"github.com/AlexZinkM/paygate/internal/logging"
	"github.com/AlexZinkM/paygate/internal/metrics"
	"github.com/AlexZinkM/paygate/internal/model"
	"github.com/AlexZinkM/paygate/internal/provider"
	"github.com/AlexZinkM/paygate/internal/retry"
	"github.com/AlexZinkM/paygate/internal/wallet"
	"github.com/AlexZinkM/paygate/payments"
)

func main() {
	if err := config.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := config.PromptForPassword(); err != nil {
		fmt.Fprintln(os.Stderr, "password:", err)
		os.Exit(1)
	}
	defer config.WipePassword()

	cfg := config.Get()
	log := logging.Setup("paygate", cfg.Env, logging.Options{File: cfg.LogFile})

	if err := run(cfg, log); err != nil {
		log.Error("paygate stopped", "error", err.Error())
		config.WipePassword()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)

	pw, err := config.PasswordBytes()
	if err != nil {
		return err
	}
	vault, err := crypto.NewVault(pw)
	clear(pw)
	if err != nil {
		return fmt.Errorf("failed to open vault: %w", err)
	}
	defer vault.Wipe()

	registry, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		return err
	}
	ethEndpoints, chainID := registry.Network(config.NetworkEthereum, cfg.EthCustomRPCURLs, cfg.EthRPCURL, cfg.EthChainID)
	solEndpoints, genesis := registry.Network(config.NetworkSolana, nil, cfg.SolRPCURL, cfg.SolGenesisHash)

	ethPool := provider.New(config.NetworkEthereum, chainID, ethEndpoints, client.DialEVM,
		provider.NewLastKnownGood[client.EVM](cfg.ProviderFreshness),
		provider.WithTimeout[client.EVM](registry.Timeout(config.NetworkEthereum, cfg.ProviderTimeout)),
		provider.WithLogger[client.EVM](log),
		provider.WithMetrics[client.EVM](mt),
	)
	defer ethPool.Close()
	solPool := provider.New(config.NetworkSolana, genesis, solEndpoints, client.DialSolana,
		provider.NewLastKnownGood[client.Chain](cfg.ProviderFreshness),
		provider.WithTimeout[client.Chain](registry.Timeout(config.NetworkSolana, cfg.ProviderTimeout)),
		provider.WithLogger[client.Chain](log),
		provider.WithMetrics[client.Chain](mt),
	)
	defer solPool.Close()
	log.Info("providers configured", "ethereum", len(ethEndpoints), "solana", len(solEndpoints))

	specs := []integrity.CriticalFileSpec{
		integrity.LedgerSpec(cfg.LedgerPath()),
		integrity.AddressBookSpec(cfg.AddressBookPath()),
		integrity.IndexMapSpec(cfg.IndexMapPath()),
	}
	validator, err := integrity.NewValidator(specs)
	if err != nil {
		return err
	}
	backups, err := backup.New(cfg.BackupDir,
		backup.WithVerifier(validator.Validate),
		backup.WithLogger(log),
		backup.WithMetrics(mt),
	)
	if err != nil {
		return err
	}

	txLedger := ledger.New(cfg.LedgerPath(), backups, ledger.WithLogger(log))
	book := wallet.NewAddressBook(cfg.AddressBookPath())
	index := wallet.NewIndexMap(cfg.IndexMapPath(), func(path string, cause error) error {
		log.Warn("index map damaged, rebuilding by re-derivation", "path", path, "error", cause.Error())
		_, err := backups.Capture(path, model.BackupCorrupted)
		return err
	})
	monitor := integrity.New(specs, validator, backups,
		integrity.WithStatusTTL(cfg.StatusCacheTTL),
		integrity.WithLogger(log),
		integrity.WithMetrics(mt),
	)

	if created, err := backups.EnsureInitial(); err != nil {
		log.Warn("initial backup incomplete", "error", err.Error())
	} else if len(created) > 0 {
		log.Info("initial backups created", "count", len(created))
	}
	if report := monitor.Check(true); !report.Healthy {
		log.Warn("critical files unhealthy at startup", logging.Flagged())
	}
	if sealed, err := book.SealedMnemonic(); err != nil || sealed == "" {
		log.Warn("address book holds no sealed mnemonic; run cmd/seal_mnemonic before allocating")
	}

	balances := payments.NewBalances(ethPool, solPool, cfg.BalanceCacheTTL)
	allocator := wallet.NewAllocator(book, index, vault, balances, wallet.Config{
		ScanHorizon:    cfg.ScanHorizon,
		RecoverHorizon: cfg.RecoverHorizon,
		PaymentTTL:     cfg.PaymentTTL,
	}, log)

	policy := retry.Default()
	policy.Attempts = cfg.SendAttempts
	dispatcher := dispatch.New(ethPool, txLedger,
		dispatch.WithRetryPolicy(policy),
		dispatch.WithGasFloor(new(big.Int).Mul(big.NewInt(cfg.GasPriceFloor), big.NewInt(1_000_000_000))),
		dispatch.WithConfirmPolicy(cfg.ConfirmAttempts, 2*time.Second, 30*time.Second),
		dispatch.WithLogger(log),
		dispatch.WithMetrics(mt),
	)

	svc := payments.New(payments.Deps{
		Book:       book,
		Allocator:  allocator,
		Ledger:     txLedger,
		Dispatcher: dispatcher,
		Balances:   balances,
		Rates:      client.NewCoinGeckoClient(cfg.CoinGeckoURL),
		Integrity:  monitor,
		Backups:    backups,
		Log:        log,
		Metrics:    mt,
	}, payments.Config{
		MerchantAddress: cfg.MerchantAddress,
		VerifyOnChain:   cfg.VerifyOnChain,
		BackupMaxAge:    cfg.BackupMaxAge,
		BalanceTimeout:  cfg.ExposureTimeout,
	})

	scheduler := backup.NewScheduler(cfg.BackupInterval, log,
		backup.Job{Name: "expire-stale", Run: func(context.Context) error {
			n, err := svc.ExpireStale(time.Now())
			if n > 0 {
				log.Info("payment addresses expired", "count", n)
			}
			return err
		}},
		backup.Job{Name: "backup", Run: func(context.Context) error {
			_, err := monitor.BackupHealthy(model.BackupScheduled)
			return err
		}},
		backup.Job{Name: "cleanup", Run: func(context.Context) error {
			_, err := backups.Cleanup(cfg.BackupMaxAge)
			return err
		}},
	)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.SetupRouter(svc, api.Options{
			AdminToken:      cfg.AdminToken,
			RateLimitPerMin: cfg.RateLimitPerMin,
			Gatherer:        reg,
			Metrics:         mt,
			Log:             log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN is empty; admin routes are unauthenticated")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := monitor.Watch(gctx); err != nil {
			// The status cache still expires on its own.
			log.Warn("file watcher stopped", "error", err.Error())
		}
		return nil
	})
	g.Go(func() error {
		log.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
