package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"certvault/internal/backend"
	"certvault/internal/config"
	"certvault/internal/crypto"
	"certvault/internal/docstore"
	"certvault/internal/logging"
	"certvault/internal/quota"
	"certvault/internal/store"
)

func printStats(st *store.SQLiteStore, ledger *quota.Ledger) {
	ctx := context.Background()
	stats, err := st.GetStats(ctx)
	if err != nil {
		logging.Internal.Fatalf("failed to get stats: %v", err)
	}
	ratio, err := ledger.UsageRatio(ctx)
	if err != nil {
		logging.Internal.Fatalf("failed to get usage: %v", err)
	}

	fmt.Println("CertVault document storage")
	fmt.Println("--------------------------")
	fmt.Printf("Documents:       %d (%d active, %d expired)\n", stats.TotalDocuments, stats.ActiveDocuments, stats.ExpiredDocuments)
	fmt.Printf("Stored bytes:    %s total, %s active\n", humanize.Bytes(uint64(stats.TotalBytes)), humanize.Bytes(uint64(stats.ActiveBytes)))
	fmt.Printf("Quota:           %s of %s (%.1f%%)\n", humanize.Bytes(uint64(stats.ActiveBytes)), humanize.Bytes(uint64(ledger.Capacity())), ratio*100)
	fmt.Printf("Downloads:       %d\n", stats.TotalDownloads)
	if !stats.OldestUpload.IsZero() {
		fmt.Printf("Oldest upload:   %s\n", stats.OldestUpload.Format("2006-01-02 15:04"))
		fmt.Printf("Newest upload:   %s\n", stats.NewestUpload.Format("2006-01-02 15:04"))
	}
	if ratio >= quota.CriticalRatio {
		fmt.Println("WARNING: usage is at a critical level")
	} else if ratio >= quota.WarningRatio {
		fmt.Println("WARNING: usage is above the warning threshold")
	}
}

func printList(svc *docstore.Service) {
	docs, err := svc.List(context.Background())
	if err != nil {
		logging.Internal.Fatalf("failed to list documents: %v", err)
	}
	if len(docs) == 0 {
		fmt.Println("no documents stored")
		return
	}
	for _, doc := range docs {
		fmt.Printf("%s  %-24s %-16s %10s  owner=%s backend=%s expires=%s downloads=%d\n",
			doc.FileID, doc.OriginalName, doc.MimeType, humanize.Bytes(uint64(doc.SizeBytes)),
			doc.OwnerReference, doc.Backend, doc.ExpiresAt.Format("2006-01-02"), doc.DownloadCount)
	}
}

func runSweepLoop(svc *docstore.Service, interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Internal.Println("shutting down...")
		cancel()
	}()

	logging.Internal.Printf("sweeping expired documents every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := svc.Sweep(ctx)
			if err != nil {
				logging.Internal.Printf("sweep error: %v", err)
			} else if count > 0 {
				logging.Internal.Printf("purged %d expired documents", count)
			}
		}
	}
}

func main() {
	showStats := flag.Bool("stats", false, "Show storage statistics and exit")
	listDocs := flag.Bool("list", false, "List stored document metadata and exit")
	sweep := flag.Bool("sweep", false, "Purge expired documents and exit")
	sweepInterval := flag.Duration("sweep-interval", 0, "Run a periodic sweep at this interval (e.g. 1h)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Internal.Fatalf("configuration error: %v", err)
	}

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logging.Internal.Fatalf("failed to open database: %v", err)
	}
	defer st.Close()

	relational, err := backend.NewSQLBackend(st.DB())
	if err != nil {
		logging.Internal.Fatalf("failed to initialize relational backend: %v", err)
	}

	// Probe the object store once at startup; documents remember which
	// backend holds them, so reads never probe.
	var object backend.Backend
	if cfg.ObjectStoreConfigured() {
		ob, err := backend.NewObjectBackend(backend.ObjectConfig{
			Endpoint: cfg.ObjectEndpoint,
			KeyID:    cfg.ObjectKeyID,
			Secret:   cfg.ObjectSecret,
			Bucket:   cfg.ObjectBucket,
			Prefix:   cfg.ObjectPrefix,
			UseSSL:   cfg.ObjectUseSSL,
		})
		if err != nil {
			logging.Internal.Printf("object store unavailable, relational backend only: %v", err)
		} else {
			object = ob
			logging.Internal.Printf("using object store backend (bucket: %s)", cfg.ObjectBucket)
		}
	} else {
		logging.Internal.Println("object store not configured, relational backend only")
	}

	engine, err := crypto.NewEngine(cfg.Key())
	if err != nil {
		logging.Internal.Fatalf("failed to initialize encryption: %v", err)
	}

	ledger := quota.NewLedger(st, cfg.QuotaCapacityBytes)
	svc := docstore.NewService(engine, object, relational, st, ledger, docstore.Options{
		MaxFileSizeBytes: cfg.MaxFileSizeBytes,
		AllowedMimeTypes: cfg.AllowedMimeTypes,
		RetentionPeriod:  cfg.RetentionPeriod(),
	})

	switch {
	case *showStats:
		printStats(st, ledger)
	case *listDocs:
		printList(svc)
	case *sweep:
		count, err := svc.Sweep(context.Background())
		if err != nil {
			logging.Internal.Fatalf("sweep failed: %v", err)
		}
		fmt.Printf("purged %d expired documents\n", count)
	case *sweepInterval > 0:
		runSweepLoop(svc, *sweepInterval)
	default:
		flag.Usage()
		os.Exit(2)
	}
}
