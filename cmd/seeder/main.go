package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/bitbeam/internal/config"
	"github.com/punchamoorthee/bitbeam/internal/domain"
	"github.com/punchamoorthee/bitbeam/internal/logging"
	"github.com/punchamoorthee/bitbeam/internal/service"
	"github.com/punchamoorthee/bitbeam/internal/store"
)

func main() {
	total := flag.Int("count", 1000, "number of beams to seed")
	statusFlag := flag.String("status", string(domain.StatusSubmitted), "status to leave the beams in")
	flag.Parse()

	status, err := domain.ParseStatus(*statusFlag)
	if err != nil {
		log.Fatal(err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(log.Writer(), logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel})

	ctx := context.Background()
	backend, err := store.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer backend.Close()

	if err := store.Migrate(backend, logger); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("--- Seeding Database ---")

	// Submitted beams on postgres go through COPY, the fastest path.
	if pg, ok := backend.(*store.PostgresBackend); ok && status == domain.StatusSubmitted {
		log.Printf("Generating %d beams...", *total)
		n, err := pg.CopyIn(ctx, generate(*total))
		if err != nil {
			log.Fatalf("Bulk insert failed: %v", err)
		}
		log.Printf("Successfully seeded %d beams.", n)
		return
	}

	ledger := service.NewLedger(backend, service.WithLogger(logger))
	recs, err := service.Seed(ctx, ledger, *total, status)
	if err != nil {
		log.Fatalf("Seeding stopped after %d beams: %v", len(recs), err)
	}
	log.Printf("Successfully seeded %d %s beams.", len(recs), status)
}

// generate builds submitted records with distinct, ascending creation times.
func generate(n int) []*domain.BeamRecord {
	base := time.Now().UTC().Truncate(time.Microsecond)
	recs := make([]*domain.BeamRecord, 0, n)
	for i := range n {
		id := "seed-" + uuid.NewString()
		sum := sha256.Sum256([]byte(id))
		ts := base.Add(time.Duration(i) * time.Microsecond)
		recs = append(recs, &domain.BeamRecord{
			ID:          id,
			Status:      domain.StatusSubmitted,
			Checksum:    hex.EncodeToString(sum[:]),
			SizeBytes:   rand.Int64N(1 << 20),
			ContentType: domain.DefaultContentType,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		})
	}
	return recs
}
