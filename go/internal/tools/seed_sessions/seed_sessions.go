package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mcdev12/gavel/go/internal/auction/seed"
	"github.com/mcdev12/gavel/go/internal/auction/store/pgstore"
	"github.com/mcdev12/gavel/go/internal/dbconfig"
)

func main() {
	path := "go/internal/assets/sessions.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the seed document
	file, err := seed.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load seed: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := cfg.NewPool(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	s := pgstore.New(pool, pgstore.Options{})
	if err := s.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ensure schema: %v\n", err)
		os.Exit(1)
	}

	// 3) Upsert and count
	counts, err := file.Apply(ctx, s, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "apply seed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf(
		"Sessions seed complete: %d sessions, %d participants\n",
		counts.Sessions, counts.Participants,
	)
}
