// Command seed_demo fills a local database with a demo clinic queue so the
// API and the kiosk views have something to show during development.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/queuepro/queuepro/internal/broadcast"
	"github.com/queuepro/queuepro/internal/dbconfig"
	"github.com/queuepro/queuepro/internal/queue"
)

func main() {
	title := flag.String("title", "Morning walk-ins", "queue title")
	owner := flag.String("owner", "demo-clinic", "queue owner id")
	walkIns := flag.Int("walk-ins", 5, "number of waiting participants to seed")
	flag.Parse()

	ctx := context.Background()

	pool, err := dbconfig.NewConfigFromEnv().OpenPool(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := queue.NewService(queue.NewRepository(pool), broadcast.NoopPublisher{}, clockwork.NewRealClock())

	q, err := svc.CreateQueue(ctx, *owner, *title)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create queue: %v\n", err)
		os.Exit(1)
	}

	for i := 1; i <= *walkIns; i++ {
		name := fmt.Sprintf("Walk-in %d", i)
		p, err := svc.Join(ctx, q.ID, name, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "join %s: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("seeded %s with token %d\n", name, p.Token)
	}

	fmt.Printf("seeded queue %s (%q) with %d waiting participants\n", q.ID, q.Title, *walkIns)
}
