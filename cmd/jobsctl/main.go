// Command jobsctl triggers and inspects background jobs by hand.
//
//	jobsctl trigger delivery:sync
//	jobsctl trigger maintenance:idempotency_cleanup -retention 48h
//	jobsctl stats
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("jobsctl", flag.ContinueOnError)
	redisAddr := fs.String("redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "redis address")
	retention := fs.Duration("retention", 0, "idempotency key retention for the cleanup job")
	size := fs.Int("n", 10, "scheduled tasks to list")
	if len(args) == 0 {
		return fmt.Errorf("usage: jobsctl trigger <task> | stats | scheduled")
	}
	cmd, rest := args[0], args[1:]
	var name string
	if cmd == "trigger" && len(rest) > 0 {
		name, rest = rest[0], rest[1:]
	}
	if err := fs.Parse(rest); err != nil {
		return err
	}

	opts := asynq.RedisClientOpt{Addr: *redisAddr}
	client := asynq.NewClient(opts)
	defer client.Close()
	inspector := asynq.NewInspector(opts)
	defer inspector.Close()
	cli := &JobsCLI{client: client, inspector: inspector}

	switch cmd {
	case "trigger":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		info, err := cli.Trigger(ctx, name, *retention)
		if err != nil {
			return err
		}
		fmt.Printf("queued %s as %s\n", info.Type, info.ID)
	case "stats":
		stats, err := cli.InspectQueue()
		if err != nil {
			return err
		}
		fmt.Printf("%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	case "scheduled":
		tasks, err := cli.ListScheduled(*size)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Printf("%s %s %s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
		}
	default:
		return fmt.Errorf("jobsctl: unknown command %q", cmd)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
