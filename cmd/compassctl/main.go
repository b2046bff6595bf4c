// cmd/compassctl/main.go
// Operator tooling: publish or replay swipe events and trigger jobs by hand

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/imadgeboyega/kiekky-compass/internal/common/database"
	"github.com/imadgeboyega/kiekky-compass/internal/compass"
	"github.com/imadgeboyega/kiekky-compass/internal/config"
	"github.com/imadgeboyega/kiekky-compass/internal/logging"
)

var (
	cfg *config.Config

	forceRefill bool

	rootCmd = &cobra.Command{
		Use:   "compassctl",
		Short: "Operate the compass matching service",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			cfg = config.Load()
			logging.Init(logging.Config{Level: cfg.LogLevel, Format: "console"})
		},
	}

	publishCmd = &cobra.Command{
		Use:   "publish-swipe <swiper_id> <target_id> <connect|skip>",
		Short: "Append one swipe event to the swipe stream",
		Args:  cobra.ExactArgs(3),
		RunE:  runPublish,
	}

	replayCmd = &cobra.Command{
		Use:   "replay [file]",
		Short: "Publish swipe events from a JSON-lines file (stdin when omitted)",
		Long: `Publish swipe events from a JSON-lines file (stdin when omitted).

Events go onto the swipe stream; the running consumer applies them, so an
event_id that was already applied is ignored.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  runReplay,
	}

	refillCmd = &cobra.Command{
		Use:   "refill",
		Short: "Run the daily token refill now",
		Long: `Run the daily token refill now.

The run takes the same per-day lock as the scheduler, so it is a no-op once
the day's refill has happened. --force skips the shared lock and grants
another refill to every eligible profile.`,
		RunE: runRefill,
	}
)

func init() {
	refillCmd.Flags().BoolVar(&forceRefill, "force", false, "ignore the per-day refill lock")
	rootCmd.AddCommand(publishCmd, replayCmd, refillCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func redisClient(ctx context.Context) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	return database.NewRedisClientFromURL(ctx, cfg.RedisURL)
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := redisClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	event := &compass.SwipeEvent{
		SwiperID: args[0],
		TargetID: args[1],
		Action:   compass.SwipeAction(args[2]),
	}
	if !event.Action.Valid() || event.SwiperID == event.TargetID {
		return fmt.Errorf("invalid swipe %s -> %s (%s)", event.SwiperID, event.TargetID, event.Action)
	}

	id, err := compass.NewSwipeEventPublisher(client, cfg.SwipeStream).Publish(ctx, event)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	client, err := redisClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	publisher := compass.NewSwipeEventPublisher(client, cfg.SwipeStream)

	published, skipped := 0, 0
	scanner := bufio.NewScanner(in)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var event compass.SwipeEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil || !event.Action.Valid() {
			logging.Warn().Int("line", line).Msg("skipping malformed swipe event")
			skipped++
			continue
		}
		if _, err := publisher.Publish(ctx, &event); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		published++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	logging.Info().Int("published", published).Int("skipped", skipped).Msg("replay finished")
	return nil
}

func runRefill(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	db, err := database.NewPostgresDB(ctx, &database.PostgresConfig{URL: cfg.DatabaseURL})
	if err != nil {
		return err
	}
	defer db.Close()

	repo := compass.NewPostgresRepository(db)
	slots, err := repo.LoadInterestSlots(ctx)
	if err != nil {
		return err
	}
	registry, err := compass.NewInterestRegistry(slots)
	if err != nil {
		return err
	}

	opts := compass.Options{JobLock: compass.NewLocalJobLock()}
	if forceRefill {
		logging.Warn().Msg("refill lock bypassed")
	} else if cfg.RedisURL != "" {
		client, err := redisClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()
		opts.JobLock = compass.NewRedisJobLock(client)
	}

	return compass.NewService(repo, registry, opts).RefillTokens(ctx)
}
