package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"

	"github.com/geoquiz-ledger/internal/domain"
	"github.com/geoquiz-ledger/internal/kafka"
)

var playerNames = []string{
	"Atlas", "Meridian", "Compass", "Equator", "Tundra", "Savanna", "Fjord", "Delta", "Mesa", "Steppe",
	"Archipelago", "Isthmus", "Lagoon", "Plateau", "Estuary", "Glacier", "Canyon", "Oasis", "Atoll", "Strait",
}

func playerName(idx int) string {
	prefix := playerNames[idx%len(playerNames)]
	return fmt.Sprintf("%s%d", prefix, idx/len(playerNames)+1)
}

// completedGame invents a plausible finished quiz for player idx
func completedGame(idx int, now time.Time) domain.ScoreRecord {
	mode := domain.AllGameModes[rand.Intn(len(domain.AllGameModes))]
	score := rand.Intn(26)
	return domain.ScoreRecord{
		ID:          uuid.New().String(),
		GameMode:    mode,
		Score:       score,
		TimeElapsed: 30 + rand.Intn(270) + (25-score)*3,
		CreatedAt:   now.UTC(),
		SessionID:   fmt.Sprintf("load-%d", idx),
		PlayerName:  playerName(idx),
	}
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "geoquiz-completed-games", "Kafka topic")
	players := flag.Int("players", 200, "Number of distinct players")
	rate := flag.Int("rate", 50, "Completed games per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = until interrupted)")
	flag.Parse()

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))

	if *players <= 0 || *rate <= 0 {
		logger.Error("players and rate must be positive")
		os.Exit(1)
	}

	publisher, err := kafka.NewPublisher(strings.Split(*brokers, ","), *topic, logger)
	if err != nil {
		logger.Error("failed to create publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	logger.Info("publishing completed games",
		"brokers", *brokers,
		"topic", *topic,
		"players", *players,
		"rate", *rate,
	)

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	start := time.Now()
	var sent, failed int
	for {
		select {
		case <-ctx.Done():
			logger.Info("producer stopped",
				"sent", sent,
				"failed", failed,
				"elapsed", time.Since(start).Round(time.Second),
			)
			return
		case <-report.C:
			logger.Info("progress", "sent", sent, "failed", failed)
		case now := <-ticker.C:
			if err := publisher.Publish(completedGame(rand.Intn(*players), now)); err != nil {
				failed++
				logger.Warn("publish failed", "error", err)
				continue
			}
			sent++
		}
	}
}
