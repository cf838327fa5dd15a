package kafka

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoquiz-ledger/internal/domain"
)

func completedGame() domain.ScoreRecord {
	return domain.ScoreRecord{
		ID:          "0b6f6c1e-1d1c-4f7e-9a51-8f1f3b2f0a11",
		GameMode:    domain.GameModeCapitalQuiz,
		Score:       22,
		TimeElapsed: 187,
		CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		SessionID:   "session-1",
		PlayerName:  "Alice",
	}
}

func TestDecodeScore(t *testing.T) {
	data, err := json.Marshal(completedGame())
	require.NoError(t, err)

	rec, err := DecodeScore(data)
	require.NoError(t, err)
	assert.Equal(t, completedGame(), rec)
}

func TestDecodeScore_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"not json", `{"id":`, domain.ErrInvalidRequest},
		{"missing id", `{"game_mode":"find-flag","score":1,"time_elapsed":5,"player_name":"a"}`, domain.ErrInvalidRequest},
		{"unknown mode", `{"id":"x","game_mode":"trivia","score":1,"time_elapsed":5,"player_name":"a"}`, domain.ErrInvalidGameMode},
		{"negative time", `{"id":"x","game_mode":"find-flag","score":1,"time_elapsed":-5,"player_name":"a"}`, domain.ErrInvalidScore},
		{"anonymous", `{"id":"x","game_mode":"find-flag","score":1,"time_elapsed":5}`, domain.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeScore([]byte(tt.payload))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewProducerConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		rec, err := DecodeScore(val)
		if err != nil {
			return err
		}
		if rec.Owner() != "Alice" {
			return errors.New("unexpected owner " + rec.Owner())
		}
		return nil
	})

	p := NewPublisherWithProducer(producer, "geoquiz-completed-games", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, p.Publish(completedGame()))
	require.NoError(t, p.Close())
}

func TestPublisher_PublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewProducerConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewPublisherWithProducer(producer, "geoquiz-completed-games", slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := p.Publish(completedGame())
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestPublisher_RejectsInvalidRecord(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewProducerConfig())
	p := NewPublisherWithProducer(producer, "geoquiz-completed-games", slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := completedGame()
	rec.GameMode = "speed-round"
	assert.ErrorIs(t, p.Publish(rec), domain.ErrInvalidGameMode)
	require.NoError(t, p.Close())
}
