package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/IBM/sarama"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"github.com/scoreboard-engine/internal/domain"
)

var difficulties = []string{
	string(domain.DifficultyEasy),
	string(domain.DifficultyMedium),
	string(domain.DifficultyHard),
	string(domain.DifficultyExpert),
}

// fakeSubmissions generates n plausible submissions for gameID spread over
// players. A third of the traffic goes to the ten lowest player IDs so the
// top of the board moves.
func fakeSubmissions(faker *gofakeit.Faker, n int, gameID int64, players int) []domain.ScoreSubmission {
	out := make([]domain.ScoreSubmission, 0, n)
	for i := 0; i < n; i++ {
		player := faker.IntRange(1, players)
		if players > 10 && faker.IntRange(0, 2) == 0 {
			player = faker.IntRange(1, 10)
		}
		playtime := int64(faker.IntRange(30, 1800))
		out = append(out, domain.ScoreSubmission{
			PlayerID:   int64(player),
			GameID:     gameID,
			Score:      float64(faker.IntRange(100, 5000)),
			SessionID:  uuid.NewString(),
			Playtime:   playtime,
			Difficulty: domain.Difficulty(faker.RandomString(difficulties)),
			Metrics: domain.Metrics{
				"level":    float64(faker.IntRange(1, 50)),
				"accuracy": faker.Float64Range(0.3, 1),
				"device":   faker.RandomString([]string{"pc", "console", "mobile"}),
			},
		})
	}
	return out
}

func produceCommand() *cli.Command {
	return &cli.Command{
		Name:  "produce",
		Usage: "publish synthetic score submissions to Kafka",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "brokers", Usage: "comma-separated brokers (defaults to kafka.brokers)"},
			&cli.StringFlag{Name: "topic", Usage: "topic (defaults to kafka.submissions_topic)"},
			&cli.Int64Flag{Name: "game", Value: 1, Usage: "game ID"},
			&cli.IntFlag{Name: "players", Value: 1000, Usage: "number of distinct players"},
			&cli.IntFlag{Name: "count", Value: 10000, Usage: "number of submissions"},
			&cli.Float64Flag{Name: "rate", Value: 100, Usage: "submissions per second"},
			&cli.Uint64Flag{Name: "seed", Usage: "random seed (0 picks one)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			brokers := cfg.Kafka.Brokers
			if raw := c.String("brokers"); raw != "" {
				brokers = strings.Split(raw, ",")
			}
			topic := cfg.Kafka.SubmissionsTopic
			if t := c.String("topic"); t != "" {
				topic = t
			}
			if c.Int("players") <= 0 || c.Int("count") <= 0 || c.Float64("rate") <= 0 {
				return fmt.Errorf("players, count and rate must be positive")
			}

			saramaConfig := sarama.NewConfig()
			saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
			saramaConfig.Producer.Compression = sarama.CompressionSnappy
			saramaConfig.Producer.Return.Successes = true
			saramaConfig.Producer.Return.Errors = true

			producer, err := sarama.NewSyncProducer(brokers, saramaConfig)
			if err != nil {
				return fmt.Errorf("creating producer: %w", err)
			}
			defer producer.Close()

			faker := gofakeit.New(int64(c.Uint64("seed")))
			limiter := rate.NewLimiter(rate.Limit(c.Float64("rate")), 1)
			submissions := fakeSubmissions(faker, c.Int("count"), c.Int64("game"), c.Int("players"))

			sent, failed := 0, 0
			for _, sub := range submissions {
				if err := limiter.Wait(c.Context); err != nil {
					return err
				}
				data, err := json.Marshal(sub)
				if err != nil {
					return err
				}
				_, _, err = producer.SendMessage(&sarama.ProducerMessage{
					Topic: topic,
					Key:   sarama.StringEncoder(strconv.FormatInt(sub.PlayerID, 10)),
					Value: sarama.ByteEncoder(data),
				})
				if err != nil {
					failed++
					continue
				}
				sent++
				if sent%1000 == 0 {
					fmt.Fprintf(c.App.Writer, "sent %d/%d\n", sent, len(submissions))
				}
			}
			fmt.Fprintf(c.App.Writer, "completed: sent %d, errors %d\n", sent, failed)
			return nil
		},
	}
}
