package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/listings/internal/config"
	"github.com/alfredjeanlab/listings/internal/events"
)

var watchTopics = []string{
	events.TopicRecordInserted,
	events.TopicRecordDeactivated,
	events.TopicRunCompleted,
}

type topicMessage struct {
	topic string
	data  []byte
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Print listing events from NATS as they are published",
	GroupID: "ops",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.NATSURL == "" {
			return fmt.Errorf("INGEST_NATS_URL is not set")
		}
		sub, err := events.NewNATSSubscriber(cfg.NATSURL, events.NATSOptions{SubjectPrefix: cfg.NATSPrefix})
		if err != nil {
			return err
		}
		defer sub.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		msgs := make(chan topicMessage)
		for _, topic := range watchTopics {
			ch, cancel, err := sub.Subscribe(topic)
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", topic, err)
			}
			defer cancel()
			go forward(ctx, topic, ch, msgs)
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case m := <-msgs:
				if err := printEvent(stdout, m); err != nil {
					return err
				}
			}
		}
	},
}

func forward(ctx context.Context, topic string, in <-chan []byte, out chan<- topicMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- topicMessage{topic: topic, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// printEvent writes one line per event; payloads that are not JSON are quoted.
func printEvent(w io.Writer, m topicMessage) error {
	payload := string(m.data)
	if !json.Valid(m.data) {
		b, _ := json.Marshal(payload)
		payload = string(b)
	}
	_, err := fmt.Fprintf(w, "%s %s\n", m.topic, payload)
	return err
}
