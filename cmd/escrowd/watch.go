package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"swap-escrow/internal/client"
	"swap-escrow/internal/domain"
	"swap-escrow/internal/notify"
)

var (
	watchEndpoint string
	watchParty    string
	watchRedisURL string
	watchStream   string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print swap events as they happen",
	Long:  "Tails the escrowd websocket stream, or a Redis stream when --redis-url is set.",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchEndpoint, "endpoint", "http://localhost:8080", "escrowd base URL")
	watchCmd.Flags().StringVar(&watchParty, "party", "", "Only show swaps involving this identity")
	watchCmd.Flags().StringVar(&watchRedisURL, "redis-url", "", "Read from a Redis stream instead of the websocket")
	watchCmd.Flags().StringVar(&watchStream, "stream", notify.DefaultStream, "Redis stream name")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var party domain.Identity
	if watchParty != "" {
		id, err := domain.ParseIdentity(watchParty)
		if err != nil {
			return err
		}
		party = id
	}

	p := newEventPrinter(cmd.OutOrStdout(), party)
	if watchRedisURL != "" {
		return watchRedis(ctx, p)
	}
	return watchWebsocket(ctx, p, party)
}

func watchWebsocket(ctx context.Context, p *eventPrinter, party domain.Identity) error {
	stream, err := client.Subscribe(ctx, watchEndpoint, party, nil)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-stream.Events():
			if !ok {
				return nil
			}
			p.print(e)
		}
	}
}

func watchRedis(ctx context.Context, p *eventPrinter) error {
	tail, err := notify.NewRedisStreamTail(ctx, watchRedisURL, watchStream)
	if err != nil {
		return err
	}
	defer tail.Close()

	for ctx.Err() == nil {
		events, err := tail.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, e := range events {
			p.print(e)
		}
	}
	return nil
}

// eventPrinter writes one line per event, skipping re-deliveries.
type eventPrinter struct {
	out   io.Writer
	party domain.Identity
	seen  map[string]struct{}
}

func newEventPrinter(out io.Writer, party domain.Identity) *eventPrinter {
	return &eventPrinter{out: out, party: party, seen: make(map[string]struct{})}
}

func (p *eventPrinter) print(e *domain.SwapEvent) bool {
	if p.party != "" && !e.Involves(p.party) {
		return false
	}
	key := e.DedupKey()
	if _, dup := p.seen[key]; dup {
		return false
	}
	p.seen[key] = struct{}{}

	kind := string(e.Kind)
	switch e.Kind {
	case domain.EventCreated:
		kind = color.CyanString(kind)
	case domain.EventCompleted:
		kind = color.GreenString(kind)
	case domain.EventCancelled:
		kind = color.YellowString(kind)
	}
	fmt.Fprintf(p.out, "%s %-9s %s %s -> %s\n",
		e.Timestamp.Local().Format(time.DateTime), kind, e.SwapID, e.Initiator, e.Counterparty)
	return true
}
