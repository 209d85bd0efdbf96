package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/signalhawk/cli/internal/generator"
	"github.com/telhawk-systems/signalhawk/cli/pkg/output"
	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/messaging"

	natsclient "github.com/telhawk-systems/signalhawk/common/messaging/nats"
)

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Emit synthetic signals into the pipeline",
	Long: `Generate random signal events and publish them to the raw signal subject.
Dark signals are encoded with the given key so the decipherment stage can
read them back when the same key is served by the key endpoint.`,
	Example: `  sigctl emit --count 100
  sigctl emit --count 10 --dark-ratio 0.3 --kid k1 --key qwertyuiopasdfghjklzxcvbnm
  sigctl emit --count 5 --dry-run`,
	RunE: runEmit,
}

func init() {
	rootCmd.AddCommand(emitCmd)

	emitCmd.Flags().Int("count", 10, "Number of signals to emit")
	emitCmd.Flags().Duration("interval", 0, "Delay between signals")
	emitCmd.Flags().Float64("dark-ratio", 0, "Share of dark signals (0-1)")
	emitCmd.Flags().String("kid", "", "Key id for dark signals")
	emitCmd.Flags().String("key", "", "Substitution alphabet for dark signals")
	emitCmd.Flags().Int64("seed", 0, "Random seed (0 = random)")
	emitCmd.Flags().Bool("dry-run", false, "Print events as JSON lines instead of publishing")
}

func runEmit(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")
	interval, _ := cmd.Flags().GetDuration("interval")
	darkRatio, _ := cmd.Flags().GetFloat64("dark-ratio")
	kid, _ := cmd.Flags().GetString("kid")
	alphabet, _ := cmd.Flags().GetString("key")
	seed, _ := cmd.Flags().GetInt64("seed")
	natsURL, _ := cmd.Flags().GetString("nats-url")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if count <= 0 {
		return fmt.Errorf("--count must be positive")
	}

	gen, err := generator.New(generator.Options{Seed: seed, DarkRatio: darkRatio, Kid: kid, Alphabet: alphabet})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	subject := cfg.Pipeline.RawSubject
	if dryRun {
		_, err := emitSignals(ctx, gen, linePrinter(cmd.OutOrStdout()), subject, count, interval)
		return err
	}

	js, err := connectJetStream(natsURL)
	if err != nil {
		return err
	}
	defer func() { _ = js.Drain() }()

	if err := js.EnsureStream(ctx, natsclient.RawSignalsStream(subject)); err != nil {
		return err
	}

	sent, err := emitSignals(ctx, gen, js, subject, count, interval)
	if err != nil {
		output.Error("Stopped after %d of %d signals: %v", sent, count, err)
		return err
	}
	output.Success("Emitted %d signals to %s", sent, subject)
	return nil
}

// emitSignals publishes count generated events to subject and reports how
// many were accepted.
func emitSignals(ctx context.Context, gen *generator.Generator, pub messaging.Publisher, subject string, count int, interval time.Duration) (int, error) {
	for i := 0; i < count; i++ {
		event, err := gen.Next()
		if err != nil {
			return i, err
		}
		data, err := json.Marshal(event)
		if err != nil {
			return i, err
		}

		msg := &messaging.Message{Subject: subject, Data: data}
		msg.SetHeader(messaging.HeaderMsgID, event.ID)
		if err := pub.Publish(ctx, msg); err != nil {
			return i, err
		}

		if interval > 0 && i < count-1 {
			select {
			case <-ctx.Done():
				return i + 1, ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	return count, nil
}

// connectJetStream connects with the configured NATS settings, overriding
// the URL when natsURL is set.
func connectJetStream(natsURL string) (*natsclient.JetStreamClient, error) {
	natsCfg := natsclient.ConfigFrom(cfg.NATS, "sigctl")
	if natsURL != "" {
		natsCfg.URL = natsURL
	}
	js, err := natsclient.NewJetStreamClient(natsCfg, logging.NewWithWriter(os.Stderr, slog.LevelWarn, "text"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return js, nil
}

// linePrinter writes each message body as one line of w.
func linePrinter(w io.Writer) messaging.Publisher {
	return messaging.PublisherFunc(func(ctx context.Context, msg *messaging.Message) error {
		_, err := fmt.Fprintln(w, string(msg.Data))
		return err
	})
}
