package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/incident-console/internal/livefeed"
	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/services"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a live feed and print each update as a JSON line.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd)
	},
}

var watchOpts struct {
	kind     string
	duration time.Duration
}

func init() {
	watchCmd.Flags().StringVar(&watchOpts.kind, "kind", string(models.FeedIncidents), "Feed to follow: incidents or metrics")
	watchCmd.Flags().DurationVar(&watchOpts.duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
}

func runWatch(cmd *cobra.Command) error {
	cfg, logger, err := loadConfig(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	comps, err := buildComponents(cmd.Context(), cfg, logger, stderrNotifier(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer comps.Close()

	kind := models.FeedKind(watchOpts.kind)
	feed, ok := comps.feeds[kind]
	if !ok {
		return &exitError{code: 2, err: fmt.Errorf("unknown feed kind %q", kind)}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if watchOpts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, watchOpts.duration)
		defer cancel()
	}

	changed := make(chan struct{}, 1)
	feed.Logger = logger
	feed.OnUpdate = func(models.LiveFeedState) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	controller := livefeed.NewController(feed)
	controller.Start(ctx)
	defer controller.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if err := enc.Encode(services.FeedUpdate(controller.State())); err != nil {
				return err
			}
		}
	}
}
