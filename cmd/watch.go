package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bwise1/civic_patrol/internal/livesync"
	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the report feed live",
	RunE:  runWatch,
}

func init() {
	addFeedFlags(watchCmd)
}

func addFeedFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("category", "", "only reports of this category")
	f.StringSlice("status", nil, "only reports in these statuses")
	f.StringSlice("exclude", nil, "hide reports in these statuses")
	f.String("q", "", "search title and description")
	f.Int("limit", 20, "reports shown")
}

func feedFilter(cmd *cobra.Command) model.Filter {
	f := cmd.Flags()
	filter := model.Filter{}
	filter.Category, _ = f.GetString("category")
	filter.Search, _ = f.GetString("q")
	filter.Limit, _ = f.GetInt("limit")
	status, _ := f.GetStringSlice("status")
	for _, s := range status {
		filter.Status = append(filter.Status, model.ReportStatus(s))
	}
	exclude, _ := f.GetStringSlice("exclude")
	for _, s := range exclude {
		filter.Exclude = append(filter.Exclude, model.ReportStatus(s))
	}
	return filter
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	filter := feedFilter(cmd)
	if err := s.live(ctx); err != nil {
		return err
	}

	feed := livesync.NewFeed(s.cache, filter)
	out := cmd.OutOrStdout()
	var mu sync.Mutex
	redraw := func(ev model.ChangeEvent) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "-- %s %s\n", ev.Channel, ev.EntityID)
		for _, r := range feed.Visible() {
			printReport(out, r)
		}
	}

	load := func(ctx context.Context) error {
		_, err := s.coordinator.LoadFeed(ctx, filter)
		return err
	}
	if err := followFeed(ctx, s.dispatcher, load, filter, redraw); err != nil {
		return err
	}
	redraw(model.ChangeEvent{Channel: "feed", EntityID: s.identity.ActorID})

	select {
	case <-ctx.Done():
	case <-s.stream.Done():
		fmt.Fprintln(cmd.ErrOrStderr(), "connection closed")
	}
	return nil
}

// feedWatcher is the part of the Dispatcher the watch command needs.
type feedWatcher interface {
	Watch(channel model.Channel, filter model.Filter, onEvent func(model.ChangeEvent)) (*livesync.Subscription, error)
}

// followFeed subscribes to every feed channel and only then runs the first
// fetch, so nothing published in between is lost. Only report_created is
// scoped to the filter; updates for rows already shown always apply.
func followFeed(ctx context.Context, d feedWatcher, load func(context.Context) error, filter model.Filter, onEvent func(model.ChangeEvent)) error {
	for _, ch := range []model.Channel{
		model.ChannelReportCreated,
		model.ChannelReportStatus,
		model.ChannelLikeCount,
		model.ChannelCommentCount,
	} {
		scope := model.Filter{}
		if ch == model.ChannelReportCreated {
			scope = filter
		}
		if _, err := d.Watch(ch, scope, onEvent); err != nil {
			return err
		}
	}
	return load(ctx)
}
