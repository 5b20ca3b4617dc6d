package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/bwise1/civic_patrol/internal/http/client"
	"github.com/bwise1/civic_patrol/internal/livesync"
	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/bwise1/civic_patrol/util"
	"github.com/bwise1/civic_patrol/util/logger"
	"github.com/bwise1/civic_patrol/util/storage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// session is one user's view of the API: a Cache kept current by the
// Coordinator's writes and the Dispatcher's change events.
type session struct {
	token       string
	identity    model.Identity
	remote      *client.Client
	cache       *livesync.Cache
	coordinator *livesync.Coordinator
	stream      *client.Stream
	dispatcher  *livesync.Dispatcher
}

func newSession(cmd *cobra.Command) (*session, error) {
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = cfg.APIToken
	}
	if token == "" {
		return nil, errors.New("no access token: set API_TOKEN or pass --token")
	}
	identity, err := client.ParseIdentity(token)
	if err != nil {
		return nil, err
	}

	remote := client.New(cfg.APIBaseURL, token)
	opts := []livesync.Option{
		livesync.WithLogger(logger.Log),
		livesync.WithPoints(remote),
		livesync.WithNotifier(logNotifier{log: logger.Log}),
		livesync.WithRetryPolicy(livesync.KindCreateReport, livesync.RetryPolicy{
			Attempts: cfg.RetryCount,
			Backoff:  cfg.RetryBackoff,
		}),
	}
	if cfg.CloudinaryEnabled() {
		cld, err := storage.NewCloudinary(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, livesync.WithUploader(cld))
	}

	cache := livesync.NewCache()
	return &session{
		token:       token,
		identity:    identity,
		remote:      remote,
		cache:       cache,
		coordinator: livesync.NewCoordinator(cache, remote, identity, opts...),
	}, nil
}

// live opens the change event stream. Until it is called the session only
// sees its own writes.
func (s *session) live(ctx context.Context) error {
	stream, err := client.Dial(ctx, cfg.WebSocketURL, s.token, logger.Log)
	if err != nil {
		return err
	}
	s.stream = stream
	s.dispatcher = livesync.NewDispatcher(s.cache, stream,
		livesync.WithDispatcherLogger(logger.Log),
		livesync.WithQueueSize(cfg.QueueSize),
	)
	return nil
}

func (s *session) Close() {
	s.coordinator.Flush()
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			logger.Log.Debug("close stream", zap.Error(err))
		}
	}
}

// logNotifier stands in for push delivery on the command line.
type logNotifier struct {
	log *zap.Logger
}

func (n logNotifier) Notify(_ context.Context, userID, message string) error {
	n.log.Info("notification", zap.String("user_id", userID), zap.String("message", message))
	return nil
}

func printOutcome(w io.Writer, o livesync.Outcome) error {
	if o.OK() {
		fmt.Fprintf(w, "%s %s: %s\n", o.Kind, o.Status, o.EntityID)
		return nil
	}
	return errors.Wrapf(o.Err, "%s %s", o.Kind, o.Status)
}

func printReport(w io.Writer, r model.Report) {
	patrol := "-"
	if r.PatrolUserID != nil {
		patrol = *r.PatrolUserID
	}
	fmt.Fprintf(w, "%s  %-22s %-6s %-40s likes=%d comments=%d patrol=%s\n",
		r.ID, r.Status, r.Priority, util.Truncate(r.Title, 40), r.LikeCount, r.CommentCount, patrol)
}

func printThread(w io.Writer, nodes []livesync.Node) {
	for _, n := range nodes {
		marker := ""
		if n.Pending {
			marker = " (sending)"
		}
		fmt.Fprintf(w, "%s%s [%s] %s  likes=%d%s\n",
			strings.Repeat("  ", n.Depth), n.ID, n.UserID, util.Truncate(n.Text, 80), n.LikeCount, marker)
	}
}
