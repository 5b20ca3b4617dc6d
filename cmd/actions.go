package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwise1/civic_patrol/internal/livesync"
	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const actionTimeout = 30 * time.Second

// reportAction loads the report named by args[0] with its thread, then runs
// fn against it.
func reportAction(use, short string, nargs int, fn func(ctx context.Context, s *session, reportID string, args []string) livesync.Outcome) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), actionTimeout)
			defer cancel()

			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.coordinator.Load(ctx, args[0]); err != nil {
				return err
			}
			if err := printOutcome(cmd.OutOrStdout(), fn(ctx, s, args[0], args[1:])); err != nil {
				return err
			}
			if r, ok := s.cache.Report(args[0]); ok {
				printReport(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}
}

var createCmd = &cobra.Command{
	Use:   "report",
	Short: "File a new report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), actionTimeout)
		defer cancel()

		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		f := cmd.Flags()
		m := livesync.CreateReport{}
		m.Title, _ = f.GetString("title")
		m.Description, _ = f.GetString("description")
		m.Category, _ = f.GetString("category")
		m.ImagePath, _ = f.GetString("image")

		o := s.coordinator.Propose(ctx, m)
		if err := printOutcome(cmd.OutOrStdout(), o); err != nil {
			return err
		}
		// image upload and points run after the insert
		s.coordinator.Flush()
		if r, ok := s.cache.Report(o.EntityID); ok {
			printReport(cmd.OutOrStdout(), r)
		}
		return nil
	},
}

func init() {
	f := createCmd.Flags()
	f.String("title", "", "short summary")
	f.String("description", "", "details")
	f.String("category", "", "issue category")
	f.String("image", "", "photo to upload")
	_ = createCmd.MarkFlagRequired("title")
	_ = createCmd.MarkFlagRequired("category")
}

func actionCmds() []*cobra.Command {
	like := reportAction("like <report_id> [comment_or_reply_id]", "Like or unlike a report, comment or reply", 1,
		func(ctx context.Context, s *session, reportID string, args []string) livesync.Outcome {
			if len(args) == 0 {
				return s.coordinator.Propose(ctx, livesync.ToggleLike{SubjectID: reportID, SubjectKind: model.SubjectReport})
			}
			kind, _ := s.cache.KindOf(args[0])
			return s.coordinator.Propose(ctx, livesync.ToggleLike{SubjectID: args[0], SubjectKind: kind})
		})

	comment := reportAction("comment <report_id> <text...>", "Comment on a report", 2,
		func(ctx context.Context, s *session, reportID string, args []string) livesync.Outcome {
			return s.coordinator.Propose(ctx, livesync.AddComment{ReportID: reportID, Text: strings.Join(args, " ")})
		})

	reply := reportAction("reply <report_id> <parent_id> <text...>", "Reply to a comment or reply", 3,
		func(ctx context.Context, s *session, reportID string, args []string) livesync.Outcome {
			return s.coordinator.Propose(ctx, livesync.AddReply{ParentID: args[0], Text: strings.Join(args[1:], " ")})
		})

	edit := reportAction("edit <report_id> <id> <text...>", "Edit your comment or reply", 3,
		func(ctx context.Context, s *session, reportID string, args []string) livesync.Outcome {
			return s.coordinator.Propose(ctx, livesync.EditComment{ID: args[0], Text: strings.Join(args[1:], " ")})
		})

	del := reportAction("delete <report_id> <id>", "Delete your comment or reply", 2,
		func(ctx context.Context, s *session, reportID string, args []string) livesync.Outcome {
			return s.coordinator.Propose(ctx, livesync.DeleteComment{ID: args[0]})
		})

	claim := reportAction("claim <report_id>", "Take a report as patrol", 1,
		func(ctx context.Context, s *session, reportID string, _ []string) livesync.Outcome {
			return s.coordinator.Claims().Claim(ctx, reportID)
		})

	unclaim := reportAction("unclaim <report_id>", "Release a claimed report", 1,
		func(ctx context.Context, s *session, reportID string, _ []string) livesync.Outcome {
			return s.coordinator.Claims().Unclaim(ctx, reportID)
		})

	var reason string
	status := reportAction("status <report_id> <status>", "Move a report to another status", 2,
		func(ctx context.Context, s *session, reportID string, args []string) livesync.Outcome {
			return s.coordinator.Propose(ctx, livesync.SetStatus{ReportID: reportID, Status: model.ReportStatus(args[0]), Reason: reason})
		})
	status.Flags().StringVar(&reason, "reason", "", "why the report is cancelled")

	priority := reportAction("priority <report_id> <level>", "Set a report's priority level", 2,
		func(ctx context.Context, s *session, reportID string, args []string) livesync.Outcome {
			level, err := strconv.Atoi(args[0])
			if err != nil {
				return livesync.Outcome{Status: livesync.Invalid, Kind: livesync.KindSetPriority, EntityID: reportID,
					Err: &livesync.OperationError{Kind: livesync.KindSetPriority, Cause: errors.Wrapf(livesync.ErrValidation, "priority level %q", args[0])}}
			}
			return s.coordinator.Propose(ctx, livesync.SetPriority{ReportID: reportID, Level: level})
		})

	return []*cobra.Command{createCmd, like, comment, reply, edit, del, claim, unclaim, status, priority, threadCmd}
}

var threadCmd = &cobra.Command{
	Use:   "thread <report_id> <comment_id>",
	Short: "Show a comment thread, or one entry's edit history with --history",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), actionTimeout)
		defer cancel()

		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.coordinator.Load(ctx, args[0]); err != nil {
			return err
		}
		thread := s.coordinator.Thread(args[1])

		node, _ := cmd.Flags().GetString("history")
		if node == "" {
			printThread(cmd.OutOrStdout(), thread.Render())
			return nil
		}
		entries, err := thread.History(ctx, node)
		if err != nil {
			return err
		}
		for h := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", h.EditedAt.Format(time.RFC3339), h.PreviousText)
		}
		return nil
	},
}

func init() {
	threadCmd.Flags().String("history", "", "comment or reply whose edits to list")
}
