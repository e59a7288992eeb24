package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
)

func newSubmitCmd() *cobra.Command {
	var (
		postID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Creates collection jobs for posts awaiting replies",
		Long: `Submits collection requests to the collector for every post still in
noreplies, or for a single post when --post-id is given. Posts that
already hold an active job are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSubmitCommand(cmd, postID, limit)
		},
	}
	cmd.Flags().StringVar(&postID, "post-id", "", "submit only this post")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap the number of posts submitted (0 = no cap)")
	return cmd
}

func runSubmitCommand(cmd *cobra.Command, postID string, limit int) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var posts []collection.Post
	if postID != "" {
		post, found, err := a.Posts.GetPostByPostID(ctx, postID)
		if err != nil {
			return fmt.Errorf("look up post %s: %w", postID, err)
		}
		if !found {
			return fmt.Errorf("post %s not found", postID)
		}
		posts = []collection.Post{post}
	} else {
		posts, err = a.Posts.FindPosts(ctx, collection.PostFilter{
			Statuses: []collection.PostStatus{collection.PostStatusNoReplies},
			Limit:    limit,
		})
		if err != nil {
			return fmt.Errorf("find posts: %w", err)
		}
	}

	log, err := newCommandRunLog(a, "submit_batch")
	if err != nil {
		return err
	}
	summary, err := a.Submitter.SubmitBatch(ctx, posts, log)
	flushRunLog(ctx, a, log)
	if err != nil {
		return fmt.Errorf("submit batch: %w", err)
	}

	a.Logger.Info("submission batch finished",
		zap.String("run_id", summary.RunID),
		zap.Int("total", summary.Total),
		zap.Any("outcomes", summary.Outcomes))
	return nil
}
