package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"star-notifier/internal/domain"
	"star-notifier/internal/infra/metrics"
)

// DefaultTop is the number of posts listed in a digest.
const DefaultTop = 10

// TopPostsConfig configures the digest email.
type TopPostsConfig struct {
	Top        int
	From       string
	Recipients []string
	Timeout    time.Duration
}

// TopPosts emails the most starred posts.
type TopPosts struct {
	store     domain.Store
	transport domain.NotificationTransport
	cfg       TopPostsConfig
	statuses  domain.DigestJobStatus
	log       zerolog.Logger
}

var _ domain.DigestRunner = (*TopPosts)(nil)

// NewTopPosts creates the default digest runner.
func NewTopPosts(store domain.Store, transport domain.NotificationTransport, cfg TopPostsConfig, logger zerolog.Logger) *TopPosts {
	if cfg.Top <= 0 {
		cfg.Top = DefaultTop
	}
	return &TopPosts{store: store, transport: transport, cfg: cfg, log: logger}
}

// TrackRecipients makes a retried job skip the recipients it already reached.
func (r *TopPosts) TrackRecipients(statuses domain.DigestJobStatus) *TopPosts {
	r.statuses = statuses
	return r
}

// RunWeeklyDigest ranks posts and sends the listing to every recipient.
func (r *TopPosts) RunWeeklyDigest(ctx context.Context, job domain.DigestJob) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveDigest(start, err) }()

	log := r.log.With().Str("job", job.ID).Str("week", job.Week).Logger()

	snap, err := r.store.Get(ctx, domain.PostsRoot)
	if err != nil {
		return fmt.Errorf("read posts: %w", err)
	}
	var posts []domain.Post
	for _, child := range snap.Children() {
		var post domain.Post
		if err := child.Decode(&post); err != nil {
			log.Warn().Err(err).Str("post", child.Key()).Msg("digest: skipping undecodable post")
			continue
		}
		post.ID = child.Key()
		posts = append(posts, post)
	}
	top := TopByStars(posts, r.cfg.Top)
	text := FormatDigest(job.Week, top)

	if len(r.cfg.Recipients) == 0 {
		log.Info().Int("posts", len(top)).Str("listing", text).Msg("digest: no recipients configured")
		return nil
	}

	var errs []error
	for _, to := range r.cfg.Recipients {
		if r.delivered(ctx, job.ID, to) {
			log.Debug().Str("to", to).Msg("digest: already sent to recipient")
			continue
		}
		sendErr := r.send(ctx, domain.Message{
			From:    r.cfg.From,
			To:      to,
			Subject: "Top posts of " + job.Week,
			Text:    text,
		})
		switch {
		case errors.Is(sendErr, domain.ErrTransportDisabled):
			log.Info().Str("listing", text).Msg("digest: transport disabled, listing not sent")
			return nil
		case sendErr != nil:
			log.Error().Err(sendErr).Str("to", to).Msg("digest: send failed")
			errs = append(errs, fmt.Errorf("send to %s: %w", to, sendErr))
		default:
			log.Info().Str("to", to).Int("posts", len(top)).Msg("digest: sent")
			if r.statuses != nil && job.ID != "" {
				if err := r.statuses.MarkRecipient(ctx, job.ID, to); err != nil {
					log.Warn().Err(err).Str("to", to).Msg("digest: unable to record delivery")
				}
			}
		}
	}
	return errors.Join(errs...)
}

// delivered fails open: an unreadable status resends rather than skips.
func (r *TopPosts) delivered(ctx context.Context, jobID, to string) bool {
	if r.statuses == nil || jobID == "" {
		return false
	}
	ok, err := r.statuses.RecipientDelivered(ctx, jobID, to)
	if err != nil {
		r.log.Warn().Err(err).Str("job", jobID).Str("to", to).Msg("digest: unable to read delivery status")
		return false
	}
	return ok
}

func (r *TopPosts) send(ctx context.Context, msg domain.Message) error {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	return r.transport.Send(ctx, msg)
}

// TopByStars returns up to n posts ordered by star count, ties broken by id.
func TopByStars(posts []domain.Post, n int) []domain.Post {
	sorted := append([]domain.Post(nil), posts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StarCount != sorted[j].StarCount {
			return sorted[i].StarCount > sorted[j].StarCount
		}
		return sorted[i].ID < sorted[j].ID
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// FormatDigest renders the plain text listing.
func FormatDigest(week string, posts []domain.Post) string {
	var b strings.Builder
	b.WriteString("Top posts of " + week + "\n")
	if len(posts) == 0 {
		b.WriteString("\nNo posts yet.")
		return b.String()
	}
	for i, post := range posts {
		title := strings.TrimSpace(post.Title)
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, title)
		if author := strings.TrimSpace(post.Author); author != "" {
			b.WriteString(" by " + author)
		}
		fmt.Fprintf(&b, " (%d %s)", post.StarCount, plural(post.StarCount, "star", "stars"))
	}
	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
