// Package seed fills a record store with demo users and posts for local runs.
package seed

import (
	"context"
	"fmt"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/rs/xid"

	"star-notifier/internal/domain"
)

// Options controls how much data is generated.
type Options struct {
	Users int
	Posts int
	// MaxStars caps the stars put on a single post.
	MaxStars int
	// NoEmailRatio is the share of users created without an email address.
	NoEmailRatio float64
	// Seed makes the output, ids included, reproducible when non-zero.
	Seed int64
}

// Writer is the part of the record store the seeder needs.
type Writer interface {
	Update(ctx context.Context, values map[string]any) error
}

// Factory builds users and posts shaped like the production records.
type Factory struct {
	faker *gofakeit.Faker
	opts  Options
}

// NewFactory creates a factory.
func NewFactory(opts Options) *Factory {
	if opts.MaxStars <= 0 {
		opts.MaxStars = 5
	}
	return &Factory{faker: gofakeit.New(opts.Seed), opts: opts}
}

// Dataset is a generated batch ready to be written.
type Dataset struct {
	Users map[string]map[string]any
	Posts map[string]map[string]any
}

// Build generates users and posts. starCount is left at zero on purpose so the
// reconciler has work to do when the service starts.
func (f *Factory) Build() Dataset {
	ds := Dataset{Users: make(map[string]map[string]any), Posts: make(map[string]map[string]any)}
	uids := make([]string, 0, f.opts.Users)
	for i := 0; i < f.opts.Users; i++ {
		uid := f.newID()
		user := map[string]any{"username": f.faker.Username() + fmt.Sprintf("%d", f.faker.Number(100, 999))}
		if f.faker.Float64Range(0, 1) >= f.opts.NoEmailRatio {
			user["email"] = f.faker.Email()
		}
		ds.Users[uid] = user
		uids = append(uids, uid)
	}
	if len(uids) == 0 {
		return ds
	}
	for i := 0; i < f.opts.Posts; i++ {
		author := uids[f.faker.Number(0, len(uids)-1)]
		post := map[string]any{
			"uid":       author,
			"author":    ds.Users[author]["username"],
			"title":     f.faker.Sentence(5),
			"body":      f.faker.Paragraph(1, 3, 12, "\n"),
			"starCount": 0,
		}
		starSet := map[string]any{}
		for n := f.faker.Number(0, f.opts.MaxStars); n > 0; n-- {
			starSet[uids[f.faker.Number(0, len(uids)-1)]] = true
		}
		if len(starSet) > 0 {
			post["stars"] = starSet
		}
		ds.Posts[f.newID()] = post
	}
	return ds
}

// newID returns a time ordered xid, or one drawn from the faker for seeded runs.
func (f *Factory) newID() string {
	if f.opts.Seed == 0 {
		return xid.New().String()
	}
	var raw [12]byte
	for i := range raw {
		raw[i] = f.faker.Uint8()
	}
	id, _ := xid.FromBytes(raw[:])
	return id.String()
}

// Write stores the dataset in one atomic update: every post lands in posts/
// and in its author's user-posts/ copy.
func Write(ctx context.Context, w Writer, ds Dataset) error {
	values := make(map[string]any, len(ds.Users)+2*len(ds.Posts))
	for uid, user := range ds.Users {
		values[domain.UserPath(uid)] = user
	}
	for id, post := range ds.Posts {
		values[domain.PostPath(id)] = post
		values[domain.UserPostPath(post["uid"].(string), id)] = post
	}
	if err := w.Update(ctx, values); err != nil {
		return fmt.Errorf("write seed data: %w", err)
	}
	return nil
}
