// Package harvest runs full crawls of single posts and persists the
// results, so repeated runs against the same post only pay for what
// changed.
package harvest

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fbharvest-backend/lib/scrapers/fb/core"
	"fbharvest-backend/lib/scrapers/fb/post"
	"fbharvest-backend/lib/scrapers/fb/uid"
	"fbharvest-backend/services/harvest/db"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/harvest")

type Service struct {
	db   *sql.DB
	qry  *db.Queries
	uids *uid.Resolver
}

func NewService(database *sql.DB, uids *uid.Resolver) Service {
	return Service{
		db:   database,
		qry:  db.New(database),
		uids: uids,
	}
}

type Options struct {
	// CommentPasses is forwarded to the comment crawl; 2 adds the
	// anonymous pass.
	CommentPasses int
	// ResolveMentions resolves the ids of accounts mentioned in
	// comment bodies.
	ResolveMentions bool
	// Incremental seeds the comment crawl with the ids already stored
	// for this post, so only new comments are extracted.
	Incremental bool
	// Progress, when set, receives per-stage progress. Returning false
	// aborts the whole harvest.
	Progress func(stage string, percent float32) bool
}

type Result struct {
	Post      post.Anchor
	Comments  map[int64]*post.Comment
	Reactions map[int64]post.Reaction
	Shares    map[int64]string
}

func (s Service) stageProgress(opts Options, stage string) post.Progress {
	if opts.Progress == nil {
		return nil
	}
	return func(percent float32) bool {
		return opts.Progress(stage, percent)
	}
}

// Scrape locates ref on client's session, runs the comment, reaction
// and share crawls concurrently, and persists everything that was
// gathered. The three crawls are independent; one failing does not
// waste the others' work, but the overall error reports every failure.
func (s Service) Scrape(ctx context.Context, client *core.Client, ref string, opts Options) (Result, error) {
	ctx, span := tracer.Start(ctx, "Scrape")
	defer span.End()
	span.SetAttributes(attribute.String("ref", ref))

	p, err := post.Locate(ctx, client, s.uids, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to locate post")
		return Result{}, err
	}

	var known []int64
	if opts.Incremental {
		known, err = s.qry.GetCommentIds(ctx, p.PostId)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to load known comment ids")
			return Result{}, err
		}
	}

	result := Result{Post: p.Anchor}
	resultLock := sync.Mutex{}
	wg := sync.WaitGroup{}
	var errList []error

	wg.Add(1)
	go func() {
		defer wg.Done()
		comments, err := p.Comments(ctx, post.CommentOptions{
			Passes:          opts.CommentPasses,
			ResolveMentions: opts.ResolveMentions,
			Known:           known,
			Progress:        s.stageProgress(opts, "comments"),
		})
		resultLock.Lock()
		defer resultLock.Unlock()
		if err != nil {
			errList = append(errList, err)
			return
		}
		result.Comments = comments
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		reactions, err := p.Reactions(ctx, s.stageProgress(opts, "reactions"))
		resultLock.Lock()
		defer resultLock.Unlock()
		if err != nil {
			errList = append(errList, err)
			return
		}
		result.Reactions = reactions
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		shares, err := p.Shares(ctx, s.stageProgress(opts, "shares"))
		resultLock.Lock()
		defer resultLock.Unlock()
		if err != nil {
			errList = append(errList, err)
			return
		}
		result.Shares = shares
	}()

	wg.Wait()
	if len(errList) > 0 {
		err := errors.Join(errList...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "harvest failed")
		return Result{}, err
	}

	err = s.persist(ctx, result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist harvest")
		return Result{}, err
	}

	slog.InfoContext(ctx, "harvested post",
		"post", p.PostId,
		"comments", len(result.Comments),
		"reactions", len(result.Reactions),
		"shares", len(result.Shares))
	return result, nil
}

func (s Service) persist(ctx context.Context, result Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	qry := s.qry.WithTx(tx)

	err = qry.UpsertPost(ctx, db.Post{
		Id:        result.Post.PostId,
		AuthorId:  result.Post.AuthorId,
		GroupPost: result.Post.GroupPost,
		CrawledAt: time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	for _, c := range result.Comments {
		err = qry.UpsertComment(ctx, db.Comment{
			PostId:     result.Post.PostId,
			Id:         c.Id,
			ParentId:   c.ParentId,
			AuthorId:   c.AuthorId,
			AuthorName: c.AuthorName,
			Body:       c.Text,
			BodyHtml:   c.TextHtml,
			MediaKind:  int64(c.Media.Kind),
			MediaUrl:   c.Media.URL,
			MediaTitle: c.Media.Title,
		})
		if err != nil {
			return err
		}
		for _, m := range c.Mentions {
			err = qry.InsertMention(ctx, db.Mention{
				PostId:    result.Post.PostId,
				CommentId: c.Id,
				Handle:    m.Handle,
				UserId:    m.UserId,
			})
			if err != nil {
				return err
			}
		}
	}

	for _, r := range result.Reactions {
		err = qry.UpsertReaction(ctx, db.Reaction{
			PostId:   result.Post.PostId,
			UserId:   r.UserId,
			UserName: r.UserName,
			Kind:     r.Kind.String(),
		})
		if err != nil {
			return err
		}
	}

	for userId, name := range result.Shares {
		err = qry.UpsertShare(ctx, db.Share{
			PostId:   result.Post.PostId,
			UserId:   userId,
			UserName: name,
		})
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}
