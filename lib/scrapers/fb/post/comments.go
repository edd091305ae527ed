package post

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"fbharvest-backend/lib/htmlutil"
	"fbharvest-backend/lib/scrapers/fb/core"
	"fbharvest-backend/lib/scrapers/fb/uid"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CommentOptions tunes a comment crawl.
type CommentOptions struct {
	// Passes is the number of crawl passes, 1 or 2. The second pass
	// repeats the crawl without credentials so that comments hidden
	// from the logged-in account by a block still surface. Defaults
	// to 1.
	Passes int
	// ResolveMentions controls whether mentioned accounts get their
	// numeric ids resolved. Mentions keep UserId 0 when disabled.
	ResolveMentions bool
	// Progress, when set, receives completion estimates and may abort
	// the crawl by returning false.
	Progress Progress
	// Known lists comment ids from an earlier harvest; they are
	// skipped instead of re-extracted.
	Known []int64
	// Anonymous overrides the client used for the second pass. A
	// credential-free clone of the post's client is built when nil.
	Anonymous *core.Client
}

// Comments crawls the post's comment thread into a map keyed by
// comment id. Replies carry their parent's id; a comment reachable
// both as top-level and as a reply keeps whichever parent was assigned
// first. Returns ErrCancelled with a nil map when the progress
// callback aborts.
func (p *Post) Comments(ctx context.Context, opts CommentOptions) (map[int64]*Comment, error) {
	ctx, span := tracer.Start(ctx, "Comments")
	defer span.End()
	span.SetAttributes(attribute.Int64("post_id", p.PostId))

	passes := opts.Passes
	if passes <= 0 {
		passes = 1
	}
	comments := make(map[int64]*Comment)
	tracker := &progressTracker{cb: opts.Progress, passes: passes}

	for pass := 0; pass < passes; pass++ {
		client := p.client
		if pass > 0 {
			client = opts.Anonymous
			if client == nil {
				var err error
				client, err = p.client.CloneAnonymous(ctx)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, "failed to build anonymous client")
					return nil, err
				}
			}
		}

		skip := make(map[int64]bool, len(comments)+len(opts.Known))
		for id := range comments {
			skip[id] = true
		}
		for _, id := range opts.Known {
			skip[id] = true
		}

		crawl := &commentCrawl{
			post:     p,
			client:   client,
			comments: comments,
			skip:     skip,
			mentions: opts.ResolveMentions,
			tracker:  tracker,
			replies:  map[int64]string{},
		}
		if err := crawl.run(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "comment crawl failed")
			return nil, err
		}
		tracker.pass++
	}

	span.SetAttributes(attribute.Int("comments", len(comments)))
	return comments, nil
}

// commentCrawl is the state of a single pass.
type commentCrawl struct {
	post     *Post
	client   *core.Client
	comments map[int64]*Comment
	skip     map[int64]bool
	mentions bool
	tracker  *progressTracker
	// replies maps a parent comment id to its reply-listing URL,
	// queued during the top-level sweep and drained afterwards.
	replies map[int64]string
}

func (c *commentCrawl) run(ctx context.Context) error {
	target := c.startURL()
	backward := false
	for page := 0; ; page++ {
		doc, _, err := c.client.GetDoc(ctx, target)
		if err != nil {
			return err
		}
		root := commentRoot(doc)
		if root.Length() == 0 {
			break
		}
		rows := root.ChildrenFiltered("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return !strings.HasPrefix(s.AttrOr("id", ""), "see_")
		})
		if rows.Length() == 0 {
			break
		}
		c.tracker.seen += rows.Length()
		if !c.tracker.report() {
			return ErrCancelled
		}

		var rowErr error
		rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
			id, err := c.saveComment(ctx, row, -1)
			if err != nil {
				rowErr = err
				return false
			}
			if id >= 0 {
				c.queueReplies(id, row)
			}
			c.tracker.processed++
			if !c.tracker.report() {
				rowErr = ErrCancelled
				return false
			}
			return true
		})
		if rowErr != nil {
			return rowErr
		}

		next, ok := seeMoreLink(root, page, &backward)
		if !ok {
			break
		}
		target = htmlutil.ResolveURL(c.client.BasicURL, next)
	}

	for parentId, listing := range c.replies {
		if err := c.crawlReplies(ctx, parentId, listing); err != nil {
			return err
		}
	}
	return nil
}

// group posts render under a plain id path; everything else needs the
// story endpoint with both halves of the identity
func (c *commentCrawl) startURL() string {
	if c.post.GroupPost {
		return fmt.Sprintf("%s/%d", c.client.BasicURL, c.post.PostId)
	}
	return fmt.Sprintf("%s/story.php?story_fbid=%d&id=%d",
		c.client.BasicURL, c.post.PostId, c.post.AuthorId)
}

// commentRoot digs out the container that holds comment rows and the
// pagination controls: the first id-less div two levels under the ufi
// wrapper.
func commentRoot(doc *goquery.Document) *goquery.Selection {
	return doc.Find("div[id^='ufi_']").First().
		ChildrenFiltered("div").
		ChildrenFiltered("div:not([id])").
		First()
}

// seeMoreLink finds the next page of top-level comments. A thread
// opened mid-way only renders a "see previous" control; the first page
// latches the paging direction and every later page follows only that
// control, even when a mid-thread page renders both.
func seeMoreLink(root *goquery.Selection, page int, backward *bool) (string, bool) {
	if page == 0 {
		if href, ok := root.ChildrenFiltered("div[id^='see_next']").Find("a").First().Attr("href"); ok {
			return href, true
		}
		*backward = true
	}
	if *backward {
		return root.ChildrenFiltered("div[id^='see_prev']").Find("a").First().Attr("href")
	}
	return root.ChildrenFiltered("div[id^='see_next']").Find("a").First().Attr("href")
}

func (c *commentCrawl) queueReplies(id int64, row *goquery.Selection) {
	href, ok := row.Find("div[id*='comment_replies_'] div a[href*='/comment/replies/']").
		First().Attr("href")
	if !ok {
		return
	}
	if _, queued := c.replies[id]; queued {
		return
	}
	c.replies[id] = htmlutil.ResolveURL(c.client.BasicURL, href)
}

func (c *commentCrawl) crawlReplies(ctx context.Context, parentId int64, target string) error {
	backward := false
	for page := 0; ; page++ {
		doc, _, err := c.client.GetDoc(ctx, target)
		if err != nil {
			return err
		}
		// the reply list is the sibling right after the parent comment
		container := doc.Find(fmt.Sprintf("div[id='%d']", parentId)).First().Next()
		if container.Length() == 0 {
			break
		}
		rows := container.ChildrenFiltered("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return !strings.HasPrefix(s.AttrOr("id", ""), "comment_replies")
		})
		if rows.Length() == 0 {
			break
		}
		c.tracker.seen += rows.Length()
		if !c.tracker.report() {
			return ErrCancelled
		}

		var rowErr error
		rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
			if _, err := c.saveComment(ctx, row, parentId); err != nil {
				rowErr = err
				return false
			}
			c.tracker.processed++
			if !c.tracker.report() {
				rowErr = ErrCancelled
				return false
			}
			return true
		})
		if rowErr != nil {
			return rowErr
		}

		next, ok := replyMoreLink(container, page, &backward)
		if !ok {
			break
		}
		target = htmlutil.ResolveURL(c.client.BasicURL, next)
	}
	return nil
}

// replyMoreLink mirrors seeMoreLink for reply pagination, where the
// forward control is suffixed _2 and the backward one _1.
func replyMoreLink(container *goquery.Selection, page int, backward *bool) (string, bool) {
	if page == 0 {
		if href, ok := container.ChildrenFiltered("div[id^='comment_replies_more_2']").
			Find("a").First().Attr("href"); ok {
			return href, true
		}
		*backward = true
	}
	if *backward {
		return container.ChildrenFiltered("div[id^='comment_replies_more_1']").
			Find("a").First().Attr("href")
	}
	return container.ChildrenFiltered("div[id^='comment_replies_more_2']").
		Find("a").First().Attr("href")
}

// saveComment extracts one comment row. Returns the comment id, or -1
// when the row's id does not parse. A row whose id is in the skip set
// is left untouched, including its parent assignment.
func (c *commentCrawl) saveComment(ctx context.Context, row *goquery.Selection, parentId int64) (int64, error) {
	id, err := strconv.ParseInt(row.AttrOr("id", ""), 10, 64)
	if err != nil {
		return -1, nil
	}
	if c.skip[id] {
		return id, nil
	}

	if existing, ok := c.comments[id]; ok {
		if existing.ParentId == -1 && parentId != -1 {
			existing.ParentId = parentId
		}
		return id, nil
	}

	inner := row.ChildrenFiltered("div").First()
	comment := &Comment{Id: id, ParentId: parentId}

	author := inner.ChildrenFiltered("h3").Find("a").First()
	comment.AuthorName = htmlutil.CleanText(author.Text())
	if href, ok := author.Attr("href"); ok {
		authorId, err := c.post.uids.Resolve(ctx, href)
		if err == nil {
			comment.AuthorId = authorId
		} else {
			comment.AuthorId = -1
		}
	} else {
		comment.AuthorId = -1
	}

	body := inner.ChildrenFiltered("div").Eq(0)
	comment.Text = htmlutil.CleanText(body.Text())
	if html, err := body.Html(); err == nil {
		comment.TextHtml = html
	}
	if comment.Text != "" {
		comment.Mentions = c.extractMentions(ctx, body)
	}

	media := inner.ChildrenFiltered("div").Eq(1)
	comment.Media = c.extractMedia(media)

	c.comments[id] = comment
	return id, nil
}

// extractMentions pulls mentioned accounts out of a comment body. A
// mention anchor stripped of its href (the target deleted or deactivated
// their account) becomes a placeholder with a unique negative id so
// distinct unresolvable mentions stay distinct.
func (c *commentCrawl) extractMentions(ctx context.Context, body *goquery.Selection) []Mention {
	var mentions []Mention
	placeholder := int64(placeholderBase)
	body.ChildrenFiltered("a").Each(func(_ int, anchor *goquery.Selection) {
		text := htmlutil.CleanText(anchor.Text())
		href, ok := anchor.Attr("href")
		if !ok {
			mentions = append(mentions, Mention{
				Handle: fmt.Sprintf("%s (%d)", text, placeholder),
				UserId: placeholder,
			})
			placeholder--
			return
		}
		// self-links inside the body (hashtags, "see more") carry
		// their own text in the href and are not mentions
		if !strings.HasPrefix(href, "/") || strings.Contains(href, text) {
			return
		}
		handle := uid.Handle(href)
		if handle == "" {
			return
		}
		mention := Mention{Handle: handle}
		if c.mentions {
			if id, err := c.post.uids.Resolve(ctx, href); err == nil {
				mention.UserId = id
			} else {
				mention.UserId = -1
			}
		}
		mentions = append(mentions, mention)
	})
	return mentions
}

func (c *commentCrawl) extractMedia(media *goquery.Selection) Media {
	if href, ok := media.Find("div > a[href*='/photo.php']").First().Attr("href"); ok {
		return Media{Kind: MediaImage, URL: htmlutil.ResolveURL(c.client.BasicURL, href)}
	}
	if href, ok := media.Find("div > a[href*='/video_redirect/']").First().Attr("href"); ok {
		return Media{Kind: MediaVideo, URL: htmlutil.ResolveURL(c.client.BasicURL, href)}
	}
	if src, ok := media.ChildrenFiltered("img").First().Attr("src"); ok {
		return Media{Kind: MediaSticker, URL: src}
	}
	embed := media.ChildrenFiltered("a[href*='lm.']").First()
	if href, ok := embed.Attr("href"); ok {
		return Media{
			Kind:  MediaEmbed,
			URL:   href,
			Title: htmlutil.CleanText(embed.Find("h3").First().Text()),
		}
	}
	return Media{Kind: MediaNone}
}
