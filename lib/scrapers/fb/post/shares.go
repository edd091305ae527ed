package post

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"fbharvest-backend/lib/htmlutil"
	"fbharvest-backend/lib/scrapers/fb/uid"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Shares harvests the accounts that shared the post, keyed by user id
// with the display name as value. Unlike reactions, an account seen
// again on a later page keeps its first entry: the listing has no
// per-row state that can change mid-crawl, so duplicates are page
// overlap. Returns ErrCancelled with a nil map when the progress
// callback aborts.
func (p *Post) Shares(ctx context.Context, progress Progress) (map[int64]string, error) {
	ctx, span := tracer.Start(ctx, "Shares")
	defer span.End()
	span.SetAttributes(attribute.Int64("post_id", p.PostId))

	shares := make(map[int64]string)
	target := fmt.Sprintf("%s/browse/shares?id=%d", p.client.BasicURL, p.PostId)
	for {
		doc, _, err := p.client.GetDoc(ctx, target)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "share page fetch failed")
			return nil, err
		}

		rows := shareRows(doc)
		if rows.Length() > 0 {
			if progress != nil && !progress(0) {
				return nil, ErrCancelled
			}
			var rowErr error
			n := 0
			rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
				n++
				p.saveShare(ctx, row, shares)
				if progress != nil && !progress(100*float32(n)/float32(rows.Length())) {
					rowErr = ErrCancelled
					return false
				}
				return true
			})
			if rowErr != nil {
				return nil, rowErr
			}
		}

		next, ok := doc.Find("div[id='m_more_item'] a").First().Attr("href")
		if !ok {
			break
		}
		target = htmlutil.ResolveURL(p.client.BasicURL, next)
	}

	span.SetAttributes(attribute.Int("shares", len(shares)))
	return shares, nil
}

// shareRows digs out the per-account rows: grandchildren of the list
// heading's parent, below its id-less wrapper.
func shareRows(doc *goquery.Document) *goquery.Selection {
	return doc.Find("h3").First().Parent().
		ChildrenFiltered("div").
		ChildrenFiltered("div:not([id])").
		ChildrenFiltered("div")
}

func (p *Post) saveShare(ctx context.Context, row *goquery.Selection, shares map[int64]string) {
	profile := row.Find("a").First()
	link := profile.AttrOr("href", "")

	userId := addFriendId(p.client.BasicURL, row)
	if userId < 0 {
		resolved, err := p.uids.Resolve(ctx, link)
		if err != nil {
			return
		}
		userId = resolved
	} else if handle := uid.Handle(link); handle != "" {
		p.uids.Store().Insert(handle, userId)
	}

	if _, seen := shares[userId]; !seen {
		shares[userId] = htmlutil.CleanText(profile.Text())
	}
}

// the add-friend control carries the account id as a query parameter
func addFriendId(base *url.URL, row *goquery.Selection) int64 {
	href, ok := row.Find("a[href*='add_friend.php']").First().Attr("href")
	if !ok {
		return -1
	}
	resolved, err := url.Parse(htmlutil.ResolveURL(base, href))
	if err != nil {
		return -1
	}
	id, err := strconv.ParseInt(resolved.Query().Get("id"), 10, 64)
	if err != nil || id < 0 {
		return -1
	}
	return id
}
