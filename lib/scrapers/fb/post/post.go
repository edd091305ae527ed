// Package post turns the target's legacy server-rendered markup into
// typed records: a post's identity anchor, its threaded comments, and
// the per-user reaction and share lists.
//
// The same logical page renders in several inconsistent variants, so
// every identity-critical field is resolved through an ordered pipeline
// of fallback probes; a probe that chokes on malformed input is a miss,
// not a failure.
package post

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"fbharvest-backend/lib/htmlutil"
	"fbharvest-backend/lib/scrapers/fb/core"
	"fbharvest-backend/lib/scrapers/fb/uid"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/fb/post")

// Post is a resolved crawl target. The anchor is immutable once Locate
// returns; the three crawlers may run concurrently against it as long as
// they share nothing but the identity store.
type Post struct {
	Anchor
	client *core.Client
	uids   *uid.Resolver
}

func (p *Post) Client() *core.Client {
	return p.client
}

// LocateId resolves an anchor from a bare numeric post id.
func LocateId(ctx context.Context, client *core.Client, uids *uid.Resolver, id int64) (*Post, error) {
	return Locate(ctx, client, uids, fmt.Sprintf("%s/%d", client.BasicURL, id))
}

// Locate resolves a post reference (a URL in any supported shape, or a
// numeric id in string form) into an anchor. The request is always
// forced through the low-markup host regardless of the host in the
// input. A watch-video link is chased back to its originating story
// link before extraction starts.
func Locate(ctx context.Context, client *core.Client, uids *uid.Resolver, ref string) (*Post, error) {
	ctx, span := tracer.Start(ctx, "Locate")
	defer span.End()
	span.SetAttributes(attribute.String("ref", ref))

	if ref == "" {
		return nil, fmt.Errorf("empty post reference: %w", ErrIdentityUnresolved)
	}

	target := normalizeRef(client.BasicURL, ref)

	doc, res, err := client.GetDoc(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch post page")
		return nil, err
	}
	landing := core.LandingURL(res)

	if strings.Contains(landing, "/watch/") {
		story, ok := doc.Find("footer a[href*='/story.php']").First().Attr("href")
		if !ok {
			span.SetStatus(codes.Error, "watch page carries no story link")
			return nil, fmt.Errorf("watch redirect: %w", core.ErrMalformedPage)
		}
		target = htmlutil.ResolveURL(client.BasicURL, story)
		doc, res, err = client.GetDoc(ctx, target)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to chase watch redirect")
			return nil, err
		}
		landing = core.LandingURL(res)
	}

	landingUrl, err := url.Parse(landing)
	if err != nil {
		return nil, fmt.Errorf("landing url: %w", core.ErrMalformedPage)
	}
	segments := pathSegments(landingUrl)
	group := slices.Contains(segments, "groups")

	authorId := firstHit(
		func() (int64, bool) { return groupPermalinkAuthor(segments, group) },
		func() (int64, bool) { return parseId(landingUrl.Query().Get("id")) },
		func() (int64, bool) { return structuredDataAuthor(doc) },
		func() (int64, bool) { return dataFtValue(doc, "content_owner_id_new") },
		func() (int64, bool) { return actorLinkAuthor(ctx, uids, doc) },
	)
	if authorId < 0 {
		span.SetStatus(codes.Error, "author id unresolved")
		return nil, fmt.Errorf("author id: %w", ErrIdentityUnresolved)
	}

	postId := firstHit(
		func() (int64, bool) { return elementIdSuffix(doc, "div[id^='actions_']", "actions_") },
		func() (int64, bool) { return structuredDataPostId(doc) },
		func() (int64, bool) { return dataFtPostId(doc) },
		func() (int64, bool) { return likeControlPostId(doc) },
		func() (int64, bool) { return elementIdSuffix(doc, "div[id^='ufi_']", "ufi_") },
	)
	if postId < 0 {
		span.SetStatus(codes.Error, "post id unresolved")
		return nil, fmt.Errorf("post id: %w", ErrIdentityUnresolved)
	}

	span.SetAttributes(
		attribute.Int64("post_id", postId),
		attribute.Int64("author_id", authorId),
		attribute.Bool("group_post", group),
	)
	return &Post{
		Anchor: Anchor{PostId: postId, AuthorId: authorId, GroupPost: group},
		client: client,
		uids:   uids,
	}, nil
}

// normalizeRef rewrites any input shape onto the low-markup host
func normalizeRef(basic *url.URL, ref string) string {
	if isDigits(ref) {
		return fmt.Sprintf("%s/%s", basic, ref)
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return fmt.Sprintf("%s/%s", basic, strings.TrimPrefix(ref, "/"))
	}
	rewritten := *parsed
	// a scheme-less ref parses with its hostname as the leading path
	// segment; strip it before re-hosting
	if rewritten.Host == "" {
		head, rest, found := strings.Cut(rewritten.Path, "/")
		if found && strings.Contains(head, ".") {
			rewritten.Path = "/" + rest
		}
	}
	rewritten.Scheme = basic.Scheme
	rewritten.Host = basic.Host
	return rewritten.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func pathSegments(u *url.URL) []string {
	var segments []string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

// firstHit evaluates probes in priority order, stopping at the first
// success. -1 means every probe missed.
func firstHit(probes ...func() (int64, bool)) int64 {
	for _, probe := range probes {
		if id, ok := probe(); ok {
			return id
		}
	}
	return -1
}

func parseId(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return -1, false
	}
	return id, true
}

// group permalinks carry the author id as the path segment right before
// "permalink"
func groupPermalinkAuthor(segments []string, group bool) (int64, bool) {
	if !group {
		return -1, false
	}
	idx := slices.Index(segments, "permalink")
	if idx <= 0 {
		return -1, false
	}
	return parseId(segments[idx-1])
}

// the structured-data script block tagged as a social-media-posting
// record, present on most non-group renderings
type structuredData struct {
	Identifier string `json:"identifier"`
	Author     struct {
		Identifier string `json:"identifier"`
	} `json:"author"`
}

func findStructuredData(doc *goquery.Document) (structuredData, bool) {
	var data structuredData
	found := false
	doc.Find("script").EachWithBreak(func(_ int, script *goquery.Selection) bool {
		text := script.Text()
		if !strings.Contains(text, "SocialMediaPosting") {
			return true
		}
		if err := json.Unmarshal([]byte(text), &data); err != nil {
			return true
		}
		found = true
		return false
	})
	return data, found
}

func structuredDataAuthor(doc *goquery.Document) (int64, bool) {
	data, ok := findStructuredData(doc)
	if !ok {
		return -1, false
	}
	return parseId(data.Author.Identifier)
}

// the composite identifier has two observed encodings, told apart by
// delimiter count: "author;post;;x" and "post:x:y"
func structuredDataPostId(doc *goquery.Document) (int64, bool) {
	data, ok := findStructuredData(doc)
	if !ok {
		return -1, false
	}
	id := data.Identifier
	switch {
	case strings.Count(id, ";") == 3:
		return parseId(strings.Split(id, ";")[1])
	case strings.Count(id, ":") == 2:
		return parseId(strings.Split(id, ":")[0])
	}
	return -1, false
}

// dataFtValue digs a field out of a post container's data-ft attribute
// blob; values appear both as strings and as numbers
func dataFtValue(doc *goquery.Document, field string) (int64, bool) {
	var out int64 = -1
	found := false
	doc.Find("div[data-ft]").EachWithBreak(func(_ int, div *goquery.Selection) bool {
		raw := div.AttrOr("data-ft", "")
		if !strings.Contains(raw, field) {
			return true
		}
		var blob map[string]any
		if err := json.Unmarshal([]byte(raw), &blob); err != nil {
			return true
		}
		id, ok := coerceId(blob[field])
		if !ok {
			return true
		}
		out = id
		found = true
		return false
	})
	return out, found
}

func coerceId(v any) (int64, bool) {
	switch value := v.(type) {
	case string:
		return parseId(value)
	case float64:
		if value < 0 {
			return -1, false
		}
		return int64(value), true
	}
	return -1, false
}

func dataFtPostId(doc *goquery.Document) (int64, bool) {
	return dataFtValue(doc, "top_level_post_id")
}

// the like control's element id embeds the post id as its second
// underscore-delimited field
func likeControlPostId(doc *goquery.Document) (int64, bool) {
	id, ok := doc.Find("span[id^='like_']").First().Attr("id")
	if !ok {
		return -1, false
	}
	parts := strings.Split(id, "_")
	if len(parts) < 2 {
		return -1, false
	}
	return parseId(parts[1])
}

func elementIdSuffix(doc *goquery.Document, selector, prefix string) (int64, bool) {
	id, ok := doc.Find(selector).First().Attr("id")
	if !ok {
		return -1, false
	}
	return parseId(strings.TrimPrefix(id, prefix))
}

func actorLinkAuthor(ctx context.Context, uids *uid.Resolver, doc *goquery.Document) (int64, bool) {
	href, ok := doc.Find("a.actor-link").First().Attr("href")
	if !ok {
		return -1, false
	}
	id, err := uids.Resolve(ctx, href)
	if err != nil {
		return -1, false
	}
	return id, true
}
