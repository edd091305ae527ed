// Package uid resolves profile links to numeric account ids.
//
// Every crawling component funnels identity work through a Resolver so
// that one process-wide Store absorbs the network cost: a profile seen
// in a reaction row, a share row and a comment byline is fetched at most
// once.
package uid

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"fbharvest-backend/lib/htmlutil"
	"fbharvest-backend/lib/scrapers/fb/core"
	"fbharvest-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/fb/uid")

// Every resolution strategy missed.
var ErrUnresolved = fmt.Errorf("could not resolve an account id for this link")

// path segments that can never be a profile handle
var systemSegments = map[string]bool{
	"photo.php":      true,
	"story.php":      true,
	"video_redirect": true,
	"watch":          true,
	"groups":         true,
	"browse":         true,
	"comment":        true,
	"login":          true,
	"checkpoint":     true,
	"ufi":            true,
	"a":              true,
}

// Handle extracts the canonical profile handle from a profile URL:
// "id:<n>" for the numeric profile.php form, otherwise the first path
// segment. Links that cannot name a profile yield "".
func Handle(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return ""
	}
	if strings.Contains(parsed.Path, "profile.php") {
		id := parsed.Query().Get("id")
		if id == "" {
			return ""
		}
		return "id:" + id
	}
	segment := strings.SplitN(strings.Trim(parsed.Path, "/"), "/", 2)[0]
	if segment == "" || systemSegments[segment] {
		return ""
	}
	return textutil.NormalizeHandle(segment)
}

// Resolver chains the identity strategies: session-self shortcut, cache,
// direct id query parameter, then a profile-page probe. Inject one per
// process; there is deliberately no package-level singleton.
type Resolver struct {
	store  Store
	client *core.Client
}

func NewResolver(store Store, client *core.Client) *Resolver {
	return &Resolver{store: store, client: client}
}

func (r *Resolver) Store() Store {
	return r.store
}

func (r *Resolver) Resolve(ctx context.Context, link string) (int64, error) {
	ctx, span := tracer.Start(ctx, "resolver:Resolve")
	defer span.End()

	if link == "" {
		return -1, ErrUnresolved
	}

	// a profile.php link without an id parameter points at the session's
	// own account
	if strings.Contains(link, "profile.php") && !strings.Contains(link, "id=") {
		self := r.client.SessionUserId()
		if self >= 0 {
			return self, nil
		}
		span.SetStatus(codes.Error, "self-profile link on an anonymous session")
		return -1, ErrUnresolved
	}

	handle := Handle(link)
	if handle != "" {
		if id, ok := r.store.Lookup(handle); ok {
			span.SetStatus(codes.Ok, "cache hit")
			return id, nil
		}
	}

	if strings.HasPrefix(handle, "id:") {
		id, err := strconv.ParseInt(strings.TrimPrefix(handle, "id:"), 10, 64)
		if err == nil && id >= 0 {
			r.store.Insert(handle, id)
			return id, nil
		}
	}

	id, err := r.probeProfile(ctx, link)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile probe failed")
		return -1, err
	}
	if handle != "" {
		r.store.Insert(handle, id)
	}
	return id, nil
}

// profile-page probes, evaluated in priority order; each one is a pure
// document -> (id, ok) function that treats malformed input as a miss
var profileProbes = []func(doc *goquery.Document) (int64, bool){
	func(doc *goquery.Document) (int64, bool) {
		// app-link metadata: fb://profile/<id>
		content := doc.Find("meta[property='al:android:url']").AttrOr("content", "")
		raw, ok := strings.CutPrefix(content, "fb://profile/")
		if !ok {
			return -1, false
		}
		return parseId(raw)
	},
	func(doc *goquery.Document) (int64, bool) {
		return idQueryParam(doc, "a[href*='add_friend.php']", "id")
	},
	func(doc *goquery.Document) (int64, bool) {
		return idQueryParam(doc, "a[href*='report.php']", "id")
	},
	func(doc *goquery.Document) (int64, bool) {
		return idQueryParam(doc, "a[href*='/mbasic/more/']", "owner_id")
	},
}

func idQueryParam(doc *goquery.Document, selector, param string) (int64, bool) {
	href, ok := doc.Find(selector).First().Attr("href")
	if !ok {
		return -1, false
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return -1, false
	}
	return parseId(parsed.Query().Get(param))
}

func parseId(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return -1, false
	}
	return id, true
}

func (r *Resolver) probeProfile(ctx context.Context, link string) (int64, error) {
	target := htmlutil.ResolveURL(r.client.BasicURL, link)
	if target == "" {
		return -1, ErrUnresolved
	}
	doc, _, err := r.client.GetDoc(ctx, target)
	if err != nil {
		return -1, err
	}
	for _, probe := range profileProbes {
		if id, ok := probe(doc); ok {
			return id, nil
		}
	}
	return -1, ErrUnresolved
}
