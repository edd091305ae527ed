package post

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fbharvest-backend/lib/htmlutil"
	"fbharvest-backend/lib/scrapers/fb/uid"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	totalProbeAttempts = 5
	totalProbeBackoff  = 500 * time.Millisecond
	reactionPageSize   = 50
)

const (
	browserElemId = "reaction_profile_browser"
	pagerElemId   = "reaction_profile_pager"
)

// scratchSeed mirrors the two containers the site's own frontend keeps
// for the reaction list; incremental updates address them by id.
const scratchSeed = "<div id='" + browserElemId + "'></div>" +
	"<div id='" + pagerElemId + "'><a></a></div>"

// styleKinds keys each reaction sprite by the stable hash token inside
// its background-image URL. The URL's signing parameters rotate, the
// token does not.
var styleKinds = map[string]ReactionKind{
	"An_UvxJXg9tdnLU3Y5qjPi0200": ReactionLike,
	"An-SJYN61eefFdoaV8pa0G_5":   ReactionLove,
	"An_F9bJG7govfshSMBkvcRLcxT": ReactionHaha,
	"An_0KlxkBZwTJgSV9p2pDQkaZ":  ReactionWow,
	"An-9fyYLftTy_Mg2cJpugh":     ReactionCare,
	"An-0mG6nK_Uk-eBw_Z5hXaQPl":  ReactionSad,
	"An-OzaYGRs8HJMUUdL-Q9pzzUe": ReactionAngry,
	"W_Vdj9wA1g9":                ReactionPride,
	"ZXxRcAexGpd":                ReactionThankful,
}

// styleMarker is the icon class that signals a style-encoded sprite;
// every other icon carries the kind in its class list.
const styleMarker = "img _59aq img _2sxw"

var classKinds = map[string]ReactionKind{
	"_59aq img sp_LdwxfpG67Bn sx_3a00ef": ReactionLike,
	"_59aq img sp_LdwxfpG67Bn sx_f21116": ReactionLove,
	"_59aq img sp_LdwxfpG67Bn sx_ce3068": ReactionHaha,
	"_59aq img sp_LdwxfpG67Bn sx_d80e3a": ReactionWow,
	"_59aq img sp_LdwxfpG67Bn sx_d8e63d": ReactionCare,
	"_59aq img sp_LdwxfpG67Bn sx_c3ed6c": ReactionSad,
	"_59aq img sp_LdwxfpG67Bn sx_199220": ReactionAngry,
}

// Reactions harvests every reaction on the post into a map keyed by
// user id. A user appearing on a later page overwrites their earlier
// entry, so a reaction changed mid-crawl keeps its latest value.
// Returns ErrCancelled with a nil map when the progress callback
// aborts, and ErrRateLimited when the listing endpoint keeps serving
// the throttling interstitial.
func (p *Post) Reactions(ctx context.Context, progress Progress) (map[int64]Reaction, error) {
	ctx, span := tracer.Start(ctx, "Reactions")
	defer span.End()
	span.SetAttributes(attribute.Int64("post_id", p.PostId))

	total, err := p.reactionTotal(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read reaction total")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("total", total))

	scratch, err := newScratchDoc(scratchSeed)
	if err != nil {
		return nil, err
	}

	// shownUsers accumulates the ordered per-row ids the pager link
	// leaks; msgUsers maps a message-button element id to its owner.
	var shownUsers []int64
	msgUsers := map[string]int64{}

	target := fmt.Sprintf("%s/ufi/reaction/profile/browser/fetch/?ft_ent_identifier=%d&limit=%d&total_count=%d",
		p.client.MobileURL, p.PostId, reactionPageSize, total)
	prevShown := "---"
	for {
		actions, err := fetchAjax(ctx, p.client, target)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reaction page fetch failed")
			return nil, err
		}
		done := false
		for _, action := range actions {
			switch action.Cmd {
			case "script":
				mergeMessageOwners(msgUsers, action.Code)
			case "append":
				if action.Target == browserElemId && action.Html == "" {
					done = true
				}
				scratch.apply(action)
			default:
				scratch.apply(action)
			}
		}
		if done {
			break
		}

		pager := scratch.find(pagerElemId).Find("a").First()
		ajaxHref, ok := pager.Attr("data-ajaxify-href")
		if !ok {
			break
		}
		href, ok := pager.Attr("href")
		if !ok {
			break
		}
		next := htmlutil.ResolveURL(p.client.MobileURL, href)
		if next == target {
			break
		}
		target = next

		shown := shownIdsParam(ajaxHref)
		for _, raw := range strings.Split(strings.Replace(shown, prevShown, "", 1), ",") {
			if raw == "" {
				continue
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			shownUsers = append(shownUsers, id)
		}
		prevShown = "," + shown
	}

	reactions := make(map[int64]Reaction)
	rows := scratch.find(browserElemId).ChildrenFiltered("div")
	if progress != nil && !progress(0) {
		return nil, ErrCancelled
	}
	var rowErr error
	n := 0
	rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
		index := n
		n++
		reaction, ok := p.extractReaction(ctx, row, index, shownUsers, msgUsers)
		if ok {
			reactions[reaction.UserId] = reaction
		}
		if progress != nil && !progress(100*float32(n)/float32(rows.Length())) {
			rowErr = ErrCancelled
			return false
		}
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}

	span.SetAttributes(attribute.Int("reactions", len(reactions)))
	return reactions, nil
}

// reactionTotal reads the full reaction count off the listing page; the
// count is needed as a fetch parameter before the first page loads. The
// av parameter carries the session's own id the way the real frontend
// sends it.
func (p *Post) reactionTotal(ctx context.Context) (int64, error) {
	target := fmt.Sprintf("%s/ufi/reaction/profile/browser/?ft_ent_identifier=%d&av=%d",
		p.client.BasicURL, p.PostId, p.client.SessionUserId())
	for attempt := 0; attempt < totalProbeAttempts; attempt++ {
		doc, _, err := p.client.GetDoc(ctx, target)
		if err != nil {
			return -1, err
		}
		if href, ok := doc.Find("a[href*='total_count']").First().Attr("href"); ok {
			resolved, err := url.Parse(htmlutil.ResolveURL(p.client.BasicURL, href))
			if err == nil {
				if total, err := strconv.ParseInt(resolved.Query().Get("total_count"), 10, 64); err == nil {
					return total, nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(totalProbeBackoff):
		}
	}
	return -1, fmt.Errorf("reaction total: %w", ErrRateLimited)
}

// mergeMessageOwners digs user ids out of an onload script action. The
// script calls a handler with a JSON blob whose elements table binds
// internal element names to DOM ids and whose instances bind those
// names to the ids of users with a message button.
func mergeMessageOwners(owners map[string]int64, code string) {
	start := strings.LastIndex(code, "handle(")
	if start < 0 {
		return
	}
	blob := strings.TrimSuffix(strings.TrimSpace(code[start+len("handle("):]), ";")
	blob = strings.TrimSuffix(blob, ")")

	var payload struct {
		Elements  [][]any `json:"elements"`
		Instances [][]any `json:"instances"`
	}
	if err := json.Unmarshal([]byte(blob), &payload); err != nil {
		return
	}

	names := map[string]string{}
	for _, elem := range payload.Elements {
		if len(elem) < 2 {
			continue
		}
		name, ok := elem[0].(string)
		if !ok {
			continue
		}
		domId, ok := elem[1].(string)
		if !ok {
			continue
		}
		names[name] = domId
	}

	for _, inst := range payload.Instances {
		if len(inst) < 3 {
			continue
		}
		ref, ok := inst[1].([]any)
		if !ok || len(ref) != 2 {
			continue
		}
		args, ok := inst[2].([]any)
		if !ok || len(args) != 2 {
			continue
		}
		name, ok := ref[1].(string)
		if !ok || !strings.HasPrefix(name, "__elem_") {
			continue
		}
		domId, ok := names[name]
		if !ok {
			continue
		}
		ownerId, ok := args[1].(float64)
		if !ok {
			continue
		}
		if _, exists := owners[domId]; !exists {
			owners[domId] = int64(ownerId)
		}
	}
}

// shownIdsParam extracts the shown_ids query value from the pager's
// ajaxify href, whose query hangs off the last path segment.
func shownIdsParam(ajaxHref string) string {
	last := ajaxHref
	if idx := strings.LastIndex(ajaxHref, "/"); idx >= 0 {
		last = ajaxHref[idx+1:]
	}
	query := last
	if idx := strings.Index(last, "?"); idx >= 0 {
		query = last[idx+1:]
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return ""
	}
	return values.Get("shown_ids")
}

// extractReaction resolves one reaction row's identity and kind. A row
// whose identity or kind cannot be determined is dropped; the row index
// into the shown-ids list advances regardless.
func (p *Post) extractReaction(ctx context.Context, row *goquery.Selection, index int, shownUsers []int64, msgUsers map[string]int64) (Reaction, bool) {
	link := row.Find("i[class*='profpic']").First().Parent().AttrOr("href", "")

	userId := int64(-1)
	if index < len(shownUsers) {
		userId = shownUsers[index]
	}
	if userId < 0 {
		row.Find("div[data-sigil^='m-'][id]").EachWithBreak(func(_ int, div *goquery.Selection) bool {
			id := div.AttrOr("id", "")
			if id == "" {
				return true
			}
			owner, ok := msgUsers[id]
			if !ok {
				return true
			}
			userId = owner
			return false
		})
	}
	if userId < 0 {
		userId = dataStoreId(row, "a[data-store*='id']", "id")
	}
	if userId < 0 {
		userId = dataStoreId(row, "div[data-store*='subject_id']", "subject_id")
	}
	if userId < 0 {
		userId = dataStoreId(row, "div[data-store*='pageID']", "pageID")
	}
	if userId < 0 {
		resolved, err := p.uids.Resolve(ctx, link)
		if err != nil {
			return Reaction{}, false
		}
		userId = resolved
	} else if handle := uid.Handle(link); handle != "" {
		p.uids.Store().Insert(handle, userId)
	}

	icon := row.ChildrenFiltered("i").First()
	kind, ok := reactionKind(icon)
	if !ok {
		return Reaction{}, false
	}

	return Reaction{
		UserId:   userId,
		UserName: htmlutil.CleanText(row.Find("strong").First().Text()),
		Kind:     kind,
	}, true
}

func dataStoreId(row *goquery.Selection, selector, field string) int64 {
	raw, ok := row.Find(selector).First().Attr("data-store")
	if !ok {
		return -1
	}
	var blob map[string]any
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return -1
	}
	id, ok := coerceId(blob[field])
	if !ok {
		return -1
	}
	return id
}

func reactionKind(icon *goquery.Selection) (ReactionKind, bool) {
	class := icon.AttrOr("class", "")
	if class == styleMarker {
		style := icon.AttrOr("style", "")
		for token, kind := range styleKinds {
			if strings.Contains(style, token) {
				return kind, true
			}
		}
		return 0, false
	}
	kind, ok := classKinds[class]
	return kind, ok
}
