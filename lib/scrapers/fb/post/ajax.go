package post

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fbharvest-backend/lib/scrapers/fb/core"

	"github.com/PuerkitoBio/goquery"
)

// ajaxGuard prefixes every well-formed payload; a response without it
// is the throttling interstitial, not data.
const ajaxGuard = "for (;;);"

const (
	ajaxAttempts = 5
	ajaxBackoff  = time.Second
)

// ajaxAction is one DOM mutation order from an incremental-update
// payload. Cmd is "append" or "replace", Target the element id it
// applies to; Code carries script bodies for script-tagged actions.
type ajaxAction struct {
	Cmd    string `json:"cmd"`
	Target string `json:"target"`
	Html   string `json:"html"`
	Code   string `json:"code"`
}

type ajaxPayload struct {
	Payload struct {
		Actions []ajaxAction `json:"actions"`
	} `json:"payload"`
}

// scratchDoc replays incremental-update actions against a private
// in-memory document, the same way the original client's browser frame
// would have. Selectors are by element id only.
type scratchDoc struct {
	doc *goquery.Document
}

func newScratchDoc(seed string) (*scratchDoc, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(seed))
	if err != nil {
		return nil, err
	}
	return &scratchDoc{doc: doc}, nil
}

func (s *scratchDoc) find(id string) *goquery.Selection {
	return s.doc.Find(fmt.Sprintf("[id=%q]", id))
}

// apply mutates the scratch document. An action aimed at an element the
// document does not contain is dropped; returns whether the action
// changed anything.
func (s *scratchDoc) apply(action ajaxAction) bool {
	target := s.find(action.Target)
	if target.Length() == 0 {
		return false
	}
	switch action.Cmd {
	case "append":
		target.AppendHtml(action.Html)
	case "replace":
		target.ReplaceWithHtml(action.Html)
	default:
		return false
	}
	return true
}

// fetchAjax fetches an incremental-update endpoint and decodes its
// action list, retrying on the throttling interstitial. Exhausting the
// retries surfaces ErrRateLimited.
func fetchAjax(ctx context.Context, client *core.Client, target string) ([]ajaxAction, error) {
	var body string
	for attempt := 0; ; attempt++ {
		res, err := client.Http.R().SetContext(ctx).Get(target)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrTransport, err)
		}
		if res.IsError() {
			return nil, fmt.Errorf("%w: status %d", core.ErrTransport, res.StatusCode())
		}
		body = res.String()
		if strings.HasPrefix(body, ajaxGuard) {
			break
		}
		if attempt+1 >= ajaxAttempts {
			return nil, fmt.Errorf("incremental update endpoint: %w", ErrRateLimited)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ajaxBackoff):
		}
	}

	var payload ajaxPayload
	err := json.Unmarshal([]byte(strings.TrimPrefix(body, ajaxGuard)), &payload)
	if err != nil {
		return nil, fmt.Errorf("incremental update payload: %w", core.ErrMalformedPage)
	}
	return payload.Payload.Actions, nil
}
