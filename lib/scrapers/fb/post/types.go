package post

import "fmt"

var (
	// every fallback strategy for the post or author id missed; the
	// anchor is left empty and nothing else may run against it
	ErrIdentityUnresolved = fmt.Errorf("could not resolve the post and author ids")
	// the caller's progress callback asked to stop; the crawl returns no
	// result at all, never a partial one
	ErrCancelled = fmt.Errorf("crawl cancelled by caller")
	// a bounded-retry probe (reaction total count, AJAX envelope) ran
	// out of attempts; the endpoint is likely rate limiting us
	ErrRateLimited = fmt.Errorf("probe exhausted its retries, possibly rate limited")
)

// Anchor identifies a post once its ids are resolved. Both ids are
// non-negative on a resolved anchor; resolution fails atomically, a
// half-populated anchor never escapes Locate.
type Anchor struct {
	PostId    int64
	AuthorId  int64
	GroupPost bool
}

// placeholderBase is the first synthetic id handed to a mention whose
// account link no longer resolves; later placeholders count downward.
const placeholderBase = -10

type MediaKind int

const (
	MediaNone MediaKind = iota
	MediaImage
	MediaVideo
	MediaSticker
	MediaEmbed
)

// Media is a comment's attachment, first match wins during extraction.
// Title is only set for MediaEmbed.
type Media struct {
	Kind  MediaKind
	URL   string
	Title string
}

// Mention is one account referenced in a comment body, in document
// order. UserId is negative for placeholder mentions (the markup carried
// no profile link, so the account cannot be identified; the synthetic id
// keeps list cardinality right and can never collide with a real id) and
// zero when resolution was not requested.
type Mention struct {
	Handle string
	UserId int64
}

// Comment ids are unique within a post. ParentId is -1 for top-level
// comments and is assigned at most once: the first observed parent wins,
// even across crawl passes.
type Comment struct {
	Id         int64
	ParentId   int64
	AuthorId   int64
	AuthorName string
	Text       string
	TextHtml   string
	Mentions   []Mention
	Media      Media
}

type ReactionKind int

const (
	ReactionLike ReactionKind = iota
	ReactionLove
	ReactionHaha
	ReactionWow
	ReactionCare
	ReactionSad
	ReactionAngry
	ReactionPride
	ReactionThankful
)

func (k ReactionKind) String() string {
	switch k {
	case ReactionLike:
		return "like"
	case ReactionLove:
		return "love"
	case ReactionHaha:
		return "haha"
	case ReactionWow:
		return "wow"
	case ReactionCare:
		return "care"
	case ReactionSad:
		return "sad"
	case ReactionAngry:
		return "angry"
	case ReactionPride:
		return "pride"
	case ReactionThankful:
		return "thankful"
	}
	return "unknown"
}

// Reaction is keyed by user; a row seen on a later page replaces the
// earlier one, because a user's reaction can change mid-crawl.
type Reaction struct {
	UserId   int64
	UserName string
	Kind     ReactionKind
}

// Progress receives an approximate completion percentage at crawl start
// and at least once per processed item. Returning false cancels the
// crawl: in-flight requests finish but nothing further is fetched and
// the crawl yields no result. The percentage is a liveness signal, not a
// monotonic ratio; a later page can grow the denominator.
type Progress func(percent float32) bool

type progressTracker struct {
	cb        Progress
	processed int
	seen      int
	pass      int
	passes    int
}

func (t *progressTracker) report() bool {
	if t.cb == nil {
		return true
	}
	frac := float32(0)
	if t.seen > 0 {
		frac = float32(t.processed) / float32(t.seen)
	}
	return t.cb(100 / float32(t.passes) * (frac + float32(t.pass)))
}
