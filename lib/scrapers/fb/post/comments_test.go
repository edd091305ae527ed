package post

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"

	"fbharvest-backend/lib/scrapers/fb/core"
	"fbharvest-backend/lib/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

// commentSite serves a two-page comment thread with one reply listing:
//
//	100 Alice   "Nice post" mentioning Bob     (2 replies)
//	101 Carol   photo attachment
//	102 Alice   deactivated-account mention, video attachment
//	103 Carol   link embed
//	200 Dave    reply to 100, sticker attachment
func commentSite() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/story.php", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("p") == "2" {
			io.WriteString(w, `<html><body><div id="ufi_111"><div><div>
				<div id="102"><div>
					<h3><a href="/alice.handle">Alice</a></h3>
					<div>Hey <a>Ghost User</a></div>
					<div><div><a href="/video_redirect/?src=https%3A%2F%2Fcdn.example%2Fv.mp4">Video</a></div></div>
				</div></div>
				<div id="103"><div>
					<h3><a href="/profile.php?id=300">Carol</a></h3>
					<div>check this out</div>
					<div><a href="https://lm.example.com/l.php?u=https%3A%2F%2Fexample.org"><h3>Example Site</h3></a></div>
				</div></div>
			</div></div></div></body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body><div id="ufi_111"><div><div>
			<div id="100"><div>
				<h3><a href="/alice.handle">Alice</a></h3>
				<div>Nice post <a href="/bob.handle">Bob</a></div>
				<div></div>
				<div id="comment_replies_100"><div><a href="/comment/replies/?ctoken=111_100">2 replies</a></div></div>
			</div></div>
			<div id="101"><div>
				<h3><a href="/profile.php?id=300">Carol</a></h3>
				<div></div>
				<div><div><a href="/photo.php?fbid=9&amp;id=222">Photo</a></div></div>
			</div></div>
			<div id="see_next_111"><a href="/story.php?story_fbid=111&amp;id=222&amp;p=2">See more</a></div>
		</div></div></div></body></html>`)
	})
	mux.HandleFunc("/comment/replies/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="ufi_111"><div><div>
			<div id="100"><div>
				<h3><a href="/alice.handle">Alice</a></h3>
				<div>Nice post <a href="/bob.handle">Bob</a></div>
				<div></div>
			</div></div>
			<div>
				<div id="200"><div>
					<h3><a href="/dave.handle">Dave</a></h3>
					<div>so true</div>
					<div><img src="https://static.example/sticker.png"></div>
				</div></div>
			</div>
		</div></div></div></body></html>`)
	})
	addProfile := func(path string, id int64) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `<html><body>
				<a href="/a/mobile/friends/add_friend.php?id=%d">Add Friend</a>
			</body></html>`, id)
		})
	}
	addProfile("/alice.handle", 501)
	addProfile("/bob.handle", 502)
	addProfile("/dave.handle", 504)
	return mux
}

func commentTestPost(t *testing.T) *Post {
	client, uids := setupHarness(t, commentSite())
	return &Post{
		Anchor: Anchor{PostId: 111, AuthorId: 222},
		client: client,
		uids:   uids,
	}
}

func TestComments(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fb/post")
	defer cleanup()

	p := commentTestPost(t)
	comments, err := p.Comments(context.Background(), CommentOptions{ResolveMentions: true})
	require.NoError(t, err)

	expected := map[int64]*Comment{
		100: {
			Id: 100, ParentId: -1, AuthorId: 501, AuthorName: "Alice",
			Text:     "Nice post Bob",
			Mentions: []Mention{{Handle: "bob.handle", UserId: 502}},
			Media:    Media{Kind: MediaNone},
		},
		101: {
			Id: 101, ParentId: -1, AuthorId: 300, AuthorName: "Carol",
			Media: Media{Kind: MediaImage, URL: p.client.BasicURL.String() + "/photo.php?fbid=9&id=222"},
		},
		102: {
			Id: 102, ParentId: -1, AuthorId: 501, AuthorName: "Alice",
			Text:     "Hey Ghost User",
			Mentions: []Mention{{Handle: "Ghost User (-10)", UserId: -10}},
			Media: Media{
				Kind: MediaVideo,
				URL:  p.client.BasicURL.String() + "/video_redirect/?src=https%3A%2F%2Fcdn.example%2Fv.mp4",
			},
		},
		103: {
			Id: 103, ParentId: -1, AuthorId: 300, AuthorName: "Carol",
			Text: "check this out",
			Media: Media{
				Kind:  MediaEmbed,
				URL:   "https://lm.example.com/l.php?u=https%3A%2F%2Fexample.org",
				Title: "Example Site",
			},
		},
		200: {
			Id: 200, ParentId: 100, AuthorId: 504, AuthorName: "Dave",
			Text:  "so true",
			Media: Media{Kind: MediaSticker, URL: "https://static.example/sticker.png"},
		},
	}

	diff := cmp.Diff(expected, comments, cmpopts.IgnoreFields(Comment{}, "TextHtml"))
	require.Empty(t, diff)
}

func TestCommentsParentFirstAssignmentWins(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fb/post")
	defer cleanup()

	p := commentTestPost(t)
	comments, err := p.Comments(context.Background(), CommentOptions{})
	require.NoError(t, err)

	// comment 100 shows up on the reply page too, above its own
	// replies; it must stay a top-level comment
	require.EqualValues(t, -1, comments[100].ParentId)
	require.EqualValues(t, 100, comments[200].ParentId)
}

func TestCommentsKnownSkipped(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fb/post")
	defer cleanup()

	p := commentTestPost(t)
	comments, err := p.Comments(context.Background(), CommentOptions{
		Known: []int64{100, 101, 102, 103, 200},
	})
	require.NoError(t, err)
	require.Empty(t, comments)
}

func TestCommentsSecondPass(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fb/post")
	defer cleanup()

	p := commentTestPost(t)
	anonymous, err := core.NewClient(context.Background(), core.ClientOptions{
		BasicHost:  p.client.BasicURL.String(),
		MobileHost: p.client.MobileURL.String(),
	})
	require.NoError(t, err)

	comments, err := p.Comments(context.Background(), CommentOptions{
		Passes:    2,
		Anonymous: anonymous,
	})
	require.NoError(t, err)
	require.Len(t, comments, 5)
	require.EqualValues(t, 100, comments[200].ParentId)
}

// a permalink that lands mid-thread only renders "view previous
// comments"; the crawl must keep walking backward across every older
// page, even when a later page renders the forward control too
func TestCommentsBackwardPaging(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fb/post")
	defer cleanup()

	row := func(id int64, name string, authorId int64, text string) string {
		return fmt.Sprintf(`<div id="%d"><div>
			<h3><a href="/profile.php?id=%d">%s</a></h3>
			<div>%s</div>
			<div></div>
		</div></div>`, id, authorId, name, text)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/story.php", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("p") {
		case "1":
			// both controls render here; forward leads to an empty page
			fmt.Fprintf(w, `<html><body><div id="ufi_111"><div><div>
				%s
				<div id="see_next_111"><a href="/story.php?story_fbid=111&amp;id=222&amp;p=3">See more</a></div>
				<div id="see_prev_111"><a href="/story.php?story_fbid=111&amp;id=222&amp;p=2">See previous</a></div>
			</div></div></div></body></html>`,
				row(99, "Bea", 601, "earlier"))
		case "2":
			fmt.Fprintf(w, `<html><body><div id="ufi_111"><div><div>
				%s
			</div></div></div></body></html>`,
				row(98, "Cal", 602, "earliest"))
		case "3":
			io.WriteString(w, `<html><body><div id="ufi_111"><div><div></div></div></div></body></html>`)
		default:
			fmt.Fprintf(w, `<html><body><div id="ufi_111"><div><div>
				%s
				<div id="see_prev_111"><a href="/story.php?story_fbid=111&amp;id=222&amp;p=1">See previous</a></div>
			</div></div></div></body></html>`,
				row(100, "Abe", 600, "latest"))
		}
	})
	client, uids := setupHarness(t, mux)
	p := &Post{Anchor: Anchor{PostId: 111, AuthorId: 222}, client: client, uids: uids}

	comments, err := p.Comments(context.Background(), CommentOptions{})
	require.NoError(t, err)
	require.Len(t, comments, 3)
	require.Contains(t, comments, int64(98))
	require.EqualValues(t, "earliest", comments[98].Text)
}

func TestCommentsCancellation(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fb/post")
	defer cleanup()

	p := commentTestPost(t)
	calls := 0
	comments, err := p.Comments(context.Background(), CommentOptions{
		Progress: func(percent float32) bool {
			calls++
			return calls < 2
		},
	})
	require.ErrorIs(t, err, ErrCancelled)
	require.Nil(t, comments)
}

func TestCommentsProgressReaches100(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fb/post")
	defer cleanup()

	p := commentTestPost(t)
	var last float32
	_, err := p.Comments(context.Background(), CommentOptions{
		Progress: func(percent float32) bool {
			last = percent
			return true
		},
	})
	require.NoError(t, err)
	require.EqualValues(t, 100, last)
}

// a progress callback attached to a run with a uid.Resolver that misses
// everything must still finish; unresolvable comment authors come back
// as -1 rather than failing the crawl
func TestCommentsUnresolvableAuthor(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fb/post")
	defer cleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("/story.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="ufi_111"><div><div>
			<div id="100"><div>
				<h3><a href="/gone.person">Gone Person</a></h3>
				<div>still here</div>
				<div></div>
			</div></div>
		</div></div></div></body></html>`)
	})
	mux.HandleFunc("/gone.person", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div>profile unavailable</div></body></html>`)
	})
	client, uids := setupHarness(t, mux)
	p := &Post{Anchor: Anchor{PostId: 111, AuthorId: 222}, client: client, uids: uids}

	comments, err := p.Comments(context.Background(), CommentOptions{})
	require.NoError(t, err)
	require.Len(t, comments, 1)
	require.EqualValues(t, -1, comments[100].AuthorId)
	require.Equal(t, "Gone Person", comments[100].AuthorName)
}
