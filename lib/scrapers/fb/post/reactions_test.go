package post

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"fbharvest-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func writeAjax(w http.ResponseWriter, actions []ajaxAction) {
	payload := map[string]any{"payload": map[string]any{"actions": actions}}
	blob, _ := json.Marshal(payload)
	fmt.Fprint(w, ajaxGuard+string(blob))
}

const likeClass = "_59aq img sp_LdwxfpG67Bn sx_3a00ef"
const hahaClass = "_59aq img sp_LdwxfpG67Bn sx_ce3068"
const angryClass = "_59aq img sp_LdwxfpG67Bn sx_199220"
const wowClass = "_59aq img sp_LdwxfpG67Bn sx_d80e3a"
const sadClass = "_59aq img sp_LdwxfpG67Bn sx_c3ed6c"

// the style-encoded love sprite, named by its stable hash token
const loveStyle = "background-image: url('https\\3a //scontent.xx.fbcdn.net/m1/v/t6/" +
	"An-SJYN61eefFdoaV8pa0G_5_APCa0prZaqkZGXpCFeUCLCg.png?oh=x&oe=y');" +
	"background-repeat:no-repeat;width:16px;height:16px;"

func reactionRow(iconAttrs, profileHref, name, extra string) string {
	return fmt.Sprintf(`<div><i %s></i><div><a href=%q><i class="img profpic"></i></a><strong>%s</strong>%s</div></div>`,
		iconAttrs, profileHref, name, extra)
}

// reactionSite serves a 2-page reaction listing exercising every
// identity chain: the pager's leaked id list, the message-button
// script table, the three data-store buttons, and the profile-page
// fallback.
func reactionSite() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ufi/reaction/profile/browser/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/ufi/reaction/profile/browser/?ft_ent_identifier=111&total_count=6">All 6</a>
		</body></html>`)
	})

	page2 := "/ufi/reaction/profile/browser/fetch/?ft_ent_identifier=111&limit=50&total_count=6&shown_ids=55,56"
	pager := func(href string) string {
		return fmt.Sprintf(`<div id="reaction_profile_pager"><a href=%q data-ajaxify-href=%q></a></div>`, href, href)
	}
	mux.HandleFunc("/ufi/reaction/profile/browser/fetch/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("shown_ids") == "" {
			writeAjax(w, []ajaxAction{
				{
					Cmd:    "append",
					Target: browserElemId,
					Html: reactionRow(`class="`+likeClass+`"`, "/alice.handle", "Alice", "") +
						reactionRow(`class="img _59aq img _2sxw" style="`+loveStyle+`"`, "/bob.handle", "Bob", ""),
				},
				{
					Cmd:  "script",
					Code: `onload_handler.handle({"elements":[["__elem_0","u_0_3"]],"instances":[[0,["i","__elem_0"],["i",55]]]});`,
				},
				{Cmd: "replace", Target: pagerElemId, Html: pager(page2)},
			})
			return
		}
		writeAjax(w, []ajaxAction{
			{
				Cmd:    "append",
				Target: browserElemId,
				Html: reactionRow(`class="`+hahaClass+`"`, "/carol.handle", "Carol",
					`<div data-store='{"subject_id":57}'>Follow</div>`) +
					reactionRow(`class="`+angryClass+`"`, "/alice.handle", "Alice",
						`<div data-sigil="m-message-button" id="u_0_3">Message</div>`) +
					reactionRow(`class="`+wowClass+`"`, "/dave.handle", "Dave",
						`<a data-store='{"id":58}'>Add Friend</a>`) +
					reactionRow(`class="`+sadClass+`"`, "/eve.handle", "Eve", "") +
					reactionRow(`class="mystery-sprite"`, "/frank.handle", "Frank", ""),
			},
			// same pager target again signals there is nothing further
			{Cmd: "replace", Target: pagerElemId, Html: pager(page2)},
		})
	})
	mux.HandleFunc("/eve.handle", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/a/mobile/friends/add_friend.php?id=59">Add Friend</a>
		</body></html>`)
	})
	return mux
}

func TestReactions(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fb/post")
	defer cleanup()

	client, uids := setupHarness(t, reactionSite())
	p := &Post{Anchor: Anchor{PostId: 111, AuthorId: 222}, client: client, uids: uids}

	reactions, err := p.Reactions(context.Background(), nil)
	require.NoError(t, err)

	expected := map[int64]Reaction{
		// Alice reacted again on a later page, the second row wins
		55: {UserId: 55, UserName: "Alice", Kind: ReactionAngry},
		56: {UserId: 56, UserName: "Bob", Kind: ReactionLove},
		57: {UserId: 57, UserName: "Carol", Kind: ReactionHaha},
		58: {UserId: 58, UserName: "Dave", Kind: ReactionWow},
		59: {UserId: 59, UserName: "Eve", Kind: ReactionSad},
	}
	require.Equal(t, expected, reactions)
}

func TestReactionsEmpty(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fb/post")
	defer cleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("/ufi/reaction/profile/browser/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/ufi/reaction/profile/browser/?ft_ent_identifier=111&total_count=0">All</a>
		</body></html>`)
	})
	mux.HandleFunc("/ufi/reaction/profile/browser/fetch/", func(w http.ResponseWriter, r *http.Request) {
		writeAjax(w, []ajaxAction{{Cmd: "append", Target: browserElemId, Html: ""}})
	})
	client, uids := setupHarness(t, mux)
	p := &Post{Anchor: Anchor{PostId: 111, AuthorId: 222}, client: client, uids: uids}

	reactions, err := p.Reactions(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, reactions)
}

func TestReactionsTotalRateLimited(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fb/post")
	defer cleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("/ufi/reaction/profile/browser/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div>Please slow down.</div></body></html>`)
	})
	client, uids := setupHarness(t, mux)
	p := &Post{Anchor: Anchor{PostId: 111, AuthorId: 222}, client: client, uids: uids}

	_, err := p.Reactions(context.Background(), nil)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestReactionsCancellation(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fb/post")
	defer cleanup()

	client, uids := setupHarness(t, reactionSite())
	p := &Post{Anchor: Anchor{PostId: 111, AuthorId: 222}, client: client, uids: uids}

	reactions, err := p.Reactions(context.Background(), func(percent float32) bool {
		return false
	})
	require.ErrorIs(t, err, ErrCancelled)
	require.Nil(t, reactions)
}
