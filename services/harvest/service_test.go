package harvest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"fbharvest-backend/lib/scrapers/fb/core"
	"fbharvest-backend/lib/scrapers/fb/uid"
	"fbharvest-backend/lib/sqliteutil"
	"fbharvest-backend/lib/telemetry"
	"fbharvest-backend/services/harvest/db"

	"github.com/stretchr/testify/require"
)

// harvestSite is a minimal but complete post: one comment by Alice
// mentioning Bob, one like by Dave, one share by Carol.
func harvestSite() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/story.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<div id="actions_111"><a href="#">Like</a></div>
			<div id="ufi_111"><div><div>
				<div id="100"><div>
					<h3><a href="/alice.handle">Alice</a></h3>
					<div>Great news <a href="/bob.handle">Bob</a></div>
					<div></div>
				</div></div>
			</div></div></div>
		</body></html>`)
	})
	mux.HandleFunc("/ufi/reaction/profile/browser/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/ufi/reaction/profile/browser/?ft_ent_identifier=111&total_count=1">All 1</a>
		</body></html>`)
	})
	mux.HandleFunc("/ufi/reaction/profile/browser/fetch/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `for (;;);{"payload":{"actions":[{"cmd":"append","target":"reaction_profile_browser",`+
			`"html":"<div><i class=\"_59aq img sp_LdwxfpG67Bn sx_3a00ef\"></i><div>`+
			`<a href=\"/dave.handle\"><i class=\"img profpic\"></i></a><strong>Dave</strong>`+
			`<a data-store='{\"id\":504}'>Add Friend</a></div></div>"},`+
			`{"cmd":"append","target":"reaction_profile_browser","html":""}]}}`)
	})
	mux.HandleFunc("/browse/shares", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<h3>People who shared this</h3>
			<div><div>
				<div><a href="/carol.handle">Carol</a>
					<a href="/a/mobile/friends/add_friend.php?id=300">Add Friend</a></div>
			</div></div>
		</body></html>`)
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
	return mux
}

func setupService(t *testing.T) (Service, *core.Client) {
	server := httptest.NewServer(harvestSite())
	t.Cleanup(server.Close)

	client, err := core.NewClient(context.Background(), core.ClientOptions{
		BasicHost:  server.URL,
		MobileHost: server.URL,
	})
	require.NoError(t, err)

	database, err := sqliteutil.OpenDB(db.Schema, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	uids := uid.NewResolver(uid.NewMemoryStore(), client)
	return NewService(database, uids), client
}

func TestScrape(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:harvest")
	defer cleanup()

	service, client := setupService(t)
	ctx := context.Background()

	result, err := service.Scrape(ctx, client, "/story.php?story_fbid=111&id=222", Options{
		ResolveMentions: true,
	})
	require.NoError(t, err)
	require.EqualValues(t, 111, result.Post.PostId)
	require.EqualValues(t, 222, result.Post.AuthorId)
	require.Len(t, result.Comments, 1)
	require.Len(t, result.Reactions, 1)
	require.Len(t, result.Shares, 1)

	stored, err := service.qry.GetPost(ctx, 111)
	require.NoError(t, err)
	require.EqualValues(t, 222, stored.AuthorId)
	require.NotZero(t, stored.CrawledAt)

	comments, err := service.qry.GetComments(ctx, 111)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	require.EqualValues(t, 100, comments[0].Id)
	require.EqualValues(t, 501, comments[0].AuthorId)
	require.Equal(t, "Great news Bob", comments[0].Body)

	mentions, err := service.qry.GetMentions(ctx, 111, 100)
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	require.Equal(t, "bob.handle", mentions[0].Handle)
	require.EqualValues(t, 502, mentions[0].UserId)

	reactions, err := service.qry.GetReactions(ctx, 111)
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	require.EqualValues(t, 504, reactions[0].UserId)
	require.Equal(t, "like", reactions[0].Kind)

	shares, err := service.qry.GetShares(ctx, 111)
	require.NoError(t, err)
	require.Len(t, shares, 1)
	require.EqualValues(t, 300, shares[0].UserId)
	require.Equal(t, "Carol", shares[0].UserName)
}

func TestScrapeIncremental(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:harvest")
	defer cleanup()

	service, client := setupService(t)
	ctx := context.Background()

	_, err := service.Scrape(ctx, client, "/story.php?story_fbid=111&id=222", Options{})
	require.NoError(t, err)

	// the second run sees nothing new but keeps the stored rows
	result, err := service.Scrape(ctx, client, "/story.php?story_fbid=111&id=222", Options{
		Incremental: true,
	})
	require.NoError(t, err)
	require.Empty(t, result.Comments)

	comments, err := service.qry.GetComments(ctx, 111)
	require.NoError(t, err)
	require.Len(t, comments, 1)
}

func TestScrapeProgressStages(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:harvest")
	defer cleanup()

	service, client := setupService(t)

	stages := map[string]bool{}
	_, err := service.Scrape(context.Background(), client,
		"/story.php?story_fbid=111&id=222", Options{
			Progress: func(stage string, percent float32) bool {
				stages[stage] = true
				return true
			},
		})
	require.NoError(t, err)
	require.True(t, stages["comments"])
	require.True(t, stages["reactions"])
	require.True(t, stages["shares"])
}
