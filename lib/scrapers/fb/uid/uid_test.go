package uid

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"fbharvest-backend/lib/scrapers/fb/core"
	"fbharvest-backend/lib/telemetry"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func TestHandle(t *testing.T) {
	testCases := []struct {
		link     string
		expected string
	}{
		{"/zuck", "zuck"},
		{"/Zuck/", "zuck"},
		{"/zuck?refid=17", "zuck"},
		{"https://mbasic.facebook.com/some.person", "some.person"},
		{"/profile.php?id=4", "id:4"},
		{"/profile.php", ""},
		{"/photo.php?fbid=10", ""},
		{"/groups/123456", ""},
		{"/login/", ""},
		{"", ""},
	}
	for _, test := range testCases {
		require.Equal(t, test.expected, Handle(test.link), "link %q", test.link)
	}
}

func setupResolver(t *testing.T, handler http.Handler) (*Resolver, *atomic.Int64) {
	requests := &atomic.Int64{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := core.NewClient(context.Background(), core.ClientOptions{
		BasicHost:  server.URL,
		MobileHost: server.URL,
	})
	require.NoError(t, err)
	return NewResolver(NewMemoryStore(), client), requests
}

func TestResolveProbes(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fb/uid")
	defer cleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("/friend.profile", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/a/mobile/friends/add_friend.php?id=555&origin=profile">Add Friend</a>
		</body></html>`)
	})
	mux.HandleFunc("/meta.profile", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head>
			<meta property="al:android:url" content="fb://profile/666">
		</head><body></body></html>`)
	})
	mux.HandleFunc("/reported.profile", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/nfx/basic/direct_actions/?context_item_type=profile&report.php&id=777">Report</a>
		</body></html>`)
	})
	mux.HandleFunc("/page.profile", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/mbasic/more/?owner_id=888">More</a>
		</body></html>`)
	})
	mux.HandleFunc("/bare.profile", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div>nothing to see</div></body></html>`)
	})

	resolver, _ := setupResolver(t, mux)
	ctx := context.Background()

	testCases := []struct {
		link     string
		expected int64
	}{
		{"/friend.profile", 555},
		{"/meta.profile", 666},
		{"/reported.profile", 777},
		{"/page.profile", 888},
	}
	for _, test := range testCases {
		id, err := resolver.Resolve(ctx, test.link)
		require.NoError(t, err, "link %q", test.link)
		require.Equal(t, test.expected, id, "link %q", test.link)
	}

	_, err := resolver.Resolve(ctx, "/bare.profile")
	require.ErrorIs(t, err, ErrUnresolved)

	_, err = resolver.Resolve(ctx, "")
	require.ErrorIs(t, err, ErrUnresolved)
}

func TestResolveCaching(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fb/uid")
	defer cleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("/cached.person", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/a/mobile/friends/add_friend.php?id=123">Add Friend</a>
		</body></html>`)
	})

	resolver, requests := setupResolver(t, mux)
	ctx := context.Background()

	id, err := resolver.Resolve(ctx, "/cached.person")
	require.NoError(t, err)
	require.EqualValues(t, 123, id)
	fetched := requests.Load()

	// variants of the same handle must all come out of the store
	for _, link := range []string{"/cached.person", "/Cached.Person/", "/cached.person?refid=8"} {
		id, err := resolver.Resolve(ctx, link)
		require.NoError(t, err)
		require.EqualValues(t, 123, id)
	}
	require.Equal(t, fetched, requests.Load())
}

func TestResolveNumericProfile(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fb/uid")
	defer cleanup()

	resolver, requests := setupResolver(t, http.NewServeMux())
	ctx := context.Background()

	// the id is embedded in the link, no fetch should happen
	id, err := resolver.Resolve(ctx, "/profile.php?id=424242")
	require.NoError(t, err)
	require.EqualValues(t, 424242, id)
	require.EqualValues(t, 0, requests.Load())

	// a self-profile link on a session with no account cannot resolve
	_, err = resolver.Resolve(ctx, "/profile.php")
	require.ErrorIs(t, err, ErrUnresolved)
}

func TestBadgerStore(t *testing.T) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	defer db.Close()

	store := NewBadgerStore(db)

	_, ok := store.Lookup("somebody")
	require.False(t, ok)

	store.Insert("somebody", 987654)
	id, ok := store.Lookup("somebody")
	require.True(t, ok)
	require.EqualValues(t, 987654, id)

	store.Insert("somebody", 42)
	id, ok = store.Lookup("somebody")
	require.True(t, ok)
	require.EqualValues(t, 42, id)
}
