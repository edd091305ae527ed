package htmlutil

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestFormValues(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<form id="login_form" action="/login/device-based/regular/login/">
			<input type="hidden" name="lsd" value="AVqwkZ0r" />
			<input type="hidden" name="jazoest" value="2688" />
			<input type="text" name="email" />
			<input type="hidden" value="orphan" />
			<input type="submit" name="login" value="Log In" />
		</form>
	`))
	require.NoError(t, err)

	values := FormValues(doc.Find("#login_form input"))
	require.Equal(t, "AVqwkZ0r", values.Get("lsd"))
	require.Equal(t, "2688", values.Get("jazoest"))
	require.Equal(t, "Log In", values.Get("login"))
	require.Equal(t, "", values.Get("email"))
	// the nameless input must not produce a key
	require.Len(t, values, 4)
}

func TestResolveURL(t *testing.T) {
	base, err := url.Parse("https://mbasic.example.com/story.php?id=1")
	require.NoError(t, err)

	require.Equal(t,
		"https://mbasic.example.com/comment/replies/?ctoken=1_2",
		ResolveURL(base, "/comment/replies/?ctoken=1_2"),
	)
	require.Equal(t,
		"https://other.example.com/p",
		ResolveURL(base, "https://other.example.com/p"),
	)
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "Jane Q Doe", CleanText("  Jane \n  Q\t\tDoe "))
	// wrapped markup separates words with nothing but tabs and newlines
	require.Equal(t, "Jane Q Doe", CleanText("Jane\nQ\t\tDoe"))
	require.Equal(t, "Jane Doe", CleanText("\n\tJane Doe\n"))
}
