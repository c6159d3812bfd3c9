package roomkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "issue", path: "/acme/widget/issues/42", want: "acme/widget-42"},
		{name: "issue trailing slash", path: "/acme/widget/issues/42/", want: "acme/widget-42"},
		{name: "issue sub-thread", path: "/acme/widget/issues/42/comments", want: "acme/widget-42"},
		{name: "pull request", path: "/acme/widget/pull/42/files", want: "acme/widget-42"},
		{name: "issue list", path: "/acme/widget/issues", want: "acme/widget"},
		{name: "repository", path: "/acme/widget", want: "acme/widget"},
		{name: "repository shares key with issue", path: "/acme/widget-42", want: "acme/widget-42"},
		{name: "query and fragment", path: "/acme/widget/issues/42?x=1#top", want: "acme/widget-42"},
		{name: "duplicate slashes", path: "//acme//widget/issues//42", want: "acme/widget-42"},
		{name: "root", path: "/", want: Placeholder},
		{name: "empty", path: "", want: Placeholder},
		{name: "marker first", path: "/issues/42", want: "issues/42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, FromPath(tt.path))
		})
	}
}

func TestFromPathDocumentKeyDiffersFromIssueKey(t *testing.T) {
	repo := FromPath("/acme/widget")
	for _, p := range []string{"/acme/widget/issues/1", "/acme/widget/issues/42", "/acme/widget/pull/7"} {
		require.NotEqual(t, repo, FromPath(p), p)
	}
}

func TestFromURL(t *testing.T) {
	require.Equal(t, "acme/widget-42", FromURL("https://github.com/acme/widget/issues/42"))
	require.Equal(t, "acme/widget-42", FromURL("/acme/widget/issues/42/"))
	require.Equal(t, FromPath("%zz/acme"), FromURL("%zz/acme"))
	require.Equal(t, "https://github.com", FromURL(" https://github.com "))
	require.Equal(t, Placeholder, FromURL(""))
}

func TestFromURLKeepsPathlessInputsDistinct(t *testing.T) {
	inputs := []string{"urn:issue:1", "urn:issue:2", "a:b", "https://github.com", "https://gitlab.com", "/"}
	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		key := FromURL(in)
		require.NotEqual(t, Placeholder, key, in)
		if prev, ok := seen[key]; ok {
			t.Fatalf("%q and %q share key %q", prev, in, key)
		}
		seen[key] = in
	}
	require.Equal(t, "urn:issue:1", FromURL("urn:issue:1"))
}

func TestScoped(t *testing.T) {
	require.Equal(t, "org1:acme/widget-42", Scoped("org1", "acme/widget-42"))
	require.Equal(t, "acme/widget-42", Scoped("  ", "acme/widget-42"))
	require.NotEqual(t, Scoped("org1", "k"), Scoped("org2", "k"))
}
