package crawler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractPlayers(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		payload string
		want    []string
	}{
		{"strings in order", `{"players":["a","b"]}`, []string{"a", "b"}},
		{"empty list", `{"players":[]}`, []string{}},
		{"missing field", `{"name":"IT"}`, nil},
		{"not an array", `{"players":"a"}`, nil},
		{"null value", `{"players":null}`, []string{}},
		{"top level array", `["a","b"]`, nil},
		{"numbers use raw text", `{"players":[42,"x"]}`, []string{"42", "x"}},
		{"skips empty and null", `{"players":["", null, "hikaru"]}`, []string{"hikaru"}},
		{"player literally named null", `{"players":["null"]}`, []string{"null"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractPlayers(json.RawMessage(tc.payload))
			if tc.want == nil {
				require.Nil(t, got)
				return
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDecodePayload(t *testing.T) {
	t.Parallel()

	payload, err := DecodePayload([]byte("  {\"players\":[\"a\"]}\n"))
	require.NoError(t, err)
	require.JSONEq(t, `{"players":["a"]}`, string(payload))

	_, err = DecodePayload([]byte("<html>blocked</html>"))
	require.ErrorContains(t, err, "invalid json")

	_, err = DecodePayload(nil)
	require.ErrorContains(t, err, "empty body")
}

func TestPlayerStatsURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://api.chess.com/pub/player/a/stats", PlayerStatsURL("https://api.chess.com", "a"))
	require.Equal(t, "http://127.0.0.1:9/pub/player/b/stats", PlayerStatsURL("http://127.0.0.1:9/", "b"))
	require.Equal(t, "https://api.chess.com/pub/player/a%2Fb/stats", PlayerStatsURL(DefaultBaseURL, "a/b"))
}

func TestCountryPlayersURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://api.chess.com/pub/country/IT/players", CountryPlayersURL(DefaultBaseURL, "it"))
}
