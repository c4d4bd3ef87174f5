package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestText(t *testing.T) {
	l := New()

	tests := []struct {
		locale string
		key    string
		args   []any
		want   string
	}{
		{"en", DeathCount, []any{3}, "Deaths: 3"},
		{"", DeathCount, []any{0}, "Deaths: 0"},
		{"de", DeathCount, []any{7}, "Todesfälle: 7"},
		{"de-DE", YourDeaths, []any{2}, "Du bist 2 mal gestorben."},
		{"fr", YourDeaths, []any{2}, "You have died 2 times."},
		{"not a locale!", NoDeaths, nil, "No deaths recorded yet."},
		{"en", TopDeathsEntry, []any{1, "alice", 9}, "1. alice: 9 deaths"},
		{"de", DeathsResetTarget, []any{"bob"}, "Todesfälle für bob wurden zurückgesetzt."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.Text(tt.locale, tt.key, tt.args...), "%s/%s", tt.locale, tt.key)
	}
}

func TestGermanFallsBackToEnglish(t *testing.T) {
	l := New()
	assert.Equal(t, "=== DeathCounter Status ===", l.Text("de", StatusHeader))
}

func TestEveryKeyTranslated(t *testing.T) {
	l := New()
	for _, key := range Keys() {
		assert.NotEqual(t, key, l.Text("en", key), "key %s renders as itself", key)
	}
	for key := range german {
		_, ok := english[key]
		assert.True(t, ok, "german key %s has no english text", key)
	}
}

func TestBundledCatalogsCompile(t *testing.T) {
	assert.NotPanics(t, func() { New() })
}

func TestBuildRejectsBadMessage(t *testing.T) {
	_, err := build(map[language.Tag]map[string]string{
		language.English: {"Broken": "Hello ${undefined}"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Broken")
}
