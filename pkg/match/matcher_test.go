package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidPattern(t *testing.T) {
	_, err := New(Config{Includes: []string{"data/[abc"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPattern))

	var pe *PatternError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "data/[abc", pe.Pattern)

	_, err = New(Config{Excludes: []string{"{a,b"}})
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestMatcher_Match(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		rel  string
		want bool
	}{
		{name: "no includes matches all", cfg: Config{}, rel: "a/b.txt", want: true},
		{name: "single level glob", cfg: Config{Includes: []string{"*.csv"}}, rel: "top.csv", want: true},
		{name: "single level glob does not cross dirs", cfg: Config{Includes: []string{"*.csv"}}, rel: "2024/a.csv", want: false},
		{name: "doublestar", cfg: Config{Includes: []string{"**/*.csv"}}, rel: "2024/01/a.csv", want: true},
		{name: "doublestar at top level", cfg: Config{Includes: []string{"**/*.csv"}}, rel: "a.csv", want: true},
		{name: "leading slash stripped", cfg: Config{Includes: []string{"/2024/*"}}, rel: "2024/x", want: true},
		{name: "any include", cfg: Config{Includes: []string{"*.csv", "*.json"}}, rel: "b.json", want: true},
		{name: "excluded", cfg: Config{Includes: []string{"**"}, Excludes: []string{"tmp/**"}}, rel: "tmp/scratch", want: false},
		{name: "exclude without includes", cfg: Config{Excludes: []string{"*.log"}}, rel: "app.log", want: false},
		{name: "hidden file skipped", cfg: Config{}, rel: "a/.env", want: false},
		{name: "hidden dir skipped", cfg: Config{Includes: []string{"**"}}, rel: ".git/config", want: false},
		{name: "hidden included on request", cfg: Config{IncludeHidden: true}, rel: ".env", want: true},
		{name: "trailing dot is not hidden", cfg: Config{}, rel: "file.", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Match(tt.rel))
		})
	}
}

func TestMatcher_Recursive(t *testing.T) {
	for pattern, want := range map[string]bool{
		"*.csv":        false,
		"2024/*.csv":   true,
		"**/*.csv":     true,
		"file-**.csv":  true,
		"report-?.txt": false,
	} {
		m, err := New(Config{Includes: []string{pattern}})
		require.NoError(t, err)
		assert.Equal(t, want, m.Recursive(), pattern)
	}

	m, err := New(Config{})
	require.NoError(t, err)
	assert.False(t, m.Recursive())
}

func TestMatcher_MayContain(t *testing.T) {
	m, err := New(Config{
		Includes: []string{"2024/**/*.csv", "static/report.csv"},
		Excludes: []string{"2024/tmp/**"},
	})
	require.NoError(t, err)

	assert.True(t, m.MayContain("2024"))
	assert.True(t, m.MayContain("2024/01"))
	assert.True(t, m.MayContain("static"))
	assert.False(t, m.MayContain("2023"))
	assert.False(t, m.MayContain("stat"), "prefix match is per segment")
	assert.False(t, m.MayContain("2024/tmp"))
	assert.False(t, m.MayContain("2024/.cache"))

	all, err := New(Config{IncludeHidden: true})
	require.NoError(t, err)
	assert.True(t, all.MayContain(".cache"))
}

func TestMatcher_Accessors(t *testing.T) {
	m, err := New(Config{Includes: []string{"/a/*", ""}, Excludes: []string{"b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/*"}, m.Includes())
	assert.Equal(t, []string{"b"}, m.Excludes())
}

func TestDerivePrefix(t *testing.T) {
	tests := map[string]string{
		"2024/**/*.parquet":    "2024/",
		"*.json":               "",
		"logs/app-{a,b}/*.log": "logs/",
		"exact/file.txt":       "exact/file.txt",
		"data/[0-9]*/*.csv":    "data/",
		"prefix/":              "prefix/",
		`data/file\*.txt`:      "data/file*.txt",
		`data/\[old\]/*.log`:   "data/[old]/",
		"/rooted/*":            "rooted/",
		"":                     "",
	}
	for pattern, want := range tests {
		assert.Equal(t, want, DerivePrefix(pattern), pattern)
	}
}

func TestIsGlobPattern(t *testing.T) {
	assert.True(t, IsGlobPattern("data/**/*.parquet"))
	assert.True(t, IsGlobPattern("file?.csv"))
	assert.True(t, IsGlobPattern("{a,b}"))
	assert.False(t, IsGlobPattern(`data/file\*.txt`))
	assert.False(t, IsGlobPattern("path/to/file.txt"))
}
