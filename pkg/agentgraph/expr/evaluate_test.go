package expr

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval(t *testing.T) {
	vars := map[string]any{
		"status":  "active",
		"count":   5,
		"score":   0.9,
		"enabled": true,
		"empty":   "",
		"output": map[string]any{
			"text":  "the FINAL answer",
			"tags":  []any{"a", "b"},
			"inner": map[string]any{"done": true},
		},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"status == 'active'", true},
		{`status == "active"`, true},
		{"status != 'active'", false},
		{"count == 5", true},
		{"count > 4", true},
		{"count >= 5", true},
		{"count < 5", false},
		{"count <= 5", true},
		{"score >= 0.8", true},
		{"enabled", true},
		{"!enabled", false},
		{"not enabled", false},
		{"empty", false},
		{"missing == 'missing'", true},
		{"output.text contains 'FINAL'", true},
		{"output.tags contains 'b'", true},
		{"output.tags.0 == 'a'", true},
		{"output.inner.done", true},
		{"output.inner.gone", true}, // unresolved paths are literal strings
		{"status == 'active' and count > 10", false},
		{"status == 'x' or count == 5", true},
		{"status == 'x' or count == 5 and enabled", true},
		{"(status == 'x' or count == 5) and not enabled", false},
		{"status == 'a and b'", false},
		{"'x or y' == 'x or y'", true},
		{"null", false},
		{"0", false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Eval(tt.expr, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"status == 'open",
		"(a == b",
		"a == b)",
		"== b",
		"a and ()",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := Compile(src)
			assert.Error(t, err)
		})
	}

	_, err := Compile("")
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Panics(t, func() { MustCompile("(") })
}

func TestCompile_Reusable(t *testing.T) {
	e := MustCompile("output > 3")
	assert.Equal(t, "output > 3", e.String())
	assert.True(t, e.Eval(map[string]any{"output": 4}))
	assert.False(t, e.Eval(map[string]any{"output": 2}))
}

func TestWithCustomOperator(t *testing.T) {
	e, err := Compile("name matches '^test.*'", WithCustomOperator("matches", func(l, r any) bool {
		ok, _ := regexp.MatchString(r.(string), l.(string))
		return ok
	}))
	require.NoError(t, err)
	assert.True(t, e.Eval(map[string]any{"name": "test_one"}))
	assert.False(t, e.Eval(map[string]any{"name": "prod"}))
}

func TestVars(t *testing.T) {
	type result struct {
		Status string `json:"status"`
		Score  int    `json:"score"`
	}

	vars := Vars(result{Status: "ok", Score: 7})
	assert.Equal(t, "ok", vars["status"])
	assert.Equal(t, 7, vars["score"])

	vars = Vars(&result{Status: "ptr"})
	assert.Equal(t, "ptr", vars["status"])

	assert.Equal(t, map[string]any{"value": 3}, Vars(3))
	assert.Equal(t, map[string]any{}, Vars(nil))

	m := map[string]any{"k": 1}
	assert.Equal(t, m, Vars(m))
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "hi", Resolve("'hi'", nil))
	assert.Equal(t, int64(42), Resolve("42", nil))
	assert.InDelta(t, 3.5, Resolve("3.5", nil), 0.0001)
	assert.Nil(t, Resolve("nil", nil))
	assert.Equal(t, "ident", Resolve("ident", nil))
	assert.Equal(t, "", Resolve("", nil))
}

func TestCompare(t *testing.T) {
	ok, err := Compare(5, "5", "==")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Compare("abc", "b", "contains")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = Compare(1, 2, "~=")
	assert.Error(t, err)
}

func TestIsTruthyAndToFloat64(t *testing.T) {
	assert.False(t, IsTruthy(nil))
	assert.False(t, IsTruthy(int64(0)))
	assert.True(t, IsTruthy([]int{}))
	assert.InDelta(t, 2.5, ToFloat64("2.5"), 0.0001)
	assert.InDelta(t, 0.0, ToFloat64("nope"), 0.0001)
	assert.InDelta(t, 0.0, ToFloat64(struct{}{}), 0.0001)
}
