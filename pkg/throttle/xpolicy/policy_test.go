package xpolicy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xthrottle/pkg/throttle/xcaller"
)

func rule(match string, max int64) Rule {
	return Rule{Match: match, Policy: xcaller.Policy{MaxRequests: max, UnitTime: time.Second}}
}

func TestCompile_IPRules(t *testing.T) {
	p, err := Compile(Config{
		ID:   "api",
		Kind: xcaller.KindIP,
		Rules: []Rule{
			rule("10.0.0.7", 1),
			rule("10.0.0.0/24", 2),
			rule("192.168.1.10-192.168.1.20, 172.16.0.1", 3),
		},
		Default: &xcaller.Policy{MaxRequests: 100, UnitTime: time.Minute},
	})
	require.NoError(t, err)
	assert.Equal(t, "api", p.ID())
	assert.Equal(t, xcaller.KindIP, p.Kind())

	tests := []struct {
		caller string
		want   int64
	}{
		{"10.0.0.7", 1},
		{"10.0.0.8", 2},
		{"10.0.0.8:5555", 2},
		{"::ffff:10.0.0.9", 2},
		{"192.168.1.15", 3},
		{"172.16.0.1", 3},
		{"8.8.8.8", 100},
	}
	for _, tt := range tests {
		t.Run(tt.caller, func(t *testing.T) {
			got := p.Resolve(tt.caller, "")
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.MaxRequests)
		})
	}

	assert.Equal(t, int64(100), p.Resolve("not-an-ip", "").MaxRequests)
}

func TestCompile_DomainRules(t *testing.T) {
	p, err := Compile(Config{
		ID:   "web",
		Kind: xcaller.KindDomain,
		Rules: []Rule{
			rule("api.example.com", 1),
			rule("*.example.com", 2),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), p.Resolve("API.example.com", "").MaxRequests)
	assert.Equal(t, int64(2), p.Resolve("www.example.com.", "").MaxRequests)
	assert.Nil(t, p.Resolve("example.com", ""), "wildcard must not match the bare suffix")
	assert.Nil(t, p.Resolve("other.org", ""))
}

func TestCompile_RoleRules(t *testing.T) {
	p, err := Compile(Config{
		ID:            "partner",
		Kind:          xcaller.KindRole,
		MaxConcurrent: 4,
		Rules:         []Rule{rule("gold", 50), rule("gold", 1), rule("silver", 10)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.MaxConcurrent())

	assert.Equal(t, int64(50), p.Resolve("10.0.0.1", "gold").MaxRequests)
	assert.Equal(t, int64(10), p.Resolve("10.0.0.1", "silver").MaxRequests)
	assert.Nil(t, p.Resolve("gold", "bronze"))
}

func TestCompile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty id", Config{Kind: xcaller.KindIP}},
		{"colon in id", Config{ID: "a:b", Kind: xcaller.KindIP}},
		{"unknown kind", Config{ID: "x"}},
		{"negative concurrency", Config{ID: "x", Kind: xcaller.KindIP, MaxConcurrent: -1}},
		{"empty match", Config{ID: "x", Kind: xcaller.KindIP, Rules: []Rule{rule("", 1)}}},
		{"bad ip", Config{ID: "x", Kind: xcaller.KindIP, Rules: []Rule{rule("10.0.0.300", 1)}}},
		{"bad cidr", Config{ID: "x", Kind: xcaller.KindIP, Rules: []Rule{rule("10.0.0.0/40", 1)}}},
		{"bad policy", Config{ID: "x", Kind: xcaller.KindRole, Rules: []Rule{{Match: "r"}}}},
		{"bad default", Config{ID: "x", Kind: xcaller.KindRole, Default: &xcaller.Policy{MaxRequests: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestCompile_RuleErrorWrapsPolicyError(t *testing.T) {
	_, err := Compile(Config{ID: "x", Kind: xcaller.KindRole, Rules: []Rule{{Match: "r"}}})
	assert.ErrorIs(t, err, xcaller.ErrInvalidPolicy)
}

func TestCompileAll(t *testing.T) {
	set, err := CompileAll([]Config{
		{ID: "a", Kind: xcaller.KindIP},
		{ID: "b", Kind: xcaller.KindRole},
	})
	require.NoError(t, err)
	assert.Len(t, set, 2)

	_, err = CompileAll([]Config{
		{ID: "a", Kind: xcaller.KindIP},
		{ID: "a", Kind: xcaller.KindRole},
	})
	assert.ErrorIs(t, err, ErrDuplicatePolicy)
}

func TestResolve_DefaultIsCopied(t *testing.T) {
	def := &xcaller.Policy{MaxRequests: 5, UnitTime: time.Second}
	p, err := Compile(Config{ID: "a", Kind: xcaller.KindIP, Default: def})
	require.NoError(t, err)

	def.MaxRequests = 99
	assert.Equal(t, int64(5), p.Resolve("1.2.3.4", "").MaxRequests)
}
