package insights

import (
	"context"
	"testing"
	"time"

	"hookchat/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func history(n int) []domain.WebhookResponse {
	return make([]domain.WebhookResponse, n)
}

func TestSuggest_PrefixOfCatalog(t *testing.T) {
	g := NewGenerator(GeneratorConfig{Delay: time.Millisecond})
	cases := []struct {
		n    int
		want []string
	}{
		{0, []string{}},
		{1, []string{"s1"}},
		{2, []string{"s1", "s2"}},
		{3, []string{"s1", "s2", "s3"}},
		{10, []string{"s1", "s2", "s3"}},
	}
	for _, tc := range cases {
		got, err := g.Suggest(context.Background(), history(tc.n))
		require.NoError(t, err)
		require.NotNil(t, got)
		ids := make([]string, len(got))
		for i, s := range got {
			ids[i] = s.ID
		}
		assert.Equal(t, tc.want, ids, "n=%d", tc.n)
	}
}

func TestSuggest_Categories(t *testing.T) {
	got, err := NewGenerator(GeneratorConfig{Delay: -1}).Suggest(context.Background(), history(3))
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryAutomation, got[0].Category)
	assert.Equal(t, "Standardize Task Descriptions", got[1].Title)
	assert.Equal(t, domain.CategoryEfficiency, got[2].Category)
}

func TestSuggest_WaitsForDelay(t *testing.T) {
	g := NewGenerator(GeneratorConfig{Delay: 30 * time.Millisecond})
	start := time.Now()
	_, err := g.Suggest(context.Background(), history(0))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestSuggest_ContextCancel(t *testing.T) {
	g := NewGenerator(GeneratorConfig{Delay: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	got, err := g.Suggest(ctx, history(3))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, got)
}

func TestSuggest_MaxSuggestions(t *testing.T) {
	g := NewGenerator(GeneratorConfig{Delay: -1, MaxSuggestions: 2})
	got, err := g.Suggest(context.Background(), history(5))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSuggest_ResultIsACopy(t *testing.T) {
	g := NewGenerator(GeneratorConfig{Delay: -1})
	got, _ := g.Suggest(context.Background(), history(1))
	got[0].Title = "changed"
	again, _ := g.Suggest(context.Background(), history(1))
	assert.Equal(t, "Automate High-Priority Task Routing", again[0].Title)
}
