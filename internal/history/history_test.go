package history

import (
	"fmt"
	"sync"
	"testing"

	"hookchat/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resp(id string) domain.WebhookResponse {
	return domain.WebhookResponse{ID: id, Status: domain.StatusProcessed}
}

func ids(items []domain.WebhookResponse) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestRing_NewestFirst(t *testing.T) {
	r := New(3)
	r.Add(resp("a"))
	r.Add(resp("b"))
	assert.Equal(t, []string{"b", "a"}, ids(r.List()))
}

func TestRing_BoundedToCapacity(t *testing.T) {
	r := New(0)
	require.Equal(t, DefaultCapacity, r.Cap())
	for i := 0; i < 15; i++ {
		r.Add(resp(fmt.Sprint(i)))
	}
	require.Equal(t, 10, r.Len())
	list := r.List()
	assert.Equal(t, "14", list[0].ID)
	assert.Equal(t, "5", list[9].ID)
}

func TestRing_ListIsACopy(t *testing.T) {
	r := New(2)
	r.Add(resp("a"))
	list := r.List()
	list[0].ID = "mutated"
	assert.Equal(t, "a", r.List()[0].ID)
}

func TestRing_Clear(t *testing.T) {
	r := New(2)
	r.Add(resp("a"))
	r.Clear()
	assert.Equal(t, 0, r.Len())
	r.Add(resp("b"))
	assert.Equal(t, []string{"b"}, ids(r.List()))
}

func TestRing_Page(t *testing.T) {
	r := New(10)
	for i := 0; i < 7; i++ {
		r.Add(resp(fmt.Sprint(i)))
	}

	p := r.Page(1, 0)
	assert.Equal(t, DefaultPageSize, p.Size)
	assert.Equal(t, 2, p.TotalPages)
	assert.Equal(t, 7, p.Total)
	assert.Equal(t, []string{"6", "5", "4", "3", "2"}, ids(p.Items))

	p = r.Page(2, 5)
	assert.Equal(t, []string{"1", "0"}, ids(p.Items))

	p = r.Page(9, 5)
	assert.Equal(t, 2, p.Page, "past the end clamps to last page")

	p = r.Page(-3, 5)
	assert.Equal(t, 1, p.Page)
}

func TestRing_PageEmpty(t *testing.T) {
	p := New(10).Page(3, 5)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 1, p.TotalPages)
	assert.Empty(t, p.Items)
	assert.NotNil(t, p.Items)
}

func TestRing_ConcurrentAdds(t *testing.T) {
	r := New(10)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Add(resp(fmt.Sprint(i)))
			_ = r.List()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, r.Len())
}
