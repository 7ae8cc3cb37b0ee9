package search

import (
	"encoding/json"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"

	"github.com/parlorhq/parlor/pkg/constant"
)

func rawHit(t *testing.T, fields map[string]interface{}) meili.Hit {
	t.Helper()
	hit := make(meili.Hit, len(fields))
	for key, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			t.Fatalf("marshal hit field %s: %v", key, err)
		}
		hit[key] = raw
	}
	return hit
}

func TestHitToResult(t *testing.T) {
	hit := rawHit(t, map[string]interface{}{
		"id":                "m1",
		"conversation_type": constant.ConversationTypeChannel,
		"conversation_id":   "c1",
		"author_id":         "u1",
		"body":              "release plan draft",
		"created_at":        int64(1700000000000),
		"_formatted": map[string]string{
			"body": "<mark>release</mark> plan draft",
		},
	})

	r := hitToResult(hit)
	assert.Equal(t, "m1", r.MessageId)
	assert.Equal(t, constant.ConversationTypeChannel, r.ConversationType)
	assert.Equal(t, "c1", r.ConversationId)
	assert.Equal(t, "u1", r.AuthorId)
	assert.Equal(t, "release plan draft", r.Body)
	assert.Equal(t, "<mark>release</mark> plan draft", r.Snippet)
	assert.Equal(t, int64(1700000000000), r.CreatedAt)
}

func TestHitToResult_NoHighlight(t *testing.T) {
	hit := rawHit(t, map[string]interface{}{
		"id":   "m2",
		"body": "plain body",
	})

	r := hitToResult(hit)
	assert.Equal(t, "plain body", r.Snippet, "snippet falls back to the raw body")
}

func TestNilMeiliIsSafe(t *testing.T) {
	var m *Meili
	assert.False(t, m.Healthy())
	// Index writes degrade to no-ops when search is not configured
	assert.NoError(t, m.IndexMessage(nil))
	assert.NoError(t, m.RemoveMessage("m1"))
	// Reads fail loudly so the caller can surface a search error
	_, _, err := m.Search(Query{TenantId: "t1", Keyword: "x"})
	assert.Error(t, err)
	m.Close()
}
