package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mbeoliero/kit/log"
	meili "github.com/meilisearch/meilisearch-go"

	"github.com/parlorhq/parlor/internal/entity"
)

// MessageDoc is the document shape stored in the message index.
type MessageDoc struct {
	Id               string `json:"id"`
	TenantId         string `json:"tenant_id"`
	ConversationType string `json:"conversation_type"`
	ConversationId   string `json:"conversation_id"`
	AuthorId         string `json:"author_id"`
	Body             string `json:"body"`
	CreatedAt        int64  `json:"created_at"`
}

// Query describes a full-text search over messages the caller may read.
type Query struct {
	TenantId        string
	Keyword         string
	ConversationIds []string // empty means no conversation restriction beyond tenant
	Limit           int
	Offset          int
}

// Result is one search hit with highlighted body.
type Result struct {
	MessageId        string
	ConversationType string
	ConversationId   string
	AuthorId         string
	Body             string
	Snippet          string
	CreatedAt        int64
}

// Meili indexes and searches messages via Meilisearch. A nil *Meili is a
// valid no-op indexer so callers can run without a search backend.
type Meili struct {
	client   meili.ServiceManager
	indexUid string
	healthy  atomic.Bool
	done     chan struct{}
}

// NewMeili creates the client and configures the message index. The returned
// instance starts a background health monitor; call Close to stop it.
func NewMeili(url, apiKey, indexUid string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client:   client,
		indexUid: indexUid,
		done:     make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warn("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        m.indexUid,
		PrimaryKey: "id",
	}); err != nil {
		log.Debug("search: create index %s (may already exist): %v", m.indexUid, err)
	}

	index := m.client.Index(m.indexUid)
	filterable := []interface{}{"tenant_id", "conversation_type", "conversation_id", "author_id"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Warn("search: update filterable attrs for %s: %v", m.indexUid, err)
	}
	searchable := []string{"body"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Warn("search: update searchable attrs for %s: %v", m.indexUid, err)
	}
	sortable := []string{"created_at"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		log.Warn("search: update sortable attrs for %s: %v", m.indexUid, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Info("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	if m == nil {
		return
	}
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m != nil && m.healthy.Load()
}

// IndexMessage upserts one message document. Deleted messages should be
// removed with RemoveMessage instead of indexed with an empty body.
func (m *Meili) IndexMessage(msg *entity.Message) error {
	if m == nil || !m.healthy.Load() {
		return nil
	}
	doc := MessageDoc{
		Id:               msg.Id,
		TenantId:         msg.TenantId,
		ConversationType: msg.ConversationType,
		ConversationId:   msg.ConversationId,
		AuthorId:         msg.AuthorId,
		Body:             msg.Body,
		CreatedAt:        msg.CreatedAt,
	}
	if _, err := m.client.Index(m.indexUid).AddDocuments([]MessageDoc{doc}, nil); err != nil {
		return fmt.Errorf("meilisearch add document: %w", err)
	}
	return nil
}

// RemoveMessage drops a message document from the index.
func (m *Meili) RemoveMessage(messageId string) error {
	if m == nil || !m.healthy.Load() {
		return nil
	}
	if _, err := m.client.Index(m.indexUid).DeleteDocument(messageId, nil); err != nil {
		return fmt.Errorf("meilisearch delete document: %w", err)
	}
	return nil
}

// Search runs a filtered full-text query. The conversation-id filter is the
// access boundary: callers must pass only conversations the user may read.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if m == nil || !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		IndexUID:              m.indexUid,
		Query:                 q.Keyword,
		Limit:                 limit,
		Offset:                int64(q.Offset),
		Sort:                  []string{"created_at:desc"},
		AttributesToHighlight: []string{"body"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}

	filters := []string{fmt.Sprintf("tenant_id = %q", q.TenantId)}
	if len(q.ConversationIds) > 0 {
		quoted := make([]string, 0, len(q.ConversationIds))
		for _, id := range q.ConversationIds {
			quoted = append(quoted, fmt.Sprintf("%q", id))
		}
		filters = append(filters, fmt.Sprintf("conversation_id IN [%s]", strings.Join(quoted, ", ")))
	}
	sr.Filter = filters

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, page := range resp.Results {
		total += int(page.EstimatedTotalHits)
		for _, hit := range page.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		MessageId:      decodeString(hit, "id"),
		ConversationId: decodeString(hit, "conversation_id"),
		AuthorId:       decodeString(hit, "author_id"),
		Body:           decodeString(hit, "body"),
	}
	r.ConversationType = decodeString(hit, "conversation_type")
	r.CreatedAt = decodeInt(hit, "created_at")
	if formatted := decodeFormattedString(hit, "body"); formatted != "" {
		r.Snippet = formatted
	} else {
		r.Snippet = r.Body
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
