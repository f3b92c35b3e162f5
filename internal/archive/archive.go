// internal/archive/archive.go
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"

	"shopdesk/internal/common/database"
	apperrors "shopdesk/internal/common/errors"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/models"
)

const DefaultIndex = "conversations"

// Mapping is the index layout for archived messages. Vietnamese text is
// folded so searches match with or without diacritics.
const Mapping = `{
  "settings": {
    "analysis": {
      "analyzer": {
        "folded": {"tokenizer": "standard", "filter": ["lowercase", "asciifolding"]}
      }
    }
  },
  "mappings": {
    "properties": {
      "conversationId": {"type": "keyword"},
      "platform":       {"type": "keyword"},
      "senderId":       {"type": "keyword"},
      "role":           {"type": "keyword"},
      "message":        {"type": "text", "analyzer": "folded"},
      "autoReplied":    {"type": "boolean"},
      "confidence":     {"type": "float"},
      "handoff":        {"type": "boolean"},
      "createdAt":      {"type": "date"}
    }
  }
}`

// Archive stores conversation messages in Elasticsearch for the dashboard
// search.
type Archive struct {
	es     *database.ElasticsearchClient
	index  string
	logger logger.Logger
}

func New(es *database.ElasticsearchClient, index string, log logger.Logger) *Archive {
	if index == "" {
		index = DefaultIndex
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Archive{es: es, index: index, logger: log.WithFields(map[string]interface{}{"component": "archive"})}
}

func (a *Archive) EnsureIndex(ctx context.Context) error {
	return a.es.EnsureIndex(ctx, a.index, Mapping)
}

func (a *Archive) client() *elasticsearch.Client { return a.es.Client }

// Store indexes one message. Missing ids and timestamps are filled in.
func (a *Archive) Store(ctx context.Context, msg models.ArchivedMessage) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode archived message: %w", err)
	}

	es := a.client()
	res, err := es.Index(a.index, bytes.NewReader(body),
		es.Index.WithContext(ctx),
		es.Index.WithDocumentID(msg.ID),
	)
	if err != nil {
		return "", apperrors.NewSearchQueryFailedError(a.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return "", apperrors.NewSearchQueryFailedError(a.index, fmt.Errorf("index status %s: %s", res.Status(), raw))
	}
	return msg.ID, nil
}

type Query struct {
	Text           string
	ConversationID string
	Platform       string
	HandoffOnly    bool
	Since          time.Time
	From           int
	Size           int
}

type Result struct {
	Total    int64                    `json:"total"`
	Messages []models.ArchivedMessage `json:"messages"`
}

// BuildQuery renders q as an Elasticsearch search body.
func BuildQuery(q Query) map[string]interface{} {
	must := []interface{}{}
	filter := []interface{}{}

	if q.Text != "" {
		must = append(must, map[string]interface{}{
			"match": map[string]interface{}{
				"message": map[string]interface{}{"query": q.Text, "operator": "and"},
			},
		})
	}
	if q.ConversationID != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"conversationId": q.ConversationID}})
	}
	if q.Platform != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"platform": q.Platform}})
	}
	if q.HandoffOnly {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"handoff": true}})
	}
	if !q.Since.IsZero() {
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{"createdAt": map[string]interface{}{"gte": q.Since.UTC().Format(time.RFC3339)}},
		})
	}

	if len(must) == 0 {
		must = append(must, map[string]interface{}{"match_all": map[string]interface{}{}})
	}
	boolQuery := map[string]interface{}{"must": must}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}

	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"sort":  []interface{}{map[string]interface{}{"createdAt": map[string]interface{}{"order": "desc"}}},
	}
}

func (a *Archive) Search(ctx context.Context, q Query) (Result, error) {
	if q.Size <= 0 || q.Size > 100 {
		q.Size = 20
	}
	if q.From < 0 {
		q.From = 0
	}

	body, _ := json.Marshal(BuildQuery(q))

	es := a.client()
	res, err := es.Search(
		es.Search.WithContext(ctx),
		es.Search.WithIndex(a.index),
		es.Search.WithBody(bytes.NewReader(body)),
		es.Search.WithFrom(q.From),
		es.Search.WithSize(q.Size),
		es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return Result{}, apperrors.NewSearchQueryFailedError(a.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return Result{}, apperrors.NewSearchQueryFailedError(a.index, fmt.Errorf("search status %s: %s", res.Status(), raw))
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string                 `json:"_id"`
				Source models.ArchivedMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return Result{}, apperrors.NewSearchQueryFailedError(a.index, fmt.Errorf("decode: %w", err))
	}

	out := Result{Total: parsed.Hits.Total.Value, Messages: make([]models.ArchivedMessage, 0, len(parsed.Hits.Hits))}
	for _, h := range parsed.Hits.Hits {
		m := h.Source
		if m.ID == "" {
			m.ID = h.ID
		}
		out.Messages = append(out.Messages, m)
	}
	return out, nil
}
