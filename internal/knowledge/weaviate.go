package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	wv "github.com/weaviate/weaviate-go-client/v5/weaviate"
	wm "github.com/weaviate/weaviate/entities/models"

	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

// WeaviateIndex stores pattern vectors in a Weaviate class with
// Vectorizer "none"; embeddings are supplied by the caller. Object ids
// are derived from pattern ids, so upserts are delete-then-create.
type WeaviateIndex struct {
	client  *wv.Client
	class   string
	timeout time.Duration
	logger  logger.Logger

	schemaInit sync.Once
	schemaErr  error
}

func NewWeaviateIndex(cfg config.WeaviateConfig, log logger.Logger) (*WeaviateIndex, error) {
	client, err := wv.NewClient(wv.Config{Scheme: cfg.Scheme, Host: cfg.Host})
	if err != nil {
		return nil, fmt.Errorf("weaviate client: %w", err)
	}
	class := cfg.Class
	if class == "" {
		class = "IncidentPattern"
	}
	return &WeaviateIndex{
		client:  client,
		class:   class,
		timeout: cfg.Timeout(),
		logger:  log,
	}, nil
}

// objectID maps a pattern id onto a deterministic UUID so repeated
// upserts of the same pattern land on the same object.
func (w *WeaviateIndex) objectID(patternID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(patternID)).String()
}

func (w *WeaviateIndex) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.timeout)
}

func (w *WeaviateIndex) EnsureReady(ctx context.Context) error {
	w.schemaInit.Do(func() {
		w.schemaErr = w.ensureClass(ctx)
	})
	return w.schemaErr
}

func (w *WeaviateIndex) ensureClass(ctx context.Context) error {
	ctx, cancel := w.opCtx(ctx)
	defer cancel()

	classDef := &wm.Class{
		Class:      w.class,
		Vectorizer: "none",
		Properties: []*wm.Property{
			{Name: "patternId", DataType: []string{"text"}},
			{Name: "title", DataType: []string{"text"}},
			{Name: "category", DataType: []string{"text"}},
			{Name: "severity", DataType: []string{"text"}},
			{Name: "services", DataType: []string{"text[]"}},
			{Name: "symptoms", DataType: []string{"text[]"}},
		},
	}

	if err := w.client.Schema().ClassCreator().WithClass(classDef).Do(ctx); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("create class %s: %w", w.class, err)
	}
	w.logger.Info("Created vector index class", "class", w.class)
	return nil
}

func (w *WeaviateIndex) Upsert(ctx context.Context, p *models.Pattern, vector []float32) error {
	if err := w.EnsureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := w.opCtx(ctx)
	defer cancel()

	objID := w.objectID(p.ID)
	props := map[string]any{
		"patternId": p.ID,
		"title":     p.Title,
		"category":  p.Category,
		"severity":  string(p.Severity),
		"services":  p.Services,
		"symptoms":  p.Symptoms,
	}

	w.deleteObject(ctx, objID)
	_, err := w.client.Data().Creator().
		WithClassName(w.class).
		WithID(objID).
		WithProperties(props).
		WithVector(vector).
		Do(ctx)
	if err != nil && strings.Contains(err.Error(), "already exists") {
		// Lost a race with a concurrent writer for the same pattern;
		// clear the object and try once more.
		w.deleteObject(ctx, objID)
		_, err = w.client.Data().Creator().
			WithClassName(w.class).
			WithID(objID).
			WithProperties(props).
			WithVector(vector).
			Do(ctx)
	}
	if err != nil {
		return fmt.Errorf("index pattern %s: %w", p.ID, err)
	}
	return nil
}

func (w *WeaviateIndex) Delete(ctx context.Context, patternID string) error {
	if err := w.EnsureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := w.opCtx(ctx)
	defer cancel()
	w.deleteObject(ctx, w.objectID(patternID))
	return nil
}

// deleteObject tolerates missing objects; anything else is logged and
// left to the follow-up create to surface.
func (w *WeaviateIndex) deleteObject(ctx context.Context, objID string) {
	err := w.client.Data().Deleter().WithClassName(w.class).WithID(objID).Do(ctx)
	if err != nil && !strings.Contains(err.Error(), "404") && !strings.Contains(err.Error(), "not found") {
		w.logger.Debug("Vector object delete failed", "object_id", objID, "error", err)
	}
}

func (w *WeaviateIndex) Search(ctx context.Context, vector []float32, f Filter, k int, minScore float64) ([]IndexHit, error) {
	if err := w.EnsureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := w.opCtx(ctx)
	defer cancel()

	query := buildNearVectorQuery(w.class, vector, f, k, minScore)
	resp, err := w.client.GraphQL().Raw().WithQuery(query).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("vector search response: %w", err)
	}
	return parseNearVectorResponse(raw, w.class, minScore)
}

func buildNearVectorQuery(class string, vector []float32, f Filter, k int, minScore float64) string {
	var sb strings.Builder
	sb.WriteString("{ Get { ")
	sb.WriteString(class)
	sb.WriteString("(nearVector: {vector: [")
	for i, v := range vector {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	sb.WriteString("]")
	if minScore > 0 {
		// kNN distance is 1 - cosine score.
		fmt.Fprintf(&sb, ", distance: %s", strconv.FormatFloat(1-minScore, 'g', -1, 64))
	}
	sb.WriteString("}")
	fmt.Fprintf(&sb, ", limit: %d", k)
	if where := buildWhereClause(f); where != "" {
		sb.WriteString(", where: ")
		sb.WriteString(where)
	}
	sb.WriteString(") { patternId _additional { distance } } } }")
	return sb.String()
}

func buildWhereClause(f Filter) string {
	var operands []string
	if f.Category != "" {
		operands = append(operands, fmt.Sprintf(`{path: ["category"], operator: Equal, valueText: %q}`, f.Category))
	}
	if f.Severity != "" {
		operands = append(operands, fmt.Sprintf(`{path: ["severity"], operator: Equal, valueText: %q}`, f.Severity))
	}
	if f.Service != "" {
		operands = append(operands, fmt.Sprintf(`{path: ["services"], operator: Equal, valueText: %q}`, f.Service))
	}
	switch len(operands) {
	case 0:
		return ""
	case 1:
		return operands[0]
	default:
		return fmt.Sprintf("{operator: And, operands: [%s]}", strings.Join(operands, ", "))
	}
}

func parseNearVectorResponse(raw []byte, class string, minScore float64) ([]IndexHit, error) {
	var decoded struct {
		Data struct {
			Get map[string][]struct {
				PatternID  string `json:"patternId"`
				Additional struct {
					Distance float64 `json:"distance"`
				} `json:"_additional"`
			} `json:"Get"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("vector search decode: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return nil, fmt.Errorf("vector search: %s", decoded.Errors[0].Message)
	}

	rows := decoded.Data.Get[class]
	hits := make([]IndexHit, 0, len(rows))
	for _, r := range rows {
		if r.PatternID == "" {
			continue
		}
		score := 1 - r.Additional.Distance
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		if score < minScore {
			continue
		}
		hits = append(hits, IndexHit{PatternID: r.PatternID, Score: score})
	}
	return hits, nil
}
