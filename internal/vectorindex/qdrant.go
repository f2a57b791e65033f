package vectorindex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	payloadChunkID = "chunk_id"
	payloadSeq     = "seq"
	payloadModel   = "model"
	payloadDocID   = "document_id"

	tieSlack = 8
)

type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	// Prefix is prepended to the document id to name its collection.
	Prefix string
}

// Qdrant keeps one collection per document so a query can only ever see
// vectors of that document.
type Qdrant struct {
	client *qdrant.Client
	prefix string
}

func NewQdrant(cfg QdrantConfig) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "docqa_"
	}
	return &Qdrant{client: client, prefix: prefix}, nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

func (q *Qdrant) collection(documentID string) string {
	return q.prefix + documentID
}

// pointID maps a chunk id onto a stable UUID so re-adding a chunk
// overwrites its point instead of duplicating it.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("docqa:"+chunkID)).String()
}

func (q *Qdrant) Add(ctx context.Context, documentID, model string, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	dim := len(entries[0].Vector)
	for _, e := range entries {
		if len(e.Vector) == 0 {
			return fmt.Errorf("%w: chunk %s", ErrEmptyVector, e.ChunkID)
		}
		if len(e.Vector) != dim {
			return fmt.Errorf("%w: chunk %s has %d, batch has %d", ErrDimensionMismatch, e.ChunkID, len(e.Vector), dim)
		}
	}

	name := q.collection(documentID)
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}

	if exists {
		if err := q.checkModel(ctx, name, model); err != nil {
			return err
		}
	} else {
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
	}

	wait := true
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         toPoints(documentID, model, entries),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(entries), err)
	}
	return nil
}

// checkModel reads one stored point and compares its model tag.
func (q *Qdrant) checkModel(ctx context.Context, name, model string) error {
	limit := uint32(1)
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: name,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return fmt.Errorf("failed to read collection %s: %w", name, err)
	}
	if len(points) == 0 {
		return nil
	}
	if got := points[0].GetPayload()[payloadModel].GetStringValue(); got != model {
		return fmt.Errorf("%w: collection %s uses %s, got %s", ErrModelMismatch, name, got, model)
	}
	return nil
}

func toPoints(documentID, model string, entries []Entry) []*qdrant.PointStruct {
	points := make([]*qdrant.PointStruct, len(entries))
	for i, e := range entries {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(e.ChunkID)),
			Vectors: qdrant.NewVectors(Normalize(e.Vector)...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadChunkID: e.ChunkID,
				payloadSeq:     e.Seq,
				payloadModel:   model,
				payloadDocID:   documentID,
			}),
		}
	}
	return points
}

func (q *Qdrant) Query(ctx context.Context, documentID string, vector []float32, k int) ([]Match, error) {
	name := q.collection(documentID)
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, documentID)
	}
	if k <= 0 {
		return []Match{}, nil
	}

	// Qdrant cuts at the limit before ties are ordered by seq, so the
	// window is widened until the k-th score is no longer tied at its edge.
	limit := k + tieSlack
	for {
		n := uint64(limit)
		scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(Normalize(vector)...),
			Limit:          &n,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query collection %s: %w", name, err)
		}
		ms := toMatches(scored)
		if !tiedAtCutoff(ms, k, limit) {
			return TopK(ms, k), nil
		}
		limit *= 2
	}
}

func toMatches(scored []*qdrant.ScoredPoint) []Match {
	out := make([]Match, 0, len(scored))
	for _, p := range scored {
		payload := p.GetPayload()
		out = append(out, Match{
			ChunkID: payload[payloadChunkID].GetStringValue(),
			Seq:     int(payload[payloadSeq].GetIntegerValue()),
			Score:   p.GetScore(),
		})
	}
	SortMatches(out)
	return out
}

// tiedAtCutoff reports whether a full window of sorted matches may have
// dropped a point scoring the same as the k-th one.
func tiedAtCutoff(ms []Match, k, limit int) bool {
	if len(ms) < limit || len(ms) <= k {
		return false
	}
	return ms[len(ms)-1].Score == ms[k-1].Score
}

func (q *Qdrant) Remove(ctx context.Context, documentID string) error {
	name := q.collection(documentID)
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if !exists {
		return nil
	}
	if err := q.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", name, err)
	}
	return nil
}
