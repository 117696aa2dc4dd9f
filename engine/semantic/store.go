// Package semantic owns all Qdrant operations for the experiences collection.
package semantic

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	// payloadRecordID carries the catalog record id, the join key between
	// the index and the system of record.
	payloadRecordID = "record_id"
	// payloadDocument carries the exact text that was embedded.
	payloadDocument = "document"

	scrollPageSize = 256
)

// PointID derives the Qdrant point id for a catalog record id. Qdrant
// requires UUID ids, so the record id is hashed deterministically; the same
// record always maps to the same point.
func PointID(recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(recordID)).String()
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients creates a VectorStore from pre-built clients. Used in tests.
func NewWithClients(points pb.PointsClient, collections pb.CollectionsClient, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	d := uint64(dims)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     d,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert stores records into the index. An existing point with the same id
// is replaced wholesale, which makes re-syncs idempotent.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, len(r.Metadata)+2)
		for k, val := range r.Metadata {
			payload[k] = payloadValue(val)
		}
		payload[payloadRecordID] = payloadValue(r.RecordID)
		payload[payloadDocument] = payloadValue(r.Document)

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.RecordID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// DeleteByRecordIDs removes the points for the given catalog record ids as
// one batch call.
func (v *VectorStore) DeleteByRecordIDs(ctx context.Context, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return nil
	}

	ids := make([]*pb.PointId, len(recordIDs))
	for i, id := range recordIDs {
		ids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}
	}

	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete %d points: %w", len(recordIDs), err)
	}
	return nil
}

// Search performs k-NN similarity search and returns catalog record ids in
// score order. Only the record_id payload key is requested.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, topK int) ([]Hit, error) {
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    includePayload(payloadRecordID),
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		id := r.GetPayload()[payloadRecordID].GetStringValue()
		if id == "" {
			continue
		}
		hits = append(hits, Hit{RecordID: id, Score: r.GetScore()})
	}
	return hits, nil
}

// ListRecordIDs enumerates the catalog record id of every point in the
// collection, paging through with the scroll API.
func (v *VectorStore) ListRecordIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var offset *pb.PointId
	for {
		req := &pb.ScrollPoints{
			CollectionName: v.collection,
			Limit:          ptr(uint32(scrollPageSize)),
			WithPayload:    includePayload(payloadRecordID),
			Offset:         offset,
		}
		resp, err := v.points.Scroll(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("semantic: scroll: %w", err)
		}
		for _, p := range resp.GetResult() {
			if id := p.GetPayload()[payloadRecordID].GetStringValue(); id != "" {
				ids = append(ids, id)
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return ids, nil
		}
	}
}

// Count returns the exact number of points in the collection.
func (v *VectorStore) Count(ctx context.Context) (uint64, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}

func payloadValue(val any) *pb.Value {
	switch tv := val.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func includePayload(fields ...string) *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{
		SelectorOptions: &pb.WithPayloadSelector_Include{
			Include: &pb.PayloadIncludeSelector{Fields: fields},
		},
	}
}

func ptr[T any](v T) *T { return &v }
