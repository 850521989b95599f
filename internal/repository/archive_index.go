package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/timmy/dmi/internal/media"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// archiveNamespace scopes the deterministic point IDs of archive entries.
var archiveNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("dmi/archive"))

// ArchiveConfig holds the Qdrant connection of the submission archive.
type ArchiveConfig struct {
	Host       string
	Port       int
	Collection string
	APIKey     string // Qdrant Cloud API key, implies TLS
	UseTLS     bool
}

// apiKeyInterceptor adds the API key to every unary call.
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// ArchiveIndex keeps one fingerprint per analyzed submission in Qdrant so
// earlier submissions that look alike can be found.
type ArchiveIndex struct {
	conn          *grpc.ClientConn
	pointsClient  pb.PointsClient
	collectClient pb.CollectionsClient
	collection    string
}

// NewArchiveIndex creates the gRPC client. Local Qdrant is reached without
// TLS; an API key or UseTLS switches to TLS 1.3.
func NewArchiveIndex(cfg *ArchiveConfig) (*ArchiveIndex, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	return &ArchiveIndex{
		conn:          conn,
		pointsClient:  pb.NewPointsClient(conn),
		collectClient: pb.NewCollectionsClient(conn),
		collection:    cfg.Collection,
	}, nil
}

// Close closes the gRPC connection.
func (a *ArchiveIndex) Close() error {
	return a.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist and checks
// the vector size of an existing one.
func (a *ArchiveIndex) EnsureCollection(ctx context.Context) error {
	info, err := a.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: a.collection})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != media.FingerprintDim {
			return fmt.Errorf("collection %s has vector size %d, expected %d", a.collection, size, media.FingerprintDim)
		}
		return nil
	}

	_, err = a.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: a.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     media.FingerprintDim,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil || params.GetSize() == 0 {
		return 0, false
	}
	return params.GetSize(), true
}

// ArchiveEntry is the payload stored with each fingerprint.
type ArchiveEntry struct {
	RecordID   string
	Identifier string
	Purpose    string
	MediaType  string
	IsDeepfake bool
}

// ArchiveMatch is a similar earlier submission.
type ArchiveMatch struct {
	Entry ArchiveEntry
	Score float32
}

// PointID returns the deterministic point ID of a file identifier and
// purpose, so re-indexing a submission overwrites its entry.
func PointID(identifier, purpose string) string {
	return uuid.NewSHA1(archiveNamespace, []byte(purpose+"/"+identifier)).String()
}

// Upsert stores or replaces the fingerprint of entry.
func (a *ArchiveIndex) Upsert(ctx context.Context, entry ArchiveEntry, vector []float32) error {
	if len(vector) != media.FingerprintDim {
		return fmt.Errorf("fingerprint has %d values, expected %d", len(vector), media.FingerprintDim)
	}
	_, err := a.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: a.collection,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(entry.Identifier, entry.Purpose)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}},
			},
			Payload: entryPayload(entry),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

// Similar returns up to limit entries closest to vector, leaving out the
// submission with excludeIdentifier.
func (a *ArchiveIndex) Similar(ctx context.Context, vector []float32, limit int, excludeIdentifier string) ([]ArchiveMatch, error) {
	req := &pb.SearchPoints{
		CollectionName: a.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if excludeIdentifier != "" {
		req.Filter = &pb.Filter{MustNot: []*pb.Condition{keywordCondition("identifier", excludeIdentifier)}}
	}

	resp, err := a.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	matches := make([]ArchiveMatch, len(resp.GetResult()))
	for i, scored := range resp.GetResult() {
		matches[i] = ArchiveMatch{Entry: parseEntry(scored.GetPayload()), Score: scored.GetScore()}
	}
	return matches, nil
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func entryPayload(e ArchiveEntry) map[string]*pb.Value {
	str := func(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
	return map[string]*pb.Value{
		"record_id":   str(e.RecordID),
		"identifier":  str(e.Identifier),
		"purpose":     str(e.Purpose),
		"media_type":  str(e.MediaType),
		"is_deepfake": {Kind: &pb.Value_BoolValue{BoolValue: e.IsDeepfake}},
	}
}

func parseEntry(payload map[string]*pb.Value) ArchiveEntry {
	return ArchiveEntry{
		RecordID:   payload["record_id"].GetStringValue(),
		Identifier: payload["identifier"].GetStringValue(),
		Purpose:    payload["purpose"].GetStringValue(),
		MediaType:  payload["media_type"].GetStringValue(),
		IsDeepfake: payload["is_deepfake"].GetBoolValue(),
	}
}
