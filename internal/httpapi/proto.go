package httpapi

import (
	"io"
	"mime"
	"net/http"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

// maxProtoBody caps protobuf request bodies; evidence images dominate.
const maxProtoBody = 4 << 20

const protobufContentType = "application/x-protobuf"

// isProtobuf returns true if the request's Content-Type indicates a
// protobuf payload.
func isProtobuf(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return ct == protobufContentType || ct == "application/protobuf"
}

// readProto reads the request body and unmarshals it into msg.
func readProto(r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxProtoBody))
	if err != nil {
		return err
	}
	return proto.Unmarshal(body, msg)
}

func readStruct(r *http.Request) (*structpb.Struct, error) {
	msg := &structpb.Struct{}
	if err := readProto(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// writeProto marshals msg and writes it with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protobufContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// ── Violation ────────────────────────────────────────────────────────────────

func violationRequestFromStruct(p *structpb.Struct) types.ViolationRequest {
	f := p.GetFields()
	return types.ViolationRequest{
		Kind:       f["kind"].GetStringValue(),
		Evidence:   f["evidence"].GetStringValue(),
		ReportedAt: f["reported_at"].GetStringValue(),
	}
}

func violationResponseToStruct(r types.ViolationResponse) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"accepted":  r.Accepted,
		"exam_id":   r.ExamID,
		"seq":       r.Seq,
		"status":    string(r.Status),
		"duplicate": r.Duplicate,
	})
}
