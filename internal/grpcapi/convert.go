package grpcapi

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

func alertToStruct(a types.Alert) (*structpb.Struct, error) {
	m := map[string]any{
		"type":          string(a.Type),
		"examSessionId": a.ExamSessionID,
		"at":            a.At.UTC().Format(time.RFC3339Nano),
	}
	if a.Kind != "" {
		m["kind"] = a.Kind
	}
	if a.Evidence != "" {
		m["evidence"] = a.Evidence
	}
	if a.Seq != 0 {
		m["seq"] = a.Seq
	}
	if a.Status != "" {
		m["status"] = string(a.Status)
	}
	if a.PrevStatus != "" {
		m["prevStatus"] = string(a.PrevStatus)
	}
	return structpb.NewStruct(m)
}

func alertFromStruct(p *structpb.Struct) types.Alert {
	f := p.GetFields()
	a := types.Alert{
		Type:          types.AlertType(f["type"].GetStringValue()),
		ExamSessionID: f["examSessionId"].GetStringValue(),
		Kind:          f["kind"].GetStringValue(),
		Evidence:      f["evidence"].GetStringValue(),
		Seq:           int(f["seq"].GetNumberValue()),
		Status:        types.ExamStatus(f["status"].GetStringValue()),
		PrevStatus:    types.ExamStatus(f["prevStatus"].GetStringValue()),
	}
	if at, err := time.Parse(time.RFC3339Nano, f["at"].GetStringValue()); err == nil {
		a.At = at
	}
	return a
}
