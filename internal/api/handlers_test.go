package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

func TestIncidentID(t *testing.T) {
	cases := []struct {
		name  string
		input map[string]any
		want  int64
		ok    bool
	}{
		{"number", map[string]any{"id": 7}, 7, true},
		{"string", map[string]any{"id": " 12 "}, 12, true},
		{"missing", map[string]any{}, 0, false},
		{"zero", map[string]any{"id": 0}, 0, false},
		{"fraction", map[string]any{"id": 2.5}, 0, false},
		{"bool", map[string]any{"id": true}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := structpb.NewStruct(tc.input)
			if err != nil {
				t.Fatalf("build struct: %v", err)
			}
			got, err := IncidentID(s)
			if tc.ok && (err != nil || got != tc.want) {
				t.Fatalf("expected %d, got %d (%v)", tc.want, got, err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error, got %d", got)
			}
		})
	}
}

func TestLimitFallsBack(t *testing.T) {
	s, _ := structpb.NewStruct(map[string]any{"limit": -3})
	if got := Limit(s, 50); got != 50 {
		t.Fatalf("expected default for negative limit, got %d", got)
	}
	s, _ = structpb.NewStruct(map[string]any{"limit": 5})
	if got := Limit(s, 50); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
		http int
	}{
		{utils.NotFound("op", "missing"), codes.NotFound, http.StatusNotFound},
		{utils.Invalid("op", "bad", nil), codes.InvalidArgument, http.StatusBadRequest},
		{utils.Unavailable("op", "down", nil), codes.Unavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), codes.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), codes.Internal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := status.Code(GRPCError(tc.err)); got != tc.code {
			t.Fatalf("%v: expected grpc %s, got %s", tc.err, tc.code, got)
		}
		if got := HTTPStatus(tc.err); got != tc.http {
			t.Fatalf("%v: expected http %d, got %d", tc.err, tc.http, got)
		}
	}
	if GRPCError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestToStructRoundTrip(t *testing.T) {
	inc := sampleIncident(3, models.StatusOpen)
	s, err := ToStruct(inc)
	if err != nil {
		t.Fatalf("to struct: %v", err)
	}
	data, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal struct: %v", err)
	}
	var back models.Incident
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode struct: %v", err)
	}
	if back.ID != inc.ID || back.Key != inc.Key || !back.DetectedAt.Equal(inc.DetectedAt) {
		t.Fatalf("round trip mismatch: %+v", back)
	}

	if _, err := ToStruct([]int{1}); err == nil {
		t.Fatalf("expected error for non-object payload")
	}
}
