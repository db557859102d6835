package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/FlowForge/internal/domain"
)

func noopWork(_ context.Context, _ map[string]any) (any, error) { return nil, nil }

func TestDefinitionValidate(t *testing.T) {
	tests := []struct {
		name    string
		def     Definition
		wantErr bool
	}{
		{"valid minimal", Definition{Name: "etl", Work: noopWork}, false},
		{"missing name", Definition{Work: noopWork}, true},
		{"missing work", Definition{Name: "etl"}, true},
		{"negative timeout", Definition{Name: "etl", Work: noopWork, Timeout: -time.Second}, true},
		{"negative max retries", Definition{Name: "etl", Work: noopWork, Retry: RetryPolicy{MaxRetries: -1}}, true},
		{"negative delay", Definition{Name: "etl", Work: noopWork, Retry: RetryPolicy{Delay: -time.Second}}, true},
		{"negative delay in list", Definition{Name: "etl", Work: noopWork, Retry: RetryPolicy{Delays: []time.Duration{time.Second, -1}}}, true},
		{"negative jitter", Definition{Name: "etl", Work: noopWork, Retry: RetryPolicy{JitterFactor: -0.5}}, true},
		{"negative cache ttl", Definition{Name: "etl", Work: noopWork, Cache: CacheConfig{TTL: -time.Minute}}, true},
		{"full valid", Definition{
			Name:    "etl",
			Tags:    []string{"db", "prod"},
			Retry:   RetryPolicy{MaxRetries: 3, Delays: []time.Duration{time.Second, 10 * time.Second}, JitterFactor: 0.3},
			Cache:   CacheConfig{Enabled: true, TTL: time.Hour, Version: "v2"},
			Timeout: time.Minute,
			Work:    noopWork,
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
