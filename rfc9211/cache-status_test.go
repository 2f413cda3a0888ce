package rfc9211

import "testing"

func TestCacheStatusString(t *testing.T) {
	tests := []struct {
		name string
		cs   func() CacheStatus
		want string
	}{
		{"hit", func() CacheStatus {
			cs := CacheStatus{Cache: "atd-static-v2"}
			cs.Hit()
			return cs
		}, "atd-static-v2; hit"},
		{"stored miss", func() CacheStatus {
			cs := CacheStatus{Cache: "atd-modules-v1", Stored: true, FwdStatus: 200}
			cs.Forward(FwdReasonUriMiss)
			return cs
		}, "atd-modules-v1; fwd=uri-miss; fwd-status=200; stored"},
		{"detail", func() CacheStatus {
			cs := CacheStatus{Detail: "offline-fallback"}
			cs.Forward(FwdReasonBypass)
			return cs
		}, "ATD; fwd=bypass; detail=offline-fallback"},
	}
	for _, tt := range tests {
		if got := tt.cs().String(); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestForwardClearsHit(t *testing.T) {
	cs := CacheStatus{}
	cs.Hit()
	cs.Forward(FwdReasonStale)
	if cs.IsHit || cs.String() != "ATD; fwd=stale" {
		t.Fatalf("Status is %s", cs.String())
	}
}
