package logging

import "testing"

func TestNewProgressSampler(t *testing.T) {
	tests := []struct {
		name       string
		bucketSize int
		wantSize   int
	}{
		{"default bucket size for zero", 0, 10},
		{"default bucket size for negative", -1, 10},
		{"custom bucket size", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.bucketSize)
			if s.bucketSize != tt.wantSize {
				t.Errorf("bucketSize = %v, want %v", s.bucketSize, tt.wantSize)
			}
			if s.lastBucket != -1 {
				t.Errorf("lastBucket = %d, want -1", s.lastBucket)
			}
		})
	}
}

func TestProgressSamplerNilSampler(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "hardware") {
		t.Error("ShouldLog on nil sampler should always return true")
	}
	s.Reset()
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(10)

	if !s.ShouldLog(0, "hardware") {
		t.Error("first update should log")
	}
	if s.ShouldLog(5, "hardware") {
		t.Error("same bucket should not log")
	}
	if !s.ShouldLog(12, "hardware") {
		t.Error("crossing into the next bucket should log")
	}
	if s.ShouldLog(9, "hardware") {
		t.Error("regressing percent should not log")
	}
	if !s.ShouldLog(150, "hardware") {
		t.Error("completion should log")
	}
	if s.ShouldLog(100, "hardware") {
		t.Error("values above 100 share the final bucket")
	}
}

func TestProgressSamplerAttemptChangeResets(t *testing.T) {
	s := NewProgressSampler(10)
	s.ShouldLog(40, "hardware")

	if !s.ShouldLog(0, "software") {
		t.Error("attempt change should log")
	}
	if !s.ShouldLog(10, "software") {
		t.Error("bucket tracking should restart for a new attempt")
	}
	if s.ShouldLog(-1, "software") {
		t.Error("unknown percent should not log without an attempt change")
	}

	s.Reset()
	if s.lastAttempt != "" || s.lastBucket != -1 {
		t.Errorf("Reset left state: attempt=%q bucket=%d", s.lastAttempt, s.lastBucket)
	}
}
