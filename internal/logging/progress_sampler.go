package logging

import "strings"

// ProgressSampler suppresses repetitive encoder progress logs while preserving
// signal when the attempt or the percentage bucket changes.
type ProgressSampler struct {
	bucketSize  int
	lastAttempt string
	lastBucket  int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 10%) or when the attempt label changes.
func NewProgressSampler(bucketSize int) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress update should be logged. A negative
// percent means the duration is not known yet and only attempt changes emit.
func (s *ProgressSampler) ShouldLog(percent int, attempt string) bool {
	if s == nil {
		return true
	}
	attempt = strings.TrimSpace(attempt)
	emit := false
	if attempt != "" && attempt != s.lastAttempt {
		s.lastAttempt = attempt
		s.lastBucket = -1
		emit = true
	}
	if percent >= 0 {
		if percent > 100 {
			percent = 100
		}
		bucket := percent / s.bucketSize
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastAttempt = ""
	s.lastBucket = -1
}
