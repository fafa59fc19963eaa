package store

import (
	"errors"
	"fmt"
	"time"

	"lsmkv/pkg/command"
	"lsmkv/pkg/memtable"
	"lsmkv/pkg/segment"
)

// maybeCompact merges every segment into one once there are more than
// compact_threshold of them. This is a single-tier full merge, not leveled
// compaction. The caller holds the write lock.
func (s *Store) maybeCompact() error {
	if len(s.segments) <= s.cfg.Persistence.Segment.CompactThreshold {
		return nil
	}
	return s.compact()
}

func (s *Store) compact() error {
	start := time.Now()

	s.immSegments = s.segments
	s.segments = nil

	// immSegments is newest first: the first command seen for a key wins
	merged := memtable.New()
	for _, seg := range s.immSegments {
		err := seg.Scan(func(c command.Command) bool {
			merged.ApplyIfAbsent(c)
			return true
		})
		if err != nil {
			s.segments = append(s.segments, s.immSegments...)
			s.immSegments = nil
			return fmt.Errorf("failed to compact segments: %w", err)
		}
	}

	var out *segment.Segment
	if merged.Len() > 0 {
		var err error
		out, err = s.writeSegment(merged.Sorted())
		if err != nil {
			s.segments = append(s.segments, s.immSegments...)
			s.immSegments = nil
			return fmt.Errorf("failed to write compacted segment: %w", err)
		}
	}

	inputs := s.immSegments
	s.immSegments = nil

	var errs []error
	for _, seg := range inputs {
		if err := seg.Remove(); err != nil {
			errs = append(errs, err)
		}
	}

	if out != nil {
		s.segments = append([]*segment.Segment{out}, s.segments...)
	}

	s.metrics.Compactions.Inc()
	s.metrics.CompactionDuration.Observe(time.Since(start).Seconds())
	s.metrics.Segments.Set(float64(len(s.segments)))

	output := ""
	if out != nil {
		output = out.Path()
	}
	s.log.Info("segments compacted",
		"inputs", len(inputs),
		"keys", merged.Len(),
		"output", output,
		"duration", time.Since(start),
	)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to remove compacted segments: %w", err)
	}
	return nil
}
