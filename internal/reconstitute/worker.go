package reconstitute

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sjpalmer/wikivandal/internal/models"
)

// Config holds the pipeline's per-operation tunables: the size-gate
// threshold, the abandon-after-N-consecutive-timeouts rule, the
// per-merge-call deadline, and the section worker concurrency cap.
// Sourced from config.Reconstitute so an operator's YAML/env overrides
// actually reach the merge loop instead of being shadowed by a hardcoded
// default.
type Config struct {
	SizeGateBytes          int
	MaxConsecutiveTimeouts int
	MergeDeadline          time.Duration
	MaxSectionConcurrency  int
}

// DefaultConfig returns the tunables used when no configuration is
// supplied, e.g. by tests that don't care about the production values.
func DefaultConfig() Config {
	return Config{
		SizeGateBytes:          1000,
		MaxConsecutiveTimeouts: 3,
		MergeDeadline:          500 * time.Millisecond,
		MaxSectionConcurrency:  16,
	}
}

// RunSection executes the per-section merge loop for one section: it
// walks candidates newest-first, fetching each pair's section text from
// fetcher, applying the size gate, and merging into acc. It returns the
// final section text, the terminal state (Abandoned or Done), and summary
// counters for metrics/history.
func RunSection(ctx context.Context, section models.Section, candidates []models.CandidatePair, fetcher RevisionContentFetcher, cfg Config, logger zerolog.Logger) models.SectionResult {
	log := logger.With().Int("section", section.Index).Logger()

	acc := section.Lines
	consecutiveTimeouts := 0
	vandalismsUsed := 0
	timedOut := 0
	sizeGateSkips := 0
	state := models.SectionActive

candidateLoop:
	for _, pair := range candidates {
		select {
		case <-ctx.Done():
			break candidateLoop
		default:
		}

		base, err := fetcher.FetchSection(ctx, pair.Clean.RevID, section.Index)
		if err != nil {
			log.Debug().Err(err).Int64("clean_rev", pair.Clean.RevID).Msg("skipping candidate: fetch of clean revision failed")
			continue
		}
		right, err := fetcher.FetchSection(ctx, pair.Vandal.RevID, section.Index)
		if err != nil {
			log.Debug().Err(err).Int64("vandal_rev", pair.Vandal.RevID).Msg("skipping candidate: fetch of vandal revision failed")
			continue
		}

		if sizeDelta(base, right) > cfg.SizeGateBytes {
			sizeGateSkips++
			continue
		}

		deadline := time.Now().Add(cfg.MergeDeadline)
		mergeCtx, cancel := context.WithDeadline(ctx, deadline)
		merged, err := Merge(mergeCtx, base, acc, right)
		cancel()

		if err == ErrMergeTimeout {
			timedOut++
			consecutiveTimeouts++
			log.Debug().Int64("vandal_rev", pair.Vandal.RevID).Int("consecutive_timeouts", consecutiveTimeouts).Msg("merge timed out")
			if consecutiveTimeouts >= cfg.MaxConsecutiveTimeouts {
				state = models.SectionAbandoned
				break candidateLoop
			}
			continue
		}
		if err != nil {
			log.Debug().Err(err).Int64("vandal_rev", pair.Vandal.RevID).Msg("skipping candidate: merge failed")
			continue
		}

		acc = merged
		consecutiveTimeouts = 0
		vandalismsUsed++
	}

	if state == models.SectionActive {
		state = models.SectionDone
	}

	return models.SectionResult{
		Index:          section.Index,
		Text:           joinLines(acc),
		State:          state,
		VandalismsUsed: vandalismsUsed,
		TimedOut:       timedOut,
		SizeGateSkips:  sizeGateSkips,
	}
}

func sizeDelta(a, b []string) int {
	la, lb := linesByteLen(a), linesByteLen(b)
	if la > lb {
		return la - lb
	}
	return lb - la
}

func linesByteLen(lines []string) int {
	n := 0
	for _, l := range lines {
		n += len(l) + 1 // +1 for the newline the lines were split on
	}
	return n
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
