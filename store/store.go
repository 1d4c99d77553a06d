package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/repnote/repnote/internal/profile"
)

// Driver provides durable access to the single workout-log slot.
type Driver interface {
	// LoadLogSlot returns the raw persisted payload, or nil when the slot
	// has never been written.
	LoadLogSlot(ctx context.Context) ([]byte, error)
	SaveLogSlot(ctx context.Context, payload []byte) error
	ClearLogSlot(ctx context.Context) error

	Migrate(ctx context.Context) error
	Close() error
}

// slotVersion is the current payload envelope version.
const slotVersion = 1

// notesSeparator joins existing and candidate notes on a same-day merge.
const notesSeparator = " | "

// logSlot is the persisted payload envelope. Earlier releases wrote a bare
// JSON array of logs; decodeSlot still accepts that shape.
type logSlot struct {
	Version int           `json:"version"`
	Logs    []*WorkoutLog `json:"logs"`
}

// Store owns the durable workout-log collection. All mutation goes through
// MergeWrite and is serialized internally, independent of any caller-side
// single-flight guarantees.
type Store struct {
	driver  Driver
	profile *profile.Profile

	mu sync.Mutex

	// Overridable for tests.
	now   func() time.Time
	newID func() string
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// ReadAll returns the full collection, most-recently-updated first.
// A missing, corrupted or unreadable slot yields an empty collection; this
// method never fails.
func (s *Store) ReadAll(ctx context.Context) []*WorkoutLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

// MergeResult reports the outcome of a MergeWrite.
type MergeResult struct {
	Entry *WorkoutLog
	// Merged is true when the candidate was folded into an existing entry
	// for the same calendar date, false when a new entry was inserted.
	Merged bool
}

// MergeWrite files the candidate under its resolved calendar date.
//
// The resolved date is the candidate's own date when present, otherwise the
// local calendar date at the time of the call. Local time (not UTC) keeps
// late-evening entries on the right day for users in non-UTC zones.
//
// A candidate targeting a date that already has an entry is folded into it:
// exercises are appended in order, durations and notes are concatenated,
// and the workout type is promoted to "mixed" when the types disagree. The
// written entry always moves to the front of the collection. The write is
// all-or-nothing: a persistence failure leaves the stored collection intact.
func (s *Store) MergeWrite(ctx context.Context, candidate *WorkoutLog) (*MergeResult, error) {
	if candidate == nil {
		return nil, errors.New("nil workout log candidate")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logs := s.loadLocked(ctx)
	now := s.now()

	resolvedDate := now.Format("2006-01-02")
	if candidate.Date != nil && *candidate.Date != "" {
		resolvedDate = *candidate.Date
	}

	idx := -1
	for i, entry := range logs {
		if entry.Date != nil && *entry.Date == resolvedDate {
			idx = i
			break
		}
	}

	var result *MergeResult
	if idx < 0 {
		entry := &WorkoutLog{
			ID:          s.newID(),
			Exercises:   candidate.Exercises,
			WorkoutType: candidate.WorkoutType,
			Duration:    candidate.Duration,
			Date:        &resolvedDate,
			Notes:       candidate.Notes,
			Timestamp:   now,
		}
		logs = append([]*WorkoutLog{entry}, logs...)
		result = &MergeResult{Entry: entry, Merged: false}
	} else {
		entry := logs[idx]
		mergeInto(entry, candidate)
		entry.Timestamp = now
		logs = append(logs[:idx], logs[idx+1:]...)
		logs = append([]*WorkoutLog{entry}, logs...)
		result = &MergeResult{Entry: entry, Merged: true}
	}

	if err := s.saveLocked(ctx, logs); err != nil {
		return nil, errors.Wrap(err, "failed to persist workout logs")
	}

	slog.Debug("workout log written",
		"date", resolvedDate,
		"merged", result.Merged,
		"exercises", len(result.Entry.Exercises),
		"total_entries", len(logs))
	return result, nil
}

// Clear irrecoverably empties the durable collection.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver.ClearLogSlot(ctx)
}

// mergeInto folds the candidate into the existing same-date entry.
func mergeInto(existing, candidate *WorkoutLog) {
	existing.Exercises = append(existing.Exercises, candidate.Exercises...)

	switch {
	case existing.Duration != nil && candidate.Duration != nil:
		combined := *existing.Duration + " + " + *candidate.Duration
		existing.Duration = &combined
	case candidate.Duration != nil:
		existing.Duration = candidate.Duration
	}

	switch {
	case existing.Notes != nil && candidate.Notes != nil:
		combined := *existing.Notes + notesSeparator + *candidate.Notes
		existing.Notes = &combined
	case candidate.Notes != nil:
		existing.Notes = candidate.Notes
	}

	if existing.WorkoutType == "" {
		existing.WorkoutType = candidate.WorkoutType
	} else if candidate.WorkoutType != "" &&
		candidate.WorkoutType != existing.WorkoutType &&
		candidate.WorkoutType != WorkoutTypeMixed {
		existing.WorkoutType = WorkoutTypeMixed
	}
}

func (s *Store) loadLocked(ctx context.Context) []*WorkoutLog {
	payload, err := s.driver.LoadLogSlot(ctx)
	if err != nil {
		slog.Warn("failed to load workout log slot, treating as empty", "error", err)
		return nil
	}
	if len(payload) == 0 {
		return nil
	}

	logs, err := decodeSlot(payload)
	if err != nil {
		slog.Warn("corrupted workout log slot, treating as empty", "error", err)
		return nil
	}
	return logs
}

func (s *Store) saveLocked(ctx context.Context, logs []*WorkoutLog) error {
	payload, err := json.Marshal(&logSlot{Version: slotVersion, Logs: logs})
	if err != nil {
		return errors.Wrap(err, "failed to encode workout log slot")
	}
	return s.driver.SaveLogSlot(ctx, payload)
}

// decodeSlot accepts both the current versioned envelope and the legacy
// unversioned bare-array payload.
func decodeSlot(payload []byte) ([]*WorkoutLog, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "[") {
		var logs []*WorkoutLog
		if err := json.Unmarshal(payload, &logs); err != nil {
			return nil, errors.Wrap(err, "failed to decode legacy workout log array")
		}
		return logs, nil
	}

	var slot logSlot
	if err := json.Unmarshal(payload, &slot); err != nil {
		return nil, errors.Wrap(err, "failed to decode workout log slot")
	}
	return slot.Logs, nil
}
