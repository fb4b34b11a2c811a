package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/louisbranch/replica/internal/services/replica/domain"
	"go.opentelemetry.io/otel/attribute"
)

// Catchup integrates every remote event newer than state.Cursor and returns
// the persisted state with the number of events integrated.
//
// History is walked from the head backwards until the cursor is found or the
// remote reports no further pages. An unknown cursor therefore replays the
// whole history. Nothing is written until the walk finishes, so a failed walk
// leaves log and state untouched.
func (s *Syncer) Catchup(ctx context.Context, state domain.State) (_ domain.State, _ int, err error) {
	ctx, span := s.startSpan(ctx, "replica.catchup", state)
	defer func() { endSpan(span, err) }()

	pending, pages, found, err := s.walk(ctx, state.Cursor)
	span.SetAttributes(
		attribute.Int("replica.pages", pages),
		attribute.Bool("replica.cursor_found", found),
	)
	if err != nil {
		return state, 0, err
	}

	next := state
	integrated := len(pending)
	if integrated > 0 {
		// Buffered newest first; the log is chronological.
		slices.Reverse(pending)
		records := make([]domain.Record, 0, integrated)
		var creates int64
		for _, event := range pending {
			records = append(records, domain.EventRecord(event))
			if event.Kind == domain.EventKindCreate {
				creates++
			}
		}
		if err := s.log.Append(ctx, records); err != nil {
			return state, 0, domain.PersistenceError("catchup: append events", err)
		}
		next.Cursor = pending[integrated-1].EventID
		next.EntityCount += creates
	}
	next.LastPollTime = s.now()

	if err := s.states.SaveState(context.WithoutCancel(ctx), next); err != nil {
		if integrated > 0 {
			return state, 0, domain.StateDivergedError("catchup: save state after integrating events", err)
		}
		return state, 0, domain.PersistenceError("catchup: save state", err)
	}

	span.SetAttributes(attribute.Int("replica.integrated", integrated))
	if integrated > 0 {
		s.cfg.Logf("catchup integrated %d events over %d pages, cursor=%q", integrated, pages, next.Cursor)
	}
	return next, integrated, nil
}

// walk pages backwards through remote history and returns, newest first, the
// events after cursor.
func (s *Syncer) walk(ctx context.Context, cursor string) ([]domain.RemoteEvent, int, bool, error) {
	var (
		pending []domain.RemoteEvent
		seen    = make(map[string]struct{})
		token   string
		pages   int
	)
	for {
		page, err := s.remote.FetchEvents(ctx, token, s.cfg.PageSize)
		if err != nil {
			return nil, pages, false, fmt.Errorf("catchup: fetch page %d: %w", pages+1, err)
		}
		pages++

		for _, item := range page.Items {
			if cursor != "" && item.EventID == cursor {
				return pending, pages, true, nil
			}
			if item.EventID == "" {
				return nil, pages, false, domain.DecodeError(fmt.Sprintf("catchup: page %d", pages), fmt.Errorf("event without id"))
			}
			if _, dup := seen[item.EventID]; dup {
				return nil, pages, false, domain.DecodeError(fmt.Sprintf("catchup: page %d", pages), fmt.Errorf("event %q listed twice", item.EventID))
			}
			seen[item.EventID] = struct{}{}
			pending = append(pending, item)
		}

		if !page.HasMore {
			return pending, pages, false, nil
		}
		// Older history exists but cannot be reached; integrating only the
		// newer part would move the cursor past the missing events.
		if page.NextPageToken == "" {
			return nil, pages, false, domain.DecodeError(fmt.Sprintf("catchup: page %d", pages), fmt.Errorf("has_more without next_cursor"))
		}
		token = page.NextPageToken
	}
}
