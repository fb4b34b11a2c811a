// Package replicafakes provides in-memory remote and storage fakes for replica
// tests.
package replicafakes

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/louisbranch/replica/internal/services/replica/domain"
	"github.com/louisbranch/replica/internal/services/replica/engine"
)

// Remote is an in-memory remote event store. Events are kept oldest first and
// served newest first in pages whose token is the index to continue from.
type Remote struct {
	mu sync.Mutex

	Events   []domain.RemoteEvent
	Snapshot *domain.RemoteSnapshot
	// HideSequence omits the snapshot sequence metadata.
	HideSequence bool

	// SnapshotErr and PageErr fail the corresponding request when set.
	SnapshotErr error
	PageErr     error
	// FailPageAt fails the page request with this 1-based index in each walk.
	FailPageAt int

	SnapshotOpens   int
	SnapshotDecodes int
	SnapshotAborts  int
	PageRequests    int
	PageSizes       []int

	walkPage int
}

// NewRemote constructs a Remote holding events, oldest first.
func NewRemote(events ...domain.RemoteEvent) *Remote {
	return &Remote{Events: events}
}

// AddEvents appends events to the head of the history.
func (r *Remote) AddEvents(events ...domain.RemoteEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, events...)
}

// SetSnapshot replaces the snapshot served by OpenSnapshot.
func (r *Remote) SetSnapshot(snapshot domain.RemoteSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Snapshot = &snapshot
}

// OpenSnapshot implements engine.Remote.
func (r *Remote) OpenSnapshot(ctx context.Context) (engine.SnapshotResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SnapshotOpens++
	if r.SnapshotErr != nil {
		return nil, r.SnapshotErr
	}
	if r.Snapshot == nil {
		return nil, domain.ErrNoSnapshot
	}
	return &snapshotResponse{remote: r, snapshot: *r.Snapshot, hideSequence: r.HideSequence}, nil
}

// FetchEvents implements engine.Remote.
func (r *Remote) FetchEvents(ctx context.Context, pageToken string, limit int) (domain.EventPage, error) {
	if err := ctx.Err(); err != nil {
		return domain.EventPage{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PageRequests++
	r.PageSizes = append(r.PageSizes, limit)
	if pageToken == "" {
		r.walkPage = 0
	}
	r.walkPage++
	if r.PageErr != nil {
		return domain.EventPage{}, r.PageErr
	}
	if r.FailPageAt > 0 && r.walkPage == r.FailPageAt {
		return domain.EventPage{}, domain.TransportError("fetch events", fmt.Errorf("injected failure on page %d", r.walkPage))
	}
	if limit <= 0 {
		limit = engine.DefaultPageSize
	}

	start := len(r.Events) - 1
	if pageToken != "" {
		index, err := strconv.Atoi(pageToken)
		if err != nil || index >= len(r.Events) {
			return domain.EventPage{}, domain.TransportError("fetch events", fmt.Errorf("bad page token %q", pageToken))
		}
		start = index
	}

	var page domain.EventPage
	i := start
	for ; i >= 0 && len(page.Items) < limit; i-- {
		page.Items = append(page.Items, r.Events[i])
	}
	if i >= 0 {
		page.HasMore = true
		page.NextPageToken = strconv.Itoa(i)
	}
	return page, nil
}

type snapshotResponse struct {
	remote       *Remote
	snapshot     domain.RemoteSnapshot
	hideSequence bool
	decoded      bool
	closed       bool
}

func (s *snapshotResponse) Sequence() (int64, bool) {
	if s.hideSequence {
		return 0, false
	}
	return s.snapshot.Sequence, true
}

func (s *snapshotResponse) EntityCount() (int64, bool) {
	return s.snapshot.TotalEntityCount, true
}

func (s *snapshotResponse) Decode() (domain.RemoteSnapshot, error) {
	if s.closed {
		return domain.RemoteSnapshot{}, fmt.Errorf("snapshot response closed")
	}
	s.remote.mu.Lock()
	s.remote.SnapshotDecodes++
	s.remote.mu.Unlock()
	s.decoded = true
	return s.snapshot, nil
}

func (s *snapshotResponse) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.decoded {
		s.remote.mu.Lock()
		s.remote.SnapshotAborts++
		s.remote.mu.Unlock()
	}
	return nil
}

var _ engine.Remote = (*Remote)(nil)
