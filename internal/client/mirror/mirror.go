// Package mirror reconstructs a read-only view of the discovery session from
// the server's event stream and issues commands on the user's behalf.
//
// Everything here is derived view state. The server is the source of truth:
// the mirror is rebuilt from the subscribe-time snapshot on every connect and
// its gates are advisory, because the server re-validates every command.
package mirror

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/domain/events"
	"github.com/ahrav/sonolive/internal/infra/messaging/protocol"
)

// maxNotices bounds how many toasts are retained.
const maxNotices = 50

// Notice is a toast shown to the user. Errors carry the action that failed.
type Notice struct {
	Title    string
	Message  string
	Action   discovery.ActionKind
	Identity string
	IsError  bool
}

type actionKey struct {
	kind     discovery.ActionKind
	identity string
}

// Mirror is the local reconstruction of the session. It is safe for
// concurrent use.
type Mirror struct {
	mu sync.RWMutex

	seq        uint64
	synced     bool
	state      discovery.SessionState
	origin     discovery.SeedOrigin
	seeds      []string
	candidates []discovery.Candidate
	index      map[string]int
	pagination discovery.Pagination
	sources    discovery.PersonalSources
	library    []string
	previews   map[string]discovery.Preview
	samples    map[string]discovery.Sample
	notices    []Notice
	inflight   map[actionKey]struct{}
}

// New returns an empty mirror awaiting its first snapshot.
func New() *Mirror {
	m := &Mirror{}
	m.resetLocked()
	return m
}

// Reset discards all local state. The next snapshot rebuilds it.
func (m *Mirror) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Mirror) resetLocked() {
	m.seq = 0
	m.synced = false
	m.state = discovery.StateIdle
	m.origin = discovery.SeedOrigin{}
	m.seeds = nil
	m.candidates = nil
	m.index = make(map[string]int)
	m.pagination = discovery.Pagination{}
	m.sources = discovery.PersonalSources{}
	m.library = nil
	m.previews = make(map[string]discovery.Preview)
	m.samples = make(map[string]discovery.Sample)
	m.notices = nil
	m.inflight = make(map[actionKey]struct{})
}

// Apply folds one server frame into the mirror. Nothing sequenced is applied
// before the first snapshot. After it, session events at or below the last
// applied sequence number are ignored; replies and notices are not part of the
// snapshot and always apply.
func (m *Mirror) Apply(msg protocol.ServerMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Type == events.EventTypeSessionSnapshot {
		var snap discovery.Snapshot
		if err := decode(msg, &snap); err != nil {
			return err
		}
		m.applySnapshot(snap)
		return nil
	}

	if msg.Seq != 0 {
		if !m.synced {
			return nil
		}
		if msg.Type.SessionEvent() {
			if msg.Seq <= m.seq {
				return nil
			}
			m.seq = msg.Seq
		}
	}

	switch msg.Type {
	case events.EventTypeSessionStateUpdate:
		var p discovery.SessionStateUpdate
		if err := decode(msg, &p); err != nil {
			return err
		}
		m.state, m.pagination = p.State, p.Pagination
		if p.State == discovery.StateIdle {
			delete(m.inflight, actionKey{kind: discovery.ActionStop})
		}
		if p.State == discovery.StateRunning {
			delete(m.inflight, actionKey{kind: discovery.ActionStart})
		} else {
			m.clearRunActions()
		}

	case events.EventTypeCandidatesAppended:
		var p discovery.CandidatesAppended
		if err := decode(msg, &p); err != nil {
			return err
		}
		for _, c := range p.Candidates {
			m.upsert(c)
		}

	case events.EventTypeCandidatesUpdated:
		var p discovery.CandidatesUpdated
		if err := decode(msg, &p); err != nil {
			return err
		}
		for _, c := range p.Candidates {
			if i, ok := m.index[c.Identity]; ok {
				m.candidates[i] = c
			}
		}

	case events.EventTypeCandidateStatusChanged:
		var p discovery.CandidateStatusChanged
		if err := decode(msg, &p); err != nil {
			return err
		}
		if i, ok := m.index[p.Identity]; ok {
			m.candidates[i].Status = p.Status
		}
		delete(m.inflight, actionKey{discovery.ActionAddToLibrary, p.Identity})
		delete(m.inflight, actionKey{discovery.ActionRequestArtist, p.Identity})

	case events.EventTypeInitialLoadComplete:
		var p discovery.LoadComplete
		if err := decode(msg, &p); err != nil {
			return err
		}
		m.pagination.InitialLoadComplete = true
		m.pagination.HasMore = p.HasMore

	case events.EventTypeLoadMoreComplete:
		var p discovery.LoadComplete
		if err := decode(msg, &p); err != nil {
			return err
		}
		m.pagination.LoadMorePending = false
		m.pagination.HasMore = p.HasMore
		delete(m.inflight, actionKey{kind: discovery.ActionLoadMore})

	case events.EventTypePersonalSourceState:
		var p discovery.PersonalSourceStateUpdate
		if err := decode(msg, &p); err != nil {
			return err
		}
		m.sources = p.Sources.Clone()
		delete(m.inflight, actionKey{kind: discovery.ActionPollSources})

	case events.EventTypeSessionCleared:
		m.candidates = nil
		m.index = make(map[string]int)
		m.clearRunActions()

	case events.EventTypeActionError:
		var p discovery.ActionError
		if err := decode(msg, &p); err != nil {
			return err
		}
		delete(m.inflight, actionKey{p.ActionKind, p.Identity})
		m.notify(Notice{Title: "Action failed", Message: p.Message, Action: p.ActionKind, Identity: p.Identity, IsError: true})

	case events.EventTypeGenericNotice:
		var p discovery.GenericNotice
		if err := decode(msg, &p); err != nil {
			return err
		}
		m.notify(Notice{Title: p.Title, Message: p.Message})

	case events.EventTypePreviewResult:
		var p discovery.Preview
		if err := decode(msg, &p); err != nil {
			return err
		}
		m.previews[p.Identity] = p
		delete(m.inflight, actionKey{discovery.ActionFetchPreview, p.Identity})

	case events.EventTypeSampleResult:
		var p discovery.Sample
		if err := decode(msg, &p); err != nil {
			return err
		}
		m.samples[p.Identity] = p
		delete(m.inflight, actionKey{discovery.ActionFetchSample, p.Identity})

	case events.EventTypePromptAck:
		delete(m.inflight, actionKey{kind: discovery.ActionPromptSeed})

	case events.EventTypeSearchAck:
		delete(m.inflight, actionKey{kind: discovery.ActionSearchSeed})

	case events.EventTypeLibraryArtists:
		var p discovery.LibraryArtists
		if err := decode(msg, &p); err != nil {
			return err
		}
		m.library = slices.Clone(p.Artists)
		delete(m.inflight, actionKey{kind: discovery.ActionListLibrary})
	}
	return nil
}

func (m *Mirror) applySnapshot(snap discovery.Snapshot) {
	inflight := m.inflight
	m.resetLocked()
	// Requests sent before a resync are still outstanding on the server.
	m.inflight = inflight

	m.synced = true
	m.seq = snap.Seq
	m.state = snap.State
	m.origin = snap.Origin
	m.seeds = slices.Clone(snap.Seeds)
	m.pagination = snap.Pagination
	if snap.PersonalSources != nil {
		m.sources = snap.PersonalSources.Clone()
	}
	for _, c := range snap.Candidates {
		m.upsert(c)
	}
}

// clearRunActions forgets requests tied to the run that just ended. The
// server drops their completions once the run is gone.
func (m *Mirror) clearRunActions() {
	for k := range m.inflight {
		switch k.kind {
		case discovery.ActionLoadMore, discovery.ActionAddToLibrary, discovery.ActionRequestArtist:
			delete(m.inflight, k)
		}
	}
}

func (m *Mirror) upsert(c discovery.Candidate) {
	if i, ok := m.index[c.Identity]; ok {
		m.candidates[i] = c
		return
	}
	m.index[c.Identity] = len(m.candidates)
	m.candidates = append(m.candidates, c)
}

func (m *Mirror) notify(n Notice) {
	m.notices = append(m.notices, n)
	if over := len(m.notices) - maxNotices; over > 0 {
		m.notices = slices.Delete(m.notices, 0, over)
	}
}

func decode(msg protocol.ServerMessage, dst any) error {
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	return nil
}

// MarkInFlight records that kind was sent for identity. The flag clears when
// the matching result, status change or error arrives.
func (m *Mirror) MarkInFlight(kind discovery.ActionKind, identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight[actionKey{kind, identity}] = struct{}{}
}

// InFlight reports whether kind is outstanding for identity.
func (m *Mirror) InFlight(kind discovery.ActionKind, identity string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.inflight[actionKey{kind, identity}]
	return ok
}

// CanLoadMore gates the load-more affordance.
func (m *Mirror) CanLoadMore() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.pagination
	_, sent := m.inflight[actionKey{kind: discovery.ActionLoadMore}]
	return m.state == discovery.StateRunning && p.InitialLoadComplete && p.HasMore && !p.LoadMorePending && !sent
}

// CanAct reports whether a candidate still accepts add or request actions.
func (m *Mirror) CanAct(identity string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[identity]
	if !ok {
		return false
	}
	_, adding := m.inflight[actionKey{discovery.ActionAddToLibrary, identity}]
	_, requesting := m.inflight[actionKey{discovery.ActionRequestArtist, identity}]
	return !m.candidates[i].Status.IsTerminal() && !adding && !requesting
}

// View is an immutable copy of the mirror.
type View struct {
	Seq        uint64
	Synced     bool
	State      discovery.SessionState
	Origin     discovery.SeedOrigin
	Seeds      []string
	Candidates []discovery.Candidate
	Pagination discovery.Pagination
	Sources    discovery.PersonalSources
	Library    []string
	Notices    []Notice
}

// View returns a copy of the current state.
func (m *Mirror) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return View{
		Seq:        m.seq,
		Synced:     m.synced,
		State:      m.state,
		Origin:     m.origin,
		Seeds:      slices.Clone(m.seeds),
		Candidates: slices.Clone(m.candidates),
		Pagination: m.pagination,
		Sources:    m.sources.Clone(),
		Library:    slices.Clone(m.library),
		Notices:    slices.Clone(m.notices),
	}
}

// Preview returns the last biography received for identity.
func (m *Mirror) Preview(identity string) (discovery.Preview, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.previews[identity]
	return p, ok
}

// Sample returns the last sample received for identity.
func (m *Mirror) Sample(identity string) (discovery.Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.samples[identity]
	return s, ok
}
