package display

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/busboard/internal/domain"
)

var (
	ErrUnknownRoute   = errors.New("unknown route")
	ErrNoActiveRoute  = errors.New("no active route")
	ErrStopOutOfRange = errors.New("stop index out of range")
)

type ProducerOption func(*Producer)

func WithProducerClock(now func() time.Time) ProducerOption {
	return func(p *Producer) { p.now = now }
}

// Producer is the control panel's model. Edits are staged locally and sent
// as one patch by Flush. One-shot triggers are stamped with a strictly
// increasing firedAt and forgotten once sent.
type Producer struct {
	mu sync.Mutex

	state    domain.SharedState
	dirty    map[domain.Field]struct{}
	events   domain.OneShotEvents
	seek     *domain.Seek
	lastFire int64
	now      func() time.Time
}

func NewProducer(initial domain.SharedState, opts ...ProducerOption) *Producer {
	p := &Producer{
		state:  initial.Clone(),
		dirty:  make(map[domain.Field]struct{}),
		events: domain.OneShotEvents{},
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Sync adopts a snapshot from the hub. Fields edited locally but not yet
// flushed keep their local value.
func (p *Producer) Sync(s domain.SharedState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := s.Clone()
	next.Apply(p.stagedLocked())
	p.state = next
}

func (p *Producer) State() domain.SharedState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Clone()
}

func (p *Producer) touch(f domain.Field) { p.dirty[f] = struct{}{} }

// stamp returns a firedAt in Unix milliseconds, strictly greater than the
// previous one.
func (p *Producer) stamp() int64 {
	ts := p.now().UnixMilli()
	if ts <= p.lastFire {
		ts = p.lastFire + 1
	}
	p.lastFire = ts
	return ts
}

func (p *Producer) SelectRoute(id string) error {
	id, err := domain.NormalizeRouteID(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.state.RouteTable[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoute, id)
	}
	p.state.ActiveRouteID = id
	p.state.ActiveStopIndex = 0
	p.touch(domain.FieldActiveRouteID)
	p.touch(domain.FieldActiveStopIndex)
	return nil
}

// ClearRoute deselects the active route.
func (p *Producer) ClearRoute() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.ActiveRouteID = ""
	p.state.ActiveStopIndex = 0
	p.touch(domain.FieldActiveRouteID)
	p.touch(domain.FieldActiveStopIndex)
}

func (p *Producer) SelectStop(i int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	route, _, _, ok := p.state.ActiveStop()
	if !ok {
		return ErrNoActiveRoute
	}
	if i < 0 || i >= len(route.Stops) {
		return fmt.Errorf("%w: %d of %d", ErrStopOutOfRange, i, len(route.Stops))
	}
	p.state.ActiveStopIndex = i
	p.touch(domain.FieldActiveStopIndex)
	return nil
}

// NextStop advances one stop. It reports false at the last stop.
func (p *Producer) NextStop() (bool, error) {
	return p.step(1)
}

// PrevStop goes back one stop. It reports false at the first stop.
func (p *Producer) PrevStop() (bool, error) {
	return p.step(-1)
}

func (p *Producer) step(delta int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	route, index, _, ok := p.state.ActiveStop()
	if !ok {
		return false, ErrNoActiveRoute
	}
	next := index + delta
	if next < 0 || next >= len(route.Stops) {
		return false, nil
	}
	p.state.ActiveStopIndex = next
	p.touch(domain.FieldActiveStopIndex)
	return true, nil
}

// PutRoute adds or replaces a route after validating it.
func (p *Producer) PutRoute(id string, r domain.Route) error {
	id, err := domain.NormalizeRouteID(id)
	if err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("route %s: %w", id, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rt := maps.Clone(p.state.RouteTable)
	if rt == nil {
		rt = domain.RouteTable{}
	}
	rt[id] = domain.Route{DestinationLabel: r.DestinationLabel, Stops: append([]domain.Stop{}, r.Stops...)}
	p.state.RouteTable = rt
	p.touch(domain.FieldRouteTable)
	if p.state.ActiveRouteID == id {
		p.state.ActiveStopIndex = domain.ClampStopIndex(p.state.ActiveStopIndex, len(r.Stops))
		p.touch(domain.FieldActiveStopIndex)
	}
	return nil
}

// DeleteRoute removes a route. Deleting the active route also deselects it.
func (p *Producer) DeleteRoute(id string) error {
	id, err := domain.NormalizeRouteID(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.state.RouteTable[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoute, id)
	}
	rt := maps.Clone(p.state.RouteTable)
	delete(rt, id)
	p.state.RouteTable = rt
	p.touch(domain.FieldRouteTable)
	if p.state.ActiveRouteID == id {
		p.state.ActiveRouteID = ""
		p.state.ActiveStopIndex = 0
		p.touch(domain.FieldActiveRouteID)
		p.touch(domain.FieldActiveStopIndex)
	}
	return nil
}

func (p *Producer) SetMessages(msgs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.ScrollingMessages = append([]string{}, msgs...)
	p.touch(domain.FieldScrollingMessages)
}

func (p *Producer) SetServiceStatus(s domain.ServiceStatus) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrBadEnum, s)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.ServiceStatus = s
	p.touch(domain.FieldServiceStatus)
	return nil
}

// SetMedia points the displays at a new media source and bumps
// lastChangedAt so they reload even when the reference is unchanged.
func (p *Producer) SetMedia(kind domain.SourceKind, ref string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrBadEnum, kind)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Media = domain.MediaDescriptor{SourceKind: kind, Reference: ref, LastChangedAt: p.stamp()}
	p.touch(domain.FieldMediaDescriptor)
	return nil
}

func (p *Producer) SetPlayback(state domain.PlaybackState, volume float64) error {
	if !state.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrBadEnum, state)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Playback.State = state
	p.state.Playback.Volume = domain.ClampVolume(volume)
	p.touch(domain.FieldPlaybackIntent)
	return nil
}

func (p *Producer) Announce() {
	p.fire(domain.EventAnnouncement)
}

func (p *Producer) RequestStop() {
	p.fire(domain.EventStopBooking)
}

func (p *Producer) fire(name domain.EventName) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[name] = domain.OneShot{FiredAt: p.stamp()}
}

func (p *Producer) Seek(deltaSeconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seek = &domain.Seek{DeltaSeconds: deltaSeconds, FiredAt: p.stamp()}
}

// stagedLocked builds the patch for everything edited since the last flush.
func (p *Producer) stagedLocked() domain.Patch {
	patch := domain.NewPatch()
	for f := range p.dirty {
		switch f {
		case domain.FieldRouteTable:
			patch = patch.SetRouteTable(p.state.RouteTable)
		case domain.FieldActiveRouteID:
			patch = patch.SetActiveRoute(p.state.ActiveRouteID)
		case domain.FieldActiveStopIndex:
			patch = patch.SetActiveStopIndex(p.state.ActiveStopIndex)
		case domain.FieldServiceStatus:
			patch = patch.SetServiceStatus(p.state.ServiceStatus)
		case domain.FieldMediaDescriptor:
			patch = patch.SetMedia(p.state.Media)
		case domain.FieldPlaybackIntent:
			patch = patch.SetPlayback(p.playbackLocked())
		case domain.FieldScrollingMessages:
			patch = patch.SetScrollingMessages(p.state.ScrollingMessages)
		}
	}
	if p.seek != nil && !patch.Has(domain.FieldPlaybackIntent) {
		patch = patch.SetPlayback(p.playbackLocked())
	}
	if len(p.events) > 0 {
		ev := maps.Clone(p.state.OneShotEvents)
		if ev == nil {
			ev = domain.OneShotEvents{}
		}
		maps.Copy(ev, p.events)
		patch = patch.SetOneShotEvents(ev)
	}
	return patch
}

// playbackLocked is the outgoing playback intent. A pending seek rides
// along only until it is flushed.
func (p *Producer) playbackLocked() domain.PlaybackIntent {
	pi := p.state.Playback
	pi.PendingSeek = nil
	if p.seek != nil {
		seek := *p.seek
		pi.PendingSeek = &seek
	}
	return pi
}

// Flush sends the staged patch. Nothing is sent when nothing was staged.
// On a send error the edits and triggers stay staged.
func (p *Producer) Flush(send func(domain.Patch) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	patch := p.stagedLocked()
	if patch.IsEmpty() {
		return nil
	}
	if err := send(patch); err != nil {
		return err
	}
	log.Debug().Str("module", "producer").Interface("fields", patch.Fields()).Msg("patch flushed")
	p.state.Apply(patch)
	p.state.Playback.PendingSeek = nil
	clear(p.dirty)
	clear(p.events)
	p.seek = nil
	return nil
}
