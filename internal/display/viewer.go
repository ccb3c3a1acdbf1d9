package display

import (
	"slices"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/busboard/internal/domain"
	"github.com/dkeye/busboard/internal/protocol"
)

const seekKey = "pendingSeek"

// stopView is what the stop area currently shows.
type stopView struct {
	routeID string
	label   string
	index   int
	stop    domain.Stop
	hasStop bool
}

func resolveStop(s domain.SharedState) stopView {
	route, index, hasStop, ok := s.ActiveStop()
	if !ok {
		return stopView{}
	}
	v := stopView{routeID: s.ActiveRouteID, label: route.DestinationLabel, index: index, hasStop: hasStop}
	if hasStop {
		v.stop = route.Stops[index]
	}
	return v
}

// Viewer turns the snapshots a display receives into render effects.
// The first snapshot after a (re)connect renders everything and primes the
// event marks, so a trigger already in the state is not replayed.
type Viewer struct {
	tracker *EventTracker

	primed  bool
	version uint64
	last    domain.SharedState
	stop    stopView
}

func NewViewer() *Viewer {
	return &Viewer{tracker: NewEventTracker()}
}

// Reconnected forgets the rendered state but keeps the event marks. The
// next snapshot is treated as initial.
func (v *Viewer) Reconnected() {
	v.primed = false
	v.version = 0
}

// State returns the last applied snapshot.
func (v *Viewer) State() (domain.SharedState, uint64, bool) {
	return v.last.Clone(), v.version, v.primed
}

// Apply consumes one snapshot. Snapshots older than the last applied one
// are ignored.
func (v *Viewer) Apply(kind protocol.Type, version uint64, s domain.SharedState) []Effect {
	if v.primed && version < v.version {
		log.Debug().Str("module", "display").Uint64("version", version).Uint64("have", v.version).Msg("stale snapshot ignored")
		return nil
	}
	if !v.primed || kind == protocol.TypeInitialState {
		return v.initial(version, s)
	}
	return v.update(version, s)
}

func (v *Viewer) initial(version uint64, s domain.SharedState) []Effect {
	for name, shot := range s.OneShotEvents {
		v.tracker.Prime(string(name), shot.FiredAt)
	}
	if seek := s.Playback.PendingSeek; seek != nil {
		v.tracker.Prime(seekKey, seek.FiredAt)
	}

	var out []Effect
	out = append(out, serviceEffect(s.ServiceStatus))
	sv := resolveStop(s)
	out = append(out, renderEffect(sv, DirectionNone))
	out = append(out,
		SetMessages{Messages: slices.Clone(s.ScrollingMessages)},
		ReloadMedia{Descriptor: s.Media},
		SetPlayback{State: s.Playback.State, Volume: s.Playback.Volume},
	)

	v.primed = true
	v.version = version
	v.last = s.Clone()
	v.stop = sv
	return out
}

func (v *Viewer) update(version uint64, s domain.SharedState) []Effect {
	prev := v.last
	var out []Effect

	if s.ServiceStatus != prev.ServiceStatus {
		out = append(out, serviceEffect(s.ServiceStatus))
	}

	sv := resolveStop(s)
	if sv != v.stop {
		moved := sv.routeID != v.stop.routeID || sv.index != v.stop.index
		dir := DirectionNone
		if moved && sv.routeID == v.stop.routeID {
			if sv.index > v.stop.index {
				dir = DirectionNext
			} else {
				dir = DirectionPrev
			}
		}
		out = append(out, renderEffect(sv, dir))
		if moved && sv.hasStop && sv.stop.AudioRef != "" {
			out = append(out, PlayStopAudio{Ref: sv.stop.AudioRef})
		}
	}

	if !slices.Equal(s.ScrollingMessages, prev.ScrollingMessages) {
		out = append(out, SetMessages{Messages: slices.Clone(s.ScrollingMessages)})
	}

	if mediaChanged(prev.Media, s.Media) {
		out = append(out, ReloadMedia{Descriptor: s.Media})
	}

	if s.Playback.State != prev.Playback.State || s.Playback.Volume != prev.Playback.Volume {
		out = append(out, SetPlayback{State: s.Playback.State, Volume: s.Playback.Volume})
	}
	if seek := s.Playback.PendingSeek; seek != nil && v.tracker.Observe(seekKey, seek.FiredAt) {
		out = append(out, Seek{DeltaSeconds: seek.DeltaSeconds, FiredAt: seek.FiredAt})
	}

	names := make([]string, 0, len(s.OneShotEvents))
	for name := range s.OneShotEvents {
		names = append(names, string(name))
	}
	sort.Strings(names)
	for _, name := range names {
		shot := s.OneShotEvents[domain.EventName(name)]
		if !v.tracker.Observe(name, shot.FiredAt) {
			continue
		}
		switch domain.EventName(name) {
		case domain.EventAnnouncement:
			out = append(out, PlayAnnouncement{FiredAt: shot.FiredAt})
		case domain.EventStopBooking:
			out = append(out, PlayBookingChime{FiredAt: shot.FiredAt})
		default:
			out = append(out, EventFired{Name: domain.EventName(name), FiredAt: shot.FiredAt})
		}
	}

	v.version = version
	v.last = s.Clone()
	v.stop = sv
	return out
}

func serviceEffect(s domain.ServiceStatus) Effect {
	if s == domain.ServiceOffline {
		return ServiceOffline{}
	}
	return ServiceOnline{}
}

func renderEffect(sv stopView, dir Direction) Effect {
	if !sv.hasStop {
		return Blank{}
	}
	return RenderStop{
		RouteID:          sv.routeID,
		DestinationLabel: sv.label,
		Index:            sv.index,
		Stop:             sv.stop,
		Direction:        dir,
	}
}

func mediaChanged(prev, next domain.MediaDescriptor) bool {
	return next.SourceKind != prev.SourceKind ||
		next.Reference != prev.Reference ||
		next.LastChangedAt > prev.LastChangedAt
}
