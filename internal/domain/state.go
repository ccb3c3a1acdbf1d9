// Package domain contains the shared display state and the patches that mutate it.
package domain

import (
	"encoding/json"
	"maps"
)

type ServiceStatus string

const (
	ServiceOnline  ServiceStatus = "online"
	ServiceOffline ServiceStatus = "offline"
)

func (s ServiceStatus) Valid() bool {
	return s == ServiceOnline || s == ServiceOffline
}

type SourceKind string

const (
	SourceNone          SourceKind = "none"
	SourceUploadedFile  SourceKind = "uploadedFile"
	SourceEmbeddedFrame SourceKind = "embeddedFrame"
	SourceDisabled      SourceKind = "explicitlyDisabled"
)

func (k SourceKind) Valid() bool {
	switch k {
	case SourceNone, SourceUploadedFile, SourceEmbeddedFrame, SourceDisabled:
		return true
	}
	return false
}

type PlaybackState string

const (
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
)

func (p PlaybackState) Valid() bool {
	return p == PlaybackPlaying || p == PlaybackPaused
}

// EventName names a one-shot signal carried in SharedState.OneShotEvents.
type EventName string

const (
	EventAnnouncement EventName = "announcementRequested"
	EventStopBooking  EventName = "stopBookingRequested"
)

type Stop struct {
	Name     string `json:"name"`
	Subtitle string `json:"subtitle,omitempty"`
	AudioRef string `json:"audioRef,omitempty"`
}

type Route struct {
	DestinationLabel string `json:"destinationLabel"`
	Stops            []Stop `json:"stops"`
}

// RouteTable maps an uppercase route id to its route.
type RouteTable map[string]Route

type MediaDescriptor struct {
	SourceKind    SourceKind `json:"sourceKind"`
	Reference     string     `json:"reference,omitempty"`
	LastChangedAt int64      `json:"lastChangedAt"`
}

// Seek is a one-shot relative seek request. FiredAt is Unix milliseconds.
type Seek struct {
	DeltaSeconds float64 `json:"deltaSeconds"`
	FiredAt      int64   `json:"firedAt"`
}

type PlaybackIntent struct {
	State       PlaybackState `json:"state"`
	Volume      float64       `json:"volume"`
	PendingSeek *Seek         `json:"pendingSeek"`
}

// OneShot marks a fire-once signal. FiredAt is Unix milliseconds.
type OneShot struct {
	FiredAt int64 `json:"firedAt"`
}

type OneShotEvents map[EventName]OneShot

// SharedState is the single document every display renders from.
// Extensions holds top-level fields this version does not know about;
// they are merged and echoed verbatim.
type SharedState struct {
	RouteTable        RouteTable
	ActiveRouteID     string
	ActiveStopIndex   int
	ServiceStatus     ServiceStatus
	Media             MediaDescriptor
	Playback          PlaybackIntent
	ScrollingMessages []string
	OneShotEvents     OneShotEvents
	Extensions        map[string]json.RawMessage
}

// NewSharedState returns the empty state a fresh process starts with.
func NewSharedState() SharedState {
	return SharedState{
		RouteTable:        RouteTable{},
		ServiceStatus:     ServiceOnline,
		Media:             MediaDescriptor{SourceKind: SourceNone},
		Playback:          PlaybackIntent{State: PlaybackPlaying, Volume: 1},
		ScrollingMessages: []string{},
		OneShotEvents:     OneShotEvents{},
		Extensions:        map[string]json.RawMessage{},
	}
}

// Apply overwrites every field present in p. Nested values are replaced, not merged.
func (s *SharedState) Apply(p Patch) {
	v := p.values
	for f := range p.set {
		switch f {
		case FieldRouteTable:
			s.RouteTable = cloneRouteTable(v.RouteTable)
		case FieldActiveRouteID:
			s.ActiveRouteID = v.ActiveRouteID
		case FieldActiveStopIndex:
			s.ActiveStopIndex = v.ActiveStopIndex
		case FieldServiceStatus:
			s.ServiceStatus = v.ServiceStatus
		case FieldMediaDescriptor:
			s.Media = v.Media
		case FieldPlaybackIntent:
			s.Playback = clonePlayback(v.Playback)
		case FieldScrollingMessages:
			s.ScrollingMessages = append([]string{}, v.ScrollingMessages...)
		case FieldOneShotEvents:
			s.OneShotEvents = maps.Clone(v.OneShotEvents)
			if s.OneShotEvents == nil {
				s.OneShotEvents = OneShotEvents{}
			}
		}
	}
	if len(v.Extensions) > 0 && s.Extensions == nil {
		s.Extensions = make(map[string]json.RawMessage, len(v.Extensions))
	}
	for k, raw := range v.Extensions {
		s.Extensions[k] = append(json.RawMessage(nil), raw...)
	}
}

// Clone returns a deep copy that shares no memory with s.
func (s SharedState) Clone() SharedState {
	out := s
	out.RouteTable = cloneRouteTable(s.RouteTable)
	out.Playback = clonePlayback(s.Playback)
	out.ScrollingMessages = append([]string{}, s.ScrollingMessages...)
	out.OneShotEvents = maps.Clone(s.OneShotEvents)
	if out.OneShotEvents == nil {
		out.OneShotEvents = OneShotEvents{}
	}
	out.Extensions = make(map[string]json.RawMessage, len(s.Extensions))
	for k, raw := range s.Extensions {
		out.Extensions[k] = append(json.RawMessage(nil), raw...)
	}
	return out
}

func cloneRouteTable(rt RouteTable) RouteTable {
	out := make(RouteTable, len(rt))
	for id, r := range rt {
		out[id] = Route{
			DestinationLabel: r.DestinationLabel,
			Stops:            append([]Stop{}, r.Stops...),
		}
	}
	return out
}

func clonePlayback(p PlaybackIntent) PlaybackIntent {
	if p.PendingSeek != nil {
		seek := *p.PendingSeek
		p.PendingSeek = &seek
	}
	return p
}

type sharedStateJSON struct {
	RouteTable        RouteTable      `json:"routeTable"`
	ActiveRouteID     *string         `json:"activeRouteId"`
	ActiveStopIndex   int             `json:"activeStopIndex"`
	ServiceStatus     ServiceStatus   `json:"serviceStatus"`
	Media             MediaDescriptor `json:"mediaDescriptor"`
	Playback          PlaybackIntent  `json:"playbackIntent"`
	ScrollingMessages []string        `json:"scrollingMessages"`
	OneShotEvents     OneShotEvents   `json:"oneShotEvents"`
}

func (s SharedState) wire() sharedStateJSON {
	w := sharedStateJSON{
		RouteTable:        s.RouteTable,
		ActiveStopIndex:   s.ActiveStopIndex,
		ServiceStatus:     s.ServiceStatus,
		Media:             s.Media,
		Playback:          s.Playback,
		ScrollingMessages: s.ScrollingMessages,
		OneShotEvents:     s.OneShotEvents,
	}
	if s.ActiveRouteID != "" {
		id := s.ActiveRouteID
		w.ActiveRouteID = &id
	}
	if w.RouteTable == nil {
		w.RouteTable = RouteTable{}
	}
	for id, r := range w.RouteTable {
		if r.Stops == nil {
			r.Stops = []Stop{}
			w.RouteTable[id] = r
		}
	}
	if w.ScrollingMessages == nil {
		w.ScrollingMessages = []string{}
	}
	if w.OneShotEvents == nil {
		w.OneShotEvents = OneShotEvents{}
	}
	return w
}

func (s SharedState) MarshalJSON() ([]byte, error) {
	w := s.Clone().wire()
	if len(s.Extensions) == 0 {
		return json.Marshal(w)
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	doc := make(map[string]json.RawMessage, len(s.Extensions)+len(knownFields))
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	for k, v := range s.Extensions {
		if _, known := doc[k]; !known {
			doc[k] = v
		}
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a full snapshot. Fields that fail to decode keep
// their empty-state value.
func (s *SharedState) UnmarshalJSON(data []byte) error {
	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = NewSharedState()
	s.Apply(p)
	return nil
}
