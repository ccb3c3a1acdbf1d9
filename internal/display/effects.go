package display

import "github.com/dkeye/busboard/internal/domain"

// Effect is one thing a renderer must do in response to a snapshot.
type Effect interface {
	Kind() string
}

type Direction string

const (
	DirectionNone Direction = ""
	DirectionNext Direction = "next"
	DirectionPrev Direction = "prev"
)

type RenderStop struct {
	RouteID          string
	DestinationLabel string
	Index            int
	Stop             domain.Stop
	Direction        Direction
}

// Blank clears the stop area: no route is selected or it has no stops.
type Blank struct{}

type PlayStopAudio struct {
	Ref string
}

type PlayAnnouncement struct {
	FiredAt int64
}

type PlayBookingChime struct {
	FiredAt int64
}

// EventFired reports a one-shot event this renderer has no dedicated effect for.
type EventFired struct {
	Name    domain.EventName
	FiredAt int64
}

type Seek struct {
	DeltaSeconds float64
	FiredAt      int64
}

type ReloadMedia struct {
	Descriptor domain.MediaDescriptor
}

type SetPlayback struct {
	State  domain.PlaybackState
	Volume float64
}

type SetMessages struct {
	Messages []string
}

type ServiceOffline struct{}

type ServiceOnline struct{}

func (RenderStop) Kind() string       { return "render_stop" }
func (Blank) Kind() string            { return "blank" }
func (PlayStopAudio) Kind() string    { return "play_stop_audio" }
func (PlayAnnouncement) Kind() string { return "play_announcement" }
func (PlayBookingChime) Kind() string { return "play_booking_chime" }
func (EventFired) Kind() string       { return "event_fired" }
func (Seek) Kind() string             { return "seek" }
func (ReloadMedia) Kind() string      { return "reload_media" }
func (SetPlayback) Kind() string      { return "set_playback" }
func (SetMessages) Kind() string      { return "set_messages" }
func (ServiceOffline) Kind() string   { return "service_offline" }
func (ServiceOnline) Kind() string    { return "service_online" }
