package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodePatch(t *testing.T, raw string) Patch {
	t.Helper()
	var p Patch
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return p
}

func TestApply_LaterWritesWin(t *testing.T) {
	base := NewSharedState()
	base.ScrollingMessages = []string{"keep me"}

	p1 := NewPatch().SetActiveRoute("3").SetActiveStopIndex(2)
	p2 := NewPatch().SetActiveStopIndex(5).SetServiceStatus(ServiceOffline)

	s := base.Clone()
	s.Apply(p1)
	s.Apply(p2)

	assert.Equal(t, "3", s.ActiveRouteID)
	assert.Equal(t, 5, s.ActiveStopIndex)
	assert.Equal(t, ServiceOffline, s.ServiceStatus)
	assert.Equal(t, []string{"keep me"}, s.ScrollingMessages)
	assert.Equal(t, base.Playback, s.Playback)
}

func TestApply_Idempotent(t *testing.T) {
	p := NewPatch().
		SetRouteTable(RouteTable{"3": {DestinationLabel: "DOWNTOWN", Stops: []Stop{{Name: "A"}}}}).
		SetOneShotEvents(OneShotEvents{EventAnnouncement: {FiredAt: 5}})

	once := NewSharedState()
	once.Apply(p)
	twice := NewSharedState()
	twice.Apply(p)
	twice.Apply(p)

	assert.Equal(t, once, twice)
}

func TestApply_ReplacesNestedValuesWholesale(t *testing.T) {
	s := NewSharedState()
	s.Apply(NewPatch().SetRouteTable(RouteTable{
		"1": {DestinationLabel: "NORTH", Stops: []Stop{{Name: "A"}}},
		"2": {DestinationLabel: "SOUTH", Stops: []Stop{{Name: "B"}}},
	}))
	s.Apply(NewPatch().SetRouteTable(RouteTable{
		"2": {DestinationLabel: "SOUTH", Stops: []Stop{{Name: "C"}}},
	}))

	require.Len(t, s.RouteTable, 1)
	assert.Equal(t, "C", s.RouteTable["2"].Stops[0].Name)
}

func TestApply_DoesNotAliasPatch(t *testing.T) {
	stops := []Stop{{Name: "A"}}
	p := NewPatch().SetRouteTable(RouteTable{"3": {Stops: stops}})
	s := NewSharedState()
	s.Apply(p)

	stops[0].Name = "mutated"
	assert.Equal(t, "A", s.RouteTable["3"].Stops[0].Name)
}

func TestPatch_MalformedFieldIsSkipped(t *testing.T) {
	p := decodePatch(t, `{"activeStopIndex":"x","serviceStatus":"offline","playbackIntent":{"state":"rewinding"}}`)

	assert.True(t, p.Has(FieldServiceStatus))
	assert.False(t, p.Has(FieldActiveStopIndex))
	assert.False(t, p.Has(FieldPlaybackIntent))
	require.Len(t, p.Rejected, 2)
	assert.Equal(t, "activeStopIndex", p.Rejected[0].Field)
	assert.Equal(t, "playbackIntent", p.Rejected[1].Field)
	assert.ErrorIs(t, p.Rejected[1], ErrBadEnum)

	s := NewSharedState()
	s.ActiveStopIndex = 3
	s.Apply(p)
	assert.Equal(t, 3, s.ActiveStopIndex)
	assert.Equal(t, ServiceOffline, s.ServiceStatus)
}

func TestPatch_UnknownFieldsAreKept(t *testing.T) {
	p := decodePatch(t, `{"foo":{"bar":1},"activeRouteId":"3"}`)
	assert.Empty(t, p.Rejected)

	s := NewSharedState()
	s.Apply(p)

	out, err := json.Marshal(s)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.JSONEq(t, `{"bar":1}`, string(doc["foo"]))
	assert.JSONEq(t, `"3"`, string(doc["activeRouteId"]))
}

func TestPatch_NullActiveRouteClearsSelection(t *testing.T) {
	s := NewSharedState()
	s.ActiveRouteID = "3"
	s.Apply(decodePatch(t, `{"activeRouteId":null}`))
	assert.Equal(t, "", s.ActiveRouteID)
}

func TestPatch_NullEventsAreAbsent(t *testing.T) {
	p := decodePatch(t, `{"oneShotEvents":{"announcementRequested":null,"stopBookingRequested":{"firedAt":7}}}`)
	s := NewSharedState()
	s.Apply(p)

	_, ok := s.OneShotEvents[EventAnnouncement]
	assert.False(t, ok)
	assert.Equal(t, int64(7), s.OneShotEvents[EventStopBooking].FiredAt)
}

func TestPatch_VolumeIsClamped(t *testing.T) {
	p := decodePatch(t, `{"playbackIntent":{"state":"paused","volume":3.5}}`)
	s := NewSharedState()
	s.Apply(p)
	assert.Equal(t, PlaybackPaused, s.Playback.State)
	assert.Equal(t, 1.0, s.Playback.Volume)
}

func TestPatch_RejectsNonObject(t *testing.T) {
	var p Patch
	assert.ErrorIs(t, json.Unmarshal([]byte(`[1,2]`), &p), ErrPatchObject)
	assert.ErrorIs(t, json.Unmarshal([]byte(`null`), &p), ErrPatchObject)
}

func TestPatch_MarshalOnlySetFields(t *testing.T) {
	p := NewPatch().SetActiveStopIndex(1).SetActiveRoute("")
	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"activeStopIndex":1,"activeRouteId":null}`, string(out))

	back := decodePatch(t, string(out))
	assert.Equal(t, []Field{FieldActiveRouteID, FieldActiveStopIndex}, back.Fields())
}

func TestSharedState_RoundTripsThroughJSON(t *testing.T) {
	s := NewSharedState()
	s.Apply(NewPatch().
		SetRouteTable(RouteTable{"3": {DestinationLabel: "DOWNTOWN", Stops: []Stop{{Name: "A", AudioRef: "a.mp3"}}}}).
		SetActiveRoute("3").
		SetPlayback(PlaybackIntent{State: PlaybackPaused, Volume: 0.5, PendingSeek: &Seek{DeltaSeconds: -5, FiredAt: 11}}))

	out, err := json.Marshal(s)
	require.NoError(t, err)

	var back SharedState
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, s, back)
}
