package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Field is the wire name of a top-level SharedState field.
type Field string

const (
	FieldRouteTable        Field = "routeTable"
	FieldActiveRouteID     Field = "activeRouteId"
	FieldActiveStopIndex   Field = "activeStopIndex"
	FieldServiceStatus     Field = "serviceStatus"
	FieldMediaDescriptor   Field = "mediaDescriptor"
	FieldPlaybackIntent    Field = "playbackIntent"
	FieldScrollingMessages Field = "scrollingMessages"
	FieldOneShotEvents     Field = "oneShotEvents"
)

var knownFields = map[Field]struct{}{
	FieldRouteTable:        {},
	FieldActiveRouteID:     {},
	FieldActiveStopIndex:   {},
	FieldServiceStatus:     {},
	FieldMediaDescriptor:   {},
	FieldPlaybackIntent:    {},
	FieldScrollingMessages: {},
	FieldOneShotEvents:     {},
}

var (
	ErrBadEnum     = errors.New("value not in enumeration")
	ErrPatchObject = errors.New("patch must be a JSON object")
)

// FieldError reports a patch field that could not be decoded and was skipped.
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e FieldError) Unwrap() error { return e.Err }

// Patch is a partial SharedState. Only fields that were set are applied.
// Rejected lists fields that were present on the wire but malformed.
type Patch struct {
	values   SharedState
	set      map[Field]struct{}
	Rejected []FieldError
}

func NewPatch() Patch {
	return Patch{set: make(map[Field]struct{})}
}

func (p *Patch) mark(f Field) {
	if p.set == nil {
		p.set = make(map[Field]struct{})
	}
	p.set[f] = struct{}{}
}

func (p Patch) SetRouteTable(rt RouteTable) Patch {
	p = p.clone()
	p.values.RouteTable = cloneRouteTable(rt)
	p.mark(FieldRouteTable)
	return p
}

// SetActiveRoute selects a route; an empty id means no route.
func (p Patch) SetActiveRoute(id string) Patch {
	p = p.clone()
	p.values.ActiveRouteID = id
	p.mark(FieldActiveRouteID)
	return p
}

func (p Patch) SetActiveStopIndex(i int) Patch {
	p = p.clone()
	p.values.ActiveStopIndex = i
	p.mark(FieldActiveStopIndex)
	return p
}

func (p Patch) SetServiceStatus(s ServiceStatus) Patch {
	p = p.clone()
	p.values.ServiceStatus = s
	p.mark(FieldServiceStatus)
	return p
}

func (p Patch) SetMedia(m MediaDescriptor) Patch {
	p = p.clone()
	p.values.Media = m
	p.mark(FieldMediaDescriptor)
	return p
}

func (p Patch) SetPlayback(pi PlaybackIntent) Patch {
	p = p.clone()
	p.values.Playback = clonePlayback(pi)
	p.mark(FieldPlaybackIntent)
	return p
}

func (p Patch) SetScrollingMessages(msgs []string) Patch {
	p = p.clone()
	p.values.ScrollingMessages = append([]string{}, msgs...)
	p.mark(FieldScrollingMessages)
	return p
}

func (p Patch) SetOneShotEvents(ev OneShotEvents) Patch {
	p = p.clone()
	p.values.OneShotEvents = OneShotEvents{}
	for k, v := range ev {
		p.values.OneShotEvents[k] = v
	}
	p.mark(FieldOneShotEvents)
	return p
}

// SetExtension stores an unknown top-level field verbatim.
func (p Patch) SetExtension(key string, raw json.RawMessage) Patch {
	p = p.clone()
	if p.values.Extensions == nil {
		p.values.Extensions = make(map[string]json.RawMessage)
	}
	p.values.Extensions[key] = append(json.RawMessage(nil), raw...)
	return p
}

func (p Patch) Has(f Field) bool {
	_, ok := p.set[f]
	return ok
}

// Fields returns the known fields set on p, sorted.
func (p Patch) Fields() []Field {
	out := make([]Field, 0, len(p.set))
	for f := range p.set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p Patch) Extensions() map[string]json.RawMessage {
	return p.values.Extensions
}

func (p Patch) IsEmpty() bool {
	return len(p.set) == 0 && len(p.values.Extensions) == 0
}

func (p Patch) clone() Patch {
	out := Patch{
		values:   p.values.Clone(),
		set:      make(map[Field]struct{}, len(p.set)+1),
		Rejected: append([]FieldError(nil), p.Rejected...),
	}
	for f := range p.set {
		out.set[f] = struct{}{}
	}
	return out
}

func (p Patch) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(p.values.wire())
	if err != nil {
		return nil, err
	}
	all := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, err
	}
	doc := make(map[string]json.RawMessage, len(p.set)+len(p.values.Extensions))
	for k, v := range p.values.Extensions {
		doc[k] = v
	}
	for f := range p.set {
		doc[string(f)] = all[string(f)]
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes each field on its own so that one malformed field
// does not discard the rest of the patch.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		return ErrPatchObject
	}
	*p = NewPatch()
	p.values = NewSharedState()
	for key, raw := range doc {
		f := Field(key)
		if _, known := knownFields[f]; !known {
			p.values.Extensions[key] = raw
			continue
		}
		if err := p.decodeField(f, raw); err != nil {
			p.Rejected = append(p.Rejected, FieldError{Field: key, Err: err})
			continue
		}
		p.mark(f)
	}
	sort.Slice(p.Rejected, func(i, j int) bool { return p.Rejected[i].Field < p.Rejected[j].Field })
	return nil
}

func (p *Patch) decodeField(f Field, raw json.RawMessage) error {
	v := &p.values
	switch f {
	case FieldRouteTable:
		var rt RouteTable
		if err := json.Unmarshal(raw, &rt); err != nil {
			return err
		}
		if rt == nil {
			rt = RouteTable{}
		}
		v.RouteTable = rt

	case FieldActiveRouteID:
		var id *string
		if err := json.Unmarshal(raw, &id); err != nil {
			return err
		}
		v.ActiveRouteID = ""
		if id != nil {
			v.ActiveRouteID = *id
		}

	case FieldActiveStopIndex:
		var i int
		if err := json.Unmarshal(raw, &i); err != nil {
			return err
		}
		v.ActiveStopIndex = i

	case FieldServiceStatus:
		var s ServiceStatus
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		if !s.Valid() {
			return fmt.Errorf("%w: %q", ErrBadEnum, s)
		}
		v.ServiceStatus = s

	case FieldMediaDescriptor:
		var m MediaDescriptor
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		if m.SourceKind == "" {
			m.SourceKind = SourceNone
		}
		if !m.SourceKind.Valid() {
			return fmt.Errorf("%w: %q", ErrBadEnum, m.SourceKind)
		}
		v.Media = m

	case FieldPlaybackIntent:
		var pi PlaybackIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return err
		}
		if pi.State == "" {
			pi.State = PlaybackPlaying
		}
		if !pi.State.Valid() {
			return fmt.Errorf("%w: %q", ErrBadEnum, pi.State)
		}
		pi.Volume = ClampVolume(pi.Volume)
		v.Playback = pi

	case FieldScrollingMessages:
		var msgs []string
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return err
		}
		if msgs == nil {
			msgs = []string{}
		}
		v.ScrollingMessages = msgs

	case FieldOneShotEvents:
		var ev map[EventName]*OneShot
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		v.OneShotEvents = OneShotEvents{}
		for name, shot := range ev {
			if shot != nil {
				v.OneShotEvents[name] = *shot
			}
		}
	}
	return nil
}
