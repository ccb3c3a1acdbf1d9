package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/busboard/internal/domain"
)

func TestDecodeInbound_Patch(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"type":"patch","fields":{"activeStopIndex":"x","serviceStatus":"offline","foo":1}}`))
	require.NoError(t, err)
	assert.Equal(t, TypePatch, in.Type)
	assert.True(t, in.Patch.Has(domain.FieldServiceStatus))
	assert.False(t, in.Patch.Has(domain.FieldActiveStopIndex))
	require.Len(t, in.Patch.Rejected, 1)
	assert.Contains(t, in.Patch.Extensions(), "foo")
}

func TestDecodeInbound_Errors(t *testing.T) {
	cases := map[string]error{
		`not json`:                      ErrBadPayload,
		`{"type":"patch"}`:              ErrBadPayload,
		`{"type":"patch","fields":[1]}`: ErrBadPayload,
		`{"type":"join"}`:               ErrUnknownType,
	}
	for raw, want := range cases {
		_, err := DecodeInbound([]byte(raw))
		assert.ErrorIs(t, err, want, raw)
	}
}

func TestDecodeInbound_ControlMessages(t *testing.T) {
	in, err := DecodeInbound(EncodeSnapshotRequest())
	require.NoError(t, err)
	assert.Equal(t, TypeSnapshotRequest, in.Type)

	in, err = DecodeInbound(EncodePing())
	require.NoError(t, err)
	assert.Equal(t, TypePing, in.Type)
}

func TestEncodePatch_DecodesBack(t *testing.T) {
	raw, err := EncodePatch(domain.NewPatch().SetActiveStopIndex(2))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"patch","fields":{"activeStopIndex":2}}`, string(raw))

	in, err := DecodeInbound(raw)
	require.NoError(t, err)
	assert.Equal(t, []domain.Field{domain.FieldActiveStopIndex}, in.Patch.Fields())
}

func TestSnapshotEnvelope(t *testing.T) {
	s := domain.NewSharedState()
	s.ActiveRouteID = "3"
	raw, err := EncodeSnapshot(TypeStateUpdated, 7, s)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.JSONEq(t, `"state_updated"`, string(doc["type"]))
	assert.JSONEq(t, `7`, string(doc["version"]))

	out, err := DecodeOutbound(raw)
	require.NoError(t, err)
	assert.True(t, out.IsSnapshot())
	assert.Equal(t, uint64(7), out.Version)
	assert.Equal(t, "3", out.State.ActiveRouteID)
}

func TestDecodeOutbound_ErrorAndPong(t *testing.T) {
	out, err := DecodeOutbound(EncodeError(CodeRateLimited))
	require.NoError(t, err)
	assert.Equal(t, TypeError, out.Type)
	assert.Equal(t, CodeRateLimited, out.Error)

	out, err = DecodeOutbound(EncodePong())
	require.NoError(t, err)
	assert.False(t, out.IsSnapshot())
}
