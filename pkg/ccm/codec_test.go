package ccm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-ccm/pkg/bitmap"
)

func TestEncodeDecode_CarriesOnlyKindFields(t *testing.T) {
	m := &Message{
		Type:     MsgJoin,
		Cookie:   "abc",
		Major:    4,
		Minor:    2,
		Uptime:   3,
		MaxTrans: 99, // not part of JOIN
		Node:     "ignored",
	}
	data, err := Encode(m)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"mt"`)
	assert.NotContains(t, string(data), `"n"`)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, MsgJoin, got.Type)
	assert.Equal(t, "abc", got.Cookie)
	assert.Equal(t, uint32(4), got.Major)
	assert.Equal(t, uint32(2), got.Minor)
	assert.Equal(t, uint32(3), got.Uptime)
	assert.Zero(t, got.MaxTrans)
	assert.Empty(t, got.Node)
}

func TestEncodeDecode_MemList(t *testing.T) {
	m := &Message{
		Type:       MsgMemList,
		Cookie:     "old",
		Major:      7,
		Memlist:    bitmap.Of(0, 2, 130),
		MaxTrans:   8,
		UptimeList: []uint32{1, 5, 8},
		NewCookie:  "new",
	}
	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, got.Memlist.Equal(m.Memlist))
	assert.Equal(t, []uint32{1, 5, 8}, got.UptimeList)
	assert.Equal(t, "new", got.NewCookie)
	assert.Equal(t, uint32(8), got.MaxTrans)
}

func TestEncodeDecode_EmptyMemlist(t *testing.T) {
	data, err := Encode(&Message{Type: MsgResMemlist, Cookie: "c", Major: 1, MaxTrans: 1})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ml":""`)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, got.Memlist.Empty())
}

func TestEncode_NewCookieOnlyWhenSet(t *testing.T) {
	data, err := Encode(&Message{Type: MsgFinalMemlist, Cookie: "c", Major: 1, Memlist: bitmap.Of(0), MaxTrans: 2})
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"nc"`)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, got.NewCookie)
}

func TestEncodeDecode_StateInfo(t *testing.T) {
	data, err := Encode(&Message{Type: MsgStateInfo, State: StateJoined, Cookie: "k"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"vw"`)
	assert.NotContains(t, string(data), `"ml"`)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, StateJoined, got.State)
	assert.Equal(t, "k", got.Cookie)
	assert.False(t, got.viewed)

	data, err = Encode(&Message{
		Type:    MsgStateInfo,
		State:   StateJoined,
		Cookie:  "k",
		Memlist: bitmap.Of(0, 1),
		View:    bitmap.Of(0, 1, 3),
	})
	require.NoError(t, err)

	got, err = Decode(data)
	require.NoError(t, err)
	assert.True(t, got.viewed)
	assert.Equal(t, []int{0, 1}, got.Memlist.Members())
	assert.Equal(t, []int{0, 1, 3}, got.View.Members())
}

func TestEncode_RejectsTimeout(t *testing.T) {
	_, err := Encode(&Message{Type: MsgTimeout})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		err   error
		field string
	}{
		{"not json", `hello`, ErrUnknownType, ""},
		{"unknown type", `{"t":"GOSSIP"}`, ErrUnknownType, ""},
		{"timeout is local", `{"t":"TIMEOUT"}`, ErrUnknownType, ""},
		{"missing uptime", `{"t":"JOIN","c":"x","ma":1,"mi":0}`, ErrMissingField, "uptime"},
		{"missing cookie", `{"t":"LEAVE","ma":1,"mi":0}`, ErrMissingField, "cookie"},
		{"bad memlist", `{"t":"RES_MEMLIST","c":"x","ma":1,"mi":0,"ml":"!!","mt":1}`, ErrBadMemlist, "memlist"},
		{"bad state", `{"t":"STATE_INFO","c":"x","s":"DANCING"}`, ErrBadState, "state"},
		{"bad view", `{"t":"STATE_INFO","c":"x","s":"JOINED","vw":"!!"}`, ErrBadMemlist, "view"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)

			var derr *DecodeError
			require.True(t, errors.As(err, &derr))
			assert.Equal(t, tt.field, derr.Field)
		})
	}
}

func TestDecode_ZeroValuesAreNotMissing(t *testing.T) {
	got, err := Decode([]byte(`{"t":"JOIN","c":"","ma":0,"mi":0,"u":0}`))
	require.NoError(t, err)
	assert.Equal(t, MsgJoin, got.Type)
}

func TestRequired(t *testing.T) {
	assert.Equal(t, []string{"cookie", "major", "minor", "uptime"}, Required(MsgJoin))
	assert.Equal(t, []string{"cookie", "state"}, Required(MsgStateInfo))
	assert.Empty(t, Required(MsgRestart))
}

func TestMessageType_Names(t *testing.T) {
	for mt := MsgProtoVersion; mt < msgTypeEnd; mt++ {
		got, ok := ParseMessageType(mt.String())
		require.True(t, ok, mt.String())
		assert.Equal(t, mt, got)
	}
	_, ok := ParseMessageType("NOPE")
	assert.False(t, ok)
}
