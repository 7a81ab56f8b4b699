package core_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/core/mocks"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func newConn(ctrl *gomock.Controller, id string) *mocks.MockConnection {
	c := mocks.NewMockConnection(ctrl)
	c.EXPECT().ID().Return(core.ConnID(id)).AnyTimes()
	return c
}

func ids(conns []core.Connection) []core.ConnID {
	out := make([]core.ConnID, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ID())
	}
	return out
}

func TestRoomRegistry_JoinLeave(t *testing.T) {
	ctrl := gomock.NewController(t)
	rr := core.NewRoomRegistry()
	a, b := newConn(ctrl, "a"), newConn(ctrl, "b")

	rr.Join("R1", a)
	rr.Join("R1", b)
	assert.ElementsMatch(t, []core.ConnID{"a", "b"}, ids(rr.Members("R1")))

	assert.True(t, rr.Leave("R1", a))
	assert.False(t, rr.Leave("R1", a))
	assert.ElementsMatch(t, []core.ConnID{"b"}, ids(rr.Members("R1")))

	rr.LeaveAll(b)
	assert.Empty(t, rr.Members("R1"))
	assert.Empty(t, rr.List())
}

func TestRoomRegistry_JoinMovesConnection(t *testing.T) {
	ctrl := gomock.NewController(t)
	rr := core.NewRoomRegistry()
	a, b := newConn(ctrl, "a"), newConn(ctrl, "b")

	rr.Join("R1", a)
	rr.Join("R1", b)
	rr.Join("R2", a)

	assert.ElementsMatch(t, []core.ConnID{"b"}, ids(rr.Members("R1")))
	assert.ElementsMatch(t, []core.ConnID{"a"}, ids(rr.Members("R2")))
	room, ok := rr.RoomOf(a)
	assert.True(t, ok)
	assert.Equal(t, domain.RoomID("R2"), room)

	// Leaving a room the connection already moved out of changes nothing.
	assert.False(t, rr.Leave("R1", a))
	assert.Len(t, rr.Members("R2"), 1)
}

func TestRoomRegistry_JoinUnroutedLeaves(t *testing.T) {
	ctrl := gomock.NewController(t)
	rr := core.NewRoomRegistry()
	a := newConn(ctrl, "a")

	rr.Join("R1", a)
	rr.Join("", a)
	_, ok := rr.RoomOf(a)
	assert.False(t, ok)
	assert.Empty(t, rr.List())
}

func TestRoomRegistry_List(t *testing.T) {
	ctrl := gomock.NewController(t)
	rr := core.NewRoomRegistry()
	rr.Join("B", newConn(ctrl, "1"))
	rr.Join("A", newConn(ctrl, "2"))
	rr.Join("A", newConn(ctrl, "3"))

	assert.Equal(t, []core.RoomInfo{{ID: "A", MemberCount: 2}, {ID: "B", MemberCount: 1}}, rr.List())
}

func TestRoomRegistry_SnapshotIsDetached(t *testing.T) {
	ctrl := gomock.NewController(t)
	rr := core.NewRoomRegistry()
	a := newConn(ctrl, "a")
	rr.Join("R1", a)

	snap := rr.Members("R1")
	rr.LeaveAll(a)
	assert.Len(t, snap, 1)
	assert.Empty(t, rr.Members("R1"))
}

func TestRoomRegistry_ConcurrentJoinLeave(t *testing.T) {
	ctrl := gomock.NewController(t)
	rr := core.NewRoomRegistry()

	const n = 64
	conns := make([]*mocks.MockConnection, n)
	for i := range conns {
		conns[i] = newConn(ctrl, fmt.Sprintf("c%d", i))
	}

	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr.Join("R1", c)
			rr.Join(domain.RoomID(fmt.Sprintf("R%d", i%4)), c)
			_ = rr.Members("R1")
			if i%2 == 0 {
				rr.LeaveAll(c)
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, info := range rr.List() {
		assert.Positive(t, info.MemberCount)
		assert.Len(t, rr.Members(info.ID), info.MemberCount)
		total += info.MemberCount
	}
	assert.Equal(t, n/2, total)
}
