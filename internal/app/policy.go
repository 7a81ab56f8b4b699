package app

import (
	"context"
	"errors"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

func (a BackpressureAction) String() string {
	if a == KickMember {
		return "kick"
	}
	return "none"
}

// Policy decides what happens to a member whose send failed.
type Policy interface {
	OnSendFailure(room domain.RoomID, member core.Connection, err error) BackpressureAction
}

// SimplePolicy removes the member from the room on any failure.
type SimplePolicy struct{}

func (SimplePolicy) OnSendFailure(domain.RoomID, core.Connection, error) BackpressureAction {
	return KickMember
}

// TolerantPolicy keeps members that were merely slow and removes the ones whose transport is gone.
type TolerantPolicy struct{}

func (TolerantPolicy) OnSendFailure(_ domain.RoomID, member core.Connection, err error) BackpressureAction {
	switch {
	case errors.Is(err, domain.ErrConnectionClosed), !member.Alive():
		return KickMember
	case errors.Is(err, domain.ErrBackpressure), errors.Is(err, context.DeadlineExceeded):
		return NoAction
	}
	return KickMember
}

// PolicyByName maps a config value to a Policy. Unknown names yield SimplePolicy.
func PolicyByName(name string) Policy {
	if name == "tolerant" {
		return TolerantPolicy{}
	}
	return SimplePolicy{}
}
