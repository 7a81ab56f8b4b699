package domain

// RoomID names a logical broadcast group. The empty RoomID means "unrouted".
type RoomID string

func (r RoomID) Routed() bool { return r != "" }
