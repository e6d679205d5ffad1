// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"fmt"
)

// State is the lifecycle state of a session.
type State uint8

// A list of session states in the order a client moves through them.
const (
	Disconnected State = iota
	TCPConnected
	Features
	StartingTLS
	Authenticating
	BindingResource
	Bound
	SessionStarted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case TCPConnected:
		return "tcp-connected"
	case Features:
		return "features"
	case StartingTLS:
		return "start-tls"
	case Authenticating:
		return "sasl"
	case BindingResource:
		return "bind-resource"
	case Bound:
		return "bound"
	case SessionStarted:
		return "session-started"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}
