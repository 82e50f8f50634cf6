package deployr

import (
	"fmt"

	"github.com/Algebraic-Programming/DeployR/internal/channel"
)

// ChannelSpec declares one multi-producer single-consumer channel between
// runners. Defined before Deploy; the runtime derives each instance's role
// after matching and opens the channel during launch.
type ChannelSpec struct {
	// Name identifies the channel; also the input of its fence/lock tag.
	Name string

	// Producers are runner ids allowed to push.
	Producers []uint64

	// Consumer is the runner id that peeks and pops. Must not appear in
	// Producers.
	Consumer uint64

	// BufferCapacity is the maximum number of pending tokens. Zero means
	// the default.
	BufferCapacity int

	// BufferSize is the payload ring length in bytes. Zero means the
	// default.
	BufferSize int
}

func (s *ChannelSpec) validate() error {
	if s.Name == "" {
		return NewError("DefineChannel", ErrCodeInvalidDescription, "channel has no name")
	}
	if len(s.Producers) == 0 {
		return NewError("DefineChannel", ErrCodeInvalidDescription,
			fmt.Sprintf("channel %q has no producers", s.Name))
	}
	seen := make(map[uint64]struct{}, len(s.Producers))
	for _, p := range s.Producers {
		if p == s.Consumer {
			return NewError("DefineChannel", ErrCodeInvalidDescription,
				fmt.Sprintf("channel %q: runner %d is both producer and consumer", s.Name, p))
		}
		if _, dup := seen[p]; dup {
			return NewError("DefineChannel", ErrCodeInvalidDescription,
				fmt.Sprintf("channel %q: duplicate producer %d", s.Name, p))
		}
		seen[p] = struct{}{}
	}
	if s.BufferCapacity < 0 || s.BufferSize < 0 {
		return NewError("DefineChannel", ErrCodeInvalidDescription,
			fmt.Sprintf("channel %q: negative buffer sizing", s.Name))
	}
	return nil
}

// role returns the channel role of the runner with the given id.
func (s *ChannelSpec) role(runnerID uint64, hosted bool) channel.Role {
	if !hosted {
		return channel.RoleNone
	}
	if runnerID == s.Consumer {
		return channel.RoleConsumer
	}
	for _, p := range s.Producers {
		if p == runnerID {
			return channel.RoleProducer
		}
	}
	return channel.RoleNone
}

// Channel is a handle to one endpoint of an MPSC channel, valid from entry
// launch until Finalize.
type Channel struct {
	inner *channel.Channel
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.inner.Name() }

// Push publishes one token. Producer only; non-blocking. When the channel
// cannot accept the token the push fails with ErrCodeWouldBlock and nothing
// is written.
func (c *Channel) Push(p []byte) error {
	if err := c.inner.Push(p); err != nil {
		return WrapError("Push", err)
	}
	return nil
}

// Peek returns the oldest pending token without consuming it. Consumer
// only; the slice borrows the payload ring until the matching Pop. An idle
// channel yields ErrCodeEmpty.
func (c *Channel) Peek() ([]byte, error) {
	p, err := c.inner.Peek()
	if err != nil {
		return nil, WrapError("Peek", err)
	}
	return p, nil
}

// Pop consumes the oldest pending token. Consumer only.
func (c *Channel) Pop() error {
	if err := c.inner.Pop(); err != nil {
		return WrapError("Pop", err)
	}
	return nil
}

// Pending returns the number of queued tokens. Consumer only.
func (c *Channel) Pending() (int, error) {
	n, err := c.inner.Pending()
	if err != nil {
		return 0, WrapError("Pending", err)
	}
	return n, nil
}
