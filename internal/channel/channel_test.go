package channel

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Algebraic-Programming/DeployR/internal/interfaces"
	"github.com/Algebraic-Programming/DeployR/transport/local"
)

// endpoints opens consumer and producer views of one channel on a
// single-instance fabric. Each Open fences on its own, so the sequential
// calls complete immediately and the test drives both sides
// deterministically from one goroutine.
func endpoints(t *testing.T, name string, capacity, bufferSize int) (consumer, producer *Channel) {
	t.Helper()
	fabric, err := local.New(local.Config{Instances: 1})
	require.NoError(t, err)
	tr := fabric.Instance(0)

	consumer, err = Open(Config{Name: name, Role: RoleConsumer, Capacity: capacity, BufferSize: bufferSize, Transport: tr})
	require.NoError(t, err)
	producer, err = Open(Config{Name: name, Role: RoleProducer, Capacity: capacity, BufferSize: bufferSize, Transport: tr})
	require.NoError(t, err)
	return consumer, producer
}

func TestTag_Deterministic(t *testing.T) {
	require.Equal(t, Tag("a"), Tag("a"))
	require.NotEqual(t, Tag("a"), Tag("b"))
}

func TestPushPeekPop_SingleProducer(t *testing.T) {
	// Capacity 2 tokens, 16 payload bytes.
	consumer, producer := endpoints(t, "s3", 2, 16)

	require.NoError(t, producer.Push([]byte("hi")))
	require.NoError(t, producer.Push([]byte("world")))
	require.ErrorIs(t, producer.Push([]byte("!")), ErrWouldBlock)

	p, err := consumer.Peek()
	require.NoError(t, err)
	require.Equal(t, "hi", string(p))
	require.NoError(t, consumer.Pop())

	require.NoError(t, producer.Push([]byte("!")))

	p, err = consumer.Peek()
	require.NoError(t, err)
	require.Equal(t, "world", string(p))
}

func TestPush_PayloadFull(t *testing.T) {
	// Plenty of token slots but a tiny payload ring: the byte budget, not
	// the token count, must trigger WouldBlock.
	consumer, producer := endpoints(t, "payload-full", 8, 8)

	require.NoError(t, producer.Push([]byte("abcde")))
	require.ErrorIs(t, producer.Push([]byte("fghij")), ErrWouldBlock)

	require.NoError(t, consumer.Pop())
	require.NoError(t, producer.Push([]byte("fghij")))
}

func TestPush_TokenLargerThanRing(t *testing.T) {
	_, producer := endpoints(t, "oversized", 4, 8)
	require.ErrorIs(t, producer.Push(make([]byte, 9)), ErrWouldBlock)
}

func TestPushPop_WrapAround(t *testing.T) {
	consumer, producer := endpoints(t, "wrap", 4, 16)

	first := []byte("0123456789") // 10 of 16 bytes
	require.NoError(t, producer.Push(first))
	p, err := consumer.Peek()
	require.NoError(t, err)
	require.Equal(t, first, p)
	require.NoError(t, consumer.Pop())

	// The next token does not fit the 6 remaining bytes; the head skips
	// the gap and the token lands at the ring start.
	second := []byte("abcdefghij")
	require.NoError(t, producer.Push(second))
	p, err = consumer.Peek()
	require.NoError(t, err)
	require.Equal(t, second, p)
	require.NoError(t, consumer.Pop())

	_, err = consumer.Peek()
	require.ErrorIs(t, err, ErrEmpty)
}

func TestPeekPop_Empty(t *testing.T) {
	consumer, _ := endpoints(t, "empty", 2, 16)

	_, err := consumer.Peek()
	require.ErrorIs(t, err, ErrEmpty)
	require.ErrorIs(t, consumer.Pop(), ErrEmpty)
}

func TestWrongRole(t *testing.T) {
	consumer, producer := endpoints(t, "roles", 2, 16)

	require.ErrorIs(t, consumer.Push([]byte("x")), ErrWrongRole)
	_, err := producer.Peek()
	require.ErrorIs(t, err, ErrWrongRole)
	require.ErrorIs(t, producer.Pop(), ErrWrongRole)
}

func TestEmptyToken(t *testing.T) {
	consumer, producer := endpoints(t, "zero", 2, 16)

	require.NoError(t, producer.Push(nil))
	p, err := consumer.Peek()
	require.NoError(t, err)
	require.Len(t, p, 0)
	require.NoError(t, consumer.Pop())
}

// TestInterleavedProducers drives two producer endpoints by hand and checks
// that each producer's ordering survives the interleaving.
func TestInterleavedProducers(t *testing.T) {
	fabric, err := local.New(local.Config{Instances: 1})
	require.NoError(t, err)
	tr := fabric.Instance(0)

	cfg := func(role Role) Config {
		return Config{Name: "mpsc", Role: role, Capacity: 8, BufferSize: 64, Transport: tr}
	}
	consumer, err := Open(cfg(RoleConsumer))
	require.NoError(t, err)
	p1, err := Open(cfg(RoleProducer))
	require.NoError(t, err)
	p2, err := Open(cfg(RoleProducer))
	require.NoError(t, err)

	require.NoError(t, p1.Push([]byte("a")))
	require.NoError(t, p2.Push([]byte("x")))
	require.NoError(t, p1.Push([]byte("b")))
	require.NoError(t, p2.Push([]byte("y")))

	var got []string
	for {
		p, err := consumer.Peek()
		if err == ErrEmpty {
			break
		}
		require.NoError(t, err)
		got = append(got, string(p))
		require.NoError(t, consumer.Pop())
	}

	require.Len(t, got, 4)
	requireBefore(t, got, "a", "b")
	requireBefore(t, got, "x", "y")
}

// TestConcurrentProducers runs two producer instances against one consumer
// instance over a three-instance fabric, the consumer spinning on Peek.
func TestConcurrentProducers(t *testing.T) {
	fabric, err := local.New(local.Config{Instances: 3})
	require.NoError(t, err)

	const perProducer = 20
	results := make(chan []string, 1)

	err = fabric.Run(func(tr interfaces.Transport) error {
		role := RoleProducer
		if tr.InstanceID() == 2 {
			role = RoleConsumer
		}
		ch, err := Open(Config{Name: "conc", Role: role, Capacity: 4, BufferSize: 128, Transport: tr})
		if err != nil {
			return err
		}

		if role == RoleProducer {
			for i := 0; i < perProducer; i++ {
				token := []byte(fmt.Sprintf("p%d-%03d", tr.InstanceID(), i))
				for {
					err := ch.Push(token)
					if err == nil {
						break
					}
					if err != ErrWouldBlock {
						return err
					}
				}
			}
			return nil
		}

		var got []string
		for len(got) < 2*perProducer {
			p, err := ch.Peek()
			if err == ErrEmpty {
				continue
			}
			if err != nil {
				return err
			}
			got = append(got, string(p))
			if err := ch.Pop(); err != nil {
				return err
			}
		}
		results <- got
		return nil
	})
	require.NoError(t, err)

	got := <-results
	require.Len(t, got, 2*perProducer)
	for i := 0; i < perProducer-1; i++ {
		requireBefore(t, got, fmt.Sprintf("p0-%03d", i), fmt.Sprintf("p0-%03d", i+1))
		requireBefore(t, got, fmt.Sprintf("p1-%03d", i), fmt.Sprintf("p1-%03d", i+1))
	}
}

// TestPendingAccounting checks the bounded-buffer invariants over a mixed
// push/pop sequence.
func TestPendingAccounting(t *testing.T) {
	consumer, producer := endpoints(t, "acct", 3, 32)

	pushed, popped := 0, 0
	ops := []struct {
		push bool
		size int
	}{
		{true, 4}, {true, 4}, {false, 0}, {true, 8}, {true, 8},
		{false, 0}, {false, 0}, {true, 16}, {false, 0}, {false, 0},
	}
	for _, op := range ops {
		if op.push {
			err := producer.Push(make([]byte, op.size))
			if err == nil {
				pushed++
			} else {
				require.ErrorIs(t, err, ErrWouldBlock)
			}
		} else {
			err := consumer.Pop()
			if err == nil {
				popped++
			} else {
				require.ErrorIs(t, err, ErrEmpty)
			}
		}
		pending, err := consumer.Pending()
		require.NoError(t, err)
		require.Equal(t, pushed-popped, pending)
		require.GreaterOrEqual(t, pending, 0)
		require.LessOrEqual(t, pending, 3)
	}
}

func requireBefore(t *testing.T, seq []string, a, b string) {
	t.Helper()
	ia, ib := -1, -1
	for i, s := range seq {
		if s == a {
			ia = i
		}
		if s == b {
			ib = i
		}
	}
	require.NotEqual(t, -1, ia, "missing %q", a)
	require.NotEqual(t, -1, ib, "missing %q", b)
	require.Less(t, ia, ib, "%q must come before %q", a, b)
}
