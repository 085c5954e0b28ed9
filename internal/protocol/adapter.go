package protocol

import (
	"context"
	"fmt"
)

// DefaultMaxDepth bounds the number of chained device prompts the
// standard handler will resolve for a single originating request
// before giving up, preventing a misbehaving or compromised device
// from wedging a caller in an infinite button/PIN/passphrase loop
// (spec §9 Open Question, resolved: bounded recursion, default 4).
const DefaultMaxDepth = 4

// Coordinator is the narrow surface the standard handler needs from
// internal/interaction to resolve device-initiated prompts. It is
// satisfied by interaction.Coordinator; declared here so protocol
// does not import interaction (which itself depends on protocol's
// message types), avoiding an import cycle.
type Coordinator interface {
	// AwaitPinMatrix blocks until the caller submits a PIN (or cancels),
	// returning the PinMatrixAck to send back to the device.
	AwaitPinMatrix(ctx context.Context, deviceID string, req *PinMatrixRequest) (*PinMatrixAck, error)
	// AwaitPassphrase blocks until the caller submits a passphrase (or
	// cancels), returning the PassphraseAck to send back to the device.
	AwaitPassphrase(ctx context.Context, deviceID string, req *PassphraseRequest) (*PassphraseAck, error)
	// NotifyButtonRequest informs the coordinator a physical button
	// press is pending; it does not block the standard handler, which
	// auto-acks immediately per spec §4.2.
	NotifyButtonRequest(deviceID string, req *ButtonRequest)
}

// Exchanger sends one message to a device session and waits for its
// reply, hiding the transport/session details from the adapter.
type Exchanger interface {
	Exchange(ctx context.Context, m Message) (Message, error)
}

// Adapter drives a single logical request through however many
// device-initiated prompts it takes to reach a terminal Success,
// Failure, or domain response (spec §4.2's "standard handler").
type Adapter struct {
	coord    Coordinator
	deviceID string
	maxDepth int
}

// NewAdapter constructs an Adapter bound to one device's coordinator.
func NewAdapter(deviceID string, coord Coordinator) *Adapter {
	return &Adapter{coord: coord, deviceID: deviceID, maxDepth: DefaultMaxDepth}
}

// WithMaxDepth overrides the default chained-prompt bound.
func (a *Adapter) WithMaxDepth(n int) *Adapter {
	a.maxDepth = n
	return a
}

// Handle sends req over ex and resolves any ButtonRequest,
// PinMatrixRequest, or PassphraseRequest the device raises in
// response, returning the first terminal message it receives.
func (a *Adapter) Handle(ctx context.Context, ex Exchanger, req Message) (Message, error) {
	reply, err := ex.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.resolve(ctx, ex, reply, 0)
}

func (a *Adapter) resolve(ctx context.Context, ex Exchanger, reply Message, depth int) (Message, error) {
	if depth >= a.maxDepth {
		return nil, fmt.Errorf("protocol: exceeded max interaction depth (%d) resolving device prompts", a.maxDepth)
	}

	switch m := reply.(type) {
	case *ButtonRequest:
		a.coord.NotifyButtonRequest(a.deviceID, m)
		next, err := ex.Exchange(ctx, &ButtonAck{})
		if err != nil {
			return nil, err
		}
		return a.resolve(ctx, ex, next, depth+1)

	case *PinMatrixRequest:
		ack, err := a.coord.AwaitPinMatrix(ctx, a.deviceID, m)
		if err != nil {
			ex.Exchange(ctx, &Cancel{}) // best-effort: honor a consumer cancel by telling the device
			return nil, err
		}
		next, err := ex.Exchange(ctx, ack)
		if err != nil {
			return nil, err
		}
		return a.resolve(ctx, ex, next, depth+1)

	case *PassphraseRequest:
		ack, err := a.coord.AwaitPassphrase(ctx, a.deviceID, m)
		if err != nil {
			ex.Exchange(ctx, &Cancel{}) // best-effort: honor a consumer cancel by telling the device
			return nil, err
		}
		next, err := ex.Exchange(ctx, ack)
		if err != nil {
			return nil, err
		}
		return a.resolve(ctx, ex, next, depth+1)

	default:
		return reply, nil
	}
}
