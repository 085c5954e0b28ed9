package protocol

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedExchanger struct {
	replies []Message
	sent    []Message
	i       int
}

func (s *scriptedExchanger) Exchange(ctx context.Context, m Message) (Message, error) {
	s.sent = append(s.sent, m)
	if s.i >= len(s.replies) {
		return nil, errors.New("scriptedExchanger: ran out of replies")
	}
	r := s.replies[s.i]
	s.i++
	return r, nil
}

type fakeCoordinator struct {
	pin        *PinMatrixAck
	passphrase *PassphraseAck
	buttonSeen int
}

func (f *fakeCoordinator) AwaitPinMatrix(ctx context.Context, deviceID string, req *PinMatrixRequest) (*PinMatrixAck, error) {
	return f.pin, nil
}

func (f *fakeCoordinator) AwaitPassphrase(ctx context.Context, deviceID string, req *PassphraseRequest) (*PassphraseAck, error) {
	return f.passphrase, nil
}

func (f *fakeCoordinator) NotifyButtonRequest(deviceID string, req *ButtonRequest) {
	f.buttonSeen++
}

func TestAdapterResolvesButtonThenSuccess(t *testing.T) {
	ex := &scriptedExchanger{replies: []Message{
		&ButtonRequest{Code: 1},
		&Success{Message: "done"},
	}}
	coord := &fakeCoordinator{}
	a := NewAdapter("dev1", coord)

	got, err := a.Handle(context.Background(), ex, &GetAddress{Coin: "Bitcoin"})
	require.NoError(t, err)
	assert.Equal(t, &Success{Message: "done"}, got)
	assert.Equal(t, 1, coord.buttonSeen)
	assert.Len(t, ex.sent, 2) // original request + ButtonAck
}

func TestAdapterResolvesPinThenPassphraseThenSuccess(t *testing.T) {
	ex := &scriptedExchanger{replies: []Message{
		&PinMatrixRequest{MatrixType: 1},
		&PassphraseRequest{},
		&Success{Message: "unlocked"},
	}}
	coord := &fakeCoordinator{
		pin:        &PinMatrixAck{Pin: "9876"},
		passphrase: &PassphraseAck{Passphrase: "correcthorse"},
	}
	a := NewAdapter("dev1", coord)

	got, err := a.Handle(context.Background(), ex, &GetFeatures{})
	require.NoError(t, err)
	assert.Equal(t, &Success{Message: "unlocked"}, got)
	require.Len(t, ex.sent, 3)
	assert.Equal(t, &PinMatrixAck{Pin: "9876"}, ex.sent[1])
	assert.Equal(t, &PassphraseAck{Passphrase: "correcthorse"}, ex.sent[2])
}

func TestAdapterStopsAtMaxDepth(t *testing.T) {
	replies := make([]Message, 0, 10)
	for i := 0; i < 10; i++ {
		replies = append(replies, &ButtonRequest{Code: uint32(i)})
	}
	ex := &scriptedExchanger{replies: replies}
	coord := &fakeCoordinator{}
	a := NewAdapter("dev1", coord).WithMaxDepth(3)

	_, err := a.Handle(context.Background(), ex, &GetFeatures{})
	assert.Error(t, err)
}

func TestAdapterPassesThroughFailureUnresolved(t *testing.T) {
	ex := &scriptedExchanger{replies: []Message{
		&Failure{Code: 5, Message: "pin invalid"},
	}}
	coord := &fakeCoordinator{}
	a := NewAdapter("dev1", coord)

	got, err := a.Handle(context.Background(), ex, &ChangePin{})
	require.NoError(t, err)
	assert.Equal(t, &Failure{Code: 5, Message: "pin invalid"}, got)
}
