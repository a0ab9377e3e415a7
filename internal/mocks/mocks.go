// File: internal/mocks/mocks.go

// Package mocks provides testify mocks for the seams between quill's
// components. Interface conformance is asserted in the consuming packages'
// tests to keep this package free of import cycles.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkoreth/quill-cli/api/protocol"
	"github.com/xkoreth/quill-cli/internal/storage"
)

// -- Store Mock --

// MockStore mocks storage.Store.
type MockStore struct {
	mock.Mock
}

var _ storage.Store = (*MockStore)(nil)

func (m *MockStore) Get(key string) (string, bool, error) {
	args := m.Called(key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockStore) Set(key, value string) error {
	args := m.Called(key, value)
	return args.Error(0)
}

func (m *MockStore) Remove(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

// -- Signer Mock --

// MockSigner mocks protocol.Signer.
type MockSigner struct {
	mock.Mock
}

var _ protocol.Signer = (*MockSigner)(nil)

func (m *MockSigner) Address() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockSigner) Sign(message []byte) (*protocol.SignedMessage, error) {
	args := m.Called(message)
	var signed *protocol.SignedMessage
	if v := args.Get(0); v != nil {
		signed = v.(*protocol.SignedMessage)
	}
	return signed, args.Error(1)
}

// -- Session Mock --

// MockSession mocks the relay session surface consumed by the router and the
// CLI layer.
type MockSession struct {
	mock.Mock
}

func (m *MockSession) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSession) Disconnect() {
	m.Called()
}

func (m *MockSession) Reconnect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSession) Close() {
	m.Called()
}

func (m *MockSession) Status() protocol.ConnectionState {
	args := m.Called()
	return args.Get(0).(protocol.ConnectionState)
}

func (m *MockSession) SendCommand(ctx context.Context, payload string, auth *protocol.SignedMessage, ttl time.Duration) (string, <-chan protocol.Result, error) {
	args := m.Called(ctx, payload, auth, ttl)
	var ch <-chan protocol.Result
	if v := args.Get(1); v != nil {
		ch = v.(<-chan protocol.Result)
	}
	return args.String(0), ch, args.Error(2)
}

func (m *MockSession) On(eventType protocol.EventType, handler protocol.EventHandler) protocol.SubscriptionID {
	args := m.Called(eventType, handler)
	return args.Get(0).(protocol.SubscriptionID)
}

func (m *MockSession) Off(id protocol.SubscriptionID) bool {
	args := m.Called(id)
	return args.Bool(0)
}
