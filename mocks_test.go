package identity_test

import (
	"context"
	"errors"

	identity "github.com/habitloop/go-identity"
	"github.com/stretchr/testify/mock"
)

// MockExchanger implements identity.CredentialExchanger
type MockExchanger struct {
	mock.Mock
}

func (m *MockExchanger) RequestReset(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockExchanger) ExchangeRecoveryTokens(ctx context.Context, access, refresh string) (*identity.ExchangedSession, error) {
	args := m.Called(ctx, access, refresh)
	if session := args.Get(0); session != nil {
		return session.(*identity.ExchangedSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockExchanger) SetPassword(ctx context.Context, sessionToken, newPassword string) error {
	args := m.Called(ctx, sessionToken, newPassword)
	return args.Error(0)
}

// capturingSink collects every audit entry it is handed.
type capturingSink struct {
	entries []identity.AuditEntry
}

func (c *capturingSink) Record(ctx context.Context, entry identity.AuditEntry) error {
	c.entries = append(c.entries, entry)
	return nil
}

func (c *capturingSink) last() identity.AuditEntry {
	if len(c.entries) == 0 {
		return identity.AuditEntry{}
	}
	return c.entries[len(c.entries)-1]
}

// failingSink always errors, to exercise fail-open behavior.
type failingSink struct {
	calls int
}

func (f *failingSink) Record(ctx context.Context, entry identity.AuditEntry) error {
	f.calls++
	return errors.New("sink unavailable")
}

// quietLogger drops all output so fail-open tests stay silent.
type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}
