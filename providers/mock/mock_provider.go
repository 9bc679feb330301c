// Package mock provides mock implementations of the Provider interface for testing.
package mock

import (
	"context"
	"net/url"
	"sync"

	"github.com/giantswarm/identity-adapter/providers"
)

// MockProvider is a mock implementation of the Provider interface for testing
type MockProvider struct {
	// NameFunc is called when Name() is invoked
	NameFunc func() string

	// AuthCodeURLFunc is called when AuthCodeURL() is invoked
	AuthCodeURLFunc func(state string) string

	// ExchangeFunc is called when Exchange() is invoked
	ExchangeFunc func(ctx context.Context, code string) (*providers.Profile, error)

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

// NewMockProvider creates a new mock provider with default implementations
func NewMockProvider() *MockProvider {
	return &MockProvider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "github"
		},
		AuthCodeURLFunc: func(state string) string {
			return "https://github.example.com/login/oauth/authorize?state=" + url.QueryEscape(state)
		},
		ExchangeFunc: func(ctx context.Context, code string) (*providers.Profile, error) {
			return &providers.Profile{
				Provider:    "github",
				ID:          "12345",
				Username:    "octocat",
				DisplayName: "The Octocat",
				Email:       "octocat@example.com",
				AvatarURL:   "https://avatars.example.com/u/12345",
				ProfileURL:  "https://github.com/octocat",
			}, nil
		},
	}
}

func (m *MockProvider) incrementCallCount(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}

// Name implements providers.Provider
func (m *MockProvider) Name() string {
	m.incrementCallCount("Name")
	return m.NameFunc()
}

// AuthCodeURL implements providers.Provider
func (m *MockProvider) AuthCodeURL(state string) string {
	m.incrementCallCount("AuthCodeURL")
	return m.AuthCodeURLFunc(state)
}

// Exchange implements providers.Provider
func (m *MockProvider) Exchange(ctx context.Context, code string) (*providers.Profile, error) {
	m.incrementCallCount("Exchange")
	return m.ExchangeFunc(ctx, code)
}

// GetCallCount returns the number of times a method was called
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

// ResetCallCounts resets all call counts to zero
func (m *MockProvider) ResetCallCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts = make(map[string]int)
}
