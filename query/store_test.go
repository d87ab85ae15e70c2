package query

import (
	"context"
	"strings"
	"testing"
)

// TestValidateKey tests key validation rules.
func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"empty key", "", ErrInvalidKey},
		{"valid key", "query:post.byId:query:a1b2c3d4e5f60718", nil},
		{"too long", strings.Repeat("x", MaxKeyLength+1), ErrKeyTooLong},
		{"contains newline", "key\nwith\nnewlines", ErrInvalidKey},
		{"contains carriage return", "key\rwith\rreturns", ErrInvalidKey},
		{"whitespace only", "   ", ErrInvalidKey},
		{"max length exactly", strings.Repeat("x", MaxKeyLength), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateKey(%q) = %v, want nil", tt.key, err)
				}
			} else {
				if err != tt.wantErr {
					t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, err, tt.wantErr)
				}
			}
		})
	}
}

// TestStoreInterface_CompileCheck verifies the Store interface contract.
// This is a compile-time check enforced by implementing a mock.
func TestStoreInterface_CompileCheck(t *testing.T) {
	var _ Store = (*mockStore)(nil)
}

// mockStore is a test double that implements the Store interface.
type mockStore struct{}

func (m *mockStore) Get(ctx context.Context, key string) (Entry, bool) {
	return Entry{}, false
}

func (m *mockStore) Set(ctx context.Context, key string, entry Entry) error {
	return nil
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	return nil
}

func (m *mockStore) Subscribe(key string, fn func(Entry)) (cancel func()) {
	return func() {}
}

func (m *mockStore) Subscribers(key string) int {
	return 0
}

// TestMaxKeyLength verifies the constant value.
func TestMaxKeyLength(t *testing.T) {
	if MaxKeyLength != 512 {
		t.Errorf("MaxKeyLength = %d, want 512", MaxKeyLength)
	}
}
