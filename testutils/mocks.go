package testutils

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRevocationChecker struct {
	mock.Mock
}

func (m *MockRevocationChecker) IsTokenRevoked(jti string) (bool, error) {
	args := m.Called(jti)
	return args.Bool(0), args.Error(1)
}

func (m *MockRevocationChecker) IsUserTokenRevoked(userID uint, issuedAt time.Time) (bool, error) {
	args := m.Called(userID, issuedAt)
	return args.Bool(0), args.Error(1)
}

type MockEncryptor struct {
	mock.Mock
}

func (m *MockEncryptor) Encrypt(plaintext string) (string, error) {
	args := m.Called(plaintext)
	return args.String(0), args.Error(1)
}

func (m *MockEncryptor) Decrypt(ciphertext string) (string, error) {
	args := m.Called(ciphertext)
	return args.String(0), args.Error(1)
}
