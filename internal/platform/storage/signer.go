package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// Signer signs V4 URL payloads on behalf of a service account.
type Signer interface {
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// ServiceAccountSigner signs with an RSA key held in memory, usually resolved from Secret Manager.
type ServiceAccountSigner struct {
	email string
	key   *rsa.PrivateKey
}

// NewServiceAccountSigner accepts a service account JSON key or a PEM key paired with email.
// A non-empty email wins over the key's client_email. Escaped newlines from env files are expanded.
func NewServiceAccountSigner(email, key string) (*ServiceAccountSigner, error) {
	email = strings.TrimSpace(email)
	pemKey := strings.TrimSpace(key)
	if strings.HasPrefix(pemKey, "{") {
		var account struct {
			ClientEmail string `json:"client_email"`
			PrivateKey  string `json:"private_key"`
		}
		if err := json.Unmarshal([]byte(pemKey), &account); err != nil {
			return nil, fmt.Errorf("storage: decode service account json: %w", err)
		}
		pemKey = strings.TrimSpace(account.PrivateKey)
		if email == "" {
			email = strings.TrimSpace(account.ClientEmail)
		}
	}
	if email == "" {
		return nil, errors.New("storage: signer email is required")
	}
	if pemKey == "" {
		return nil, errors.New("storage: signer key is required")
	}
	rsaKey, err := parseRSAPrivateKey(strings.ReplaceAll(pemKey, `\n`, "\n"))
	if err != nil {
		return nil, err
	}
	return &ServiceAccountSigner{email: email, key: rsaKey}, nil
}

func (s *ServiceAccountSigner) Email() string { return s.email }

// SignBytes returns an RSASSA-PKCS1-v1_5 SHA-256 signature, as V4 signing expects.
func (s *ServiceAccountSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, errors.New("storage: payload is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return sig, nil
}

// parseRSAPrivateKey reads PKCS#8 (service account keys) and falls back to PKCS#1.
func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("storage: failed to decode PEM private key")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("storage: private key is not RSA")
		}
		return rsaKey, nil
	}
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("storage: parse RSA private key: %w", err)
	}
	return rsaKey, nil
}
