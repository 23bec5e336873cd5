package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultKeyBits is the RSA modulus size used for generated key pairs
const DefaultKeyBits = 2048

// ParsePrivateKey decodes a PEM encoded RSA private key in PKCS1 or PKCS8 form
func ParsePrivateKey(data string) (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(strings.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// ParsePublicKey decodes a PEM encoded RSA public key in PKIX or PKCS1 form
func ParsePublicKey(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(data)))
	if block == nil {
		return nil, errors.New("invalid PEM data")
	}
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not RSA")
		}
		return key, nil
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// GenerateKeyPair creates a fresh RSA key pair
func GenerateKeyPair(bits int) (*rsa.PrivateKey, error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return key, nil
}

// EncodePrivateKeyPEM encodes a private key as PKCS8 PEM
func EncodePrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM encodes a public key as PKIX PEM
func EncodePublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// KeyMaterial is the resolved signing and verification key pair for a node.
// Private is nil on verification-only nodes.
type KeyMaterial struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// LoadKeyMaterial reads keys from inline PEM first, then from files
func LoadKeyMaterial(privatePEM, publicPEM, privateFile, publicFile string) (KeyMaterial, error) {
	var km KeyMaterial

	if privatePEM == "" && privateFile != "" {
		data, err := os.ReadFile(privateFile)
		if err != nil {
			return km, fmt.Errorf("failed to read private key file: %w", err)
		}
		privatePEM = string(data)
	}
	if publicPEM == "" && publicFile != "" {
		data, err := os.ReadFile(publicFile)
		if err != nil {
			return km, fmt.Errorf("failed to read public key file: %w", err)
		}
		publicPEM = string(data)
	}

	if privatePEM != "" {
		priv, err := ParsePrivateKey(privatePEM)
		if err != nil {
			return km, err
		}
		km.Private = priv
		km.Public = &priv.PublicKey
	}
	if publicPEM != "" {
		pub, err := ParsePublicKey(publicPEM)
		if err != nil {
			return km, err
		}
		if km.Private != nil && km.Private.PublicKey.N.Cmp(pub.N) != 0 {
			return km, errors.New("public key does not match private key")
		}
		km.Public = pub
	}
	return km, nil
}
