// Package sshkey manages the daemon's own SSH keypair, used as the
// transport identity rsync/ssh authenticate with on every managed host
// (spec.md §4.8's GET /api/ssh-key, /api/ssh-key/raw). Key material itself
// is ed25519 (stdlib crypto/ed25519); golang.org/x/crypto/ssh — already a
// pack dependency via the teacher's transport layer, declared directly in
// this repo's go.mod for internal/crypter's argon2 use — supplies the
// authorized-key wire encoding, the one piece no stdlib package renders.
package sshkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// EnsureKeypair makes sure an ed25519 keypair exists at privPath (PEM-encoded
// private key) and privPath+".pub" (OpenSSH authorized_keys-formatted public
// key), generating and writing a fresh pair when privPath does not exist. An
// existing privPath is left untouched.
func EnsureKeypair(privPath string) error {
	if _, err := os.Stat(privPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("sshkey: failed to stat %s: %w", privPath, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("sshkey: failed to generate keypair: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("sshkey: failed to marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return fmt.Errorf("sshkey: failed to derive public key: %w", err)
	}
	authorizedLine := ssh.MarshalAuthorizedKey(sshPub)

	if err := os.MkdirAll(filepath.Dir(privPath), 0o700); err != nil {
		return fmt.Errorf("sshkey: failed to create %s: %w", filepath.Dir(privPath), err)
	}
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return fmt.Errorf("sshkey: failed to write private key: %w", err)
	}
	if err := os.WriteFile(privPath+".pub", authorizedLine, 0o644); err != nil {
		return fmt.Errorf("sshkey: failed to write public key: %w", err)
	}
	return nil
}

// PublicKey returns the authorized_keys-formatted public key for the
// keypair at privPath (reading privPath+".pub"), generating the keypair
// first if it does not yet exist.
func PublicKey(privPath string) (string, error) {
	if err := EnsureKeypair(privPath); err != nil {
		return "", err
	}
	data, err := os.ReadFile(privPath + ".pub")
	if err != nil {
		return "", fmt.Errorf("sshkey: failed to read public key: %w", err)
	}
	return string(data), nil
}
