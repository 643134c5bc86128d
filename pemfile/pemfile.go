// Package pemfile keeps the console's SSH host key on disk.
package pemfile

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/zond/scriptai"

	gossh "golang.org/x/crypto/ssh"
)

const (
	DefaultBits = 4096
)

type KeyParams struct {
	KeyPath       string
	SSHPubKeyPath string
	// Bits defaults to DefaultBits.
	Bits int
}

// Generate writes a new RSA key to KeyPath and its authorized_keys line to
// SSHPubKeyPath.
func (k KeyParams) Generate() error {
	bits := k.Bits
	if bits == 0 {
		bits = DefaultBits
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return scriptai.WithStack(err)
	}
	if err := os.WriteFile(k.KeyPath, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}), 0600); err != nil {
		return scriptai.WithStack(err)
	}
	pub, err := gossh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return scriptai.WithStack(err)
	}
	return scriptai.WithStack(os.WriteFile(k.SSHPubKeyPath, gossh.MarshalAuthorizedKey(pub), 0600))
}

// Load returns the PEM encoded key at KeyPath, generating it first if it's
// missing.
func (k KeyParams) Load() ([]byte, error) {
	if _, err := os.Stat(k.KeyPath); errors.Is(err, os.ErrNotExist) {
		if err := k.Generate(); err != nil {
			return nil, err
		}
		log.Printf("generated host key %q", k.KeyPath)
	} else if err != nil {
		return nil, scriptai.WithStack(err)
	}
	pemBytes, err := os.ReadFile(k.KeyPath)
	if err != nil {
		return nil, scriptai.WithStack(err)
	}
	signer, err := gossh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %q", k.KeyPath)
	}
	log.Printf("host key fingerprint %s", gossh.FingerprintSHA256(signer.PublicKey()))
	return pemBytes, nil
}
