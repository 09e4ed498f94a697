// Copyright 2026 Society Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package bus

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"

	"github.com/society-labs/society/pkg/errkind"
)

// Signer produces detached ed25519 signatures over the envelope base string
// id|from|to|timestamp|nonce|content-hash.
type Signer struct {
	priv ed25519.PrivateKey
}

// NewSigner wraps an ed25519 private key.
func NewSigner(priv ed25519.PrivateKey) *Signer {
	return &Signer{priv: priv}
}

// LoadSigner reads a signing key from a PEM (PKCS#8) or JWK (OKP/Ed25519)
// identity file.
func LoadSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.IoError(err, "reading identity file %s", path)
	}

	if block, _ := pem.Decode(data); block != nil {
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, errkind.Wrap(errkind.KindParseError, err, "parsing PEM identity")
		}
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, errkind.ParseError("identity key is %T, want ed25519", key)
		}
		return NewSigner(priv), nil
	}

	var jwk struct {
		Kty string `json:"kty"`
		Crv string `json:"crv"`
		X   string `json:"x"`
		D   string `json:"d"`
	}
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, errkind.Wrap(errkind.KindParseError, err, "identity file is neither PEM nor JWK")
	}
	if jwk.Kty != "OKP" || jwk.Crv != "Ed25519" {
		return nil, errkind.ParseError("unsupported JWK key type %s/%s", jwk.Kty, jwk.Crv)
	}
	seed, err := base64.RawURLEncoding.DecodeString(jwk.D)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindParseError, err, "decoding JWK private scalar")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errkind.ParseError("JWK private scalar has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return NewSigner(ed25519.NewKeyFromSeed(seed)), nil
}

// Sign stamps a nonce and signature on the message.
func (s *Signer) Sign(m *Message) {
	if m.Nonce == "" {
		m.Nonce = uuid.NewString()
	}
	sig := ed25519.Sign(s.priv, m.SigningBase())
	m.Signature = base64.StdEncoding.EncodeToString(sig)
}

// Public returns the base64 public key, the form authorized_keys.json stores.
func (s *Signer) Public() string {
	pub := s.priv.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub)
}

// Verifier checks envelope signatures against an authorized-keys set.
//
// Policy: a sender present in the set must produce a valid signature, signed
// or not. Senders outside the set are accepted as-is. When no keys file
// exists at all, every message is accepted; mixed deployments opt in by
// shipping the file.
type Verifier struct {
	keys map[string]ed25519.PublicKey
}

// authorizedKeysFile is the on-disk shape: {"keys": {agentId: base64pub}}.
type authorizedKeysFile struct {
	Keys map[string]string `json:"keys"`
}

// LoadVerifier reads authorized_keys.json. A missing file yields an
// accept-all verifier.
func LoadVerifier(path string) (*Verifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Verifier{}, nil
		}
		return nil, errkind.IoError(err, "reading authorized keys %s", path)
	}

	var file authorizedKeysFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errkind.Wrap(errkind.KindParseError, err, "parsing authorized keys")
	}

	keys := make(map[string]ed25519.PublicKey, len(file.Keys))
	for id, enc := range file.Keys {
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, errkind.Wrap(errkind.KindParseError, err, fmt.Sprintf("decoding key for %s", id))
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, errkind.ParseError("key for %s has %d bytes, want %d", id, len(raw), ed25519.PublicKeySize)
		}
		keys[id] = ed25519.PublicKey(raw)
	}
	return &Verifier{keys: keys}, nil
}

// NewVerifier builds a verifier from in-memory keys; nil means accept all.
func NewVerifier(keys map[string]ed25519.PublicKey) *Verifier {
	return &Verifier{keys: keys}
}

// Verify enforces the signing policy. The returned error carries
// errkind.KindUnauthorized for rejections.
func (v *Verifier) Verify(m *Message) error {
	if v == nil || len(v.keys) == 0 {
		return nil
	}
	pub, known := v.keys[m.From]
	if !known {
		return nil
	}
	if m.Signature == "" {
		return errkind.Unauthorized("unsigned message %s from known sender %s", m.ID, m.From)
	}
	sig, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return errkind.Unauthorized("undecodable signature on message %s from %s", m.ID, m.From)
	}
	if !ed25519.Verify(pub, m.SigningBase(), sig) {
		return errkind.Unauthorized("invalid signature on message %s from %s", m.ID, m.From)
	}
	return nil
}
