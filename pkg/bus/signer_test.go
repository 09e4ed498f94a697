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
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/society-labs/society/pkg/errkind"
)

func genKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func signedMessage(t *testing.T, signer *Signer, from string) *Message {
	t.Helper()
	m := &Message{
		ID:        "m1",
		From:      from,
		To:        "backend-1",
		Type:      TypeMessage,
		Content:   TextContent{Body: "payload"},
		Timestamp: time.Now().UTC(),
	}
	if signer != nil {
		signer.Sign(m)
	}
	return m
}

func TestVerifyPolicy(t *testing.T) {
	pub, priv := genKey(t)
	signer := NewSigner(priv)
	otherPub, _ := genKey(t)

	keys := map[string]ed25519.PublicKey{"known": pub, "impostor": otherPub}

	tests := []struct {
		name     string
		verifier *Verifier
		message  *Message
		wantKind errkind.Kind
	}{
		{
			name:     "no keys file accepts everything",
			verifier: NewVerifier(nil),
			message:  signedMessage(t, nil, "anyone"),
			wantKind: errkind.KindUnknown,
		},
		{
			name:     "known sender with valid signature",
			verifier: NewVerifier(keys),
			message:  signedMessage(t, signer, "known"),
			wantKind: errkind.KindUnknown,
		},
		{
			name:     "known sender unsigned is rejected",
			verifier: NewVerifier(keys),
			message:  signedMessage(t, nil, "known"),
			wantKind: errkind.KindUnauthorized,
		},
		{
			name:     "known sender with wrong key is rejected",
			verifier: NewVerifier(keys),
			message:  signedMessage(t, signer, "impostor"),
			wantKind: errkind.KindUnauthorized,
		},
		{
			name:     "unknown sender unsigned is accepted",
			verifier: NewVerifier(keys),
			message:  signedMessage(t, nil, "stranger"),
			wantKind: errkind.KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.verifier.Verify(tt.message)
			if tt.wantKind == errkind.KindUnknown {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, errkind.Is(err, tt.wantKind))
			}
		})
	}
}

func TestTamperedEnvelopeFailsVerification(t *testing.T) {
	pub, priv := genKey(t)
	signer := NewSigner(priv)
	verifier := NewVerifier(map[string]ed25519.PublicKey{"a": pub})

	m := signedMessage(t, signer, "a")
	require.NoError(t, verifier.Verify(m))

	m.Content = TextContent{Body: "tampered"}
	err := verifier.Verify(m)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindUnauthorized))
}

func TestLoadSignerPEM(t *testing.T) {
	_, priv := genKey(t)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "identity.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{
		Type: "PRIVATE KEY", Bytes: der,
	}), 0o600))

	signer, err := LoadSigner(path)
	require.NoError(t, err)

	m := signedMessage(t, signer, "a")
	assert.NotEmpty(t, m.Signature)
	assert.NotEmpty(t, m.Nonce)
	assert.Equal(t, NewSigner(priv).Public(), signer.Public())
}

func TestLoadSignerJWK(t *testing.T) {
	_, priv := genKey(t)
	seed := priv.Seed()
	jwk := map[string]string{
		"kty": "OKP",
		"crv": "Ed25519",
		"x":   base64.RawURLEncoding.EncodeToString(priv.Public().(ed25519.PublicKey)),
		"d":   base64.RawURLEncoding.EncodeToString(seed),
	}
	data, err := json.Marshal(jwk)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "identity.jwk")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	signer, err := LoadSigner(path)
	require.NoError(t, err)
	assert.Equal(t, NewSigner(priv).Public(), signer.Public())
}

func TestLoadVerifierRoundTrip(t *testing.T) {
	pub, priv := genKey(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "authorized_keys.json")
	data, err := json.Marshal(authorizedKeysFile{Keys: map[string]string{
		"known": base64.StdEncoding.EncodeToString(pub),
	}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	v, err := LoadVerifier(path)
	require.NoError(t, err)
	require.NoError(t, v.Verify(signedMessage(t, NewSigner(priv), "known")))
	require.Error(t, v.Verify(signedMessage(t, nil, "known")))

	// Missing file: accept-all verifier.
	v2, err := LoadVerifier(filepath.Join(dir, "absent.json"))
	require.NoError(t, err)
	assert.NoError(t, v2.Verify(signedMessage(t, nil, "known")))
}
