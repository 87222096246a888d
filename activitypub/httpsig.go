package activitypub

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"github.com/deemkeen/fedgate/domain"
	"github.com/go-fed/httpsig"
)

var signedHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}

// SignRequest signs an outgoing HTTP request with the given private key.
// keyId format: "https://example.com/users/alice#main-key". The Date and
// Host headers must already be set; the Digest header is computed from body.
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string, body []byte) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		signedHeaders,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}
	return signer.SignRequest(privateKey, keyId, req, body)
}

// VerifyRequest verifies the HTTP signature on an incoming request against
// publicKeyPem and returns the key id that signed it.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	restoreHost(req)
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}
	return verifier.KeyId(), nil
}

// KeyOwner strips the fragment from a key id:
// "https://example.com/users/alice#main-key" -> "https://example.com/users/alice"
func KeyOwner(keyId string) string {
	owner, _, _ := strings.Cut(keyId, "#")
	return owner
}

// restoreHost puts the Host header back: net/http moves it to req.Host on
// the server side, but it is part of the signed string.
func restoreHost(req *http.Request) {
	if req.Header.Get("Host") == "" && req.Host != "" {
		req.Header.Set("Host", req.Host)
	}
}

// Digest returns the value of the Digest header for body.
func Digest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// SignatureVerifier authenticates inbound deliveries: it resolves the
// signing key through RemoteActors, checks the signature and the body
// digest, and returns the URI of the signing actor.
type SignatureVerifier struct {
	actors *RemoteActors
}

func NewSignatureVerifier(actors *RemoteActors) *SignatureVerifier {
	return &SignatureVerifier{actors: actors}
}

func (v *SignatureVerifier) Verify(ctx context.Context, req *http.Request, body []byte) (string, error) {
	if req.Header.Get("Signature") == "" && req.Header.Get("Authorization") == "" {
		return "", fmt.Errorf("missing signature: %w", domain.ErrUnauthorized)
	}

	restoreHost(req)
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("malformed signature: %w: %w", domain.ErrUnauthorized, err)
	}
	actorURI := KeyOwner(verifier.KeyId())

	if digest := req.Header.Get("Digest"); digest != "" {
		if subtle.ConstantTimeCompare([]byte(digest), []byte(Digest(body))) != 1 {
			return "", fmt.Errorf("digest mismatch: %w", domain.ErrUnauthorized)
		}
	}

	actor, err := v.actors.Get(ctx, actorURI)
	if err != nil {
		return "", fmt.Errorf("failed to resolve signing actor %s: %w: %w", actorURI, domain.ErrUnauthorized, err)
	}
	if _, err := VerifyRequest(req, actor.PublicKeyPem); err != nil {
		return "", fmt.Errorf("signing actor %s: %w: %w", actorURI, domain.ErrUnauthorized, err)
	}
	return actor.ActorURI, nil
}

// ParsePrivateKey converts PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return privateKey, nil
}

// ParsePublicKey converts PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPubKey, nil
}
