package store

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func writeRSAKeyPairFiles(t *testing.T, prefix string) (privatePath, publicPath string) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	dir := t.TempDir()
	privatePath = filepath.Join(dir, prefix+"-private.pem")
	publicPath = filepath.Join(dir, prefix+"-public.pem")

	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return privatePath, publicPath
}

func newHMACIssuer(t *testing.T, opts TokenOptions) *TokenIssuer {
	t.Helper()
	access, err := NewHMACKey("access-secret-0123456789")
	if err != nil {
		t.Fatalf("access key: %v", err)
	}
	refresh, err := NewHMACKey("refresh-secret-0123456789")
	if err != nil {
		t.Fatalf("refresh key: %v", err)
	}
	issuer, err := NewTokenIssuer(access, refresh, opts)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer
}

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer := newHMACIssuer(t, TokenOptions{})
	pair, err := issuer.Issue("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatalf("access and refresh tokens must differ")
	}
	sub, err := issuer.VerifyAccess(pair.AccessToken)
	if err != nil || sub != "u1" {
		t.Fatalf("verify access: sub=%q err=%v", sub, err)
	}
	sub, err = issuer.VerifyRefresh(pair.RefreshToken)
	if err != nil || sub != "u1" {
		t.Fatalf("verify refresh: sub=%q err=%v", sub, err)
	}
}

func TestTokenIssuerRejectsCrossUse(t *testing.T) {
	issuer := newHMACIssuer(t, TokenOptions{})
	pair, err := issuer.Issue("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.VerifyAccess(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as access: %v", err)
	}
	if _, err := issuer.VerifyRefresh(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token accepted as refresh: %v", err)
	}
}

func TestTokenIssuerRejectsSharedSecret(t *testing.T) {
	key, err := NewHMACKey("same-secret-0123456789")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if _, err := NewTokenIssuer(key, key, TokenOptions{}); !errors.Is(err, ErrSharedSigningKey) {
		t.Fatalf("expected ErrSharedSigningKey, got %v", err)
	}
}

func TestNewHMACKeyRejectsShortSecret(t *testing.T) {
	if _, err := NewHMACKey("short"); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestTokenIssuerRejectsExpired(t *testing.T) {
	issuer := newHMACIssuer(t, TokenOptions{AccessTTL: time.Millisecond, Leeway: time.Millisecond})
	pair, err := issuer.Issue("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := issuer.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejection, got %v", err)
	}
}

func TestTokenIssuerRejectsTampered(t *testing.T) {
	issuer := newHMACIssuer(t, TokenOptions{})
	pair, err := issuer.Issue("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	if _, err := issuer.VerifyAccess(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected tampered token rejection, got %v", err)
	}
	if _, err := issuer.VerifyAccess(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected empty token rejection, got %v", err)
	}
}

func TestTokenIssuerRejectsAudienceMismatch(t *testing.T) {
	a := newHMACIssuer(t, TokenOptions{Audience: "spoolhub-api"})
	b := newHMACIssuer(t, TokenOptions{Audience: "other-api"})
	pair, err := a.Issue("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected audience mismatch rejection, got %v", err)
	}
}

func TestTokenIssuerRejectsMissingKidAndJTI(t *testing.T) {
	issuer := newHMACIssuer(t, TokenOptions{})
	now := time.Now().UTC()
	base := tokenClaims{
		Use: UseAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    defaultJWTIssuer,
			Audience:  jwt.ClaimStrings{defaultJWTAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}

	noKid := jwt.NewWithClaims(jwt.SigningMethodHS256, base)
	raw, err := noKid.SignedString([]byte("access-secret-0123456789"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := issuer.VerifyAccess(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected missing kid rejection, got %v", err)
	}

	noJTI := jwt.NewWithClaims(jwt.SigningMethodHS256, base)
	noJTI.Header["kid"] = "hs-active"
	raw, err = noJTI.SignedString([]byte("access-secret-0123456789"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := issuer.VerifyAccess(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected missing jti rejection, got %v", err)
	}
}

func TestTokenIssuerRS256AndJWKS(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t, "active")
	_, oldPublic := writeRSAKeyPairFiles(t, "old")
	access, err := NewRSAKeyFromPEM(privatePath, publicPath, "kid-2", map[string]string{"kid-1": oldPublic})
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	refresh, err := NewHMACKey("refresh-secret-0123456789")
	if err != nil {
		t.Fatalf("refresh key: %v", err)
	}
	issuer, err := NewTokenIssuer(access, refresh, TokenOptions{})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	pair, err := issuer.Issue("u2")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if sub, err := issuer.VerifyAccess(pair.AccessToken); err != nil || sub != "u2" {
		t.Fatalf("verify rs256: sub=%q err=%v", sub, err)
	}
	keys := issuer.JWKS()
	if len(keys) != 2 || keys[0].Kid != "kid-1" || keys[1].Kid != "kid-2" {
		t.Fatalf("unexpected jwks: %+v", keys)
	}
	for _, k := range keys {
		if k.Kty != "RSA" || k.Alg != "RS256" || k.N == "" || k.E == "" {
			t.Fatalf("incomplete jwk: %+v", k)
		}
	}
}

func TestTokenIssuerHMACHasNoJWKS(t *testing.T) {
	if keys := newHMACIssuer(t, TokenOptions{}).JWKS(); keys != nil {
		t.Fatalf("expected no jwks for hmac issuer, got %+v", keys)
	}
}
