package store

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"spoolhub/pkg/domain"
)

const (
	defaultJWTIssuer   = "spoolhub-auth"
	defaultJWTAudience = "spoolhub-api"
	defaultAccessTTL   = 15 * time.Minute
	defaultRefreshTTL  = 7 * 24 * time.Hour
	minHMACSecretLen   = 16
)

var defaultJWTLeeway = 30 * time.Second

var (
	// ErrInvalidToken wraps every verification failure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrSharedSigningKey is returned when access and refresh share a secret.
	ErrSharedSigningKey = errors.New("access and refresh tokens must use distinct signing keys")
)

// TokenUse distinguishes access from refresh credentials.
type TokenUse string

const (
	UseAccess  TokenUse = "access"
	UseRefresh TokenUse = "refresh"
)

// TokenOptions configures claims and lifetimes.
type TokenOptions struct {
	Issuer     string
	Audience   string
	Leeway     time.Duration
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// SigningKey signs with one key and verifies against a kid -> key set.
type SigningKey struct {
	method    jwt.SigningMethod
	signer    any
	signerKid string
	verifiers map[string]any
	secret    string
	rsaPub    map[string]*rsa.PublicKey
}

// NewHMACKey builds an HS256 key from a shared secret.
func NewHMACKey(secret string) (SigningKey, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minHMACSecretLen {
		return SigningKey{}, fmt.Errorf("hmac secret must be at least %d characters", minHMACSecretLen)
	}
	return SigningKey{
		method:    jwt.SigningMethodHS256,
		signer:    []byte(secret),
		signerKid: "hs-active",
		verifiers: map[string]any{"hs-active": []byte(secret)},
		secret:    secret,
	}, nil
}

// NewRSAKeyFromPEM builds an RS256 key. verifyKeyFiles maps kid -> public
// key path and can include previous keys during rotation.
func NewRSAKeyFromPEM(privateKeyPath, publicKeyPath, keyID string, verifyKeyFiles map[string]string) (SigningKey, error) {
	privateKey, err := loadRSAPrivateKeyFromPEMFile(privateKeyPath)
	if err != nil {
		return SigningKey{}, fmt.Errorf("load jwt private key: %w", err)
	}
	if strings.TrimSpace(keyID) == "" {
		keyID = "jwt-active"
	}
	activePub := &privateKey.PublicKey
	if strings.TrimSpace(publicKeyPath) != "" {
		activePub, err = loadRSAPublicKeyFromPEMFile(publicKeyPath)
		if err != nil {
			return SigningKey{}, fmt.Errorf("load jwt public key: %w", err)
		}
	}
	pubs := map[string]*rsa.PublicKey{keyID: activePub}
	for kid, path := range verifyKeyFiles {
		kid = strings.TrimSpace(kid)
		path = strings.TrimSpace(path)
		if kid == "" || path == "" {
			continue
		}
		pub, err := loadRSAPublicKeyFromPEMFile(path)
		if err != nil {
			return SigningKey{}, fmt.Errorf("load verify key %q: %w", kid, err)
		}
		pubs[kid] = pub
	}
	verifiers := make(map[string]any, len(pubs))
	for kid, pub := range pubs {
		verifiers[kid] = pub
	}
	return SigningKey{
		method:    jwt.SigningMethodRS256,
		signer:    privateKey,
		signerKid: keyID,
		verifiers: verifiers,
		rsaPub:    pubs,
	}, nil
}

type tokenClaims struct {
	Use TokenUse `json:"use"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies access/refresh pairs. Verification is
// purely cryptographic; revocation of refresh tokens lives in SessionCache.
type TokenIssuer struct {
	access     SigningKey
	refresh    SigningKey
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	audience   string
	leeway     time.Duration
}

// NewTokenIssuer requires distinct keys for the two token kinds.
func NewTokenIssuer(access, refresh SigningKey, opts TokenOptions) (*TokenIssuer, error) {
	if access.signer == nil || refresh.signer == nil {
		return nil, errors.New("token issuer requires access and refresh keys")
	}
	if access.secret != "" && access.secret == refresh.secret {
		return nil, ErrSharedSigningKey
	}
	opts = normalizeTokenOptions(opts)
	return &TokenIssuer{
		access:     access,
		refresh:    refresh,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		issuer:     opts.Issuer,
		audience:   opts.Audience,
		leeway:     opts.Leeway,
	}, nil
}

// RefreshTTL is the refresh token lifetime.
func (s *TokenIssuer) RefreshTTL() time.Duration { return s.refreshTTL }

// Issue mints a new access/refresh pair for userID.
func (s *TokenIssuer) Issue(userID string) (domain.TokenPair, error) {
	access, err := s.sign(s.access, UseAccess, userID, s.accessTTL)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.sign(s.refresh, UseRefresh, userID, s.refreshTTL)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess returns the subject of a valid access token.
func (s *TokenIssuer) VerifyAccess(token string) (string, error) {
	return s.verify(s.access, UseAccess, token)
}

// VerifyRefresh returns the subject of a valid refresh token.
func (s *TokenIssuer) VerifyRefresh(token string) (string, error) {
	return s.verify(s.refresh, UseRefresh, token)
}

func (s *TokenIssuer) sign(key SigningKey, use TokenUse, userID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := tokenClaims{
		Use: use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        randomHexID(12),
		},
	}
	token := jwt.NewWithClaims(key.method, claims)
	token.Header["kid"] = key.signerKid
	return token.SignedString(key.signer)
}

func (s *TokenIssuer) verify(key SigningKey, use TokenUse, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{key.method.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		parserOptions = append(parserOptions, jwt.WithAudience(s.audience))
	}
	claims := tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		kid = strings.TrimSpace(kid)
		if kid == "" {
			return nil, errors.New("token key id required")
		}
		verifier, ok := key.verifiers[kid]
		if !ok {
			return nil, errors.New("unknown token key")
		}
		return verifier, nil
	}, parserOptions...)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("signature rejected")
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Use != use {
		return "", fmt.Errorf("%w: token use %q", ErrInvalidToken, claims.Use)
	}
	if strings.TrimSpace(claims.ID) == "" {
		return "", fmt.Errorf("%w: token jti missing", ErrInvalidToken)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: token subject missing", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS publishes the access-token verification keys when they are RSA.
func (s *TokenIssuer) JWKS() []JWK {
	if len(s.access.rsaPub) == 0 {
		return nil
	}
	kids := make([]string, 0, len(s.access.rsaPub))
	for kid := range s.access.rsaPub {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	out := make([]JWK, 0, len(kids))
	for _, kid := range kids {
		pub := s.access.rsaPub[kid]
		out = append(out, JWK{
			Kty: "RSA",
			Use: "sig",
			Kid: kid,
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return out
}

func loadRSAPrivateKeyFromPEMFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pkcs1, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return pkcs1, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	privateKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return privateKey, nil
}

func loadRSAPublicKeyFromPEMFile(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pubAny, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		pub, ok := pubAny.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not rsa")
		}
		return pub, nil
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("certificate public key is not rsa")
		}
		return pub, nil
	}
	return nil, errors.New("failed to parse rsa public key")
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}

func normalizeTokenOptions(opts TokenOptions) TokenOptions {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultJWTIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultJWTAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultJWTLeeway
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = defaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = defaultRefreshTTL
	}
	return opts
}
