/*
Copyright 2022-2023 EscherCloud.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package authorization

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

var (
	// ErrKeyFormat is raised when something is wrong with the
	// encryption keys.
	ErrKeyFormat = errors.New("key format error")

	// ErrTokenVerification is raised when token verification fails.
	ErrTokenVerification = errors.New("failed to verify token")
)

// JWTIssuer issues and verifies both session tokens and signed invites,
// sharing one ES512-signed, ECDH-ES+A256GCM encrypted JWE/JWS scheme keyed
// off the API server's own TLS keypair, so no separate shared MAC secret
// has to be distributed to anything that verifies a token out of band.
// The keys come from a mounted TLS secret and are expected to rotate on
// whatever schedule the cluster's certificate manager uses; callers must
// not cache a loaded keypair across that rotation window.
type JWTIssuer struct {
	// tLSKeyPath identifies where to get the JWE/JWS private key from.
	tLSKeyPath string

	// tLSCertPath identifies where to get the JWE/JWS public key from.
	tLSCertPath string

	// sessionDuration caps how long a session token issued by Issue is
	// valid for.
	sessionDuration time.Duration
}

// NewJWTIssuer returns a new JWT issuer and validator.
func NewJWTIssuer() *JWTIssuer {
	return &JWTIssuer{}
}

const (
	tlsKeyPathDefault  = "/var/lib/secrets/skyshift.sh/jose/tls.key"
	tlsCertPathDefault = "/var/lib/secrets/skyshift.sh/jose/tls.crt"
)

// AddFlags registers flags with the provided flag set.
func (i *JWTIssuer) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&i.tLSKeyPath, "jose-tls-key", tlsKeyPathDefault, "TLS key used to sign JWS and decrypt JWE.")
	f.StringVar(&i.tLSCertPath, "jose-tls-cert", tlsCertPathDefault, "TLS cert used to verify JWS and encrypt JWE.")
	f.DurationVar(&i.sessionDuration, "token-expiry-duration", 24*time.Hour, "session token expiry duration")
}

// GetKeyPair returns the public and private key from the configuration data.
func (i *JWTIssuer) GetKeyPair() (any, crypto.PrivateKey, error) {
	tlsCertificate, err := tls.LoadX509KeyPair(i.tLSCertPath, i.tLSKeyPath)
	if err != nil {
		return nil, nil, err
	}

	if len(tlsCertificate.Certificate) != 1 {
		return nil, nil, fmt.Errorf("%w: unexpected certificate chain", ErrKeyFormat)
	}

	certificate, err := x509.ParseCertificate(tlsCertificate.Certificate[0])
	if err != nil {
		return nil, nil, err
	}

	if certificate.PublicKeyAlgorithm != x509.ECDSA {
		return nil, nil, fmt.Errorf("%w: certificate public key algorithm is not ECDSA", ErrKeyFormat)
	}

	return certificate.PublicKey, tlsCertificate.PrivateKey, nil
}

// Purpose distinguishes the two Claims shapes this one issuer mints:
// short-lived session tokens handed back by login/register, and
// longer-lived signed invites naming the roles an invite grants.
type Purpose string

const (
	// PurposeSession identifies a bearer session token.
	PurposeSession Purpose = "session"

	// PurposeInvite identifies a signed invite token.
	PurposeInvite Purpose = "invite"
)

// Claims is the application-specific claim set carried by both session
// tokens and invites; Roles/Issuer are only populated for PurposeInvite.
type Claims struct {
	jwt.Claims `json:",inline"`

	Purpose Purpose  `json:"purpose"`
	Roles   []string `json:"roles,omitempty"`
}

// Issue mints a session token for subject, valid until the earlier of
// expiresAt and the issuer's configured session duration.
func (i *JWTIssuer) Issue(r *http.Request, subject string, expiresAt time.Time) (string, error) {
	return i.issue(r, subject, PurposeSession, nil, expiresAt)
}

// IssueInvite mints a signed invite naming subject and the roles it
// grants, valid until expiresAt.
func (i *JWTIssuer) IssueInvite(r *http.Request, subject string, roles []string, expiresAt time.Time) (string, error) {
	return i.issue(r, subject, PurposeInvite, roles, expiresAt)
}

func (i *JWTIssuer) issue(r *http.Request, subject string, purpose Purpose, roles []string, expiresAt time.Time) (string, error) {
	publicKey, privateKey, err := i.GetKeyPair()
	if err != nil {
		return "", fmt.Errorf("failed to get key pair: %w", err)
	}

	now := time.Now()

	if purpose == PurposeSession {
		if maxExpiresAt := now.Add(i.sessionDuration); expiresAt.IsZero() || expiresAt.After(maxExpiresAt) {
			expiresAt = maxExpiresAt
		}
	}

	nowRFC7519 := jwt.NumericDate(now.Unix())
	expiresAtRFC7519 := jwt.NumericDate(expiresAt.Unix())

	host := "skyshift"
	if r != nil {
		host = r.Host
	}

	claims := Claims{
		Claims: jwt.Claims{
			ID:        uuid.New().String(),
			Subject:   subject,
			Audience:  jwt.Audience{host},
			Issuer:    host,
			IssuedAt:  &nowRFC7519,
			NotBefore: &nowRFC7519,
			Expiry:    &expiresAtRFC7519,
		},
		Purpose: purpose,
		Roles:   roles,
	}

	signingKey := jose.SigningKey{Algorithm: jose.ES512, Key: privateKey}

	signer, err := jose.NewSigner(signingKey, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	recipient := jose.Recipient{Algorithm: jose.ECDH_ES, Key: publicKey}

	encrypterOptions := (&jose.EncrypterOptions{}).WithType("JWT").WithContentType("JWT")

	encrypter, err := jose.NewEncrypter(jose.A256GCM, recipient, encrypterOptions)
	if err != nil {
		return "", fmt.Errorf("failed to create encrypter: %w", err)
	}

	token, err := jwt.SignedAndEncrypted(signer, encrypter).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to create token: %w", err)
	}

	return token, nil
}

// Verify checks tokenString parses, decrypts, and validates, returning
// its claims.
func (i *JWTIssuer) Verify(r *http.Request, tokenString string) (*Claims, error) {
	publicKey, privateKey, err := i.GetKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to get key pair: %w", err)
	}

	nestedToken, err := jwt.ParseSignedAndEncrypted(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse token: %v", ErrTokenVerification, err)
	}

	token, err := nestedToken.Decrypt(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt token: %v", ErrTokenVerification, err)
	}

	claims := &Claims{}

	if err := token.Claims(publicKey, claims); err != nil {
		return nil, fmt.Errorf("%w: failed to verify signature: %v", ErrTokenVerification, err)
	}

	host := "skyshift"
	if r != nil {
		host = r.Host
	}

	expected := jwt.Expected{
		Audience: jwt.Audience{host},
		Issuer:   host,
		Time:     time.Now(),
	}

	if err := claims.Claims.Validate(expected); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenVerification, err)
	}

	return claims, nil
}

// GetHTTPAuthenticationScheme splits an Authorization header into its
// scheme ("Bearer", "Basic") and credential, per RFC 7235.
func GetHTTPAuthenticationScheme(r *http.Request) (string, string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "", fmt.Errorf("%w: missing Authorization header", ErrTokenVerification)
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: malformed Authorization header", ErrTokenVerification)
	}

	return parts[0], parts[1], nil
}
