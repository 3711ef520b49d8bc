/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are used
 * to process requests before they reach the final handler, perfect for tasks like
 * authentication, logging, or adding context to a request.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserIDContextKey is a custom type for the context key to avoid collisions.
type UserIDContextKey string

const authUserIDKey UserIDContextKey = "authUserID"

// DefaultCertsURL is Google's x509 certificate endpoint for Firebase ID token
// verification.
const DefaultCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

// FirebaseAuthMiddleware creates a middleware that validates Firebase ID
// tokens. Tokens are RS256-signed; public keys are fetched from Google's
// securetoken certificate endpoint and matched by the token's kid header.
// Issuer and audience are pinned to the configured Firebase project.
func FirebaseAuthMiddleware(projectID, certsURL string) func(http.Handler) http.Handler {
	if certsURL == "" {
		certsURL = DefaultCertsURL
	}
	expectedIssuer := "https://securetoken.google.com/" + projectID

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			// Extract the token from "Bearer <token>"
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}

				kid, ok := token.Header["kid"].(string)
				if !ok {
					return nil, fmt.Errorf("kid not found in token header")
				}

				publicKey, err := getPublicKeyFromCerts(certsURL, kid)
				if err != nil {
					return nil, fmt.Errorf("failed to get public key: %w", err)
				}
				return publicKey, nil
			})

			if err != nil {
				http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
				return
			}
			if !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			if projectID != "" {
				if aud, ok := claims["aud"].(string); !ok || aud != projectID {
					http.Error(w, "Invalid audience", http.StatusUnauthorized)
					return
				}
				if iss, ok := claims["iss"].(string); !ok || iss != expectedIssuer {
					http.Error(w, "Invalid issuer", http.StatusUnauthorized)
					return
				}
			}

			// The 'sub' claim carries the Firebase user id.
			userID, ok := claims["sub"].(string)
			if !ok || userID == "" {
				http.Error(w, "User ID not found in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), authUserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// getPublicKeyFromCerts fetches the signing certificate for the given key id.
// This is a simplified implementation; in production the certificates should
// be cached per the endpoint's Cache-Control header.
func getPublicKeyFromCerts(certsURL, kid string) (interface{}, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(certsURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// The endpoint returns a flat JSON object of kid -> PEM certificate.
	var certs map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
		return nil, err
	}

	certPEM, ok := certs[kid]
	if !ok {
		return nil, fmt.Errorf("certificate with kid %s not found", kid)
	}
	return parseCertPublicKey(certPEM)
}

// parseCertPublicKey extracts the RSA public key from a PEM x509 certificate.
func parseCertPublicKey(certPEM string) (interface{}, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert.PublicKey, nil
}

// GetAuthUserID retrieves the authenticated user's id from the request context.
// Handlers should use this function to get the authenticated user's ID.
func GetAuthUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(authUserIDKey).(string)
	return userID, ok
}

// WithAuthUserID returns a context carrying the given user id. Tests use it to
// exercise handlers without real tokens.
func WithAuthUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, authUserIDKey, userID)
}
