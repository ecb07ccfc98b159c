// Package auth authenticates operators of the HTTP API.
//
// Operators present an HS256 JWT as a bearer token. The "sub" claim is the
// operator's chat user ID, the same ID that owns tenants created through
// the factory bot, so one identity covers both surfaces. Tokens must carry
// an expiry and the "botfactory" issuer.
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate(ownerID, 24*time.Hour)
//
// HTTPAuthMiddleware validates the token and stores the owner ID in the
// request context, where handlers read it with OwnerFromContext.
package auth
