// Package token derives log-safe fingerprints of bot credentials.
//
// A fingerprint identifies which credential a process runs with without
// exposing it. With TEAMLY_TOKEN_HMAC_KEY set the digest is keyed, so
// fingerprints cannot be matched against a list of leaked tokens.
package token
