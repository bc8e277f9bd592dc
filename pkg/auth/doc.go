/*
Package auth implements the Authenticator consulted by the Session Table
during admission. SharedSecretAuthenticator is a
nonce/HMAC-SHA256 challenge-response scheme keyed by a cluster-wide secret,
deriving key material from a cluster identifier and comparing responses
in constant time.
*/
package auth
