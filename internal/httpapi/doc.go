// Package httpapi mounts the engine on echo under /v1/auth.
//
// Tokens travel in HttpOnly cookies. Responses carry only the access
// token lifetime and the account summary, except the two-factor challenge
// which carries the user id.
package httpapi
