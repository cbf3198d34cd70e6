// Package auth authenticates callers of the admin API.
//
// Two methods are supported: static API keys in the X-API-Key header and
// HMAC-signed bearer JWTs. CompositeAuthenticator tries each configured
// method that recognizes the request, and Middleware rejects requests that
// none of them accept.
package auth
