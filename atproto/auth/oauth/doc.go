/*
Package oauth implements the client side of atproto OAuth: pushed authorization requests (PAR), PKCE, and DPoP-bound tokens.

A login starts with [ClientApp.StartAuthorization], which resolves the account, discovers its authorization server, and registers the request. The returned [AuthState] is held by the caller (eg, in an encrypted cookie) until the user comes back to the redirect URI, at which point [ClientApp.ExchangeCode] turns the authorization code into a [Session].

Every request to the authorization server carries a DPoP proof. When the server answers with a "use_dpop_nonce" challenge the request is retried exactly once with the supplied nonce; a second challenge is returned as an error wrapping [ErrNonceRetryExhausted].

Sessions are persisted through the [SessionStore] interface. A single [Session] must not be used concurrently: requests and refreshes mutate its nonce and token fields.
*/
package oauth
