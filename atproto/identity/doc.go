/*
Package identity resolves atproto handles and DIDs to the account's PDS (repository server) endpoint.

Only the did:plc and did:web methods are supported. Handles are resolved through the com.atproto.identity.resolveHandle XRPC endpoint of a configured service, not via DNS.

The [Directory] interface is what other packages depend on; [Resolver] is the network implementation and [MockResolver] a fixed in-memory one for tests.
*/
package identity
