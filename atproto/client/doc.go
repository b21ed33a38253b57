/*
Client for the atproto repository XRPC endpoints of a user's PDS, authenticated with OAuth access tokens and DPoP proofs.

[Client.AuthenticatedRequest] is the low-level primitive: it signs a request with the session's DPoP key, binds the proof to the access token, and handles resource-server nonce rotation (one retry on a "use_dpop_nonce" challenge). The record helpers ([Client.CreateRecord], [Client.GetRecord], [Client.ListRecords], [Client.DeleteRecord]) are built on top of it.

Sessions are treated as values. Every call takes a session and returns an updated copy carrying any new nonce the PDS handed out; the input is never modified. Callers making a sequence of requests should carry the returned session forward, and persist it at the end with [Client.SaveSession]. Requests against one session must not run concurrently.

Failures are returned as [*APIError] when the PDS answered with an error status. These unwrap to the operation's sentinel ([ErrCreateFailed], [ErrNotFound], etc), so callers can use [errors.Is]. Network failures wrap [ErrTransport].
*/
package client
