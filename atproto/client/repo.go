package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-querystring/query"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skylinks/skylinks/atproto/auth/oauth"
	"github.com/skylinks/skylinks/atproto/syntax"
)

// Reference to a record version, as returned by createRecord.
type RecordRef struct {
	URI syntax.ATURI `json:"uri"`
	CID string       `json:"cid"`

	// Repo revision after the write, when the PDS reports it
	Rev string `json:"-"`
}

type createRecordInput struct {
	Repo       string         `json:"repo"`
	Collection string         `json:"collection"`
	RKey       string         `json:"rkey"`
	Record     map[string]any `json:"record"`
}

type createRecordOutput struct {
	URI    syntax.ATURI `json:"uri"`
	CID    string       `json:"cid"`
	Commit *struct {
		Rev string `json:"rev"`
	} `json:"commit,omitempty"`
}

type deleteRecordInput struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
}

// A record as returned by getRecord and listRecords.
type Record struct {
	URI   syntax.ATURI   `json:"uri"`
	CID   string         `json:"cid,omitempty"`
	Value map[string]any `json:"value"`
}

type ListOptions struct {
	Limit   int    `url:"limit,omitempty"`
	Cursor  string `url:"cursor,omitempty"`
	Reverse bool   `url:"reverse,omitempty"`
}

type RecordPage struct {
	Records []Record `json:"records"`
	Cursor  string   `json:"cursor,omitempty"`
}

type listParams struct {
	Repo       string `url:"repo"`
	Collection string `url:"collection"`
	ListOptions
}

type getParams struct {
	Repo       string `url:"repo"`
	Collection string `url:"collection"`
	RKey       string `url:"rkey"`
}

func startSpan(ctx context.Context, name string, sess *oauth.Session, collection syntax.NSID) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("did", sess.DID.String()),
		attribute.String("collection", collection.String()),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Creates a record in the session account's repo. An empty rkey is replaced with a fresh TID.
//
// The returned session carries any nonce rotation and should be used for the next request.
func (c *Client) CreateRecord(ctx context.Context, sess *oauth.Session, collection syntax.NSID, record map[string]any, rkey syntax.RecordKey) (ref *RecordRef, next *oauth.Session, err error) {
	ctx, span := startSpan(ctx, "CreateRecord", sess, collection)
	defer func() { endSpan(span, err) }()

	if rkey == "" {
		if c.TIDs == nil {
			return nil, sess, fmt.Errorf("%w: no TID generator configured", ErrCreateFailed)
		}
		rkey = syntax.RecordKey(c.TIDs.Next().String())
	}

	u, err := XRPCURL(sess.PDSURL, CreateRecordNSID, nil)
	if err != nil {
		return nil, sess, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	body := createRecordInput{
		Repo:       sess.DID.String(),
		Collection: collection.String(),
		RKey:       rkey.String(),
		Record:     record,
	}
	resp, next, err := c.AuthenticatedRequest(ctx, sess, MethodProcedure, u, body)
	if next == nil {
		next = sess
	}
	if err != nil {
		return nil, next, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	if !resp.Success() {
		return nil, next, resp.APIError(ErrCreateFailed)
	}

	var out createRecordOutput
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, next, fmt.Errorf("%w: decoding response: %w", ErrCreateFailed, err)
	}
	ref = &RecordRef{URI: out.URI, CID: out.CID}
	if out.Commit != nil {
		ref.Rev = out.Commit.Rev
	}
	c.logger().Debug("created record", "uri", ref.URI, "cid", ref.CID)
	return ref, next, nil
}

// Fetches a record from the session account's repo. Missing records return an error wrapping [ErrNotFound].
func (c *Client) GetRecord(ctx context.Context, sess *oauth.Session, collection syntax.NSID, rkey syntax.RecordKey) (rec *Record, next *oauth.Session, err error) {
	ctx, span := startSpan(ctx, "GetRecord", sess, collection)
	defer func() { endSpan(span, err) }()

	params, err := query.Values(getParams{
		Repo:       sess.DID.String(),
		Collection: collection.String(),
		RKey:       rkey.String(),
	})
	if err != nil {
		return nil, sess, fmt.Errorf("%w: %w", ErrGetFailed, err)
	}
	u, err := XRPCURL(sess.PDSURL, GetRecordNSID, params)
	if err != nil {
		return nil, sess, fmt.Errorf("%w: %w", ErrGetFailed, err)
	}
	resp, next, err := c.AuthenticatedRequest(ctx, sess, MethodQuery, u, nil)
	if next == nil {
		next = sess
	}
	if err != nil {
		return nil, next, fmt.Errorf("%w: %w", ErrGetFailed, err)
	}
	if !resp.Success() {
		ae := resp.APIError(ErrGetFailed)
		if resp.StatusCode == http.StatusNotFound || ae.Name == "RecordNotFound" {
			ae.Kind = ErrNotFound
		}
		return nil, next, ae
	}

	var out Record
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, next, fmt.Errorf("%w: decoding response: %w", ErrGetFailed, err)
	}
	return &out, next, nil
}

// Lists one page of records in a collection of the session account's repo.
func (c *Client) ListRecords(ctx context.Context, sess *oauth.Session, collection syntax.NSID, opts ListOptions) (page *RecordPage, next *oauth.Session, err error) {
	ctx, span := startSpan(ctx, "ListRecords", sess, collection)
	defer func() { endSpan(span, err) }()

	params, err := query.Values(listParams{
		Repo:        sess.DID.String(),
		Collection:  collection.String(),
		ListOptions: opts,
	})
	if err != nil {
		return nil, sess, fmt.Errorf("%w: %w", ErrListFailed, err)
	}
	u, err := XRPCURL(sess.PDSURL, ListRecordsNSID, params)
	if err != nil {
		return nil, sess, fmt.Errorf("%w: %w", ErrListFailed, err)
	}
	resp, next, err := c.AuthenticatedRequest(ctx, sess, MethodQuery, u, nil)
	if next == nil {
		next = sess
	}
	if err != nil {
		return nil, next, fmt.Errorf("%w: %w", ErrListFailed, err)
	}
	if !resp.Success() {
		return nil, next, resp.APIError(ErrListFailed)
	}

	var out RecordPage
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, next, fmt.Errorf("%w: decoding response: %w", ErrListFailed, err)
	}
	return &out, next, nil
}

// Deletes a record from the session account's repo. Deleting a record which does not exist is not an error on most PDS implementations.
func (c *Client) DeleteRecord(ctx context.Context, sess *oauth.Session, collection syntax.NSID, rkey syntax.RecordKey) (next *oauth.Session, err error) {
	ctx, span := startSpan(ctx, "DeleteRecord", sess, collection)
	defer func() { endSpan(span, err) }()

	u, err := XRPCURL(sess.PDSURL, DeleteRecordNSID, nil)
	if err != nil {
		return sess, fmt.Errorf("%w: %w", ErrDeleteFailed, err)
	}
	body := deleteRecordInput{
		Repo:       sess.DID.String(),
		Collection: collection.String(),
		RKey:       rkey.String(),
	}
	resp, next, err := c.AuthenticatedRequest(ctx, sess, MethodProcedure, u, body)
	if next == nil {
		next = sess
	}
	if err != nil {
		return next, fmt.Errorf("%w: %w", ErrDeleteFailed, err)
	}
	if !resp.Success() {
		return next, resp.APIError(ErrDeleteFailed)
	}
	return next, nil
}

// Reports whether err is a PDS error response with the given XRPC error name.
func IsXRPCError(err error, name string) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Name == name
}
