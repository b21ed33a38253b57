// Package syntax holds the identifier and string formats used when talking to atproto services: DIDs, handles, NSIDs, record keys, AT-URIs, datetimes and TIDs.
//
// Everything here is parsing and formatting. Resolution of identifiers lives in the identity package.
package syntax
