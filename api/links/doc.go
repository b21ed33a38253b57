// Package links defines the app.skylinks.* record types published to atproto repositories, and their conversion to and from the generic JSON map form used on the wire.
//
// Text fields are bounded in bytes. Over-long values are cut at a grapheme cluster boundary and suffixed with "...", so the result never exceeds the limit and never splits a character. List fields are capped in length, and empty values are left out of the wire form entirely.
package links
