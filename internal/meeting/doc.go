// Package meeting holds the value types shared by the session client and the
// fallback content provider.
//
// Values are immutable snapshots. A meeting change is expressed by replacing the
// Context, never by mutating one in place.
package meeting
