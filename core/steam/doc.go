// Package steam models the content delivery service the sync engine talks
// to: session establishment and logon, depot metadata lookups, and manifest
// and chunk retrieval.
//
// The engine depends only on the ContentClient interface; the bundled
// implementation speaks to the web API gateway for session and directory
// calls and to the content servers for payloads. Wire details (encryption of
// names and chunks, payload compression) stay inside this package.
//
// # Session lifecycle
//
// Session drives the logon state machine: connect, then cached-token,
// anonymous or credential logon, then logoff. A background task drains
// session events for the lifetime of the connection and is joined during
// Close, so it can never outlive the session. A successful credential logon
// persists the refresh token via TokenStore so later runs skip interactive
// prompts.
//
// # Error taxonomy
//
// Service-side failures map onto the package sentinels (ErrNotFound,
// ErrTimeout, ErrAuthRejected, ErrMissingToken, ErrProtocol) and are
// classified by callers with errors.Is.
package steam
