package types

// Version is the canonical project version.
// The CLI and the user agent sent to the generation endpoint share it.
const Version = "0.3.0"

// UserAgent is sent with every outbound generation request.
const UserAgent = "vellum/" + Version
