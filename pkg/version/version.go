package version

// Version is the server release version.
var Version = "0.3.0"

// SupportedProtocolVersions lists negotiable protocol revisions, most
// preferred first. Negotiation echoes the client's version when it appears
// here, otherwise falls back to the first entry.
var SupportedProtocolVersions = []string{
	"2025-03-26",
	"2024-11-05",
	"2024-10-07",
}

// ProtocolVersion is the revision offered when the client's is unknown.
var ProtocolVersion = SupportedProtocolVersions[0]
