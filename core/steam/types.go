package steam

// ChunkRef identifies one independently fetchable chunk of a depot file.
type ChunkRef struct {
	// ID is the opaque chunk identifier used by the content servers.
	ID []byte

	// UncompressedSize is the size of the chunk once decoded.
	UncompressedSize uint64

	// Offset is the byte offset of the chunk within the destination file.
	// Offsets determine placement; chunk order carries no meaning.
	Offset uint64
}

// ManifestEntry describes a single file or directory within a depot manifest.
type ManifestEntry struct {
	// Path is the slash-normalized path relative to the depot root.
	Path string

	// IsDirectory marks entries that only describe a directory.
	IsDirectory bool

	// Size is the total uncompressed file size in bytes.
	Size uint64

	// Hash is the SHA-1 of the complete file contents. It may be empty
	// for depots that do not publish per-file hashes.
	Hash []byte

	// Chunks lists the chunks making up the file contents.
	Chunks []ChunkRef
}

// Manifest is the file and chunk index describing one depot version.
type Manifest struct {
	DepotID    uint32
	ManifestID uint64
	Entries    []ManifestEntry
}

// Endpoint is one content server offered by the delivery network.
type Endpoint struct {
	// Host is the server address. Entries with an empty host must be
	// skipped by callers.
	Host string

	// VHost is the virtual host to present, when different from Host.
	VHost string

	// Port is the serving port.
	Port int

	// HTTPS indicates whether the server expects TLS.
	HTTPS bool
}

// Credentials is the durable outcome of a successful credential logon.
type Credentials struct {
	// SteamID is the authenticated account identity.
	SteamID uint64

	// RefreshToken permits silent re-authentication on later runs.
	RefreshToken string

	// GuardData, when present, lets future logons skip the guard prompt
	// on this machine.
	GuardData string
}

// Authenticator supplies second-factor responses during credential logon.
// Implementations may prompt interactively or return pre-seeded codes.
type Authenticator interface {
	// DeviceCode returns a mobile authenticator code. previousInvalid is
	// true when an earlier code was rejected.
	DeviceCode(previousInvalid bool) (string, error)

	// EmailCode returns a code sent to the account email address.
	EmailCode(address string, previousInvalid bool) (string, error)
}
