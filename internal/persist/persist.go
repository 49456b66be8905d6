package persist

// Document names for the two snapshots the service maintains.
const (
	DocTokens  = "tokens"
	DocAccount = "account"
)

// Store persists named JSON-serializable documents. Each Save replaces the
// whole document; there is no transaction spanning documents.
type Store interface {
	// Load decodes the named document into out. The boolean reports whether
	// the document existed.
	Load(name string, out any) (bool, error)
	// Save atomically replaces the named document.
	Save(name string, doc any) error
}
