package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// siweVersion is the EIP-4361 message version.
const siweVersion = "1"

// Message is an EIP-4361 Sign-In with Ethereum message.
type Message struct {
	Domain    string
	Address   string
	Statement string
	URI       string
	Version   string
	ChainID   uint64
	Nonce     string
	IssuedAt  time.Time
}

// String renders the message in the EIP-4361 text layout.
func (m Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your Ethereum account:\n", m.Domain)
	b.WriteString(m.Address)
	b.WriteString("\n\n")
	if m.Statement != "" {
		b.WriteString(m.Statement)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "URI: %s\n", m.URI)
	fmt.Fprintf(&b, "Version: %s\n", m.Version)
	fmt.Fprintf(&b, "Chain ID: %d\n", m.ChainID)
	fmt.Fprintf(&b, "Nonce: %s\n", m.Nonce)
	fmt.Fprintf(&b, "Issued At: %s", m.IssuedAt.UTC().Format(time.RFC3339))
	return b.String()
}

// newNonce returns 16 alphanumeric characters.
func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
