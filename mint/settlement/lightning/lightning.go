// Package lightning selects and wraps the Lightning settlement backend
// the mint talks to: a real node (LND over gRPC, CLN over its REST
// plugin, or an LNbits wallet) or, for tests and local development, an
// in-memory fake.
package lightning

import (
	"errors"
	"fmt"
	"os"

	"github.com/coinshelf/mint/mint/settlement"
)

const BackendEnv = "LIGHTNING_BACKEND"

// SetupBackend reads LIGHTNING_BACKEND and constructs the corresponding
// settlement.Adapter, reading that backend's own env vars as needed.
func SetupBackend() (settlement.Adapter, error) {
	switch os.Getenv(BackendEnv) {
	case "Lnd":
		return NewLndBackend()
	case "Cln":
		return NewClnBackend()
	case "Lnbits":
		return NewLnbitsBackend()
	case "FakeBackend":
		return NewFakeBackend(), nil
	default:
		return nil, errors.New("invalid " + BackendEnv)
	}
}

// Closer is implemented by backends holding a live connection (lnd's
// gRPC channel) that must be torn down on shutdown.
type Closer interface {
	Close() error
}

// Close releases adapter's connection if it is a Closer, otherwise it
// is a no-op.
func Close(adapter settlement.Adapter) error {
	if closer, ok := adapter.(Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("lightning: closing backend: %w", err)
		}
	}
	return nil
}
