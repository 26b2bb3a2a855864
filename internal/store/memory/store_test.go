package memory

import (
	"testing"

	"todoq/internal/store"
	"todoq/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Ledger {
		return New()
	})
}
