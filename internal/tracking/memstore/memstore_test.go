package memstore

import (
	"testing"

	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking/conformance"
)

func TestMemstoreConformance(t *testing.T) {
	conformance.RunConformance(t, func() tracking.Store {
		return New()
	})
}
