// Package testing provides test utilities for the cluster library.
//
// It offers helpers for setting up test environments, particularly embedded
// NATS servers for exercising broker-carried units. It follows Go's
// convention of providing testing utilities in a dedicated package (similar
// to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: In-process NATS server on a random port
//   - NewTestLogger: Logger writing through testing.T
//
// Example usage:
//
//	import (
//	    "testing"
//	    clustertest "github.com/LucasCzechia/discord-cluster/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := clustertest.StartEmbeddedNATS(t)
//	    // Use nc for your tests
//	}
package testing
