// Package testinfra starts throwaway containers for integration tests.
//
// Everything here is behind the integration build tag:
//
//	go test -tags integration ./internal/compass/...
//
// Tests skip when Docker is not reachable.
package testinfra
