// Package contract provides contract tests that pin the multipart wire format
// against recorded golden files. Upload endpoints are sensitive to part order
// and header layout, so any byte change in the encoder shows up here.
//
// Run with: go test -tags=contract ./tests/contract/...
// Regenerate with: go test -tags=contract ./tests/contract/... -update
package contract
