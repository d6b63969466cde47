//go:build tools
// +build tools

// Development-only imports pinned in go.mod; nothing in the floater binary
// depends on them.

package floater

import (
	_ "golang.org/x/tools/cmd/goimports"
)
