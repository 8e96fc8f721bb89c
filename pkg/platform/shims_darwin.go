//go:build darwin

package platform

import (
	"context"
	"fmt"
	"strconv"
)

type darwinShims struct{}

// NativeShims returns the macOS shims.
func NativeShims() Shims { return darwinShims{} }

func (darwinShims) Notify(ctx context.Context, title, body string) error {
	script := fmt.Sprintf("display notification %s with title %s", strconv.Quote(body), strconv.Quote(title))
	return run(ctx, "osascript", "-e", script)
}

func (darwinShims) RevealFile(ctx context.Context, path string) error {
	return run(ctx, "open", "-R", path)
}

func (darwinShims) OpenExternal(ctx context.Context, url string) error {
	return run(ctx, "open", url)
}
