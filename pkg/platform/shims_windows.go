//go:build windows

package platform

import (
	"context"

	"github.com/morezero/native-bridge/pkg/ipc"
)

type windowsShims struct{}

// NativeShims returns the Windows shims.
func NativeShims() Shims { return windowsShims{} }

func (windowsShims) Notify(context.Context, string, string) error {
	return ipc.ErrNotSupported
}

// RevealFile ignores explorer's exit status; it is non-zero even on success.
func (windowsShims) RevealFile(ctx context.Context, path string) error {
	_ = run(ctx, "explorer.exe", "/select,", path)
	return nil
}

func (windowsShims) OpenExternal(ctx context.Context, url string) error {
	return run(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
}
