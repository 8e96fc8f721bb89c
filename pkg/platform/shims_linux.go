//go:build linux

package platform

import "context"

type linuxShims struct{}

// NativeShims returns the xdg based shims.
func NativeShims() Shims { return linuxShims{} }

func (linuxShims) Notify(ctx context.Context, title, body string) error {
	return run(ctx, "notify-send", "--", title, body)
}

func (linuxShims) RevealFile(ctx context.Context, path string) error {
	return run(ctx, "xdg-open", path)
}

func (linuxShims) OpenExternal(ctx context.Context, url string) error {
	return run(ctx, "xdg-open", url)
}
