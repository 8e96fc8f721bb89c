//go:build !linux && !darwin && !windows

package platform

import (
	"context"

	"github.com/morezero/native-bridge/pkg/ipc"
)

type unsupportedShims struct{}

// NativeShims returns shims that report every action as unsupported.
func NativeShims() Shims { return unsupportedShims{} }

func (unsupportedShims) Notify(context.Context, string, string) error { return ipc.ErrNotSupported }

func (unsupportedShims) RevealFile(context.Context, string) error { return ipc.ErrNotSupported }

func (unsupportedShims) OpenExternal(context.Context, string) error { return ipc.ErrNotSupported }
