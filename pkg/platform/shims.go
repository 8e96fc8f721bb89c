package platform

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/morezero/native-bridge/pkg/ipc"
)

// Shims performs OS actions. Each build target supplies NativeShims.
type Shims interface {
	Notify(ctx context.Context, title, body string) error
	RevealFile(ctx context.Context, path string) error
	OpenExternal(ctx context.Context, url string) error
}

// run executes name with args and folds a non-zero exit into an error
// carrying the command output.
func run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s: %s", name, msg)
	}
	return nil
}

// operand rejects an argument a shim command would parse as an option.
func operand(arg string) error {
	if strings.HasPrefix(arg, "-") {
		return ipc.NewError(ipc.CodeInvalidMessage, "argument %q must not start with '-'", arg)
	}
	return nil
}
