// Package main is the entrypoint for the native-bridge binary.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/morezero/native-bridge/internal/config"
	"github.com/morezero/native-bridge/internal/server"
	"github.com/morezero/native-bridge/pkg/extension"
	"github.com/morezero/native-bridge/pkg/ipc"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bridge",
		Short: "native-bridge - in-process IPC router for embedded web content and extensions",
		Long: `native-bridge routes URI-shaped requests from embedded web content and
native extensions to host-side handlers and carries their results back.

Run with no command to start the bridge (same as "bridge serve").

Environment: IPC_SCHEME, IPC_ALLOWED_CAPABILITIES, EXTENSION_ARENA_LIMIT,
EVENT_LOOP_QUEUE_SIZE, INVOKE_TIMEOUT, COMMS_URL, SERVICE_NAME,
COMMS_INVOKE_SUBJECT, COMMS_EVENT_SUBJECT_PREFIX, HTTP_PORT,
HEALTH_CHECK_TIMEOUT, LOG_LEVEL.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.Run()
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge (event loop, router, modules, bus bridge, HTTP health)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.Run()
		},
	}

	var body, out string
	var timeout time.Duration
	invokeCmd := &cobra.Command{
		Use:   "invoke [uri]",
		Short: "Invoke a route on an in-process bridge and print its result",
		Long: `Builds the bridge in-process, invokes one route and prints the result JSON.

Example:
  bridge invoke "ipc://system.ping?value=hi&seq=1"
  bridge invoke "fs.read?path=/etc/hostname" --out hostname.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(cmd, args[0], []byte(body), out, timeout)
		},
	}
	invokeCmd.Flags().StringVar(&body, "body", "", "Request body posted with the invoke")
	invokeCmd.Flags().StringVar(&out, "out", "", "Write the result's binary body to this file")
	invokeCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Invoke timeout")

	manifestCmd := &cobra.Command{
		Use:   "manifest",
		Short: "Extension manifest commands",
	}
	manifestCheckCmd := &cobra.Command{
		Use:   "check [file...]",
		Short: "Validate extension manifests (JSON or YAML) against this runtime's ABI",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runManifestCheck,
	}
	manifestCmd.AddCommand(manifestCheckCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the bridge and extension ABI versions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "native-bridge %s (extension abi %s)\n", server.Version, extension.ABIVersion)
		},
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(versionCmd)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runInvoke builds a bus-less bridge, invokes uri and prints the result.
func runInvoke(cmd *cobra.Command, uri string, body []byte, out string, timeout time.Duration) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	cfg.COMMSURL = ""

	s, err := server.New(cfg, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Close()

	res, err := ipc.Await(ctx, s.Router(), uri, body)
	if res != nil {
		fmt.Fprintln(cmd.OutOrStdout(), res.JSON())
		if out != "" && len(res.Bytes()) > 0 {
			if werr := os.WriteFile(out, res.Bytes(), 0o644); werr != nil {
				return fmt.Errorf("failed to write %s: %w", out, werr)
			}
		}
	}
	if err != nil {
		return err
	}
	if res != nil && res.IsError() {
		return fmt.Errorf("%s answered with an error", uri)
	}
	return nil
}

func runManifestCheck(cmd *cobra.Command, args []string) error {
	failed := 0
	for _, path := range args {
		m, err := extension.LoadManifest(path)
		if err == nil {
			err = m.Validate(extension.ABIVersion)
		}
		if err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok   %s: %s %s (abi %s)\n", path, m.Name, m.Version, m.ABI)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d manifests failed validation", failed, len(args))
	}
	return nil
}
