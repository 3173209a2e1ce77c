package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/obs-commander/obs"
)

const appName = "obsctl"

type options struct {
	address  string
	password string
	timeout  time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   appName,
		Short: "Inspect and drive OBS over obs-websocket",
		Long: `obsctl connects to OBS with the same settings as the commander
(OBS_ADDRESS, OBS_PASSWORD) and runs a single request:
  - version: controller versions and the negotiated screenshot format
  - screenshot: capture a source to a file
  - filter: enable or disable a source filter`,
		SilenceUsage: true,
	}

	addr := os.Getenv("OBS_ADDRESS")
	if addr == "" {
		addr = "localhost:4455"
	}
	root.PersistentFlags().StringVar(&opts.address, "address", addr, "obs-websocket address (env OBS_ADDRESS)")
	root.PersistentFlags().StringVar(&opts.password, "password", os.Getenv("OBS_PASSWORD"), "obs-websocket password (env OBS_PASSWORD)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "connect and request timeout")

	root.AddCommand(newVersionCmd(opts), newScreenshotCmd(opts), newFilterCmd(opts))
	return root
}

// withClient connects, runs fn and disconnects.
func withClient(ctx context.Context, opts *options, fn func(ctx context.Context, c *obs.Client) error) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	c := obs.New(obs.Config{Address: opts.address, Password: opts.password, RequestTimeout: opts.timeout})
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", opts.address, err)
	}
	defer func() { _ = c.Disconnect() }()
	return fn(ctx, c)
}

func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show controller versions and supported image formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), opts, func(ctx context.Context, c *obs.Client) error {
				v, err := c.GetVersion(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "obs:            %s\n", v.OBSVersion)
				fmt.Fprintf(out, "obs-websocket:  %s (rpc %d)\n", v.OBSWebSocketVersion, v.RPCVersion)
				fmt.Fprintf(out, "image formats:  %s\n", strings.Join(v.SupportedImageFormats, ", "))
				fmt.Fprintf(out, "capture format: %s\n", v.PreferredImageFormat())
				return nil
			})
		},
	}
}

func newScreenshotCmd(opts *options) *cobra.Command {
	var output, format string
	cmd := &cobra.Command{
		Use:   "screenshot SOURCE",
		Short: "Capture a source and write it to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]
			return withClient(cmd.Context(), opts, func(ctx context.Context, c *obs.Client) error {
				f := format
				if f == "" {
					v, err := c.GetVersion(ctx)
					if err != nil {
						return err
					}
					f = v.PreferredImageFormat()
				}
				data, err := c.GetSourceScreenshot(ctx, source, f)
				if err != nil {
					if obs.IsSourceOffline(err) {
						return fmt.Errorf("source %q is offline: %w", source, err)
					}
					return err
				}
				path := output
				if path == "" {
					path = source + "." + f
				}
				if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // G306: screenshots are not secret
					return fmt.Errorf("write screenshot: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, len(data))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default SOURCE.FORMAT)")
	cmd.Flags().StringVar(&format, "format", "", "image format (default negotiated with OBS)")
	return cmd
}

func newFilterCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "filter SOURCE FILTER on|off",
		Short: "Enable or disable a source filter",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := parseState(args[2])
			if err != nil {
				return err
			}
			return withClient(cmd.Context(), opts, func(ctx context.Context, c *obs.Client) error {
				if err := c.SetSourceFilterEnabled(ctx, args[0], args[1], enabled); err != nil {
					if obs.IsFilterNotFound(err) {
						return fmt.Errorf("filter %q not found on %q", args[1], args[0])
					}
					return err
				}
				state := "disabled"
				if enabled {
					state = "enabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s/%s %s\n", args[0], args[1], state)
				return nil
			})
		},
	}
}

func parseState(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "enable", "1":
		return true, nil
	case "off", "false", "no", "disable", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid state %q: want on or off", s)
}
