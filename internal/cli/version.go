package cli

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Version is set at build time:
//
//	go build -ldflags "-X github.com/roach88/boardreplica/internal/cli.Version=v1.2.3"
var Version = "dev"

// VersionInfo is the version command's JSON payload.
type VersionInfo struct {
	Version string `json:"version"`
	Go      string `json:"go"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print the version",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			info := VersionInfo{Version: Version, Go: runtime.Version()}
			if out.JSON() {
				return out.Success(info)
			}
			return out.Success("boardreplica " + info.Version + " (" + info.Go + ")")
		},
	}
}
