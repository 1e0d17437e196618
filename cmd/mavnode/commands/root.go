package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for mavnode
var RootCmd = &cobra.Command{
	Use:              "mavnode",
	Short:            "MAVLink protocol node",
	TraverseChildren: true,
}
