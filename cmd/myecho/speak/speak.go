package speak

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/asnowfix/myecho/cmd/myecho/options"
	"github.com/asnowfix/myecho/pkg/alexa/sequence"
	"github.com/asnowfix/myecho/pkg/alexa/types"
)

var flags struct {
	Announce bool
	Volume   int
	Wait     int
}

var Cmd = &cobra.Command{
	Use:   "speak <device> <text>...",
	Short: "Have a device say something",
	Long: `Have a device say something. With --volume the volume is set first,
in the same instruction tree.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logr.FromContextOrDiscard(ctx).WithName("speak")

		text := strings.TrimSpace(strings.Join(args[1:], " "))
		if text == "" {
			return fmt.Errorf("nothing to say")
		}

		c, err := options.AuthenticatedClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		var nodes []types.Node
		if flags.Volume >= 0 {
			nodes = append(nodes, sequence.Volume(flags.Volume))
		}
		if flags.Wait > 0 {
			nodes = append(nodes, sequence.Wait(flags.Wait))
		}
		if flags.Announce {
			nodes = append(nodes, sequence.Announcement(text))
		} else {
			nodes = append(nodes, sequence.Speak(text))
		}

		log.Info("Submitting", "device", args[0], "nodes", len(nodes))
		return c.Run(ctx, args[0], nodes...)
	},
}

func init() {
	Cmd.Flags().BoolVarP(&flags.Announce, "announce", "a", false, "play as an announcement")
	Cmd.Flags().IntVar(&flags.Volume, "volume", -1, "set the volume (0-100) before speaking")
	Cmd.Flags().IntVar(&flags.Wait, "wait", 0, "pause this many `seconds` before speaking")
}
