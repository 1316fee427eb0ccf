package main

import (
	"os"

	"github.com/spf13/cobra"
)

var Command = &cobra.Command{
	Use:   "streaming-trigger",
	Short: "fire event time windows consumed from kafka",
	Long: `streaming-trigger counts kafka messages per key in tumbling event time windows
and fires every window instance exactly once, when its event time passed or its partition stalled.`,
	SilenceUsage: true,
}

func main() {
	if err := Command.Execute(); err != nil {
		os.Exit(1)
	}
}
