package cmd

import "github.com/spf13/cobra"

// debugCmd is `jovm run --debug --debug-suspend`, spelled out as its own
// verb because that's how a debugger session is actually started in
// practice: nobody remembers three flags for it.
var debugCmd = &cobra.Command{
	Use:   "debug <main-class> [args...]",
	Short: "Open a JDWP debugger session, suspended until a client resumes it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flagDebug = true
		flagDebugSuspend = true
		return runCmd.RunE(cmd, args)
	},
}

func init() {
	debugCmd.Flags().StringVarP(&flagClasspath, "classpath", "c", "", "classpath (platform path-list separated directories)")
	debugCmd.Flags().StringVar(&flagHeapSize, "heap-size", "", "heap size in bytes")
	debugCmd.Flags().StringVar(&flagDebugAddr, "debug-addr", "", "debugger listen address (default from config)")
	rootCmd.AddCommand(debugCmd)
}
