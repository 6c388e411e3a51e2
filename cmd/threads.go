package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/mabhi256/jovm/internal/classfile"
	"github.com/mabhi256/jovm/internal/config"
	"github.com/mabhi256/jovm/internal/console"
	"github.com/mabhi256/jovm/internal/native"
	"github.com/mabhi256/jovm/internal/vm"
	"github.com/spf13/cobra"
)

var threadsCmd = &cobra.Command{
	Use:   "threads <main-class> [args...]",
	Short: "Run a class to completion and print the final green-thread table",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mainClass, argv := args[0], args[1:]

		cfg := config.Default()
		if flagClasspath != "" {
			cfg.Classpath = strings.Split(flagClasspath, string(os.PathListSeparator))
		}

		source := classfile.NewClasspathSource(cfg.Classpath)
		v := vm.New(cfg, source)
		native.Register(v.Natives)
		in := vm.NewInterpreter(v)

		mainClazz, err := v.Classes.FindOrLoadClass(0, mainClass)
		if err != nil {
			return fmt.Errorf("load %s: %w", mainClass, err)
		}
		if _, err := in.Launch(mainClazz, argv); err != nil {
			return fmt.Errorf("launch: %w", err)
		}
		runScheduler(v, in, nil)

		printThreadTable(v)
		return nil
	},
}

func printThreadTable(v *vm.VM) {
	var rows [][]string
	for _, t := range v.Sched.Threads() {
		rows = append(rows, []string{
			fmt.Sprintf("%d", t.ID),
			t.Name,
			t.Status.String(),
			fmt.Sprintf("%d", t.Priority),
		})
	}
	fmt.Println(console.Table(
		fmt.Sprintf("threads: %d total", len(rows)),
		[]string{"id", "name", "status", "priority"},
		rows,
	))
}

func init() {
	threadsCmd.Flags().StringVarP(&flagClasspath, "classpath", "c", "", "classpath (platform path-list separated directories)")
	rootCmd.AddCommand(threadsCmd)
}
