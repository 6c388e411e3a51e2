package cmd

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mabhi256/jovm/internal/classfile"
	"github.com/mabhi256/jovm/internal/config"
	"github.com/mabhi256/jovm/internal/native"
	"github.com/mabhi256/jovm/internal/vm"
	"github.com/mabhi256/jovm/internal/watch"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <main-class> [args...]",
	Short: "Run a class under a live heap/thread dashboard",
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

		model := watch.New(v)
		program := tea.NewProgram(model, tea.WithAltScreen())

		done := make(chan struct{})
		go func() {
			runScheduler(v, in, nil)
			model.MarkDone()
			close(done)
		}()

		_, err = program.Run()
		<-done
		return err
	},
}

func init() {
	watchCmd.Flags().StringVarP(&flagClasspath, "classpath", "c", "", "classpath (platform path-list separated directories)")
	rootCmd.AddCommand(watchCmd)
}
