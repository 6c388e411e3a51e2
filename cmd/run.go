package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mabhi256/jovm/internal/classfile"
	"github.com/mabhi256/jovm/internal/config"
	"github.com/mabhi256/jovm/internal/console"
	"github.com/mabhi256/jovm/internal/debugger"
	"github.com/mabhi256/jovm/internal/native"
	"github.com/mabhi256/jovm/internal/vm"
	"github.com/mabhi256/jovm/utils"
	"github.com/spf13/cobra"
)

var (
	flagClasspath    string
	flagHeapSize     string
	flagDebug        bool
	flagDebugAddr    string
	flagDebugSuspend bool
)

var runCmd = &cobra.Command{
	Use:               "run <main-class> [args...]",
	Short:             "Load and run a class file's public static void main(String[])",
	Args:              cobra.MinimumNArgs(1),
	ValidArgsFunction: utils.CompleteFilesByExtension([]string{".class"}, false),
	RunE: func(cmd *cobra.Command, args []string) error {
		mainClass, argv := args[0], args[1:]

		cfg := config.Default()
		if flagClasspath != "" {
			cfg.Classpath = strings.Split(flagClasspath, string(os.PathListSeparator))
		}
		if flagHeapSize != "" {
			if err := cfg.Apply(map[string]string{"heap_size": flagHeapSize}); err != nil {
				return err
			}
		}
		cfg.DebuggerEnabled = flagDebug
		if flagDebugAddr != "" {
			cfg.DebuggerAddress = flagDebugAddr
		}
		cfg.DebuggerSuspendStart = flagDebugSuspend

		source := classfile.NewClasspathSource(cfg.Classpath)
		v := vm.New(cfg, source)
		native.Register(v.Natives)
		in := vm.NewInterpreter(v)

		var srv *debugger.Server
		if cfg.DebuggerEnabled {
			t, err := debugger.Listen(cfg.DebuggerAddress, 30*time.Second)
			if err != nil {
				return fmt.Errorf("debugger: %w", err)
			}
			srv = debugger.Attach(v, in, t)
			defer srv.Detach()
			fmt.Println(console.AttachBanner(cfg.DebuggerAddress))
		}

		mainClazz, err := v.Classes.FindOrLoadClass(0, mainClass)
		if err != nil {
			return fmt.Errorf("load %s: %w", mainClass, err)
		}

		if srv != nil {
			srv.NotifyVMStart()
		}

		thread, err := in.Launch(mainClazz, argv)
		if err != nil {
			return fmt.Errorf("launch: %w", err)
		}
		if srv != nil && cfg.DebuggerSuspendStart {
			v.Sched.DbgSuspend(thread)
		}

		runScheduler(v, in, srv)

		if thread.PendingException != 0 {
			reportUncaught(v, thread)
			os.Exit(1)
		}
		if srv != nil {
			srv.NotifyVMDeath()
		}
		os.Exit(v.ExitCode)
		return nil
	},
}

// runScheduler drives every thread to completion, polling the attached
// debugger (if any) once per quantum so a stalled connection never stalls
// VM progress beyond one poll (spec §5/§4.8).
func runScheduler(v *vm.VM, in *vm.Interpreter, srv *debugger.Server) {
	const quantum = 1000
	for {
		v.Sched.Tick(time.Now().UnixNano())
		if srv != nil {
			srv.Poll()
		}

		t := v.Sched.PickNext()
		if t == nil {
			if allThreadsDone(v) {
				return
			}
			time.Sleep(time.Millisecond)
			continue
		}
		in.RunQuantum(t, quantum)
	}
}

func allThreadsDone(v *vm.VM) bool {
	for _, t := range v.Sched.Threads() {
		if !t.IsDead() {
			return false
		}
	}
	return true
}

func reportUncaught(v *vm.VM, t *vm.Thread) {
	excClazz := v.ClassOf(t.PendingException)
	name := "unknown"
	if excClazz != nil {
		name = excClazz.Name.String()
	}
	fmt.Fprintf(os.Stderr, "Exception in thread %q %s\n", t.Name, strings.ReplaceAll(name, "/", "."))
	if trace, ok := native.Lookup(t.PendingException); ok {
		for _, e := range trace {
			fmt.Fprintf(os.Stderr, "\tat %s.%s(%s:%d)\n", strings.ReplaceAll(e.ClassName, "/", "."), e.MethodName, e.FileName, e.LineNumber)
		}
	}
}

func init() {
	runCmd.Flags().StringVarP(&flagClasspath, "classpath", "c", "", "classpath (platform path-list separated directories)")
	runCmd.Flags().StringVar(&flagHeapSize, "heap-size", "", "heap size in bytes")
	runCmd.Flags().BoolVar(&flagDebug, "debug", false, "open a JDWP-compatible debugger session")
	runCmd.Flags().StringVar(&flagDebugAddr, "debug-addr", "", "debugger listen address (default from config)")
	runCmd.Flags().BoolVar(&flagDebugSuspend, "debug-suspend", true, "suspend at VM start until a debugger attaches and resumes")
	rootCmd.AddCommand(runCmd)
}
