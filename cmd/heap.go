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

var heapCmd = &cobra.Command{
	Use:   "heap <main-class> [args...]",
	Short: "Run a class to completion and print a heap allocator snapshot",
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

		printHeapSnapshot(v)
		return nil
	},
}

func printHeapSnapshot(v *vm.VM) {
	chunks := v.Heap.Summary()

	byType := map[string]struct{ count, bytes int }{}
	freeCount, freeBytes := 0, 0
	for _, c := range chunks {
		if !c.InUse {
			freeCount++
			freeBytes += c.Size
			continue
		}
		key := c.AllocType.String()
		e := byType[key]
		e.count++
		e.bytes += c.Size
		byType[key] = e
	}

	var rows [][]string
	for kind, e := range byType {
		rows = append(rows, []string{kind, fmt.Sprintf("%d", e.count), fmt.Sprintf("%d", e.bytes)})
	}
	rows = append(rows, []string{"free", fmt.Sprintf("%d", freeCount), fmt.Sprintf("%d", freeBytes)})

	fmt.Println(console.Table(
		fmt.Sprintf("heap: %d/%d bytes free, %d chunks", v.Heap.FreeBytes(), v.Heap.Capacity(), len(chunks)),
		[]string{"type", "chunks", "bytes"},
		rows,
	))

	fmt.Println(console.Table("last gc cycle",
		[]string{"freed", "retyped", "scanned", "collected"},
		[][]string{{
			fmt.Sprintf("%d", v.GC.LastFreed),
			fmt.Sprintf("%d", v.GC.LastRetyped),
			fmt.Sprintf("%d", v.GC.LastScanned),
			fmt.Sprintf("%d", v.GC.LastCollected),
		}},
	))
}

func init() {
	heapCmd.Flags().StringVarP(&flagClasspath, "classpath", "c", "", "classpath (platform path-list separated directories)")
	rootCmd.AddCommand(heapCmd)
}
