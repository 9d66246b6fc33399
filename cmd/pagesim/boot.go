package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/kernelsim/pagesim/faultrec"
	"github.com/kernelsim/pagesim/framepool"
	"github.com/kernelsim/pagesim/inspect"
	"github.com/kernelsim/pagesim/machine"
	"github.com/kernelsim/pagesim/paging"
	"github.com/kernelsim/pagesim/trap"
)

var (
	memoryMB      uint32
	sharedMB      uint32
	touchAddrs    []string
	recordPath    string
	record        bool
	inspectPort   int
	openDashboard bool
	wait          bool
)

// Physical layout of the simulated machine, in frames. The first megabyte
// holds kernel code and data and is never pooled; the second megabyte backs
// paging structures; everything above backs demand-allocated pages.
const (
	kernelPoolBase   = 256
	kernelPoolFrames = 256
	processPoolBase  = 512
)

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Boot the simulated machine and drive demand paging.",
	Long: "`boot` constructs the frame pools and the page table, loads and " +
		"enables paging, then touches a set of virtual addresses so that " +
		"the fault handler allocates frames on demand.",
	Run: func(cmd *cobra.Command, args []string) {
		applyEnvDefaults(cmd)
		runBoot()
		atexit.Exit(0)
	},
}

func init() {
	rootCmd.AddCommand(bootCmd)

	bootCmd.Flags().Uint32Var(&memoryMB, "memory-mb", 64,
		"Physical memory size in MiB")
	bootCmd.Flags().Uint32Var(&sharedMB, "shared-mb", 4,
		"Shared kernel region size in MiB")
	bootCmd.Flags().StringArrayVar(&touchAddrs, "touch", []string{
		"0x00400000", "0x00401000", "0x08000000",
	}, "Virtual addresses to touch, in hex; repeatable")
	bootCmd.Flags().BoolVar(&record, "record", false,
		"Record fault events to a SQLite database")
	bootCmd.Flags().StringVar(&recordPath, "record-path", "",
		"Path of the fault database; empty picks a unique name")
	bootCmd.Flags().IntVar(&inspectPort, "inspect-port", 0,
		"Port for the state inspector; 0 disables it unless --wait is set")
	bootCmd.Flags().BoolVar(&openDashboard, "open-dashboard", false,
		"Open the inspector in a browser")
	bootCmd.Flags().BoolVar(&wait, "wait", false,
		"Keep serving the inspector after the scenario finishes")
}

// applyEnvDefaults lets a .env file preset flags that were not given on the
// command line.
func applyEnvDefaults(cmd *cobra.Command) {
	if !cmd.Flags().Changed("memory-mb") {
		if v, err := strconv.ParseUint(
			os.Getenv("PAGESIM_MEMORY_MB"), 10, 32); err == nil {
			memoryMB = uint32(v)
		}
	}

	if !cmd.Flags().Changed("inspect-port") {
		if v, err := strconv.Atoi(
			os.Getenv("PAGESIM_INSPECT_PORT")); err == nil {
			inspectPort = v
		}
	}

	if !cmd.Flags().Changed("record-path") {
		if v := os.Getenv("PAGESIM_RECORD_PATH"); v != "" {
			recordPath = v
			record = true
		}
	}
}

func runBoot() {
	logger := log.New(os.Stderr, "pagesim: ", 0)

	mem := machine.NewStorage(memoryMB * 1024 * 1024)
	regs := machine.NewRegisterFile()
	dispatcher := trap.NewDispatcher(logger)
	mmu := machine.NewMMU(mem, regs, dispatcher)
	vmem := machine.NewVirtualView(mmu, mem)

	totalFrames := memoryMB * 1024 * 1024 / machine.PageSize
	kernelPool := framepool.MakeBuilder().
		WithFrameRange(kernelPoolBase, kernelPoolFrames).
		WithLogger(logger).
		Build("KernelPool")
	processPool := framepool.MakeBuilder().
		WithFrameRange(processPoolBase, totalFrames-processPoolBase).
		WithLogger(logger).
		Build("ProcessPool")

	sys := paging.MakeBuilder().
		WithKernelPool(kernelPool).
		WithProcessPool(processPool).
		WithSharedSize(sharedMB * 1024 * 1024).
		WithRegisters(regs).
		WithPhysMemory(mem).
		WithLogger(logger).
		Build()

	handlerBuilder := paging.MakeFaultHandlerBuilder().
		WithSystem(sys).
		WithMemoryView(vmem).
		WithLogger(logger)

	if record {
		recorder := faultrec.NewRecorder(recordPath)
		handlerBuilder = handlerBuilder.
			WithFaultLogger(faultrec.NewPageFaultLog(recorder))
	}

	dispatcher.Register(trap.PageFaultVector, handlerBuilder.Build())

	pt, err := sys.NewPageTable()
	if err != nil {
		logger.Fatalf("constructing page table: %v", err)
	}

	if err := pt.Load(); err != nil {
		logger.Fatalf("loading page table: %v", err)
	}

	sys.EnablePaging()

	var inspector *inspect.Inspector
	if inspectPort > 0 || wait {
		inspector = inspect.NewInspector().WithPortNumber(inspectPort)
		inspector.RegisterPagingSystem(sys)
		inspector.RegisterPool(kernelPool)
		inspector.RegisterPool(processPool)
		inspector.RegisterComponent("Registers", regs)
		inspector.StartServer()

		if openDashboard {
			inspector.OpenDashboard()
		}
	}

	for _, s := range touchAddrs {
		vAddr, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			logger.Fatalf("invalid address %q: %v", s, err)
		}

		pAddr, err := mmu.Touch(uint32(vAddr))
		if err != nil {
			logger.Fatalf("touching %#08x: %v", vAddr, err)
		}

		fmt.Printf("%#08x -> %#08x\n", vAddr, pAddr)
	}

	fmt.Printf("kernel pool:  %d/%d frames free\n",
		kernelPool.FreeFrames(), kernelPool.TotalFrames())
	fmt.Printf("process pool: %d/%d frames free\n",
		processPool.FreeFrames(), processPool.TotalFrames())

	if wait {
		select {}
	}
}
