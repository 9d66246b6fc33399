package paging

import (
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kernelsim/pagesim/framepool"
	"github.com/kernelsim/pagesim/machine"
	"github.com/kernelsim/pagesim/trap"
)

// The full boot sequence against real hardware models: construct, load,
// enable, then drive demand paging through instruction-style accesses that
// trap and retry.
var _ = Describe("Demand paging", func() {
	var (
		mem         *machine.Storage
		regs        *machine.RegisterFile
		dispatcher  *trap.Dispatcher
		mmu         *machine.MMU
		kernelPool  *framepool.Pool
		processPool *framepool.Pool
		sys         *System
		pt          *PageTable
	)

	BeforeEach(func() {
		logger := log.New(GinkgoWriter, "", 0)

		mem = machine.NewStorage(64 * 1024 * 1024)
		regs = machine.NewRegisterFile()
		dispatcher = trap.NewDispatcher(logger)
		mmu = machine.NewMMU(mem, regs, dispatcher)

		kernelPool = framepool.MakeBuilder().
			WithFrameRange(256, 256).
			WithLogger(logger).
			Build("KernelPool")
		processPool = framepool.MakeBuilder().
			WithFrameRange(512, 15872).
			WithLogger(logger).
			Build("ProcessPool")

		sys = MakeBuilder().
			WithKernelPool(kernelPool).
			WithProcessPool(processPool).
			WithSharedSize(4 * 1024 * 1024).
			WithRegisters(regs).
			WithPhysMemory(mem).
			WithLogger(logger).
			Build()

		handler := MakeFaultHandlerBuilder().
			WithSystem(sys).
			WithMemoryView(machine.NewVirtualView(mmu, mem)).
			WithLogger(logger).
			Build()
		dispatcher.Register(trap.PageFaultVector, handler)

		var err error
		pt, err = sys.NewPageTable()
		Expect(err).ToNot(HaveOccurred())
		Expect(pt.Load()).To(Succeed())
		sys.EnablePaging()
	})

	It("should resolve the identity region to itself without faulting",
		func() {
			for _, vAddr := range []uint32{
				0x00000000, 0x00001234, 0x003FFFFC,
			} {
				pAddr, err := mmu.Translate(vAddr)
				Expect(err).ToNot(HaveOccurred())
				Expect(pAddr).To(Equal(vAddr))
			}

			pte, err := pt.TableEntry(0, 512)
			Expect(err).ToNot(HaveOccurred())
			Expect(pte.Present()).To(BeTrue())
			Expect(pte.Writable()).To(BeTrue())
		})

	It("should start with every slot between the identity region and the "+
		"recursive slot absent but well-formed", func() {
		for _, i := range []uint32{1, 2, 64, 512, 1022} {
			pde, err := pt.DirectoryEntry(i)
			Expect(err).ToNot(HaveOccurred())
			Expect(pde).To(Equal(machine.AbsentEntry))
		}
	})

	It("should allocate a table and a page on the first fault in a region, "+
		"then only pages", func() {
		kernelFree := kernelPool.FreeFrames()
		processFree := processPool.FreeFrames()

		// First touch outside the identity region: directory miss.
		pAddr, err := mmu.Touch(0x00400000)
		Expect(err).ToNot(HaveOccurred())
		Expect(kernelPool.FreeFrames()).To(Equal(kernelFree - 1))
		Expect(processPool.FreeFrames()).To(Equal(processFree - 1))

		// The retry finds a resident mapping; no further allocation.
		again, err := mmu.Touch(0x00400000)
		Expect(err).ToNot(HaveOccurred())
		Expect(again).To(Equal(pAddr))
		Expect(kernelPool.FreeFrames()).To(Equal(kernelFree - 1))
		Expect(processPool.FreeFrames()).To(Equal(processFree - 1))

		// An adjacent page in the same 4 MiB region: table miss only.
		_, err = mmu.Touch(0x00401000)
		Expect(err).ToNot(HaveOccurred())
		Expect(kernelPool.FreeFrames()).To(Equal(kernelFree - 1))
		Expect(processPool.FreeFrames()).To(Equal(processFree - 2))
	})

	It("should keep the recursive slot stable across fault handling", func() {
		_, err := mmu.Touch(0x00400000)
		Expect(err).ToNot(HaveOccurred())
		_, err = mmu.Touch(0x2000A000)
		Expect(err).ToNot(HaveOccurred())

		pde, err := pt.DirectoryEntry(machine.RecursiveSlot)
		Expect(err).ToNot(HaveOccurred())
		Expect(pde.Present()).To(BeTrue())
		Expect(pde.Frame()).To(Equal(pt.DirectoryFrame()))
	})

	It("should let data written through a demand-paged mapping read back",
		func() {
			vmem := machine.NewVirtualView(mmu, mem)

			_, err := mmu.Touch(0x00400000)
			Expect(err).ToNot(HaveOccurred())

			Expect(vmem.WriteWord(0x00400010, 0xcafe0000)).To(Succeed())

			word, err := vmem.ReadWord(0x00400010)
			Expect(err).ToNot(HaveOccurred())
			Expect(word).To(Equal(uint32(0xcafe0000)))
		})
})
