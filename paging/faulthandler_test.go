package paging

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/kernelsim/pagesim/machine"
	"github.com/kernelsim/pagesim/trap"
)

type haltCapture struct {
	messages []string
}

func (h *haltCapture) fn(format string, args ...any) {
	h.messages = append(h.messages, fmt.Sprintf(format, args...))
}

type faultEventCapture struct {
	events []FaultEvent
}

func (c *faultEventCapture) LogFault(ev FaultEvent) {
	c.events = append(c.events, ev)
}

var _ = Describe("FaultHandler", func() {
	var (
		mockCtrl    *gomock.Controller
		kernelPool  *MockFramePool
		processPool *MockFramePool
		mem         *machine.Storage
		regs        *machine.RegisterFile
		mmu         *machine.MMU
		vmem        *machine.VirtualView
		sys         *System
		pt          *PageTable
		halted      *haltCapture
		events      *faultEventCapture
		handler     *FaultHandler
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())

		kernelPool = NewMockFramePool(mockCtrl)
		processPool = NewMockFramePool(mockCtrl)
		mem = machine.NewStorage(32 * 1024 * 1024)
		regs = machine.NewRegisterFile()
		mmu = machine.NewMMU(mem, regs, nil)
		vmem = machine.NewVirtualView(mmu, mem)
		halted = &haltCapture{}
		events = &faultEventCapture{}

		sys = MakeBuilder().
			WithKernelPool(kernelPool).
			WithProcessPool(processPool).
			WithSharedSize(4 * 1024 * 1024).
			WithRegisters(regs).
			WithPhysMemory(mem).
			Build()

		kernelPool.EXPECT().Allocate(uint32(1)).Return(uint32(256), nil)
		kernelPool.EXPECT().Allocate(uint32(1)).Return(uint32(257), nil)

		var err error
		pt, err = sys.NewPageTable()
		Expect(err).ToNot(HaveOccurred())
		Expect(pt.Load()).To(Succeed())
		sys.EnablePaging()

		handler = MakeFaultHandlerBuilder().
			WithSystem(sys).
			WithMemoryView(vmem).
			WithHalt(halted.fn).
			WithFaultLogger(events).
			Build()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	faultAt := func(vAddr uint32) {
		regs.WriteCR2(vAddr)
		handler.HandleException(&trap.Regs{IntNo: trap.PageFaultVector})
	}

	Context("directory miss", func() {
		It("should install a table and the faulting page", func() {
			kernelPool.EXPECT().Allocate(uint32(1)).Return(uint32(258), nil)
			processPool.EXPECT().Allocate(uint32(1)).Return(uint32(1024), nil)

			faultAt(0x00400000)

			Expect(halted.messages).To(BeEmpty())

			pde, err := pt.DirectoryEntry(1)
			Expect(err).ToNot(HaveOccurred())
			Expect(pde).To(Equal(machine.MakeEntry(258,
				machine.EntryPresent|machine.EntryWritable)))

			pte, err := pt.TableEntry(1, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(pte).To(Equal(machine.MakeEntry(1024,
				machine.EntryPresent|machine.EntryWritable)))
		})

		It("should zero the rest of the fresh table", func() {
			kernelPool.EXPECT().Allocate(uint32(1)).Return(uint32(258), nil)
			processPool.EXPECT().Allocate(uint32(1)).Return(uint32(1024), nil)

			// Leave stale data where the new table will live.
			staleAddr := machine.FrameAddr(258) + 5*machine.EntryBytes
			Expect(mem.WriteWord(staleAddr, 0xdeadbeef)).To(Succeed())

			faultAt(0x00400000)

			for _, i := range []uint32{1, 5, 1023} {
				pte, err := pt.TableEntry(1, i)
				Expect(err).ToNot(HaveOccurred())
				Expect(pte).To(Equal(machine.Entry(0)))
			}
		})

		It("should keep the recursive slot intact", func() {
			kernelPool.EXPECT().Allocate(uint32(1)).Return(uint32(258), nil)
			processPool.EXPECT().Allocate(uint32(1)).Return(uint32(1024), nil)

			faultAt(0x00400000)

			pde, err := pt.DirectoryEntry(machine.RecursiveSlot)
			Expect(err).ToNot(HaveOccurred())
			Expect(pde).To(Equal(machine.MakeEntry(256,
				machine.EntryPresent|machine.EntryWritable)))
		})

		It("should record the resolution", func() {
			kernelPool.EXPECT().Allocate(uint32(1)).Return(uint32(258), nil)
			processPool.EXPECT().Allocate(uint32(1)).Return(uint32(1024), nil)

			faultAt(0x00400000)

			Expect(events.events).To(HaveLen(1))
			ev := events.events[0]
			Expect(ev.Seq).To(Equal(uint64(1)))
			Expect(ev.Kind).To(Equal(FaultKindDirectoryMiss))
			Expect(ev.VAddr).To(Equal(uint32(0x00400000)))
			Expect(ev.PDIndex).To(Equal(uint32(1)))
			Expect(ev.TableFrame).To(Equal(uint32(258)))
			Expect(ev.PageFrame).To(Equal(uint32(1024)))
		})

		It("should halt without installing a malformed entry when the "+
			"kernel pool is exhausted", func() {
			kernelPool.EXPECT().Allocate(uint32(1)).
				Return(uint32(0), errors.New("out of frames"))

			faultAt(0x00400000)

			Expect(halted.messages).To(HaveLen(1))
			Expect(halted.messages[0]).To(ContainSubstring("page table"))

			pde, err := pt.DirectoryEntry(1)
			Expect(err).ToNot(HaveOccurred())
			Expect(pde).To(Equal(machine.AbsentEntry))
		})
	})

	Context("table miss", func() {
		BeforeEach(func() {
			kernelPool.EXPECT().Allocate(uint32(1)).Return(uint32(258), nil)
			processPool.EXPECT().Allocate(uint32(1)).Return(uint32(1024), nil)

			faultAt(0x00400000)
		})

		It("should only install a page, no new table", func() {
			processPool.EXPECT().Allocate(uint32(1)).Return(uint32(1025), nil)

			faultAt(0x00401000)

			Expect(halted.messages).To(BeEmpty())

			pte, err := pt.TableEntry(1, 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(pte).To(Equal(machine.MakeEntry(1025,
				machine.EntryPresent|machine.EntryWritable)))

			Expect(events.events).To(HaveLen(2))
			Expect(events.events[1].Kind).To(Equal(FaultKindTableMiss))
			Expect(events.events[1].PageFrame).To(Equal(uint32(1025)))
		})

		It("should halt when the process pool is exhausted", func() {
			processPool.EXPECT().Allocate(uint32(1)).
				Return(uint32(0), errors.New("out of frames"))

			faultAt(0x00401000)

			Expect(halted.messages).To(HaveLen(1))

			pte, err := pt.TableEntry(1, 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(pte).To(Equal(machine.Entry(0)))
		})

		It("should classify a fault on a present entry as spurious", func() {
			faultAt(0x00400000)

			Expect(halted.messages).To(HaveLen(1))
			Expect(halted.messages[0]).To(ContainSubstring("spurious"))

			Expect(events.events).To(HaveLen(2))
			ev := events.events[1]
			Expect(ev.Kind).To(Equal(FaultKindSpurious))
			Expect(ev.StaleEntry).To(Equal(uint32(machine.MakeEntry(1024,
				machine.EntryPresent|machine.EntryWritable))))
		})
	})

	Context("configuration errors", func() {
		It("should halt on a fault with no active page table", func() {
			idleSys := MakeBuilder().
				WithKernelPool(kernelPool).
				WithProcessPool(processPool).
				WithRegisters(regs).
				WithPhysMemory(mem).
				Build()

			idleHandler := MakeFaultHandlerBuilder().
				WithSystem(idleSys).
				WithMemoryView(vmem).
				WithHalt(halted.fn).
				Build()

			idleHandler.HandleException(&trap.Regs{
				IntNo: trap.PageFaultVector,
			})

			Expect(halted.messages).To(HaveLen(1))
			Expect(halted.messages[0]).
				To(ContainSubstring("no active page table"))
		})
	})
})
