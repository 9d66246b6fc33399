// Package inspect turns a paging run into a small web server so that the
// live state of the simulated machine can be examined from outside: the
// active directory, any resident second-level table, frame-pool accounting,
// and the host process's resource usage.
package inspect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/kernelsim/pagesim/framepool"
	"github.com/kernelsim/pagesim/machine"
	"github.com/kernelsim/pagesim/paging"
)

// An Inspector serves the state of a paging run over HTTP.
type Inspector struct {
	portNumber int
	actualPort int

	sys        *paging.System
	pools      []*framepool.Pool
	components map[string]any
}

// NewInspector creates a new Inspector.
func NewInspector() *Inspector {
	return &Inspector{
		components: make(map[string]any),
	}
}

// WithPortNumber sets the port number of the inspector.
func (i *Inspector) WithPortNumber(portNumber int) *Inspector {
	if portNumber > 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is not allowed for the inspector. "+
				"Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	i.portNumber = portNumber

	return i
}

// RegisterPagingSystem registers the paging system to be inspected.
func (i *Inspector) RegisterPagingSystem(s *paging.System) {
	i.sys = s
}

// RegisterPool registers a frame pool for the accounting endpoint.
func (i *Inspector) RegisterPool(p *framepool.Pool) {
	i.pools = append(i.pools, p)
}

// RegisterComponent registers an arbitrary component for deep serialization
// through the component endpoint.
func (i *Inspector) RegisterComponent(name string, c any) {
	i.components[name] = c
}

// StartServer starts serving on the configured port, or a random port when
// none is configured.
func (i *Inspector) StartServer() {
	r := mux.NewRouter()
	r.HandleFunc("/api/state", i.state)
	r.HandleFunc("/api/pools", i.listPools)
	r.HandleFunc("/api/directory", i.dumpDirectory)
	r.HandleFunc("/api/table/{index}", i.dumpTable)
	r.HandleFunc("/api/component/{name}", i.componentDetails)
	r.HandleFunc("/api/resource", i.listResources)
	r.HandleFunc("/api/profile", i.collectProfile)

	actualPort := ":0"
	if i.portNumber > 0 {
		actualPort = ":" + strconv.Itoa(i.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	i.actualPort = listener.Addr().(*net.TCPAddr).Port

	fmt.Fprintf(os.Stderr,
		"Inspecting paging run with http://localhost:%d/api/state\n",
		i.actualPort)

	go func() {
		err := http.Serve(listener, r)
		dieOnErr(err)
	}()
}

// OpenDashboard opens the state endpoint in the default browser. The server
// must already be started.
func (i *Inspector) OpenDashboard() {
	url := fmt.Sprintf("http://localhost:%d/api/state", i.actualPort)
	err := browser.OpenURL(url)
	dieOnErr(err)
}

type stateRsp struct {
	PagingEnabled  bool   `json:"paging_enabled"`
	ActiveTable    bool   `json:"active_table"`
	DirectoryFrame uint32 `json:"directory_frame"`
	SharedSize     uint32 `json:"shared_size"`
}

func (i *Inspector) state(w http.ResponseWriter, _ *http.Request) {
	rsp := stateRsp{
		PagingEnabled: i.sys.Enabled(),
		SharedSize:    i.sys.SharedSize(),
	}

	if pt := i.sys.Active(); pt != nil {
		rsp.ActiveTable = true
		rsp.DirectoryFrame = pt.DirectoryFrame()
	}

	writeJSON(w, rsp)
}

type poolRsp struct {
	Name        string `json:"name"`
	BaseFrame   uint32 `json:"base_frame"`
	TotalFrames uint32 `json:"total_frames"`
	FreeFrames  uint32 `json:"free_frames"`
}

func (i *Inspector) listPools(w http.ResponseWriter, _ *http.Request) {
	rsp := make([]poolRsp, 0, len(i.pools))
	for _, p := range i.pools {
		rsp = append(rsp, poolRsp{
			Name:        p.Name(),
			BaseFrame:   p.BaseFrame(),
			TotalFrames: p.TotalFrames(),
			FreeFrames:  p.FreeFrames(),
		})
	}

	writeJSON(w, rsp)
}

type entryRsp struct {
	Index    uint32 `json:"index"`
	Raw      uint32 `json:"raw"`
	Present  bool   `json:"present"`
	Writable bool   `json:"writable"`
	Frame    uint32 `json:"frame"`
}

func (i *Inspector) dumpDirectory(w http.ResponseWriter, _ *http.Request) {
	pt := i.activeTableOr404(w)
	if pt == nil {
		return
	}

	entries := make([]entryRsp, 0, machine.EntriesPerTable)
	for n := uint32(0); n < machine.EntriesPerTable; n++ {
		e, err := pt.DirectoryEntry(n)
		dieOnErr(err)

		entries = append(entries, makeEntryRsp(n, e))
	}

	writeJSON(w, entries)
}

func (i *Inspector) dumpTable(w http.ResponseWriter, r *http.Request) {
	pt := i.activeTableOr404(w)
	if pt == nil {
		return
	}

	pdIndex, err := strconv.ParseUint(mux.Vars(r)["index"], 0, 32)
	if err != nil || pdIndex >= uint64(machine.EntriesPerTable) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Invalid directory index")
		return
	}

	pde, err := pt.DirectoryEntry(uint32(pdIndex))
	dieOnErr(err)

	if !pde.Present() {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Directory slot %d maps no table", pdIndex)
		return
	}

	entries := make([]entryRsp, 0, machine.EntriesPerTable)
	for n := uint32(0); n < machine.EntriesPerTable; n++ {
		e, err := pt.TableEntry(uint32(pdIndex), n)
		dieOnErr(err)

		entries = append(entries, makeEntryRsp(n, e))
	}

	writeJSON(w, entries)
}

func makeEntryRsp(index uint32, e machine.Entry) entryRsp {
	return entryRsp{
		Index:    index,
		Raw:      uint32(e),
		Present:  e.Present(),
		Writable: e.Writable(),
		Frame:    e.Frame(),
	}
}

func (i *Inspector) componentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	c, found := i.components[name]
	if !found {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Component not found"))
		dieOnErr(err)
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(c)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (i *Inspector) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	proc, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memoryInfo, err := proc.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (i *Inspector) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func (i *Inspector) activeTableOr404(w http.ResponseWriter) *paging.PageTable {
	pt := i.sys.Active()
	if pt == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("No active page table"))
		dieOnErr(err)
	}

	return pt
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	dieOnErr(err)

	_, err = w.Write(data)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
