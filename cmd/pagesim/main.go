// Pagesim boots a simulated 32-bit machine and drives its demand-paging
// kernel core.
package main

func main() {
	Execute()
}
