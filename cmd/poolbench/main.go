// Command poolbench measures producer reservation latency on a pool with
// a deliberately stalled consumer, the situation the steal policy exists
// for. Byte pools use the mmap allocator so the numbers reflect the
// memory the real daemon runs on.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/spectrod/pkg/bufferpool"
)

func main() {
	slots := flag.Int("slots", 32, "Ring size")
	capacity := flag.Int("capacity", 1<<20, "Bytes per slot")
	iters := flag.Int("iters", 10000, "Productions to time")
	flag.Parse()

	pool := bufferpool.NewPool[byte](bufferpool.MmapAllocator{})
	if err := pool.Allocate(*slots, *capacity); err != nil {
		log.Fatalf("allocate: %v", err)
	}
	defer pool.Free()

	// A registered consumer that never reads, so every lap overwrites.
	var stalled bufferpool.Consumer
	pool.Register(&stalled)

	var producer bufferpool.ProducerSteal[byte]
	var worst, total time.Duration
	for i := 0; i < *iters; i++ {
		begin := time.Now()
		code, slot := producer.Reserve(pool)
		if code != bufferpool.ReserveSuccess {
			log.Fatalf("reserve %d: %v", i, code)
		}
		slot.Data()[0] = byte(i)
		producer.Release(pool, slot)
		elapsed := time.Since(begin)
		total += elapsed
		if elapsed > worst {
			worst = elapsed
		}
	}

	stats := pool.Stats()
	fmt.Printf("%d productions, %d slots x %d bytes\n", *iters, *slots, *capacity)
	fmt.Printf("avg %v  worst %v\n", total/time.Duration(*iters), worst)
	fmt.Printf("overwritten %d (stalled consumer)\n", stats.Overwritten)
}
