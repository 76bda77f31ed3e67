// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rtck verifies the on-disk bitmap and summary of a realtime
// extent allocator region and optionally snapshots them for later replay.
package main

import (
	"flag"
	"io"
	"log"
	"os"

	"github.com/golang/snappy"

	"github.com/cznic/rtalloc/rtalloc"
	"github.com/cznic/rtalloc/rtck"
	"github.com/cznic/rtalloc/rtdev"
)

var (
	bitmapPath  = flag.String("bitmap", "", "path to the bitmap inode file")
	summaryPath = flag.String("summary", "", "path to the summary inode file")
	blockSize   = flag.Int64("blocksize", 4096, "filesystem block size, bytes")
	rextsize    = flag.Int64("rextsize", 1, "realtime extent size, filesystem blocks")
	rblocks     = flag.Int64("rblocks", 0, "total filesystem blocks in the region")
	dumpPath    = flag.String("dump", "", "write a snappy-compressed snapshot of bitmap+summary to this path and exit")
	quiet       = flag.Bool("q", false, "suppress per-violation logging, print only the summary")
)

func main() {
	flag.Parse()
	if *bitmapPath == "" || *summaryPath == "" {
		log.Fatal("rtck: -bitmap and -summary are required")
	}

	bm, err := rtdev.Open(*bitmapPath)
	if err != nil {
		log.Fatalf("rtck: opening bitmap: %v", err)
	}
	sum, err := rtdev.Open(*summaryPath)
	if err != nil {
		log.Fatalf("rtck: opening summary: %v", err)
	}

	geom, err := rtalloc.NewGeometry(*blockSize, *rextsize, *rblocks)
	if err != nil {
		log.Fatalf("rtck: %v", err)
	}

	if *dumpPath != "" {
		if err := dump(*dumpPath, bm, sum, geom); err != nil {
			log.Fatalf("rtck: dump: %v", err)
		}
		return
	}

	rt, err := rtalloc.Mount(bm, sum, geom)
	if err != nil {
		log.Fatalf("rtck: mount: %v", err)
	}

	violations := 0
	stats, err := rtck.Verify(rt, func(err error) bool {
		violations++
		if !*quiet {
			log.Print(err)
		}
		return true
	})
	if err != nil {
		log.Fatalf("rtck: verify: %v", err)
	}

	log.Printf("free rtx=%d free runs=%d violations=%d", stats.FreeRtx, stats.FreeRuns, stats.Violations)
	if violations != 0 {
		os.Exit(1)
	}
}

// dump writes a single snappy-compressed file holding the raw bitmap bytes
// followed by the raw summary bytes, so a corrupted region can be captured
// and replayed offline without holding the allocator's file descriptors
// open for the duration of the investigation.
func dump(path string, bm, sum *rtdev.Filer, geom rtalloc.Geometry) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	w := snappy.NewBufferedWriter(out)
	defer w.Close()

	bmSize, err := bm.Size()
	if err != nil {
		return err
	}
	if _, err := io.CopyN(w, io.NewSectionReader(bm, 0, bmSize), bmSize); err != nil {
		return err
	}

	sumSize, err := sum.Size()
	if err != nil {
		return err
	}
	if _, err := io.CopyN(w, io.NewSectionReader(sum, 0, sumSize), sumSize); err != nil {
		return err
	}

	return w.Close()
}
