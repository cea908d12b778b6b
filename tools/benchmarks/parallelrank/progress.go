package main

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// progress prints a progress bar of completed requests, redrawn at most
// every 100ms.
type progress struct {
	label      string
	total      int
	done       int
	lastUpdate time.Time
	finished   bool
	mu         sync.Mutex
}

func newProgress(label string, total int) *progress {
	return &progress{
		label:      label,
		total:      total,
		lastUpdate: time.Now(),
	}
}

func (p *progress) increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	now := time.Now()
	if now.Sub(p.lastUpdate) >= 100*time.Millisecond && p.done < p.total {
		p.print()
		p.lastUpdate = now
	}
}

func (p *progress) print() {
	if p.finished {
		return
	}
	const barWidth = 30
	filled := p.done * barWidth / p.total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	fmt.Printf("\r%s: [%s] %.1f%% (%d/%d requests)",
		p.label, bar, float64(p.done)/float64(p.total)*100, p.done, p.total)
}

// finish draws the final state and moves to the next line. Later calls are
// ignored.
func (p *progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.finished {
		p.print()
		fmt.Println()
		p.finished = true
	}
}
