package signals

import (
	"sync"
)

type Signal string

// JobFinished is broadcast whenever a bulk job reaches a terminal status
const JobFinished Signal = "job-finished"

var mu sync.RWMutex
var sigs = map[Signal][]chan struct{}{}

// Broadcast wakes every listener of the channel. Listeners that already have a pending signal are skipped.
func Broadcast(channel Signal) {
	mu.RLock()
	defer mu.RUnlock()
	chans := sigs[channel]
	for _, c := range chans {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

func Listen(channel Signal) (signal <-chan struct{}, cancel func()) {
	mu.Lock()
	defer mu.Unlock()
	c := make(chan struct{}, 1)

	sigs[channel] = append(sigs[channel], c)

	var once sync.Once
	return c, func() {
		once.Do(func() {
			mu.Lock()
			defer mu.Unlock()

			var chans []chan struct{}
			for _, cc := range sigs[channel] {
				if cc == c {
					continue
				}
				chans = append(chans, cc)
			}
			sigs[channel] = chans
		})
	}
}
