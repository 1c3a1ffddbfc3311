package main

import (
	"testing"
)

func TestEventRecovers(t *testing.T) {
	t.Parallel()
	var robo Robot
	robo.event("message", func() { panic("bad message") })
	var ran bool
	robo.event("message", func() { ran = true })
	if !ran {
		t.Error("event after a panic didn't run")
	}
	if !robo.mu.TryLock() {
		t.Fatal("event mutex still held after panic")
	}
	robo.mu.Unlock()
}
