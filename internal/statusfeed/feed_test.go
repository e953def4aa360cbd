package statusfeed

import (
	"testing"

	"github.com/marge-go/mergebot/internal/mergejob"
)

func TestNotify_FansOutToAllClients(t *testing.T) {
	f := New(nil)
	c1 := &client{ch: make(chan mergejob.Transition, clientBuffer)}
	c2 := &client{ch: make(chan mergejob.Transition, clientBuffer)}
	f.clients[c1] = struct{}{}
	f.clients[c2] = struct{}{}

	want := mergejob.Transition{Detail: "merged"}
	f.Notify(want)

	for i, c := range []*client{c1, c2} {
		select {
		case got := <-c.ch:
			if got != want {
				t.Errorf("client %d: got %+v, want %+v", i, got, want)
			}
		default:
			t.Errorf("client %d: expected a buffered transition", i)
		}
	}
}

func TestNotify_DropsOldestWhenClientBufferIsFull(t *testing.T) {
	f := New(nil)
	c := &client{ch: make(chan mergejob.Transition, 2)}
	f.clients[c] = struct{}{}

	f.Notify(mergejob.Transition{Detail: "first"})
	f.Notify(mergejob.Transition{Detail: "second"})
	// Buffer (size 2) is now full; this should drop "first" and enqueue "third".
	f.Notify(mergejob.Transition{Detail: "third"})

	got1 := <-c.ch
	got2 := <-c.ch
	if got1.Detail != "second" || got2.Detail != "third" {
		t.Fatalf("expected [second, third] after drop, got [%s, %s]", got1.Detail, got2.Detail)
	}
	select {
	case extra := <-c.ch:
		t.Fatalf("expected no further buffered events, got %+v", extra)
	default:
	}
}

func TestNotify_NoClientsIsANoop(t *testing.T) {
	f := New(nil)
	f.Notify(mergejob.Transition{Detail: "merged"}) // must not panic or block
}
