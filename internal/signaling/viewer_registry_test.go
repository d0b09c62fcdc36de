package signaling

import "testing"

func TestViewerRegistryPreservesInsertionOrder(t *testing.T) {
	reg := newViewerRegistry()
	reg.add(&connection{fd: "fd_1"})
	reg.add(&connection{fd: "fd_2"})
	reg.add(&connection{fd: "fd_3"})

	fds := fdsOf(reg.list())
	want := []string{"fd_1", "fd_2", "fd_3"}
	if !equalFDs(fds, want) {
		t.Fatalf("expected %v, got %v", want, fds)
	}
}

func TestViewerRegistryRemovePreservesOrderAmongSurvivors(t *testing.T) {
	reg := newViewerRegistry()
	reg.add(&connection{fd: "fd_1"})
	reg.add(&connection{fd: "fd_2"})
	reg.add(&connection{fd: "fd_3"})
	reg.add(&connection{fd: "fd_4"})

	reg.remove("fd_2")

	fds := fdsOf(reg.list())
	want := []string{"fd_1", "fd_3", "fd_4"}
	if !equalFDs(fds, want) {
		t.Fatalf("expected %v, got %v", want, fds)
	}
}

func TestViewerRegistryAddIsIdempotentPerFD(t *testing.T) {
	reg := newViewerRegistry()
	conn := &connection{fd: "fd_1"}
	reg.add(conn)
	reg.add(conn)

	if got := len(reg.list()); got != 1 {
		t.Fatalf("expected a single entry, got %d", got)
	}
}

func fdsOf(conns []*connection) []string {
	out := make([]string, len(conns))
	for i, c := range conns {
		out[i] = c.fd
	}
	return out
}

func equalFDs(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
