package iris_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/Linaro/lite-cornea/internal/iris"
	"github.com/Linaro/lite-cornea/internal/wire"
)

type instanceFixture struct {
	id       int64
	path     string
	parent   int64
	hasParent bool
}

// serveCatalogFixture answers exactly the instanceRegistryGetList and
// instanceGetParent calls ensureTree issues, matching each parent lookup
// to its fixture by instId rather than by arrival order.
func serveCatalogFixture(t *testing.T, srv *fakeServer, instances []instanceFixture) {
	t.Helper()
	byID := make(map[int64]instanceFixture, len(instances))
	for _, in := range instances {
		byID[in.id] = in
	}

	f := srv.recvFrame()
	infos := make([]map[string]any, 0, len(instances))
	for _, in := range instances {
		infos = append(infos, map[string]any{"instId": in.id, "path": in.path})
	}
	srv.sendReply(*f.ID, map[string]any{"instances": infos})

	for range instances {
		f := srv.recvFrame()
		var params struct {
			InstID int64 `json:"instId"`
		}
		if err := wire.Unmarshal(f.Params, &params); err != nil {
			t.Fatalf("decode instanceGetParent params: %v", err)
		}
		in := byID[params.InstID]
		srv.sendReply(*f.ID, map[string]any{"parentInstId": in.parent, "hasParent": in.hasParent})
	}
}

func TestCatalogChildListBuildsTree(t *testing.T) {
	g := NewWithT(t)

	srv := newFakeServer(t)
	defer srv.hangup()

	go srv.accept()
	conn, err := iris.Dial(srv.addr(), time.Second)
	g.Expect(err).NotTo(HaveOccurred())
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)

	fixtures := []instanceFixture{
		{id: 1, path: "board", hasParent: false},
		{id: 2, path: "board.cpu0", parent: 1, hasParent: true},
		{id: 3, path: "board.cpu1", parent: 1, hasParent: true},
	}

	done := make(chan struct{})
	go func() {
		serveCatalogFixture(t, srv, fixtures)
		close(done)
	}()

	cat := iris.NewCatalog(conn)
	children, err := cat.Children(context.Background(), "board")
	<-done

	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(children).To(ConsistOf("board.cpu0", "board.cpu1"))

	roots, err := cat.Children(context.Background(), "")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(roots).To(ConsistOf("board"))

	id, err := cat.LookupPath(context.Background(), "board.cpu1")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(id).To(Equal(int64(3)))

	_, err = cat.LookupPath(context.Background(), "board.cpu9")
	g.Expect(err).To(HaveOccurred())
}
