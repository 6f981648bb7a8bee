package iris

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Linaro/lite-cornea/internal/cos"
)

// instanceNode is one node of the cached instance tree (spec.md §3
// "Instance"). Children are stored as ids, not pointers — spec.md §9's
// "Avoid owning pointer cycles entirely". Each node keeps the dotted path
// the server reported for it; paths are not rebuilt from parent links.
type instanceNode struct {
	id       int64
	path     string
	parent   int64
	hasParent bool
	children []int64 // in discovery order
}

// Catalog is spec.md §4.5/component C5: a lazily-populated, read-mostly
// cache of the instance tree plus each instance's resource and
// event-source descriptors. Reads take the shared lock; a cache refill
// takes the exclusive lock (spec.md §5 "The catalog is read-mostly;
// writers take an exclusive lock during refill").
type Catalog struct {
	conn *Connection

	mu         sync.RWMutex
	byID       map[int64]*instanceNode
	byPath     map[string]int64
	treeLoaded bool

	resources     map[int64][]ResourceDescriptor
	resourceByNm  map[int64]map[string]int64
	eventSources  map[int64][]EventSourceDescriptor
	fieldsBySrc   map[int64]map[int64][]FieldDescriptor
}

// NewCatalog creates an empty Catalog bound to conn. Nothing is fetched
// until the first lookup (spec.md §4.5 "On demand (lazy)").
func NewCatalog(conn *Connection) *Catalog {
	return &Catalog{
		conn:         conn,
		byID:         make(map[int64]*instanceNode),
		byPath:       make(map[string]int64),
		resources:    make(map[int64][]ResourceDescriptor),
		resourceByNm: make(map[int64]map[string]int64),
		eventSources: make(map[int64][]EventSourceDescriptor),
		fieldsBySrc:  make(map[int64]map[int64][]FieldDescriptor),
	}
}

// ensureTree fetches the whole instance list with one
// instanceRegistryGetList call, then asks instanceGetParent for each
// instance in list order to link children to their parents, populating
// the path/id maps exactly once per Catalog lifetime (a running simulator's
// instance set is assumed stable for the life of the connection — new
// instances would arrive via instanceRegistryNotifyAdded, which a future
// extension could wire into an incremental refill using the same
// exclusive-lock discipline established here).
func (cat *Catalog) ensureTree(ctx context.Context) error {
	cat.mu.RLock()
	loaded := cat.treeLoaded
	cat.mu.RUnlock()
	if loaded {
		return nil
	}

	infos, err := cat.conn.InstanceRegistryGetList(ctx)
	if err != nil {
		return err
	}

	nodes := make(map[int64]*instanceNode, len(infos))
	for _, info := range infos {
		nodes[info.InstID] = &instanceNode{id: info.InstID, path: info.Path}
	}
	for _, info := range infos {
		id, n := info.InstID, nodes[info.InstID]
		parent, ok, err := cat.conn.InstanceGetParent(ctx, id)
		if err != nil {
			return cos.Wrapf(err, "iris: resolve parent of instance %d", id)
		}
		n.hasParent = ok
		if ok {
			n.parent = parent
			// Invariant (spec.md §3): "every non-root path has exactly
			// one parent that was previously reported by the server".
			cos.Assert(nodes[parent] != nil, "instance parent not previously reported", id, parent)
			if pn, exists := nodes[parent]; exists {
				pn.children = append(pn.children, id)
			}
		}
	}

	cat.mu.Lock()
	for id, n := range nodes {
		cat.byID[id] = n
		cat.byPath[n.path] = id
	}
	cat.treeLoaded = true
	cat.mu.Unlock()
	return nil
}

// LookupPath resolves a dotted instance path to its node (spec.md §4.5
// "tokenize on '.', traverse cached tree; if a node is unknown, query the
// server"). Since the tree is loaded in full on first use, an unknown
// path after that load means the path genuinely doesn't exist.
func (cat *Catalog) LookupPath(ctx context.Context, path string) (id int64, err error) {
	if err := cat.ensureTree(ctx); err != nil {
		return 0, err
	}
	cat.mu.RLock()
	defer cat.mu.RUnlock()
	id, ok := cat.byPath[path]
	if !ok {
		return 0, &cos.ErrUnknownInstance{Path: path}
	}
	return id, nil
}

// Path returns the dotted path of instance id, assuming the tree has
// already been loaded by a prior LookupPath/Children call.
func (cat *Catalog) Path(id int64) (string, bool) {
	cat.mu.RLock()
	defer cat.mu.RUnlock()
	n, ok := cat.byID[id]
	if !ok {
		return "", false
	}
	return n.path, true
}

// Children lists the immediate children of path in discovery order (the
// order instanceRegistryGetList reported them, spec.md §4.5), or every
// root instance sorted by path when path is empty.
func (cat *Catalog) Children(ctx context.Context, path string) ([]string, error) {
	if err := cat.ensureTree(ctx); err != nil {
		return nil, err
	}
	cat.mu.RLock()
	defer cat.mu.RUnlock()

	if path == "" {
		var roots []string
		for _, n := range cat.byID {
			if !n.hasParent {
				roots = append(roots, n.path)
			}
		}
		sort.Strings(roots)
		return roots, nil
	}

	id, ok := cat.byPath[path]
	if !ok {
		return nil, &cos.ErrUnknownInstance{Path: path}
	}
	n := cat.byID[id]
	out := make([]string, 0, len(n.children))
	for _, childID := range n.children {
		out = append(out, cat.byID[childID].path)
	}
	return out, nil
}

// Resources returns the cached (or freshly fetched) resource descriptors
// of instance id.
func (cat *Catalog) Resources(ctx context.Context, id int64) ([]ResourceDescriptor, error) {
	cat.mu.RLock()
	list, ok := cat.resources[id]
	cat.mu.RUnlock()
	if ok {
		return list, nil
	}

	list, err := cat.conn.ResourceGetList(ctx, id)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]int64, len(list))
	for _, r := range list {
		byName[r.Name] = r.ResourceID
	}

	cat.mu.Lock()
	cat.resources[id] = list
	cat.resourceByNm[id] = byName
	cat.mu.Unlock()
	return list, nil
}

// ResourceByName resolves name to resource descriptors on instance id. A
// name without a trailing "*" matches the one resource with exactly that
// name; a trailing "*" (spec.md §6 "resource-read INSTANCE NAME[...] —
// wildcard prefix matching") returns every resource whose name starts
// with the prefix, in list order.
func (cat *Catalog) ResourceByName(ctx context.Context, id int64, name string) ([]ResourceDescriptor, error) {
	list, err := cat.Resources(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(name, "*") {
		for _, r := range list {
			if r.Name == name {
				return []ResourceDescriptor{r}, nil
			}
		}
		return nil, &cos.ErrUnknownResource{InstancePath: pathOrID(cat, id), Name: name}
	}
	prefix := strings.TrimSuffix(name, "*")
	var matches []ResourceDescriptor
	for _, r := range list {
		if strings.HasPrefix(r.Name, prefix) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return nil, &cos.ErrUnknownResource{InstancePath: pathOrID(cat, id), Name: name}
	}
	return matches, nil
}

// EventSources returns the cached (or freshly fetched) event-source
// descriptors of instance id.
func (cat *Catalog) EventSources(ctx context.Context, id int64) ([]EventSourceDescriptor, error) {
	cat.mu.RLock()
	list, ok := cat.eventSources[id]
	cat.mu.RUnlock()
	if ok {
		return list, nil
	}
	list, err := cat.conn.EventSourceInfoGetList(ctx, id)
	if err != nil {
		return nil, err
	}
	cat.mu.Lock()
	cat.eventSources[id] = list
	cat.mu.Unlock()
	return list, nil
}

// EventSourceByName resolves name to an event-source descriptor on
// instance id.
func (cat *Catalog) EventSourceByName(ctx context.Context, id int64, name string) (EventSourceDescriptor, error) {
	list, err := cat.EventSources(ctx, id)
	if err != nil {
		return EventSourceDescriptor{}, err
	}
	for _, s := range list {
		if s.Name == name {
			return s, nil
		}
	}
	return EventSourceDescriptor{}, &cos.ErrUnknownEventSource{InstancePath: pathOrID(cat, id), Name: name}
}

// EventFields returns the cached (or freshly fetched) field descriptors
// of one event source.
func (cat *Catalog) EventFields(ctx context.Context, instID, sourceID int64) ([]FieldDescriptor, error) {
	cat.mu.RLock()
	if bySrc, ok := cat.fieldsBySrc[instID]; ok {
		if fields, ok := bySrc[sourceID]; ok {
			cat.mu.RUnlock()
			return fields, nil
		}
	}
	cat.mu.RUnlock()

	fields, err := cat.conn.EventFieldsGetList(ctx, instID, sourceID)
	if err != nil {
		return nil, err
	}
	cat.mu.Lock()
	if cat.fieldsBySrc[instID] == nil {
		cat.fieldsBySrc[instID] = make(map[int64][]FieldDescriptor)
	}
	cat.fieldsBySrc[instID][sourceID] = fields
	cat.mu.Unlock()
	return fields, nil
}

func pathOrID(cat *Catalog, id int64) string {
	if p, ok := cat.Path(id); ok {
		return p
	}
	return "#" + strconv.FormatInt(id, 10)
}
