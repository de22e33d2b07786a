package document

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/automerge/automerge-go"
)

// ErrDecode is returned when a binary payload is not a structurally valid
// automerge update or snapshot. The offending payload is safe to drop; the
// document is left untouched.
var ErrDecode = errors.New("malformed document payload")

const (
	contentKey = "content"
	nodesKey   = "nodes"
)

// Document is the authoritative replicated state for one room: an automerge
// doc with a "content" text sequence and a "nodes" map of structured values.
// Two documents that have applied the same set of updates converge to the
// same state regardless of arrival order or duplication.
//
// All methods are safe for concurrent use; mutations and encodes are
// serialized internally so the persistence loop can read while the hub
// applies updates.
type Document struct {
	mu  sync.Mutex
	doc *automerge.Doc
}

// New creates an empty document with the default containers.
func New() *Document {
	doc := automerge.New()
	_ = doc.RootMap().Set(contentKey, automerge.NewText(""))
	_ = doc.RootMap().Set(nodesKey, automerge.NewMap())
	return &Document{doc: doc}
}

// Load restores a document from a full-state snapshot payload.
func Load(snapshot []byte) (*Document, error) {
	doc, err := automerge.Load(snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	d := &Document{doc: doc}
	if err := d.ensureContainers(); err != nil {
		return nil, err
	}
	return d, nil
}

// Snapshots written by older clients may predate one of the default
// containers; create whatever is missing so local mutations never hit a
// void path.
func (d *Document) ensureContainers() error {
	root := d.doc.RootMap()
	v, err := root.Get(contentKey)
	if err != nil {
		return fmt.Errorf("inspect %q container: %w", contentKey, err)
	}
	if v.Kind() == automerge.KindVoid {
		if err := root.Set(contentKey, automerge.NewText("")); err != nil {
			return fmt.Errorf("create %q container: %w", contentKey, err)
		}
	}
	v, err = root.Get(nodesKey)
	if err != nil {
		return fmt.Errorf("inspect %q container: %w", nodesKey, err)
	}
	if v.Kind() == automerge.KindVoid {
		if err := root.Set(nodesKey, automerge.NewMap()); err != nil {
			return fmt.Errorf("create %q container: %w", nodesKey, err)
		}
	}
	return nil
}

// ApplyUpdate merges a remote binary delta into the document. Applying the
// same delta twice is a no-op, and concurrent deltas may arrive in any
// order. Returns ErrDecode for structurally invalid payloads.
func (d *Document) ApplyUpdate(raw []byte) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty update", ErrDecode)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.doc.LoadIncremental(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// EncodeState produces a full-state payload sufficient to bring an empty
// replica to the current state. Used for joiner bootstrap and snapshots.
func (d *Document) EncodeState() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Save()
}

// InsertText inserts s at pos in the shared text and returns the single
// outgoing delta for the change.
func (d *Document) InsertText(pos int, s string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.doc.Path(contentKey).Text().Insert(pos, s); err != nil {
		return nil, err
	}
	return d.doc.SaveIncremental(), nil
}

// DeleteText removes count characters starting at pos.
func (d *Document) DeleteText(pos, count int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.doc.Path(contentKey).Text().Delete(pos, count); err != nil {
		return nil, err
	}
	return d.doc.SaveIncremental(), nil
}

// SetNode writes an entry in the shared node map.
func (d *Document) SetNode(id string, value any) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.doc.Path(nodesKey).Map().Set(id, value); err != nil {
		return nil, err
	}
	return d.doc.SaveIncremental(), nil
}

// DeleteNode removes an entry from the shared node map.
func (d *Document) DeleteNode(id string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.doc.Path(nodesKey).Map().Delete(id); err != nil {
		return nil, err
	}
	return d.doc.SaveIncremental(), nil
}

// Text returns the current contents of the shared text sequence.
func (d *Document) Text() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Path(contentKey).Text().Get()
}

// Node returns the value stored under id in the node map, or nil if absent.
func (d *Document) Node(id string) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.doc.Path(nodesKey).Map().Get(id)
	if err != nil {
		return nil, err
	}
	if v.Kind() == automerge.KindVoid {
		return nil, nil
	}
	return v.Interface(), nil
}

// NodeIDs lists the keys currently present in the node map.
func (d *Document) NodeIDs() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Path(nodesKey).Map().Keys()
}

// HeadsKey is a stable fingerprint of the document's current heads, used to
// skip persisting a state that has already been saved.
func (d *Document) HeadsKey() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	heads := d.doc.Heads()
	parts := make([]string, len(heads))
	for i, h := range heads {
		parts[i] = h.String()
	}
	return strings.Join(parts, ",")
}
