// Package rib implements the Resource Information Base: a versioned
// key→object store with a bounded change log and snapshot/delta
// serialisation (spec.md §4.2).
//
// Rib is the one component spec.md §5 carves out of the actor model: it is
// a directly shared struct guarded by a sync.RWMutex rather than a
// channelled goroutine, so every mutation can assign the next version and
// append to the change log atomically under a single exclusive-writer
// critical section, while reads proceed concurrently.
package rib

import (
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Object is a single RIB entry (spec.md §3).
type Object struct {
	Name         string    `cbor:"1,keyasint"`
	Class        string    `cbor:"2,keyasint"`
	Value        Value     `cbor:"3,keyasint"`
	Version      uint64    `cbor:"4,keyasint"`
	LastModified time.Time `cbor:"5,keyasint"`
}

// ChangeKind tags the variant carried by a Change.
type ChangeKind uint8

const (
	ChangeCreated ChangeKind = iota
	ChangeUpdated
	ChangeDeleted
)

// Change is the tagged RibChange variant from spec.md §3.
type Change struct {
	Kind      ChangeKind `cbor:"1,keyasint"`
	Object    *Object    `cbor:"2,keyasint,omitempty"` // set for Created/Updated
	Name      string     `cbor:"3,keyasint,omitempty"` // set for Deleted
	Version   uint64     `cbor:"4,keyasint"`
	Timestamp time.Time  `cbor:"5,keyasint"`
}

func (c Change) ObjectName() string {
	if c.Object != nil {
		return c.Object.Name
	}
	return c.Name
}

// Rib is the versioned object store plus its bounded change log.
type Rib struct {
	mu      sync.RWMutex
	objects map[string]*Object
	log     *changeLog
	version uint64
	now     func() time.Time
}

// New constructs an empty Rib with the given change log capacity
// (spec.md §4.2's default is 1000).
func New(capacity int) *Rib {
	return &Rib{
		objects: make(map[string]*Object),
		log:     newChangeLog(capacity),
		now:     time.Now,
	}
}

func (r *Rib) nextVersion() uint64 {
	r.version++
	return r.version
}

// Create inserts a new object, failing with ErrAlreadyExists if name is
// already present (spec.md §4.2 edge cases).
func (r *Rib) Create(name, class string, value Value) (uint64, error) {
	if name == "" {
		return 0, ErrInvalidName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[name]; ok {
		return 0, ErrAlreadyExists
	}
	v := r.nextVersion()
	obj := &Object{Name: name, Class: class, Value: value.Clone(), Version: v, LastModified: r.now()}
	r.objects[name] = obj
	r.log.append(Change{Kind: ChangeCreated, Object: cloneObject(obj), Version: v, Timestamp: obj.LastModified})
	return v, nil
}

// Read returns a copy of the named object, or ok=false if it does not
// exist (unknown names are not an error per spec.md §4.2).
func (r *Rib) Read(name string) (Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[name]
	if !ok {
		return Object{}, false
	}
	return *cloneObject(obj), true
}

// Update overwrites the value of an existing object, failing with
// ErrNotFound if it doesn't exist.
func (r *Rib) Update(name string, value Value) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[name]
	if !ok {
		return 0, ErrNotFound
	}
	v := r.nextVersion()
	obj.Value = value.Clone()
	obj.Version = v
	obj.LastModified = r.now()
	r.log.append(Change{Kind: ChangeUpdated, Object: cloneObject(obj), Version: v, Timestamp: obj.LastModified})
	return v, nil
}

// Delete removes an existing object, failing with ErrNotFound if absent.
func (r *Rib) Delete(name string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[name]; !ok {
		return 0, ErrNotFound
	}
	v := r.nextVersion()
	delete(r.objects, name)
	ts := r.now()
	r.log.append(Change{Kind: ChangeDeleted, Name: name, Version: v, Timestamp: ts})
	return v, nil
}

// CurrentVersion returns the version of the most recent mutation.
func (r *Rib) CurrentVersion() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// GetChangesSince returns every change with version > since, in version
// order, or ErrTooOld if since predates the log's retained window
// (spec.md §4.2).
func (r *Rib) GetChangesSince(since uint64) ([]Change, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.log.since(since)
}

// ApplyChanges idempotently folds remote changes into the local store
// (spec.md §4.2: Created/Updated accepted only if incoming.version is
// newer per-name; Deleted removes iff stored version <= incoming version).
// It returns the count of changes that actually mutated local state.
func (r *Rib) ApplyChanges(changes []Change) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	applied := 0
	for _, c := range changes {
		if r.applyOne(c) {
			applied++
		}
	}
	return applied
}

func (r *Rib) applyOne(c Change) bool {
	name := c.ObjectName()
	switch c.Kind {
	case ChangeCreated, ChangeUpdated:
		if c.Object == nil {
			return false
		}
		existing, ok := r.objects[name]
		if ok && existing.Version >= c.Object.Version {
			return false
		}
		r.objects[name] = cloneObject(c.Object)
		if c.Object.Version > r.version {
			r.version = c.Object.Version
		}
		r.log.append(Change{Kind: c.Kind, Object: cloneObject(c.Object), Version: c.Object.Version, Timestamp: c.Timestamp})
		return true
	case ChangeDeleted:
		existing, ok := r.objects[name]
		if !ok || existing.Version > c.Version {
			return false
		}
		delete(r.objects, name)
		if c.Version > r.version {
			r.version = c.Version
		}
		r.log.append(Change{Kind: ChangeDeleted, Name: name, Version: c.Version, Timestamp: c.Timestamp})
		return true
	default:
		return false
	}
}

// ListByClass returns the names of every object of the given class, a
// read-only query recovered from original_source/actors.rs's
// RibMessage::ListByClass.
func (r *Rib) ListByClass(class string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0)
	for name, obj := range r.objects {
		if obj.Class == class {
			names = append(names, name)
		}
	}
	return names
}

// Count returns the number of live objects (original_source/actors.rs
// RibMessage::Count).
func (r *Rib) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// snapshot is the wire/disk form produced by SerializeSnapshot.
type snapshot struct {
	Version uint64    `cbor:"1,keyasint"`
	Objects []*Object `cbor:"2,keyasint"`
}

// SerializeSnapshot renders the whole RIB using the DIF-wide encoding
// (spec.md §4.2, §6).
func (r *Rib) SerializeSnapshot() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := snapshot{Version: r.version}
	for _, obj := range r.objects {
		snap.Objects = append(snap.Objects, cloneObject(obj))
	}
	b, err := encMode.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("serialize rib snapshot: %w", err)
	}
	return b, nil
}

// DeserializeSnapshot replaces the RIB's contents with snap, returning the
// number of objects loaded. Used both for enrolment's initial transfer and
// for sync fallback (spec.md §4.8).
func (r *Rib) DeserializeSnapshot(data []byte) (int, error) {
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("deserialize rib snapshot: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects = make(map[string]*Object, len(snap.Objects))
	for _, obj := range snap.Objects {
		r.objects[obj.Name] = obj
	}
	if snap.Version > r.version {
		r.version = snap.Version
	}
	r.log.reset(r.version)
	return len(snap.Objects), nil
}

var encMode = func() cbor.EncMode {
	opts := cbor.CTAP2EncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	m, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// cloneObject returns an Object sharing no storage with o, so a snapshot
// or read result can outlive the RIB's lock without aliasing storage the
// RIB still owns (spec.md §5) or that a caller still holds.
func cloneObject(o *Object) *Object {
	cp := *o
	cp.Value = o.Value.Clone()
	return &cp
}
