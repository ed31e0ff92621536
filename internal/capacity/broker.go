// Package capacity implements the cross-instance slot broker described in
// spec.md §4.8: a repo-scoped JSON record guarded by an OS-level advisory
// lock, with per-row heartbeats so a crashed instance's slots are garbage
// collected instead of leaking forever. Grounded on the teacher's
// internal/filelock (gofrs/flock + atomic temp-file-then-rename writes).
package capacity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/orcworks/orc/internal/filelock"
)

// StaleAfter is how long a row can go without a heartbeat before it is
// garbage-collected on the next read (10x HeartbeatInterval, spec.md §4.8).
const StaleAfter = 10 * time.Second

// HeartbeatInterval is how often a held slot's row is refreshed.
const HeartbeatInterval = 1 * time.Second

// row is one instance's live slot record.
type row struct {
	InstanceID string    `json:"instanceId"`
	PID        int       `json:"pid"`
	NodeIDs    []string  `json:"nodeIds"`
	Heartbeat  time.Time `json:"heartbeat"`
}

type document struct {
	Rows []row `json:"rows"`
}

// Broker coordinates slot acquisition for one repository's instances.
type Broker struct {
	path       string
	lockPath   string
	instanceID string
	globalCap  int
}

// Open returns a Broker rooted at <workspaceRoot>/.orc/capacity.json,
// generating a fresh instanceID for this process (spec.md §4.8).
func Open(workspaceRoot string, globalCap int) (*Broker, error) {
	dir := filepath.Join(workspaceRoot, ".orc")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create capacity directory: %w", err)
	}
	return &Broker{
		path:       filepath.Join(dir, "capacity.json"),
		lockPath:   filepath.Join(dir, "capacity.json.lock"),
		instanceID: uuid.NewString(),
		globalCap:  globalCap,
	}, nil
}

// TryAcquire attempts to reserve one slot for nodeID under effectiveCap
// (min(plan.maxParallel, globalCap) per spec.md §4.6), returning false
// without error if the broker is at capacity (KindCapacityDenied is the
// scheduler's concern, not this package's).
func (b *Broker) TryAcquire(nodeID string, effectiveCap int) (bool, error) {
	fl := flock.New(b.lockPath)
	if err := fl.Lock(); err != nil {
		return false, fmt.Errorf("lock capacity file: %w", err)
	}
	defer fl.Unlock()

	doc, err := b.read()
	if err != nil {
		return false, err
	}
	doc.gc()

	limit := effectiveCap
	if limit <= 0 {
		limit = b.globalCap
	}
	if doc.totalSlots() >= limit {
		if err := b.write(doc); err != nil { // persist the GC'd view even on denial
			return false, err
		}
		return false, nil
	}

	doc.addSlot(b.instanceID, os.Getpid(), nodeID)
	if err := b.write(doc); err != nil {
		return false, err
	}
	return true, nil
}

// Release removes nodeID's slot from this instance's row.
func (b *Broker) Release(nodeID string) error {
	fl := flock.New(b.lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lock capacity file: %w", err)
	}
	defer fl.Unlock()

	doc, err := b.read()
	if err != nil {
		return err
	}
	doc.gc()
	doc.removeSlot(b.instanceID, nodeID)
	return b.write(doc)
}

// Heartbeat refreshes this instance's row so it isn't garbage-collected
// while nodes are still running. Intended to be called on HeartbeatInterval
// by a background goroutine for the lifetime of the process.
func (b *Broker) Heartbeat() error {
	fl := flock.New(b.lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lock capacity file: %w", err)
	}
	defer fl.Unlock()

	doc, err := b.read()
	if err != nil {
		return err
	}
	doc.gc()
	doc.touch(b.instanceID)
	return b.write(doc)
}

func (b *Broker) read() (*document, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return &document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read capacity file: %w", err)
	}
	if len(data) == 0 {
		return &document{}, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse capacity file: %w", err)
	}
	return &doc, nil
}

// write persists doc via filelock.AtomicWrite's temp-file-then-rename.
func (b *Broker) write(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal capacity file: %w", err)
	}
	return filelock.AtomicWrite(b.path, data)
}

func (d *document) gc() {
	cutoff := time.Now().Add(-StaleAfter)
	var fresh []row
	for _, r := range d.Rows {
		if r.Heartbeat.After(cutoff) {
			fresh = append(fresh, r)
		}
	}
	d.Rows = fresh
}

func (d *document) totalSlots() int {
	n := 0
	for _, r := range d.Rows {
		n += len(r.NodeIDs)
	}
	return n
}

func (d *document) addSlot(instanceID string, pid int, nodeID string) {
	for i := range d.Rows {
		if d.Rows[i].InstanceID == instanceID {
			d.Rows[i].NodeIDs = append(d.Rows[i].NodeIDs, nodeID)
			d.Rows[i].Heartbeat = time.Now()
			return
		}
	}
	d.Rows = append(d.Rows, row{
		InstanceID: instanceID,
		PID:        pid,
		NodeIDs:    []string{nodeID},
		Heartbeat:  time.Now(),
	})
}

func (d *document) removeSlot(instanceID, nodeID string) {
	for i := range d.Rows {
		if d.Rows[i].InstanceID != instanceID {
			continue
		}
		out := d.Rows[i].NodeIDs[:0]
		for _, id := range d.Rows[i].NodeIDs {
			if id != nodeID {
				out = append(out, id)
			}
		}
		d.Rows[i].NodeIDs = out
		d.Rows[i].Heartbeat = time.Now()
		return
	}
}

func (d *document) touch(instanceID string) {
	for i := range d.Rows {
		if d.Rows[i].InstanceID == instanceID {
			d.Rows[i].Heartbeat = time.Now()
			return
		}
	}
}
