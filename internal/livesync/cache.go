package livesync

import (
	"sort"
	"sync"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/pkg/errors"
)

// Token identifies the local layers one optimistic mutation staged.
type Token uint64

type layer struct {
	token Token
	value any
	// field sequence observed at staging time; a confirmed layer only
	// overwrites a field no pushed event has written since. Snapshots from
	// a fetch do not count: they may predate the write.
	fieldSeq uint64
}

type entry struct {
	kind model.SubjectKind
	// base is the last server-known state: *model.Report, *model.Comment
	// or *model.Reply.
	base     any
	layers   map[string][]layer
	fieldSeq map[string]uint64
	version  uint64
	// pendingInsert is the token of the mutation that created this entry
	// locally; zero once the server has it.
	pendingInsert Token
}

type historyItem struct {
	entry model.EditHistoryEntry
	token Token
}

// Cache is the client-local projection of server entities. Server state and
// unconfirmed local layers are kept apart so pushed events never overwrite a
// pending local value, and rolling back a mutation removes exactly its layers.
//
// Every method runs as one turn under the cache mutex.
type Cache struct {
	mu      sync.RWMutex
	entries map[Ref]*entry
	history map[string][]historyItem
	staged  map[Token][]Ref
	hstaged map[Token][]string
	next    Token
	seq     uint64
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[Ref]*entry),
		history: make(map[string][]historyItem),
		staged:  make(map[Token][]Ref),
		hstaged: make(map[Token][]string),
	}
}

func refOf(entity any) (Ref, error) {
	switch e := entity.(type) {
	case *model.Report:
		return Ref{model.SubjectReport, e.ID}, nil
	case *model.Comment:
		return Ref{model.SubjectComment, e.ID}, nil
	case *model.Reply:
		return Ref{model.SubjectReply, e.ID}, nil
	}
	return Ref{}, errors.Errorf("unsupported entity %T", entity)
}

func clone(entity any) any {
	switch e := entity.(type) {
	case *model.Report:
		c := *e
		if e.PriorityLevel != nil {
			c.PriorityLevel = intPtr(*e.PriorityLevel)
		}
		if e.PatrolUserID != nil {
			c.PatrolUserID = strPtr(*e.PatrolUserID)
		}
		if e.AssignedTo != nil {
			c.AssignedTo = strPtr(*e.AssignedTo)
		}
		return &c
	case *model.Comment:
		c := *e
		return &c
	case *model.Reply:
		c := *e
		return &c
	}
	return entity
}

func (c *Cache) nextSeq() uint64 {
	c.seq++
	return c.seq
}

// display materialises base with the top layer of every pending field.
func (e *entry) display() any {
	out := clone(e.base)
	for field, ls := range e.layers {
		if len(ls) == 0 {
			continue
		}
		// layers were type checked when staged
		_ = applyField(out, field, ls[len(ls)-1].value)
	}
	return out
}

func (c *Cache) put(entity any) {
	ref, err := refOf(entity)
	if err != nil || ref.ID == "" {
		return
	}
	e, ok := c.entries[ref]
	if !ok {
		c.entries[ref] = &entry{
			kind:     ref.Kind,
			base:     clone(entity),
			layers:   make(map[string][]layer),
			fieldSeq: make(map[string]uint64),
			version:  1,
		}
		return
	}
	e.base = clone(entity)
	e.pendingInsert = 0
	e.version++
}

// PutReport stores server state for a report. Pending local layers survive.
func (c *Cache) PutReport(r model.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(&r)
}

func (c *Cache) PutComment(cm model.Comment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(&cm)
}

func (c *Cache) PutReply(r model.Reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(&r)
}

// Merge writes server-confirmed field values into an entity's server state,
// field by field. It reports false when the entity is not cached.
func (c *Cache) Merge(ref Ref, p model.Patch) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[ref]
	if !ok {
		return false, nil
	}
	next := clone(e.base)
	for f, v := range p {
		if err := applyField(next, f, v); err != nil {
			return true, err
		}
	}
	e.base = next
	seq := c.nextSeq()
	for f := range p {
		e.fieldSeq[f] = seq
	}
	e.version++
	return true, nil
}

// Remove drops an entity regardless of pending layers.
func (c *Cache) Remove(ref Ref) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ref)
}

// Tx stages optimistic changes under one token.
type Tx struct {
	c     *Cache
	token Token
	refs  []Ref
	hist  []string
}

// Get returns the displayed state of ref inside the transaction.
func (tx *Tx) Get(ref Ref) (any, bool) {
	e, ok := tx.c.entries[ref]
	if !ok {
		return nil, false
	}
	return e.display(), true
}

// Lookup finds a comment or reply by id.
func (tx *Tx) Lookup(id string) (Ref, any, bool) {
	for _, k := range []model.SubjectKind{model.SubjectComment, model.SubjectReply, model.SubjectReport} {
		ref := Ref{k, id}
		if v, ok := tx.Get(ref); ok {
			return ref, v, true
		}
	}
	return Ref{}, nil, false
}

// Unsaved reports whether ref was inserted locally and is not yet
// confirmed by the server.
func (tx *Tx) Unsaved(ref Ref) bool {
	e, ok := tx.c.entries[ref]
	return ok && e.pendingInsert != 0
}

// Stage layers p over ref without touching its server state.
func (tx *Tx) Stage(ref Ref, p model.Patch) error {
	e, ok := tx.c.entries[ref]
	if !ok {
		return errors.Wrapf(ErrUnknownEntity, "%s %s", ref.Kind, ref.ID)
	}
	probe := e.display()
	for f, v := range p {
		if err := applyField(probe, f, v); err != nil {
			return err
		}
	}
	for f, v := range p {
		e.layers[f] = append(e.layers[f], layer{
			token:    tx.token,
			value:    v,
			fieldSeq: e.fieldSeq[f],
		})
	}
	e.version++
	tx.refs = append(tx.refs, ref)
	return nil
}

// Insert adds a locally synthesised entity that exists only until the
// mutation is confirmed or rolled back.
func (tx *Tx) Insert(entity any) error {
	ref, err := refOf(entity)
	if err != nil {
		return err
	}
	if _, exists := tx.c.entries[ref]; exists {
		return errors.Errorf("%s %s already cached", ref.Kind, ref.ID)
	}
	tx.c.entries[ref] = &entry{
		kind:          ref.Kind,
		base:          clone(entity),
		layers:        make(map[string][]layer),
		fieldSeq:      make(map[string]uint64),
		version:       1,
		pendingInsert: tx.token,
	}
	tx.refs = append(tx.refs, ref)
	return nil
}

// RecordEdit stages an edit history entry.
func (tx *Tx) RecordEdit(h model.EditHistoryEntry) {
	tx.c.history[h.CommentID] = append(tx.c.history[h.CommentID], historyItem{entry: h, token: tx.token})
	tx.hist = append(tx.hist, h.CommentID)
}

// Update runs fn as one turn. If fn fails, everything it staged is undone
// and no token is returned.
func (c *Cache) Update(fn func(tx *Tx) error) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	tx := &Tx{c: c, token: c.next}
	if err := fn(tx); err != nil {
		c.rollback(tx.token, tx.refs, tx.hist)
		return 0, err
	}
	c.staged[tx.token] = tx.refs
	c.hstaged[tx.token] = tx.hist
	return tx.token, nil
}

// Rollback removes every layer and local insert of tok. Fields written by
// server events in the meantime keep their server values.
func (c *Cache) Rollback(tok Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollback(tok, c.staged[tok], c.hstaged[tok])
	delete(c.staged, tok)
	delete(c.hstaged, tok)
}

func (c *Cache) rollback(tok Token, refs []Ref, hist []string) {
	for _, ref := range refs {
		e, ok := c.entries[ref]
		if !ok {
			continue
		}
		if e.pendingInsert == tok {
			delete(c.entries, ref)
			continue
		}
		for f, ls := range e.layers {
			e.layers[f] = dropLayers(ls, tok)
			if len(e.layers[f]) == 0 {
				delete(e.layers, f)
			}
		}
		e.version++
	}
	for _, id := range hist {
		items := c.history[id][:0]
		for _, h := range c.history[id] {
			if h.token != tok {
				items = append(items, h)
			}
		}
		c.history[id] = items
	}
}

func dropLayers(ls []layer, tok Token) []layer {
	out := ls[:0]
	for _, l := range ls {
		if l.token != tok {
			out = append(out, l)
		}
	}
	return out
}

// Resolution describes how a confirmed mutation folds into server state.
type Resolution struct {
	// Values override the promoted layer values with what the server
	// persisted.
	Values map[Ref]model.Patch
	// Replace swaps a locally inserted entity (keyed by its temp ref) for
	// the server's copy.
	Replace map[Ref]any
	// Remove drops entities the server deleted.
	Remove []Ref
	// History replaces staged edit history with the server's entries.
	History []model.EditHistoryEntry
}

// Confirm folds tok's layers into server state and clears them.
func (c *Cache) Confirm(tok Token, res Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()

	refs := c.staged[tok]
	delete(c.staged, tok)
	seen := make(map[Ref]bool, len(refs))
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		e, ok := c.entries[ref]
		if !ok {
			continue
		}
		if e.pendingInsert == tok {
			e.pendingInsert = 0
		}
		next := clone(e.base)
		seq := c.nextSeq()
		handled := make(map[string]bool)
		for f, ls := range e.layers {
			var mine *layer
			for i := range ls {
				if ls[i].token == tok {
					mine = &ls[i]
				}
			}
			if mine == nil {
				continue
			}
			handled[f] = true
			// a pushed write since staging wins over both the layer and
			// the write response
			if mine.fieldSeq == e.fieldSeq[f] {
				v, ok := res.Values[ref][f]
				if !ok {
					v = mine.value
				}
				if err := applyField(next, f, v); err == nil {
					e.fieldSeq[f] = seq
				}
			}
			e.layers[f] = dropLayers(ls, tok)
			if len(e.layers[f]) == 0 {
				delete(e.layers, f)
			}
		}
		for f, v := range res.Values[ref] {
			if handled[f] {
				continue
			}
			if err := applyField(next, f, v); err == nil {
				e.fieldSeq[f] = seq
			}
		}
		e.base = next
		e.version++
	}

	for temp, entity := range res.Replace {
		if ref, err := refOf(entity); err == nil && ref != temp {
			delete(c.entries, temp)
		}
		c.put(entity)
	}
	for _, ref := range res.Remove {
		delete(c.entries, ref)
	}

	for _, id := range c.hstaged[tok] {
		items := c.history[id][:0]
		for _, h := range c.history[id] {
			if h.token != tok {
				items = append(items, h)
			}
		}
		c.history[id] = items
	}
	delete(c.hstaged, tok)
	for _, h := range res.History {
		c.history[h.CommentID] = append(c.history[h.CommentID], historyItem{entry: h})
	}
}

// PutHistory replaces the confirmed history of a comment, keeping staged
// entries.
func (c *Cache) PutHistory(commentID string, entries []model.EditHistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]historyItem, 0, len(entries))
	for _, h := range c.history[commentID] {
		if h.token != 0 {
			items = append(items, h)
		}
	}
	for _, h := range entries {
		items = append(items, historyItem{entry: h})
	}
	c.history[commentID] = items
}

// History returns a comment's edit history, newest first.
func (c *Cache) History(commentID string) []model.EditHistoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.EditHistoryEntry, 0, len(c.history[commentID]))
	for _, h := range c.history[commentID] {
		out = append(out, h.entry)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EditedAt.After(out[j].EditedAt) })
	return out
}

func (c *Cache) get(ref Ref) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[ref]
	if !ok {
		return nil, false
	}
	return e.display(), true
}

// Report returns the displayed state of a report.
func (c *Cache) Report(id string) (model.Report, bool) {
	v, ok := c.get(Ref{model.SubjectReport, id})
	if !ok {
		return model.Report{}, false
	}
	return *v.(*model.Report), true
}

func (c *Cache) Comment(id string) (model.Comment, bool) {
	v, ok := c.get(Ref{model.SubjectComment, id})
	if !ok {
		return model.Comment{}, false
	}
	return *v.(*model.Comment), true
}

func (c *Cache) Reply(id string) (model.Reply, bool) {
	v, ok := c.get(Ref{model.SubjectReply, id})
	if !ok {
		return model.Reply{}, false
	}
	return *v.(*model.Reply), true
}

// KindOf finds which kind of entity id belongs to.
func (c *Cache) KindOf(id string) (model.SubjectKind, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range []model.SubjectKind{model.SubjectReply, model.SubjectComment, model.SubjectReport} {
		if _, ok := c.entries[Ref{k, id}]; ok {
			return k, true
		}
	}
	return "", false
}

// Reports returns every cached report.
func (c *Cache) Reports() []model.Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.Report
	for ref, e := range c.entries {
		if ref.Kind == model.SubjectReport {
			out = append(out, *e.display().(*model.Report))
		}
	}
	return out
}

// Comments returns the visible comments of a report, oldest first.
func (c *Cache) Comments(reportID string) []model.Comment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.Comment
	for ref, e := range c.entries {
		if ref.Kind != model.SubjectComment {
			continue
		}
		cm := e.display().(*model.Comment)
		if cm.ReportID == reportID && !cm.Deleted {
			out = append(out, *cm)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Replies returns every cached reply under a root comment, in no
// particular order. Deleted replies are included with Deleted set.
func (c *Cache) Replies(commentID string) []model.Reply {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.Reply
	for ref, e := range c.entries {
		if ref.Kind != model.SubjectReply {
			continue
		}
		r := e.display().(*model.Reply)
		if r.CommentID == commentID {
			out = append(out, *r)
		}
	}
	return out
}

// Version is the monotonically increasing change counter of an entity.
func (c *Cache) Version(ref Ref) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[ref]; ok {
		return e.version
	}
	return 0
}

// Pending reports whether ref carries unconfirmed local layers.
func (c *Cache) Pending(ref Ref) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[ref]
	if !ok {
		return false
	}
	return e.pendingInsert != 0 || len(e.layers) > 0
}
