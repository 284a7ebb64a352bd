package client

import (
	"sort"
	"strings"

	"github.com/devrev/storesync/internal/model"
	"github.com/devrev/storesync/internal/mutator"
)

// Entry is the client-local state of one key: either Confirmed or Pending.
type Entry interface {
	isEntry()
}

// Confirmed is server-authoritative state.
type Confirmed struct {
	Record *model.Record
}

// Pending is the optimistic result of a mutation not yet seen in a pull.
// A nil Payload is an optimistic delete.
type Pending struct {
	Payload    model.Payload
	MutationID int64
}

func (Confirmed) isEntry() {}
func (Pending) isEntry()   {}

// layer is one pending mutation stacked on a key.
type layer struct {
	mutation model.Mutation
	payload  model.Payload
}

// localView holds the confirmed records, the pending layers stacked on them
// and, per key, the highest version ever confirmed. Not safe for concurrent
// use; the client guards it.
type localView struct {
	confirmed  map[string]*model.Record
	pending    map[string][]layer
	byMutation map[int64][]string
	watermarks map[string]int64
	registry   *mutator.Registry
}

func newLocalView(registry *mutator.Registry) *localView {
	return &localView{
		confirmed:  make(map[string]*model.Record),
		pending:    make(map[string][]layer),
		byMutation: make(map[int64][]string),
		watermarks: make(map[string]int64),
		registry:   registry,
	}
}

// entry returns the topmost state of key.
func (v *localView) entry(key string) (Entry, bool) {
	if layers := v.pending[key]; len(layers) > 0 {
		top := layers[len(layers)-1]
		return Pending{Payload: top.payload, MutationID: top.mutation.ClientMutationID}, true
	}
	if r, ok := v.confirmed[key]; ok {
		return Confirmed{Record: r}, true
	}
	return nil, false
}

// base returns what a new mutation on key is computed from: the topmost
// payload, the confirmed version and the number of pending layers.
func (v *localView) base(key string) (model.Payload, int64, int) {
	var (
		payload model.Payload
		version int64
	)
	if r, ok := v.confirmed[key]; ok {
		payload = r.Payload
		version = r.Version
	}
	layers := v.pending[key]
	if len(layers) > 0 {
		payload = layers[len(layers)-1].payload
	}
	return payload, version, len(layers)
}

func (v *localView) push(m model.Mutation, payload model.Payload) {
	v.pending[m.Key] = append(v.pending[m.Key], layer{mutation: m, payload: payload})
	v.byMutation[m.ClientMutationID] = append(v.byMutation[m.ClientMutationID], m.Key)
}

// rollback removes the layers of mutation id and recomputes what was
// stacked on them. It returns the affected keys.
func (v *localView) rollback(id int64) []string {
	keys := v.byMutation[id]
	delete(v.byMutation, id)
	for _, key := range keys {
		layers := v.pending[key]
		kept := layers[:0]
		for _, l := range layers {
			if l.mutation.ClientMutationID != id {
				kept = append(kept, l)
			}
		}
		v.setLayers(key, kept)
		v.rebase(key)
	}
	return keys
}

// retire drops every layer with a mutation id at or below lastMutationID and
// returns the affected keys.
func (v *localView) retire(lastMutationID int64) []string {
	var affected []string
	for id, keys := range v.byMutation {
		if id > lastMutationID {
			continue
		}
		delete(v.byMutation, id)
		for _, key := range keys {
			layers := v.pending[key]
			kept := layers[:0]
			for _, l := range layers {
				if l.mutation.ClientMutationID > lastMutationID {
					kept = append(kept, l)
				}
			}
			v.setLayers(key, kept)
			affected = append(affected, key)
		}
	}
	for _, key := range dedupe(affected) {
		v.rebase(key)
	}
	return dedupe(affected)
}

func (v *localView) setLayers(key string, layers []layer) {
	if len(layers) == 0 {
		delete(v.pending, key)
		return
	}
	v.pending[key] = layers
}

// confirm installs an authoritative record unless a newer version of the
// key was already seen. It reports whether the record was taken.
func (v *localView) confirm(r *model.Record) bool {
	if r.Version < v.watermarks[r.Key] {
		return false
	}
	v.watermarks[r.Key] = r.Version
	if r.Deleted {
		delete(v.confirmed, r.Key)
	} else {
		v.confirmed[r.Key] = r
	}
	if len(v.pending[r.Key]) > 0 {
		v.rebase(r.Key)
	}
	return true
}

// rebase replays the pending layers of key on top of its confirmed payload.
// A layer whose mutator now fails leaves the payload unchanged; the server
// has the final word on it.
func (v *localView) rebase(key string) {
	layers := v.pending[key]
	if len(layers) == 0 {
		return
	}
	var payload model.Payload
	if r, ok := v.confirmed[key]; ok {
		payload = r.Payload
	}
	for i := range layers {
		next, err := v.registry.Apply(layers[i].mutation.MutatorName, payload, layers[i].mutation.Args)
		if err == nil {
			payload = next
		}
		layers[i].payload = payload
	}
}

// evict drops confirmed records rejected by keep. Watermarks stay.
func (v *localView) evict(keep func(*model.Record) bool) []string {
	var dropped []string
	for key, r := range v.confirmed {
		if !keep(r) {
			delete(v.confirmed, key)
			dropped = append(dropped, key)
			if len(v.pending[key]) > 0 {
				v.rebase(key)
			}
		}
	}
	sort.Strings(dropped)
	return dropped
}

// keys returns every key with local state under prefix, sorted.
func (v *localView) keys(prefix string) []string {
	set := make(map[string]struct{})
	for k := range v.confirmed {
		if strings.HasPrefix(k, prefix) {
			set[k] = struct{}{}
		}
	}
	for k := range v.pending {
		if strings.HasPrefix(k, prefix) {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// sortedKeys returns the members of set, sorted.
func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dedupe(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}
