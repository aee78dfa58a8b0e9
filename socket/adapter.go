package socket

import (
	"github.com/relaywire/iosocket/pkg/log"
	"github.com/relaywire/iosocket/pkg/types"
)

var adapterLog = log.NewLog("iosocket/socket:adapter")

// BroadcastFlags carries the per-emit modifiers built up by a
// BroadcastOperator (spec.md §3, §4.7).
type BroadcastFlags struct {
	Compress bool
	Volatile bool
	Local    bool
	Binary   bool
}

// BroadcastOptions is the selector passed to the Adapter: which rooms to
// include, which rooms to exclude, and the active flags (spec.md §4.4).
type BroadcastOptions struct {
	Rooms  *types.Set[Room]
	Except *types.Set[Room]
	Flags  *BroadcastFlags
}

// Adapter maintains the room<->socket bipartite index for one Namespace
// and executes selectors over it (spec.md §4.4).
type Adapter interface {
	AddAll(id SocketId, rooms *types.Set[Room])
	Del(id SocketId, room Room)
	DelAll(id SocketId)

	// Sockets returns every socket id selected by include (empty means
	// "every socket in the namespace").
	Sockets(include *types.Set[Room]) *types.Set[SocketId]

	// SocketRooms returns the rooms a given socket currently belongs to.
	SocketRooms(id SocketId) *types.Set[Room]

	// Rooms lists every room with at least one member, for diagnostics
	// (Server.Stats, spec.md §6 expansion).
	Rooms() []Room

	// Apply invokes fn for every socket selected by opts, skipping
	// sockets that are no longer present in the namespace (tolerant of
	// mid-broadcast disconnects, per spec.md §4.4/§5).
	Apply(opts *BroadcastOptions, fn func(*Socket))
}

// inMemoryAdapter is the only Adapter implementation specified: an
// in-process room index. A pluggable interface is exposed (above) but no
// cross-process implementation is provided, per spec.md §1's Non-goals.
type inMemoryAdapter struct {
	events *types.EventEmitter
	nsp    *Namespace

	rooms *types.Map[Room, *types.Set[SocketId]]
	sids  *types.Map[SocketId, *types.Set[Room]]
}

// NewInMemoryAdapter constructs the default Adapter for nsp.
func NewInMemoryAdapter(nsp *Namespace) Adapter {
	return &inMemoryAdapter{
		events: types.NewEventEmitter(),
		nsp:    nsp,
		rooms:  types.NewMap[Room, *types.Set[SocketId]](),
		sids:   types.NewMap[SocketId, *types.Set[Room]](),
	}
}

func (a *inMemoryAdapter) AddAll(id SocketId, rooms *types.Set[Room]) {
	sidRooms, _ := a.sids.LoadOrStore(id, types.NewSet[Room]())
	for _, room := range rooms.Keys() {
		sidRooms.Add(room)
		ids, existed := a.rooms.LoadOrStore(room, types.NewSet[SocketId]())
		if !existed {
			adapterLog.Debugf("create-room %s", room)
			a.events.Emit("create-room", room)
		}
		if !ids.Has(id) {
			ids.Add(id)
			adapterLog.Debugf("join-room %s %s", room, id)
			a.events.Emit("join-room", room, id)
		}
	}
}

func (a *inMemoryAdapter) Del(id SocketId, room Room) {
	if rooms, ok := a.sids.Load(id); ok {
		rooms.Delete(room)
	}
	a.delFromRoom(room, id)
}

func (a *inMemoryAdapter) delFromRoom(room Room, id SocketId) {
	ids, ok := a.rooms.Load(room)
	if !ok {
		return
	}
	if ids.Delete(id) {
		a.events.Emit("leave-room", room, id)
	}
	if ids.Len() == 0 {
		if _, ok := a.rooms.LoadAndDelete(room); ok {
			a.events.Emit("delete-room", room)
		}
	}
}

func (a *inMemoryAdapter) DelAll(id SocketId) {
	rooms, ok := a.sids.Load(id)
	if !ok {
		return
	}
	for _, room := range rooms.Keys() {
		a.delFromRoom(room, id)
	}
	a.sids.Delete(id)
}

func (a *inMemoryAdapter) Sockets(include *types.Set[Room]) *types.Set[SocketId] {
	ids := types.NewSet[SocketId]()
	a.Apply(&BroadcastOptions{Rooms: include}, func(s *Socket) {
		ids.Add(s.Id())
	})
	return ids
}

func (a *inMemoryAdapter) SocketRooms(id SocketId) *types.Set[Room] {
	if rooms, ok := a.sids.Load(id); ok {
		return rooms
	}
	return nil
}

func (a *inMemoryAdapter) Rooms() []Room {
	return a.rooms.Keys()
}

func (a *inMemoryAdapter) computeExceptSids(exceptRooms *types.Set[Room]) *types.Set[SocketId] {
	except := types.NewSet[SocketId]()
	if exceptRooms == nil || exceptRooms.Len() == 0 {
		return except
	}
	for _, room := range exceptRooms.Keys() {
		if ids, ok := a.rooms.Load(room); ok {
			except.Add(ids.Keys()...)
		}
	}
	return except
}

// Apply resolves candidates = sockets(include) \ union(rooms[r] for r in
// exclude), snapshotted at call time, and invokes fn for each one still
// present in the namespace (spec.md §4.4, §5, §8's selector algebra).
func (a *inMemoryAdapter) Apply(opts *BroadcastOptions, fn func(*Socket)) {
	if opts == nil {
		opts = &BroadcastOptions{}
	}
	except := a.computeExceptSids(opts.Except)

	if opts.Rooms != nil && opts.Rooms.Len() > 0 {
		seen := types.NewSet[SocketId]()
		for _, room := range opts.Rooms.Keys() {
			ids, ok := a.rooms.Load(room)
			if !ok {
				continue
			}
			for _, id := range ids.Keys() {
				if seen.Has(id) || except.Has(id) {
					continue
				}
				if s, ok := a.nsp.loadSocket(id); ok {
					fn(s)
					seen.Add(id)
				}
			}
		}
		return
	}

	a.sids.Range(func(id SocketId, _ *types.Set[Room]) bool {
		if except.Has(id) {
			return true
		}
		if s, ok := a.nsp.loadSocket(id); ok {
			fn(s)
		}
		return true
	})
}
