package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang/glog"

	"github.com/bringyour/sharedoc/ot"
)

var ErrMissingVersion = errors.New("Missing version in ingested data.")
var ErrUnexpectedVersion = errors.New("Unexpected version from server.")
var ErrUnknownAction = errors.New("Unknown action.")
var ErrNotCreated = errors.New("Document has not been created.")
var ErrAlreadyCreated = errors.New("Document already exists.")
var ErrMissingType = errors.New("Missing type.")

type DocState string

const (
	// uncreated or unknown on the server
	DocStateNone DocState = ""
	// created locally, not yet acknowledged
	DocStateFloating DocState = "floating"
	DocStateReady    DocState = "ready"
)

// SnapshotData hydrates a document.
// `Data` is either a decoded snapshot or a `json.RawMessage` decoded with the type.
type SnapshotData struct {
	Version *int64
	// type name or uri. Empty if the document does not exist.
	Type string
	Data any
}

// called once with the result of the request
type OpCallback func(err error)

type DocReadyFunction func()

// `local` is true for ops submitted on this connection
type DocOpFunction func(op any, local bool)

type DocCreateFunction func(local bool)

// `previous` is the snapshot before the delete
type DocDelFunction func(local bool, previous any)

// an op submitted locally, with the callbacks of all ops composed into it
type opEntry struct {
	opData    *ot.OpData
	callbacks []OpCallback

	// assigned on first send, then fixed so that resends are deduplicated
	src string
	seq uint64

	sent    bool
	sentAt  time.Time
	retries int
}

func (self *opEntry) complete(err error) {
	for _, callback := range self.callbacks {
		HandleError(func() {
			callback(err)
		})
	}
	self.callbacks = nil
}

// Doc is one (collection, name) document. Docs are created with `Connection.Get`.
// At most one op is in flight to the server. Later local ops are composed into the
// newest unsent op where possible, otherwise queued.
type Doc struct {
	connection *Connection
	collection string
	name       string

	version    int64
	hasVersion bool
	snapshot   any
	otType     ot.Type
	state      DocState

	// the outstanding slot
	inflight *opEntry
	pending  []*opEntry

	wantSubscribe      bool
	subscribed         bool
	subscribeRequested bool
	fetchRequested     bool

	subscribeCallbacks      []OpCallback
	unsubscribeCallbacks    []OpCallback
	fetchCallbacks          []OpCallback
	nothingPendingCallbacks []func()

	contexts []Context

	readyCallbacks  *CallbackList[DocReadyFunction]
	opCallbacks     *CallbackList[DocOpFunction]
	createCallbacks *CallbackList[DocCreateFunction]
	delCallbacks    *CallbackList[DocDelFunction]
	errorCallbacks  *CallbackList[ErrorFunction]
}

func newDoc(connection *Connection, collection string, name string) *Doc {
	return &Doc{
		connection:      connection,
		collection:      collection,
		name:            name,
		readyCallbacks:  NewCallbackList[DocReadyFunction](),
		opCallbacks:     NewCallbackList[DocOpFunction](),
		createCallbacks: NewCallbackList[DocCreateFunction](),
		delCallbacks:    NewCallbackList[DocDelFunction](),
		errorCallbacks:  NewCallbackList[ErrorFunction](),
	}
}

func (self *Doc) String() string {
	return fmt.Sprintf("%s/%s", self.collection, self.name)
}

func (self *Doc) Connection() *Connection {
	return self.connection
}

func (self *Doc) Collection() string {
	return self.collection
}

func (self *Doc) Name() string {
	return self.name
}

// returns false while the version is unknown
func (self *Doc) Version() (int64, bool) {
	return self.version, self.hasVersion
}

func (self *Doc) Snapshot() any {
	return self.snapshot
}

// nil if the document does not exist
func (self *Doc) Type() ot.Type {
	return self.otType
}

func (self *Doc) State() DocState {
	return self.state
}

func (self *Doc) Subscribed() bool {
	return self.subscribed
}

// true while the outstanding slot or the pending queue is non-empty
func (self *Doc) HasPending() bool {
	return self.inflight != nil || 0 < len(self.pending)
}

func (self *Doc) OnReady(callback DocReadyFunction) func() {
	return self.readyCallbacks.Add(callback)
}

func (self *Doc) OnOp(callback DocOpFunction) func() {
	return self.opCallbacks.Add(callback)
}

func (self *Doc) OnCreate(callback DocCreateFunction) func() {
	return self.createCallbacks.Add(callback)
}

func (self *Doc) OnDel(callback DocDelFunction) func() {
	return self.delCallbacks.Add(callback)
}

func (self *Doc) OnError(callback ErrorFunction) func() {
	return self.errorCallbacks.Add(callback)
}

func (self *Doc) emitReady() {
	for _, callback := range self.readyCallbacks.Get() {
		HandleError(callback)
	}
}

func (self *Doc) emitError(err error) {
	for _, callback := range self.errorCallbacks.Get() {
		HandleError(func() {
			callback(err)
		})
	}
}

func (self *Doc) versionPtr() *int64 {
	if !self.hasVersion {
		return nil
	}
	return int64Ptr(self.version)
}

// IngestData hydrates the document from a fetched snapshot.
// A document that already has a state, or a snapshot older than the known version,
// keeps its current state.
func (self *Doc) IngestData(data *SnapshotData) error {
	if data == nil || data.Version == nil {
		return fmt.Errorf("%w %s", ErrMissingVersion, self)
	}
	if self.state != DocStateNone {
		glog.V(LogLevelTrace).Infof("[d]%s ignore ingest at %d in state %s\n", self, *data.Version, self.state)
		return nil
	}
	if self.hasVersion && *data.Version < self.version {
		glog.V(LogLevelTrace).Infof("[d]%s ignore stale ingest at %d < %d\n", self, *data.Version, self.version)
		return nil
	}

	var t ot.Type
	var snapshot any
	if data.Type != "" {
		var err error
		t, err = self.connection.registry.Require(data.Type)
		if err != nil {
			return err
		}
		snapshot = data.Data
		if raw, ok := snapshot.(json.RawMessage); ok {
			snapshot, err = t.DecodeSnapshot(raw)
			if err != nil {
				return err
			}
		}
	}

	self.version = *data.Version
	self.hasVersion = true
	self.setType(t)
	self.snapshot = snapshot
	self.state = DocStateReady
	glog.V(LogLevelLifecycle).Infof("[d]%s ready at %d\n", self, self.version)
	self.emitReady()
	return nil
}

func (self *Doc) ingestSnapshotMessage(snapshot *SnapshotMessage) error {
	return self.IngestData(&SnapshotData{
		Version: snapshot.Version,
		Type:    snapshot.Type,
		Data:    snapshot.Data,
	})
}

func (self *Doc) setType(t ot.Type) {
	if self.otType == t {
		return
	}
	// contexts are bound to the capability of the old type
	self.removeContexts()
	self.otType = t
}

// Subscribe fetches the document and receives its ops until `Unsubscribe`.
// The subscription is restored after a reconnect.
func (self *Doc) Subscribe(callback OpCallback) {
	self.wantSubscribe = true
	if self.subscribed {
		if callback != nil {
			HandleError(func() {
				callback(nil)
			})
		}
		return
	}
	if callback != nil {
		self.subscribeCallbacks = append(self.subscribeCallbacks, callback)
	}
	self.sendSubscribe()
}

func (self *Doc) sendSubscribe() {
	if !self.connection.CanSend() || self.subscribeRequested || self.subscribed {
		return
	}
	self.subscribeRequested = true
	if err := self.connection.sendSubscribe(self.collection, self.name, self.versionPtr()); err != nil {
		glog.V(LogLevelLifecycle).Infof("[d]%s subscribe error = %s\n", self, err)
		self.subscribeRequested = false
	}
}

func (self *Doc) Unsubscribe(callback OpCallback) {
	self.wantSubscribe = false
	if callback != nil {
		self.unsubscribeCallbacks = append(self.unsubscribeCallbacks, callback)
	}
	if !self.subscribed && !self.subscribeRequested {
		self.completeUnsubscribe(nil)
		return
	}
	if self.subscribed && self.connection.CanSend() {
		self.sendUnsubscribe()
	}
	// an in flight subscribe is followed by an unsubscribe when it completes
}

func (self *Doc) sendUnsubscribe() {
	if err := self.connection.send(&Message{
		Action:     ActionUnsubscribe,
		Collection: self.collection,
		DocName:    self.name,
	}); err != nil {
		glog.V(LogLevelLifecycle).Infof("[d]%s unsubscribe error = %s\n", self, err)
	}
}

func (self *Doc) completeUnsubscribe(err error) {
	callbacks := self.unsubscribeCallbacks
	self.unsubscribeCallbacks = nil
	for _, callback := range callbacks {
		HandleError(func() {
			callback(err)
		})
	}
}

// Fetch requests the current snapshot once.
func (self *Doc) Fetch(callback OpCallback) {
	if callback != nil {
		self.fetchCallbacks = append(self.fetchCallbacks, callback)
	}
	self.sendFetch()
}

func (self *Doc) sendFetch() {
	if !self.connection.CanSend() || self.fetchRequested {
		return
	}
	self.fetchRequested = true
	if err := self.connection.send(&Message{
		Action:     ActionFetch,
		Collection: self.collection,
		DocName:    self.name,
		Version:    self.versionPtr(),
	}); err != nil {
		glog.V(LogLevelLifecycle).Infof("[d]%s fetch error = %s\n", self, err)
		self.fetchRequested = false
	}
}

func (self *Doc) onConnectionStateChanged(state ConnectionState, reason string, skipSubscribe bool) {
	if !state.IsOpen() {
		// requests in flight are lost with the socket
		self.subscribed = false
		self.subscribeRequested = false
		self.fetchRequested = false
		if self.inflight != nil {
			// resent on reconnect with the same src and seq
			self.inflight.sent = false
		}
		if !self.wantSubscribe {
			self.completeUnsubscribe(nil)
		}
		return
	}

	if !self.connection.CanSend() {
		return
	}
	if self.wantSubscribe && !skipSubscribe {
		self.sendSubscribe()
	}
	if 0 < len(self.fetchCallbacks) {
		self.sendFetch()
	}
	self.flush()
}

// marks the document subscribed by a subscribe query
func (self *Doc) markSubscribed() {
	self.wantSubscribe = true
	self.subscribed = true
	self.subscribeRequested = false
}

// handleSubscribe handles a `sub` response or one bulk subscribe element.
// `snapshot` is nil when the server has no new data for the subscribed version.
func (self *Doc) handleSubscribe(err error, snapshot *SnapshotMessage) error {
	self.subscribeRequested = false
	callbacks := self.subscribeCallbacks
	self.subscribeCallbacks = nil
	complete := func(err error) {
		for _, callback := range callbacks {
			HandleError(func() {
				callback(err)
			})
		}
	}

	if err != nil {
		glog.Infof("[d]%s subscribe error = %s\n", self, err)
		self.emitError(err)
		complete(err)
		return nil
	}

	self.subscribed = true
	var ingestErr error
	if snapshot != nil {
		ingestErr = self.ingestSnapshotMessage(snapshot)
	}
	complete(ingestErr)

	if !self.wantSubscribe && self.connection.CanSend() {
		// unsubscribed while the subscribe was in flight
		self.sendUnsubscribe()
	}
	return ingestErr
}

func (self *Doc) handleFetch(err error, snapshot *SnapshotMessage) error {
	self.fetchRequested = false
	callbacks := self.fetchCallbacks
	self.fetchCallbacks = nil

	var ingestErr error
	if err == nil && snapshot != nil {
		ingestErr = self.ingestSnapshotMessage(snapshot)
		err = ingestErr
	}
	if err != nil {
		self.emitError(err)
	}
	for _, callback := range callbacks {
		HandleError(func() {
			callback(err)
		})
	}
	return ingestErr
}

func (self *Doc) handleUnsubscribe(err error) error {
	if err == nil {
		self.subscribed = false
	}
	self.completeUnsubscribe(err)
	return nil
}

func (self *Doc) onMessage(message *Message) error {
	switch message.Action {
	case ActionFetch, ActionSubscribe:
		var snapshot *SnapshotMessage
		if !isNullJson(message.Data) {
			snapshot = &SnapshotMessage{}
			if err := json.Unmarshal(message.Data, snapshot); err != nil {
				return err
			}
		}
		if message.Action == ActionFetch {
			return self.handleFetch(message.Err(), snapshot)
		}
		return self.handleSubscribe(message.Err(), snapshot)

	case ActionUnsubscribe:
		return self.handleUnsubscribe(message.Err())

	case ActionAck:
		if err := message.Err(); err != nil {
			if self.inflight != nil && self.inflight.sent {
				self.rollback(err)
			} else {
				self.emitError(err)
			}
			return nil
		}
		if self.inflight == nil || !self.inflight.sent {
			glog.Infof("[d]%s ack with nothing in flight\n", self)
			return nil
		}
		return self.opAcknowledged(message)

	case ActionOp:
		if err := message.Err(); err != nil {
			if self.isAck(message) {
				self.rollback(err)
			} else {
				self.emitError(err)
			}
			return nil
		}
		if self.isAck(message) {
			return self.opAcknowledged(message)
		}
		return self.handleRemoteOp(message)

	default:
		return fmt.Errorf("%w %q for %s", ErrUnknownAction, message.Action, self)
	}
}

// an op message echoing the outstanding op
func (self *Doc) isAck(message *Message) bool {
	entry := self.inflight
	if entry == nil || !entry.sent || message.Seq == 0 || message.Seq != entry.seq {
		return false
	}
	if entry.src == "" {
		// sent before the client id was known
		return message.Src == self.connection.ClientId()
	}
	return message.Src == entry.src
}

func (self *Doc) opAcknowledged(message *Message) error {
	entry := self.inflight
	if self.state == DocStateFloating {
		if entry.opData.Create == nil {
			return fmt.Errorf("%w ack of %s for floating %s", ot.ErrInvalidState, entry.opData, self)
		}
		if message.Version != nil {
			self.version = *message.Version
			self.hasVersion = true
		}
		self.state = DocStateReady
		self.emitReady()
	} else if message.Version != nil && self.hasVersion && *message.Version != self.version {
		return fmt.Errorf("%w ack at %d, expected %d for %s", ErrUnexpectedVersion, *message.Version, self.version, self)
	}
	if !self.hasVersion && message.Version != nil {
		self.version = *message.Version
		self.hasVersion = true
	}
	self.version += 1

	self.inflight = nil
	opsAcked.Inc()
	glog.V(LogLevelTrace).Infof("[d]%s ack seq %d now at %d\n", self, entry.seq, self.version)
	entry.complete(nil)
	self.flush()
	return nil
}

// rollback discards the local ops after the server rejected the outstanding op.
// The snapshot includes the rejected edits, so it is reloaded from the server.
func (self *Doc) rollback(err error) {
	glog.Infof("[d]%s op rejected = %s\n", self, err)
	entries := []*opEntry{}
	if self.inflight != nil {
		entries = append(entries, self.inflight)
	}
	entries = append(entries, self.pending...)
	self.inflight = nil
	self.pending = nil

	self.version = 0
	self.hasVersion = false
	self.snapshot = nil
	self.state = DocStateNone
	self.setType(nil)

	self.emitError(err)
	for _, entry := range entries {
		entry.complete(err)
	}
	self.Fetch(nil)
	self.checkNothingPending()
}

func (self *Doc) handleRemoteOp(message *Message) error {
	if message.Version == nil {
		return fmt.Errorf("%w op without a version for %s", ErrUnexpectedVersion, self)
	}
	if !self.hasVersion {
		// not hydrated. A later snapshot includes this op.
		glog.V(LogLevelTrace).Infof("[d]%s ignore op at %d before hydrate\n", self, *message.Version)
		return nil
	}
	v := *message.Version
	if v < self.version {
		// already applied
		glog.V(LogLevelTrace).Infof("[d]%s ignore old op at %d < %d\n", self, v, self.version)
		return nil
	}
	if self.version < v {
		return fmt.Errorf("%w op at %d, expected %d for %s", ErrUnexpectedVersion, v, self.version, self)
	}

	remote, err := self.decodeRemoteOp(message)
	if err != nil {
		return err
	}

	// local ops are rebased on copies and committed only once the remote op applies
	var inflight *ot.OpData
	if self.inflight != nil {
		inflight = self.inflight.opData.Clone()
		if err := self.transformLocal(inflight, remote); err != nil {
			return err
		}
	}
	pending := make([]*ot.OpData, len(self.pending))
	for i, entry := range self.pending {
		pending[i] = entry.opData.Clone()
		if err := self.transformLocal(pending[i], remote); err != nil {
			return err
		}
	}

	previous, err := self.applySnapshot(remote)
	if err != nil {
		return err
	}

	if self.inflight != nil {
		self.commitLocal(self.inflight, inflight)
	}
	for i, entry := range self.pending {
		self.commitLocal(entry, pending[i])
	}
	self.version += 1

	self.emitApplied(remote, nil, false, previous)
	remoteOpsApplied.Inc()
	glog.V(LogLevelTrace).Infof("[d]%s applied %s now at %d\n", self, remote, self.version)
	return nil
}

func (self *Doc) transformLocal(local *ot.OpData, remote *ot.OpData) error {
	if err := ot.Transform(local, remote); err != nil {
		return fmt.Errorf("%w for %s", err, self)
	}
	return nil
}

func (self *Doc) commitLocal(entry *opEntry, opData *ot.OpData) {
	if !ot.IsNoOp(entry.opData) && ot.IsNoOp(opData) {
		opsDiscarded.Inc()
	}
	entry.opData = opData
}

func (self *Doc) decodeRemoteOp(message *Message) (*ot.OpData, error) {
	switch {
	case message.Create != nil:
		t, err := self.connection.registry.Require(message.Create.Type)
		if err != nil {
			return nil, err
		}
		var data any
		if !isNullJson(message.Create.Data) {
			data, err = t.DecodeSnapshot(message.Create.Data)
			if err != nil {
				return nil, err
			}
		}
		return &ot.OpData{
			Create: &ot.CreateData{
				Type: message.Create.Type,
				Data: data,
			},
			Type: t,
		}, nil
	case message.Del:
		return &ot.OpData{
			Del:  true,
			Type: self.otType,
		}, nil
	case !isNullJson(message.Op):
		t := self.otType
		if self.inflight != nil && self.inflight.opData.Type != nil && self.inflight.opData.Create == nil {
			// a local delete clears the type before the server sees it
			t = self.inflight.opData.Type
		}
		if t == nil {
			return nil, fmt.Errorf("%w %s", ErrMissingType, self)
		}
		op, err := t.DecodeOp(message.Op)
		if err != nil {
			return nil, err
		}
		return &ot.OpData{
			Op:   op,
			Type: t,
		}, nil
	default:
		// a no-op. The version still advances.
		return &ot.OpData{
			Type: self.otType,
		}, nil
	}
}

// otApply applies an envelope to the snapshot and dispatches it to the contexts.
// `origin` is the context that submitted a local op, if any.
func (self *Doc) otApply(opData *ot.OpData, origin Context, local bool) error {
	previous, err := self.applySnapshot(opData)
	if err != nil {
		return err
	}
	self.emitApplied(opData, origin, local, previous)
	return nil
}

// applySnapshot moves the type and snapshot past `opData` and returns the old snapshot.
// Nothing changes on error.
func (self *Doc) applySnapshot(opData *ot.OpData) (any, error) {
	previous := self.snapshot
	switch {
	case opData.Create != nil:
		t := opData.Type
		if t == nil {
			var err error
			t, err = self.connection.registry.Require(opData.Create.Type)
			if err != nil {
				return nil, err
			}
		}
		snapshot, err := t.Create(opData.Create.Data)
		if err != nil {
			return nil, err
		}
		self.setType(t)
		self.snapshot = snapshot

	case opData.Del:
		self.setType(nil)
		self.snapshot = nil

	case opData.Op != nil:
		if self.otType == nil {
			return nil, fmt.Errorf("%w %s", ErrNotCreated, self)
		}
		snapshot, err := self.otType.Apply(self.snapshot, opData.Op)
		if err != nil {
			return nil, err
		}
		self.snapshot = snapshot
	}
	return previous, nil
}

func (self *Doc) emitApplied(opData *ot.OpData, origin Context, local bool, previous any) {
	switch {
	case opData.Create != nil:
		for _, callback := range self.createCallbacks.Get() {
			HandleError(func() {
				callback(local)
			})
		}

	case opData.Del:
		for _, callback := range self.delCallbacks.Get() {
			HandleError(func() {
				callback(local, previous)
			})
		}

	case opData.Op != nil:
		contexts := self.contexts
		for _, context := range contexts {
			context.onOp(opData.Op, origin != nil && context == origin)
		}
		// destroyed contexts are dropped after they see one more op
		nextContexts := make([]Context, 0, len(self.contexts))
		for _, context := range self.contexts {
			if !context.ShouldRemove() {
				nextContexts = append(nextContexts, context)
			}
		}
		self.contexts = nextContexts

		for _, callback := range self.opCallbacks.Get() {
			HandleError(func() {
				callback(opData.Op, local)
			})
		}
	}
}

// SubmitOp applies `op` locally and sends it. `origin` is the submitting context, or nil.
func (self *Doc) SubmitOp(op any, origin Context, callback OpCallback) error {
	if self.otType == nil {
		return fmt.Errorf("%w %s", ErrNotCreated, self)
	}
	return self.submitOpData(&ot.OpData{
		Op:   op,
		Type: self.otType,
	}, origin, callback)
}

// Create creates the document with the named type. Until acknowledged a new document is floating.
func (self *Doc) Create(typeName string, data any, callback OpCallback) error {
	if self.otType != nil {
		return fmt.Errorf("%w %s", ErrAlreadyCreated, self)
	}
	t, err := self.connection.registry.Require(typeName)
	if err != nil {
		return err
	}
	wireName := t.URI()
	if wireName == "" {
		wireName = t.Name()
	}
	if self.state == DocStateNone {
		self.state = DocStateFloating
	}
	return self.submitOpData(&ot.OpData{
		Create: &ot.CreateData{
			Type: wireName,
			Data: data,
		},
		Type: t,
	}, nil, callback)
}

func (self *Doc) Del(callback OpCallback) error {
	if self.otType == nil {
		return fmt.Errorf("%w %s", ErrNotCreated, self)
	}
	return self.submitOpData(&ot.OpData{
		Del:  true,
		Type: self.otType,
	}, nil, callback)
}

func (self *Doc) submitOpData(opData *ot.OpData, origin Context, callback OpCallback) error {
	if err := self.otApply(opData, origin, true); err != nil {
		return err
	}
	opsSubmitted.Inc()

	entry := &opEntry{
		opData: opData,
	}
	if callback != nil {
		entry.callbacks = append(entry.callbacks, callback)
	}

	if self.inflight == nil && len(self.pending) == 0 {
		self.inflight = entry
	} else if !self.tryCompose(entry) {
		self.pending = append(self.pending, entry)
	}
	self.flush()
	return nil
}

// folds `entry` into the newest op that has not been sent
func (self *Doc) tryCompose(entry *opEntry) bool {
	var target *opEntry
	if n := len(self.pending); 0 < n {
		target = self.pending[n-1]
	} else if self.inflight != nil && !self.inflight.sent && self.inflight.seq == 0 {
		target = self.inflight
	}
	if target == nil {
		return false
	}
	t := target.opData.Type
	if t == nil {
		t = self.otType
	}
	composed, err := ot.TryCompose(t, target.opData, entry.opData)
	if err != nil {
		glog.Infof("[d]%s compose error = %s\n", self, err)
		return false
	}
	if composed {
		target.callbacks = append(target.callbacks, entry.callbacks...)
	}
	return composed
}

// flush promotes the next pending op into the slot and sends the slot if needed.
func (self *Doc) flush() {
	if self.connection.CanSend() {
		for {
			if self.inflight == nil {
				if len(self.pending) == 0 {
					break
				}
				self.inflight = self.pending[0]
				self.pending = self.pending[1:]
			}
			if self.inflight.sent {
				break
			}
			if ot.IsNoOp(self.inflight.opData) && self.inflight.seq == 0 {
				// composed or transformed away. Nothing to send.
				entry := self.inflight
				self.inflight = nil
				entry.complete(nil)
				continue
			}
			self.sendOpEntry(self.inflight)
			break
		}
	}
	self.checkNothingPending()
}

func (self *Doc) sendOpEntry(entry *opEntry) {
	if entry.seq == 0 {
		entry.src = self.connection.ClientId()
		entry.seq = self.connection.nextSeq()
	}

	message := &Message{
		Action:     ActionOp,
		Collection: self.collection,
		DocName:    self.name,
		Version:    self.versionPtr(),
		Src:        entry.src,
		Seq:        entry.seq,
	}
	opData := entry.opData
	switch {
	case opData.Create != nil:
		create := &CreateMessage{
			Type: opData.Create.Type,
		}
		if opData.Create.Data != nil {
			data, err := json.Marshal(opData.Create.Data)
			if err != nil {
				glog.Infof("[d]%s encode create error = %s\n", self, err)
				return
			}
			create.Data = data
		}
		message.Create = create
	case opData.Del:
		message.Del = true
	case opData.Op != nil:
		op, err := json.Marshal(opData.Op)
		if err != nil {
			glog.Infof("[d]%s encode op error = %s\n", self, err)
			return
		}
		message.Op = op
	}

	if err := self.connection.sendOp(message); err != nil {
		glog.V(LogLevelLifecycle).Infof("[d]%s send seq %d error = %s\n", self, entry.seq, err)
		return
	}
	entry.sent = true
	entry.sentAt = self.connection.scheduler.Now()
}

// Retry resends the outstanding op unchanged when it has gone unacknowledged for
// longer than the resend threshold. The threshold doubles with each resend.
func (self *Doc) Retry() {
	entry := self.inflight
	if entry == nil || !entry.sent || !self.connection.CanSend() {
		return
	}
	threshold := self.connection.settings.OpResendTimeout * time.Duration(1<<min(entry.retries, 16))
	if self.connection.scheduler.Now().Sub(entry.sentAt) < threshold {
		return
	}
	entry.retries += 1
	opsRetried.Inc()
	glog.V(LogLevelLifecycle).Infof("[d]%s retry seq %d (%d)\n", self, entry.seq, entry.retries)
	self.connection.emitRetry(self)
	self.sendOpEntry(entry)
}

// WhenNothingPending calls `callback` once the outstanding slot and the pending queue are empty.
func (self *Doc) WhenNothingPending(callback func()) {
	if !self.HasPending() {
		HandleError(callback)
		return
	}
	self.nothingPendingCallbacks = append(self.nothingPendingCallbacks, callback)
}

func (self *Doc) checkNothingPending() {
	if self.HasPending() || len(self.nothingPendingCallbacks) == 0 {
		return
	}
	callbacks := self.nothingPendingCallbacks
	self.nothingPendingCallbacks = nil
	for _, callback := range callbacks {
		HandleError(callback)
	}
}

// Destroy waits for pending ops, unsubscribes, and detaches the document from the connection.
func (self *Doc) Destroy(callback OpCallback) {
	self.WhenNothingPending(func() {
		finish := func(err error) {
			self.connection.destroyDoc(self)
			self.removeContexts()
			if callback != nil {
				HandleError(func() {
					callback(err)
				})
			}
		}
		if self.wantSubscribe || self.subscribed || self.subscribeRequested {
			self.Unsubscribe(finish)
		} else {
			finish(nil)
		}
	})
}

// CreateContext returns the editing context for the document's type capability.
func (self *Doc) CreateContext() (Context, error) {
	if self.otType == nil {
		return nil, fmt.Errorf("%w %s.", ErrMissingType, self)
	}
	var context Context
	switch self.otType.Capability() {
	case ot.CapabilityText:
		context = newTextContext(self)
	case ot.CapabilityJson:
		context = newJsonContext(self)
	default:
		context = newPlainContext(self)
	}
	self.contexts = append(self.contexts, context)
	return context, nil
}

func (self *Doc) CreateTextContext() (*TextContext, error) {
	context, err := self.CreateContext()
	if err != nil {
		return nil, err
	}
	textContext, ok := context.(*TextContext)
	if !ok {
		context.Destroy()
		return nil, fmt.Errorf("%w %s is %s", ErrCapability, self, self.otType.Name())
	}
	return textContext, nil
}

func (self *Doc) CreateJsonContext() (*JsonContext, error) {
	context, err := self.CreateContext()
	if err != nil {
		return nil, err
	}
	jsonContext, ok := context.(*JsonContext)
	if !ok {
		context.Destroy()
		return nil, fmt.Errorf("%w %s is %s", ErrCapability, self, self.otType.Name())
	}
	return jsonContext, nil
}

// destroys and drops all contexts immediately
func (self *Doc) removeContexts() {
	contexts := self.contexts
	self.contexts = nil
	for _, context := range contexts {
		context.Destroy()
	}
}
