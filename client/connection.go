package client

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang/glog"

	"github.com/bringyour/sharedoc/ot"
)

var ErrProtocolVersion = errors.New("Invalid protocol version.")
var ErrInvalidClientId = errors.New("Invalid client id.")

type ConnectionSettings struct {
	// the `protocol` value the server must send in `init`
	ProtocolVersion int
	// period of the outstanding op retry timer
	RetryInterval time.Duration
	// an outstanding op is resent when unacknowledged for this long,
	// doubling on each resend
	OpResendTimeout time.Duration
	// number of recent frames kept for diagnostics
	MessageBufferSize int
	// close reasons that stop the connection instead of waiting for a reconnect
	StopReasons []string
	// used when the socket does not carry messages directly
	Codec FrameCodec
}

func DefaultConnectionSettings() *ConnectionSettings {
	return &ConnectionSettings{
		ProtocolVersion:   0,
		RetryInterval:     1 * time.Second,
		OpResendTimeout:   5 * time.Second,
		MessageBufferSize: 100,
		StopReasons: []string{
			"Closed",
			"Stopped by server",
		},
		Codec: NewJsonFrameCodec(),
	}
}

type StateChangeFunction func(state ConnectionState, reason string)

type ErrorFunction func(err error)

type RetryFunction func(doc *Doc)

// Connection owns the socket, the session state, and the documents and queries
// opened through it.
//
// A connection and everything reachable from it is confined to one event loop:
// all socket handlers, scheduler callbacks, and api calls must run serially.
type Connection struct {
	socket    Socket
	scheduler Scheduler
	registry  *ot.Registry
	settings  *ConnectionSettings

	state    *connectionStateMachine
	clientId string
	canSend  bool
	// set by a local close. The next close stops the connection.
	localStop bool
	lastError error

	// next op sequence number. Monotonic for the life of the connection.
	seq         uint64
	nextQueryId uint64

	// collection -> doc name -> doc
	collections map[string]map[string]*Doc
	// query id -> query
	queries map[uint64]*Query

	lastReceivedCollection string
	lastReceivedDoc        string
	lastSentCollection     string
	lastSentDoc            string

	// non-nil while notifying documents of a state change
	opQueue *opQueue
	// non-nil while notifying documents of a state change.
	// collection -> doc name -> version
	subscribeData map[string]map[string]*int64

	cancelRetry   func()
	messageBuffer *messageBuffer

	stateChangeCallbacks     *CallbackList[StateChangeFunction]
	errorCallbacks           *CallbackList[ErrorFunction]
	connectionErrorCallbacks *CallbackList[ErrorFunction]
	retryCallbacks           *CallbackList[RetryFunction]
}

func NewConnectionWithDefaults(socket Socket, scheduler Scheduler, registry *ot.Registry) *Connection {
	return NewConnection(socket, scheduler, registry, DefaultConnectionSettings())
}

func NewConnection(
	socket Socket,
	scheduler Scheduler,
	registry *ot.Registry,
	settings *ConnectionSettings,
) *Connection {
	if registry == nil {
		registry = ot.NewDefaultRegistry()
	}
	if settings.Codec == nil {
		settings.Codec = NewJsonFrameCodec()
	}
	connection := &Connection{
		scheduler:                scheduler,
		registry:                 registry,
		settings:                 settings,
		seq:                      1,
		nextQueryId:              1,
		collections:              map[string]map[string]*Doc{},
		queries:                  map[uint64]*Query{},
		messageBuffer:            newMessageBuffer(settings.MessageBufferSize),
		stateChangeCallbacks:     NewCallbackList[StateChangeFunction](),
		errorCallbacks:           NewCallbackList[ErrorFunction](),
		connectionErrorCallbacks: NewCallbackList[ErrorFunction](),
		retryCallbacks:           NewCallbackList[RetryFunction](),
	}
	connection.BindToSocket(socket)
	return connection
}

// BindToSocket installs the socket handlers and infers the state from the ready state.
func (self *Connection) BindToSocket(socket Socket) {
	if self.socket != nil {
		self.socket.SetHandlers(nil)
	}
	self.socket = socket

	initial := ConnectionStateDisconnected
	switch socket.ReadyState() {
	case ReadyStateConnecting, ReadyStateOpen:
		initial = ConnectionStateConnecting
	}
	self.state = newConnectionStateMachine(initial)
	self.canSend = initial == ConnectionStateConnecting && socket.Capabilities().CanSendWhileConnecting
	self.setupRetry()

	socket.SetHandlers(&SocketHandlers{
		OnOpen:    self.handleOpen,
		OnClose:   self.handleClose,
		OnMessage: self.handleFrame,
		OnError:   self.handleSocketError,
	})
}

func (self *Connection) State() ConnectionState {
	return self.state.Current()
}

// assigned by the server in `init`. Empty while not connected.
func (self *Connection) ClientId() string {
	return self.clientId
}

func (self *Connection) CanSend() bool {
	return self.canSend
}

func (self *Connection) Registry() *ot.Registry {
	return self.registry
}

func (self *Connection) Settings() *ConnectionSettings {
	return self.settings
}

func (self *Connection) LastError() error {
	return self.lastError
}

// the most recent frames, oldest first
func (self *Connection) RecentMessages() []MessageRecord {
	return self.messageBuffer.list()
}

func (self *Connection) OnStateChange(callback StateChangeFunction) func() {
	return self.stateChangeCallbacks.Add(callback)
}

// errors raised while handling inbound frames
func (self *Connection) OnError(callback ErrorFunction) func() {
	return self.errorCallbacks.Add(callback)
}

// transport errors. These happen normally from time to time and are followed by a close.
func (self *Connection) OnConnectionError(callback ErrorFunction) func() {
	return self.connectionErrorCallbacks.Add(callback)
}

func (self *Connection) OnRetry(callback RetryFunction) func() {
	return self.retryCallbacks.Add(callback)
}

// Close closes the socket. The connection stops instead of waiting for a reconnect.
func (self *Connection) Close() error {
	self.localStop = true
	err := self.socket.Close()
	if self.State() == ConnectionStateDisconnected {
		if stateErr := self.setState(ConnectionStateStopped, "Closed"); stateErr != nil {
			return stateErr
		}
	}
	return err
}

func (self *Connection) handleOpen() {
	if err := self.setState(ConnectionStateConnecting, ""); err != nil {
		glog.Infof("[c]open error = %s\n", err)
		self.emitError(err)
	}
}

func (self *Connection) handleClose(reason string) {
	if self.State() == ConnectionStateStopped {
		// the socket close that follows a stop
		return
	}
	if err := self.setState(ConnectionStateDisconnected, reason); err != nil {
		glog.Infof("[c]close error = %s\n", err)
		self.emitError(err)
		return
	}
	if self.localStop || slices.Contains(self.settings.StopReasons, reason) {
		if err := self.setState(ConnectionStateStopped, reason); err != nil {
			glog.Infof("[c]stop error = %s\n", err)
			self.emitError(err)
		}
	}
}

func (self *Connection) handleSocketError(err error) {
	glog.V(LogLevelLifecycle).Infof("[c]socket error = %s\n", err)
	for _, callback := range self.connectionErrorCallbacks.Get() {
		HandleError(func() {
			callback(err)
		})
	}
}

// handleFrame processes one inbound frame. An error is emitted as an error event and returned.
func (self *Connection) handleFrame(frame Frame) error {
	message := frame.Message
	if message == nil {
		var err error
		message, err = self.settings.Codec.Decode(frame.Data)
		if err != nil {
			err = fmt.Errorf("Bad frame: %w", err)
			protocolErrors.Inc()
			self.lastError = err
			self.emitError(err)
			return err
		}
	}

	self.messageBuffer.add(MessageRecord{
		Time:      self.scheduler.Now(),
		Direction: MessageDirectionReceive,
		Message:   message.String(),
	})
	framesReceived.WithLabelValues(message.Action).Inc()
	glog.V(LogLevelTrace).Infof("[c]<- %s\n", message)

	if err := self.handleMessage(message); err != nil {
		protocolErrors.Inc()
		self.lastError = err
		glog.Infof("[c]<- %s error = %s\n", message, err)
		self.emitError(err)
		return err
	}
	return nil
}

func (self *Connection) emitError(err error) {
	for _, callback := range self.errorCallbacks.Get() {
		HandleError(func() {
			callback(err)
		})
	}
}

func (self *Connection) handleMessage(message *Message) error {
	switch message.Action {
	case ActionInit:
		if message.Protocol == nil || *message.Protocol != self.settings.ProtocolVersion {
			return ErrProtocolVersion
		}
		clientId, ok := message.ClientId()
		if !ok || clientId == "" {
			return ErrInvalidClientId
		}
		self.clientId = clientId
		return self.setState(ConnectionStateConnected, "")

	case ActionQueryFetch, ActionQuerySub, ActionQueryUpdate, ActionQueryUnsub:
		queryId, ok := message.QueryId()
		if !ok {
			return fmt.Errorf("%w: query message without an id", ErrUnknownAction)
		}
		if query, ok := self.queries[queryId]; ok {
			return query.onMessage(message)
		}
		glog.V(LogLevelTrace).Infof("[c]message for unknown query %d\n", queryId)
		return nil

	case ActionBulkSubscribe:
		for _, collection := range sortedKeys(message.Subscriptions) {
			elements := message.Subscriptions[collection]
			for _, name := range sortedKeys(elements) {
				doc, ok := self.GetExisting(collection, name)
				if !ok {
					glog.Infof("[c]bulk subscribe for unknown doc %s/%s. Ignoring.\n", collection, name)
					continue
				}
				element := elements[name]
				if 0 < len(element) && element[0] == '{' {
					var snapshot SnapshotMessage
					if err := json.Unmarshal(element, &snapshot); err != nil {
						return err
					}
					if err := doc.handleSubscribe(snapshot.Err(), &snapshot); err != nil {
						return err
					}
				} else {
					// resubscribed with no new data
					if err := doc.handleSubscribe(nil, nil); err != nil {
						return err
					}
				}
			}
		}
		return nil

	default:
		if message.DocName != "" {
			self.lastReceivedCollection = message.Collection
			self.lastReceivedDoc = message.DocName
		}
		doc, ok := self.GetExisting(self.lastReceivedCollection, self.lastReceivedDoc)
		if !ok {
			glog.V(LogLevelTrace).Infof("[c]message for unknown doc %s/%s\n", self.lastReceivedCollection, self.lastReceivedDoc)
			return nil
		}
		return doc.onMessage(message)
	}
}

func (self *Connection) reset() {
	self.clientId = ""
	self.lastReceivedCollection = ""
	self.lastReceivedDoc = ""
	self.lastSentCollection = ""
	self.lastSentDoc = ""
}

func (self *Connection) setupRetry() {
	if !self.canSend {
		if self.cancelRetry != nil {
			self.cancelRetry()
			self.cancelRetry = nil
		}
		return
	}
	if self.cancelRetry != nil {
		return
	}
	self.cancelRetry = self.scheduler.Every(self.settings.RetryInterval, self.retryDocs)
}

func (self *Connection) retryDocs() {
	for _, doc := range self.docList() {
		doc.Retry()
	}
}

func (self *Connection) emitRetry(doc *Doc) {
	for _, callback := range self.retryCallbacks.Get() {
		HandleError(func() {
			callback(doc)
		})
	}
}

// setState moves the state machine and notifies queries and documents.
// Ops sent by documents during the notification are replayed in `seq` order,
// and subscribes are batched into one bulk subscribe.
func (self *Connection) setState(state ConnectionState, reason string) error {
	from := self.State()
	if from == state {
		return nil
	}
	if err := self.state.Transition(state); err != nil {
		return err
	}
	stateTransitions.WithLabelValues(string(state)).Inc()
	glog.V(LogLevelLifecycle).Infof("[c]%s -> %s (%s)\n", from, state, reason)

	self.canSend = state == ConnectionStateConnected ||
		(state == ConnectionStateConnecting && self.socket.Capabilities().CanSendWhileConnecting)
	self.setupRetry()

	if state == ConnectionStateConnecting {
		// a new session
		self.localStop = false
	}
	if state == ConnectionStateDisconnected {
		self.reset()
	}
	if state == ConnectionStateStopped && !self.localStop {
		// stopped by the server. Do not reconnect.
		self.localStop = true
		if err := self.socket.Close(); err != nil {
			glog.V(LogLevelLifecycle).Infof("[c]close on stop error = %s\n", err)
		}
	}

	for _, callback := range self.stateChangeCallbacks.Get() {
		HandleError(func() {
			callback(state, reason)
		})
	}

	// docs in the results of subscribe queries are resubscribed by the query
	ignoreSubscribes := map[string]map[string]bool{}
	for _, queryId := range sortedKeys(self.queries) {
		query, ok := self.queries[queryId]
		if !ok {
			continue
		}
		query.onConnectionStateChanged(state, reason)
		if query.options.DocMode == DocModeSubscribe && state.IsOpen() {
			for _, doc := range query.results {
				collectionIgnores, ok := ignoreSubscribes[doc.collection]
				if !ok {
					collectionIgnores = map[string]bool{}
					ignoreSubscribes[doc.collection] = collectionIgnores
				}
				collectionIgnores[doc.name] = true
			}
		}
	}

	Trace(fmt.Sprintf("[c]docs %s", state), func() {
		self.opQueue = newOpQueue()
		self.bulkSubscribeStart()
		for _, doc := range self.docList() {
			doc.onConnectionStateChanged(state, reason, ignoreSubscribes[doc.collection][doc.name])
		}

		// an op with a higher seq must not reach the server before one with a lower seq
		opQueue := self.opQueue
		self.opQueue = nil
		for message := opQueue.RemoveFirst(); message != nil; message = opQueue.RemoveFirst() {
			if err := self.send(message); err != nil {
				glog.Infof("[c]replay error = %s\n", err)
			}
		}
		self.bulkSubscribeEnd()
	})
	return nil
}

func (self *Connection) nextSeq() uint64 {
	seq := self.seq
	self.seq += 1
	return seq
}

func (self *Connection) sendOp(message *Message) error {
	if self.opQueue != nil {
		self.opQueue.Add(message)
		return nil
	}
	return self.send(message)
}

func (self *Connection) bulkSubscribeStart() {
	self.subscribeData = map[string]map[string]*int64{}
}

func (self *Connection) bulkSubscribeEnd() {
	subscribeData := self.subscribeData
	self.subscribeData = nil
	if len(subscribeData) == 0 {
		return
	}

	subscriptions := map[string]map[string]json.RawMessage{}
	for collection, versions := range subscribeData {
		elements := map[string]json.RawMessage{}
		for name, version := range versions {
			if version == nil {
				elements[name] = json.RawMessage("null")
			} else {
				elements[name] = json.RawMessage(fmt.Sprintf("%d", *version))
			}
		}
		subscriptions[collection] = elements
	}
	if err := self.send(&Message{
		Action:        ActionBulkSubscribe,
		Subscriptions: subscriptions,
	}); err != nil {
		glog.Infof("[c]bulk subscribe error = %s\n", err)
	}
}

// batched into a bulk subscribe during a state change
func (self *Connection) sendSubscribe(collection string, name string, version *int64) error {
	if self.subscribeData != nil {
		versions, ok := self.subscribeData[collection]
		if !ok {
			versions = map[string]*int64{}
			self.subscribeData[collection] = versions
		}
		versions[name] = version
		return nil
	}
	return self.send(&Message{
		Action:     ActionSubscribe,
		Collection: collection,
		DocName:    name,
		Version:    version,
	})
}

func (self *Connection) send(message *Message) error {
	self.messageBuffer.add(MessageRecord{
		Time:      self.scheduler.Now(),
		Direction: MessageDirectionSend,
		Message:   message.String(),
	})

	collapsed := false
	if message.DocName != "" &&
		message.Collection == self.lastSentCollection &&
		message.DocName == self.lastSentDoc {
		message_ := *message
		message_.Collection = ""
		message_.DocName = ""
		message = &message_
		collapsed = true
	}

	var err error
	if self.socket.Capabilities().CanSendJSON {
		err = self.socket.Send(Frame{Message: message})
	} else {
		var data []byte
		data, err = self.settings.Codec.Encode(message)
		if err == nil {
			err = self.socket.Send(Frame{Data: data})
		}
	}
	if err != nil {
		glog.V(LogLevelLifecycle).Infof("[c]-> %s error = %s\n", message, err)
		return err
	}

	if message.DocName != "" && !collapsed {
		self.lastSentCollection = message.Collection
		self.lastSentDoc = message.DocName
	}
	framesSent.WithLabelValues(message.Action).Inc()
	glog.V(LogLevelTrace).Infof("[c]-> %s\n", message)
	return nil
}

func (self *Connection) GetExisting(collection string, name string) (*Doc, bool) {
	docs, ok := self.collections[collection]
	if !ok {
		return nil, false
	}
	doc, ok := docs[name]
	return doc, ok
}

// Get returns the one doc for (collection, name), creating it on first use.
func (self *Connection) Get(collection string, name string) *Doc {
	docs, ok := self.collections[collection]
	if !ok {
		docs = map[string]*Doc{}
		self.collections[collection] = docs
	}
	doc, ok := docs[name]
	if !ok {
		doc = newDoc(self, collection, name)
		docs[name] = doc
	}
	return doc
}

// GetWithData is `Get`, hydrating the doc with `data` if it has no state yet.
func (self *Connection) GetWithData(collection string, name string, data *SnapshotData) (*Doc, error) {
	doc := self.Get(collection, name)
	if data != nil && doc.State() == DocStateNone {
		if err := doc.IngestData(data); err != nil {
			return doc, err
		}
	}
	return doc, nil
}

// documents in (collection, name) order
func (self *Connection) docList() []*Doc {
	docs := []*Doc{}
	for _, collection := range sortedKeys(self.collections) {
		collectionDocs := self.collections[collection]
		for _, name := range sortedKeys(collectionDocs) {
			docs = append(docs, collectionDocs[name])
		}
	}
	return docs
}

func (self *Connection) destroyDoc(doc *Doc) {
	docs, ok := self.collections[doc.collection]
	if !ok {
		return
	}
	if docs[doc.name] == doc {
		delete(docs, doc.name)
	}
	if len(docs) == 0 {
		delete(self.collections, doc.collection)
	}
}

// CreateFetchQuery runs a query once. The callback receives the result docs.
func (self *Connection) CreateFetchQuery(
	collection string,
	q any,
	options *QueryOptions,
	callback QueryResultsFunction,
) (*Query, error) {
	return self.createQuery(QueryKindFetch, collection, q, options, callback)
}

// CreateSubscribeQuery runs a query and keeps its results current.
func (self *Connection) CreateSubscribeQuery(
	collection string,
	q any,
	options *QueryOptions,
	callback QueryResultsFunction,
) (*Query, error) {
	return self.createQuery(QueryKindSubscribe, collection, q, options, callback)
}

func (self *Connection) createQuery(
	kind QueryKind,
	collection string,
	q any,
	options *QueryOptions,
	callback QueryResultsFunction,
) (*Query, error) {
	if options == nil {
		options = &QueryOptions{}
	}
	queryJson, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	id := self.nextQueryId
	self.nextQueryId += 1
	query := newQuery(self, kind, id, collection, queryJson, options, callback)
	self.queries[id] = query
	if err := query.execute(); err != nil {
		return query, err
	}
	return query, nil
}

func (self *Connection) destroyQuery(query *Query) {
	delete(self.queries, query.id)
}
