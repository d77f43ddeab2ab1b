package client

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/golang/glog"
)

var ErrQueryDiff = errors.New("Query diff out of range.")

type QueryKind string

const (
	QueryKindFetch     QueryKind = "fetch"
	QueryKindSubscribe QueryKind = "sub"
)

// how result documents are hydrated
type DocMode string

const (
	DocModeNone      DocMode = ""
	DocModeFetch     DocMode = "fetch"
	DocModeSubscribe DocMode = "sub"
)

type QueryOptions struct {
	DocMode DocMode
	// nil leaves polling to the server
	Poll    *bool
	Backend string
	// documents the client already has. Their versions are sent so that the server
	// can skip unchanged snapshots.
	KnownResults []*Doc
}

// called once with the initial results
type QueryResultsFunction func(err error, results []*Doc, extra json.RawMessage)

type QueryInsertFunction func(docs []*Doc, index int)

type QueryRemoveFunction func(docs []*Doc, index int)

type QueryMoveFunction func(docs []*Doc, from int, to int)

type QueryChangeFunction func(results []*Doc)

type QueryExtraFunction func(extra json.RawMessage)

// Query is a server side query over one collection.
// A subscribe query keeps its results current through diffs.
type Query struct {
	connection *Connection
	kind       QueryKind
	id         uint64
	collection string
	query      json.RawMessage
	options    *QueryOptions
	callback   QueryResultsFunction

	results []*Doc
	extra   json.RawMessage
	ready   bool
	sent    bool

	insertCallbacks *CallbackList[QueryInsertFunction]
	removeCallbacks *CallbackList[QueryRemoveFunction]
	moveCallbacks   *CallbackList[QueryMoveFunction]
	changeCallbacks *CallbackList[QueryChangeFunction]
	extraCallbacks  *CallbackList[QueryExtraFunction]
	errorCallbacks  *CallbackList[ErrorFunction]

	log LogFunction
}

func newQuery(
	connection *Connection,
	kind QueryKind,
	id uint64,
	collection string,
	query json.RawMessage,
	options *QueryOptions,
	callback QueryResultsFunction,
) *Query {
	return &Query{
		connection:      connection,
		kind:            kind,
		id:              id,
		collection:      collection,
		query:           query,
		options:         options,
		callback:        callback,
		results:         []*Doc{},
		insertCallbacks: NewCallbackList[QueryInsertFunction](),
		removeCallbacks: NewCallbackList[QueryRemoveFunction](),
		moveCallbacks:   NewCallbackList[QueryMoveFunction](),
		changeCallbacks: NewCallbackList[QueryChangeFunction](),
		extraCallbacks:  NewCallbackList[QueryExtraFunction](),
		errorCallbacks:  NewCallbackList[ErrorFunction](),
		log:             SubLogFn(LogLevelLifecycle, LogFn(LogLevelLifecycle, "q"), fmt.Sprintf("%d %s", id, collection)),
	}
}

func (self *Query) Id() uint64 {
	return self.id
}

func (self *Query) Kind() QueryKind {
	return self.kind
}

func (self *Query) Collection() string {
	return self.collection
}

func (self *Query) Results() []*Doc {
	return slices.Clone(self.results)
}

func (self *Query) Extra() json.RawMessage {
	return self.extra
}

// true once the first results arrived
func (self *Query) Ready() bool {
	return self.ready
}

func (self *Query) OnInsert(callback QueryInsertFunction) func() {
	return self.insertCallbacks.Add(callback)
}

func (self *Query) OnRemove(callback QueryRemoveFunction) func() {
	return self.removeCallbacks.Add(callback)
}

func (self *Query) OnMove(callback QueryMoveFunction) func() {
	return self.moveCallbacks.Add(callback)
}

func (self *Query) OnChange(callback QueryChangeFunction) func() {
	return self.changeCallbacks.Add(callback)
}

func (self *Query) OnExtra(callback QueryExtraFunction) func() {
	return self.extraCallbacks.Add(callback)
}

func (self *Query) OnError(callback ErrorFunction) func() {
	return self.errorCallbacks.Add(callback)
}

func (self *Query) idJson() json.RawMessage {
	return json.RawMessage(strconv.FormatUint(self.id, 10))
}

func (self *Query) execute() error {
	if !self.connection.CanSend() || self.sent {
		return nil
	}

	action := ActionQueryFetch
	if self.kind == QueryKindSubscribe {
		action = ActionQuerySub
	}
	options := map[string]any{}
	if self.options.DocMode != DocModeNone {
		options["docMode"] = string(self.options.DocMode)
	}
	if self.options.Poll != nil {
		options["poll"] = *self.options.Poll
	}
	if self.options.Backend != "" {
		options["backend"] = self.options.Backend
	}
	if 0 < len(self.options.KnownResults) {
		versions := map[string]map[string]int64{}
		for _, doc := range self.options.KnownResults {
			version, ok := doc.Version()
			if !ok {
				continue
			}
			collectionVersions, ok := versions[doc.collection]
			if !ok {
				collectionVersions = map[string]int64{}
				versions[doc.collection] = collectionVersions
			}
			collectionVersions[doc.name] = version
		}
		options["vs"] = versions
	}

	message := &Message{
		Action:     action,
		Id:         self.idJson(),
		Collection: self.collection,
		Query:      self.query,
	}
	if 0 < len(options) {
		message.Options = options
	}
	if err := self.connection.send(message); err != nil {
		return err
	}
	self.sent = true
	return nil
}

func (self *Query) onConnectionStateChanged(state ConnectionState, reason string) {
	if !state.IsOpen() {
		self.sent = false
		return
	}
	if self.kind == QueryKindSubscribe || !self.ready {
		if err := self.execute(); err != nil {
			self.log("resend error = %s", err)
		}
	}
}

func (self *Query) emitError(err error) {
	for _, callback := range self.errorCallbacks.Get() {
		HandleError(func() {
			callback(err)
		})
	}
}

// hydrates the result documents
func (self *Query) resultDocs(snapshots []SnapshotMessage) ([]*Doc, error) {
	docs := make([]*Doc, 0, len(snapshots))
	for _, snapshot := range snapshots {
		collection := snapshot.Collection
		if collection == "" {
			collection = self.collection
		}
		var data *SnapshotData
		if snapshot.Version != nil {
			data = &SnapshotData{
				Version: snapshot.Version,
				Type:    snapshot.Type,
				Data:    snapshot.Data,
			}
		}
		doc, err := self.connection.GetWithData(collection, snapshot.DocName, data)
		if err != nil {
			return nil, err
		}
		if self.options.DocMode == DocModeSubscribe {
			doc.markSubscribed()
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (self *Query) onMessage(message *Message) error {
	switch message.Action {
	case ActionQueryFetch, ActionQuerySub:
		if self.kind == QueryKindFetch {
			self.connection.destroyQuery(self)
		}
		if err := message.Err(); err != nil {
			self.emitError(err)
			self.complete(err, nil, nil)
			return nil
		}
		var snapshots []SnapshotMessage
		if !isNullJson(message.Data) {
			if err := json.Unmarshal(message.Data, &snapshots); err != nil {
				return err
			}
		}
		docs, err := self.resultDocs(snapshots)
		if err != nil {
			self.complete(err, nil, nil)
			return err
		}
		self.results = docs
		self.extra = message.Extra
		self.ready = true
		glog.V(LogLevelTrace).Infof("[q]%d %d results\n", self.id, len(docs))
		self.complete(nil, slices.Clone(docs), message.Extra)
		return nil

	case ActionQueryUpdate:
		if err := message.Err(); err != nil {
			self.emitError(err)
			return nil
		}
		if 0 < len(message.Diff) {
			if err := self.applyDiff(message.Diff); err != nil {
				return err
			}
		}
		if !isNullJson(message.Extra) {
			self.extra = message.Extra
			for _, callback := range self.extraCallbacks.Get() {
				HandleError(func() {
					callback(message.Extra)
				})
			}
		}
		return nil

	case ActionQueryUnsub:
		return nil

	default:
		return fmt.Errorf("%w %q for query %d", ErrUnknownAction, message.Action, self.id)
	}
}

func (self *Query) complete(err error, results []*Doc, extra json.RawMessage) {
	callback := self.callback
	self.callback = nil
	if callback == nil {
		return
	}
	HandleError(func() {
		callback(err, results, extra)
	})
}

func (self *Query) applyDiff(diffs []QueryDiff) error {
	for _, diff := range diffs {
		switch diff.Type {
		case QueryDiffInsert:
			if diff.Index < 0 || len(self.results) < diff.Index {
				return fmt.Errorf("%w insert at %d of %d", ErrQueryDiff, diff.Index, len(self.results))
			}
			docs, err := self.resultDocs(diff.Values)
			if err != nil {
				return err
			}
			self.results = slices.Insert(self.results, diff.Index, docs...)
			for _, callback := range self.insertCallbacks.Get() {
				HandleError(func() {
					callback(slices.Clone(docs), diff.Index)
				})
			}

		case QueryDiffRemove:
			end := diff.Index + diff.HowMany
			if diff.Index < 0 || diff.HowMany < 0 || len(self.results) < end {
				return fmt.Errorf("%w remove %d at %d of %d", ErrQueryDiff, diff.HowMany, diff.Index, len(self.results))
			}
			removed := slices.Clone(self.results[diff.Index:end])
			self.results = slices.Delete(self.results, diff.Index, end)
			for _, callback := range self.removeCallbacks.Get() {
				HandleError(func() {
					callback(slices.Clone(removed), diff.Index)
				})
			}

		case QueryDiffMove:
			howMany := max(diff.HowMany, 1)
			end := diff.From + howMany
			if diff.From < 0 || len(self.results) < end || diff.To < 0 || len(self.results)-howMany < diff.To {
				return fmt.Errorf("%w move %d from %d to %d of %d", ErrQueryDiff, howMany, diff.From, diff.To, len(self.results))
			}
			moved := slices.Clone(self.results[diff.From:end])
			self.results = slices.Delete(self.results, diff.From, end)
			self.results = slices.Insert(self.results, diff.To, moved...)
			for _, callback := range self.moveCallbacks.Get() {
				HandleError(func() {
					callback(slices.Clone(moved), diff.From, diff.To)
				})
			}

		default:
			return fmt.Errorf("%w %q diff", ErrUnknownAction, diff.Type)
		}
	}

	results := slices.Clone(self.results)
	for _, callback := range self.changeCallbacks.Get() {
		HandleError(func() {
			callback(results)
		})
	}
	return nil
}

// Destroy stops a subscribe query and releases it.
func (self *Query) Destroy() {
	if self.kind == QueryKindSubscribe && self.sent && self.connection.CanSend() {
		if err := self.connection.send(&Message{
			Action: ActionQueryUnsub,
			Id:     self.idJson(),
		}); err != nil {
			self.log("unsubscribe error = %s", err)
		}
	}
	self.sent = false
	self.connection.destroyQuery(self)
}
