package gateway

import (
	"errors"
	"fmt"

	"pawmatch.app/petsync/docstore"
)

/*
Wire protocol: json text frames over one websocket.

client -> server:
    auth    {byJwt}                 first frame, verified against the
                                    gateway secret; echoed as authOk
    get     {requestId, path, id}
    list    {requestId, path, wheres}
    commit  {requestId, preconds, ops}
    watch   {watchId, path, wheres}
    unwatch {watchId}

server -> client:
    authOk  {}
    result  {requestId, doc|docs, errorKind, error}
    event   {watchId, snapshot, docs, added, modified, removed}

Field values cross the wire in their json forms; the engine's boundary
decoding accepts both native and json-decoded values.
*/

const (
	FrameAuth    = "auth"
	FrameAuthOk  = "authOk"
	FrameGet     = "get"
	FrameList    = "list"
	FrameCommit  = "commit"
	FrameWatch   = "watch"
	FrameUnwatch = "unwatch"
	FrameResult  = "result"
	FrameEvent   = "event"
)

// error kinds survive the wire so the client can rehydrate sentinels
const (
	ErrorKindNone     = ""
	ErrorKindNotFound = "notFound"
	ErrorKindConflict = "conflict"
	ErrorKindOther    = "other"
)

type Frame struct {
	Type string `json:"type"`

	RequestId int64 `json:"requestId,omitempty"`
	WatchId   int64 `json:"watchId,omitempty"`

	ByJwt string `json:"byJwt,omitempty"`

	Path     string             `json:"path,omitempty"`
	Id       string             `json:"id,omitempty"`
	Wheres   []docstore.Where   `json:"wheres,omitempty"`
	Preconds []docstore.Precond `json:"preconds,omitempty"`
	Ops      []docstore.Op      `json:"ops,omitempty"`

	Doc  *docstore.Document  `json:"doc,omitempty"`
	Docs []docstore.Document `json:"docs,omitempty"`

	Snapshot bool                `json:"snapshot,omitempty"`
	Added    []docstore.Document `json:"added,omitempty"`
	Modified []docstore.Document `json:"modified,omitempty"`
	Removed  []string            `json:"removed,omitempty"`

	ErrorKind string `json:"errorKind,omitempty"`
	Error     string `json:"error,omitempty"`
}

func encodeError(err error) (kind string, message string) {
	if err == nil {
		return ErrorKindNone, ""
	}
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return ErrorKindNotFound, err.Error()
	case errors.Is(err, docstore.ErrConflict):
		return ErrorKindConflict, err.Error()
	default:
		return ErrorKindOther, err.Error()
	}
}

func decodeError(kind string, message string) error {
	switch kind {
	case ErrorKindNone:
		return nil
	case ErrorKindNotFound:
		return fmt.Errorf("%s: %w", message, docstore.ErrNotFound)
	case ErrorKindConflict:
		return fmt.Errorf("%s: %w", message, docstore.ErrConflict)
	default:
		return errors.New(message)
	}
}
