package store

// The websocket wire format between Remote and Server. One JSON frame
// per websocket text message. Client-initiated frames carry a sequence
// number; the server answers each with an ack frame bearing the same
// sequence. Snapshot frames are pushed unprompted and reference the
// client-chosen subscription id.

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opAdd         = "add"
	opMerge       = "merge"
	opDelete      = "delete"
	opAck         = "ack"
	opSnapshot    = "snapshot"
)

type wireDoc struct {
	ID     string `json:"id"`
	Fields Fields `json:"fields"`
}

type wireChange struct {
	Kind int     `json:"kind"`
	Doc  wireDoc `json:"doc"`
}

type frame struct {
	Op      string       `json:"op"`
	Seq     int64        `json:"seq,omitempty"`
	Sub     int64        `json:"sub,omitempty"`
	Path    string       `json:"path,omitempty"`
	OrderBy string       `json:"orderBy,omitempty"`
	ID      string       `json:"id,omitempty"`
	Fields  Fields       `json:"fields,omitempty"`
	Docs    []wireDoc    `json:"docs,omitempty"`
	Changes []wireChange `json:"changes,omitempty"`
	OK      bool         `json:"ok,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func snapshotToWire(snapshot Snapshot) ([]wireDoc, []wireChange) {
	docs := make([]wireDoc, 0, len(snapshot.Docs))
	for _, doc := range snapshot.Docs {
		docs = append(docs, wireDoc{ID: doc.ID, Fields: doc.Fields})
	}
	changes := make([]wireChange, 0, len(snapshot.Changes))
	for _, change := range snapshot.Changes {
		changes = append(changes, wireChange{Kind: int(change.Kind), Doc: wireDoc{ID: change.Doc.ID, Fields: change.Doc.Fields}})
	}
	return docs, changes
}

func snapshotFromWire(docs []wireDoc, changes []wireChange) Snapshot {
	snapshot := Snapshot{
		Docs:    make([]Doc, 0, len(docs)),
		Changes: make([]Change, 0, len(changes)),
	}
	for _, doc := range docs {
		snapshot.Docs = append(snapshot.Docs, Doc{ID: doc.ID, Fields: doc.Fields})
	}
	for _, change := range changes {
		snapshot.Changes = append(snapshot.Changes, Change{Kind: ChangeKind(change.Kind), Doc: Doc{ID: change.Doc.ID, Fields: change.Doc.Fields}})
	}
	return snapshot
}
