package master

import (
	"errors"
	"time"
)

// ErrDecodingPayloadFailed is joined with the codec error when a stored payload cannot be decoded.
var ErrDecodingPayloadFailed = errors.New("decoding stored payload failed")

// Document is one stored record of a master with its decoded business payload.
// Zero VersionTo or CorrectionTo means the interval is open.
type Document[T any] struct {
	UniqueID       UniqueID  `json:"uniqueId"`
	Info           T         `json:"info"`
	VersionFrom    time.Time `json:"versionFromInstant"`
	VersionTo      time.Time `json:"versionToInstant"`
	CorrectionFrom time.Time `json:"correctionFromInstant"`
	CorrectionTo   time.Time `json:"correctionToInstant"`
}

// ObjectID is the logical identity of the document.
func (d Document[T]) ObjectID() ObjectID {
	return d.UniqueID.ObjectID()
}

// IsCurrent reports whether the document is the current correction of the current version.
func (d Document[T]) IsCurrent() bool {
	return d.VersionTo.IsZero() && d.CorrectionTo.IsZero()
}

// DocumentFromRecord decodes the record's payload into a Document.
func DocumentFromRecord[T any](r Record) (Document[T], error) {
	var info T
	if err := codec.Unmarshal(r.Payload, &info); err != nil {
		return Document[T]{}, errors.Join(ErrInvariantViolation, ErrDecodingPayloadFailed, err)
	}

	return Document[T]{
		UniqueID:       r.UniqueID,
		Info:           info,
		VersionFrom:    r.VersionFrom,
		VersionTo:      r.VersionTo,
		CorrectionFrom: r.CorrectionFrom,
		CorrectionTo:   r.CorrectionTo,
	}, nil
}

// SearchResult is one page of documents plus the paging that produced it.
type SearchResult[T any] struct {
	Documents []Document[T] `json:"documents"`
	Paging    Paging        `json:"paging"`
}
