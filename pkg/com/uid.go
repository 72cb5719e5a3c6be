// Package com holds the small primitives shared across the relay,
// chiefly process-unique identifiers for connections and engagement
// events.
package com

import "github.com/rs/xid"

// Uid is a compact, sortable, globally unique identifier.
// Viewer tags and engagement event ids are minted from it.
type Uid struct {
	xid.ID
}

func NewUid() Uid { return Uid{xid.New()} }

// Short is a log-friendly rendition of the id.
func (u Uid) Short() string { return u.String()[:3] + "." + u.String()[len(u.String())-3:] }
